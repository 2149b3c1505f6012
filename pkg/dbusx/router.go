package dbusx

import (
	"github.com/godbus/dbus/v5"

	"github.com/quartzshell/netmirror/pkg/dispatch"
)

// routeKey identifies one (object path, fully-qualified member) signal
// source.
type routeKey struct {
	path   dbus.ObjectPath
	member string
}

// Router drains the bus signal channel on its own goroutine and delivers
// each signal to registered handlers on the dispatch loop. Handler
// registration and removal happen on the loop; there is no locking.
type Router struct {
	disp dispatch.Dispatcher
	bus  Bus
	ch   chan *dbus.Signal

	handlers map[routeKey]map[int]func(*dbus.Signal)
	nextID   int
}

// NewRouter starts routing signals from bus onto disp.
func NewRouter(disp dispatch.Dispatcher, bus Bus) *Router {
	r := &Router{
		disp:     disp,
		bus:      bus,
		ch:       make(chan *dbus.Signal, 256),
		handlers: make(map[routeKey]map[int]func(*dbus.Signal)),
	}
	bus.Signal(r.ch)
	go r.pump()
	return r
}

func (r *Router) pump() {
	for sig := range r.ch {
		sig := sig
		r.disp.Post(func() { r.deliver(sig) })
	}
}

func (r *Router) deliver(sig *dbus.Signal) {
	key := routeKey{path: sig.Path, member: sig.Name}
	entries := r.handlers[key]
	if len(entries) == 0 {
		return
	}
	// Snapshot: handlers may detach while being notified.
	fns := make([]func(*dbus.Signal), 0, len(entries))
	for _, fn := range entries {
		fns = append(fns, fn)
	}
	for _, fn := range fns {
		fn(sig)
	}
}

// Handle registers fn for signals named member (fully qualified, e.g.
// "org.freedesktop.DBus.Properties.PropertiesChanged") from path. The
// returned function removes the registration. Must be called on the
// dispatch loop.
func (r *Router) Handle(path dbus.ObjectPath, member string, fn func(*dbus.Signal)) func() {
	key := routeKey{path: path, member: member}
	if r.handlers[key] == nil {
		r.handlers[key] = make(map[int]func(*dbus.Signal))
	}
	id := r.nextID
	r.nextID++
	r.handlers[key][id] = fn
	return func() {
		if m, ok := r.handlers[key]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(r.handlers, key)
			}
		}
	}
}

// Close detaches the router from the bus. In-flight deliveries drain
// through the dispatch loop, which drops them once stopped.
func (r *Router) Close() {
	r.bus.RemoveSignal(r.ch)
	close(r.ch)
}
