package dbusx

import (
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/quartzshell/netmirror/pkg/dispatch"
	"github.com/quartzshell/netmirror/pkg/observe"
	"github.com/quartzshell/netmirror/pkg/util"
)

const (
	propsInterface    = "org.freedesktop.DBus.Properties"
	propsChangedSig   = propsInterface + ".PropertiesChanged"
	propsChangedShort = "PropertiesChanged"
)

// Binding ties one named remote property to a local cell through a
// wire-to-domain transform.
type Binding struct {
	Name  string
	apply func(dbus.Variant) error
}

// Bind creates a binding from a remote property name to cell, converting
// wire variants with from.
func Bind[T any](name string, cell *observe.Value[T], from func(dbus.Variant) (T, error)) Binding {
	return Binding{
		Name: name,
		apply: func(v dbus.Variant) error {
			val, err := from(v)
			if err != nil {
				return err
			}
			cell.Set(val)
			return nil
		},
	}
}

// Group binds the named properties of one remote interface to local
// cells. Attach performs one bulk GetAll and then applies
// PropertiesChanged deltas; properties the group does not declare are
// ignored. All methods run on the dispatch loop.
type Group struct {
	disp     dispatch.Dispatcher
	router   *Router
	iface    string
	bindings []Binding
	log      *logrus.Entry

	obj      dbus.BusObject
	attached bool
	fetching bool
	epoch    int
	unsub    func()
}

// NewGroup creates a dormant group for one remote interface.
func NewGroup(disp dispatch.Dispatcher, router *Router, iface string, bindings ...Binding) *Group {
	return &Group{
		disp:     disp,
		router:   router,
		iface:    iface,
		bindings: bindings,
		log:      util.WithField("interface", iface),
	}
}

// Attached reports whether the group is live.
func (g *Group) Attached() bool { return g.attached }

// Attach binds the group to obj: the change subscription is installed
// first, then all properties are bulk-fetched in one GetAll round trip.
// Deltas that arrive while the fetch is in flight predate the snapshot
// and are dropped.
func (g *Group) Attach(obj dbus.BusObject) {
	g.AttachWait(obj, nil)
}

// AttachWait is Attach plus a completion callback, invoked with nil once
// the snapshot has been applied, or with the fetch error. The device
// registration probe phase waits on it.
func (g *Group) AttachWait(obj dbus.BusObject, done func(error)) {
	if g.attached {
		g.Detach()
	}
	g.obj = obj
	g.attached = true
	g.fetching = true
	g.epoch++
	epoch := g.epoch

	g.unsub = g.router.Handle(obj.Path(), propsChangedSig, g.onPropertiesChanged)

	path := obj.Path()
	Async(g.disp, func() (map[string]dbus.Variant, error) {
		// Match rule first so no window exists between subscription
		// and snapshot.
		err := g.router.bus.AddMatchSignal(
			dbus.WithMatchObjectPath(path),
			dbus.WithMatchInterface(propsInterface),
			dbus.WithMatchMember(propsChangedShort),
		)
		if err != nil {
			return nil, err
		}
		return GetAll(obj, g.iface)
	}, func(props map[string]dbus.Variant, err error) {
		if g.epoch != epoch || !g.attached {
			if done != nil {
				done(util.ErrDiscarded)
			}
			return
		}
		g.fetching = false
		if err != nil {
			// Peer invalid or gone; go dormant with last values.
			g.log.WithField("path", path).Warnf("bulk property fetch failed: %v", err)
			g.attached = false
			if g.unsub != nil {
				g.unsub()
				g.unsub = nil
			}
			if done != nil {
				done(err)
			}
			return
		}
		g.applyAll(props)
		if done != nil {
			done(nil)
		}
	})
}

// Detach makes the group dormant. Cells retain their last values;
// re-Attach restarts the cycle.
func (g *Group) Detach() {
	if !g.attached {
		return
	}
	g.attached = false
	g.fetching = false
	g.epoch++
	if g.unsub != nil {
		g.unsub()
		g.unsub = nil
	}
	if g.obj != nil {
		path := g.obj.Path()
		Async(g.disp, func() (struct{}, error) {
			err := g.router.bus.RemoveMatchSignal(
				dbus.WithMatchObjectPath(path),
				dbus.WithMatchInterface(propsInterface),
				dbus.WithMatchMember(propsChangedShort),
			)
			return struct{}{}, err
		}, func(_ struct{}, err error) {
			if err != nil {
				g.log.Debugf("removing match rule: %v", err)
			}
		})
	}
	g.obj = nil
}

func (g *Group) onPropertiesChanged(sig *dbus.Signal) {
	if !g.attached {
		return
	}
	if g.fetching {
		// Delta emitted before the GetAll response; the snapshot is
		// authoritative.
		return
	}
	if len(sig.Body) < 2 {
		return
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != g.iface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	g.applyAll(changed)
}

func (g *Group) applyAll(props map[string]dbus.Variant) {
	for _, b := range g.bindings {
		v, ok := props[b.Name]
		if !ok {
			continue
		}
		if err := b.apply(v); err != nil {
			g.log.Warnf("property %s: %v", b.Name, err)
		}
	}
}
