package dbusx

import (
	"github.com/godbus/dbus/v5"

	"github.com/quartzshell/netmirror/pkg/dispatch"
)

// Async runs a blocking call on a worker goroutine and posts the
// continuation back to the dispatch loop. The continuation is dropped if
// the dispatcher has stopped; callers additionally guard continuations
// with their own discard flags.
func Async[T any](disp dispatch.Dispatcher, call func() (T, error), done func(T, error)) {
	disp.Go(func() {
		result, err := call()
		if done == nil {
			return
		}
		disp.Post(func() {
			if !disp.Alive() {
				return
			}
			done(result, err)
		})
	})
}

// Fire issues a remote method call with no result beyond an error, logged
// by the supplied warn function. Fire-and-forget per the command paths:
// state cells keep their last observed value and the daemon remains
// authoritative.
func Fire(disp dispatch.Dispatcher, obj dbus.BusObject, method string, warn func(error), args ...interface{}) {
	Async(disp, func() (struct{}, error) {
		call := obj.Call(method, 0, args...)
		return struct{}{}, call.Err
	}, func(_ struct{}, err error) {
		if err != nil && warn != nil {
			warn(err)
		}
	})
}

// GetAll fetches every property of iface on obj in one round trip.
// Blocking; run via Async.
func GetAll(obj dbus.BusObject, iface string) (map[string]dbus.Variant, error) {
	var props map[string]dbus.Variant
	err := obj.Call("org.freedesktop.DBus.Properties.GetAll", 0, iface).Store(&props)
	return props, err
}
