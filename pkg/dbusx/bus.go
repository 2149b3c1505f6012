// Package dbusx provides the transport layer of the mirror: a narrow bus
// abstraction over godbus, a signal router that serializes bus signals
// onto the dispatch loop, property-group bindings, and asynchronous call
// plumbing.
package dbusx

import (
	"github.com/godbus/dbus/v5"
)

// Bus is the slice of a message-bus connection the library consumes.
// *Conn implements it over the system bus; tests substitute a fake.
type Bus interface {
	// Object returns a proxy handle for one remote object.
	Object(dest string, path dbus.ObjectPath) dbus.BusObject

	// AddMatchSignal and RemoveMatchSignal manage signal match rules.
	// Both are blocking bus round trips and must not run on the
	// dispatch loop.
	AddMatchSignal(opts ...dbus.MatchOption) error
	RemoveMatchSignal(opts ...dbus.MatchOption) error

	// Signal and RemoveSignal manage delivery of matched signals to ch.
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)

	// NameHasOwner reports whether name is currently owned on the bus.
	NameHasOwner(name string) (bool, error)

	// StartService asks the bus to activate the named service. Returns
	// true when the service is running afterwards.
	StartService(name string) (bool, error)

	Close() error
}

// Conn adapts *dbus.Conn to the Bus interface.
type Conn struct {
	conn *dbus.Conn
}

// System connects to the system bus.
func System() (*Conn, error) {
	c, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c}, nil
}

func (c *Conn) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return c.conn.Object(dest, path)
}

func (c *Conn) AddMatchSignal(opts ...dbus.MatchOption) error {
	return c.conn.AddMatchSignal(opts...)
}

func (c *Conn) RemoveMatchSignal(opts ...dbus.MatchOption) error {
	return c.conn.RemoveMatchSignal(opts...)
}

func (c *Conn) Signal(ch chan<- *dbus.Signal) {
	c.conn.Signal(ch)
}

func (c *Conn) RemoveSignal(ch chan<- *dbus.Signal) {
	c.conn.RemoveSignal(ch)
}

func (c *Conn) NameHasOwner(name string) (bool, error) {
	var has bool
	err := c.conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, name).Store(&has)
	return has, err
}

func (c *Conn) StartService(name string) (bool, error) {
	var result uint32
	err := c.conn.BusObject().Call("org.freedesktop.DBus.StartServiceByName", 0, name, uint32(0)).Store(&result)
	if err != nil {
		return false, err
	}
	// 1 = started, 2 = already running
	return result == 1 || result == 2, nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// EnsureService checks that name is owned, requesting bus activation if
// it is not. Blocking; run on a worker goroutine.
func EnsureService(bus Bus, name string) (bool, error) {
	has, err := bus.NameHasOwner(name)
	if err != nil {
		return false, err
	}
	if has {
		return true, nil
	}
	return bus.StartService(name)
}
