package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
)

// CallRecord is one remote method invocation observed by a fake object.
type CallRecord struct {
	Method string
	Args   []interface{}
}

// FakeObject is a scriptable remote object implementing dbus.BusObject.
type FakeObject struct {
	bus  *FakeBus
	path dbus.ObjectPath

	mu       sync.Mutex
	props    map[string]map[string]dbus.Variant
	handlers map[string]func(args []interface{}) ([]interface{}, error)
	errs     map[string]error
	calls    []CallRecord
}

// SetProp sets one property on iface, wrapping value in a variant.
func (o *FakeObject) SetProp(iface, name string, value interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.props == nil {
		o.props = make(map[string]map[string]dbus.Variant)
	}
	if o.props[iface] == nil {
		o.props[iface] = make(map[string]dbus.Variant)
	}
	o.props[iface][name] = dbus.MakeVariant(value)
}

// SetProps sets several properties on iface at once.
func (o *FakeObject) SetProps(iface string, values map[string]interface{}) {
	for k, v := range values {
		o.SetProp(iface, k, v)
	}
}

// Handle scripts a method (full name) with a custom reply.
func (o *FakeObject) Handle(method string, fn func(args []interface{}) ([]interface{}, error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.handlers == nil {
		o.handlers = make(map[string]func([]interface{}) ([]interface{}, error))
	}
	o.handlers[method] = fn
}

// FailMethod makes a method (full name) return err. Use the empty method
// name to fail every call, including property fetches.
func (o *FakeObject) FailMethod(method string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.errs == nil {
		o.errs = make(map[string]error)
	}
	o.errs[method] = err
}

// CallCount returns how many times method (full name) was invoked.
func (o *FakeObject) CallCount(method string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// LastCall returns the most recent invocation of method, or nil.
func (o *FakeObject) LastCall(method string) *CallRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.calls) - 1; i >= 0; i-- {
		if o.calls[i].Method == method {
			c := o.calls[i]
			return &c
		}
	}
	return nil
}

func (o *FakeObject) invoke(method string, args []interface{}) *dbus.Call {
	o.mu.Lock()
	o.calls = append(o.calls, CallRecord{Method: method, Args: args})
	failAll := o.errs[""]
	err, failed := o.errs[method]
	handler := o.handlers[method]
	o.mu.Unlock()

	call := &dbus.Call{Path: o.path, Method: method, Args: args}
	if failAll != nil {
		call.Err = failAll
		return call
	}
	if failed {
		call.Err = err
		return call
	}
	if handler != nil {
		body, err := handler(args)
		call.Body = body
		call.Err = err
		return call
	}
	if method == "org.freedesktop.DBus.Properties.GetAll" {
		iface, _ := args[0].(string)
		o.mu.Lock()
		props := make(map[string]dbus.Variant, len(o.props[iface]))
		for k, v := range o.props[iface] {
			props[k] = v
		}
		o.mu.Unlock()
		call.Body = []interface{}{props}
		return call
	}
	return call
}

// Call implements dbus.BusObject.
func (o *FakeObject) Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	return o.invoke(method, args)
}

// CallWithContext implements dbus.BusObject.
func (o *FakeObject) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	return o.invoke(method, args)
}

// Go implements dbus.BusObject.
func (o *FakeObject) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	call := o.invoke(method, args)
	if ch != nil {
		ch <- call
	}
	return call
}

// GoWithContext implements dbus.BusObject.
func (o *FakeObject) GoWithContext(ctx context.Context, method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	return o.Go(method, flags, ch, args...)
}

// AddMatchSignal implements dbus.BusObject.
func (o *FakeObject) AddMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

// RemoveMatchSignal implements dbus.BusObject.
func (o *FakeObject) RemoveMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

// GetProperty implements dbus.BusObject.
func (o *FakeObject) GetProperty(p string) (dbus.Variant, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for iface, kv := range o.props {
		if len(p) > len(iface) && p[:len(iface)] == iface && p[len(iface)] == '.' {
			if v, ok := kv[p[len(iface)+1:]]; ok {
				return v, nil
			}
		}
	}
	return dbus.Variant{}, fmt.Errorf("no such property %q", p)
}

// StoreProperty implements dbus.BusObject.
func (o *FakeObject) StoreProperty(p string, value interface{}) error {
	v, err := o.GetProperty(p)
	if err != nil {
		return err
	}
	return dbus.Store([]interface{}{v.Value()}, value)
}

// SetProperty implements dbus.BusObject.
func (o *FakeObject) SetProperty(p string, v interface{}) error {
	return nil
}

// Destination implements dbus.BusObject.
func (o *FakeObject) Destination() string {
	return "org.freedesktop.NetworkManager"
}

// Path implements dbus.BusObject.
func (o *FakeObject) Path() dbus.ObjectPath {
	return o.path
}

// FakeBus is an in-memory dbusx.Bus with signal injection.
type FakeBus struct {
	mu       sync.Mutex
	objects  map[dbus.ObjectPath]*FakeObject
	chans    []chan<- *dbus.Signal
	matches  int
	hasOwner bool
	startOK  bool
	startErr error
}

// NewFakeBus creates a bus on which the mirrored service is present.
func NewFakeBus() *FakeBus {
	return &FakeBus{
		objects:  make(map[dbus.ObjectPath]*FakeObject),
		hasOwner: true,
		startOK:  true,
	}
}

// Obj finds or creates the fake object at path.
func (b *FakeBus) Obj(path dbus.ObjectPath) *FakeObject {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.objects[path]; ok {
		return o
	}
	o := &FakeObject{bus: b, path: path}
	b.objects[path] = o
	return o
}

// SetServicePresent scripts NameHasOwner.
func (b *FakeBus) SetServicePresent(present bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hasOwner = present
}

// SetActivation scripts StartService.
func (b *FakeBus) SetActivation(ok bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startOK = ok
	b.startErr = err
}

// MatchCount returns how many match rules are currently installed.
func (b *FakeBus) MatchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.matches
}

// Object implements dbusx.Bus.
func (b *FakeBus) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return b.Obj(path)
}

// AddMatchSignal implements dbusx.Bus.
func (b *FakeBus) AddMatchSignal(opts ...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.matches++
	return nil
}

// RemoveMatchSignal implements dbusx.Bus.
func (b *FakeBus) RemoveMatchSignal(opts ...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.matches--
	return nil
}

// Signal implements dbusx.Bus.
func (b *FakeBus) Signal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chans = append(b.chans, ch)
}

// RemoveSignal implements dbusx.Bus.
func (b *FakeBus) RemoveSignal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.chans {
		if c == ch {
			b.chans = append(b.chans[:i], b.chans[i+1:]...)
			return
		}
	}
}

// NameHasOwner implements dbusx.Bus.
func (b *FakeBus) NameHasOwner(name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasOwner, nil
}

// StartService implements dbusx.Bus.
func (b *FakeBus) StartService(name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startOK, b.startErr
}

// Close implements dbusx.Bus.
func (b *FakeBus) Close() error {
	return nil
}

// Emit injects a signal and waits until the router has posted its
// delivery to d, so a following Pump observes it deterministically.
func (b *FakeBus) Emit(t *testing.T, d *Dispatcher, path dbus.ObjectPath, name string, body ...interface{}) {
	t.Helper()
	b.mu.Lock()
	chans := append([]chan<- *dbus.Signal(nil), b.chans...)
	b.mu.Unlock()

	want := d.PostedCount() + int64(len(chans))
	sig := &dbus.Signal{Path: path, Name: name, Body: body}
	for _, ch := range chans {
		ch <- sig
	}
	d.WaitPosted(t, want)
}

// EmitPropertiesChanged injects a standard PropertiesChanged signal for
// iface at path and pumps the dispatcher.
func (b *FakeBus) EmitPropertiesChanged(t *testing.T, d *Dispatcher, path dbus.ObjectPath, iface string, changed map[string]interface{}) {
	t.Helper()
	wrapped := make(map[string]dbus.Variant, len(changed))
	for k, v := range changed {
		wrapped[k] = dbus.MakeVariant(v)
	}
	b.Emit(t, d, path, "org.freedesktop.DBus.Properties.PropertiesChanged",
		iface, wrapped, []string{})
	d.Pump()
}
