package nm

import (
	"errors"

	"github.com/godbus/dbus/v5"

	"github.com/quartzshell/netmirror/pkg/dbusx"
	"github.com/quartzshell/netmirror/pkg/network"
	"github.com/quartzshell/netmirror/pkg/observe"
	"github.com/quartzshell/netmirror/pkg/util"
)

// deviceAdapter mirrors one org.freedesktop.NetworkManager.Device
// object. Registration is two-phase: probe attaches the property group
// and waits for the device type; materialize constructs the concrete
// frontend variant and wires it. The frontend device is only published
// after materialize returns.
type deviceAdapter struct {
	backend *Backend
	path    dbus.ObjectPath
	obj     dbus.BusObject

	iface          *observe.Value[string]
	hwAddress      *observe.Value[string]
	rawState       *observe.Value[uint32]
	devType        *observe.Value[uint32]
	availableConns *observe.Value[[]dbus.ObjectPath]
	activeConnPath *observe.Value[dbus.ObjectPath]

	group     *dbusx.Group
	discarded bool

	front    *network.NetworkDevice
	wireless *wirelessAdapter

	// profiles are the device's references into the backend's global
	// profile table, keyed by path, with the routing subscription that
	// follows each profile's SSID scope.
	profiles    map[dbus.ObjectPath]*profileAdapter
	profileSubs map[dbus.ObjectPath]*observe.Subscription

	active       *activeConn
	activeSubs   []*observe.Subscription
	stateNetwork *network.Network

	subs []*observe.Subscription
}

func newDeviceAdapter(b *Backend, path dbus.ObjectPath) *deviceAdapter {
	pathsEqual := func(a, b []dbus.ObjectPath) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}

	d := &deviceAdapter{
		backend:        b,
		path:           path,
		obj:            b.bus.Object(busName, path),
		iface:          observe.NewValue(""),
		hwAddress:      observe.NewValue(""),
		rawState:       observe.NewValue(devStateUnknown),
		devType:        observe.NewValue(devTypeUnknown),
		availableConns: observe.NewValueFunc([]dbus.ObjectPath(nil), pathsEqual),
		activeConnPath: observe.NewValue(dbus.ObjectPath("")),
		profiles:       make(map[dbus.ObjectPath]*profileAdapter),
		profileSubs:    make(map[dbus.ObjectPath]*observe.Subscription),
	}
	d.group = dbusx.NewGroup(b.disp, b.router, deviceIface,
		dbusx.Bind("Interface", d.iface, dbusx.AsString),
		dbusx.Bind("HwAddress", d.hwAddress, dbusx.AsString),
		dbusx.Bind("State", d.rawState, dbusx.AsUint32),
		dbusx.Bind("DeviceType", d.devType, dbusx.AsUint32),
		dbusx.Bind("AvailableConnections", d.availableConns, dbusx.AsObjectPaths),
		dbusx.Bind("ActiveConnection", d.activeConnPath, dbusx.AsObjectPath),
	)
	return d
}

// probe is phase one: fetch the device properties and wait for the
// first successful DeviceType read.
func (d *deviceAdapter) probe(done func(error)) {
	d.group.AttachWait(d.obj, func(err error) {
		if err != nil {
			done(err)
			return
		}
		if d.discarded {
			done(util.ErrDiscarded)
			return
		}
		if d.devType.Get() == devTypeUnknown {
			done(errors.New("device type unavailable"))
			return
		}
		done(nil)
	})
}

// materialize is phase two: dispatch on the device type, construct the
// frontend variant, and wire both directions.
func (d *deviceAdapter) materialize() {
	if d.devType.Get() == devTypeWifi {
		d.front = network.NewWirelessDevice(string(d.path))
		d.wireless = newWirelessAdapter(d)
	} else {
		d.front = network.NewDevice(string(d.path))
	}

	front := d.front
	d.subs = append(d.subs,
		d.iface.Watch(func(v string) { front.Name.Set(v) }),
		d.hwAddress.Watch(func(v string) { front.Address.Set(v) }),
		d.rawState.Watch(func(v uint32) { front.State.Set(translateDeviceState(v)) }),
		front.RequestDisconnect().Subscribe(func(struct{}) { d.disconnect() }),
		d.availableConns.Watch(d.reconcileProfiles),
		d.activeConnPath.Watch(d.onActiveConnectionChanged),
	)
}

func (d *deviceAdapter) disconnect() {
	dbusx.Fire(d.backend.disp, d.obj, deviceIface+".Disconnect", func(err error) {
		util.WithDevice(d.iface.Get()).Warnf("disconnect failed: %v", err)
	})
}

// reconcileProfiles diffs the device's available connections against the
// previous set, creating and dropping profile references and routing
// each profile to the network its SSID scope matches.
func (d *deviceAdapter) reconcileProfiles(paths []dbus.ObjectPath) {
	if d.discarded {
		return
	}
	next := make(map[dbus.ObjectPath]bool, len(paths))
	for _, p := range paths {
		next[p] = true
	}

	for p, pa := range d.profiles {
		if !next[p] {
			d.dropProfile(pa)
		}
	}

	for _, p := range paths {
		if _, ok := d.profiles[p]; ok {
			continue
		}
		pa := d.backend.ensureProfile(p)
		d.profiles[p] = pa
		// Re-route whenever the profile settings (and so its SSID
		// scope) change.
		d.profileSubs[p] = pa.front.Settings.Watch(func(network.SettingsMap) {
			d.routeProfile(pa)
		})
	}
}

// dropProfile removes the device's reference to a profile and detaches
// it from the networks it was routed to. The global adapter stays alive.
func (d *deviceAdapter) dropProfile(pa *profileAdapter) {
	found := false
	for p, known := range d.profiles {
		if known == pa {
			delete(d.profiles, p)
			if sub := d.profileSubs[p]; sub != nil {
				sub.Cancel()
				delete(d.profileSubs, p)
			}
			found = true
		}
	}
	if !found {
		return
	}
	if d.wireless != nil {
		for _, n := range d.wireless.agg.all() {
			n.RemoveProfile(pa.front)
		}
	}
}

// routeProfile attaches a profile to the network matching its SSID
// scope. Profiles without a wifi scope, and every profile on a
// non-wireless device, stay unrouted.
func (d *deviceAdapter) routeProfile(pa *profileAdapter) {
	if d.wireless == nil {
		return
	}
	ssid := pa.ssidScope()
	for key, n := range d.wireless.agg.all() {
		if string(ssid) == key {
			n.AddProfile(pa.front)
		} else {
			n.RemoveProfile(pa.front)
		}
	}
}

// routeProfilesTo routes every known profile against a newly created
// network.
func (d *deviceAdapter) routeProfilesTo(n *network.Network) {
	ssid := string(n.Ssid())
	for _, pa := range d.profiles {
		if string(pa.ssidScope()) == ssid {
			n.AddProfile(pa.front)
		}
	}
}

// onActiveConnectionChanged follows the device's active connection,
// mirroring its state into the owning network.
func (d *deviceAdapter) onActiveConnectionChanged(path dbus.ObjectPath) {
	if d.discarded {
		return
	}
	if d.active != nil {
		d.active.discard()
		d.active = nil
	}
	for _, sub := range d.activeSubs {
		sub.Cancel()
	}
	d.activeSubs = nil

	if path == "" || path == "/" {
		d.clearStateNetwork()
		return
	}

	ac := newActiveConn(d.backend.disp, d.backend.router, d.backend.bus, path)
	d.active = ac
	d.activeSubs = append(d.activeSubs,
		ac.stateChanged.Subscribe(func(ev activeEvent) {
			d.applyActiveState(ev.State, ev.Reason)
		}),
		ac.specificObject.Subscribe(func(dbus.ObjectPath) {
			// Retarget when the attempt binds to its access point.
			d.applyActiveState(ac.state.Get(), ac.lastReason)
		}),
	)
}

// targetNetwork resolves the network the active connection belongs to:
// by its specific object (the active access point), then by the SSID
// scope of its profile.
func (d *deviceAdapter) targetNetwork() *network.Network {
	if d.wireless == nil || d.active == nil {
		return nil
	}
	agg := d.wireless.agg
	if specific := d.active.specificObject.Get(); specific != "" && specific != "/" {
		if ssid, ok := agg.apSsid[specific]; ok {
			return agg.bySsid(ssid)
		}
	}
	if connPath := d.active.connectionPath.Get(); connPath != "" {
		if pa, ok := d.profiles[connPath]; ok {
			return agg.bySsid(string(pa.ssidScope()))
		}
	}
	return nil
}

func (d *deviceAdapter) applyActiveState(state uint32, reason network.StateReason) {
	n := d.targetNetwork()
	if n == nil {
		return
	}
	if d.stateNetwork != nil && d.stateNetwork != n {
		d.stateNetwork.State.Set(network.NetworkStateDisconnected)
	}
	d.stateNetwork = n
	if reason != network.ReasonUnknown {
		n.StateReason.Set(reason)
	}
	n.State.Set(translateActiveState(state, reason))
}

func (d *deviceAdapter) clearStateNetwork() {
	if d.stateNetwork != nil {
		d.stateNetwork.State.Set(network.NetworkStateDisconnected)
		d.stateNetwork = nil
	}
}

// discard tears the adapter down: the wireless payload with its access
// points, the active connection mirror, profile references, and the
// property group. Pending continuations observe discarded and drop.
func (d *deviceAdapter) discard() {
	if d.discarded {
		return
	}
	d.discarded = true

	if d.wireless != nil {
		d.wireless.discard()
	}
	if d.active != nil {
		d.active.discard()
		d.active = nil
	}
	for _, sub := range d.activeSubs {
		sub.Cancel()
	}
	d.activeSubs = nil
	for p, sub := range d.profileSubs {
		sub.Cancel()
		delete(d.profileSubs, p)
	}
	for p := range d.profiles {
		delete(d.profiles, p)
	}
	for _, sub := range d.subs {
		sub.Cancel()
	}
	d.subs = nil
	d.group.Detach()
}

// wirelessAdapter is the wireless variant payload: it owns the device's
// access point set, the SSID aggregation, and scan handling.
type wirelessAdapter struct {
	dev *deviceAdapter

	lastScan *observe.Value[int64]
	activeAp *observe.Value[dbus.ObjectPath]

	wgroup *dbusx.Group
	agg    *aggregator

	aps    map[dbus.ObjectPath]*accessPoint
	apSubs map[dbus.ObjectPath][]*observe.Subscription

	unsubAdded   func()
	unsubRemoved func()
	subs         []*observe.Subscription
	discarded    bool
}

func newWirelessAdapter(d *deviceAdapter) *wirelessAdapter {
	b := d.backend
	w := &wirelessAdapter{
		dev:      d,
		lastScan: observe.NewValue[int64](-1),
		activeAp: observe.NewValue(dbus.ObjectPath("")),
		aps:      make(map[dbus.ObjectPath]*accessPoint),
		apSubs:   make(map[dbus.ObjectPath][]*observe.Subscription),
	}
	front := d.front.Wireless()
	w.agg = newAggregator(front)
	w.agg.networkAdded = func(n *network.Network) {
		w.wireNetwork(n)
		d.routeProfilesTo(n)
	}

	w.wgroup = dbusx.NewGroup(b.disp, b.router, wirelessIface,
		dbusx.Bind("LastScan", w.lastScan, dbusx.AsInt64),
		dbusx.Bind("ActiveAccessPoint", w.activeAp, dbusx.AsObjectPath),
	)
	w.wgroup.Attach(d.obj)

	w.subs = append(w.subs,
		w.lastScan.Subscribe(front.ScanComplete),
		w.activeAp.Watch(func(path dbus.ObjectPath) {
			w.agg.setActiveAp(path)
		}),
		front.RequestScan().Subscribe(func(struct{}) { w.scan() }),
	)

	w.unsubAdded = b.router.Handle(d.path, wirelessIface+".AccessPointAdded", func(sig *dbus.Signal) {
		if path, ok := signalPath(sig); ok {
			w.registerAp(path)
		}
	})
	w.unsubRemoved = b.router.Handle(d.path, wirelessIface+".AccessPointRemoved", func(sig *dbus.Signal) {
		if path, ok := signalPath(sig); ok {
			w.unregisterAp(path)
		}
	})
	bus := b.bus
	path := d.path
	dbusx.Async(b.disp, func() (struct{}, error) {
		for _, member := range []string{"AccessPointAdded", "AccessPointRemoved"} {
			if err := bus.AddMatchSignal(
				dbus.WithMatchObjectPath(path),
				dbus.WithMatchInterface(wirelessIface),
				dbus.WithMatchMember(member),
			); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	}, func(_ struct{}, err error) {
		if err != nil {
			util.WithPath(string(path)).Warnf("wireless signal matches failed: %v", err)
		}
	})

	// Initial access point enumeration.
	obj := d.obj
	dbusx.Async(b.disp, func() ([]dbus.ObjectPath, error) {
		var paths []dbus.ObjectPath
		err := obj.Call(wirelessIface+".GetAllAccessPoints", 0).Store(&paths)
		return paths, err
	}, func(paths []dbus.ObjectPath, err error) {
		if err != nil {
			util.WithPath(string(path)).Warnf("failed to enumerate access points: %v", err)
			return
		}
		for _, p := range paths {
			w.registerAp(p)
		}
	})

	return w
}

// wireNetwork connects a freshly created network's commands to the
// daemon.
func (w *wirelessAdapter) wireNetwork(n *network.Network) {
	d := w.dev
	n.RequestConnect().Subscribe(func(struct{}) {
		def := n.DefaultProfile.Get()
		if def == nil {
			util.WithNetwork(n.Name()).Errorf("no connection profile to connect with")
			return
		}
		d.backend.activateNetwork(dbus.ObjectPath(def.Path()), d.path)
	})
	n.RequestDisconnect().Subscribe(func(struct{}) {
		d.disconnect()
	})
	n.RequestForget().Subscribe(func(struct{}) {
		for _, p := range n.Profiles.Items() {
			p.Forget()
		}
	})
}

func (w *wirelessAdapter) scan() {
	dbusx.Fire(w.dev.backend.disp, w.dev.obj, wirelessIface+".RequestScan", func(err error) {
		util.WithDevice(w.dev.iface.Get()).Warnf("scan request failed: %v", err)
	}, map[string]dbus.Variant{})
}

// registerAp mirrors a new access point and hands it to the aggregator
// once its properties arrived. Invalid objects are discarded.
func (w *wirelessAdapter) registerAp(path dbus.ObjectPath) {
	if w.discarded {
		return
	}
	if _, ok := w.aps[path]; ok {
		return
	}
	b := w.dev.backend
	ap := newAccessPoint(b.disp, b.router, path)
	w.aps[path] = ap
	ap.attach(b.bus, func(err error) {
		if w.discarded || ap.discarded {
			return
		}
		if err != nil {
			util.WithPath(string(path)).Warnf("discarding invalid access point: %v", err)
			delete(w.aps, path)
			ap.discard()
			return
		}
		w.agg.addAp(ap)
		w.apSubs[path] = []*observe.Subscription{
			ap.ssid.Subscribe(func([]byte) { w.agg.onSsidChanged(ap) }),
			ap.strength.Subscribe(func(byte) { w.agg.onStrengthChanged(ap) }),
		}
	})
}

func (w *wirelessAdapter) unregisterAp(path dbus.ObjectPath) {
	ap, ok := w.aps[path]
	if !ok {
		return
	}
	delete(w.aps, path)
	for _, sub := range w.apSubs[path] {
		sub.Cancel()
	}
	delete(w.apSubs, path)
	w.agg.removeAp(ap)
	ap.discard()
}

func (w *wirelessAdapter) discard() {
	if w.discarded {
		return
	}
	w.discarded = true
	if w.unsubAdded != nil {
		w.unsubAdded()
	}
	if w.unsubRemoved != nil {
		w.unsubRemoved()
	}
	for path, subs := range w.apSubs {
		for _, sub := range subs {
			sub.Cancel()
		}
		delete(w.apSubs, path)
	}
	for path, ap := range w.aps {
		ap.discard()
		delete(w.aps, path)
	}
	for _, sub := range w.subs {
		sub.Cancel()
	}
	w.subs = nil
	w.wgroup.Detach()
}
