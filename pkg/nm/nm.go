// Package nm is the NetworkManager backend: it discovers the daemon's
// objects over the system bus, mirrors their properties into the
// observable model of pkg/network, and forwards model commands back to
// the daemon. All state lives on the dispatch loop; remote calls
// complete through continuations posted back to it.
package nm

import (
	"github.com/godbus/dbus/v5"

	"github.com/quartzshell/netmirror/pkg/dbusx"
	"github.com/quartzshell/netmirror/pkg/dispatch"
	"github.com/quartzshell/netmirror/pkg/network"
	"github.com/quartzshell/netmirror/pkg/util"
)

const (
	busName      = "org.freedesktop.NetworkManager"
	managerPath  = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	managerIface = "org.freedesktop.NetworkManager"

	settingsPath  = dbus.ObjectPath("/org/freedesktop/NetworkManager/Settings")
	settingsIface = managerIface + ".Settings"

	deviceIface   = managerIface + ".Device"
	wirelessIface = deviceIface + ".Wireless"
	apIface       = managerIface + ".AccessPoint"
	connIface     = settingsIface + ".Connection"
	activeIface   = managerIface + ".Connection.Active"
)

// InitState is the backend lifecycle state machine. Transitions are
// single-writer on the dispatch loop.
type InitState uint8

const (
	StateUninit InitState = iota
	StateStarting
	StateReady
	StateInert
)

func (s InitState) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateReady:
		return "Ready"
	case StateInert:
		return "Inert"
	default:
		return "Uninit"
	}
}

// Backend mirrors the NetworkManager service into a network.Networking
// model.
type Backend struct {
	disp   dispatch.Dispatcher
	bus    dbusx.Bus
	router *dbusx.Router
	model  *network.Networking

	obj         dbus.BusObject
	settingsObj dbus.BusObject
	group       *dbusx.Group

	devices  map[dbus.ObjectPath]*deviceAdapter
	profiles map[dbus.ObjectPath]*profileAdapter

	state InitState
}

// New creates a backend over bus. A nil bus produces a permanently inert
// backend with an empty model. Start must be called on the dispatch loop.
func New(disp dispatch.Dispatcher, bus dbusx.Bus) *Backend {
	b := &Backend{
		disp:     disp,
		bus:      bus,
		model:    network.NewNetworking(),
		devices:  make(map[dbus.ObjectPath]*deviceAdapter),
		profiles: make(map[dbus.ObjectPath]*profileAdapter),
		state:    StateUninit,
	}
	if bus != nil {
		b.router = dbusx.NewRouter(disp, bus)
		b.obj = bus.Object(busName, managerPath)
		b.settingsObj = bus.Object(busName, settingsPath)
	}
	return b
}

// Model returns the observable model the backend drives.
func (b *Backend) Model() *network.Networking { return b.model }

// State returns the lifecycle state.
func (b *Backend) State() InitState { return b.state }

// IsAvailable reports whether the backend reached the service.
func (b *Backend) IsAvailable() bool { return b.state == StateReady }

// Start runs the startup protocol: verify or activate the service, then
// bind global properties and enumerate devices and profiles. Safe to
// call once; later calls are ignored.
func (b *Backend) Start() {
	if b.state != StateUninit {
		return
	}
	if b.bus == nil {
		util.Warnf("no bus connection, network backend will not work")
		b.state = StateInert
		return
	}
	b.state = StateStarting
	util.Debugf("starting NetworkManager network backend")

	dbusx.Async(b.disp, func() (bool, error) {
		return dbusx.EnsureService(b.bus, busName)
	}, func(ok bool, err error) {
		if err != nil || !ok {
			util.Warnf("could not reach or start NetworkManager: %v", err)
			b.state = StateInert
			return
		}
		b.init()
	})
}

func (b *Backend) init() {
	b.state = StateReady
	b.model.AttachBackend(network.BackendNetworkManager)

	b.group = dbusx.NewGroup(b.disp, b.router, managerIface,
		dbusx.Bind("State", b.model.State, asGlobalState),
		dbusx.Bind("WirelessEnabled", b.model.WifiEnabled, dbusx.AsBool),
		dbusx.Bind("WirelessHardwareEnabled", b.model.WifiHardwareEnabled, dbusx.AsBool),
		dbusx.Bind("NetworkingEnabled", b.model.NetworkingEnabled, dbusx.AsBool),
	)
	b.group.Attach(b.obj)

	b.model.RequestSetWifiEnabled().Subscribe(b.setWifiEnabled)

	b.router.Handle(managerPath, managerIface+".DeviceAdded", func(sig *dbus.Signal) {
		if path, ok := signalPath(sig); ok {
			b.registerDevice(path)
		}
	})
	b.router.Handle(managerPath, managerIface+".DeviceRemoved", func(sig *dbus.Signal) {
		if path, ok := signalPath(sig); ok {
			b.removeDevice(path)
		}
	})
	b.router.Handle(settingsPath, settingsIface+".NewConnection", func(sig *dbus.Signal) {
		if path, ok := signalPath(sig); ok {
			b.ensureProfile(path)
		}
	})
	b.router.Handle(settingsPath, settingsIface+".ConnectionRemoved", func(sig *dbus.Signal) {
		if path, ok := signalPath(sig); ok {
			b.removeProfile(path)
		}
	})
	b.addMatches()

	// Initial enumeration.
	obj := b.obj
	dbusx.Async(b.disp, func() ([]dbus.ObjectPath, error) {
		var paths []dbus.ObjectPath
		err := obj.Call(managerIface+".GetAllDevices", 0).Store(&paths)
		return paths, err
	}, func(paths []dbus.ObjectPath, err error) {
		if err != nil {
			util.Warnf("failed to get devices: %v", err)
			return
		}
		for _, path := range paths {
			b.registerDevice(path)
		}
	})

	settingsObj := b.settingsObj
	dbusx.Async(b.disp, func() ([]dbus.ObjectPath, error) {
		var paths []dbus.ObjectPath
		err := settingsObj.Call(settingsIface+".ListConnections", 0).Store(&paths)
		return paths, err
	}, func(paths []dbus.ObjectPath, err error) {
		if err != nil {
			util.Warnf("failed to list connections: %v", err)
			return
		}
		for _, path := range paths {
			b.ensureProfile(path)
		}
	})
}

func (b *Backend) addMatches() {
	bus := b.bus
	dbusx.Async(b.disp, func() (struct{}, error) {
		for _, member := range []string{"DeviceAdded", "DeviceRemoved"} {
			if err := bus.AddMatchSignal(
				dbus.WithMatchObjectPath(managerPath),
				dbus.WithMatchInterface(managerIface),
				dbus.WithMatchMember(member),
			); err != nil {
				return struct{}{}, err
			}
		}
		for _, member := range []string{"NewConnection", "ConnectionRemoved"} {
			if err := bus.AddMatchSignal(
				dbus.WithMatchObjectPath(settingsPath),
				dbus.WithMatchInterface(settingsIface),
				dbus.WithMatchMember(member),
			); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	}, func(_ struct{}, err error) {
		if err != nil {
			util.Warnf("failed to install signal matches: %v", err)
		}
	})
}

// setWifiEnabled routes the model's wireless toggle to the daemon. The
// equality short-circuit already happened in the model setter.
func (b *Backend) setWifiEnabled(enabled bool) {
	dbusx.Fire(b.disp, b.obj, managerIface+".Enable", func(err error) {
		util.Warnf("enable request failed: %v", err)
	}, enabled)
}

// registerDevice runs the two-phase registration protocol: probe the
// path until the device type is known, then materialize the concrete
// variant and wire it. No partially-constructed device is ever published.
func (b *Backend) registerDevice(path dbus.ObjectPath) {
	if _, ok := b.devices[path]; ok {
		util.WithPath(string(path)).Debugf("skipping duplicate device registration")
		return
	}
	da := newDeviceAdapter(b, path)
	b.devices[path] = da
	da.probe(func(err error) {
		if err != nil {
			util.WithPath(string(path)).Warnf("ignoring invalid device registration: %v", err)
			delete(b.devices, path)
			da.discard()
			return
		}
		da.materialize()
		b.model.Devices.Insert(da.front)
		util.WithPath(string(path)).Debugf("registered %s device", deviceTypeName(da.devType.Get()))
	})
}

func (b *Backend) removeDevice(path dbus.ObjectPath) {
	da, ok := b.devices[path]
	if !ok {
		util.WithPath(string(path)).Warnf("removal signal for unregistered device")
		return
	}
	delete(b.devices, path)
	da.discard()
	if da.front != nil {
		b.model.Devices.Remove(da.front)
	}
	util.WithPath(string(path)).Debugf("device removed")
}

// ensureProfile returns the adapter tracking the connection profile at
// path, creating it on first reference.
func (b *Backend) ensureProfile(path dbus.ObjectPath) *profileAdapter {
	if pa, ok := b.profiles[path]; ok {
		return pa
	}
	pa := newProfileAdapter(b.disp, b.router, b.bus, path)
	b.profiles[path] = pa
	return pa
}

func (b *Backend) removeProfile(path dbus.ObjectPath) {
	pa, ok := b.profiles[path]
	if !ok {
		return
	}
	delete(b.profiles, path)
	// Drop the profile from every network referencing it before the
	// adapter dies.
	for _, da := range b.devices {
		da.dropProfile(pa)
	}
	pa.discard()
}

// Stop tears the backend down. Pending continuations observe the
// discarded adapters and drop silently.
func (b *Backend) Stop() {
	for path, da := range b.devices {
		da.discard()
		delete(b.devices, path)
	}
	for path, pa := range b.profiles {
		pa.discard()
		delete(b.profiles, path)
	}
	if b.group != nil {
		b.group.Detach()
		b.group = nil
	}
	if b.router != nil {
		b.router.Close()
		b.router = nil
	}
	b.state = StateInert
}

func signalPath(sig *dbus.Signal) (dbus.ObjectPath, bool) {
	if len(sig.Body) < 1 {
		return "", false
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	return path, ok
}

func asGlobalState(v dbus.Variant) (network.GlobalState, error) {
	u, err := dbusx.AsUint32(v)
	return network.GlobalState(u), err
}

// activateNetwork asks the daemon to bring a network up using profile on
// device.
func (b *Backend) activateNetwork(profilePath, devicePath dbus.ObjectPath) {
	dbusx.Fire(b.disp, b.obj, managerIface+".ActivateConnection", func(err error) {
		util.Warnf("activate request failed: %v", err)
	}, profilePath, devicePath, dbus.ObjectPath("/"))
}
