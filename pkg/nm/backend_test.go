package nm

import (
	"errors"
	"io"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/quartzshell/netmirror/internal/testutil"
	"github.com/quartzshell/netmirror/pkg/network"
	"github.com/quartzshell/netmirror/pkg/util"
)

func silenceLogs(t *testing.T) {
	t.Helper()
	prev := util.Logger.Out
	util.SetLogOutput(io.Discard)
	t.Cleanup(func() { util.SetLogOutput(prev) })
}

func seedManager(bus *testutil.FakeBus, devices ...dbus.ObjectPath) {
	mgr := bus.Obj(managerPath)
	mgr.SetProps(managerIface, map[string]interface{}{
		"State":                   uint32(70),
		"WirelessEnabled":         true,
		"WirelessHardwareEnabled": true,
		"NetworkingEnabled":       true,
	})
	mgr.Handle(managerIface+".GetAllDevices", func([]interface{}) ([]interface{}, error) {
		return []interface{}{devices}, nil
	})
	settings := bus.Obj(settingsPath)
	settings.Handle(settingsIface+".ListConnections", func([]interface{}) ([]interface{}, error) {
		return []interface{}{[]dbus.ObjectPath{}}, nil
	})
}

func seedWifiDevice(bus *testutil.FakeBus, path dbus.ObjectPath, iface, hw string, aps ...dbus.ObjectPath) *testutil.FakeObject {
	obj := bus.Obj(path)
	obj.SetProps(deviceIface, map[string]interface{}{
		"DeviceType":           uint32(2),
		"Interface":            iface,
		"HwAddress":            hw,
		"State":                uint32(100),
		"AvailableConnections": []dbus.ObjectPath{},
		"ActiveConnection":     dbus.ObjectPath("/"),
	})
	obj.SetProps(wirelessIface, map[string]interface{}{
		"LastScan":          int64(10000),
		"ActiveAccessPoint": dbus.ObjectPath("/"),
	})
	obj.Handle(wirelessIface+".GetAllAccessPoints", func([]interface{}) ([]interface{}, error) {
		return []interface{}{aps}, nil
	})
	return obj
}

func seedGenericDevice(bus *testutil.FakeBus, path dbus.ObjectPath, iface, hw string) *testutil.FakeObject {
	obj := bus.Obj(path)
	obj.SetProps(deviceIface, map[string]interface{}{
		"DeviceType":           uint32(14),
		"Interface":            iface,
		"HwAddress":            hw,
		"State":                uint32(30),
		"AvailableConnections": []dbus.ObjectPath{},
		"ActiveConnection":     dbus.ObjectPath("/"),
	})
	return obj
}

func seedAp(bus *testutil.FakeBus, path dbus.ObjectPath, ssid string, strength byte) *testutil.FakeObject {
	obj := bus.Obj(path)
	obj.SetProps(apIface, map[string]interface{}{
		"Ssid":     []byte(ssid),
		"Strength": strength,
		"Flags":    ApFlagPrivacy,
		"WpaFlags": ApSecNone,
		"RsnFlags": ApSecKeyMgmtPsk,
	})
	return obj
}

func wifiSettings(id, ssid string) map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		"connection": {
			"id":   dbus.MakeVariant(id),
			"type": dbus.MakeVariant("802-11-wireless"),
		},
		"802-11-wireless": {
			"ssid": dbus.MakeVariant([]byte(ssid)),
		},
		"802-11-wireless-security": {
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
		},
	}
}

func seedProfile(bus *testutil.FakeBus, path dbus.ObjectPath, settings map[string]map[string]dbus.Variant) *testutil.FakeObject {
	obj := bus.Obj(path)
	obj.Handle(connIface+".GetSettings", func([]interface{}) ([]interface{}, error) {
		return []interface{}{settings}, nil
	})
	obj.Handle(connIface+".GetSecrets", func([]interface{}) ([]interface{}, error) {
		return nil, errors.New("access denied")
	})
	return obj
}

func startBackend(t *testing.T, bus *testutil.FakeBus) (*testutil.Dispatcher, *Backend) {
	t.Helper()
	d := testutil.NewDispatcher()
	b := New(d, bus)
	t.Cleanup(func() { b.Stop() })
	b.Start()
	d.Pump()
	return d, b
}

func wifiDevice(t *testing.T, b *Backend) *network.WirelessDevice {
	t.Helper()
	for _, dev := range b.Model().Devices.Items() {
		if dev.Wireless() != nil {
			return dev.Wireless()
		}
	}
	t.Fatal("no wireless device in model")
	return nil
}

func findNetwork(t *testing.T, w *network.WirelessDevice, name string) *network.Network {
	t.Helper()
	for _, n := range w.Networks.Items() {
		if n.Name() == name {
			return n
		}
	}
	t.Fatalf("network %q not found", name)
	return nil
}

// Cold enumeration: two devices come back from GetAllDevices; the first
// materializes as a wireless device with its attributes, the second as a
// generic one, in order.
func TestColdEnumeration(t *testing.T) {
	bus := testutil.NewFakeBus()
	seedManager(bus, "/d/1", "/d/2")
	seedWifiDevice(bus, "/d/1", "wlp3s0", "aa:bb:cc:dd:ee:ff")
	seedGenericDevice(bus, "/d/2", "lo0", "00:00:00:00:00:01")

	d := testutil.NewDispatcher()
	b := New(d, bus)
	defer b.Stop()

	var added []*network.NetworkDevice
	b.Model().Devices.Added().Subscribe(func(dev *network.NetworkDevice) {
		added = append(added, dev)
	})

	b.Start()
	d.Pump()

	if !b.IsAvailable() || b.State() != StateReady {
		t.Fatalf("backend state = %v, want Ready", b.State())
	}
	if len(added) != 2 {
		t.Fatalf("deviceAdded fired %d times, want 2", len(added))
	}

	first, second := added[0], added[1]
	if first.Kind() != network.DeviceWireless || first.Wireless() == nil {
		t.Error("first device should be wireless")
	}
	if first.Name.Get() != "wlp3s0" {
		t.Errorf("name = %q, want wlp3s0", first.Name.Get())
	}
	if first.Address.Get() != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("address = %q", first.Address.Get())
	}
	if first.State.Get() != network.DeviceStateConnected {
		t.Errorf("state = %v, want Connected", first.State.Get())
	}
	if second.Kind() != network.DeviceOther || second.Wireless() != nil {
		t.Error("second device should be generic")
	}

	// Global toggles mirrored from the manager.
	if !b.Model().WifiEnabled.Get() || !b.Model().WifiHardwareEnabled.Get() {
		t.Error("wireless switches should mirror the daemon")
	}
	if b.Model().State.Get() != network.GlobalStateConnectedGlobal {
		t.Errorf("global state = %v, want ConnectedGlobal", b.Model().State.Get())
	}
}

// AP aggregation: three access points across two SSIDs produce two
// networks carrying the max member signal.
func TestApAggregation(t *testing.T) {
	bus := testutil.NewFakeBus()
	seedManager(bus, "/d/1")
	seedWifiDevice(bus, "/d/1", "wlp3s0", "aa:bb:cc:dd:ee:ff", "/ap/1", "/ap/2", "/ap/3")
	seedAp(bus, "/ap/1", "CafeWifi", 40)
	seedAp(bus, "/ap/2", "CafeWifi", 72)
	seedAp(bus, "/ap/3", "HomeNet", 55)

	d, b := startBackend(t, bus)
	_ = d

	w := wifiDevice(t, b)
	if w.Networks.Len() != 2 {
		t.Fatalf("networks = %d, want 2", w.Networks.Len())
	}
	if got := findNetwork(t, w, "CafeWifi").Signal.Get(); got != 72 {
		t.Errorf("CafeWifi signal = %d, want 72", got)
	}
	if got := findNetwork(t, w, "HomeNet").Signal.Get(); got != 55 {
		t.Errorf("HomeNet signal = %d, want 55", got)
	}
}

// Connected transition: the wireless device's active access point moves
// to a CafeWifi member.
func TestConnectedTransition(t *testing.T) {
	bus := testutil.NewFakeBus()
	seedManager(bus, "/d/1")
	seedWifiDevice(bus, "/d/1", "wlp3s0", "aa:bb:cc:dd:ee:ff", "/ap/1", "/ap/2", "/ap/3")
	seedAp(bus, "/ap/1", "CafeWifi", 40)
	seedAp(bus, "/ap/2", "CafeWifi", 72)
	seedAp(bus, "/ap/3", "HomeNet", 55)

	d, b := startBackend(t, bus)
	w := wifiDevice(t, b)

	bus.EmitPropertiesChanged(t, d, "/d/1", wirelessIface, map[string]interface{}{
		"ActiveAccessPoint": dbus.ObjectPath("/ap/2"),
	})

	if !findNetwork(t, w, "CafeWifi").Connected.Get() {
		t.Error("CafeWifi should be connected")
	}
	if findNetwork(t, w, "HomeNet").Connected.Get() {
		t.Error("HomeNet should not be connected")
	}
}

// Scan round trip: a scan request hits the daemon once; a LastScan
// advance flips scanning back off.
func TestScanRoundTrip(t *testing.T) {
	silenceLogs(t)
	bus := testutil.NewFakeBus()
	seedManager(bus, "/d/1")
	dev := seedWifiDevice(bus, "/d/1", "wlp3s0", "aa:bb:cc:dd:ee:ff")

	d, b := startBackend(t, bus)
	w := wifiDevice(t, b)

	if w.LastScan.Get() != 10000 {
		t.Fatalf("initial LastScan = %d, want 10000", w.LastScan.Get())
	}

	w.Scan()
	w.Scan() // idempotence: second request while scanning is rejected
	d.Pump()

	if got := dev.CallCount(wirelessIface + ".RequestScan"); got != 1 {
		t.Errorf("RequestScan calls = %d, want 1", got)
	}
	if !w.Scanning.Get() {
		t.Fatal("scanning should be true")
	}

	var lastScans []int64
	w.LastScan.Subscribe(func(v int64) { lastScans = append(lastScans, v) })

	bus.EmitPropertiesChanged(t, d, "/d/1", wirelessIface, map[string]interface{}{
		"LastScan": int64(12000),
	})

	if w.Scanning.Get() {
		t.Error("scanning should flip back to false")
	}
	if len(lastScans) != 1 || lastScans[0] != 12000 {
		t.Errorf("lastScan notifications = %v, want [12000]", lastScans)
	}
}

// Invalid PSK: the update is warned about but still forwarded; the
// daemon stays authoritative.
func TestInvalidPskStillForwarded(t *testing.T) {
	silenceLogs(t)
	bus := testutil.NewFakeBus()
	seedManager(bus, "/d/1")
	dev := seedWifiDevice(bus, "/d/1", "wlp3s0", "aa:bb:cc:dd:ee:ff", "/ap/1")
	seedAp(bus, "/ap/1", "CafeWifi", 72)
	prof := seedProfile(bus, "/c/1", wifiSettings("cafe", "CafeWifi"))
	dev.SetProp(deviceIface, "AvailableConnections", []dbus.ObjectPath{"/c/1"})

	d, b := startBackend(t, bus)
	w := wifiDevice(t, b)

	cafe := findNetwork(t, w, "CafeWifi")
	if !cafe.Known.Get() {
		t.Fatal("CafeWifi should be known through its profile")
	}
	profile := cafe.DefaultProfile.Get()
	if profile == nil {
		t.Fatal("default profile should be set")
	}
	if profile.WifiSecurity.Get() != network.SecurityWpa2Psk {
		t.Fatalf("security = %v, want Wpa2Psk", profile.WifiSecurity.Get())
	}

	profile.SetWifiPsk("short")
	d.Pump()

	if got := prof.CallCount(connIface + ".Update"); got != 1 {
		t.Errorf("Update calls = %d, want 1 (invalid PSK is still forwarded)", got)
	}
}

// Device removal: one deviceRemoved event, child adapters discarded.
func TestDeviceRemoval(t *testing.T) {
	silenceLogs(t)
	bus := testutil.NewFakeBus()
	seedManager(bus, "/d/1")
	seedWifiDevice(bus, "/d/1", "wlp3s0", "aa:bb:cc:dd:ee:ff", "/ap/1")
	seedAp(bus, "/ap/1", "CafeWifi", 72)

	d, b := startBackend(t, bus)

	removed := 0
	b.Model().Devices.Removed().Subscribe(func(*network.NetworkDevice) { removed++ })

	bus.Emit(t, d, managerPath, managerIface+".DeviceRemoved", dbus.ObjectPath("/d/1"))
	d.Pump()

	if removed != 1 {
		t.Errorf("deviceRemoved events = %d, want exactly 1", removed)
	}
	if b.Model().Devices.Len() != 0 {
		t.Error("model should have no devices left")
	}
	if len(b.devices) != 0 {
		t.Error("backend device table should be empty")
	}

	// A second removal signal for the same path is a warned no-op.
	bus.Emit(t, d, managerPath, managerIface+".DeviceRemoved", dbus.ObjectPath("/d/1"))
	d.Pump()
	if removed != 1 {
		t.Errorf("duplicate removal produced %d events, want 1", removed)
	}
}

// Hot-plug: DeviceAdded after startup registers the device through the
// same two-phase protocol.
func TestDeviceAddedSignal(t *testing.T) {
	bus := testutil.NewFakeBus()
	seedManager(bus) // no initial devices
	d, b := startBackend(t, bus)

	if b.Model().Devices.Len() != 0 {
		t.Fatal("expected empty device set")
	}

	seedWifiDevice(bus, "/d/9", "wlp4s0", "11:22:33:44:55:66")
	bus.Emit(t, d, managerPath, managerIface+".DeviceAdded", dbus.ObjectPath("/d/9"))
	d.Pump()

	if b.Model().Devices.Len() != 1 {
		t.Fatalf("devices = %d, want 1", b.Model().Devices.Len())
	}
	if b.Model().Devices.Items()[0].Name.Get() != "wlp4s0" {
		t.Error("hot-plugged device should carry its attributes")
	}
}

// An invalid device path never produces a frontend object.
func TestInvalidDeviceDiscarded(t *testing.T) {
	silenceLogs(t)
	bus := testutil.NewFakeBus()
	seedManager(bus, "/d/broken")
	bus.Obj("/d/broken").FailMethod("org.freedesktop.DBus.Properties.GetAll", errors.New("unknown object"))

	_, b := startBackend(t, bus)

	if b.Model().Devices.Len() != 0 {
		t.Error("invalid device must not be published")
	}
	if len(b.devices) != 0 {
		t.Error("invalid device must not stay in the adapter table")
	}
}

// Service absent and unactivatable: the backend goes inert with an
// empty model.
func TestUnavailableService(t *testing.T) {
	silenceLogs(t)
	bus := testutil.NewFakeBus()
	bus.SetServicePresent(false)
	bus.SetActivation(false, nil)

	_, b := startBackend(t, bus)

	if b.IsAvailable() || b.State() != StateInert {
		t.Errorf("state = %v, want Inert", b.State())
	}
	if b.Model().Backend() != network.BackendNone {
		t.Error("model should report no backend")
	}
	if b.Model().Devices.Len() != 0 {
		t.Error("inert backend exposes an empty model")
	}
}

// Service activation: absent but activatable services are started and
// then mirrored normally.
func TestServiceActivation(t *testing.T) {
	bus := testutil.NewFakeBus()
	bus.SetServicePresent(false)
	bus.SetActivation(true, nil)
	seedManager(bus, "/d/1")
	seedGenericDevice(bus, "/d/1", "eth0", "aa:aa:aa:aa:aa:aa")

	_, b := startBackend(t, bus)

	if !b.IsAvailable() {
		t.Fatal("backend should be ready after activation")
	}
	if b.Model().Devices.Len() != 1 {
		t.Error("devices should enumerate after activation")
	}
}

// wifiEnabled routing: the setter round-trips through the daemon once
// per actual change.
func TestWifiEnabledRouting(t *testing.T) {
	bus := testutil.NewFakeBus()
	seedManager(bus)
	mgr := bus.Obj(managerPath)

	d, b := startBackend(t, bus)
	model := b.Model()

	if !model.WifiEnabled.Get() {
		t.Fatal("WifiEnabled should mirror the daemon's true")
	}

	model.SetWifiEnabled(true) // equal: no remote call
	d.Pump()
	if got := mgr.CallCount(managerIface + ".Enable"); got != 0 {
		t.Errorf("Enable calls = %d, want 0", got)
	}

	model.SetWifiEnabled(false)
	d.Pump()
	if got := mgr.CallCount(managerIface + ".Enable"); got != 1 {
		t.Errorf("Enable calls = %d, want 1", got)
	}

	// Daemon confirms; no further traffic.
	bus.EmitPropertiesChanged(t, d, managerPath, managerIface, map[string]interface{}{
		"WirelessEnabled": false,
	})
	if model.WifiEnabled.Get() {
		t.Error("model should mirror the confirmed value")
	}
	if got := mgr.CallCount(managerIface + ".Enable"); got != 1 {
		t.Errorf("Enable calls = %d after echo, want 1", got)
	}
}

// Network connect routes through ActivateConnection with the default
// profile.
func TestNetworkConnect(t *testing.T) {
	bus := testutil.NewFakeBus()
	seedManager(bus, "/d/1")
	dev := seedWifiDevice(bus, "/d/1", "wlp3s0", "aa:bb:cc:dd:ee:ff", "/ap/1")
	seedAp(bus, "/ap/1", "CafeWifi", 72)
	seedProfile(bus, "/c/1", wifiSettings("cafe", "CafeWifi"))
	dev.SetProp(deviceIface, "AvailableConnections", []dbus.ObjectPath{"/c/1"})

	d, b := startBackend(t, bus)
	w := wifiDevice(t, b)
	mgr := bus.Obj(managerPath)

	findNetwork(t, w, "CafeWifi").Connect()
	d.Pump()

	call := mgr.LastCall(managerIface + ".ActivateConnection")
	if call == nil {
		t.Fatal("expected an ActivateConnection call")
	}
	if call.Args[0] != dbus.ObjectPath("/c/1") || call.Args[1] != dbus.ObjectPath("/d/1") {
		t.Errorf("ActivateConnection args = %v", call.Args)
	}
}

// Profile removal via the settings service detaches it everywhere.
func TestProfileRemoved(t *testing.T) {
	bus := testutil.NewFakeBus()
	seedManager(bus, "/d/1")
	dev := seedWifiDevice(bus, "/d/1", "wlp3s0", "aa:bb:cc:dd:ee:ff", "/ap/1")
	seedAp(bus, "/ap/1", "CafeWifi", 72)
	seedProfile(bus, "/c/1", wifiSettings("cafe", "CafeWifi"))
	dev.SetProp(deviceIface, "AvailableConnections", []dbus.ObjectPath{"/c/1"})

	d, b := startBackend(t, bus)
	w := wifiDevice(t, b)
	cafe := findNetwork(t, w, "CafeWifi")
	if !cafe.Known.Get() {
		t.Fatal("network should be known")
	}

	bus.Emit(t, d, settingsPath, settingsIface+".ConnectionRemoved", dbus.ObjectPath("/c/1"))
	d.Pump()

	if cafe.Known.Get() {
		t.Error("network should forget the removed profile")
	}
	if cafe.DefaultProfile.Get() != nil {
		t.Error("default profile should clear")
	}
	if len(b.profiles) != 0 {
		t.Error("backend profile table should be empty")
	}
}

// Login failure flows from the active connection into the network state
// reason and a ConnectionContext.
func TestLoginFailureFlow(t *testing.T) {
	bus := testutil.NewFakeBus()
	seedManager(bus, "/d/1")
	dev := seedWifiDevice(bus, "/d/1", "wlp3s0", "aa:bb:cc:dd:ee:ff", "/ap/1")
	seedAp(bus, "/ap/1", "CafeWifi", 72)
	seedProfile(bus, "/c/1", wifiSettings("cafe", "CafeWifi"))
	dev.SetProp(deviceIface, "AvailableConnections", []dbus.ObjectPath{"/c/1"})

	active := bus.Obj("/active/1")
	active.SetProps(activeIface, map[string]interface{}{
		"State":          uint32(1),
		"Connection":     dbus.ObjectPath("/c/1"),
		"SpecificObject": dbus.ObjectPath("/ap/1"),
	})

	d, b := startBackend(t, bus)
	w := wifiDevice(t, b)
	cafe := findNetwork(t, w, "CafeWifi")

	ctx := network.NewConnectionContext()
	ctx.SetNetwork(cafe)
	logins, successes := 0, 0
	ctx.LoginFailed.Subscribe(func(struct{}) { logins++ })
	ctx.Success.Subscribe(func(struct{}) { successes++ })

	// The device binds to the attempt.
	bus.EmitPropertiesChanged(t, d, "/d/1", deviceIface, map[string]interface{}{
		"ActiveConnection": dbus.ObjectPath("/active/1"),
	})

	if cafe.State.Get() != network.NetworkStateConnecting {
		t.Fatalf("state = %v, want Connecting", cafe.State.Get())
	}
	if !cafe.StateChanging.Get() {
		t.Error("stateChanging should be true while connecting")
	}

	// Authentication fails.
	bus.Emit(t, d, "/active/1", activeIface+".StateChanged",
		uint32(activeStateDeactivated), uint32(network.ReasonLoginFailed))
	d.Pump()

	if cafe.State.Get() != network.NetworkStateFailed {
		t.Errorf("state = %v, want Failed", cafe.State.Get())
	}
	if cafe.StateReason.Get() != network.ReasonLoginFailed {
		t.Errorf("reason = %v, want LoginFailed", cafe.StateReason.Get())
	}
	if logins != 1 {
		t.Errorf("loginFailed events = %d, want exactly 1", logins)
	}
	if successes != 0 {
		t.Errorf("success events = %d, want 0", successes)
	}
}

// Disconnect requests reach the daemon only from permitted states.
func TestDeviceDisconnect(t *testing.T) {
	silenceLogs(t)
	bus := testutil.NewFakeBus()
	seedManager(bus, "/d/1")
	dev := seedWifiDevice(bus, "/d/1", "wlp3s0", "aa:bb:cc:dd:ee:ff")

	d, b := startBackend(t, bus)
	front := b.Model().Devices.Items()[0]

	front.Disconnect()
	d.Pump()
	if got := dev.CallCount(deviceIface + ".Disconnect"); got != 1 {
		t.Errorf("Disconnect calls = %d, want 1", got)
	}

	// Raw state 30 maps to Disconnected; further requests are rejected
	// locally.
	bus.EmitPropertiesChanged(t, d, "/d/1", deviceIface, map[string]interface{}{
		"State": uint32(30),
	})
	front.Disconnect()
	d.Pump()
	if got := dev.CallCount(deviceIface + ".Disconnect"); got != 1 {
		t.Errorf("Disconnect calls = %d, want still 1", got)
	}
}
