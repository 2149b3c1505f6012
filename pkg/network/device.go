package network

import (
	"github.com/quartzshell/netmirror/pkg/observe"
	"github.com/quartzshell/netmirror/pkg/util"
)

// NetworkDevice is one network device. Wireless devices carry a
// WirelessDevice payload; every other device type presents as a plain
// device.
type NetworkDevice struct {
	path string
	kind DeviceKind

	// Name is the interface name, e.g. "wlp3s0".
	Name *observe.Value[string]

	// Address is the hardware address.
	Address *observe.Value[string]

	// State is the abstract connectivity state.
	State *observe.Value[DeviceState]

	wireless *WirelessDevice

	requestDisconnect *observe.Signal[struct{}]
}

// NewDevice creates a generic device model bound to a backend path.
func NewDevice(path string) *NetworkDevice {
	return &NetworkDevice{
		path:              path,
		kind:              DeviceOther,
		Name:              observe.NewValue(""),
		Address:           observe.NewValue(""),
		State:             observe.NewValue(DeviceStateUnknown),
		requestDisconnect: observe.NewSignal[struct{}](),
	}
}

// NewWirelessDevice creates a device model with a wireless payload.
func NewWirelessDevice(path string) *NetworkDevice {
	d := NewDevice(path)
	d.kind = DeviceWireless
	d.wireless = newWirelessDevice(d)
	return d
}

// Path returns the device's stable object path identity.
func (d *NetworkDevice) Path() string { return d.path }

// Kind returns the abstract device type.
func (d *NetworkDevice) Kind() DeviceKind { return d.kind }

// Wireless returns the wireless payload, or nil for other device kinds.
func (d *NetworkDevice) Wireless() *WirelessDevice { return d.wireless }

// Disconnect asks the backend to disconnect the device. Rejected locally
// when the device is already disconnected or disconnecting.
func (d *NetworkDevice) Disconnect() {
	switch d.State.Get() {
	case DeviceStateDisconnected:
		util.WithDevice(d.Name.Get()).Errorf("already disconnected")
		return
	case DeviceStateDisconnecting:
		util.WithDevice(d.Name.Get()).Errorf("already disconnecting")
		return
	}
	d.requestDisconnect.Emit(struct{}{})
}

// RequestDisconnect is the adapter-side subscription point for Disconnect.
func (d *NetworkDevice) RequestDisconnect() *observe.Signal[struct{}] { return d.requestDisconnect }

// WirelessDevice is the wireless payload of a NetworkDevice: the wifi
// networks visible to the device and scan control.
type WirelessDevice struct {
	owner *NetworkDevice

	// Networks is the set of wifi networks visible to the device, one
	// per SSID.
	Networks *observe.List[*Network]

	// LastScan is the timestamp of the last completed scan in
	// CLOCK_BOOTTIME milliseconds, -1 if never scanned.
	LastScan *observe.Value[int64]

	// Scanning is true from a scan request until the scan completes.
	Scanning *observe.Value[bool]

	scanMark int64

	requestScan *observe.Signal[struct{}]
}

func newWirelessDevice(owner *NetworkDevice) *WirelessDevice {
	return &WirelessDevice{
		owner:       owner,
		Networks:    observe.NewList[*Network](),
		LastScan:    observe.NewValue[int64](-1),
		Scanning:    observe.NewValue(false),
		requestScan: observe.NewSignal[struct{}](),
	}
}

// Scan requests an access point scan. Rejected locally while a scan is
// already in flight.
func (w *WirelessDevice) Scan() {
	if w.Scanning.Get() {
		util.WithDevice(w.owner.Name.Get()).Errorf("already scanning")
		return
	}
	w.scanMark = w.LastScan.Get()
	w.Scanning.Set(true)
	w.requestScan.Emit(struct{}{})
}

// ScanComplete records a LastScan advance reported by the backend and
// clears Scanning once the timestamp has moved past the value captured
// at request time.
func (w *WirelessDevice) ScanComplete(lastScan int64) {
	w.LastScan.Set(lastScan)
	if w.Scanning.Get() && lastScan > w.scanMark {
		w.Scanning.Set(false)
	}
}

// RequestScan is the adapter-side subscription point for Scan.
func (w *WirelessDevice) RequestScan() *observe.Signal[struct{}] { return w.requestScan }
