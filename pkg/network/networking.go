package network

import (
	"github.com/quartzshell/netmirror/pkg/observe"
)

// Networking is the root of the exposed object tree: all devices plus
// the global wireless switches and daemon state.
type Networking struct {
	backend BackendKind

	// Devices is the set of network devices, in registration order.
	Devices *observe.List[*NetworkDevice]

	// State is the daemon-wide connectivity state.
	State *observe.Value[GlobalState]

	// WifiEnabled mirrors the software block of all wireless devices.
	// Writable through SetWifiEnabled.
	WifiEnabled *observe.Value[bool]

	// WifiHardwareEnabled mirrors the hardware rfkill block. Read-only.
	WifiHardwareEnabled *observe.Value[bool]

	// NetworkingEnabled reports whether networking is enabled at all.
	NetworkingEnabled *observe.Value[bool]

	// pendingWifi tracks a locally-requested WifiEnabled value that the
	// daemon has not yet echoed back. While set, equal setter calls
	// coalesce and no duplicate command is emitted.
	pendingWifi *bool

	requestSetWifiEnabled *observe.Signal[bool]
}

// NewNetworking creates an empty model with no backend attached.
func NewNetworking() *Networking {
	n := &Networking{
		backend:               BackendNone,
		Devices:               observe.NewList[*NetworkDevice](),
		State:                 observe.NewValue(GlobalStateUnknown),
		WifiEnabled:           observe.NewValue(false),
		WifiHardwareEnabled:   observe.NewValue(false),
		NetworkingEnabled:     observe.NewValue(false),
		requestSetWifiEnabled: observe.NewSignal[bool](),
	}

	// A daemon-observed update matching the pending request clears it.
	n.WifiEnabled.Subscribe(func(v bool) {
		if n.pendingWifi != nil && *n.pendingWifi == v {
			n.pendingWifi = nil
		}
	})

	return n
}

// Backend returns the kind of the attached backend.
func (n *Networking) Backend() BackendKind { return n.backend }

// AttachBackend records the backend powering the model. Called once by
// the backend during startup.
func (n *Networking) AttachBackend(kind BackendKind) { n.backend = kind }

// SetWifiEnabled requests the wireless software block to change. The
// request short-circuits when the current value (or an already pending
// request) equals the requested one, so no command is emitted purely in
// response to a change the daemon itself just delivered.
func (n *Networking) SetWifiEnabled(enabled bool) {
	if n.pendingWifi != nil {
		if *n.pendingWifi == enabled {
			return
		}
	} else if n.WifiEnabled.Get() == enabled {
		return
	}
	v := enabled
	n.pendingWifi = &v
	n.requestSetWifiEnabled.Emit(enabled)
}

// RequestSetWifiEnabled is the adapter-side subscription point for
// SetWifiEnabled.
func (n *Networking) RequestSetWifiEnabled() *observe.Signal[bool] {
	return n.requestSetWifiEnabled
}
