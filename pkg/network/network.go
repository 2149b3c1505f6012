// Package network is the observable model exposed to embedding runtimes:
// a Networking root owning devices, wifi networks aggregated by SSID,
// and connection profiles. The model is purely observable; every cell is
// written by a backend adapter, and methods forward to the backend as
// request signals. All access is confined to the owning dispatch loop.
package network

import (
	"github.com/quartzshell/netmirror/pkg/observe"
	"github.com/quartzshell/netmirror/pkg/util"
)

// Network is the aggregation of all access points sharing an SSID on one
// wireless device.
type Network struct {
	name string
	ssid []byte

	// Profiles are the connection settings profiles applicable to this
	// network.
	Profiles *observe.List[*Profile]

	// DefaultProfile is the profile used when Connect is invoked. Only
	// set while the network is known.
	DefaultProfile *observe.Value[*Profile]

	// Connected is true while the device's active access point belongs
	// to this network.
	Connected *observe.Value[bool]

	// Known is true while the network has saved connection profiles.
	Known *observe.Value[bool]

	// Signal is the strongest signal strength among the network's
	// access points, 0..100.
	Signal *observe.Value[uint8]

	// State is the connectivity state of the network.
	State *observe.Value[NetworkState]

	// StateReason is a specific reason for the current state.
	StateReason *observe.Value[StateReason]

	// StateChanging is true while the network connects or disconnects.
	StateChanging *observe.Value[bool]

	requestConnect           *observe.Signal[struct{}]
	requestDisconnect        *observe.Signal[struct{}]
	requestForget            *observe.Signal[struct{}]
	requestSetDefaultProfile *observe.Signal[*Profile]
}

// NewNetwork creates a network model named after the UTF-8 form of ssid.
func NewNetwork(ssid []byte) *Network {
	n := &Network{
		name:                     string(ssid),
		ssid:                     append([]byte(nil), ssid...),
		Profiles:                 observe.NewList[*Profile](),
		DefaultProfile:           observe.NewValue[*Profile](nil),
		Connected:                observe.NewValue(false),
		Known:                    observe.NewValue(false),
		Signal:                   observe.NewValue[uint8](0),
		State:                    observe.NewValue(NetworkStateUnknown),
		StateReason:              observe.NewValue(ReasonUnknown),
		StateChanging:            observe.NewValue(false),
		requestConnect:           observe.NewSignal[struct{}](),
		requestDisconnect:        observe.NewSignal[struct{}](),
		requestForget:            observe.NewSignal[struct{}](),
		requestSetDefaultProfile: observe.NewSignal[*Profile](),
	}

	// Derived cells.
	n.State.Subscribe(func(s NetworkState) {
		n.StateChanging.Set(s == NetworkStateConnecting || s == NetworkStateDisconnecting)
	})
	n.Profiles.Added().Subscribe(func(p *Profile) {
		n.Known.Set(true)
		if n.DefaultProfile.Get() == nil {
			n.DefaultProfile.Set(p)
		}
	})
	n.Profiles.Removed().Subscribe(func(p *Profile) {
		n.Known.Set(n.Profiles.Len() > 0)
		if n.DefaultProfile.Get() == p {
			var next *Profile
			if items := n.Profiles.Items(); len(items) > 0 {
				next = items[0]
			}
			n.DefaultProfile.Set(next)
		}
	})

	return n
}

// Name returns the UTF-8 network name.
func (n *Network) Name() string { return n.name }

// Ssid returns a copy of the raw SSID bytes.
func (n *Network) Ssid() []byte { return append([]byte(nil), n.ssid...) }

// Connect attempts to connect to the network using its default profile.
func (n *Network) Connect() {
	if n.Connected.Get() {
		util.WithNetwork(n.name).Errorf("already connected")
		return
	}
	n.requestConnect.Emit(struct{}{})
}

// Disconnect disconnects from the network.
func (n *Network) Disconnect() {
	if !n.Connected.Get() {
		util.WithNetwork(n.name).Errorf("not currently connected")
		return
	}
	n.requestDisconnect.Emit(struct{}{})
}

// Forget deletes all connection profiles of this network.
func (n *Network) Forget() {
	n.requestForget.Emit(struct{}{})
}

// SetDefaultProfile selects the profile used by Connect. Profiles not in
// the network's profile set are rejected.
func (n *Network) SetDefaultProfile(p *Profile) {
	if n.DefaultProfile.Get() == p {
		return
	}
	if !n.Profiles.Contains(p) {
		util.WithNetwork(n.name).Errorf("profile is not part of this network")
		return
	}
	n.requestSetDefaultProfile.Emit(p)
}

// AddProfile registers a connection profile with this network. Called by
// the backend.
func (n *Network) AddProfile(p *Profile) { n.Profiles.Insert(p) }

// RemoveProfile unregisters a connection profile. Called by the backend.
func (n *Network) RemoveProfile(p *Profile) { n.Profiles.Remove(p) }

// RequestConnect is the adapter-side subscription point for Connect.
func (n *Network) RequestConnect() *observe.Signal[struct{}] { return n.requestConnect }

// RequestDisconnect is the adapter-side subscription point for Disconnect.
func (n *Network) RequestDisconnect() *observe.Signal[struct{}] { return n.requestDisconnect }

// RequestForget is the adapter-side subscription point for Forget.
func (n *Network) RequestForget() *observe.Signal[struct{}] { return n.requestForget }

// RequestSetDefaultProfile is the adapter-side subscription point for
// SetDefaultProfile.
func (n *Network) RequestSetDefaultProfile() *observe.Signal[*Profile] {
	return n.requestSetDefaultProfile
}
