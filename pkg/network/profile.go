package network

import (
	"reflect"

	"github.com/quartzshell/netmirror/pkg/observe"
	"github.com/quartzshell/netmirror/pkg/util"
)

// SettingsMap is a connection configuration: setting group name to
// key/value pairs, mirroring NetworkManager's nested settings dict.
type SettingsMap map[string]map[string]interface{}

// Clone returns a one-level-deep copy: group maps are fresh, values are
// shared.
func (m SettingsMap) Clone() SettingsMap {
	out := make(SettingsMap, len(m))
	for group, kv := range m {
		g := make(map[string]interface{}, len(kv))
		for k, v := range kv {
			g[k] = v
		}
		out[group] = g
	}
	return out
}

// Profile is a saved connection settings profile. All cells are written
// by the backend adapter; method invocations are forwarded to it as
// request signals.
type Profile struct {
	path string

	// ID is the human-readable unique identifier of the profile.
	ID *observe.Value[string]

	// Settings is the configuration map describing the profile.
	Settings *observe.Value[SettingsMap]

	// Secrets is the cached secrets map belonging to the profile.
	Secrets *observe.Value[SettingsMap]

	// WifiSecurity is derived from the key management setting.
	WifiSecurity *observe.Value[WifiSecurity]

	requestUpdate       *observe.Signal[SettingsMap]
	requestClearSecrets *observe.Signal[struct{}]
	requestForget       *observe.Signal[struct{}]
	requestSetWifiPsk   *observe.Signal[string]
}

// NewProfile creates a profile model for the given object path.
func NewProfile(path string) *Profile {
	eq := func(a, b SettingsMap) bool { return reflect.DeepEqual(a, b) }
	return &Profile{
		path:                path,
		ID:                  observe.NewValue(""),
		Settings:            observe.NewValueFunc(SettingsMap(nil), eq),
		Secrets:             observe.NewValueFunc(SettingsMap(nil), eq),
		WifiSecurity:        observe.NewValue(SecurityNone),
		requestUpdate:       observe.NewSignal[SettingsMap](),
		requestClearSecrets: observe.NewSignal[struct{}](),
		requestForget:       observe.NewSignal[struct{}](),
		requestSetWifiPsk:   observe.NewSignal[string](),
	}
}

// Path returns the profile's stable object path identity.
func (p *Profile) Path() string { return p.path }

// Update asks the daemon to replace the profile settings and save them.
// Secrets may be part of the request and flow through opaquely.
func (p *Profile) Update(settings SettingsMap) {
	p.requestUpdate.Emit(settings)
}

// ClearSecrets asks the daemon to drop all secrets of this profile.
func (p *Profile) ClearSecrets() {
	p.requestClearSecrets.Emit(struct{}{})
}

// Forget deletes the profile.
func (p *Profile) Forget() {
	p.requestForget.Emit(struct{}{})
}

// SetWifiPsk sets the pre-shared key for a profile whose security type
// is WpaPsk or Wpa2Psk; other types reject the call locally.
func (p *Profile) SetWifiPsk(psk string) {
	sec := p.WifiSecurity.Get()
	if sec != SecurityWpaPsk && sec != SecurityWpa2Psk {
		util.Errorf("profile %s: cannot set PSK on security type %s", p.ID.Get(), sec)
		return
	}
	p.requestSetWifiPsk.Emit(psk)
}

// RequestUpdate is the adapter-side subscription point for Update.
func (p *Profile) RequestUpdate() *observe.Signal[SettingsMap] { return p.requestUpdate }

// RequestClearSecrets is the adapter-side subscription point for ClearSecrets.
func (p *Profile) RequestClearSecrets() *observe.Signal[struct{}] { return p.requestClearSecrets }

// RequestForget is the adapter-side subscription point for Forget.
func (p *Profile) RequestForget() *observe.Signal[struct{}] { return p.requestForget }

// RequestSetWifiPsk is the adapter-side subscription point for SetWifiPsk.
func (p *Profile) RequestSetWifiPsk() *observe.Signal[string] { return p.requestSetWifiPsk }
