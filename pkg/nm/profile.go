package nm

import (
	"github.com/godbus/dbus/v5"

	"github.com/quartzshell/netmirror/pkg/dbusx"
	"github.com/quartzshell/netmirror/pkg/dispatch"
	"github.com/quartzshell/netmirror/pkg/network"
	"github.com/quartzshell/netmirror/pkg/observe"
	"github.com/quartzshell/netmirror/pkg/util"
)

const wifiSecuritySection = "802-11-wireless-security"

// profileAdapter mirrors one saved connection profile
// (org.freedesktop.NetworkManager.Settings.Connection). Settings travel
// through the GetSettings method and the Updated signal rather than
// properties; the frontend settingsChanged notification fires once the
// post-update refetch lands.
type profileAdapter struct {
	disp dispatch.Dispatcher
	bus  dbusx.Bus
	path dbus.ObjectPath
	obj  dbus.BusObject

	front *network.Profile

	discarded   bool
	unsubUpdate func()
	subs        []*observe.Subscription
}

func newProfileAdapter(disp dispatch.Dispatcher, router *dbusx.Router, bus dbusx.Bus, path dbus.ObjectPath) *profileAdapter {
	pa := &profileAdapter{
		disp:  disp,
		bus:   bus,
		path:  path,
		obj:   bus.Object(busName, path),
		front: network.NewProfile(string(path)),
	}

	pa.subs = append(pa.subs,
		pa.front.RequestUpdate().Subscribe(pa.update),
		pa.front.RequestClearSecrets().Subscribe(func(struct{}) {
			dbusx.Fire(disp, pa.obj, connIface+".ClearSecrets", pa.warn)
		}),
		pa.front.RequestForget().Subscribe(func(struct{}) {
			dbusx.Fire(disp, pa.obj, connIface+".Delete", pa.warn)
		}),
		pa.front.RequestSetWifiPsk().Subscribe(pa.setWifiPsk),
	)

	pa.unsubUpdate = router.Handle(path, connIface+".Updated", func(*dbus.Signal) {
		pa.refetch()
	})
	dbusx.Async(disp, func() (struct{}, error) {
		err := bus.AddMatchSignal(
			dbus.WithMatchObjectPath(path),
			dbus.WithMatchInterface(connIface),
			dbus.WithMatchMember("Updated"),
		)
		return struct{}{}, err
	}, func(_ struct{}, err error) {
		if err != nil {
			pa.warn(err)
		}
	})

	pa.refetch()
	return pa
}

func (pa *profileAdapter) warn(err error) {
	util.WithPath(string(pa.path)).Warnf("connection profile call failed: %v", err)
}

// refetch pulls the settings blob and rederives the id and security
// type. Runs initially and after every remote Updated signal.
func (pa *profileAdapter) refetch() {
	obj := pa.obj
	dbusx.Async(pa.disp, func() (map[string]map[string]dbus.Variant, error) {
		var raw map[string]map[string]dbus.Variant
		err := obj.Call(connIface+".GetSettings", 0).Store(&raw)
		return raw, err
	}, func(raw map[string]map[string]dbus.Variant, err error) {
		if pa.discarded {
			return
		}
		if err != nil {
			pa.warn(err)
			return
		}
		settings := settingsFromWire(raw)
		pa.front.Settings.Set(settings)
		if id, ok := settings["connection"]["id"].(string); ok {
			pa.front.ID.Set(id)
		}
		pa.front.WifiSecurity.Set(securityFromSettings(settings))
		pa.fetchSecrets(settings)
	})
}

// fetchSecrets caches the wifi security secrets when the profile has a
// security section. Failures are expected (policy may forbid reading
// secrets) and only logged at debug level.
func (pa *profileAdapter) fetchSecrets(settings network.SettingsMap) {
	if _, ok := settings[wifiSecuritySection]; !ok {
		return
	}
	obj := pa.obj
	dbusx.Async(pa.disp, func() (map[string]map[string]dbus.Variant, error) {
		var raw map[string]map[string]dbus.Variant
		err := obj.Call(connIface+".GetSecrets", 0, wifiSecuritySection).Store(&raw)
		return raw, err
	}, func(raw map[string]map[string]dbus.Variant, err error) {
		if pa.discarded {
			return
		}
		if err != nil {
			util.WithPath(string(pa.path)).Debugf("secrets unavailable: %v", err)
			return
		}
		pa.front.Secrets.Set(settingsFromWire(raw))
	})
}

// update validates the PSK for PSK-secured profiles and forwards the new
// settings. A malformed PSK is warned about but still forwarded; the
// daemon is authoritative.
func (pa *profileAdapter) update(settings network.SettingsMap) {
	sec := pa.front.WifiSecurity.Get()
	if sec == network.SecurityWpaPsk || sec == network.SecurityWpa2Psk {
		if psk, ok := settings[wifiSecuritySection]["psk"].(string); ok && !ValidWifiPsk(psk) {
			util.WithPath(string(pa.path)).Warnf("malformed PSK in settings update")
		}
	}
	dbusx.Fire(pa.disp, pa.obj, connIface+".Update", pa.warn, settingsToWire(settings))
}

// setWifiPsk builds a settings delta carrying the new PSK and runs it
// through update.
func (pa *profileAdapter) setWifiPsk(psk string) {
	settings := pa.front.Settings.Get().Clone()
	if settings == nil {
		settings = network.SettingsMap{}
	}
	if settings[wifiSecuritySection] == nil {
		settings[wifiSecuritySection] = map[string]interface{}{}
	}
	settings[wifiSecuritySection]["psk"] = psk
	pa.update(settings)
}

func (pa *profileAdapter) discard() {
	if pa.discarded {
		return
	}
	pa.discarded = true
	if pa.unsubUpdate != nil {
		pa.unsubUpdate()
		pa.unsubUpdate = nil
	}
	for _, sub := range pa.subs {
		sub.Cancel()
	}
	pa.subs = nil
}

// ssidScope returns the SSID the profile applies to, or nil for
// profiles that are not wifi-scoped.
func (pa *profileAdapter) ssidScope() []byte {
	settings := pa.front.Settings.Get()
	v, ok := settings["802-11-wireless"]["ssid"]
	if !ok {
		return nil
	}
	switch ssid := v.(type) {
	case []byte:
		return ssid
	case string:
		return []byte(ssid)
	default:
		return nil
	}
}

// settingsFromWire converts the nested variant dict of GetSettings into
// the model settings map.
func settingsFromWire(raw map[string]map[string]dbus.Variant) network.SettingsMap {
	out := make(network.SettingsMap, len(raw))
	for group, kv := range raw {
		g := make(map[string]interface{}, len(kv))
		for k, v := range kv {
			g[k] = v.Value()
		}
		out[group] = g
	}
	return out
}

// settingsToWire converts a model settings map into the a{sa{sv}} shape
// Update expects. Values that already are variants pass through.
func settingsToWire(settings network.SettingsMap) map[string]map[string]dbus.Variant {
	out := make(map[string]map[string]dbus.Variant, len(settings))
	for group, kv := range settings {
		g := make(map[string]dbus.Variant, len(kv))
		for k, v := range kv {
			if variant, ok := v.(dbus.Variant); ok {
				g[k] = variant
			} else {
				g[k] = dbus.MakeVariant(v)
			}
		}
		out[group] = g
	}
	return out
}

// securityFromSettings derives the wifi security type from the key
// management setting.
func securityFromSettings(settings network.SettingsMap) network.WifiSecurity {
	section, ok := settings[wifiSecuritySection]
	if !ok {
		return network.SecurityNone
	}
	keyMgmt, _ := section["key-mgmt"].(string)
	switch keyMgmt {
	case "", "none":
		return network.SecurityNone
	case "wpa-psk":
		// Plain WPA1 profiles pin the proto list to exactly "wpa";
		// everything else negotiates RSN.
		if protos := stringList(section["proto"]); len(protos) == 1 && protos[0] == "wpa" {
			return network.SecurityWpaPsk
		}
		return network.SecurityWpa2Psk
	case "sae":
		return network.SecuritySae
	case "wpa-eap", "wpa-eap-suite-b-192", "ieee8021x":
		return network.SecurityEap
	default:
		util.Warnf("unknown key management %q", keyMgmt)
		return network.SecurityNone
	}
}

func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
