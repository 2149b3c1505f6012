package nm

import (
	"bytes"

	"github.com/godbus/dbus/v5"

	"github.com/quartzshell/netmirror/pkg/dbusx"
	"github.com/quartzshell/netmirror/pkg/dispatch"
	"github.com/quartzshell/netmirror/pkg/observe"
)

// accessPoint mirrors one org.freedesktop.NetworkManager.AccessPoint
// object. It holds no references to networks; the aggregator observes it.
type accessPoint struct {
	path dbus.ObjectPath

	ssid     *observe.Value[[]byte]
	strength *observe.Value[byte]
	flags    *observe.Value[uint32]
	wpaFlags *observe.Value[uint32]
	rsnFlags *observe.Value[uint32]

	group     *dbusx.Group
	discarded bool
}

func newAccessPoint(disp dispatch.Dispatcher, router *dbusx.Router, path dbus.ObjectPath) *accessPoint {
	ap := &accessPoint{
		path:     path,
		ssid:     observe.NewValueFunc([]byte(nil), bytes.Equal),
		strength: observe.NewValue[byte](0),
		flags:    observe.NewValue[uint32](0),
		wpaFlags: observe.NewValue[uint32](0),
		rsnFlags: observe.NewValue[uint32](0),
	}
	ap.group = dbusx.NewGroup(disp, router, apIface,
		dbusx.Bind("Ssid", ap.ssid, dbusx.AsBytes),
		dbusx.Bind("Strength", ap.strength, dbusx.AsByte),
		dbusx.Bind("Flags", ap.flags, dbusx.AsUint32),
		dbusx.Bind("WpaFlags", ap.wpaFlags, dbusx.AsUint32),
		dbusx.Bind("RsnFlags", ap.rsnFlags, dbusx.AsUint32),
	)
	return ap
}

// attach starts mirroring and reports the initial fetch outcome.
func (ap *accessPoint) attach(bus dbusx.Bus, done func(error)) {
	ap.group.AttachWait(bus.Object(busName, ap.path), done)
}

func (ap *accessPoint) discard() {
	if ap.discarded {
		return
	}
	ap.discarded = true
	ap.group.Detach()
}
