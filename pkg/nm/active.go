package nm

import (
	"github.com/godbus/dbus/v5"

	"github.com/quartzshell/netmirror/pkg/dbusx"
	"github.com/quartzshell/netmirror/pkg/dispatch"
	"github.com/quartzshell/netmirror/pkg/network"
	"github.com/quartzshell/netmirror/pkg/observe"
	"github.com/quartzshell/netmirror/pkg/util"
)

// activeEvent is one state transition of an active connection, with the
// best-known reason.
type activeEvent struct {
	State  uint32
	Reason network.StateReason
}

// activeConn mirrors one org.freedesktop.NetworkManager.Connection.Active
// object: the live attempt binding a profile to a device. State arrives
// both as a property and through the StateChanged signal; only the
// signal carries the transition reason, so it is folded into the cell
// flow before the event fires.
type activeConn struct {
	path dbus.ObjectPath

	state          *observe.Value[uint32]
	connectionPath *observe.Value[dbus.ObjectPath]
	specificObject *observe.Value[dbus.ObjectPath]
	stateChanged   *observe.Signal[activeEvent]
	lastReason     network.StateReason

	group      *dbusx.Group
	unsubState func()
	discarded  bool
}

func newActiveConn(disp dispatch.Dispatcher, router *dbusx.Router, bus dbusx.Bus, path dbus.ObjectPath) *activeConn {
	ac := &activeConn{
		path:           path,
		state:          observe.NewValue(activeStateUnknown),
		connectionPath: observe.NewValue(dbus.ObjectPath("")),
		specificObject: observe.NewValue(dbus.ObjectPath("")),
		stateChanged:   observe.NewSignal[activeEvent](),
	}
	ac.state.Subscribe(func(s uint32) {
		ac.stateChanged.Emit(activeEvent{State: s, Reason: ac.lastReason})
	})

	ac.group = dbusx.NewGroup(disp, router, activeIface,
		dbusx.Bind("State", ac.state, dbusx.AsUint32),
		dbusx.Bind("Connection", ac.connectionPath, dbusx.AsObjectPath),
		dbusx.Bind("SpecificObject", ac.specificObject, dbusx.AsObjectPath),
	)
	ac.group.Attach(bus.Object(busName, path))

	ac.unsubState = router.Handle(path, activeIface+".StateChanged", func(sig *dbus.Signal) {
		if ac.discarded || len(sig.Body) < 2 {
			return
		}
		state, okState := sig.Body[0].(uint32)
		reason, okReason := sig.Body[1].(uint32)
		if !okState || !okReason {
			return
		}
		ac.lastReason = network.StateReason(reason)
		if ac.state.Get() == state {
			// Same state, new reason: the event still matters.
			ac.stateChanged.Emit(activeEvent{State: state, Reason: ac.lastReason})
		} else {
			ac.state.Set(state)
		}
	})
	dbusx.Async(disp, func() (struct{}, error) {
		err := bus.AddMatchSignal(
			dbus.WithMatchObjectPath(path),
			dbus.WithMatchInterface(activeIface),
			dbus.WithMatchMember("StateChanged"),
		)
		return struct{}{}, err
	}, func(_ struct{}, err error) {
		if err != nil {
			util.WithPath(string(path)).Warnf("active connection match failed: %v", err)
		}
	})

	return ac
}

func (ac *activeConn) discard() {
	if ac.discarded {
		return
	}
	ac.discarded = true
	if ac.unsubState != nil {
		ac.unsubState()
		ac.unsubState = nil
	}
	ac.group.Detach()
}
