package nm

import (
	"github.com/godbus/dbus/v5"

	"github.com/quartzshell/netmirror/pkg/network"
	"github.com/quartzshell/netmirror/pkg/util"
)

// apGroup owns the access points sharing one SSID.
type apGroup struct {
	aps []*accessPoint
}

func (g *apGroup) add(ap *accessPoint) {
	for _, existing := range g.aps {
		if existing == ap {
			return
		}
	}
	g.aps = append(g.aps, ap)
}

func (g *apGroup) remove(ap *accessPoint) {
	for i, existing := range g.aps {
		if existing == ap {
			g.aps = append(g.aps[:i], g.aps[i+1:]...)
			return
		}
	}
}

func (g *apGroup) empty() bool { return len(g.aps) == 0 }

func (g *apGroup) maxSignal() byte {
	var max byte
	for _, ap := range g.aps {
		if s := ap.strength.Get(); s > max {
			max = s
		}
	}
	return max
}

// aggregator maintains, for one wireless device, the derived SSID to
// network table: membership, max signal strength, and the connected
// flag. All operations are idempotent and run on the dispatch loop.
type aggregator struct {
	front *network.WirelessDevice

	apSsid   map[dbus.ObjectPath]string
	groups   map[string]*apGroup
	networks map[string]*network.Network

	activeAp dbus.ObjectPath

	// networkAdded lets the owning device wire command routing and
	// re-route profiles when a network materializes.
	networkAdded func(n *network.Network)
}

func newAggregator(front *network.WirelessDevice) *aggregator {
	return &aggregator{
		front:    front,
		apSsid:   make(map[dbus.ObjectPath]string),
		groups:   make(map[string]*apGroup),
		networks: make(map[string]*network.Network),
	}
}

// addAp groups ap under its current SSID, creating the network when the
// first access point for that SSID appears. Hidden access points (empty
// SSID) are never members of any network.
func (a *aggregator) addAp(ap *accessPoint) {
	ssid := string(ap.ssid.Get())

	// Drop any prior grouping first; an SSID change arrives here.
	if prior, ok := a.apSsid[ap.path]; ok {
		if prior == ssid {
			a.refreshSignal(ssid)
			return
		}
		a.removeFromGroup(ap, prior)
	}

	if ssid == "" {
		return
	}

	group, ok := a.groups[ssid]
	if !ok {
		group = &apGroup{}
		a.groups[ssid] = group

		n := network.NewNetwork(ap.ssid.Get())
		// The default profile selection stays local state; applying
		// the validated request is all that is needed.
		n.RequestSetDefaultProfile().Subscribe(func(p *network.Profile) {
			n.DefaultProfile.Set(p)
		})
		a.networks[ssid] = n
		a.front.Networks.Insert(n)
		if a.networkAdded != nil {
			a.networkAdded(n)
		}
		util.WithNetwork(n.Name()).Debugf("network added")
	}

	group.add(ap)
	a.apSsid[ap.path] = ssid
	a.refreshSignal(ssid)
	a.applyConnected()
}

// removeAp drops ap from its group, destroying the network once its
// last access point disappears.
func (a *aggregator) removeAp(ap *accessPoint) {
	ssid, ok := a.apSsid[ap.path]
	if !ok {
		return
	}
	delete(a.apSsid, ap.path)
	a.removeFromGroup(ap, ssid)
}

func (a *aggregator) removeFromGroup(ap *accessPoint, ssid string) {
	delete(a.apSsid, ap.path)
	group, ok := a.groups[ssid]
	if !ok {
		return
	}
	group.remove(ap)
	if group.empty() {
		delete(a.groups, ssid)
		if n, ok := a.networks[ssid]; ok {
			delete(a.networks, ssid)
			a.front.Networks.Remove(n)
			util.WithNetwork(n.Name()).Debugf("network removed")
		}
	} else {
		a.refreshSignal(ssid)
	}
	a.applyConnected()
}

// onSsidChanged regroups an access point whose SSID moved.
func (a *aggregator) onSsidChanged(ap *accessPoint) {
	a.addAp(ap)
}

// onStrengthChanged refreshes the max signal of the group owning ap.
func (a *aggregator) onStrengthChanged(ap *accessPoint) {
	if ssid, ok := a.apSsid[ap.path]; ok {
		a.refreshSignal(ssid)
	}
}

func (a *aggregator) refreshSignal(ssid string) {
	group, ok := a.groups[ssid]
	if !ok {
		return
	}
	if n, ok := a.networks[ssid]; ok {
		n.Signal.Set(group.maxSignal())
	}
}

// setActiveAp moves the connected flag to the network owning the new
// active access point. When the access point is not registered yet, the
// path is remembered and the flag applied once it appears.
func (a *aggregator) setActiveAp(path dbus.ObjectPath) {
	a.activeAp = path
	a.applyConnected()
}

// applyConnected reestablishes the connected flag from the current
// membership: a network is connected iff it owns the active access
// point, so at most one network is ever connected.
func (a *aggregator) applyConnected() {
	activeSsid, haveActive := a.apSsid[a.activeAp]
	for ssid, n := range a.networks {
		n.Connected.Set(haveActive && ssid == activeSsid)
	}
}

// bySsid returns the network grouped under ssid, or nil.
func (a *aggregator) bySsid(ssid string) *network.Network {
	return a.networks[ssid]
}

// all returns the current SSID to network table.
func (a *aggregator) all() map[string]*network.Network {
	return a.networks
}
