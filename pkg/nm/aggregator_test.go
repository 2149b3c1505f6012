package nm

import (
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/quartzshell/netmirror/internal/testutil"
	"github.com/quartzshell/netmirror/pkg/dbusx"
	"github.com/quartzshell/netmirror/pkg/network"
)

// testAp builds an unattached access point adapter with its cells
// pre-seeded; the aggregator never touches the bus.
func testAp(t *testing.T, path string, ssid string, strength byte) *accessPoint {
	t.Helper()
	d := testutil.NewDispatcher()
	router := dbusx.NewRouter(d, testutil.NewFakeBus())
	t.Cleanup(router.Close)
	ap := newAccessPoint(d, router, dbus.ObjectPath(path))
	ap.ssid.Set([]byte(ssid))
	ap.strength.Set(strength)
	return ap
}

func testAggregator() (*aggregator, *network.WirelessDevice) {
	front := network.NewWirelessDevice("/d/1").Wireless()
	return newAggregator(front), front
}

func TestAggregatorGroupsBySsid(t *testing.T) {
	agg, front := testAggregator()

	agg.addAp(testAp(t, "/ap/1", "CafeWifi", 40))
	agg.addAp(testAp(t, "/ap/2", "CafeWifi", 72))
	agg.addAp(testAp(t, "/ap/3", "HomeNet", 55))

	if front.Networks.Len() != 2 {
		t.Fatalf("networks = %d, want 2", front.Networks.Len())
	}
	cafe := agg.bySsid("CafeWifi")
	home := agg.bySsid("HomeNet")
	if cafe == nil || home == nil {
		t.Fatal("expected CafeWifi and HomeNet networks")
	}
	if cafe.Signal.Get() != 72 {
		t.Errorf("CafeWifi signal = %d, want 72 (max of members)", cafe.Signal.Get())
	}
	if home.Signal.Get() != 55 {
		t.Errorf("HomeNet signal = %d, want 55", home.Signal.Get())
	}
}

func TestAggregatorIgnoresHiddenAps(t *testing.T) {
	agg, front := testAggregator()

	agg.addAp(testAp(t, "/ap/1", "", 80))

	if front.Networks.Len() != 0 {
		t.Error("hidden access point must not create a network")
	}
}

func TestAggregatorHiddenApBecomesVisible(t *testing.T) {
	agg, front := testAggregator()

	ap := testAp(t, "/ap/1", "", 80)
	agg.addAp(ap)
	if front.Networks.Len() != 0 {
		t.Fatal("hidden access point must not create a network")
	}

	// The SSID materializes on a later property update.
	ap.ssid.Set([]byte("Revealed"))
	agg.onSsidChanged(ap)

	if front.Networks.Len() != 1 {
		t.Fatal("network should materialize at SSID-change time")
	}
	if agg.bySsid("Revealed") == nil {
		t.Error("expected Revealed network")
	}
}

func TestAggregatorSsidMove(t *testing.T) {
	agg, front := testAggregator()

	ap1 := testAp(t, "/ap/1", "A", 40)
	ap2 := testAp(t, "/ap/2", "A", 60)
	agg.addAp(ap1)
	agg.addAp(ap2)

	var removed []string
	front.Networks.Removed().Subscribe(func(n *network.Network) {
		removed = append(removed, n.Name())
	})

	// ap1 moves to SSID B: A keeps ap2 and survives.
	ap1.ssid.Set([]byte("B"))
	agg.onSsidChanged(ap1)

	if agg.bySsid("A") == nil || agg.bySsid("B") == nil {
		t.Fatal("both networks should exist after a partial move")
	}
	if agg.bySsid("A").Signal.Get() != 60 {
		t.Errorf("A signal = %d, want 60 after losing the 40 member", agg.bySsid("A").Signal.Get())
	}

	// ap2 moves as well: A is now empty and is destroyed.
	ap2.ssid.Set([]byte("B"))
	agg.onSsidChanged(ap2)

	if agg.bySsid("A") != nil {
		t.Error("network A should be destroyed once empty")
	}
	if len(removed) != 1 || removed[0] != "A" {
		t.Errorf("removed networks = %v, want [A]", removed)
	}
	if agg.bySsid("B").Signal.Get() != 60 {
		t.Errorf("B signal = %d, want 60", agg.bySsid("B").Signal.Get())
	}
}

func TestAggregatorMembershipRoundTrip(t *testing.T) {
	agg, front := testAggregator()

	ap := testAp(t, "/ap/1", "Solo", 50)
	agg.addAp(ap)
	agg.removeAp(ap)

	if front.Networks.Len() != 0 {
		t.Error("add then remove should leave no orphan network")
	}
	if len(agg.apSsid) != 0 || len(agg.groups) != 0 || len(agg.networks) != 0 {
		t.Error("aggregator state should return to pre-call shape")
	}

	// Idempotence: removing again is a no-op.
	agg.removeAp(ap)
}

func TestAggregatorConnectedFollowsActiveAp(t *testing.T) {
	agg, _ := testAggregator()

	ap1 := testAp(t, "/ap/1", "CafeWifi", 40)
	ap2 := testAp(t, "/ap/2", "CafeWifi", 72)
	ap3 := testAp(t, "/ap/3", "HomeNet", 55)
	agg.addAp(ap1)
	agg.addAp(ap2)
	agg.addAp(ap3)

	agg.setActiveAp("/ap/2")

	if !agg.bySsid("CafeWifi").Connected.Get() {
		t.Error("CafeWifi should be connected")
	}
	if agg.bySsid("HomeNet").Connected.Get() {
		t.Error("HomeNet should not be connected")
	}

	// At most one network per device is connected.
	connected := 0
	for _, n := range agg.all() {
		if n.Connected.Get() {
			connected++
		}
	}
	if connected != 1 {
		t.Errorf("connected networks = %d, want 1", connected)
	}

	agg.setActiveAp("/ap/3")
	if agg.bySsid("CafeWifi").Connected.Get() || !agg.bySsid("HomeNet").Connected.Get() {
		t.Error("connected flag should move with the active access point")
	}
}

func TestAggregatorActiveApBeforeRegistration(t *testing.T) {
	agg, _ := testAggregator()

	// The active AP path arrives before the AP itself.
	agg.setActiveAp("/ap/9")

	ap := testAp(t, "/ap/9", "LateNet", 33)
	agg.addAp(ap)

	if !agg.bySsid("LateNet").Connected.Get() {
		t.Error("connected should flip on when the active AP registers late")
	}
}

func TestAggregatorActiveApMovesSsid(t *testing.T) {
	agg, _ := testAggregator()

	active := testAp(t, "/ap/1", "A", 40)
	other := testAp(t, "/ap/2", "A", 60)
	agg.addAp(active)
	agg.addAp(other)
	agg.setActiveAp("/ap/1")

	if !agg.bySsid("A").Connected.Get() {
		t.Fatal("A should be connected")
	}

	// The active AP regroups under B; A survives with the other member
	// but is no longer the connected network.
	active.ssid.Set([]byte("B"))
	agg.onSsidChanged(active)

	if agg.bySsid("A").Connected.Get() {
		t.Error("A must lose connected when the active AP leaves it")
	}
	if !agg.bySsid("B").Connected.Get() {
		t.Error("B should be connected after the active AP joins it")
	}
}

func TestAggregatorStrengthUpdates(t *testing.T) {
	agg, _ := testAggregator()

	ap1 := testAp(t, "/ap/1", "N", 40)
	ap2 := testAp(t, "/ap/2", "N", 70)
	agg.addAp(ap1)
	agg.addAp(ap2)

	ap2.strength.Set(30)
	agg.onStrengthChanged(ap2)

	if got := agg.bySsid("N").Signal.Get(); got != 40 {
		t.Errorf("signal = %d, want 40 after the strongest member weakened", got)
	}
}

func TestAggregatorAddIsIdempotent(t *testing.T) {
	agg, front := testAggregator()

	ap := testAp(t, "/ap/1", "N", 40)
	agg.addAp(ap)
	agg.addAp(ap)

	if front.Networks.Len() != 1 {
		t.Errorf("networks = %d, want 1", front.Networks.Len())
	}
	if len(agg.groups["N"].aps) != 1 {
		t.Errorf("group members = %d, want 1", len(agg.groups["N"].aps))
	}
}
