package nm

import (
	"github.com/quartzshell/netmirror/pkg/network"
)

// Raw NetworkManager device states (NMDeviceState).
const (
	devStateUnknown      uint32 = 0
	devStateUnmanaged    uint32 = 10
	devStateUnavailable  uint32 = 20
	devStateDisconnected uint32 = 30
	devStatePrepare      uint32 = 40
	devStateConfig       uint32 = 50
	devStateNeedAuth     uint32 = 60
	devStateIPConfig     uint32 = 70
	devStateIPCheck      uint32 = 80
	devStateSecondaries  uint32 = 90
	devStateActivated    uint32 = 100
	devStateDeactivating uint32 = 110
	devStateFailed       uint32 = 120
)

// Raw NetworkManager device types (NMDeviceType). Only wifi is
// distinguished in the abstract model; the rest are listed so logs can
// name them.
const (
	devTypeUnknown   uint32 = 0
	devTypeEthernet  uint32 = 1
	devTypeWifi      uint32 = 2
	devTypeBluetooth uint32 = 5
	devTypeModem     uint32 = 8
	devTypeBond      uint32 = 10
	devTypeVlan      uint32 = 11
	devTypeBridge    uint32 = 13
	devTypeGeneric   uint32 = 14
	devTypeTun       uint32 = 16
	devTypeVeth      uint32 = 20
	devTypeWireGuard uint32 = 29
	devTypeLoopback  uint32 = 32
)

// Raw active connection states (NMActiveConnectionState).
const (
	activeStateUnknown      uint32 = 0
	activeStateActivating   uint32 = 1
	activeStateActivated    uint32 = 2
	activeStateDeactivating uint32 = 3
	activeStateDeactivated  uint32 = 4
)

// 802.11 access point flags (NM80211ApFlags).
const (
	ApFlagNone    uint32 = 0
	ApFlagPrivacy uint32 = 1
	ApFlagWps     uint32 = 2
	ApFlagWpsPbc  uint32 = 4
	ApFlagWpsPin  uint32 = 8
)

// 802.11 access point security flags (NM80211ApSecurityFlags).
const (
	ApSecNone                uint32 = 0
	ApSecPairWep40           uint32 = 1
	ApSecPairWep104          uint32 = 2
	ApSecPairTkip            uint32 = 4
	ApSecPairCcmp            uint32 = 8
	ApSecGroupWep40          uint32 = 16
	ApSecGroupWep104         uint32 = 32
	ApSecGroupTkip           uint32 = 64
	ApSecGroupCcmp           uint32 = 128
	ApSecKeyMgmtPsk          uint32 = 256
	ApSecKeyMgmt8021x        uint32 = 512
	ApSecKeyMgmtSae          uint32 = 1024
	ApSecKeyMgmtOwe          uint32 = 2048
	ApSecKeyMgmtOweTm        uint32 = 4096
	ApSecKeyMgmtEapSuiteB192 uint32 = 8192
)

// translateDeviceState maps a raw device state to the abstract state.
// The raw Failed state folds into Disconnecting at device level; the
// failure itself surfaces through the owning network's state reason.
func translateDeviceState(raw uint32) network.DeviceState {
	switch {
	case raw <= devStateUnavailable:
		return network.DeviceStateUnknown
	case raw == devStateDisconnected:
		return network.DeviceStateDisconnected
	case raw >= devStatePrepare && raw <= devStateSecondaries:
		return network.DeviceStateConnecting
	case raw == devStateActivated:
		return network.DeviceStateConnected
	case raw == devStateDeactivating || raw == devStateFailed:
		return network.DeviceStateDisconnecting
	default:
		return network.DeviceStateUnknown
	}
}

// failureReason reports whether an active connection deactivated because
// of a failure rather than an orderly teardown.
func failureReason(reason network.StateReason) bool {
	switch reason {
	case network.ReasonIPConfigInvalid,
		network.ReasonConnectTimeout,
		network.ReasonServiceStartTimeout,
		network.ReasonServiceStartFailed,
		network.ReasonNoSecrets,
		network.ReasonLoginFailed,
		network.ReasonDependencyFailed,
		network.ReasonDeviceRealizeFailed:
		return true
	default:
		return false
	}
}

// translateActiveState maps an active connection state transition to the
// abstract network state. A deactivation caused by a failure reason is
// exposed as Failed rather than Disconnected.
func translateActiveState(state uint32, reason network.StateReason) network.NetworkState {
	switch state {
	case activeStateActivating:
		return network.NetworkStateConnecting
	case activeStateActivated:
		return network.NetworkStateConnected
	case activeStateDeactivating:
		return network.NetworkStateDisconnecting
	case activeStateDeactivated:
		if failureReason(reason) {
			return network.NetworkStateFailed
		}
		return network.NetworkStateDisconnected
	default:
		return network.NetworkStateUnknown
	}
}

// deviceTypeName names a raw device type for diagnostics.
func deviceTypeName(raw uint32) string {
	switch raw {
	case devTypeEthernet:
		return "ethernet"
	case devTypeWifi:
		return "wifi"
	case devTypeBluetooth:
		return "bluetooth"
	case devTypeModem:
		return "modem"
	case devTypeBond:
		return "bond"
	case devTypeVlan:
		return "vlan"
	case devTypeBridge:
		return "bridge"
	case devTypeGeneric:
		return "generic"
	case devTypeTun:
		return "tun"
	case devTypeVeth:
		return "veth"
	case devTypeWireGuard:
		return "wireguard"
	case devTypeLoopback:
		return "loopback"
	default:
		return "other"
	}
}
