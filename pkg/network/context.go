package network

import (
	"github.com/quartzshell/netmirror/pkg/observe"
)

// ConnectionContext observes connectivity transitions on one network and
// emits one-shot domain events for the attempt outcome. It is the only
// user-creatable object of the model.
type ConnectionContext struct {
	// Network is the currently observed network, nil when detached.
	Network *observe.Value[*Network]

	// Success fires when the network reaches the connected state.
	Success *observe.Signal[struct{}]

	// NoSecrets fires when the daemon reports missing secrets.
	NoSecrets *observe.Signal[struct{}]

	// LoginFailed fires when authentication to the network failed.
	LoginFailed *observe.Signal[struct{}]

	subs []*observe.Subscription
}

// NewConnectionContext creates a detached context.
func NewConnectionContext() *ConnectionContext {
	return &ConnectionContext{
		Network:     observe.NewValue[*Network](nil),
		Success:     observe.NewSignal[struct{}](),
		NoSecrets:   observe.NewSignal[struct{}](),
		LoginFailed: observe.NewSignal[struct{}](),
	}
}

// SetNetwork switches the observed network. Subscriptions on the
// previous network are dropped before the new ones are installed, so no
// stale callback can fire.
func (c *ConnectionContext) SetNetwork(n *Network) {
	if c.Network.Get() == n {
		return
	}
	c.detach()
	c.Network.Set(n)
	if n == nil {
		return
	}

	c.subs = append(c.subs,
		n.State.Subscribe(func(s NetworkState) {
			if s == NetworkStateConnected {
				c.Success.Emit(struct{}{})
			}
		}),
		n.StateReason.Subscribe(func(r StateReason) {
			switch r {
			case ReasonNoSecrets:
				c.NoSecrets.Emit(struct{}{})
			case ReasonLoginFailed:
				c.LoginFailed.Emit(struct{}{})
			}
		}),
	)
}

func (c *ConnectionContext) detach() {
	for _, sub := range c.subs {
		sub.Cancel()
	}
	c.subs = nil
}
