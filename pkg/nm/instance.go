package nm

import (
	"context"
	"sync"

	"github.com/quartzshell/netmirror/pkg/dbusx"
	"github.com/quartzshell/netmirror/pkg/dispatch"
	"github.com/quartzshell/netmirror/pkg/network"
	"github.com/quartzshell/netmirror/pkg/util"
)

// Service bundles a dispatch loop with the backend running on it. It is
// the embedding entry point: construct once, observe the model, close at
// exit.
type Service struct {
	loop    *dispatch.Loop
	backend *Backend
	bus     dbusx.Bus
	cancel  context.CancelFunc
}

var (
	instanceMu sync.Mutex
	instance   *Service
)

// Instance returns the process-wide service, constructing it on first
// observation. If the system bus is unavailable the service exists but
// stays inert with an empty model. Re-initialization after Close is not
// supported.
func Instance() *Service {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		bus, err := dbusx.System()
		if err != nil {
			util.Warnf("could not connect to system bus: %v", err)
			instance = NewService(nil)
		} else {
			instance = NewService(bus)
		}
	}
	return instance
}

// NewService starts a dispatch loop and a backend over bus. A nil bus
// yields an inert service. Embedders that manage their own loop use
// nm.New directly instead.
func NewService(bus dbusx.Bus) *Service {
	loop := dispatch.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	s := &Service{loop: loop, bus: bus, cancel: cancel}
	loop.Sync(func() {
		s.backend = New(loop, bus)
		s.backend.Start()
	})
	return s
}

// Sync runs fn on the dispatch loop with the model and waits for it.
// This is how non-loop goroutines (such as a CLI) read or drive the
// mirror. Returns false once the service is closed.
func (s *Service) Sync(fn func(*network.Networking)) bool {
	return s.loop.Sync(func() { fn(s.backend.Model()) })
}

// Backend exposes the backend for state inspection.
func (s *Service) Backend() *Backend { return s.backend }

// Close stops the backend and the loop. Outstanding continuations are
// dropped.
func (s *Service) Close() {
	s.loop.Sync(func() { s.backend.Stop() })
	s.cancel()
	s.loop.Stop()
	if s.bus != nil {
		s.bus.Close()
	}
}
