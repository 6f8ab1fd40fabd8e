package status

import (
	"context"
	"sync"
)

// Gate blocks callers of Wait while paused. The zero value is not usable;
// create one with NewGate.
type Gate struct {
	mu     sync.Mutex
	paused bool
	open   chan struct{}
}

// NewGate returns an open gate.
func NewGate() *Gate {
	ch := make(chan struct{})
	close(ch)
	return &Gate{open: ch}
}

// Pause closes the gate when pause is true and reopens it otherwise.
// Repeated calls with the same value are no-ops.
func (g *Gate) Pause(pause bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if pause == g.paused {
		return
	}
	g.paused = pause
	if pause {
		g.open = make(chan struct{})
		return
	}
	close(g.open)
}

// Paused reports whether the gate is closed.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait returns once the gate is open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.open
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
