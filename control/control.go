// Package control provides the pause/resume/shutdown token shared by the
// pipeline's long-running tasks. It is passed explicitly to each task rather
// than held as ambient process state, so tests can drive transitions
// deterministically.
package control

import (
	"context"
	"sync"
)

// Plane coordinates pause, resume and shutdown across pipeline tasks.
// The zero value is not usable; call New.
type Plane struct {
	mu      sync.Mutex
	paused  bool
	gate    chan struct{} // closed while running, replaced while paused
	changed chan struct{} // closed and replaced on every transition

	done     chan struct{}
	doneOnce sync.Once
}

func New() *Plane {
	gate := make(chan struct{})
	close(gate)
	return &Plane{
		gate:    gate,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Pause blocks new work from starting. In-flight work is unaffected.
func (p *Plane) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	p.paused = true
	p.gate = make(chan struct{})
	p.notifyLocked()
}

// Resume reopens the gate.
func (p *Plane) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.paused = false
	close(p.gate)
	p.notifyLocked()
}

func (p *Plane) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Plane) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Wait blocks while the plane is paused. It returns nil once running, or the
// context/shutdown error if either fires first.
func (p *Plane) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		gate := p.gate
		p.mu.Unlock()

		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return ErrShutdown
		}
	}
}

// Changed returns a channel closed on the next pause/resume transition.
func (p *Plane) Changed() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changed
}

// Shutdown signals process-wide termination. Idempotent.
func (p *Plane) Shutdown() {
	p.doneOnce.Do(func() { close(p.done) })
}

// Done is closed once Shutdown has been called.
func (p *Plane) Done() <-chan struct{} {
	return p.done
}
