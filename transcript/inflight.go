package transcript

import (
	"context"
	"sync"
)

// Inflight counts transcriptions that have been dequeued but not yet appended
// or dead-lettered. The scheduler uses it as a settling barrier so a summary
// covers work that was already captured when its period closed.
type Inflight struct {
	mu      sync.Mutex
	count   int
	settled chan struct{} // closed while count == 0
}

func NewInflight() *Inflight {
	settled := make(chan struct{})
	close(settled)
	return &Inflight{settled: settled}
}

func (f *Inflight) Add() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.count == 0 {
		f.settled = make(chan struct{})
	}
	f.count++
}

func (f *Inflight) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.count == 0 {
		panic("transcript: Inflight.Done without Add")
	}
	f.count--
	if f.count == 0 {
		close(f.settled)
	}
}

func (f *Inflight) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Wait blocks until no transcriptions are in flight or ctx is done. The ctx
// error is returned on timeout so callers can proceed with what they have.
func (f *Inflight) Wait(ctx context.Context) error {
	for {
		f.mu.Lock()
		settled := f.settled
		f.mu.Unlock()
		select {
		case <-settled:
			// Re-check: a new Add may have raced the wakeup.
			f.mu.Lock()
			clear := f.count == 0
			f.mu.Unlock()
			if clear {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
