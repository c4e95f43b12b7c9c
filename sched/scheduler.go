package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"scribed/config"
	"scribed/control"
	"scribed/summary"
)

// State is the scheduler's externally visible phase.
type State int

const (
	Idle State = iota
	Waiting
	Firing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Firing:
		return "firing"
	}
	return "unknown"
}

// BuildFunc closes a period: summarize and persist. Implemented by the daemon
// around summary.Builder.
type BuildFunc func(ctx context.Context, start, end time.Time, kind summary.Kind) error

// Settler blocks until in-flight transcriptions drain. Satisfied by
// transcript.Inflight.
type Settler interface {
	Wait(ctx context.Context) error
}

type SchedulerConfig struct {
	// Hourly fires at the top of every hour.
	Hourly bool
	// Daily is the wall-clock boundary of the daily summary.
	Daily config.Clock
	// Settle bounds how long a due fire waits for in-flight transcriptions.
	Settle time.Duration
	// LastFire reports the period end of the most recent persisted summary
	// of kind, so boundaries missed across a restart are caught up. Nil
	// means no history.
	LastFire func(kind summary.Kind) (time.Time, bool)
}

// Scheduler walks Idle -> Waiting(next_fire_time) -> Firing -> Waiting.
// Pauses suspend the timer; on resume, each missed boundary is caught up at
// most once, with contiguous missed hourly boundaries collapsed into a single
// covering fire so a long sleep does not cause a burst of API calls.
type Scheduler struct {
	cfg    SchedulerConfig
	clock  Clock
	plane  *control.Plane
	settle Settler
	build  BuildFunc

	// Timer bookkeeping, owned by the Run goroutine.
	nextHourly time.Time
	nextDaily  time.Time

	mu       sync.Mutex
	state    State
	nextFire time.Time
	catchUp  bool
}

func New(cfg SchedulerConfig, clock Clock, plane *control.Plane, settle Settler, build BuildFunc) *Scheduler {
	if cfg.Settle <= 0 {
		cfg.Settle = 30 * time.Second
	}
	return &Scheduler{
		cfg:    cfg,
		clock:  clock,
		plane:  plane,
		settle: settle,
		build:  build,
	}
}

// State reports the current phase, the next scheduled fire time, and whether
// a catch-up fire is pending or in progress.
func (s *Scheduler) State() (State, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.nextFire, s.catchUp
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Trigger fires a manual one-shot build for [start, end) without touching the
// scheduled timer.
func (s *Scheduler) Trigger(ctx context.Context, start, end time.Time) error {
	return s.fire(ctx, start, end, summary.KindManual)
}

// Run drives the timer until ctx is done or the control plane shuts down.
func (s *Scheduler) Run(ctx context.Context) error {
	now := s.clock.Now()
	s.nextHourly = now.Truncate(time.Hour).Add(time.Hour)
	s.nextDaily = s.cfg.Daily.Next(now)
	s.seedFromHistory()

	for {
		if err := s.plane.Wait(ctx); err != nil {
			if errors.Is(err, control.ErrShutdown) {
				return nil
			}
			return err
		}

		// Close anything that came due while paused or firing.
		if err := s.fireDue(ctx); err != nil {
			return err
		}

		next := s.nextFireTime()
		s.mu.Lock()
		s.state = Waiting
		s.nextFire = next
		s.mu.Unlock()

		select {
		case <-s.clock.After(next.Sub(s.clock.Now())):
		case <-s.plane.Changed():
			// Pause or resume; loop back through the gate.
		case <-s.plane.Done():
			s.setState(Idle)
			return nil
		case <-ctx.Done():
			s.setState(Idle)
			return ctx.Err()
		}
	}
}

// seedFromHistory pulls each boundary back to just after the last persisted
// summary of its kind. Boundaries that elapsed while the process was down
// then come due immediately and go through the same collapsed catch-up fire
// the pause path uses.
func (s *Scheduler) seedFromHistory() {
	if s.cfg.LastFire == nil {
		return
	}
	if s.cfg.Hourly {
		if end, ok := s.cfg.LastFire(summary.KindHourly); ok {
			if next := end.Truncate(time.Hour).Add(time.Hour); next.Before(s.nextHourly) {
				s.nextHourly = next
			}
		}
	}
	if end, ok := s.cfg.LastFire(summary.KindDaily); ok {
		if next := s.cfg.Daily.Next(end); next.Before(s.nextDaily) {
			s.nextDaily = next
		}
	}
}

func (s *Scheduler) nextFireTime() time.Time {
	next := s.nextDaily
	if s.cfg.Hourly && s.nextHourly.Before(next) {
		next = s.nextHourly
	}
	return next
}

// fireDue closes every boundary at or before now. More than one pending
// hourly boundary collapses into one covering fire, issued once.
func (s *Scheduler) fireDue(ctx context.Context) error {
	now := s.clock.Now()

	if s.cfg.Hourly && !s.nextHourly.After(now) {
		start := s.nextHourly.Add(-time.Hour)
		end := s.nextHourly
		catchUp := false
		for !s.nextHourly.Add(time.Hour).After(now) {
			s.nextHourly = s.nextHourly.Add(time.Hour)
			end = s.nextHourly
			catchUp = true
		}
		s.nextHourly = s.nextHourly.Add(time.Hour)

		s.mu.Lock()
		s.catchUp = catchUp
		s.mu.Unlock()
		if err := s.fire(ctx, start, end, summary.KindHourly); err != nil {
			return err
		}
		s.mu.Lock()
		s.catchUp = false
		s.mu.Unlock()
	}

	for !s.nextDaily.After(now) {
		boundary := s.nextDaily
		s.nextDaily = s.nextDaily.AddDate(0, 0, 1)

		s.mu.Lock()
		s.catchUp = !s.nextDaily.After(now)
		s.mu.Unlock()
		if err := s.fire(ctx, boundary.AddDate(0, 0, -1), boundary, summary.KindDaily); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.catchUp = false
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) fire(ctx context.Context, start, end time.Time, kind summary.Kind) error {
	s.setState(Firing)
	defer s.setState(Idle)

	// Settle: let in-flight transcriptions land so the summary covers what
	// was captured inside the period. Bounded; a stuck worker cannot block
	// the boundary forever.
	settleCtx, cancel := context.WithTimeout(ctx, s.cfg.Settle)
	err := s.settle.Wait(settleCtx)
	cancel()
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	if err := s.build(ctx, start, end, kind); err != nil {
		// A failed summary leaves a gap, not a dead scheduler.
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}
