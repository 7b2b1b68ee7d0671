package eventlog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/eventlogger/internal/clock"
)

type timerState int

const (
	timerUnscheduled timerState = iota
	timerScheduled
	timerFired
)

func (s timerState) String() string {
	switch s {
	case timerScheduled:
		return "scheduled"
	case timerFired:
		return "fired"
	default:
		return "unscheduled"
	}
}

// waitTimer is a one-shot timer with an explicit state. Each arm bumps gen;
// a callback carrying an older gen is stale and must be ignored.
type waitTimer struct {
	state  timerState
	gen    uint64
	handle clock.Timer
}

func (t *waitTimer) arm(clk clock.Clock, d time.Duration, fire func(gen uint64)) {
	t.disarm()
	t.gen++
	gen := t.gen
	t.state = timerScheduled
	t.handle = clk.AfterFunc(d, func() { fire(gen) })
}

func (t *waitTimer) disarm() {
	if t.state != timerScheduled {
		return
	}
	t.handle.Stop()
	t.handle = nil
	t.state = timerUnscheduled
	t.gen++
}

// take marks a current firing as fired. It reports false for stale firings.
func (t *waitTimer) take(gen uint64) bool {
	if t.state != timerScheduled || t.gen != gen {
		return false
	}
	t.state = timerFired
	t.handle = nil
	return true
}

type timerKind int

const (
	idleTimer timerKind = iota
	deadlineTimer
)

// Wait is the handle of one pending idle wait. Its result channel receives
// exactly one value: nil when the session went idle, or the failure.
type Wait struct {
	started time.Time
	result  chan error
}

// Result delivers the outcome of the wait.
func (w *Wait) Result() <-chan error { return w.result }

// Started returns when the wait began.
func (w *Wait) Started() time.Time { return w.started }

// StartWait begins the race between going idle for MinIdle and the MaxWait
// deadline. The deadline is always armed. If nothing is in flight and the
// session has already been idle longer than MinIdle the wait resolves before
// StartWait returns and no idle timer is scheduled.
func (s *Session) StartWait() (*Wait, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		return nil, ErrWaitInProgress
	}
	now := s.clock.Now()
	w := &Wait{started: now, result: make(chan error, 1)}
	s.pending = w
	s.deadline.arm(s.clock, s.opts.MaxWait, func(gen uint64) { s.tick(deadlineTimer, gen) })

	if len(s.active) == 0 {
		elapsed := now.Sub(s.lastEventTime)
		if elapsed > s.opts.MinIdle {
			s.logger.Debug("Already idle, resolving wait immediately.", zap.Duration("idle", elapsed))
			s.resolveLocked(nil)
			return w, nil
		}
		s.idle.arm(s.clock, s.opts.MinIdle-elapsed, func(gen uint64) { s.tick(idleTimer, gen) })
	}
	s.logger.Debug("Wait started.", zap.Int("active", len(s.active)))
	return w, nil
}

// notifyActivityChangedLocked keeps the idle timer in step with the active
// set: any in-flight request cancels it, and an empty set with a pending
// wait restarts it for a full MinIdle.
func (s *Session) notifyActivityChangedLocked() {
	if len(s.active) > 0 {
		s.idle.disarm()
		return
	}
	if s.pending != nil {
		s.idle.arm(s.clock, s.opts.MinIdle, func(gen uint64) { s.tick(idleTimer, gen) })
	}
}

// tick handles a timer callback. Late or cancelled firings are no-ops.
func (s *Session) tick(kind timerKind, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case idleTimer:
		if !s.idle.take(gen) {
			return
		}
		s.resolveLocked(nil)
	case deadlineTimer:
		if !s.deadline.take(gen) {
			return
		}
		s.resolveLocked(&DeadlineExceededError{Outstanding: s.activeLocked(), MaxWait: s.opts.MaxWait})
	}
}

// resolveLocked completes the pending wait and cancels both timers.
func (s *Session) resolveLocked(err error) {
	w := s.pending
	if w == nil {
		return
	}
	s.pending = nil
	s.idle.disarm()
	s.deadline.disarm()
	w.result <- err
}

// abandon drops w if it is still pending, cancelling its timers.
func (s *Session) abandon(w *Wait) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != w {
		return
	}
	s.pending = nil
	s.idle.disarm()
	s.deadline.disarm()
}

// WaitForIdle blocks until the session has been idle for MinIdle or MaxWait
// has passed since the call. A deadline failure is a *DeadlineExceededError.
// If ctx ends first the wait is abandoned and ctx.Err() is returned.
func (s *Session) WaitForIdle(ctx context.Context) error {
	w, err := s.StartWait()
	if err != nil {
		return err
	}
	select {
	case err := <-w.Result():
		return err
	case <-ctx.Done():
		s.abandon(w)
		select {
		case err := <-w.Result():
			return err
		default:
			return ctx.Err()
		}
	}
}
