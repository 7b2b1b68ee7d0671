package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/eventlogger/api/schemas"
	"github.com/xkilldash9x/eventlogger/internal/clock"
	"github.com/xkilldash9x/eventlogger/internal/observability"
)

// Recorder is the entry point a test runner talks to for one browser context.
type Recorder struct {
	clock  clock.Clock
	logger *zap.Logger
	alerts AlertLocator

	mu      sync.Mutex
	session *Session
}

// NewRecorder creates a recorder. alerts may be nil when no alert check is used.
func NewRecorder(logger *zap.Logger, clk clock.Clock, alerts AlertLocator) *Recorder {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{clock: clk, logger: logger.Named("recorder"), alerts: alerts}
}

// Init creates the session. A second call fails with ErrAlreadyInitialized
// and leaves the existing session untouched.
func (r *Recorder) Init(opts Options) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return nil, ErrAlreadyInitialized
	}
	r.session = NewSession(opts, r.clock, r.logger)
	r.logger.Info("Event logger initialized.",
		zap.String("session_id", r.session.ID),
		zap.Duration("max_wait", r.session.opts.MaxWait),
		zap.Duration("min_idle", r.session.opts.MinIdle))
	return r.session, nil
}

// Session returns the current session, or nil before Init.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// WaitForEvents runs the alert check, waits for the session to go idle and
// runs the alert check again. Any failure is appended to the log as an
// ERROR console entry before it is returned.
func (r *Recorder) WaitForEvents(ctx context.Context) error {
	s := r.Session()
	if s == nil {
		return ErrNotInitialized
	}
	start := r.clock.Now()

	err := r.waitForEvents(ctx, s)
	elapsed := r.clock.Now().Sub(start)
	if err != nil {
		observability.RecordWait(waitResult(err), elapsed)
		s.OnConsoleMessage(schemas.SeverityError, err.Error())
		r.logger.Warn("Wait for events failed.", zap.Error(err), zap.Duration("elapsed", elapsed))
		return err
	}

	observability.RecordWait(observability.WaitIdle, elapsed)
	s.OnConsoleMessage(schemas.SeverityInfo, fmt.Sprintf("Wait satisfied in %d ms", elapsed.Milliseconds()))
	return nil
}

func (r *Recorder) waitForEvents(ctx context.Context, s *Session) error {
	opts := s.Options()
	if err := CheckAlerts(ctx, r.alerts, opts.AlertLocator, opts.AlertTimeout); err != nil {
		return err
	}
	if err := s.WaitForIdle(ctx); err != nil {
		return err
	}
	return CheckAlerts(ctx, r.alerts, opts.AlertLocator, opts.AlertTimeout)
}

func waitResult(err error) string {
	var deadline *DeadlineExceededError
	var assertion *AssertionError
	switch {
	case errors.As(err, &deadline):
		return observability.WaitDeadline
	case errors.As(err, &assertion):
		return observability.WaitAssertion
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return observability.WaitCancelled
	default:
		return observability.WaitError
	}
}

// ReportEvents returns the event log, or nil if Init was never called.
func (r *Recorder) ReportEvents() []schemas.EventRecord {
	s := r.Session()
	if s == nil {
		return nil
	}
	return s.Records()
}
