package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is how often tracked notifications are probed.
const DefaultPollInterval = 50 * time.Millisecond

// Prober reports the current state of the elements behind keys.
type Prober interface {
	Probe(ctx context.Context, keys []string) ([]Probe, error)
}

// Settler hands a batch verdict back to the page so rejected elements are
// no longer reported and only tracked ones are kept for probing. Probers
// that also implement Settler receive every non-empty verdict.
type Settler interface {
	Settle(ctx context.Context, v Verdict) error
}

// Observer feeds mutation batches into a State and polls tracked elements
// while there is at least one. Polling stops once the tracked set is empty
// and restarts with the next notification.
type Observer struct {
	state    *State
	prober   Prober
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	polling bool
	cancel  context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewObserver creates an observer. A non-positive interval selects DefaultPollInterval.
func NewObserver(state *State, prober Prober, interval time.Duration, logger *zap.Logger) *Observer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{state: state, prober: prober, interval: interval, logger: logger.Named("notify")}
}

// HandleBatch processes one batch of mutations. Polling runs on a context
// derived from ctx.
func (o *Observer) HandleBatch(ctx context.Context, batch []Mutation) {
	count, verdict := o.state.ApplyBatch(batch)
	if !verdict.Empty() {
		o.settle(ctx, verdict)
	}
	if count > 0 {
		o.ensurePolling(ctx)
	}
}

// settle delivers the verdict off the caller's goroutine: batches arrive on
// the browser event loop, which a page round trip must not block. Rejected
// keys are forgotten once the page holds them.
func (o *Observer) settle(ctx context.Context, v Verdict) {
	settler, ok := o.prober.(Settler)
	if !ok {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := settler.Settle(ctx, v); err != nil {
			if ctx.Err() == nil {
				o.logger.Debug("Notification verdict not delivered.", zap.Error(err))
			}
			return
		}
		o.state.ForgetRejected(v.Reject)
	}()
}

// Polling reports whether the periodic probe is running.
func (o *Observer) Polling() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.polling
}

func (o *Observer) ensurePolling(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.polling {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	o.polling = true
	o.cancel = cancel
	o.wg.Add(1)
	go o.poll(pollCtx)
}

func (o *Observer) poll(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.stop(false)
			return
		case <-ticker.C:
		}

		if keys := o.state.TrackedKeys(); len(keys) > 0 {
			probes, err := o.prober.Probe(ctx, keys)
			if err != nil {
				if ctx.Err() == nil {
					o.logger.Debug("Notification probe failed.", zap.Error(err))
				}
				continue
			}
			o.state.Tick(probes)
		}
		if o.stop(true) {
			return
		}
	}
}

// stop ends polling. With onlyIfIdle it only does so when nothing is
// tracked, under the same lock ensurePolling takes, so a notification
// created concurrently either keeps this loop alive or starts a new one.
func (o *Observer) stop(onlyIfIdle bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if onlyIfIdle && o.state.Len() > 0 {
		return false
	}
	o.polling = false
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	return true
}

// Close stops polling and waits for the poll loop to exit.
func (o *Observer) Close() {
	o.mu.Lock()
	o.closed = true
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}
