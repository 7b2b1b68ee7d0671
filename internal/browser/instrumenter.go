// internal/browser/instrumenter.go
package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eventlogger/api/schemas"
	"github.com/xkilldash9x/eventlogger/internal/clock"
	"github.com/xkilldash9x/eventlogger/internal/eventlog"
	"github.com/xkilldash9x/eventlogger/internal/notify"
)

const (
	mutationBinding = "__eventlogMutations"
	probeFunction   = "__eventlogProbe"
	settleFunction  = "__eventlogSettle"

	defaultBodyFetchTimeout = 5 * time.Second
)

//go:embed assets/observer.js
var observerTemplate string

// observerScript is installed in every document of the instrumented tab.
var observerScript = strings.NewReplacer(
	"__BINDING__", mutationBinding,
	"__PROBE__", probeFunction,
	"__SETTLE__", settleFunction,
).Replace(observerTemplate)

// Settings tune an Instrumenter beyond the session options.
type Settings struct {
	// BodyFetchTimeout bounds each response body retrieval.
	BodyFetchTimeout time.Duration
	// PollInterval is how often tracked notifications are probed.
	PollInterval time.Duration
	Clock        clock.Clock
}

// Instrumenter attaches the event logger to one chromedp tab. It forwards
// network, console and runtime events into the session and routes page
// notifications through a notify.Observer.
type Instrumenter struct {
	ctx      context.Context
	logger   *zap.Logger
	settings Settings

	recorder *eventlog.Recorder
	state    *notify.State
	observer *notify.Observer

	// fetchBody retrieves a response body and instrument prepares the tab.
	// Both are swapped out in tests.
	fetchBody  func(ctx context.Context, id network.RequestID) ([]byte, error)
	instrument func(ctx context.Context) error

	initMu    sync.Mutex
	listening bool

	mu       sync.Mutex
	requests map[network.RequestID]*inflight
	closed   bool

	bodyWG sync.WaitGroup
}

// NewInstrumenter prepares an instrumenter for the tab behind ctx. Nothing is
// sent to the browser until Init.
func NewInstrumenter(ctx context.Context, logger *zap.Logger, settings Settings) *Instrumenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.BodyFetchTimeout <= 0 {
		settings.BodyFetchTimeout = defaultBodyFetchTimeout
	}
	if settings.Clock == nil {
		settings.Clock = clock.Real()
	}
	logger = logger.Named("instrumenter")

	i := &Instrumenter{
		ctx:      ctx,
		logger:   logger,
		settings: settings,
		requests: make(map[network.RequestID]*inflight),
	}
	i.recorder = eventlog.NewRecorder(logger, settings.Clock, &cdpAlertLocator{ctx: ctx})
	i.state = notify.NewState(settings.Clock, i.onNotification)
	i.observer = notify.NewObserver(i.state, &cdpProber{ctx: ctx}, settings.PollInterval, logger)
	i.fetchBody = i.fetchBodyCDP
	i.instrument = instrumentTab
	return i
}

// Init instruments the tab and then creates the session, so a tab that
// could not be instrumented leaves no session behind and Init can be
// retried. Once a session exists Init returns eventlog.ErrAlreadyInitialized.
func (i *Instrumenter) Init(opts eventlog.Options) error {
	if chromedp.FromContext(i.ctx) == nil {
		return chromedp.ErrInvalidContext
	}
	i.initMu.Lock()
	defer i.initMu.Unlock()
	if i.recorder.Session() != nil {
		return eventlog.ErrAlreadyInitialized
	}

	if !i.listening {
		chromedp.ListenTarget(i.ctx, i.handleEvent)
		i.listening = true
	}
	if err := i.instrument(i.ctx); err != nil {
		return fmt.Errorf("failed to instrument browser tab: %w", err)
	}
	if _, err := i.recorder.Init(opts); err != nil {
		return err
	}
	i.logger.Debug("Browser tab instrumented.")
	return nil
}

// instrumentTab enables the CDP domains and installs the page script.
func instrumentTab(ctx context.Context) error {
	return chromedp.Run(ctx, chromedp.Tasks{
		network.Enable(),
		runtime.Enable(),
		page.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return runtime.AddBinding(mutationBinding).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(observerScript).Do(ctx)
			return err
		}),
		// Covers the document that is already loaded.
		chromedp.Evaluate(observerScript, nil),
	})
}

// Context returns the tab context that browser actions should run on.
func (i *Instrumenter) Context() context.Context { return i.ctx }

// Session returns the current session, or nil before Init.
func (i *Instrumenter) Session() *eventlog.Session { return i.recorder.Session() }

// Notifications returns the page notifications currently tracked.
func (i *Instrumenter) Notifications() []notify.Notification { return i.state.Tracked() }

// WaitForEvents blocks until the page has been idle long enough.
func (i *Instrumenter) WaitForEvents(ctx context.Context) error {
	return i.recorder.WaitForEvents(ctx)
}

// ReportEvents returns the event log, or nil before Init.
func (i *Instrumenter) ReportEvents() []schemas.EventRecord {
	return i.recorder.ReportEvents()
}

// Close stops notification polling and waits for pending body fetches.
func (i *Instrumenter) Close() {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()
	i.observer.Close()
	i.bodyWG.Wait()
}

func (i *Instrumenter) onNotification(ev notify.Event) {
	if s := i.recorder.Session(); s != nil {
		s.OnConsoleMessage(schemas.SeverityInfo, ev.Message())
	}
}

func (i *Instrumenter) fetchBodyCDP(ctx context.Context, id network.RequestID) ([]byte, error) {
	var body []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(id).Do(ctx)
		return err
	}))
	return body, err
}

// isContextDone reports whether err came from a canceled or expired context.
func isContextDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
