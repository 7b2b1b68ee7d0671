// File: cmd/watch.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/eventlogger/api/schemas"
	"github.com/xkilldash9x/eventlogger/internal/browser"
	"github.com/xkilldash9x/eventlogger/internal/capture"
	"github.com/xkilldash9x/eventlogger/internal/config"
	"github.com/xkilldash9x/eventlogger/internal/eventlog"
	"github.com/xkilldash9x/eventlogger/internal/observability"
)

// watchOptions carries the flags of the watch command.
type watchOptions struct {
	target      string
	clicks      []string
	fetches     []string
	maxWait     time.Duration
	minIdle     time.Duration
	alerts      string
	format      string
	output      string
	persist     bool
	metricsAddr string
}

func newWatchCmd(provider storeProvider) *cobra.Command {
	var opts watchOptions

	watchCmd := &cobra.Command{
		Use:   "watch <url>",
		Short: "Open a page in Chrome and record its requests, console output and notifications",
		Long: `Launches an instrumented Chrome, navigates to the URL and performs the
requested clicks and fetches in order. After every step the command waits until
the page has been idle for --min-idle, failing after --max-wait or when an
element matching --alerts is visible. The event log is written as a report.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			opts.target = args[0]
			return runWatch(ctx, observability.GetLogger(), cfg, opts, provider)
		},
	}

	flags := watchCmd.Flags()
	flags.StringArrayVar(&opts.clicks, "click", nil, "CSS selector to click after navigation (repeatable, run in order)")
	flags.StringArrayVar(&opts.fetches, "fetch", nil, "URL to request through the instrumented HTTP client after the clicks (repeatable)")
	flags.DurationVar(&opts.maxWait, "max-wait", 0, "Upper bound of each wait (default from events.max_wait)")
	flags.DurationVar(&opts.minIdle, "min-idle", 0, "Quiet period that ends a wait (default from events.min_idle)")
	flags.StringVar(&opts.alerts, "alerts", "", "Locator of alert elements that fail a wait when visible")
	flags.StringVarP(&opts.format, "format", "f", "json", "Report format (json or html)")
	flags.StringVarP(&opts.output, "output", "o", "", "Report path. If unset, the report is printed to stdout.")
	flags.BoolVar(&opts.persist, "persist", false, "Archive the session in PostgreSQL")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while watching")

	return watchCmd
}

// sessionOptions merges the events configuration with flag overrides.
func sessionOptions(cfg config.EventsConfig, opts watchOptions) eventlog.Options {
	filter := eventlog.Filter{
		ResourceTypes: append([]string(nil), cfg.ResourceTypes...),
		SameHostOnly:  cfg.SameHostOnly,
	}
	out := eventlog.Options{
		MaxWait:      cfg.MaxWait,
		MinIdle:      cfg.MinIdle,
		AlertLocator: cfg.AlertLocator,
		AlertTimeout: cfg.AlertTimeout,
		Filter:       &filter,
	}
	if opts.maxWait > 0 {
		out.MaxWait = opts.maxWait
	}
	if opts.minIdle > 0 {
		out.MinIdle = opts.minIdle
	}
	if opts.alerts != "" {
		out.AlertLocator = opts.alerts
	}
	return out
}

// metricsAddress returns where to serve metrics, or "" when disabled.
func metricsAddress(cfg config.MetricsConfig, flag string) string {
	if flag != "" {
		return flag
	}
	if cfg.Enabled {
		return cfg.Address
	}
	return ""
}

func runWatch(ctx context.Context, logger *zap.Logger, cfg *config.Config, opts watchOptions, provider storeProvider) error {
	if _, err := url.ParseRequestURI(opts.target); err != nil {
		return fmt.Errorf("invalid target URL %q: %w", opts.target, err)
	}
	evOpts := sessionOptions(cfg.Events, opts)
	if evOpts.MinIdle >= evOpts.MaxWait {
		return fmt.Errorf("min-idle (%s) must be shorter than max-wait (%s)", evOpts.MinIdle, evOpts.MaxWait)
	}

	var report *schemas.SessionReport
	runErr := withMetrics(ctx, metricsAddress(cfg.Metrics, opts.metricsAddr), logger, func(ctx context.Context) error {
		var err error
		report, err = recordSession(ctx, logger, cfg, evOpts, opts)
		return err
	})
	if report == nil {
		return runErr
	}

	if err := writeReport(logger, report, opts.output, opts.format); err != nil {
		return errors.Join(runErr, err)
	}
	if opts.persist {
		if err := persistReport(ctx, logger, cfg, provider, report); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}

// recordSession drives one browser session. The returned report is non-nil
// whenever the session was initialized, even if a step failed.
func recordSession(ctx context.Context, logger *zap.Logger, cfg *config.Config, evOpts eventlog.Options, opts watchOptions) (*schemas.SessionReport, error) {
	tabCtx, cancel, err := browser.NewBrowser(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, err
	}
	defer cancel()

	inst := browser.NewInstrumenter(tabCtx, logger, browser.Settings{
		BodyFetchTimeout: cfg.Events.BodyFetchTimeout,
		PollInterval:     cfg.Events.PollInterval,
	})
	defer inst.Close()

	if err := inst.Init(evOpts); err != nil {
		return nil, fmt.Errorf("failed to instrument browser: %w", err)
	}
	session := inst.Session()
	created := time.Now().UTC()

	runner := &stepRunner{session: session, wait: inst.WaitForEvents, logger: logger}
	stepErr := runner.runAll(tabCtx, watchSteps(cfg.Browser.NavigationTimeout, session, opts, logger))

	// Give in-flight body fetches a chance to land before the log is read.
	inst.Close()
	return &schemas.SessionReport{
		SessionID: session.ID,
		Target:    opts.target,
		CreatedAt: created,
		Events:    inst.ReportEvents(),
	}, stepErr
}

// scriptStep is one action of the watch run.
type scriptStep struct {
	name string
	args string
	run  func(ctx context.Context) error
}

// watchSteps builds the navigate, click and fetch steps in execution order.
func watchSteps(navTimeout time.Duration, session *eventlog.Session, opts watchOptions, logger *zap.Logger) []scriptStep {
	steps := []scriptStep{{
		name: "Navigate",
		args: opts.target,
		run: func(ctx context.Context) error {
			if navTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, navTimeout)
				defer cancel()
			}
			return chromedp.Run(ctx, chromedp.Navigate(opts.target))
		},
	}}

	for _, sel := range opts.clicks {
		sel := sel
		steps = append(steps, scriptStep{
			name: "Click",
			args: sel,
			run: func(ctx context.Context) error {
				return chromedp.Run(ctx, chromedp.Click(sel, chromedp.ByQuery))
			},
		})
	}

	if len(opts.fetches) > 0 {
		client := capture.NewClient(session, nil, logger)
		for _, raw := range opts.fetches {
			target := resolveURL(opts.target, raw)
			steps = append(steps, scriptStep{
				name: "Fetch",
				args: target,
				run: func(ctx context.Context) error {
					return fetch(ctx, client, target)
				},
			})
		}
	}
	return steps
}

// resolveURL resolves ref against the page URL so --fetch accepts paths.
func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func fetch(ctx context.Context, client *http.Client, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

// stepRunner runs steps against a session, bracketing each with script
// markers and waiting for the page to settle after it.
type stepRunner struct {
	session *eventlog.Session
	wait    func(ctx context.Context) error
	logger  *zap.Logger
}

// runAll stops at the first failing step.
func (r *stepRunner) runAll(ctx context.Context, steps []scriptStep) error {
	for _, step := range steps {
		if err := r.run(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (r *stepRunner) run(ctx context.Context, step scriptStep) error {
	r.session.OnScriptStep(strings.TrimSpace(fmt.Sprintf("Start: %s %s", step.name, step.args)))

	err := step.run(ctx)
	if err != nil {
		err = fmt.Errorf("%s %s: %w", strings.ToLower(step.name), step.args, err)
	} else if werr := r.wait(ctx); werr != nil {
		err = fmt.Errorf("waiting after %s %s: %w", strings.ToLower(step.name), step.args, werr)
	}

	status := "PASS"
	if err != nil {
		status = "FAIL"
		r.logger.Warn("Step failed", zap.String("step", step.name), zap.String("args", step.args), zap.Error(err))
	}
	r.session.OnScriptStep(fmt.Sprintf("End : %s status=%s", step.name, status))
	return err
}

// withMetrics runs fn while serving /metrics on addr. An empty addr runs fn
// alone. The server is shut down once fn returns.
func withMetrics(ctx context.Context, addr string, logger *zap.Logger, fn func(ctx context.Context) error) error {
	if addr == "" {
		return fn(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-done:
		case <-gctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err := fn(gctx)
	close(done)
	if gerr := g.Wait(); err == nil {
		err = gerr
	}
	return err
}

func persistReport(ctx context.Context, logger *zap.Logger, cfg *config.Config, provider storeProvider, report *schemas.SessionReport) error {
	s, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}
	if err := s.PersistReport(ctx, report); err != nil {
		return err
	}
	logger.Info("Session archived", zap.String("session_id", report.SessionID), zap.Int("events", len(report.Events)))
	return nil
}
