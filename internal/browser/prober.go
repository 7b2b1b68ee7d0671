// internal/browser/prober.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/eventlogger/internal/notify"
)

const settleTimeout = 2 * time.Second

// cdpProber asks the page script for the state of tracked notification
// elements and hands classification verdicts back to it.
type cdpProber struct {
	ctx context.Context
}

func (p *cdpProber) Probe(ctx context.Context, keys []string) ([]notify.Probe, error) {
	arg, err := json.Marshal(keys)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()

	var probes []notify.Probe
	expr := fmt.Sprintf("typeof window.%[1]s === 'function' ? window.%[1]s(%[2]s) : []", probeFunction, arg)
	if err := chromedp.Run(runCtx, chromedp.Evaluate(expr, &probes)); err != nil {
		return nil, fmt.Errorf("failed to probe notifications: %w", err)
	}
	return probes, nil
}

// Settle reports false from the page when the script is gone, for example
// after a navigation; the verdict then counts as undelivered.
func (p *cdpProber) Settle(ctx context.Context, v notify.Verdict) error {
	expr, err := settleExpression(v)
	if err != nil {
		return err
	}
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	runCtx, cancelTimeout := context.WithTimeout(runCtx, settleTimeout)
	defer cancelTimeout()

	var ok bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(expr, &ok)); err != nil {
		return fmt.Errorf("failed to settle notifications: %w", err)
	}
	if !ok {
		return fmt.Errorf("notification script not installed")
	}
	return nil
}

func settleExpression(v notify.Verdict) (string, error) {
	arg, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("typeof window.%[1]s === 'function' ? window.%[1]s(%[2]s) : false", settleFunction, arg), nil
}
