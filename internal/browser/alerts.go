// internal/browser/alerts.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// cdpAlertLocator resolves alert locators against the live page. Locators
// are matched with chromedp.BySearch, so CSS selectors, XPath and plain text
// all work.
type cdpAlertLocator struct {
	ctx context.Context
}

// VisibleTexts waits up to timeout for the locator to match a visible element
// and returns the text of every match. A timeout is not an error.
func (a *cdpAlertLocator) VisibleTexts(ctx context.Context, locator string, timeout time.Duration) ([]string, error) {
	runCtx, cancel := CombineContext(a.ctx, ctx)
	defer cancel()

	waitCtx, waitCancel := context.WithTimeout(runCtx, timeout)
	err := chromedp.Run(waitCtx, chromedp.WaitVisible(locator, chromedp.BySearch))
	waitCancel()
	if err != nil {
		if runCtx.Err() == nil && isContextDone(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to wait for alert %q: %w", locator, err)
	}

	var nodes []*cdp.Node
	if err := chromedp.Run(runCtx, chromedp.Nodes(locator, &nodes, chromedp.BySearch, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("failed to query alert %q: %w", locator, err)
	}

	texts := make([]string, 0, len(nodes))
	for _, node := range nodes {
		var text string
		if err := chromedp.Run(runCtx, chromedp.Text([]cdp.NodeID{node.NodeID}, &text, chromedp.ByNodeID)); err != nil {
			return nil, fmt.Errorf("failed to read alert text: %w", err)
		}
		texts = append(texts, strings.TrimSpace(text))
	}
	return texts, nil
}
