package eventlog

import (
	"context"
	"fmt"
	"time"
)

// AlertLocator finds blocking alert elements in the page.
type AlertLocator interface {
	// VisibleTexts waits up to timeout for an element matching locator to
	// become visible and returns the text of every matching element. It
	// returns no texts and no error when nothing became visible in time.
	VisibleTexts(ctx context.Context, locator string, timeout time.Duration) ([]string, error)
}

// CheckAlerts fails with an *AssertionError when any element matching
// locator is visible. An empty locator disables the check.
func CheckAlerts(ctx context.Context, alerts AlertLocator, locator string, timeout time.Duration) error {
	if locator == "" || alerts == nil {
		return nil
	}
	texts, err := alerts.VisibleTexts(ctx, locator, timeout)
	if err != nil {
		return fmt.Errorf("alert check %q: %w", locator, err)
	}
	if len(texts) > 0 {
		return &AssertionError{Texts: texts}
	}
	return nil
}
