package eventlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/eventlogger/internal/clock/clocktest"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T, opts Options) (*Session, *clocktest.Fake) {
	t.Helper()
	clk := clocktest.New(epoch)
	return NewSession(opts, clk, zaptest.NewLogger(t)), clk
}

func xhr(method, url string) RequestInfo {
	return RequestInfo{Method: method, URL: url, ResourceType: "XHR"}
}

func jsonResponse(status int, body string) ResponseInfo {
	return ResponseInfo{Status: status, StatusText: "OK", ContentType: "application/json", Body: []byte(body)}
}

// waitUntilPending blocks until a wait has been registered on s.
func waitUntilPending(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.pending != nil
	}, time.Second, time.Millisecond)
}

// fakeLocator returns a scripted list of results, one per call.
type fakeLocator struct {
	mu       sync.Mutex
	results  [][]string
	err      error
	calls    int
	locators []string
}

func (f *fakeLocator) VisibleTexts(_ context.Context, locator string, _ time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.locators = append(f.locators, locator)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) == 0 {
		return nil, nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r, nil
}

func (f *fakeLocator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
