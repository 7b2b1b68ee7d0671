// internal/browser/browser_setup_test.go
package browser_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/eventlogger/internal/browser"
	"github.com/xkilldash9x/eventlogger/internal/config"
)

// testFixture holds a live browser tab for integration tests.
type testFixture struct {
	Instrumenter *browser.Instrumenter
	Logger       *zap.Logger
	Ctx          context.Context
}

// findChrome skips the test when no browser binary is installed.
func findChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome or Chromium binary found")
	return ""
}

// setupBrowser starts a headless browser and wraps its tab in an Instrumenter.
func setupBrowser(t *testing.T) *testFixture {
	t.Helper()
	execPath := findChrome(t)
	logger := zaptest.NewLogger(t, zaptest.Level(zap.DebugLevel))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	tabCtx, closeBrowser, err := browser.NewBrowser(ctx, config.BrowserConfig{
		Headless: true,
		ExecPath: execPath,
		Viewport: map[string]int{"width": 1280, "height": 800},
	}, logger)
	if err != nil {
		cancel()
		t.Fatalf("Failed to start browser: %v", err)
	}

	inst := browser.NewInstrumenter(tabCtx, logger, browser.Settings{BodyFetchTimeout: 5 * time.Second})
	t.Cleanup(func() {
		inst.Close()
		closeBrowser()
		cancel()
	})
	return &testFixture{Instrumenter: inst, Logger: logger, Ctx: tabCtx}
}

// createTestServer starts a mock HTTP server.
func createTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}
