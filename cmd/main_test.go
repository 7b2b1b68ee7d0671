// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/eventlogger/api/schemas"
	"github.com/xkilldash9x/eventlogger/internal/config"
	"github.com/xkilldash9x/eventlogger/internal/observability"
	"github.com/xkilldash9x/eventlogger/internal/store"
)

// resetForTest resets package state and installs a silent global logger so
// the root command's own logger initialization is a no-op.
func resetForTest(t *testing.T) {
	t.Helper()

	cfgFile = ""
	osExit = os.Exit

	observability.ResetForTest()
	observability.Initialize(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"}, zapcore.AddSync(io.Discard))
	t.Cleanup(observability.ResetForTest)
}

// executeCommand runs the root command with args and returns its output.
func executeCommand(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// mockStore is a testify mock of the session archive.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) EnsureSchema(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) PersistReport(ctx context.Context, report *schemas.SessionReport) error {
	return m.Called(ctx, report).Error(0)
}

func (m *mockStore) GetReport(ctx context.Context, sessionID string) (*schemas.SessionReport, error) {
	args := m.Called(ctx, sessionID)
	report, _ := args.Get(0).(*schemas.SessionReport)
	return report, args.Error(1)
}

func (m *mockStore) ListSessions(ctx context.Context, limit int) ([]store.SessionSummary, error) {
	args := m.Called(ctx, limit)
	sessions, _ := args.Get(0).([]store.SessionSummary)
	return sessions, args.Error(1)
}

// mockStoreProvider hands out a fixed store, or fails with err.
type mockStoreProvider struct {
	store    reportStore
	err      error
	cleanups int
}

func (p *mockStoreProvider) Create(ctx context.Context, cfg *config.Config) (reportStore, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.store, func() { p.cleanups++ }, nil
}
