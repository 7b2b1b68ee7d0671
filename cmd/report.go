// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eventlogger/api/schemas"
	"github.com/xkilldash9x/eventlogger/internal/config"
	"github.com/xkilldash9x/eventlogger/internal/observability"
	"github.com/xkilldash9x/eventlogger/internal/reporting"
	"github.com/xkilldash9x/eventlogger/internal/store"
)

// reportStore is the slice of the session archive the CLI uses.
type reportStore interface {
	EnsureSchema(ctx context.Context) error
	PersistReport(ctx context.Context, report *schemas.SessionReport) error
	GetReport(ctx context.Context, sessionID string) (*schemas.SessionReport, error)
	ListSessions(ctx context.Context, limit int) ([]store.SessionSummary, error)
}

// storeProvider creates the session archive. Tests inject a mock instead of a
// live database connection.
type storeProvider interface {
	// Create returns the store, a cleanup function releasing its resources,
	// and an error if the creation fails.
	Create(ctx context.Context, cfg *config.Config) (reportStore, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider returns the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

func (p *defaultStoreProvider) Create(ctx context.Context, cfg *config.Config) (reportStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (EVENTLOGGER_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return s, cleanup, nil
}

// newReportCmd creates the `report` command.
func newReportCmd(provider storeProvider) *cobra.Command {
	var sessionID, outputPath, format string
	var limit int

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Render an archived session, or list archived sessions",
		Long: `Loads a session event log persisted by 'watch --persist' and renders it in
the requested format. Without --session the most recent sessions are listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			if sessionID == "" {
				return runListSessions(ctx, cfg, provider, limit, cmd.OutOrStdout())
			}
			return runReport(ctx, logger, cfg, sessionID, outputPath, format, provider)
		},
	}

	reportCmd.Flags().StringVar(&sessionID, "session", "", "ID of the session to render")
	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path. If unset, the report is printed to stdout.")
	reportCmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (json or html)")
	reportCmd.Flags().IntVar(&limit, "limit", 20, "Number of sessions to list when --session is not given")

	return reportCmd
}

// runReport renders one archived session.
func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	sessionID, outputPath, format string,
	provider storeProvider,
) error {
	logger.Info("Loading archived session", zap.String("session_id", sessionID))

	s, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	report, err := s.GetReport(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return writeReport(logger, report, outputPath, format)
}

func runListSessions(ctx context.Context, cfg *config.Config, provider storeProvider, limit int, out io.Writer) error {
	s, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	sessions, err := s.ListSessions(ctx, limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No archived sessions.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tCREATED\tEVENTS\tTARGET")
	for _, sess := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", sess.ID, sess.CreatedAt.Local().Format(time.DateTime), sess.Events, sess.Target)
	}
	return tw.Flush()
}

// writeReport renders a report with the reporting module. An empty path
// writes to stdout.
func writeReport(logger *zap.Logger, report *schemas.SessionReport, outputPath, format string) error {
	reporter, err := reporting.New(format, outputPath)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}

	if err := reporter.Write(report); err != nil {
		_ = reporter.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}

	if outputPath != "" && outputPath != "stdout" {
		logger.Info("Report written", zap.String("path", outputPath), zap.Int("events", len(report.Events)))
	}
	return nil
}
