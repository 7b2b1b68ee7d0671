package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eventlogger/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrSessionNotFound is returned when no archived report has the requested id.
var ErrSessionNotFound = errors.New("session not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

const (
	sqlCreateSchema = `
        CREATE TABLE IF NOT EXISTS event_sessions (
            id         TEXT PRIMARY KEY,
            target     TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL
        );
        CREATE TABLE IF NOT EXISTS event_log (
            session_id TEXT NOT NULL REFERENCES event_sessions (id) ON DELETE CASCADE,
            seq        INTEGER NOT NULL,
            time       TIMESTAMPTZ NOT NULL,
            event      TEXT NOT NULL,
            severity   TEXT NOT NULL,
            payload    JSONB,
            PRIMARY KEY (session_id, seq)
        );
    `
	sqlUpsertSession = `
        INSERT INTO event_sessions (id, target, created_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET
            target = EXCLUDED.target,
            created_at = EXCLUDED.created_at;
    `
	sqlDeleteEvents = `DELETE FROM event_log WHERE session_id = $1;`
	sqlSelectSession = `
        SELECT target, created_at
        FROM event_sessions
        WHERE id = $1;
    `
	sqlSelectEvents = `
        SELECT time, event, severity, payload
        FROM event_log
        WHERE session_id = $1
        ORDER BY seq ASC;
    `
	sqlListSessions = `
        SELECT s.id, s.target, s.created_at, COUNT(l.seq)
        FROM event_sessions s
        LEFT JOIN event_log l ON l.session_id = s.id
        GROUP BY s.id, s.target, s.created_at
        ORDER BY s.created_at DESC
        LIMIT $1;
    `
)

var eventColumns = []string{"session_id", "seq", "time", "event", "severity", "payload"}

// SessionSummary describes an archived session without its events.
type SessionSummary struct {
	ID        string
	Target    string
	CreatedAt time.Time
	Events    int64
}

// Store archives session reports in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the archive tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// PersistReport stores a report, replacing any earlier copy of the same session.
func (s *Store) PersistReport(ctx context.Context, report *schemas.SessionReport) error {
	rows, err := eventRows(report)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlUpsertSession, report.SessionID, report.Target, report.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", report.SessionID, err)
	}
	if _, err := tx.Exec(ctx, sqlDeleteEvents, report.SessionID); err != nil {
		return fmt.Errorf("failed to clear events of session %s: %w", report.SessionID, err)
	}

	if len(rows) > 0 {
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"event_log"}, eventColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy events: %w", err)
		}
		if int(copied) != len(rows) {
			return fmt.Errorf("mismatch in copied events count: expected %d, got %d", len(rows), copied)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Report archived.", zap.String("session_id", report.SessionID), zap.Int("events", len(rows)))
	return nil
}

func eventRows(report *schemas.SessionReport) ([][]interface{}, error) {
	rows := make([][]interface{}, len(report.Events))
	for i, ev := range report.Events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload of event %d: %w", i, err)
		}
		rows[i] = []interface{}{
			report.SessionID, int32(i), ev.Time.UTC(), ev.Event, ev.Severity, payload,
		}
	}
	return rows, nil
}

// GetReport loads an archived report. Payloads come back with the types
// their event kind carries.
func (s *Store) GetReport(ctx context.Context, sessionID string) (*schemas.SessionReport, error) {
	report := &schemas.SessionReport{SessionID: sessionID}

	rows, err := s.pool.Query(ctx, sqlSelectSession, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	found := false
	for rows.Next() {
		if err := rows.Scan(&report.Target, &report.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		found = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	events, err := s.pool.Query(ctx, sqlSelectEvents, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer events.Close()

	report.Events = []schemas.EventRecord{}
	for events.Next() {
		var (
			rec     schemas.EventRecord
			payload []byte
		)
		if err := events.Scan(&rec.Time, &rec.Event, &rec.Severity, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		rec.Payload, err = schemas.DecodePayload(schemas.EventKind(rec.Event), payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", rec.Event, err)
		}
		report.Events = append(report.Events, rec)
	}
	if err := events.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return report, nil
}

// ListSessions returns the most recent archived sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, sqlListSessions, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.Target, &sum.CreatedAt, &sum.Events); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
