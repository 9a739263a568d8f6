// Package feedbackstore persists resolution feedback recorded through
// the record_resolution_feedback tool operation and is the sole path by
// which per-runbook success-rate signals are updated (SPEC_FULL.md
// supplemented feature). Migrations run via github.com/pressly/goose/v3,
// grounded on the teacher's internal/database/migrations.go RunMigrations
// function; the embedded SQL file follows goose's +goose Up/Down
// convention as used there.
package feedbackstore

import (
	"context"
	"database/sql"
	"embed"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/personalpipeline/personal-pipeline/internal/perrors"
	"github.com/personalpipeline/personal-pipeline/pkg/tools"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect selects the SQL backend the store is opened against.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store implements tools.FeedbackStore and exposes the per-runbook
// success rate the pipeline's metadata ranking signal consults.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Open connects, runs pending goose migrations, and returns a ready Store.
func Open(ctx context.Context, dialect Dialect, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var driver string
	switch dialect {
	case DialectPostgres:
		driver = "pgx"
	case DialectSQLite:
		driver = "sqlite"
	default:
		return nil, perrors.Config("feedbackstore requires a postgres or sqlite dialect")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, perrors.Wrap(perrors.CodeUnavailable, "failed to open feedback store database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, perrors.Wrap(perrors.CodeUnavailable, "feedback store ping failed", err)
	}

	if err := goose.SetBaseFS(migrationsFS); err != nil {
		return nil, perrors.Wrap(perrors.CodeInternal, "failed to set goose migration filesystem", err)
	}
	gooseDialect := "postgres"
	if dialect == DialectSQLite {
		gooseDialect = "sqlite3"
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return nil, perrors.Wrap(perrors.CodeInternal, "failed to set goose dialect", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, perrors.Wrap(perrors.CodeInternal, "failed to run feedback store migrations", err)
	}

	return &Store{db: db, dialect: dialect, logger: logger}, nil
}

var (
	_ tools.FeedbackStore = (*Store)(nil)
	_ tools.FeedbackStats = (*Store)(nil)
)

// Record inserts one feedback entry.
func (s *Store) Record(ctx context.Context, rec tools.FeedbackRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO feedback
		(id, incident_id, runbook_used, source_name, resolution_time_minutes, was_successful, feedback, root_cause, resolution_summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`),
		rec.ID, rec.IncidentID, rec.RunbookUsed, rec.SourceName, rec.ResolutionTimeMinutes, rec.WasSuccessful,
		rec.Feedback, rec.RootCause, rec.ResolutionSummary, rec.CreatedAt)
	if err != nil {
		return perrors.Wrap(perrors.CodeInternal, "failed to record feedback", err)
	}
	return nil
}

// SuccessRate returns the fraction of successful resolutions recorded
// for runbookID, or 0 with ok=false if no feedback exists yet. The
// pipeline's rank stage folds this into the metadata score component.
func (s *Store) SuccessRate(ctx context.Context, runbookID string) (rate float64, ok bool) {
	var total, successful int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT count(*), sum(CASE WHEN was_successful THEN 1 ELSE 0 END) FROM feedback WHERE runbook_used = $1`),
		runbookID).Scan(&total, &successful)
	if err != nil || total == 0 {
		return 0, false
	}
	return float64(successful) / float64(total), true
}

// SourceStats returns the success rate and feedback volume recorded
// against sourceName across every runbook it has served, or ok=false if
// no feedback has named that source yet. list_sources(include_stats=true)
// uses this to surface per-adapter reliability.
func (s *Store) SourceStats(ctx context.Context, sourceName string) (rate float64, total int, ok bool) {
	var successful int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT count(*), sum(CASE WHEN was_successful THEN 1 ELSE 0 END) FROM feedback WHERE source_name = $1`),
		sourceName).Scan(&total, &successful)
	if err != nil || total == 0 {
		return 0, 0, false
	}
	return float64(successful) / float64(total), total, true
}

func (s *Store) rebind(q string) string {
	if s.dialect != DialectSQLite {
		return q
	}
	out := []byte(q)
	result := make([]byte, 0, len(out))
	for i := 0; i < len(out); i++ {
		if out[i] == '$' && i+1 < len(out) && out[i+1] >= '0' && out[i+1] <= '9' {
			result = append(result, '?')
			i++
			for i+1 < len(out) && out[i+1] >= '0' && out[i+1] <= '9' {
				i++
			}
			continue
		}
		result = append(result, out[i])
	}
	return string(result)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// waitForReady pings db up to attempts times, 200ms apart, for backends
// that may still be coming up. Nothing in this package calls it.
func waitForReady(ctx context.Context, db *sql.DB, attempts int) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = db.PingContext(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
