// Package database implements a Source Adapter (C4) over a SQL table of
// knowledge-base entries. Two dialects share one query surface: Postgres
// via pgxpool (grounded on the teacher's
// internal/infrastructure/repository/postgres_history.go pool-and-query
// shape) and SQLite (via modernc.org/sqlite, pure-Go, avoiding a cgo
// dependency for embedded/offline deployments) for the teacher's
// internal/storage/sqlite equivalent.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"github.com/personalpipeline/personal-pipeline/internal/perrors"
	"github.com/personalpipeline/personal-pipeline/pkg/registry"
	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

func init() {
	registry.Register("database", func(name string, cfg map[string]any) (source.Adapter, error) {
		c := Config{Table: "knowledge_entries"}
		if v, ok := cfg["dialect"].(string); ok {
			c.Dialect = Dialect(v)
		}
		if v, ok := cfg["dsn"].(string); ok {
			c.DSN = v
		}
		if v, ok := cfg["table"].(string); ok && v != "" {
			c.Table = v
		}
		return New(name, c), nil
	})
}

// Dialect selects the SQL backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Config configures one database adapter instance.
type Config struct {
	Dialect Dialect
	DSN     string
	Table   string
}

// Adapter serves rows of a knowledge-entry table as Documents. The table
// is expected to expose (id, title, content, url, updated_at) columns;
// this mirrors the minimal shape the postgres_history repository reads.
type Adapter struct {
	name string
	cfg  Config

	pgPool *pgxpool.Pool
	sqlDB  *sql.DB
}

func New(name string, cfg Config) *Adapter {
	return &Adapter{name: name, cfg: cfg}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Initialize(ctx context.Context) error {
	if a.cfg.DSN == "" {
		return perrors.Config("database adapter requires a dsn")
	}
	switch a.cfg.Dialect {
	case DialectPostgres:
		pool, err := pgxpool.New(ctx, a.cfg.DSN)
		if err != nil {
			return perrors.Wrap(perrors.CodeUnavailable, "failed to create postgres pool", err)
		}
		if err := pool.Ping(ctx); err != nil {
			return perrors.Wrap(perrors.CodeUnavailable, "postgres ping failed", err)
		}
		a.pgPool = pool
	case DialectSQLite:
		db, err := sql.Open("sqlite", a.cfg.DSN)
		if err != nil {
			return perrors.Wrap(perrors.CodeUnavailable, "failed to open sqlite database", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return perrors.Wrap(perrors.CodeUnavailable, "sqlite ping failed", err)
		}
		a.sqlDB = db
	default:
		return perrors.Config(fmt.Sprintf("unsupported database dialect %q", a.cfg.Dialect))
	}
	return nil
}

func (a *Adapter) Search(ctx context.Context, query string, filter source.Filter) ([]source.SearchResult, error) {
	limit := filter.MaxResults
	if limit <= 0 {
		limit = 25
	}
	like := "%" + strings.ToLower(query) + "%"

	q := fmt.Sprintf(`SELECT id, title, content, COALESCE(url, ''), updated_at FROM %s
		WHERE lower(content) LIKE $1 OR lower(title) LIKE $2
		ORDER BY updated_at DESC LIMIT $3`, a.cfg.Table)

	var results []source.SearchResult
	err := a.query(ctx, q, []any{like, like, limit}, func(id, title, content, url string, updatedAt time.Time) {
		results = append(results, source.SearchResult{
			Document: source.Document{ID: id, SourceName: a.name, Title: title, Content: content, URL: url, UpdatedAt: updatedAt},
			RelevanceScore: 1,
			MatchType:      "lexical",
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Adapter) Get(ctx context.Context, id string) (*source.Document, error) {
	q := fmt.Sprintf(`SELECT id, title, content, COALESCE(url, ''), updated_at FROM %s WHERE id = $1`, a.cfg.Table)

	var doc *source.Document
	err := a.query(ctx, q, []any{id}, func(rid, title, content, url string, updatedAt time.Time) {
		doc = &source.Document{ID: rid, SourceName: a.name, Title: title, Content: content, URL: url, UpdatedAt: updatedAt}
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, perrors.NotFound(fmt.Sprintf("entry %q not found", id))
	}
	return doc, nil
}

func (a *Adapter) SearchRunbooks(ctx context.Context, query string, filter source.Filter) ([]source.Runbook, error) {
	results, err := a.Search(ctx, query, filter)
	if err != nil {
		return nil, err
	}
	runbooks := make([]source.Runbook, 0, len(results))
	for _, r := range results {
		runbooks = append(runbooks, source.Runbook{Document: r.Document})
	}
	return runbooks, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) source.HealthCheck {
	start := time.Now()
	var err error
	switch {
	case a.pgPool != nil:
		err = a.pgPool.Ping(ctx)
	case a.sqlDB != nil:
		err = a.sqlDB.PingContext(ctx)
	}
	status := source.HealthHealthy
	msg := ""
	if err != nil {
		status = source.HealthDown
		msg = err.Error()
	}
	return source.HealthCheck{SourceName: a.name, Status: status, Message: msg, LastCheck: time.Now(), Latency: time.Since(start)}
}

// RefreshIndex is a no-op: queries run directly against the table, there
// is no separate index to rebuild.
func (a *Adapter) RefreshIndex(ctx context.Context) error { return nil }

func (a *Adapter) Metadata(ctx context.Context) source.Metadata {
	count := 0
	q := fmt.Sprintf("SELECT count(*) FROM %s", a.cfg.Table)
	switch {
	case a.pgPool != nil:
		_ = a.pgPool.QueryRow(ctx, q).Scan(&count)
	case a.sqlDB != nil:
		_ = a.sqlDB.QueryRowContext(ctx, q).Scan(&count)
	}
	return source.Metadata{Name: a.name, Type: "database:" + string(a.cfg.Dialect), DocumentCount: count}
}

func (a *Adapter) Cleanup(ctx context.Context) error {
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.sqlDB != nil {
		return a.sqlDB.Close()
	}
	return nil
}

// query dispatches to the pgx or database/sql path and hands each row to
// scan, unifying the two driver APIs behind one call site.
func (a *Adapter) query(ctx context.Context, q string, args []any, scan func(id, title, content, url string, updatedAt time.Time)) error {
	switch {
	case a.pgPool != nil:
		rows, err := a.pgPool.Query(ctx, q, args...)
		if err != nil {
			return perrors.Wrap(perrors.CodeUnavailable, "postgres query failed", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id, title, content, url string
			var updatedAt time.Time
			if err := rows.Scan(&id, &title, &content, &url, &updatedAt); err != nil {
				return perrors.Wrap(perrors.CodeInternal, "postgres row scan failed", err)
			}
			scan(id, title, content, url, updatedAt)
		}
		return rows.Err()
	case a.sqlDB != nil:
		rows, err := a.sqlDB.QueryContext(ctx, rebind(q), args...)
		if err != nil {
			return perrors.Wrap(perrors.CodeUnavailable, "sqlite query failed", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id, title, content, url string
			var updatedAt time.Time
			if err := rows.Scan(&id, &title, &content, &url, &updatedAt); err != nil {
				return perrors.Wrap(perrors.CodeInternal, "sqlite row scan failed", err)
			}
			scan(id, title, content, url, updatedAt)
		}
		return rows.Err()
	default:
		return perrors.Internal("database adapter not initialized")
	}
}

// rebind converts $1-style placeholders to sqlite's ? placeholders.
func rebind(q string) string {
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		if q[i] == '$' && i+1 < len(q) && q[i+1] >= '0' && q[i+1] <= '9' {
			b.WriteByte('?')
			i++
			for i+1 < len(q) && q[i+1] >= '0' && q[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}
