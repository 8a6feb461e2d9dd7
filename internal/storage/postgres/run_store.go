// Package postgres persists run summaries to Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-capture/internal/crawler"
)

const defaultTable = "capture_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for run rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RunStore inserts one row per finished run.
type RunStore struct {
	pool  execCloser
	table string
}

// NewRunStore connects a pool for cfg.DSN.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// NewRunStoreWithPool wraps an existing pool; tests pass a pgxmock pool.
func NewRunStoreWithPool(pool execCloser, table string) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreRun implements crawler.RunStore.
func (s *RunStore) StoreRun(ctx context.Context, summary crawler.RunSummary) error {
	if s == nil || s.pool == nil {
		return errors.New("run store is not configured")
	}
	if summary.RunID == "" {
		return errors.New("run id is required")
	}
	failedJSON, err := json.Marshal(nonNilFailures(summary.Failures))
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	start_url,
	mode,
	started_at,
	finished_at,
	discovered,
	total_urls,
	successful,
	failed,
	failures,
	canceled,
	artifact_uri,
	merged_pages,
	artifact_error
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)`, s.table)

	args := []any{
		summary.RunID,
		summary.StartURL,
		string(summary.Mode),
		summary.StartedAt,
		summary.FinishedAt,
		summary.Discovered,
		summary.TotalURLs,
		summary.Successful,
		summary.Failed,
		failedJSON,
		summary.Canceled,
		summary.ArtifactPath,
		summary.MergedPages,
		summary.ArtifactError,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run %s: %w", summary.RunID, err)
	}
	return nil
}

func nonNilFailures(in []crawler.FailedURL) []crawler.FailedURL {
	if in == nil {
		return []crawler.FailedURL{}
	}
	return in
}
