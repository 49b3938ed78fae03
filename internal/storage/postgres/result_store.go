// Package postgres provides Postgres-backed persistence for scan results.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizradar/reddit-scanner/internal/scanner"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ResultStoreConfig controls the Postgres connection pool for scan rows.
type ResultStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ResultStore writes scored posts into Postgres, one row per post.
type ResultStore struct {
	pool  execCloser
	table string
}

// NewResultStore creates a Postgres-backed ResultStore using the provided
// config.
func NewResultStore(ctx context.Context, cfg ResultStoreConfig) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "scan_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ResultStore{pool: pool, table: table}, nil
}

// NewResultStoreWithPool constructs a store from an existing pool,
// primarily for testing.
func NewResultStoreWithPool(pool execCloser, table string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scan_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ResultStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreResults inserts one row per scored post. Duplicate posts for the
// same query are upserted with the latest score.
func (s *ResultStore) StoreResults(ctx context.Context, queryID string, posts []scanner.ScoredPost) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	if queryID == "" {
		return fmt.Errorf("query id is required")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	query_id,
	post_id,
	title,
	author,
	subreddit,
	url,
	permalink,
	created_utc,
	score,
	num_comments,
	business_score,
	urgency_level,
	problem_indicators
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (query_id, post_id) DO UPDATE SET
	business_score = EXCLUDED.business_score,
	urgency_level = EXCLUDED.urgency_level,
	problem_indicators = EXCLUDED.problem_indicators`, s.table)

	for _, sp := range posts {
		indicators, err := json.Marshal(sp.ProblemIndicators)
		if err != nil {
			return fmt.Errorf("marshal problem indicators: %w", err)
		}
		args := []any{
			queryID,
			sp.ID,
			sp.Title,
			sp.Author,
			sp.Subreddit,
			sp.URL,
			sp.Permalink,
			sp.CreatedUTC,
			sp.Score,
			sp.NumComments,
			sp.BusinessScore,
			sp.Urgency,
			indicators,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert scan result %s: %w", sp.ID, err)
		}
	}
	return nil
}
