// Package store implements the durable state store (jobs, crawls, URL
// locks, team-job records) on top of PostgreSQL via sqlx.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	infraconfig "github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/config"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/retry"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/errs"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
)

const (
	// DefaultPingTimeout bounds the initial connectivity check.
	DefaultPingTimeout = 5 * time.Second
)

// Store is the sqlx-backed implementation of the state store. All durable
// mutation funnels through it; it is the single writer of record.
type Store struct {
	db  *sqlx.DB
	log logger.Logger
}

// Open connects to PostgreSQL using cfg and verifies connectivity with a
// bounded ping. The caller must call Close when done.
func Open(cfg infraconfig.DatabaseConfig, log logger.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// NewWithDB wraps an already-open *sqlx.DB as a Store, bypassing Open's
// connection setup. Used by tests to inject a sqlmock-backed *sqlx.DB.
func NewWithDB(db *sqlx.DB, log logger.Logger) *Store {
	return &Store{db: db, log: log}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the connection is still live.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the underlying *sqlx.DB for migrations and admin tooling.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// writeRetryConfig bounds every write path to 3 attempts with exponential
// backoff, per the failure semantics in the state store's design: transient
// errors are retried locally before surfacing StoreUnavailable.
var writeRetryConfig = retry.Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
	IsRetryable: func(err error) bool {
		return errs.Is(err, errs.KindStoreUnavailable) || retry.DefaultIsRetryable(err)
	},
}

// WithRetry runs fn under writeRetryConfig, turning a persistently failing
// write into errs.KindStoreUnavailable.
func (s *Store) WithRetry(ctx context.Context, fn func() error) error {
	err := retry.Retry(ctx, writeRetryConfig, fn)
	if err != nil && !errs.Is(err, errs.KindStoreUnavailable) {
		return errs.New("WithRetry", errs.KindStoreUnavailable, err)
	}
	return err
}
