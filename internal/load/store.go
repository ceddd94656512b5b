// Package load persists accepted records into the warehouse with
// idempotent batched upserts and writes run metadata rows.
package load

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq" // registers the postgres driver

	"mdetl/internal/config"
	pipeerr "mdetl/internal/errors"
)

// Store owns the warehouse connection pool.
type Store struct {
	db *sqlx.DB
}

// Open connects to the warehouse and configures the pool.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, pipeerr.NewStore("failed to connect to warehouse", err, true)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the pool for the loader and run store.
func (s *Store) DB() *sqlx.DB { return s.db }

// retryableSQLStates are postgres conditions that clear on their own:
// serialization failure, deadlock, lock timeout, connection exhaustion,
// admin shutdown classes.
var retryableSQLStates = map[pq.ErrorCode]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
	"53300": true,
	"57P01": true,
	"57P02": true,
	"57P03": true,
}

// classifyStoreError wraps a database failure so the retry policy can
// tell transient conditions from hard SQL errors.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pipeerr.NewStore("database error "+string(pqErr.Code), err, retryableSQLStates[pqErr.Code])
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) {
		return pipeerr.NewStore("connection failure", err, true)
	}
	return pipeerr.NewStore("database error", err, false)
}
