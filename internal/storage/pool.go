// Package storage opens PostgreSQL connection pools whose queries are traced.
//
// Every statement run through a pool from Open becomes a "db: <verb>" child
// of the span active in the caller's context.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/kansoku/internal/tracing"
)

// DB wraps a pgxpool.Pool with query tracing attached.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open creates a pool for databaseURL and verifies it with a ping.
// statementLimit caps the db.statement attribute; zero keeps the default.
func Open(ctx context.Context, databaseURL string, tracer *tracing.Tracer, statementLimit int, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse database URL: %w", err)
	}
	poolCfg.ConnConfig.Tracer = NewQueryTracer(tracer, statementLimit)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}
	logger.Info("storage: connected", "host", poolCfg.ConnConfig.Host, "database", poolCfg.ConnConfig.Database)

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping runs a traced round trip to the server.
func (db *DB) Ping(ctx context.Context) error {
	var one int
	if err := db.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("storage: ping: %w", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}
