// Package db is the persistence layer. All reads and writes go through a
// single pgx pool; multi-row state transitions run inside one transaction.
package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("db: not found")

// Store wraps the connection pool and exposes typed queries.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens the pool and verifies the database is reachable.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Printf("[DB] connected to postgres")
	return &Store{pool: pool}, nil
}

// InitSchema applies the embedded schema. Statements are idempotent, so this
// runs on every boot.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	log.Printf("[DB] schema ready")
	return nil
}

// Ping reports database liveness for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool exposes the underlying pool for callers that need raw access.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close shuts the pool down.
func (s *Store) Close() {
	s.pool.Close()
}
