// Package store persists canonical plans and their version history in
// Postgres. Plans are stored as JSONB snapshots; version rows are immutable
// once written.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrPlanNotFound is returned when no plan row matches the lookup.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrPlanLocked is returned when a write hits a plan locked by another
	// pipeline run. Callers fail fast instead of blocking.
	ErrPlanLocked = errors.New("plan is locked by another run")
	// ErrVersionConflict is returned when an optimistic update loses the
	// race: the plan's version moved past the caller's snapshot.
	ErrVersionConflict = errors.New("plan version conflict")
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}
