package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/halcyon-health/tapestry/internal/plan"
)

// PlanRecord is the plans-table row: the current snapshot plus lock state.
type PlanRecord struct {
	Plan     plan.CanonicalPlan
	IsLocked bool
}

// CreatePlan inserts a brand-new plan at its initial version.
func (s *Store) CreatePlan(ctx context.Context, p *plan.CanonicalPlan) error {
	canonical, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO plans (id, client_id, version, canonical, is_locked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, $5, $6)`,
		p.ID, p.ClientID, p.Version, canonical, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// GetPlanByID fetches a plan's current snapshot.
func (s *Store) GetPlanByID(ctx context.Context, planID string) (*PlanRecord, error) {
	return s.getPlan(ctx, `SELECT canonical, is_locked FROM plans WHERE id = $1`, planID)
}

// GetPlanByClientID fetches the plan for a client, if one exists.
func (s *Store) GetPlanByClientID(ctx context.Context, clientID string) (*PlanRecord, error) {
	return s.getPlan(ctx, `SELECT canonical, is_locked FROM plans WHERE client_id = $1`, clientID)
}

func (s *Store) getPlan(ctx context.Context, query, arg string) (*PlanRecord, error) {
	var canonical []byte
	var locked bool
	err := s.pool.QueryRow(ctx, query, arg).Scan(&canonical, &locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch plan: %w", err)
	}

	var rec PlanRecord
	rec.IsLocked = locked
	if err := json.Unmarshal(canonical, &rec.Plan); err != nil {
		return nil, fmt.Errorf("decode plan snapshot: %w", err)
	}
	return &rec, nil
}

// UpdatePlan replaces the current snapshot, guarded by the version the caller
// read. A stale currentVersion returns ErrVersionConflict. The lock flag is
// enforced at acquisition (LockPlan), not here.
func (s *Store) UpdatePlan(ctx context.Context, currentVersion int, p *plan.CanonicalPlan) error {
	canonical, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE plans
		SET canonical = $1, version = $2, updated_at = $3
		WHERE id = $4 AND version = $5`,
		canonical, p.Version, p.UpdatedAt, p.ID, currentVersion,
	)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing plan from a lost race.
		var v int
		err := s.pool.QueryRow(ctx, `SELECT version FROM plans WHERE id = $1`, p.ID).Scan(&v)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPlanNotFound
		}
		if err != nil {
			return fmt.Errorf("check plan version: %w", err)
		}
		return fmt.Errorf("%w: have %d, plan is at %d", ErrVersionConflict, currentVersion, v)
	}
	return nil
}

// LockPlan marks a plan as held by a pipeline run. Locking an already-locked
// plan fails fast with ErrPlanLocked.
func (s *Store) LockPlan(ctx context.Context, planID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE plans SET is_locked = true, locked_at = now()
		WHERE id = $1 AND is_locked = false`,
		planID,
	)
	if err != nil {
		return fmt.Errorf("lock plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var locked bool
		err := s.pool.QueryRow(ctx, `SELECT is_locked FROM plans WHERE id = $1`, planID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPlanNotFound
		}
		if err != nil {
			return fmt.Errorf("check plan lock: %w", err)
		}
		return ErrPlanLocked
	}
	return nil
}

// UnlockPlan releases the run lock. Unlocking an unlocked plan is a no-op.
func (s *Store) UnlockPlan(ctx context.Context, planID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE plans SET is_locked = false, locked_at = NULL
		WHERE id = $1`,
		planID,
	)
	if err != nil {
		return fmt.Errorf("unlock plan: %w", err)
	}
	return nil
}

// DeletePlan removes a plan and, via cascade, its whole version history.
// The only path that ever deletes version rows.
func (s *Store) DeletePlan(ctx context.Context, planID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM plans WHERE id = $1`, planID)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlanNotFound
	}
	return nil
}
