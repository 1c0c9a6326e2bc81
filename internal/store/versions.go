package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/halcyon-health/tapestry/internal/plan"
)

// CreatePlanVersion appends an immutable snapshot row. Version rows are never
// updated or deleted individually.
func (s *Store) CreatePlanVersion(ctx context.Context, v *plan.Version) error {
	canonical, err := json.Marshal(v.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan snapshot: %w", err)
	}
	therapist, err := json.Marshal(v.TherapistView)
	if err != nil {
		return fmt.Errorf("marshal therapist view: %w", err)
	}
	client, err := json.Marshal(v.ClientView)
	if err != nil {
		return fmt.Errorf("marshal client view: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO plan_versions (id, plan_id, version, canonical, therapist_view, client_view, change_type, change_summary, session_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)`,
		v.ID, v.PlanID, v.Number, canonical, therapist, client, v.ChangeType, v.ChangeSummary, v.SessionID, v.CreatedBy, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert plan version: %w", err)
	}
	return nil
}

// GetVersion fetches one snapshot of a plan's history.
func (s *Store) GetVersion(ctx context.Context, planID string, number int) (*plan.Version, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, plan_id, version, canonical, therapist_view, client_view, change_type, COALESCE(change_summary, ''), COALESCE(session_id, ''), created_by, created_at
		FROM plan_versions
		WHERE plan_id = $1 AND version = $2`,
		planID, number,
	)
	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	return v, err
}

// ListVersions returns a plan's history newest first, without the full
// snapshots re-decoded per row beyond what callers need.
func (s *Store) ListVersions(ctx context.Context, planID string) ([]plan.Version, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, plan_id, version, canonical, therapist_view, client_view, change_type, COALESCE(change_summary, ''), COALESCE(session_id, ''), created_by, created_at
		FROM plan_versions
		WHERE plan_id = $1
		ORDER BY version DESC`,
		planID,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []plan.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// GetLatestVersionNumber returns the highest version recorded for a plan, or
// zero when the plan has no history yet.
func (s *Store) GetLatestVersionNumber(ctx context.Context, planID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM plan_versions WHERE plan_id = $1`,
		planID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("latest version number: %w", err)
	}
	return n, nil
}

func scanVersion(row pgx.Row) (*plan.Version, error) {
	var v plan.Version
	var canonical, therapist, client []byte
	err := row.Scan(&v.ID, &v.PlanID, &v.Number, &canonical, &therapist, &client, &v.ChangeType, &v.ChangeSummary, &v.SessionID, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(canonical, &v.Plan); err != nil {
		return nil, fmt.Errorf("decode plan snapshot: %w", err)
	}
	if err := json.Unmarshal(therapist, &v.TherapistView); err != nil {
		return nil, fmt.Errorf("decode therapist view: %w", err)
	}
	if err := json.Unmarshal(client, &v.ClientView); err != nil {
		return nil, fmt.Errorf("decode client view: %w", err)
	}
	return &v, nil
}
