//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-health/tapestry/internal/plan"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func testPlanRow(clientID string) *plan.CanonicalPlan {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &plan.CanonicalPlan{
		ID:       uuid.NewString(),
		ClientID: clientID,
		Version:  1,
		Goals: []plan.Goal{
			{ID: uuid.NewString(), Description: "Integration test goal", Progress: 10, Status: plan.GoalActive},
		},
		Crisis:    plan.CrisisAssessment{Severity: plan.SeverityNone, LastAssessed: now},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestIntegration_PlanLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := testPlanRow("integration-client-" + uuid.NewString()[:8])
	if err := s.CreatePlan(ctx, p); err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	t.Cleanup(func() { s.DeletePlan(ctx, p.ID) })

	rec, err := s.GetPlanByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPlanByID failed: %v", err)
	}
	if rec.Plan.ClientID != p.ClientID {
		t.Errorf("expected client %q, got %q", p.ClientID, rec.Plan.ClientID)
	}
	if rec.IsLocked {
		t.Error("new plan must not be locked")
	}

	// Optimistic update advances the version.
	updated := *p
	updated.Version = 2
	updated.UpdatedAt = time.Now().UTC()
	if err := s.UpdatePlan(ctx, 1, &updated); err != nil {
		t.Fatalf("UpdatePlan failed: %v", err)
	}

	// Same stale version again loses the race.
	err = s.UpdatePlan(ctx, 1, &updated)
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
}

func TestIntegration_LockFailsFast(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := testPlanRow("integration-client-" + uuid.NewString()[:8])
	if err := s.CreatePlan(ctx, p); err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	t.Cleanup(func() { s.DeletePlan(ctx, p.ID) })

	if err := s.LockPlan(ctx, p.ID); err != nil {
		t.Fatalf("first lock failed: %v", err)
	}
	if err := s.LockPlan(ctx, p.ID); !errors.Is(err, ErrPlanLocked) {
		t.Errorf("expected ErrPlanLocked, got %v", err)
	}
	if err := s.UnlockPlan(ctx, p.ID); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if err := s.LockPlan(ctx, p.ID); err != nil {
		t.Errorf("relock after unlock failed: %v", err)
	}
}

func TestIntegration_VersionHistory(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := testPlanRow("integration-client-" + uuid.NewString()[:8])
	if err := s.CreatePlan(ctx, p); err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	t.Cleanup(func() { s.DeletePlan(ctx, p.ID) })

	for i := 1; i <= 2; i++ {
		snapshot := *p
		snapshot.Version = i
		v := &plan.Version{
			ID:         uuid.NewString(),
			PlanID:     p.ID,
			Number:     i,
			Plan:       snapshot,
			ChangeType: plan.ChangeSessionUpdate,
			SessionID:  "sess-" + uuid.NewString()[:8],
			CreatedBy:  "pipeline",
			CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
		}
		if i == 1 {
			v.ChangeType = plan.ChangeInitial
		}
		if err := s.CreatePlanVersion(ctx, v); err != nil {
			t.Fatalf("CreatePlanVersion %d failed: %v", i, err)
		}
	}

	n, err := s.GetLatestVersionNumber(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetLatestVersionNumber failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected latest version 2, got %d", n)
	}

	versions, err := s.ListVersions(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != 2 || versions[0].Number != 2 {
		t.Errorf("expected newest-first history of 2, got %+v", versions)
	}

	v1, err := s.GetVersion(ctx, p.ID, 1)
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if v1.ChangeType != plan.ChangeInitial {
		t.Errorf("expected initial change type, got %q", v1.ChangeType)
	}
}
