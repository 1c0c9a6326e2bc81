package diff

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/halcyon-health/tapestry/internal/plan"
)

var fixedTime = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func basePlan() *plan.CanonicalPlan {
	return &plan.CanonicalPlan{
		ID:       "plan-1",
		ClientID: "client-1",
		Version:  3,
		Concerns: []plan.Concern{
			{ID: "con-1", Description: "Panic attacks at work", Severity: plan.SeverityMedium, SessionIDs: []string{"s1"}},
		},
		Diagnoses: []plan.Diagnosis{
			{ID: "dx-1", Name: "Panic Disorder", Code: "F41.0", Status: plan.DiagnosisProvisional, SessionIDs: []string{"s1"}},
		},
		Goals: []plan.Goal{
			{ID: "goal-1", Description: "Ride the subway without leaving early", Progress: 40, Status: plan.GoalActive, SessionIDs: []string{"s1"}},
			{ID: "goal-2", Description: "Practice paced breathing daily", Progress: 70, Status: plan.GoalActive, SessionIDs: []string{"s1"}},
		},
		Crisis: plan.CrisisAssessment{
			Severity:         plan.SeverityNone,
			LastAssessed:     fixedTime,
			SafetyPlanStatus: "none",
		},
		SessionIDs: []string{"s1"},
		CreatedAt:  fixedTime,
		UpdatedAt:  fixedTime,
	}
}

func clone(p *plan.CanonicalPlan) *plan.CanonicalPlan {
	data, _ := json.Marshal(p)
	var out plan.CanonicalPlan
	_ = json.Unmarshal(data, &out)
	return &out
}

func TestCompute_IdenticalPlansNoChanges(t *testing.T) {
	a := basePlan()
	result := Compute(a, clone(a))
	if result.HasChanges {
		t.Errorf("diff(A, A) must report no changes, got %+v", result.Changes)
	}
}

func TestCompute_AddRemoveModify(t *testing.T) {
	a := basePlan()
	b := clone(a)
	b.Version = 4

	// Modify an existing goal.
	b.Goals[0].Progress = 60
	// Remove a goal.
	b.Goals = b.Goals[:1]
	// Add a new diagnosis.
	b.Diagnoses = append(b.Diagnoses, plan.Diagnosis{
		ID: "dx-2", Name: "Insomnia", Code: "G47.0", Status: plan.DiagnosisProvisional, SessionIDs: []string{"s2"},
	})
	// Touch the crisis assessment.
	b.Crisis.Severity = plan.SeverityLow

	result := Compute(a, b)
	if !result.HasChanges {
		t.Fatal("expected changes")
	}
	if result.Added != 1 || result.Removed != 1 {
		t.Errorf("expected 1 added / 1 removed, got %d / %d", result.Added, result.Removed)
	}

	var sawGoalMod, sawCrisis, sawVersion bool
	for _, c := range result.Changes {
		switch {
		case c.Section == "goals" && c.Type == Modified:
			sawGoalMod = true
			if !strings.Contains(c.Description, "progress") {
				t.Errorf("goal modification should name the field, got %q", c.Description)
			}
		case c.Section == "crisis_assessment" && c.Field == "severity":
			sawCrisis = true
		case c.Section == "metadata" && c.Field == "version":
			sawVersion = true
		}
	}
	if !sawGoalMod || !sawCrisis || !sawVersion {
		t.Errorf("missing expected changes: goalMod=%v crisis=%v version=%v", sawGoalMod, sawCrisis, sawVersion)
	}
}

func TestCompute_DescriptionsAreHumanReadable(t *testing.T) {
	a := basePlan()
	b := clone(a)
	b.Goals = append(b.Goals, plan.Goal{
		ID: "goal-3", Description: "Sleep seven hours a night", Status: plan.GoalActive, SessionIDs: []string{"s2"},
	})

	result := Compute(a, b)
	found := false
	for _, c := range result.Changes {
		if c.Type == Added && c.Section == "goals" {
			found = true
			if !strings.Contains(c.Description, "Sleep seven hours") {
				t.Errorf("description should quote the goal, got %q", c.Description)
			}
		}
	}
	if !found {
		t.Fatal("expected an added-goal change")
	}
}

func TestApply_RoundTrip(t *testing.T) {
	a := basePlan()
	b := clone(a)
	b.Version = 4
	b.Goals[0].Progress = 85
	b.Goals = append(b.Goals, plan.Goal{
		ID: "goal-3", Description: "Call one friend each week", Progress: 0, Status: plan.GoalActive, SessionIDs: []string{"s2"},
	})
	b.Concerns = nil
	b.Crisis.Severity = plan.SeverityLow
	b.Crisis.SafetyPlanStatus = "drafted"
	b.SessionIDs = []string{"s1", "s2"}
	b.UpdatedAt = fixedTime.Add(48 * time.Hour)

	result := Compute(a, b)
	rebuilt, err := Apply(a, result)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	want, _ := json.Marshal(b)
	got, _ := json.Marshal(rebuilt)
	if string(want) != string(got) {
		t.Errorf("apply(diff(A,B), A) != B\nwant: %s\ngot:  %s", want, got)
	}
}

func TestThreeWay_IdempotentWhenBranchesAgree(t *testing.T) {
	base := basePlan()
	x := clone(base)
	x.Goals[0].Progress = 55

	outcome, err := ThreeWay(base, clone(x), clone(x))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if len(outcome.Conflicts) != 0 {
		t.Errorf("merging identical branches must not conflict: %+v", outcome.Conflicts)
	}
	want, _ := json.Marshal(x)
	got, _ := json.Marshal(outcome.Plan)
	if string(want) != string(got) {
		t.Errorf("merge(base, X, X) != X\nwant: %s\ngot:  %s", want, got)
	}
}

func TestThreeWay_NonOverlappingEditsMergeCleanly(t *testing.T) {
	base := basePlan()

	current := clone(base)
	current.Goals[0].Progress = 50 // edited here

	incoming := clone(base)
	incoming.Goals[1].Progress = 90 // edited there
	incoming.Strengths = append(incoming.Strengths, plan.Strength{
		ID: "str-1", Description: "Resilient under pressure", SessionIDs: []string{"s2"},
	})

	outcome, err := ThreeWay(base, current, incoming)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if len(outcome.Conflicts) != 0 {
		t.Errorf("non-overlapping edits must not conflict: %+v", outcome.Conflicts)
	}
	if outcome.Plan.Goals[0].Progress != 50 {
		t.Errorf("current edit lost: %d", outcome.Plan.Goals[0].Progress)
	}
	if outcome.Plan.Goals[1].Progress != 90 {
		t.Errorf("incoming edit lost: %d", outcome.Plan.Goals[1].Progress)
	}
	if len(outcome.Plan.Strengths) != 1 {
		t.Errorf("incoming addition lost")
	}
}

func TestThreeWay_ConflictKeepsCurrentAndRecordsAllThree(t *testing.T) {
	base := basePlan() // goal-1 progress 40

	current := clone(base)
	current.Goals[0].Progress = 50

	incoming := clone(base)
	incoming.Goals[0].Progress = 80

	outcome, err := ThreeWay(base, current, incoming)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if len(outcome.Conflicts) != 1 {
		t.Fatalf("expected exactly one conflict, got %d: %+v", len(outcome.Conflicts), outcome.Conflicts)
	}

	c := outcome.Conflicts[0]
	if c.Section != "goals" || c.EntityID != "goal-1" || c.Field != "progress" {
		t.Errorf("conflict misattributed: %+v", c)
	}
	if c.Resolution != "current" {
		t.Errorf("default resolution must keep current, got %q", c.Resolution)
	}
	if string(c.Base) != "40" || string(c.Current) != "50" || string(c.Incoming) != "80" {
		t.Errorf("conflict must carry all three values: base=%s current=%s incoming=%s", c.Base, c.Current, c.Incoming)
	}
	if outcome.Plan.Goals[0].Progress != 50 {
		t.Errorf("merged plan should keep current value, got %d", outcome.Plan.Goals[0].Progress)
	}
}

func TestThreeWay_DeletedInBothDrops(t *testing.T) {
	base := basePlan()

	current := clone(base)
	current.Goals = current.Goals[1:]
	incoming := clone(base)
	incoming.Goals = incoming.Goals[1:]

	outcome, err := ThreeWay(base, current, incoming)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if len(outcome.Conflicts) != 0 {
		t.Errorf("agreeing deletions must not conflict: %+v", outcome.Conflicts)
	}
	if len(outcome.Plan.Goals) != 1 {
		t.Errorf("expected one remaining goal, got %d", len(outcome.Plan.Goals))
	}
}

func TestThreeWay_EditAgainstDeleteConflicts(t *testing.T) {
	base := basePlan()

	current := clone(base)
	current.Goals[0].Progress = 65 // edited here

	incoming := clone(base)
	incoming.Goals = incoming.Goals[1:] // deleted there

	outcome, err := ThreeWay(base, current, incoming)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if len(outcome.Conflicts) != 1 {
		t.Fatalf("expected one edit-vs-delete conflict, got %+v", outcome.Conflicts)
	}
	if len(outcome.Plan.Goals) != 2 {
		t.Errorf("default resolution should keep the edited goal, got %d goals", len(outcome.Plan.Goals))
	}
}

func TestThreeWay_SessionRefsUnion(t *testing.T) {
	base := basePlan()
	current := clone(base)
	current.SessionIDs = []string{"s1", "s2"}
	incoming := clone(base)
	incoming.SessionIDs = []string{"s1", "s3"}

	outcome, err := ThreeWay(base, current, incoming)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	want := []string{"s1", "s2", "s3"}
	if len(outcome.Plan.SessionIDs) != len(want) {
		t.Fatalf("expected %v, got %v", want, outcome.Plan.SessionIDs)
	}
	for i, s := range want {
		if outcome.Plan.SessionIDs[i] != s {
			t.Errorf("expected %v, got %v", want, outcome.Plan.SessionIDs)
			break
		}
	}
}

func TestRestoreSnapshot(t *testing.T) {
	historical := basePlan() // version 3 content
	restored := RestoreSnapshot(historical, 7, fixedTime.Add(time.Hour))

	if restored.Version != 8 {
		t.Errorf("restore must create the next version, got %d", restored.Version)
	}
	if historical.Version != 3 {
		t.Error("restore must not mutate the historical snapshot")
	}
	if len(restored.Goals) != len(historical.Goals) {
		t.Error("restored content must equal the historical snapshot")
	}
}
