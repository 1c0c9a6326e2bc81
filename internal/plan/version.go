package plan

import "time"

// ChangeType tags why a plan version was created.
type ChangeType string

const (
	ChangeInitial       ChangeType = "initial"
	ChangeSessionUpdate ChangeType = "session_update"
	ChangeRestore       ChangeType = "restore"
	ChangeManualEdit    ChangeType = "manual_edit"
)

// Version is an immutable snapshot of a plan plus its derived views.
// History is append-only: a restore creates a new version rather than
// rewinding the sequence.
type Version struct {
	ID            string        `json:"id"`
	PlanID        string        `json:"plan_id"`
	Number        int           `json:"version"`
	Plan          CanonicalPlan `json:"plan"`
	TherapistView TherapistView `json:"therapist_view"`
	ClientView    ClientView    `json:"client_view"`
	ChangeType    ChangeType    `json:"change_type"`
	ChangeSummary string        `json:"change_summary,omitempty"`
	SessionID     string        `json:"session_id,omitempty"`
	CreatedBy     string        `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`
}
