package pipeline

import (
	"errors"
	"time"

	"github.com/halcyon-health/tapestry/internal/anthropic"
	"github.com/halcyon-health/tapestry/internal/plan"
)

// Stage names one step of a pipeline run, in execution order.
type Stage string

const (
	StagePreprocessing Stage = "preprocessing"
	StageCrisisCheck   Stage = "crisis_check"
	StageExtraction    Stage = "extraction"
	StageTherapistView Stage = "therapist_view"
	StageClientView    Stage = "client_view"
	StageSummary       Stage = "summary"
	StageSaving        Stage = "saving"
	StageComplete      Stage = "complete"
)

var (
	// ErrTranscriptTooShort rejects transcripts below the configured
	// minimum before any model call is made.
	ErrTranscriptTooShort = errors.New("transcript below minimum length")
	// ErrTranscriptTooLong rejects transcripts above the configured maximum.
	ErrTranscriptTooLong = errors.New("transcript exceeds maximum length")
	// ErrAborted is recorded when the run's context is cancelled between
	// stages. In-flight work is discarded, not force-killed.
	ErrAborted = errors.New("pipeline run aborted")
)

// Progress is emitted at stage boundaries through the run's callback.
type Progress struct {
	Stage   Stage  `json:"stage"`
	Percent int    `json:"progress_percent"`
	Message string `json:"message"`
}

// ProgressFunc receives progress events. May be nil.
type ProgressFunc func(Progress)

// Context carries the inputs of one pipeline run. Created per run, never
// persisted.
type Context struct {
	SessionID   string
	ClientID    string
	TherapistID string
	Transcript  string
	StartedAt   time.Time
}

// Outcome classifies how a run ended. A safety halt is intentional and
// distinct from failure so callers can route to human review.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeHalted    Outcome = "halted_for_safety"
	OutcomeFailed    Outcome = "failed"
)

// Result is the typed outcome of one run. Warnings and errors are kept
// separate so UI layers can decide retry vs. escalate vs. partial display.
type Result struct {
	Outcome        Outcome         `json:"outcome"`
	PlanID         string          `json:"plan_id,omitempty"`
	PlanVersion    int             `json:"plan_version,omitempty"`
	CrisisDetected bool            `json:"crisis_detected"`
	CrisisSeverity plan.Severity   `json:"crisis_severity,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	Errors         []string        `json:"errors,omitempty"`
	ElapsedMS      int64           `json:"elapsed_ms"`
	Usage          anthropic.Usage `json:"usage"`
	EstimatedCost  float64         `json:"estimated_cost_usd"`
}

func (r *Result) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded
}
