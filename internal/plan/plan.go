package plan

import (
	"time"

	"github.com/google/uuid"
)

// CanonicalPlan is the single source of truth for a client's treatment.
// The two audience views are projections of this structure and never feed
// back into it.
type CanonicalPlan struct {
	ID            string           `json:"id"`
	ClientID      string           `json:"client_id"`
	Version       int              `json:"version"`
	Concerns      []Concern        `json:"presenting_concerns"`
	Impressions   []Impression     `json:"clinical_impressions"`
	Diagnoses     []Diagnosis      `json:"diagnoses"`
	Goals         []Goal           `json:"goals"`
	Interventions []Intervention   `json:"interventions"`
	Strengths     []Strength       `json:"strengths"`
	RiskFactors   []RiskFactor     `json:"risk_factors"`
	Homework      []HomeworkItem   `json:"homework"`
	Crisis        CrisisAssessment `json:"crisis_assessment"`
	SessionIDs    []string         `json:"session_ids"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type Concern struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity,omitempty"`
	SessionIDs  []string `json:"session_ids"`
}

type Impression struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	SessionIDs []string `json:"session_ids"`
}

// DiagnosisStatus follows the clinical confirmation ladder.
type DiagnosisStatus string

const (
	DiagnosisProvisional DiagnosisStatus = "provisional"
	DiagnosisConfirmed   DiagnosisStatus = "confirmed"
	DiagnosisRuledOut    DiagnosisStatus = "ruled_out"
)

type Diagnosis struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Code       string          `json:"code,omitempty"` // ICD-10 style, e.g. F41.1
	Status     DiagnosisStatus `json:"status"`
	Notes      string          `json:"notes,omitempty"`
	SessionIDs []string        `json:"session_ids"`
}

type GoalStatus string

const (
	GoalActive   GoalStatus = "active"
	GoalAchieved GoalStatus = "achieved"
	GoalPaused   GoalStatus = "paused"
)

type Goal struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Progress    int        `json:"progress"` // 0-100
	Status      GoalStatus `json:"status"`
	SessionIDs  []string   `json:"session_ids"`
}

type Intervention struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Modality    string   `json:"modality,omitempty"` // e.g. CBT, DBT, ACT
	SessionIDs  []string `json:"session_ids"`
}

type Strength struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	SessionIDs  []string `json:"session_ids"`
}

type RiskFactor struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Level       Severity `json:"level"`
	SessionIDs  []string `json:"session_ids"`
}

type HomeworkItem struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Completed   bool     `json:"completed"`
	SessionIDs  []string `json:"session_ids"`
}

// CrisisAssessment is embedded in the plan and updated only by the crisis
// classifier or explicit clinical override.
type CrisisAssessment struct {
	Severity         Severity          `json:"severity"`
	LastAssessed     time.Time         `json:"last_assessed"`
	Indicators       []CrisisIndicator `json:"indicators,omitempty"`
	SafetyPlanStatus string            `json:"safety_plan_status,omitempty"` // none | drafted | in_place
}

type CrisisIndicator struct {
	Type     string   `json:"type"` // suicidal | self_harm | violence | psychosis | emergency
	Quote    string   `json:"quote"`
	Severity Severity `json:"severity"`
	Context  string   `json:"context,omitempty"`
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.NewString()
}

// ClampProgress bounds a goal progress value to [0, 100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// HasSession reports whether id is already in the plan's session list.
func (p *CanonicalPlan) HasSession(id string) bool {
	for _, s := range p.SessionIDs {
		if s == id {
			return true
		}
	}
	return false
}

// AddSession appends a session reference if it is not already present.
func (p *CanonicalPlan) AddSession(id string) {
	if id != "" && !p.HasSession(id) {
		p.SessionIDs = append(p.SessionIDs, id)
	}
}

// HighestRiskSeverity returns the maximum level across all risk factors.
func (p *CanonicalPlan) HighestRiskSeverity() Severity {
	out := SeverityNone
	for _, r := range p.RiskFactors {
		out = MaxSeverity(out, r.Level)
	}
	return out
}
