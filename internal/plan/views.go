package plan

import (
	"strings"
	"time"
)

// TherapistView is the clinical projection of a canonical plan.
type TherapistView struct {
	SessionSummary   string       `json:"session_summary"`
	Presentation     string       `json:"presentation"`
	DiagnosticNotes  string       `json:"diagnostic_notes"`
	GoalsReview      []GoalReview `json:"goals_review"`
	InterventionPlan []string     `json:"intervention_plan"`
	RiskSummary      string       `json:"risk_summary"`
	PlanForNext      string       `json:"plan_for_next_session"`
	GeneratedFromAI  bool         `json:"generated_from_ai"`
	GeneratedAt      time.Time    `json:"generated_at"`
}

type GoalReview struct {
	GoalID      string `json:"goal_id"`
	Description string `json:"description"`
	Progress    int    `json:"progress"`
	Note        string `json:"note,omitempty"`
}

// ClientView is the plain-language projection. Its combined text is held to
// a maximum readability grade level.
type ClientView struct {
	WhatWeTalkedAbout string       `json:"what_we_talked_about"`
	MyGoals           []ClientGoal `json:"my_goals"`
	ThingsToTry       []string     `json:"things_to_try"`
	MyStrengths       []string     `json:"my_strengths"`
	NextSteps         string       `json:"next_steps"`
	ReadabilityGrade  float64      `json:"readability_grade"`
	GeneratedFromAI   bool         `json:"generated_from_ai"`
	GeneratedAt       time.Time    `json:"generated_at"`
}

type ClientGoal struct {
	Description   string `json:"description"`
	Progress      int    `json:"progress"`
	Encouragement string `json:"encouragement,omitempty"`
}

// CombinedText joins every client-facing sentence for readability scoring.
func (v ClientView) CombinedText() string {
	var sb strings.Builder
	sb.WriteString(v.WhatWeTalkedAbout)
	for _, g := range v.MyGoals {
		sb.WriteString(" ")
		sb.WriteString(g.Description)
		if g.Encouragement != "" {
			sb.WriteString(" ")
			sb.WriteString(g.Encouragement)
		}
	}
	for _, t := range v.ThingsToTry {
		sb.WriteString(" ")
		sb.WriteString(t)
	}
	for _, s := range v.MyStrengths {
		sb.WriteString(" ")
		sb.WriteString(s)
	}
	sb.WriteString(" ")
	sb.WriteString(v.NextSteps)
	return strings.TrimSpace(sb.String())
}
