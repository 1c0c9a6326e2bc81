// Package views projects a canonical plan into its two audience-specific
// documents. Both generators prefer the model path and fall back to a
// deterministic rendering, so view generation never fails a pipeline run.
package views

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/halcyon-health/tapestry/internal/anthropic"
	"github.com/halcyon-health/tapestry/internal/plan"
	"github.com/halcyon-health/tapestry/internal/readability"
	"github.com/halcyon-health/tapestry/internal/retry"
)

// Completer is the slice of the model client the generators need.
type Completer interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int, temperature float64) (*anthropic.Completion, error)
}

type Generator struct {
	llm         Completer
	retry       retry.Policy
	logger      *slog.Logger
	targetGrade float64
	maxGrade    float64
	now         func() time.Time
}

func New(llm Completer, logger *slog.Logger, targetGrade, maxGrade float64) *Generator {
	return &Generator{
		llm:         llm,
		retry:       retry.DefaultPolicy,
		logger:      logger,
		targetGrade: targetGrade,
		maxGrade:    maxGrade,
		now:         time.Now,
	}
}

type wireTherapistView struct {
	SessionSummary  string `json:"session_summary"`
	Presentation    string `json:"presentation"`
	DiagnosticNotes string `json:"diagnostic_notes"`
	GoalsReview     []struct {
		GoalID      string `json:"goal_id"`
		Description string `json:"description"`
		Progress    int    `json:"progress"`
		Note        string `json:"note"`
	} `json:"goals_review"`
	InterventionPlan []string `json:"intervention_plan"`
	RiskSummary      string   `json:"risk_summary"`
	PlanForNext      string   `json:"plan_for_next_session"`
}

type wireClientView struct {
	WhatWeTalkedAbout string `json:"what_we_talked_about"`
	MyGoals           []struct {
		Description   string `json:"description"`
		Progress      int    `json:"progress"`
		Encouragement string `json:"encouragement"`
	} `json:"my_goals"`
	ThingsToTry []string `json:"things_to_try"`
	MyStrengths []string `json:"my_strengths"`
	NextSteps   string   `json:"next_steps"`
}

// Therapist builds the clinical view. The model path retries on malformed
// output; if it exhausts its budget the deterministic projection is used and
// a warning is recorded.
func (g *Generator) Therapist(ctx context.Context, p *plan.CanonicalPlan, sessionSummary string) (*plan.TherapistView, anthropic.Usage, []string) {
	planJSON, _ := json.MarshalIndent(p, "", "  ")
	prompt := fmt.Sprintf(therapistUserPromptFmt, planJSON, sessionSummary)
	messages := []anthropic.Message{{Role: "user", Content: prompt}}

	var wire wireTherapistView
	var usage anthropic.Usage
	err := g.retry.Do(ctx, func(ctx context.Context) error {
		result, err := g.llm.Complete(ctx, therapistSystemPrompt, messages, 2048, 0.3)
		if err != nil {
			return err
		}
		usage.Add(result.Usage)
		if err := json.Unmarshal([]byte(anthropic.ExtractJSON(result.Text)), &wire); err != nil {
			return fmt.Errorf("parse therapist view: %w", err)
		}
		return validateTherapist(wire)
	})
	if err != nil {
		g.logger.Warn("therapist view model path failed, using deterministic projection", "error", err)
		view := g.fallbackTherapist(p, sessionSummary)
		return view, usage, []string{fmt.Sprintf("therapist view generated without model: %v", err)}
	}

	view := &plan.TherapistView{
		SessionSummary:   wire.SessionSummary,
		Presentation:     wire.Presentation,
		DiagnosticNotes:  wire.DiagnosticNotes,
		InterventionPlan: wire.InterventionPlan,
		RiskSummary:      wire.RiskSummary,
		PlanForNext:      wire.PlanForNext,
		GeneratedFromAI:  true,
		GeneratedAt:      g.now().UTC(),
	}
	for _, r := range wire.GoalsReview {
		view.GoalsReview = append(view.GoalsReview, plan.GoalReview{
			GoalID:      r.GoalID,
			Description: r.Description,
			Progress:    plan.ClampProgress(r.Progress),
			Note:        r.Note,
		})
	}
	return view, usage, nil
}

// Client builds the plain-language view and holds it to the maximum reading
// grade. Sequence on a failing score: one model simplification pass, then a
// lexical substitution pass. Always returns a view.
func (g *Generator) Client(ctx context.Context, p *plan.CanonicalPlan, sessionSummary string) (*plan.ClientView, anthropic.Usage, []string) {
	planJSON, _ := json.MarshalIndent(p, "", "  ")
	prompt := fmt.Sprintf(clientUserPromptFmt, planJSON, sessionSummary)
	messages := []anthropic.Message{{Role: "user", Content: prompt}}

	var wire wireClientView
	var usage anthropic.Usage
	var warnings []string

	err := g.retry.Do(ctx, func(ctx context.Context) error {
		result, err := g.llm.Complete(ctx, clientSystemPrompt, messages, 2048, 0.4)
		if err != nil {
			return err
		}
		usage.Add(result.Usage)
		if err := json.Unmarshal([]byte(anthropic.ExtractJSON(result.Text)), &wire); err != nil {
			return fmt.Errorf("parse client view: %w", err)
		}
		return validateClient(wire)
	})
	if err != nil {
		g.logger.Warn("client view model path failed, using deterministic projection", "error", err)
		view := g.fallbackClient(p, sessionSummary)
		warnings = append(warnings, fmt.Sprintf("client view generated without model: %v", err))
		return view, usage, warnings
	}

	view := g.clientFromWire(wire, true)
	check := readability.Validate(view.CombinedText(), g.targetGrade, g.maxGrade)
	if !check.Passes {
		g.logger.Info("client view failed readability gate, simplifying",
			"grade", check.Score.GradeLevel,
			"max_grade", g.maxGrade,
		)
		simplified, simplifyUsage, err := g.simplify(ctx, wire, check)
		usage.Add(simplifyUsage)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("model simplification failed: %v", err))
		} else {
			view = g.clientFromWire(*simplified, true)
			check = readability.Validate(view.CombinedText(), g.targetGrade, g.maxGrade)
		}
		if !check.Passes {
			view = substituteClinicalTerms(view)
			check = readability.Validate(view.CombinedText(), g.targetGrade, g.maxGrade)
			warnings = append(warnings, fmt.Sprintf("client view accepted after lexical substitution at grade %.1f", check.Score.GradeLevel))
		}
	}
	view.ReadabilityGrade = check.Score.GradeLevel
	return view, usage, warnings
}

// simplify runs one model pass over the whole view with the readability
// issues spelled out. A single pass only; the lexical fallback covers the
// rest.
func (g *Generator) simplify(ctx context.Context, wire wireClientView, check readability.Validation) (*wireClientView, anthropic.Usage, error) {
	current, _ := json.MarshalIndent(wire, "", "  ")
	issues := "- " + strings.Join(append(append([]string{}, check.Issues...), check.Suggestions...), "\n- ")
	prompt := fmt.Sprintf(simplifyUserPromptFmt, current, issues)
	messages := []anthropic.Message{{Role: "user", Content: prompt}}

	var usage anthropic.Usage
	result, err := g.llm.Complete(ctx, simplifySystemPrompt, messages, 2048, 0.3)
	if err != nil {
		return nil, usage, err
	}
	usage.Add(result.Usage)

	var simplified wireClientView
	if err := json.Unmarshal([]byte(anthropic.ExtractJSON(result.Text)), &simplified); err != nil {
		return nil, usage, fmt.Errorf("parse simplified view: %w", err)
	}
	if err := validateClient(simplified); err != nil {
		return nil, usage, err
	}
	return &simplified, usage, nil
}

func (g *Generator) clientFromWire(wire wireClientView, fromAI bool) *plan.ClientView {
	view := &plan.ClientView{
		WhatWeTalkedAbout: wire.WhatWeTalkedAbout,
		ThingsToTry:       wire.ThingsToTry,
		MyStrengths:       wire.MyStrengths,
		NextSteps:         wire.NextSteps,
		GeneratedFromAI:   fromAI,
		GeneratedAt:       g.now().UTC(),
	}
	for _, goal := range wire.MyGoals {
		view.MyGoals = append(view.MyGoals, plan.ClientGoal{
			Description:   goal.Description,
			Progress:      plan.ClampProgress(goal.Progress),
			Encouragement: goal.Encouragement,
		})
	}
	return view
}

func validateTherapist(w wireTherapistView) error {
	if strings.TrimSpace(w.SessionSummary) == "" {
		return fmt.Errorf("therapist view missing session_summary")
	}
	if strings.TrimSpace(w.PlanForNext) == "" {
		return fmt.Errorf("therapist view missing plan_for_next_session")
	}
	return nil
}

func validateClient(w wireClientView) error {
	if strings.TrimSpace(w.WhatWeTalkedAbout) == "" {
		return fmt.Errorf("client view missing what_we_talked_about")
	}
	if strings.TrimSpace(w.NextSteps) == "" {
		return fmt.Errorf("client view missing next_steps")
	}
	return nil
}
