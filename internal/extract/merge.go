package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/halcyon-health/tapestry/internal/anthropic"
	"github.com/halcyon-health/tapestry/internal/plan"
)

// NewPlan creates a version-1 canonical plan from a first extraction. The
// plan's crisis severity starts at the highest severity across extracted
// risk factors.
func NewPlan(clientID string, ext *Extraction, now time.Time) *plan.CanonicalPlan {
	p := &plan.CanonicalPlan{
		ID:            plan.NewID(),
		ClientID:      clientID,
		Version:       1,
		Concerns:      ext.Concerns,
		Impressions:   ext.Impressions,
		Diagnoses:     ext.Diagnoses,
		Goals:         ext.Goals,
		Interventions: ext.Interventions,
		Strengths:     ext.Strengths,
		RiskFactors:   ext.RiskFactors,
		Homework:      ext.Homework,
		SessionIDs:    []string{ext.SessionID},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	p.Crisis = plan.CrisisAssessment{
		Severity:     p.HighestRiskSeverity(),
		LastAssessed: now,
	}
	return p
}

// MergeResult carries the merged plan and how it was produced.
type MergeResult struct {
	Plan     *plan.CanonicalPlan
	FromAI   bool
	Warnings []string
	Usage    anthropic.Usage
}

// Merge reconciles a new extraction with the prior plan. The model-backed
// merge is preferred; any failure there falls back to the deterministic
// merge so a session update never dies on a merge step.
func (e *Extractor) Merge(ctx context.Context, prior *plan.CanonicalPlan, ext *Extraction, now time.Time) *MergeResult {
	merged, usage, err := e.modelMerge(ctx, prior, ext, now)
	if err == nil {
		return &MergeResult{Plan: merged, FromAI: true, Usage: usage}
	}

	e.logger.Warn("model merge failed, using deterministic merge", "error", err)
	result := &MergeResult{
		Plan:     MergeDeterministic(prior, ext, now),
		FromAI:   false,
		Usage:    usage,
		Warnings: []string{fmt.Sprintf("model merge unavailable: %v", err)},
	}
	return result
}

func (e *Extractor) modelMerge(ctx context.Context, prior *plan.CanonicalPlan, ext *Extraction, now time.Time) (*plan.CanonicalPlan, anthropic.Usage, error) {
	priorJSON, err := json.Marshal(prior)
	if err != nil {
		return nil, anthropic.Usage{}, fmt.Errorf("marshal prior plan: %w", err)
	}
	extJSON, err := json.Marshal(ext)
	if err != nil {
		return nil, anthropic.Usage{}, fmt.Errorf("marshal extraction: %w", err)
	}

	prompt := fmt.Sprintf(mergeUserPromptFmt, priorJSON, ext.SessionID, extJSON)
	messages := []anthropic.Message{{Role: "user", Content: prompt}}

	var merged plan.CanonicalPlan
	var usage anthropic.Usage
	err = e.retry.Do(ctx, func(ctx context.Context) error {
		result, err := e.llm.Complete(ctx, mergeSystemPrompt, messages, 8192, 0.0)
		if err != nil {
			return err
		}
		usage.Add(result.Usage)

		var candidate plan.CanonicalPlan
		if err := json.Unmarshal([]byte(anthropic.ExtractJSON(result.Text)), &candidate); err != nil {
			return fmt.Errorf("parse merged plan: %w", err)
		}
		if err := checkMerged(prior, &candidate); err != nil {
			return fmt.Errorf("merged plan rejected: %w", err)
		}
		merged = candidate
		return nil
	})
	if err != nil {
		return nil, usage, err
	}

	sanitizeMerged(prior, &merged, ext.SessionID, now)
	return &merged, usage, nil
}

// checkMerged rejects model merges that lose existing data.
func checkMerged(prior, merged *plan.CanonicalPlan) error {
	if len(merged.Goals) < len(prior.Goals) {
		return fmt.Errorf("merge dropped goals: %d -> %d", len(prior.Goals), len(merged.Goals))
	}
	if len(merged.Diagnoses)+len(merged.Concerns) == 0 && len(prior.Diagnoses)+len(prior.Concerns) > 0 {
		return fmt.Errorf("merge emptied diagnoses and concerns")
	}
	return nil
}

func sanitizeMerged(prior, merged *plan.CanonicalPlan, sessionID string, now time.Time) {
	merged.ID = prior.ID
	merged.ClientID = prior.ClientID
	merged.Version = prior.Version + 1
	merged.CreatedAt = prior.CreatedAt
	merged.UpdatedAt = now
	merged.AddSession(sessionID)

	for i := range merged.Concerns {
		if merged.Concerns[i].ID == "" {
			merged.Concerns[i].ID = plan.NewID()
		}
	}
	for i := range merged.Impressions {
		if merged.Impressions[i].ID == "" {
			merged.Impressions[i].ID = plan.NewID()
		}
	}
	for i := range merged.Diagnoses {
		if merged.Diagnoses[i].ID == "" {
			merged.Diagnoses[i].ID = plan.NewID()
		}
	}
	for i := range merged.Goals {
		if merged.Goals[i].ID == "" {
			merged.Goals[i].ID = plan.NewID()
		}
		merged.Goals[i].Progress = plan.ClampProgress(merged.Goals[i].Progress)
	}
	for i := range merged.Interventions {
		if merged.Interventions[i].ID == "" {
			merged.Interventions[i].ID = plan.NewID()
		}
	}
	for i := range merged.Strengths {
		if merged.Strengths[i].ID == "" {
			merged.Strengths[i].ID = plan.NewID()
		}
	}
	for i := range merged.RiskFactors {
		if merged.RiskFactors[i].ID == "" {
			merged.RiskFactors[i].ID = plan.NewID()
		}
	}
	for i := range merged.Homework {
		if merged.Homework[i].ID == "" {
			merged.Homework[i].ID = plan.NewID()
		}
	}

	// The crisis assessment is owned by the classifier, not the merge.
	merged.Crisis = prior.Crisis
}

// MergeDeterministic is the rule-based fallback merge: append new entities,
// merge diagnoses by case-insensitive name or matching code, union session
// references.
func MergeDeterministic(prior *plan.CanonicalPlan, ext *Extraction, now time.Time) *plan.CanonicalPlan {
	merged := clonePlan(prior)
	merged.Version = prior.Version + 1
	merged.UpdatedAt = now
	merged.AddSession(ext.SessionID)

	merged.Concerns = append(merged.Concerns, ext.Concerns...)
	merged.Impressions = append(merged.Impressions, ext.Impressions...)
	merged.Goals = append(merged.Goals, ext.Goals...)
	merged.Interventions = append(merged.Interventions, ext.Interventions...)
	merged.Strengths = append(merged.Strengths, ext.Strengths...)
	merged.RiskFactors = append(merged.RiskFactors, ext.RiskFactors...)
	merged.Homework = append(merged.Homework, ext.Homework...)

	for _, newDx := range ext.Diagnoses {
		idx := findDiagnosis(merged.Diagnoses, newDx)
		if idx < 0 {
			merged.Diagnoses = append(merged.Diagnoses, newDx)
			continue
		}
		existing := &merged.Diagnoses[idx]
		if existing.Status != plan.DiagnosisConfirmed && newDx.Status == plan.DiagnosisConfirmed {
			existing.Status = plan.DiagnosisConfirmed
			if newDx.Notes != "" {
				if existing.Notes != "" {
					existing.Notes += " "
				}
				existing.Notes += newDx.Notes
			}
		}
		// Either way the diagnosis was discussed this session.
		for _, sid := range newDx.SessionIDs {
			existing.SessionIDs = appendUnique(existing.SessionIDs, sid)
		}
	}

	return merged
}

func findDiagnosis(existing []plan.Diagnosis, dx plan.Diagnosis) int {
	for i, e := range existing {
		if strings.EqualFold(e.Name, dx.Name) {
			return i
		}
		if e.Code != "" && dx.Code != "" && strings.EqualFold(e.Code, dx.Code) {
			return i
		}
	}
	return -1
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

// clonePlan deep-copies via JSON so the prior snapshot stays immutable.
func clonePlan(p *plan.CanonicalPlan) *plan.CanonicalPlan {
	data, _ := json.Marshal(p)
	var out plan.CanonicalPlan
	_ = json.Unmarshal(data, &out)
	return &out
}
