// Package extract turns transcript text into structured clinical entities
// and reconciles them with the existing canonical plan.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/halcyon-health/tapestry/internal/anthropic"
	"github.com/halcyon-health/tapestry/internal/plan"
	"github.com/halcyon-health/tapestry/internal/retry"
)

// Completer is the slice of the model client the extractor needs.
type Completer interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int, temperature float64) (*anthropic.Completion, error)
}

// Extraction holds the structured entities pulled from one session, each
// already validated and carrying the originating session reference.
type Extraction struct {
	SessionID      string              `json:"session_id"`
	SessionSummary string              `json:"session_summary"`
	Concerns       []plan.Concern      `json:"presenting_concerns"`
	Impressions    []plan.Impression   `json:"clinical_impressions"`
	Diagnoses      []plan.Diagnosis    `json:"diagnoses"`
	Goals          []plan.Goal         `json:"goals"`
	Interventions  []plan.Intervention `json:"interventions"`
	Strengths      []plan.Strength     `json:"strengths"`
	RiskFactors    []plan.RiskFactor   `json:"risk_factors"`
	Homework       []plan.HomeworkItem `json:"homework"`
	Warnings       []string            `json:"warnings,omitempty"`
	Usage          anthropic.Usage     `json:"-"`
}

type Extractor struct {
	llm    Completer
	retry  retry.Policy
	logger *slog.Logger
}

func New(llm Completer, logger *slog.Logger) *Extractor {
	return &Extractor{
		llm:    llm,
		retry:  retry.DefaultPolicy,
		logger: logger,
	}
}

// wire shapes mirror the prompt contract; severities stay strings until
// validation so aliases can be flagged instead of dropped.
type wireExtraction struct {
	SessionSummary string `json:"session_summary"`
	Concerns       []struct {
		Description string `json:"description"`
		Severity    string `json:"severity"`
	} `json:"presenting_concerns"`
	Impressions []struct {
		Text string `json:"text"`
	} `json:"clinical_impressions"`
	Diagnoses []struct {
		Name   string `json:"name"`
		Code   string `json:"code"`
		Status string `json:"status"`
		Notes  string `json:"notes"`
	} `json:"diagnoses"`
	Goals []struct {
		Description string `json:"description"`
		Progress    int    `json:"progress"`
		Status      string `json:"status"`
	} `json:"goals"`
	Interventions []struct {
		Description string `json:"description"`
		Modality    string `json:"modality"`
	} `json:"interventions"`
	Strengths []struct {
		Description string `json:"description"`
	} `json:"strengths"`
	RiskFactors []struct {
		Description string `json:"description"`
		Level       string `json:"level"`
	} `json:"risk_factors"`
	Homework []struct {
		Description string `json:"description"`
	} `json:"homework"`
}

// Extract runs the model over the transcript and validates the output.
// Malformed model output is retried; validation problems on individual items
// become warnings, not failures.
func (e *Extractor) Extract(ctx context.Context, sessionID, transcript string) (*Extraction, error) {
	prompt := fmt.Sprintf(extractUserPromptFmt, transcript)
	messages := []anthropic.Message{{Role: "user", Content: prompt}}

	e.logger.Info("extracting clinical entities",
		"session_id", sessionID,
		"transcript_len", len(transcript),
	)

	var wire wireExtraction
	var usage anthropic.Usage
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		result, err := e.llm.Complete(ctx, extractSystemPrompt, messages, 4096, 0.2)
		if err != nil {
			return err
		}
		usage.Add(result.Usage)
		if err := json.Unmarshal([]byte(anthropic.ExtractJSON(result.Text)), &wire); err != nil {
			return fmt.Errorf("parse extraction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("llm extraction: %w", err)
	}

	ext := e.validate(sessionID, &wire)
	ext.Usage = usage

	e.logger.Info("extraction complete",
		"session_id", sessionID,
		"concerns", len(ext.Concerns),
		"diagnoses", len(ext.Diagnoses),
		"goals", len(ext.Goals),
		"warnings", len(ext.Warnings),
	)

	return ext, nil
}

// ExtractChunks runs Extract over each transcript chunk and folds the
// results into one extraction. Long sessions arrive pre-chunked with overlap
// seeding, so duplicate entities across chunk boundaries are left for the
// merge step to reconcile.
func (e *Extractor) ExtractChunks(ctx context.Context, sessionID string, chunks []string) (*Extraction, error) {
	if len(chunks) == 1 {
		return e.Extract(ctx, sessionID, chunks[0])
	}

	combined := &Extraction{SessionID: sessionID}
	var summaries []string
	for i, chunk := range chunks {
		ext, err := e.Extract(ctx, sessionID, chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk %d of %d: %w", i+1, len(chunks), err)
		}
		if ext.SessionSummary != "" {
			summaries = append(summaries, ext.SessionSummary)
		}
		combined.Concerns = append(combined.Concerns, ext.Concerns...)
		combined.Impressions = append(combined.Impressions, ext.Impressions...)
		combined.Diagnoses = append(combined.Diagnoses, ext.Diagnoses...)
		combined.Goals = append(combined.Goals, ext.Goals...)
		combined.Interventions = append(combined.Interventions, ext.Interventions...)
		combined.Strengths = append(combined.Strengths, ext.Strengths...)
		combined.RiskFactors = append(combined.RiskFactors, ext.RiskFactors...)
		combined.Homework = append(combined.Homework, ext.Homework...)
		combined.Warnings = append(combined.Warnings, ext.Warnings...)
		combined.Usage.Add(ext.Usage)
	}
	combined.SessionSummary = strings.Join(summaries, " ")
	return combined, nil
}

// icdCodeRe matches ICD-10 style codes: letter, two digits, optional
// decimal part, e.g. F41.1 or Z63.
var icdCodeRe = regexp.MustCompile(`^[A-Z]\d{2}(\.\d{1,2})?$`)

func (e *Extractor) validate(sessionID string, wire *wireExtraction) *Extraction {
	ext := &Extraction{
		SessionID:      sessionID,
		SessionSummary: strings.TrimSpace(wire.SessionSummary),
	}
	sessions := []string{sessionID}

	warn := func(format string, args ...any) {
		ext.Warnings = append(ext.Warnings, fmt.Sprintf(format, args...))
	}

	parseSev := func(raw, what string) plan.Severity {
		if strings.TrimSpace(raw) == "" {
			return plan.SeverityNone
		}
		sev, aliased, ok := plan.ParseSeverity(raw)
		if !ok {
			warn("%s: unrecognized severity %q, defaulting to low", what, raw)
			return plan.SeverityLow
		}
		if aliased {
			warn(`%s: severity "moderate" treated as "medium"`, what)
		}
		return sev
	}

	for _, c := range wire.Concerns {
		desc := strings.TrimSpace(c.Description)
		if desc == "" {
			warn("dropped presenting concern with empty description")
			continue
		}
		ext.Concerns = append(ext.Concerns, plan.Concern{
			ID:          plan.NewID(),
			Description: desc,
			Severity:    parseSev(c.Severity, "concern"),
			SessionIDs:  sessions,
		})
	}

	for _, imp := range wire.Impressions {
		text := strings.TrimSpace(imp.Text)
		if text == "" {
			warn("dropped clinical impression with empty text")
			continue
		}
		ext.Impressions = append(ext.Impressions, plan.Impression{
			ID:         plan.NewID(),
			Text:       text,
			SessionIDs: sessions,
		})
	}

	for _, d := range wire.Diagnoses {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			warn("dropped diagnosis with empty name")
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(d.Code))
		if code != "" && !icdCodeRe.MatchString(code) {
			warn("diagnosis %q: code %q is not ICD-10 shaped, cleared", name, code)
			code = ""
		}
		status := plan.DiagnosisStatus(strings.ToLower(strings.TrimSpace(d.Status)))
		switch status {
		case plan.DiagnosisProvisional, plan.DiagnosisConfirmed, plan.DiagnosisRuledOut:
		default:
			warn("diagnosis %q: unrecognized status %q, defaulting to provisional", name, d.Status)
			status = plan.DiagnosisProvisional
		}
		ext.Diagnoses = append(ext.Diagnoses, plan.Diagnosis{
			ID:         plan.NewID(),
			Name:       name,
			Code:       code,
			Status:     status,
			Notes:      strings.TrimSpace(d.Notes),
			SessionIDs: sessions,
		})
	}

	for _, g := range wire.Goals {
		desc := strings.TrimSpace(g.Description)
		if desc == "" {
			warn("dropped goal with empty description")
			continue
		}
		progress := g.Progress
		if progress < 0 || progress > 100 {
			warn("goal %q: progress %d clamped to [0,100]", desc, progress)
			progress = plan.ClampProgress(progress)
		}
		status := plan.GoalStatus(strings.ToLower(strings.TrimSpace(g.Status)))
		switch status {
		case plan.GoalActive, plan.GoalAchieved, plan.GoalPaused:
		default:
			status = plan.GoalActive
		}
		ext.Goals = append(ext.Goals, plan.Goal{
			ID:          plan.NewID(),
			Description: desc,
			Progress:    progress,
			Status:      status,
			SessionIDs:  sessions,
		})
	}

	for _, iv := range wire.Interventions {
		desc := strings.TrimSpace(iv.Description)
		if desc == "" {
			warn("dropped intervention with empty description")
			continue
		}
		ext.Interventions = append(ext.Interventions, plan.Intervention{
			ID:          plan.NewID(),
			Description: desc,
			Modality:    strings.TrimSpace(iv.Modality),
			SessionIDs:  sessions,
		})
	}

	for _, s := range wire.Strengths {
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			continue
		}
		ext.Strengths = append(ext.Strengths, plan.Strength{
			ID:          plan.NewID(),
			Description: desc,
			SessionIDs:  sessions,
		})
	}

	for _, r := range wire.RiskFactors {
		desc := strings.TrimSpace(r.Description)
		if desc == "" {
			warn("dropped risk factor with empty description")
			continue
		}
		ext.RiskFactors = append(ext.RiskFactors, plan.RiskFactor{
			ID:          plan.NewID(),
			Description: desc,
			Level:       parseSev(r.Level, "risk factor"),
			SessionIDs:  sessions,
		})
	}

	for _, h := range wire.Homework {
		desc := strings.TrimSpace(h.Description)
		if desc == "" {
			continue
		}
		ext.Homework = append(ext.Homework, plan.HomeworkItem{
			ID:          plan.NewID(),
			Description: desc,
			SessionIDs:  sessions,
		})
	}

	return ext
}
