// Package crisis implements the two-phase safety gate: a keyword pre-check
// followed by a model-backed assessment. This is the only component that can
// halt the pipeline before extraction.
package crisis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/halcyon-health/tapestry/internal/anthropic"
	"github.com/halcyon-health/tapestry/internal/plan"
	"github.com/halcyon-health/tapestry/internal/retry"
)

// modelCheckThreshold is the transcript length (chars) above which the model
// assessment runs even when no keywords matched.
const modelCheckThreshold = 2000

// Completer is the slice of the model client the classifier needs.
type Completer interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int, temperature float64) (*anthropic.Completion, error)
}

// Assessment is the combined result of both phases.
type Assessment struct {
	Severity             plan.Severity          `json:"severity"`
	ImmediateRisk        bool                   `json:"immediate_risk"`
	Indicators           []plan.CrisisIndicator `json:"indicators,omitempty"`
	RecommendedActions   []string               `json:"recommended_actions,omitempty"`
	Reasoning            string                 `json:"reasoning,omitempty"`
	Confidence           float64                `json:"confidence"`
	KeywordMatched       bool                   `json:"keyword_matched"`
	KeywordCategories    []string               `json:"keyword_categories,omitempty"`
	RequiresManualReview bool                   `json:"requires_manual_review"`
	Warnings             []string               `json:"warnings,omitempty"`
	Usage                anthropic.Usage        `json:"-"`
}

// ShouldHalt reports whether the pipeline must stop for human review.
func (a *Assessment) ShouldHalt() bool {
	return a.Severity.AtLeast(plan.SeverityHigh)
}

type Classifier struct {
	llm    Completer
	retry  retry.Policy
	logger *slog.Logger
}

func New(llm Completer, logger *slog.Logger) *Classifier {
	return &Classifier{
		llm:    llm,
		retry:  retry.DefaultPolicy,
		logger: logger,
	}
}

type modelAssessment struct {
	Severity      string `json:"severity"`
	ImmediateRisk bool   `json:"immediate_risk"`
	Indicators    []struct {
		Type     string `json:"type"`
		Quote    string `json:"quote"`
		Severity string `json:"severity"`
		Context  string `json:"context"`
	} `json:"indicators"`
	RecommendedActions []string `json:"recommended_actions"`
	Reasoning          string   `json:"reasoning"`
}

// Assess runs the keyword pre-check and, when warranted, the model-backed
// assessment, combining them with a max rule on the severity scale.
//
// Failure semantics are asymmetric: a model failure with keyword matches
// degrades to a keyword-only result flagged for manual review; a model
// failure without keyword matches fails closed.
func (c *Classifier) Assess(ctx context.Context, transcript string) (*Assessment, error) {
	kw := CheckKeywords(transcript)

	if kw.Matched {
		c.logger.Warn("crisis keywords matched",
			"categories", kw.Categories,
			"suggested_severity", string(kw.SuggestedSeverity),
		)
	}

	if !kw.Matched && len(transcript) <= modelCheckThreshold {
		return &Assessment{
			Severity:   plan.SeverityNone,
			Confidence: 0.9,
			Reasoning:  "No crisis keywords matched in a short transcript; model assessment skipped.",
		}, nil
	}

	assessed, usage, err := c.modelAssess(ctx, transcript)
	if err != nil {
		if kw.Matched {
			// Degraded result: the keyword phase alone decides, at reduced
			// confidence, and a human must review.
			c.logger.Error("model assessment failed, degrading to keyword result", "error", err)
			return &Assessment{
				Severity:             kw.SuggestedSeverity,
				KeywordMatched:       true,
				KeywordCategories:    kw.Categories,
				Confidence:           0.4,
				RequiresManualReview: true,
				Reasoning:            "Model assessment unavailable; severity from keyword pre-check only.",
				Warnings:             []string{fmt.Sprintf("crisis model assessment failed: %v", err)},
			}, nil
		}
		// No keyword signal and no model: fail closed rather than guessing.
		return nil, fmt.Errorf("crisis assessment: %w", err)
	}

	out := &Assessment{
		Severity:           assessed.severity,
		ImmediateRisk:      assessed.immediateRisk,
		Indicators:         assessed.indicators,
		RecommendedActions: assessed.actions,
		Reasoning:          assessed.reasoning,
		Confidence:         0.85,
		KeywordMatched:     kw.Matched,
		KeywordCategories:  kw.Categories,
		Warnings:           assessed.warnings,
		Usage:              usage,
	}

	// False negatives are unacceptable: the keyword suggestion is a floor.
	if kw.SuggestedSeverity.Rank() > out.Severity.Rank() {
		out.Severity = kw.SuggestedSeverity
		out.Reasoning += fmt.Sprintf(
			" [escalated: keyword pre-check suggested %s, above the model's %s]",
			kw.SuggestedSeverity, assessed.severity,
		)
	}

	return out, nil
}

type parsedAssessment struct {
	severity      plan.Severity
	immediateRisk bool
	indicators    []plan.CrisisIndicator
	actions       []string
	reasoning     string
	warnings      []string
}

func (c *Classifier) modelAssess(ctx context.Context, transcript string) (*parsedAssessment, anthropic.Usage, error) {
	prompt := fmt.Sprintf(userPromptFmt, transcript)
	messages := []anthropic.Message{{Role: "user", Content: prompt}}

	var out *parsedAssessment
	var usage anthropic.Usage
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		result, err := c.llm.Complete(ctx, systemPrompt, messages, 2048, 0.0)
		if err != nil {
			return err
		}
		usage.Add(result.Usage)

		var raw modelAssessment
		if err := json.Unmarshal([]byte(anthropic.ExtractJSON(result.Text)), &raw); err != nil {
			return fmt.Errorf("parse assessment: %w", err)
		}

		parsed := &parsedAssessment{
			immediateRisk: raw.ImmediateRisk,
			actions:       raw.RecommendedActions,
			reasoning:     raw.Reasoning,
		}

		sev, aliased, ok := plan.ParseSeverity(raw.Severity)
		if !ok {
			// Unparseable severity from a safety model reads as a malformed
			// response, not a benign one.
			return fmt.Errorf("unrecognized severity %q in assessment", raw.Severity)
		}
		if aliased {
			parsed.warnings = append(parsed.warnings, `model returned severity "moderate"; treated as "medium"`)
		}
		parsed.severity = sev

		for _, ind := range raw.Indicators {
			indSev, indAliased, indOK := plan.ParseSeverity(ind.Severity)
			if !indOK {
				indSev = sev
			}
			if indAliased {
				parsed.warnings = append(parsed.warnings, `indicator severity "moderate" treated as "medium"`)
			}
			parsed.indicators = append(parsed.indicators, plan.CrisisIndicator{
				Type:     ind.Type,
				Quote:    ind.Quote,
				Severity: indSev,
				Context:  ind.Context,
			})
		}

		out = parsed
		return nil
	})
	if err != nil {
		return nil, usage, err
	}

	return out, usage, nil
}
