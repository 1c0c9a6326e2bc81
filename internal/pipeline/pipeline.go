// Package pipeline sequences the stages that turn one session transcript
// into a new treatment-plan version: preprocess, crisis gate, extract and
// merge, both views, change summary, save. The runner holds no per-run
// state; everything for a run lives in its Context and Result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/halcyon-health/tapestry/internal/anthropic"
	"github.com/halcyon-health/tapestry/internal/audit"
	"github.com/halcyon-health/tapestry/internal/crisis"
	"github.com/halcyon-health/tapestry/internal/diff"
	"github.com/halcyon-health/tapestry/internal/extract"
	"github.com/halcyon-health/tapestry/internal/plan"
	"github.com/halcyon-health/tapestry/internal/preprocess"
	"github.com/halcyon-health/tapestry/internal/store"
	"github.com/halcyon-health/tapestry/internal/views"
)

// PlanStore is the slice of the persistence layer a run needs.
type PlanStore interface {
	GetPlanByClientID(ctx context.Context, clientID string) (*store.PlanRecord, error)
	CreatePlan(ctx context.Context, p *plan.CanonicalPlan) error
	UpdatePlan(ctx context.Context, currentVersion int, p *plan.CanonicalPlan) error
	CreatePlanVersion(ctx context.Context, v *plan.Version) error
	LockPlan(ctx context.Context, planID string) error
	UnlockPlan(ctx context.Context, planID string) error
}

// Limits bounds transcript and chunk sizes for a run.
type Limits struct {
	MinTranscriptChars int
	MaxTranscriptChars int
	MaxChunkChars      int
	ChunkOverlapChars  int
}

type Runner struct {
	crisis  *crisis.Classifier
	extract *extract.Extractor
	views   *views.Generator
	store   PlanStore
	audit   audit.Recorder
	logger  *slog.Logger
	model   string
	limits  Limits
	now     func() time.Time
}

func New(cls *crisis.Classifier, ext *extract.Extractor, gen *views.Generator, st PlanStore, rec audit.Recorder, model string, limits Limits, logger *slog.Logger) *Runner {
	return &Runner{
		crisis:  cls,
		extract: ext,
		views:   gen,
		store:   st,
		audit:   rec,
		logger:  logger,
		model:   model,
		limits:  limits,
		now:     time.Now,
	}
}

// Execute runs the full chain for one session. It never panics across stage
// boundaries and always returns a typed result; the error cases are folded
// into Result.Errors with Outcome set accordingly.
func (r *Runner) Execute(ctx context.Context, pc Context, onProgress ProgressFunc) *Result {
	start := r.now()
	result := &Result{Outcome: OutcomeFailed}
	defer func() {
		result.ElapsedMS = r.now().Sub(start).Milliseconds()
		result.EstimatedCost = anthropic.EstimateCost(r.model, result.Usage)
	}()

	log := r.logger.With("session_id", pc.SessionID, "client_id", pc.ClientID)

	// Preprocessing. Length validation happens before any model call.
	if err := r.emit(ctx, onProgress, StagePreprocessing, 5, "Cleaning transcript"); err != nil {
		return r.fail(result, err)
	}
	trimmed := strings.TrimSpace(pc.Transcript)
	if len(trimmed) < r.limits.MinTranscriptChars {
		return r.fail(result, fmt.Errorf("%w: %d chars, need at least %d", ErrTranscriptTooShort, len(trimmed), r.limits.MinTranscriptChars))
	}
	if len(trimmed) > r.limits.MaxTranscriptChars {
		return r.fail(result, fmt.Errorf("%w: %d chars, limit %d", ErrTranscriptTooLong, len(trimmed), r.limits.MaxTranscriptChars))
	}

	stageStart := r.now()
	pre := preprocess.Process(pc.Transcript, r.limits.MaxChunkChars, r.limits.ChunkOverlapChars)
	r.audit.StageCompleted("", pc.SessionID, string(StagePreprocessing), r.now().Sub(stageStart))
	if err := r.emit(ctx, onProgress, StagePreprocessing, 15, fmt.Sprintf("Transcript cleaned, %d chunks", len(pre.Chunks))); err != nil {
		return r.fail(result, err)
	}

	// Crisis gate. The only stage allowed to stop the run before extraction.
	if err := r.emit(ctx, onProgress, StageCrisisCheck, 20, "Running safety assessment"); err != nil {
		return r.fail(result, err)
	}
	stageStart = r.now()
	assessment, err := r.crisis.Assess(ctx, pre.CleanText)
	if err != nil {
		return r.fail(result, fmt.Errorf("crisis check: %w", err))
	}
	result.Usage.Add(assessment.Usage)
	result.Warnings = append(result.Warnings, assessment.Warnings...)
	result.CrisisSeverity = assessment.Severity
	r.audit.StageCompleted("", pc.SessionID, string(StageCrisisCheck), r.now().Sub(stageStart))

	if assessment.ShouldHalt() {
		log.Warn("pipeline halted for safety review", "severity", assessment.Severity)
		r.audit.CrisisDetected(pc.SessionID, string(assessment.Severity))
		result.Outcome = OutcomeHalted
		result.CrisisDetected = true
		return result
	}
	if assessment.RequiresManualReview {
		result.Warnings = append(result.Warnings, "crisis assessment flagged for manual review")
	}
	if err := r.emit(ctx, onProgress, StageCrisisCheck, 30, fmt.Sprintf("Safety check passed (severity: %s)", assessment.Severity)); err != nil {
		return r.fail(result, err)
	}

	// Extraction and merge into the canonical plan.
	if err := r.emit(ctx, onProgress, StageExtraction, 35, "Extracting clinical entities"); err != nil {
		return r.fail(result, err)
	}
	stageStart = r.now()

	var prior *plan.CanonicalPlan
	rec, err := r.store.GetPlanByClientID(ctx, pc.ClientID)
	switch {
	case err == nil:
		prior = &rec.Plan
	case errors.Is(err, store.ErrPlanNotFound):
		// First session for this client.
	default:
		return r.fail(result, fmt.Errorf("load prior plan: %w", err))
	}

	var unlock func()
	if prior != nil {
		if err := r.store.LockPlan(ctx, prior.ID); err != nil {
			return r.fail(result, fmt.Errorf("acquire plan lock: %w", err))
		}
		planID := prior.ID
		unlock = func() {
			if err := r.store.UnlockPlan(context.WithoutCancel(ctx), planID); err != nil {
				log.Error("failed to release plan lock", "plan_id", planID, "error", err)
			}
		}
		defer unlock()
	}

	chunkTexts := make([]string, len(pre.Chunks))
	for i, c := range pre.Chunks {
		chunkTexts[i] = c.Text
	}
	ext, err := r.extract.ExtractChunks(ctx, pc.SessionID, chunkTexts)
	if err != nil {
		return r.fail(result, fmt.Errorf("extraction: %w", err))
	}
	result.Usage.Add(ext.Usage)
	result.Warnings = append(result.Warnings, ext.Warnings...)

	now := r.now().UTC()
	var merged *plan.CanonicalPlan
	changeType := plan.ChangeSessionUpdate
	if prior == nil {
		merged = extract.NewPlan(pc.ClientID, ext, now)
		changeType = plan.ChangeInitial
	} else {
		mres := r.extract.Merge(ctx, prior, ext, now)
		merged = mres.Plan
		result.Usage.Add(mres.Usage)
		result.Warnings = append(result.Warnings, mres.Warnings...)
	}

	// The classifier's verdict supersedes whatever the merge carried over,
	// but never lowers a severity derived from extracted risk items.
	merged.Crisis.Severity = plan.MaxSeverity(merged.Crisis.Severity, assessment.Severity)
	merged.Crisis.LastAssessed = now
	if len(assessment.Indicators) > 0 {
		merged.Crisis.Indicators = assessment.Indicators
	}

	r.audit.StageCompleted(merged.ID, pc.SessionID, string(StageExtraction), r.now().Sub(stageStart))
	if err := r.emit(ctx, onProgress, StageExtraction, 55, fmt.Sprintf("Plan updated to version %d", merged.Version)); err != nil {
		return r.fail(result, err)
	}

	// Views. Pure projections of the merged plan; neither can fail the run.
	if err := r.emit(ctx, onProgress, StageTherapistView, 60, "Writing therapist view"); err != nil {
		return r.fail(result, err)
	}
	stageStart = r.now()
	therapistView, tvUsage, tvWarnings := r.views.Therapist(ctx, merged, ext.SessionSummary)
	result.Usage.Add(tvUsage)
	result.Warnings = append(result.Warnings, tvWarnings...)
	r.audit.StageCompleted(merged.ID, pc.SessionID, string(StageTherapistView), r.now().Sub(stageStart))
	if err := r.emit(ctx, onProgress, StageClientView, 70, "Writing client view"); err != nil {
		return r.fail(result, err)
	}
	stageStart = r.now()
	clientView, cvUsage, cvWarnings := r.views.Client(ctx, merged, ext.SessionSummary)
	result.Usage.Add(cvUsage)
	result.Warnings = append(result.Warnings, cvWarnings...)
	r.audit.StageCompleted(merged.ID, pc.SessionID, string(StageClientView), r.now().Sub(stageStart))

	// Change summary, composed from the structural diff.
	if err := r.emit(ctx, onProgress, StageSummary, 85, "Summarizing changes"); err != nil {
		return r.fail(result, err)
	}
	changeSummary := r.summarize(prior, merged, ext)

	// Save: the plan row and its immutable version snapshot.
	if err := r.emit(ctx, onProgress, StageSaving, 90, "Saving plan version"); err != nil {
		return r.fail(result, err)
	}
	stageStart = r.now()
	if prior == nil {
		if err := r.store.CreatePlan(ctx, merged); err != nil {
			return r.fail(result, fmt.Errorf("create plan: %w", err))
		}
	} else {
		if err := r.store.UpdatePlan(ctx, prior.Version, merged); err != nil {
			return r.fail(result, fmt.Errorf("update plan: %w", err))
		}
	}
	version := &plan.Version{
		ID:            plan.NewID(),
		PlanID:        merged.ID,
		Number:        merged.Version,
		Plan:          *merged,
		TherapistView: *therapistView,
		ClientView:    *clientView,
		ChangeType:    changeType,
		ChangeSummary: changeSummary,
		SessionID:     pc.SessionID,
		CreatedBy:     pc.TherapistID,
		CreatedAt:     now,
	}
	if err := r.store.CreatePlanVersion(ctx, version); err != nil {
		return r.fail(result, fmt.Errorf("create plan version: %w", err))
	}
	r.audit.StageCompleted(merged.ID, pc.SessionID, string(StageSaving), r.now().Sub(stageStart))
	r.audit.VersionCreated(merged.ID, merged.Version, string(changeType), pc.SessionID)

	result.Outcome = OutcomeSucceeded
	result.PlanID = merged.ID
	result.PlanVersion = merged.Version

	log.Info("pipeline run complete",
		"plan_id", merged.ID,
		"version", merged.Version,
		"tokens", result.Usage.Total(),
		"warnings", len(result.Warnings),
	)
	if onProgress != nil {
		onProgress(Progress{Stage: StageComplete, Percent: 100, Message: "Treatment plan updated"})
	}
	return result
}

// emit sends one progress event. The abort check lives here so cancellation
// is honored before every stage boundary.
func (r *Runner) emit(ctx context.Context, onProgress ProgressFunc, stage Stage, percent int, message string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	if onProgress != nil {
		onProgress(Progress{Stage: stage, Percent: percent, Message: message})
	}
	return nil
}

func (r *Runner) fail(result *Result, err error) *Result {
	r.logger.Error("pipeline run failed", "error", err)
	result.Outcome = OutcomeFailed
	result.Errors = append(result.Errors, err.Error())
	return result
}

// summarize produces the free-text change summary stored on the version.
func (r *Runner) summarize(prior, merged *plan.CanonicalPlan, ext *extract.Extraction) string {
	if prior == nil {
		if ext.SessionSummary != "" {
			return "Initial treatment plan. " + ext.SessionSummary
		}
		return "Initial treatment plan."
	}

	changes := diff.Compute(prior, merged)
	var parts []string
	for _, c := range changes.Changes {
		if c.Section == "metadata" {
			continue
		}
		parts = append(parts, c.Description)
		if len(parts) == 8 {
			parts = append(parts, fmt.Sprintf("and %d more changes", len(changes.Changes)-8))
			break
		}
	}
	if len(parts) == 0 {
		return "No plan changes from this session."
	}
	return strings.Join(parts, "; ")
}
