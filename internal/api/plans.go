package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/halcyon-health/tapestry/internal/diff"
	"github.com/halcyon-health/tapestry/internal/pipeline"
	"github.com/halcyon-health/tapestry/internal/plan"
	"github.com/halcyon-health/tapestry/internal/store"
)

// ProcessRequest triggers a pipeline run over a session transcript.
type ProcessRequest struct {
	ClientID    string `json:"client_id"`
	TherapistID string `json:"therapist_id"`
	Transcript  string `json:"transcript"`
}

func (s *Server) processSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: %v", err)
		return
	}
	if req.ClientID == "" || req.Transcript == "" {
		writeError(w, http.StatusBadRequest, "client_id and transcript are required")
		return
	}

	result := s.runner.Execute(r.Context(), pipeline.Context{
		SessionID:   sessionID,
		ClientID:    req.ClientID,
		TherapistID: req.TherapistID,
		Transcript:  req.Transcript,
		StartedAt:   time.Now().UTC(),
	}, nil)

	status := http.StatusOK
	if result.Outcome == pipeline.OutcomeFailed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	rec, err := s.store.GetPlanByID(r.Context(), planID)
	if errors.Is(err, store.ErrPlanNotFound) {
		writeError(w, http.StatusNotFound, "plan %s not found", planID)
		return
	}
	if err != nil {
		s.logger.Error("plan fetch failed", "plan_id", planID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load plan")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":      rec.Plan,
		"is_locked": rec.IsLocked,
	})
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	versions, err := s.store.ListVersions(r.Context(), planID)
	if err != nil {
		s.logger.Error("version list failed", "plan_id", planID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load versions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan_id":  planID,
		"versions": versions,
		"count":    len(versions),
	})
}

func (s *Server) diffVersions(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	from, ok := intParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := intParam(w, r, "to")
	if !ok {
		return
	}

	older, err := s.store.GetVersion(r.Context(), planID, from)
	if err != nil {
		versionError(w, s, planID, from, err)
		return
	}
	newer, err := s.store.GetVersion(r.Context(), planID, to)
	if err != nil {
		versionError(w, s, planID, to, err)
		return
	}

	writeJSON(w, http.StatusOK, diff.Compute(&older.Plan, &newer.Plan))
}

// RestoreRequest rolls a plan forward to the content of a historical
// version. History is append-only; this creates a new version.
type RestoreRequest struct {
	Version int    `json:"version"`
	Author  string `json:"author"`
}

func (s *Server) restoreVersion(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")

	var req RestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: %v", err)
		return
	}
	if req.Version < 1 {
		writeError(w, http.StatusBadRequest, "version must be positive")
		return
	}

	historical, err := s.store.GetVersion(r.Context(), planID, req.Version)
	if err != nil {
		versionError(w, s, planID, req.Version, err)
		return
	}
	latest, err := s.store.GetLatestVersionNumber(r.Context(), planID)
	if err != nil {
		s.logger.Error("latest version lookup failed", "plan_id", planID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve latest version")
		return
	}

	now := time.Now().UTC()
	restored := diff.RestoreSnapshot(&historical.Plan, latest, now)
	if err := s.store.UpdatePlan(r.Context(), latest, restored); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			writeError(w, http.StatusConflict, "plan changed during restore, retry")
			return
		}
		s.logger.Error("restore update failed", "plan_id", planID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to restore plan")
		return
	}

	version := &plan.Version{
		ID:            plan.NewID(),
		PlanID:        planID,
		Number:        restored.Version,
		Plan:          *restored,
		TherapistView: historical.TherapistView,
		ClientView:    historical.ClientView,
		ChangeType:    plan.ChangeRestore,
		ChangeSummary: "Restored content of version " + strconv.Itoa(req.Version),
		CreatedBy:     req.Author,
		CreatedAt:     now,
	}
	if err := s.store.CreatePlanVersion(r.Context(), version); err != nil {
		s.logger.Error("restore snapshot write failed", "plan_id", planID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record restored version")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"plan_id":       planID,
		"version":       restored.Version,
		"restored_from": req.Version,
	})
}

// MergeRequest reconciles the current plan against a historical branch
// point: base is the shared ancestor version, incoming the diverged one.
type MergeRequest struct {
	BaseVersion     int `json:"base_version"`
	IncomingVersion int `json:"incoming_version"`
}

func (s *Server) mergeVersions(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")

	var req MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: %v", err)
		return
	}

	base, err := s.store.GetVersion(r.Context(), planID, req.BaseVersion)
	if err != nil {
		versionError(w, s, planID, req.BaseVersion, err)
		return
	}
	incoming, err := s.store.GetVersion(r.Context(), planID, req.IncomingVersion)
	if err != nil {
		versionError(w, s, planID, req.IncomingVersion, err)
		return
	}
	current, err := s.store.GetPlanByID(r.Context(), planID)
	if errors.Is(err, store.ErrPlanNotFound) {
		writeError(w, http.StatusNotFound, "plan %s not found", planID)
		return
	}
	if err != nil {
		s.logger.Error("plan fetch failed", "plan_id", planID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load plan")
		return
	}

	outcome, err := diff.ThreeWay(&base.Plan, &current.Plan, &incoming.Plan)
	if err != nil {
		s.logger.Error("three-way merge failed", "plan_id", planID, "error", err)
		writeError(w, http.StatusInternalServerError, "merge failed")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "invalid %s version %q", name, raw)
		return 0, false
	}
	return n, true
}

func versionError(w http.ResponseWriter, s *Server, planID string, number int, err error) {
	if errors.Is(err, store.ErrPlanNotFound) {
		writeError(w, http.StatusNotFound, "plan %s has no version %d", planID, number)
		return
	}
	s.logger.Error("version fetch failed", "plan_id", planID, "version", number, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to load version")
}
