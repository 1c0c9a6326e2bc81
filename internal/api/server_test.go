package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/halcyon-health/tapestry/internal/pipeline"
	"github.com/halcyon-health/tapestry/internal/plan"
	"github.com/halcyon-health/tapestry/internal/store"
	"github.com/halcyon-health/tapestry/internal/transcribe"
)

// fakeStore serves canned plans and versions.
type fakeStore struct {
	plans    map[string]*store.PlanRecord
	versions map[string]map[int]*plan.Version
	updated  []*plan.CanonicalPlan
	appended []*plan.Version
}

func newAPIFakeStore() *fakeStore {
	return &fakeStore{
		plans:    make(map[string]*store.PlanRecord),
		versions: make(map[string]map[int]*plan.Version),
	}
}

func (f *fakeStore) addVersion(v *plan.Version) {
	if f.versions[v.PlanID] == nil {
		f.versions[v.PlanID] = make(map[int]*plan.Version)
	}
	f.versions[v.PlanID][v.Number] = v
}

func (f *fakeStore) GetPlanByID(ctx context.Context, planID string) (*store.PlanRecord, error) {
	rec, ok := f.plans[planID]
	if !ok {
		return nil, store.ErrPlanNotFound
	}
	return rec, nil
}

func (f *fakeStore) ListVersions(ctx context.Context, planID string) ([]plan.Version, error) {
	var out []plan.Version
	for n := len(f.versions[planID]); n >= 1; n-- {
		if v, ok := f.versions[planID][n]; ok {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (f *fakeStore) GetVersion(ctx context.Context, planID string, number int) (*plan.Version, error) {
	v, ok := f.versions[planID][number]
	if !ok {
		return nil, store.ErrPlanNotFound
	}
	return v, nil
}

func (f *fakeStore) GetLatestVersionNumber(ctx context.Context, planID string) (int, error) {
	return len(f.versions[planID]), nil
}

func (f *fakeStore) UpdatePlan(ctx context.Context, currentVersion int, p *plan.CanonicalPlan) error {
	f.updated = append(f.updated, p)
	f.plans[p.ID] = &store.PlanRecord{Plan: *p}
	return nil
}

func (f *fakeStore) CreatePlanVersion(ctx context.Context, v *plan.Version) error {
	f.appended = append(f.appended, v)
	f.addVersion(v)
	return nil
}

// fakeRunner returns a canned pipeline result.
type fakeRunner struct {
	result *pipeline.Result
	got    pipeline.Context
}

func (f *fakeRunner) Execute(ctx context.Context, pc pipeline.Context, onProgress pipeline.ProgressFunc) *pipeline.Result {
	f.got = pc
	return f.result
}

func newTestServer(st PlanStore, runner Runner) *Server {
	return NewServer(8840, "", st, runner, nil, slog.Default())
}

func seedPlan(st *fakeStore, planID string, versions ...*plan.CanonicalPlan) {
	latest := versions[len(versions)-1]
	st.plans[planID] = &store.PlanRecord{Plan: *latest}
	for i, p := range versions {
		st.addVersion(&plan.Version{
			ID:         fmt.Sprintf("ver-%d", i+1),
			PlanID:     planID,
			Number:     p.Version,
			Plan:       *p,
			ChangeType: plan.ChangeSessionUpdate,
			CreatedAt:  time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		})
	}
}

func planV(version int, goalProgress int) *plan.CanonicalPlan {
	return &plan.CanonicalPlan{
		ID:       "plan-1",
		ClientID: "client-1",
		Version:  version,
		Goals: []plan.Goal{
			{ID: "goal-1", Description: "Walk every morning", Progress: goalProgress, Status: plan.GoalActive},
		},
		Crisis: plan.CrisisAssessment{Severity: plan.SeverityNone},
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(newAPIFakeStore(), &fakeRunner{})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(newAPIFakeStore(), &fakeRunner{})

	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["service"] != "tapestry" {
		t.Errorf("expected service tapestry, got %q", body["service"])
	}
}

func TestBearerAuth(t *testing.T) {
	srv := NewServer(8840, "secret-token", newAPIFakeStore(), &fakeRunner{}, nil, slog.Default())

	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}

	// Health stays open for probes.
	req = httptest.NewRequest("GET", "/health", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected open health endpoint, got %d", w.Code)
	}
}

func TestProcessSession(t *testing.T) {
	runner := &fakeRunner{result: &pipeline.Result{
		Outcome:     pipeline.OutcomeSucceeded,
		PlanID:      "plan-1",
		PlanVersion: 2,
	}}
	srv := newTestServer(newAPIFakeStore(), runner)

	body := `{"client_id": "client-1", "therapist_id": "ther-1", "transcript": "Therapist: How was your week?"}`
	req := httptest.NewRequest("POST", "/api/v1/sessions/sess-9/process", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if runner.got.SessionID != "sess-9" || runner.got.ClientID != "client-1" {
		t.Errorf("pipeline context not populated: %+v", runner.got)
	}

	var result pipeline.Result
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.PlanVersion != 2 {
		t.Errorf("expected plan version 2, got %d", result.PlanVersion)
	}
}

func TestProcessSession_FailureMapsTo422(t *testing.T) {
	runner := &fakeRunner{result: &pipeline.Result{
		Outcome: pipeline.OutcomeFailed,
		Errors:  []string{"transcript below minimum length"},
	}}
	srv := newTestServer(newAPIFakeStore(), runner)

	body := `{"client_id": "client-1", "transcript": "hi"}`
	req := httptest.NewRequest("POST", "/api/v1/sessions/sess-9/process", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for failed run, got %d", w.Code)
	}
}

func TestProcessSession_MissingFields(t *testing.T) {
	srv := newTestServer(newAPIFakeStore(), &fakeRunner{})

	req := httptest.NewRequest("POST", "/api/v1/sessions/sess-9/process", strings.NewReader(`{"client_id": ""}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetPlan(t *testing.T) {
	st := newAPIFakeStore()
	seedPlan(st, "plan-1", planV(1, 10))
	srv := newTestServer(st, &fakeRunner{})

	req := httptest.NewRequest("GET", "/api/v1/plans/plan-1", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/plans/nope", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown plan, got %d", w.Code)
	}
}

func TestListVersions(t *testing.T) {
	st := newAPIFakeStore()
	seedPlan(st, "plan-1", planV(1, 10), planV(2, 40))
	srv := newTestServer(st, &fakeRunner{})

	req := httptest.NewRequest("GET", "/api/v1/plans/plan-1/versions", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Count    int            `json:"count"`
		Versions []plan.Version `json:"versions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Count != 2 || body.Versions[0].Number != 2 {
		t.Errorf("expected 2 versions newest first, got %+v", body)
	}
}

func TestDiffVersions(t *testing.T) {
	st := newAPIFakeStore()
	seedPlan(st, "plan-1", planV(1, 10), planV(2, 40))
	srv := newTestServer(st, &fakeRunner{})

	req := httptest.NewRequest("GET", "/api/v1/plans/plan-1/diff?from=1&to=2", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		HasChanges bool `json:"has_changes"`
		Modified   int  `json:"modified"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !body.HasChanges {
		t.Error("expected changes between versions 1 and 2")
	}

	req = httptest.NewRequest("GET", "/api/v1/plans/plan-1/diff?from=abc&to=2", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad version param, got %d", w.Code)
	}
}

func TestRestoreVersion(t *testing.T) {
	st := newAPIFakeStore()
	seedPlan(st, "plan-1", planV(1, 10), planV(2, 40))
	srv := newTestServer(st, &fakeRunner{})

	body := `{"version": 1, "author": "ther-1"}`
	req := httptest.NewRequest("POST", "/api/v1/plans/plan-1/restore", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Version      int `json:"version"`
		RestoredFrom int `json:"restored_from"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Version != 3 || resp.RestoredFrom != 1 {
		t.Errorf("expected version 3 restored from 1, got %+v", resp)
	}
	if len(st.appended) != 1 || st.appended[0].ChangeType != plan.ChangeRestore {
		t.Fatalf("expected a restore version row, got %+v", st.appended)
	}
	if st.appended[0].Plan.Goals[0].Progress != 10 {
		t.Errorf("restored content must equal the historical snapshot, got %+v", st.appended[0].Plan.Goals)
	}
}

func TestMergeVersions(t *testing.T) {
	st := newAPIFakeStore()
	base := planV(1, 10)
	incoming := planV(2, 80)
	seedPlan(st, "plan-1", base, incoming)
	// Current diverged from base on the same goal.
	current := planV(2, 50)
	st.plans["plan-1"] = &store.PlanRecord{Plan: *current}
	srv := newTestServer(st, &fakeRunner{})

	body := `{"base_version": 1, "incoming_version": 2}`
	req := httptest.NewRequest("POST", "/api/v1/plans/plan-1/merge", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var outcome struct {
		Conflicts []struct {
			Field      string `json:"field"`
			Resolution string `json:"resolution"`
		} `json:"conflicts"`
	}
	if err := json.NewDecoder(w.Body).Decode(&outcome); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(outcome.Conflicts) != 1 || outcome.Conflicts[0].Field != "progress" {
		t.Errorf("expected one progress conflict, got %+v", outcome.Conflicts)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := newTestServer(newAPIFakeStore(), &fakeRunner{})

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

type fakeTranscriber struct {
	result   *transcribe.Result
	err      error
	filename string
	bytes    int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, filename string, audio io.Reader) (*transcribe.Result, error) {
	f.filename = filename
	n, _ := io.Copy(io.Discard, audio)
	f.bytes = int(n)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func audioUpload(t *testing.T, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write audio: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("failed to close form: %v", err)
	}
	return &buf, form.FormDataContentType()
}

func TestCreateTranscription(t *testing.T) {
	tx := &fakeTranscriber{result: &transcribe.Result{
		Text:            "Today we talked about sleep.",
		DurationSeconds: 182.4,
		EstimatedTokens: 8,
	}}
	srv := NewServer(8840, "", newAPIFakeStore(), &fakeRunner{}, tx, slog.Default())

	body, contentType := audioUpload(t, "session.mp3", []byte("fake-audio-bytes"))
	req := httptest.NewRequest("POST", "/api/v1/transcriptions", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if tx.filename != "session.mp3" {
		t.Errorf("expected filename session.mp3, got %q", tx.filename)
	}
	if tx.bytes == 0 {
		t.Error("expected audio bytes to reach the transcriber")
	}
	var resp struct {
		Text            string  `json:"text"`
		DurationSeconds float64 `json:"duration_seconds"`
		EstimatedTokens int     `json:"estimated_tokens"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Text != "Today we talked about sleep." {
		t.Errorf("unexpected transcript: %q", resp.Text)
	}
	if resp.EstimatedTokens != 8 {
		t.Errorf("expected 8 estimated tokens, got %d", resp.EstimatedTokens)
	}
}

func TestCreateTranscriptionNotConfigured(t *testing.T) {
	srv := newTestServer(newAPIFakeStore(), &fakeRunner{})

	body, contentType := audioUpload(t, "session.mp3", []byte("fake-audio-bytes"))
	req := httptest.NewRequest("POST", "/api/v1/transcriptions", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestCreateTranscriptionMissingFile(t *testing.T) {
	tx := &fakeTranscriber{result: &transcribe.Result{Text: "x"}}
	srv := NewServer(8840, "", newAPIFakeStore(), &fakeRunner{}, tx, slog.Default())

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	form.WriteField("note", "no audio here")
	form.Close()

	req := httptest.NewRequest("POST", "/api/v1/transcriptions", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
