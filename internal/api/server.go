// Package api exposes the treatment-plan pipeline over HTTP: trigger a run
// for a session, read plans and their history, diff and restore versions,
// and reconcile concurrent edits.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/halcyon-health/tapestry/internal/pipeline"
	"github.com/halcyon-health/tapestry/internal/plan"
	"github.com/halcyon-health/tapestry/internal/store"
	"github.com/halcyon-health/tapestry/internal/transcribe"
)

// PlanStore is the slice of the persistence layer the API reads and writes.
type PlanStore interface {
	GetPlanByID(ctx context.Context, planID string) (*store.PlanRecord, error)
	ListVersions(ctx context.Context, planID string) ([]plan.Version, error)
	GetVersion(ctx context.Context, planID string, number int) (*plan.Version, error)
	GetLatestVersionNumber(ctx context.Context, planID string) (int, error)
	UpdatePlan(ctx context.Context, currentVersion int, p *plan.CanonicalPlan) error
	CreatePlanVersion(ctx context.Context, v *plan.Version) error
}

// Runner executes one pipeline run per session transcript.
type Runner interface {
	Execute(ctx context.Context, pc pipeline.Context, onProgress pipeline.ProgressFunc) *pipeline.Result
}

// Transcriber converts uploaded session audio into a transcript. Nil when no
// speech-to-text service is configured.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (*transcribe.Result, error)
}

type Server struct {
	router      *chi.Mux
	port        int
	store       PlanStore
	runner      Runner
	transcriber Transcriber
	logger      *slog.Logger
}

func NewServer(port int, apiToken string, st PlanStore, runner Runner, tx Transcriber, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:      router,
		port:        port,
		store:       st,
		runner:      runner,
		transcriber: tx,
		logger:      logger,
	}

	router.Get("/health", s.health)

	router.Route("/api/v1", func(r chi.Router) {
		if apiToken != "" {
			r.Use(bearerAuth(apiToken))
		}
		r.Get("/status", s.status)
		r.Post("/sessions/{sessionID}/process", s.processSession)
		r.Post("/transcriptions", s.createTranscription)
		r.Route("/plans/{planID}", func(r chi.Router) {
			r.Get("/", s.getPlan)
			r.Get("/versions", s.listVersions)
			r.Get("/diff", s.diffVersions)
			r.Post("/restore", s.restoreVersion)
			r.Post("/merge", s.mergeVersions)
		})
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the router for tests and for graceful-shutdown servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "tapestry",
		"status":  "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
