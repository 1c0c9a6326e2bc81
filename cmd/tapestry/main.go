package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/halcyon-health/tapestry/internal/anthropic"
	"github.com/halcyon-health/tapestry/internal/api"
	"github.com/halcyon-health/tapestry/internal/audit"
	"github.com/halcyon-health/tapestry/internal/config"
	"github.com/halcyon-health/tapestry/internal/crisis"
	"github.com/halcyon-health/tapestry/internal/extract"
	"github.com/halcyon-health/tapestry/internal/pipeline"
	"github.com/halcyon-health/tapestry/internal/store"
	"github.com/halcyon-health/tapestry/internal/transcribe"
	"github.com/halcyon-health/tapestry/internal/views"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("tapestry starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Anthropic client
	if cfg.AnthropicAPIKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	slog.Info("anthropic client ready", "model", cfg.AnthropicModel)

	// Audit bus (optional — runs without NATS, just no audit trail)
	var recorder audit.Recorder = audit.Nop{}
	if cfg.NatsURL != "" {
		bus, err := audit.Connect(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer bus.Close()
		recorder = bus
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured — running without audit trail")
	}

	// Pipeline stages
	classifier := crisis.New(llm, slog.Default())
	extractor := extract.New(llm, slog.Default())
	generator := views.New(llm, slog.Default(), cfg.TargetReadingGrade, cfg.MaxReadingGrade)

	runner := pipeline.New(classifier, extractor, generator, db, recorder, cfg.AnthropicModel, pipeline.Limits{
		MinTranscriptChars: cfg.MinTranscriptChars,
		MaxTranscriptChars: cfg.MaxTranscriptChars,
		MaxChunkChars:      cfg.MaxChunkChars,
		ChunkOverlapChars:  cfg.ChunkOverlapChars,
	}, slog.Default())

	// Transcription (optional — audio sessions need a speech-to-text service)
	var transcriber api.Transcriber
	if cfg.TranscribeURL != "" {
		transcriber = transcribe.New(cfg.TranscribeURL, cfg.TranscribeToken, "", slog.Default())
		slog.Info("transcription ready", "url", cfg.TranscribeURL)
	} else {
		slog.Warn("transcription not configured — text transcripts only")
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, db, runner, transcriber, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("tapestry ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("tapestry stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
