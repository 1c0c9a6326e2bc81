package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port            int
	NatsURL         string
	NatsToken       string
	DatabaseURL     string
	LogLevel        string
	AnthropicAPIKey string
	AnthropicModel  string
	TranscribeURL   string
	TranscribeToken string
	APIToken        string

	// Preprocessing bounds.
	MinTranscriptChars int
	MaxTranscriptChars int
	MaxChunkChars      int
	ChunkOverlapChars  int

	// Client-view readability gate.
	TargetReadingGrade float64
	MaxReadingGrade    float64
}

func Load() Config {
	return Config{
		Port:            envInt("TAPESTRY_PORT", 8840),
		NatsURL:         envStr("NATS_URL", "nats://localhost:4222"),
		NatsToken:       envStr("NATS_TOKEN", ""),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("TAPESTRY_MODEL", "claude-sonnet-4-20250514"),
		TranscribeURL:   envStr("TRANSCRIBE_URL", ""),
		TranscribeToken: envStr("TRANSCRIBE_TOKEN", ""),
		APIToken:        envStr("TAPESTRY_API_TOKEN", ""),

		MinTranscriptChars: envInt("TAPESTRY_MIN_TRANSCRIPT_CHARS", 200),
		MaxTranscriptChars: envInt("TAPESTRY_MAX_TRANSCRIPT_CHARS", 500_000),
		MaxChunkChars:      envInt("TAPESTRY_MAX_CHUNK_CHARS", 12_000),
		ChunkOverlapChars:  envInt("TAPESTRY_CHUNK_OVERLAP_CHARS", 600),

		TargetReadingGrade: envFloat("TAPESTRY_TARGET_READING_GRADE", 6.0),
		MaxReadingGrade:    envFloat("TAPESTRY_MAX_READING_GRADE", 8.0),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
