// Package audit publishes pipeline lifecycle events over NATS. Publishing is
// fire-and-forget: a failed emit is logged and dropped, never surfaced to the
// pipeline.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectStage carries one event per completed pipeline stage.
	SubjectStage = "tapestry.audit.stage"
	// SubjectVersion carries one event per plan version created.
	SubjectVersion = "tapestry.audit.version"
	// SubjectCrisis carries one event per safety halt.
	SubjectCrisis = "tapestry.audit.crisis"
)

// StageEvent records a completed pipeline stage.
type StageEvent struct {
	PlanID    string    `json:"plan_id,omitempty"`
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	ElapsedMS int64     `json:"elapsed_ms"`
	At        time.Time `json:"at"`
}

// VersionEvent records a new plan version.
type VersionEvent struct {
	PlanID     string    `json:"plan_id"`
	Version    int       `json:"version"`
	ChangeType string    `json:"change_type"`
	SessionID  string    `json:"session_id,omitempty"`
	At         time.Time `json:"at"`
}

// CrisisEvent records a safety halt.
type CrisisEvent struct {
	SessionID string    `json:"session_id"`
	Severity  string    `json:"severity"`
	At        time.Time `json:"at"`
}

// Recorder is the slice of the audit bus the pipeline depends on.
type Recorder interface {
	StageCompleted(planID, sessionID, stage string, elapsed time.Duration)
	VersionCreated(planID string, version int, changeType, sessionID string)
	CrisisDetected(sessionID, severity string)
}

// Nop discards every event. Used when no NATS endpoint is configured.
type Nop struct{}

func (Nop) StageCompleted(string, string, string, time.Duration) {}
func (Nop) VersionCreated(string, int, string, string)           {}
func (Nop) CrisisDetected(string, string)                        {}

type Bus struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func Connect(url, token string, logger *slog.Logger) (*Bus, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Bus{conn: nc, logger: logger}, nil
}

func (b *Bus) StageCompleted(planID, sessionID, stage string, elapsed time.Duration) {
	b.publish(SubjectStage, StageEvent{
		PlanID:    planID,
		SessionID: sessionID,
		Stage:     stage,
		ElapsedMS: elapsed.Milliseconds(),
		At:        time.Now().UTC(),
	})
}

func (b *Bus) VersionCreated(planID string, version int, changeType, sessionID string) {
	b.publish(SubjectVersion, VersionEvent{
		PlanID:     planID,
		Version:    version,
		ChangeType: changeType,
		SessionID:  sessionID,
		At:         time.Now().UTC(),
	})
}

func (b *Bus) CrisisDetected(sessionID, severity string) {
	b.publish(SubjectCrisis, CrisisEvent{
		SessionID: sessionID,
		Severity:  severity,
		At:        time.Now().UTC(),
	})
}

func (b *Bus) publish(subject string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("audit event marshal failed", "subject", subject, "error", err)
		return
	}
	if err := b.conn.Publish(subject, payload); err != nil {
		b.logger.Warn("audit publish failed", "subject", subject, "error", err)
	}
}

func (b *Bus) Close() {
	b.conn.Close()
}
