// Package transcribe calls the speech-to-text service that turns session
// audio into a raw transcript. The service reports no token counts, so cost
// accounting uses a synthetic estimate derived from the transcript length.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

// Result is a finished transcription. EstimatedTokens is synthetic (roughly
// four characters per token) since the service returns text only.
type Result struct {
	Text            string
	DurationSeconds float64
	EstimatedTokens int
}

type Client struct {
	apiURL string
	apiKey string
	model  string
	client *http.Client
	logger *slog.Logger
}

func New(apiURL, apiKey, model string, logger *slog.Logger) *Client {
	return &Client{
		apiURL: apiURL,
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 5 * time.Minute},
		logger: logger,
	}
}

// Transcribe uploads one audio file and returns the transcript.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (*Result, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if c.model != "" {
		if err := form.WriteField("model", c.model); err != nil {
			return nil, fmt.Errorf("write model field: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcribe service returned %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var wire struct {
		Text     string  `json:"text"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("parse transcription: %w", err)
	}
	if wire.Text == "" {
		return nil, fmt.Errorf("transcription came back empty")
	}

	result := &Result{
		Text:            wire.Text,
		DurationSeconds: wire.Duration,
		EstimatedTokens: EstimateTokens(wire.Text),
	}
	c.logger.Info("transcription complete",
		"chars", len(result.Text),
		"duration_s", result.DurationSeconds,
		"estimated_tokens", result.EstimatedTokens,
	)
	return result, nil
}

// EstimateTokens approximates a token count from text length. Close enough
// for run-level cost accounting, nothing more.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
