// Package transport delivers telemetry batches to the ingestion endpoint.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/kon-rad/guardrail/internal/capture"
)

const (
	DefaultEndpoint = "https://api.guardrail.ai/v1/ingest"
	DefaultTimeout  = 5 * time.Second

	HeaderAPIKey     = "X-API-KEY"
	HeaderModelID    = "X-MODEL-ID"
	HeaderSDKVersion = "X-SDK-VERSION"

	maxBackoff = 30 * time.Second
)

// StatusError is returned when the endpoint answers with anything other
// than 200 or 201.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ingest status %d", e.Code)
}

type Options struct {
	Endpoint   string
	APIKey     string
	ModelID    string
	SDKVersion string
	Timeout    time.Duration

	// MaxRetries is the number of extra attempts after a failed one. Zero
	// keeps the single best-effort attempt.
	MaxRetries   int
	RetryBackoff time.Duration
}

// Request is the wire body of one delivery.
type Request struct {
	BatchID string          `json:"batchId"`
	Payload []capture.Event `json:"payload"`
}

type Sender struct {
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Sender {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger,
	}
}

// SetHTTPClient replaces the client used for delivery. The client's own
// Timeout is left as given.
func (s *Sender) SetHTTPClient(client *http.Client) {
	if client != nil {
		s.httpClient = client
	}
}

// NewBatchID returns a time-ordered identifier (UUIDv7). If the random
// source fails it falls back to the current time in base 36.
func NewBatchID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return strconv.FormatInt(time.Now().UnixMilli(), 36)
	}
	return id.String()
}

// SendBatch posts one batch. Any network error, timeout or non-success
// status is returned; the caller owns reporting it.
func (s *Sender) SendBatch(ctx context.Context, events []capture.Event) error {
	batchID := NewBatchID()
	body, err := json.Marshal(Request{BatchID: batchID, Payload: events})
	if err != nil {
		s.logger.Error("encode telemetry batch", "batch_id", batchID, "events", len(events), "error", err)
		return fmt.Errorf("encode batch: %w", err)
	}

	if err := s.sendWithRetry(ctx, body); err != nil {
		s.logger.Debug("telemetry batch delivery failed",
			"batch_id", batchID,
			"events", len(events),
			"error", err,
		)
		return err
	}
	s.logger.Debug("telemetry batch delivered",
		"batch_id", batchID,
		"events", len(events),
		"size", humanize.Bytes(uint64(len(body))),
	)
	return nil
}

func (s *Sender) sendWithRetry(ctx context.Context, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff(attempt - 1)):
			}
		}
		lastErr = s.post(ctx, body)
		if lastErr == nil {
			return nil
		}
	}
	if s.opts.MaxRetries > 0 {
		return fmt.Errorf("ingest failed after %d attempts: %w", s.opts.MaxRetries+1, lastErr)
	}
	return lastErr
}

func (s *Sender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAPIKey, s.opts.APIKey)
	req.Header.Set(HeaderModelID, s.opts.ModelID)
	req.Header.Set(HeaderSDKVersion, s.opts.SDKVersion)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}
	return &StatusError{Code: resp.StatusCode}
}

// backoff is full-jitter exponential, capped at maxBackoff.
func (s *Sender) backoff(attempt int) time.Duration {
	limit := maxBackoff
	if attempt < 30 {
		if d := s.opts.RetryBackoff << attempt; d > 0 && d < maxBackoff {
			limit = d
		}
	}
	return time.Duration(rand.Int64N(int64(limit) + 1))
}
