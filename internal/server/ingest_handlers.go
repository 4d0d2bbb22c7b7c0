package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kon-rad/guardrail/internal/db"
	"github.com/kon-rad/guardrail/internal/ingest"
	"github.com/kon-rad/guardrail/internal/metrics"
	"github.com/kon-rad/guardrail/internal/transport"
)

type IngestEnqueuer interface {
	Enqueue(batch ingest.Batch) bool
}

type IngestOptions struct {
	// APIKeys lists accepted X-API-KEY values; empty accepts any.
	APIKeys      []string
	MaxBodyBytes int64
	Stats        *metrics.Collector
	Logger       *slog.Logger
}

type IngestHandlers struct {
	enqueuer     IngestEnqueuer
	apiKeys      map[string]struct{}
	maxBodyBytes int64
	stats        *metrics.Collector
	logger       *slog.Logger
}

type batchRequest struct {
	BatchID string         `json:"batchId"`
	Payload []ingest.Event `json:"payload"`
}

type batchResponse struct {
	BatchID  string `json:"batchId"`
	Accepted int    `json:"accepted"`
}

func NewIngestHandlers(enqueuer IngestEnqueuer, opts IngestOptions) *IngestHandlers {
	keys := make(map[string]struct{}, len(opts.APIKeys))
	for _, k := range opts.APIKeys {
		if k != "" {
			keys[k] = struct{}{}
		}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &IngestHandlers{
		enqueuer:     enqueuer,
		apiKeys:      keys,
		maxBodyBytes: opts.MaxBodyBytes,
		stats:        opts.Stats,
		logger:       opts.Logger,
	}
}

func (h *IngestHandlers) PostBatch(w http.ResponseWriter, r *http.Request) {
	if len(h.apiKeys) > 0 {
		if _, ok := h.apiKeys[r.Header.Get(transport.HeaderAPIKey)]; !ok {
			h.reject(w, "unauthorized", "invalid api key", http.StatusUnauthorized)
			return
		}
	}

	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, "too_large", "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.reject(w, "invalid_json", "invalid json", http.StatusBadRequest)
		return
	}
	if req.BatchID == "" {
		h.reject(w, "invalid_batch", "batchId is required", http.StatusBadRequest)
		return
	}

	modelID := r.Header.Get(transport.HeaderModelID)
	if modelID == "" && len(req.Payload) > 0 {
		modelID = req.Payload[0].ModelID
	}
	if modelID == "" {
		h.reject(w, "invalid_batch", "model id is required", http.StatusBadRequest)
		return
	}

	ok := h.enqueuer.Enqueue(ingest.Batch{
		BatchID:    req.BatchID,
		ModelID:    modelID,
		SDKVersion: r.Header.Get(transport.HeaderSDKVersion),
		ReceivedAt: time.Now().UnixMilli(),
		Events:     req.Payload,
	})
	if !ok {
		h.reject(w, "queue_full", "ingest queue full", http.StatusServiceUnavailable)
		return
	}
	h.stats.BatchReceived(modelID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(batchResponse{BatchID: req.BatchID, Accepted: len(req.Payload)})
}

func (h *IngestHandlers) reject(w http.ResponseWriter, reason, msg string, code int) {
	h.stats.BatchRejected(reason)
	h.logger.Debug("ingest request rejected", "reason", reason, "status", code)
	http.Error(w, msg, code)
}

type Summarizer interface {
	Summary(ctx context.Context, modelID string) (db.LatencySummary, error)
}

// SummaryHandler serves GET /v1/models/{modelID}/summary.
func SummaryHandler(store Summarizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := store.Summary(r.Context(), r.PathValue("modelID"))
		if err != nil {
			http.Error(w, "summary unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sum)
	}
}
