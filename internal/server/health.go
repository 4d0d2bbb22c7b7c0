package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kon-rad/guardrail/internal/db"
	"github.com/kon-rad/guardrail/internal/procinfo"
)

type RuntimeSnapshot struct {
	QueueDepth      int64
	BatchesAccepted int64
	BatchesRejected int64
}

type SnapshotProvider interface {
	Snapshot() RuntimeSnapshot
}

type HealthStore interface {
	Stats() db.HealthStats
	Counts(ctx context.Context) (batches int64, events int64, err error)
}

type HealthResponse struct {
	Status          string   `json:"status"`
	UptimeSeconds   int64    `json:"uptime_seconds"`
	Version         string   `json:"version"`
	DBStatus        string   `json:"db_status"`
	DBSizeBytes     int64    `json:"db_size_bytes"`
	DBSize          string   `json:"db_size"`
	WALSizeBytes    int64    `json:"wal_size_bytes"`
	QueueDepth      int64    `json:"queue_depth"`
	BatchesAccepted int64    `json:"batches_accepted"`
	BatchesRejected int64    `json:"batches_rejected"`
	StoredBatches   int64    `json:"stored_batches"`
	StoredEvents    int64    `json:"stored_events"`
	RSSBytes        int64    `json:"rss_bytes"`
	Goroutines      int      `json:"goroutines"`
	GeneratedAt     string   `json:"generated_at"`
	Warnings        []string `json:"warnings,omitempty"`
}

type HealthHandler struct {
	store       HealthStore
	startTime   time.Time
	version     string
	snapshotter SnapshotProvider
}

func NewHealthHandler(store HealthStore, start time.Time, version string, snapshotter SnapshotProvider) *HealthHandler {
	return &HealthHandler{
		store:       store,
		startTime:   start,
		version:     version,
		snapshotter: snapshotter,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := h.snapshotter.Snapshot()
	dbStats := h.store.Stats()
	proc := procinfo.Take()
	batches, events, err := h.store.Counts(r.Context())

	resp := HealthResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(h.startTime).Seconds()),
		Version:         h.version,
		DBStatus:        dbStats.DBStatus,
		DBSizeBytes:     dbStats.DBSizeBytes,
		DBSize:          humanize.Bytes(uint64(max(dbStats.DBSizeBytes, 0))),
		WALSizeBytes:    dbStats.WALSize,
		QueueDepth:      snapshot.QueueDepth,
		BatchesAccepted: snapshot.BatchesAccepted,
		BatchesRejected: snapshot.BatchesRejected,
		StoredBatches:   batches,
		StoredEvents:    events,
		RSSBytes:        proc.RSSBytes,
		Goroutines:      proc.Goroutines,
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		resp.Status = "degraded"
		resp.Warnings = append(resp.Warnings, "stored_counts_unavailable")
	}
	if resp.DBStatus != "ok" {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
