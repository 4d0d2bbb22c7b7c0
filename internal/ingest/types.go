package ingest

import (
	"encoding/json"
	"time"
)

const (
	QueueCapacity = 256
	MaxBatchSize  = 32
	FlushWindow   = 500 * time.Millisecond
)

// Event mirrors the SDK's wire event. Input and output stay raw so they are
// stored exactly as sent.
type Event struct {
	ModelID   string          `json:"modelId"`
	Timestamp string          `json:"timestamp"`
	LatencyMS float64         `json:"latencyMs"`
	Input     json.RawMessage `json:"input"`
	Output    json.RawMessage `json:"output"`
}

// Batch is one accepted ingest request.
type Batch struct {
	BatchID    string
	ModelID    string
	SDKVersion string
	ReceivedAt int64
	Events     []Event
}

func TryEnqueue(ch chan Batch, batch Batch) bool {
	select {
	case ch <- batch:
		return true
	default:
		return false
	}
}
