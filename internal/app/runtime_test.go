package app

import (
	"io"
	"log/slog"
	"testing"

	"github.com/kon-rad/guardrail/internal/config"
	"github.com/kon-rad/guardrail/internal/ingest"
)

func TestEnqueueBeforeRunIsRejected(t *testing.T) {
	t.Parallel()

	rt := New(&config.Config{}, slog.New(slog.NewJSONHandler(io.Discard, nil)), "test")
	if rt.Enqueue(ingest.Batch{BatchID: "b"}) {
		t.Fatalf("Enqueue() = true before Run")
	}
	snap := rt.Snapshot()
	if snap.BatchesRejected != 1 || snap.BatchesAccepted != 0 || snap.QueueDepth != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if rt.Addr() != "" {
		t.Fatalf("Addr() = %q before Run", rt.Addr())
	}
}

func TestEnqueueCountsQueueFull(t *testing.T) {
	t.Parallel()

	rt := New(&config.Config{}, slog.New(slog.NewJSONHandler(io.Discard, nil)), "test")
	rt.ingestCh = make(chan ingest.Batch, 1)

	if !rt.Enqueue(ingest.Batch{BatchID: "a"}) {
		t.Fatalf("first Enqueue() = false")
	}
	if rt.Enqueue(ingest.Batch{BatchID: "b"}) {
		t.Fatalf("second Enqueue() = true on a full queue")
	}
	snap := rt.Snapshot()
	if snap.QueueDepth != 1 || snap.BatchesAccepted != 1 || snap.BatchesRejected != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
