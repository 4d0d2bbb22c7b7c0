package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/kon-rad/guardrail/internal/db"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestTryEnqueueSaturation(t *testing.T) {
	t.Parallel()

	ch := make(chan Batch, 1)
	if ok := TryEnqueue(ch, Batch{BatchID: "a"}); !ok {
		t.Fatalf("expected first enqueue to succeed")
	}
	if ok := TryEnqueue(ch, Batch{BatchID: "b"}); ok {
		t.Fatalf("expected second enqueue to fail when queue is full")
	}
}

func TestTruncateBytes(t *testing.T) {
	t.Parallel()

	if got := TruncateBytes("abcdef", 3); got != "abc" {
		t.Fatalf("TruncateBytes = %q, want abc", got)
	}
	if got := TruncateBytes("ab", 3); got != "ab" {
		t.Fatalf("TruncateBytes = %q, want ab", got)
	}
	if got := TruncateBytes("ab", 0); got != "" {
		t.Fatalf("TruncateBytes = %q, want empty", got)
	}
	if got := rawValue(json.RawMessage("null"), 10); got != "" {
		t.Fatalf("rawValue(null) = %q, want empty", got)
	}
}

func TestTruncateKeepsRunesAndJSONValid(t *testing.T) {
	t.Parallel()

	// "é" is two bytes; a 2-byte cut would split it.
	if got := TruncateBytes("aé", 2); got != "a" {
		t.Fatalf("TruncateBytes = %q, want a", got)
	}
	if got := TruncateBytes("日本", 5); got != "日" {
		t.Fatalf("TruncateBytes = %q, want 日", got)
	}

	raw := json.RawMessage(`{"note":"café au lait"}`)
	for limit := 1; limit < len(raw); limit++ {
		got := rawValue(raw, limit)
		if got == "" {
			continue
		}
		if !utf8.ValidString(got) || !json.Valid([]byte(got)) {
			t.Fatalf("rawValue(limit=%d) = %q is not valid UTF-8 JSON", limit, got)
		}
		var s string
		if err := json.Unmarshal([]byte(got), &s); err != nil {
			t.Fatalf("rawValue(limit=%d) = %q, want a JSON string: %v", limit, got, err)
		}
	}
	if got := rawValue(raw, len(raw)); got != string(raw) {
		t.Fatalf("rawValue at exact size = %q, want unchanged", got)
	}
}

func TestWorkerFlushesOnWindow(t *testing.T) {
	t.Parallel()

	store, err := db.Open(filepath.Join(t.TempDir(), "collector.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = store.Close() }()

	worker := NewWorker(testLogger(), store, nil, 1024)
	ch := make(chan Batch, QueueCapacity)
	done := make(chan error, 1)
	go func() { done <- worker.Run(ch) }()

	ch <- Batch{
		BatchID: "window-1",
		ModelID: "fraud-v2",
		Events: []Event{{
			ModelID:   "fraud-v2",
			Timestamp: "2026-03-01T10:00:00.000Z",
			LatencyMS: 4.25,
			Input:     json.RawMessage(`{"amount":12}`),
			Output:    json.RawMessage(`0.3`),
		}},
	}

	time.Sleep(FlushWindow + 150*time.Millisecond)

	rows, err := store.BatchEvents(context.Background(), "window-1")
	if err != nil {
		t.Fatalf("batch events: %v", err)
	}
	if len(rows) != 1 || rows[0].LatencyMS != 4.25 || rows[0].OutputJSON != "0.3" {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	close(ch)
	if err := <-done; err != nil {
		t.Fatalf("worker returned error: %v", err)
	}
}

func TestWorkerTruncatesValuesAndDrainsOnClose(t *testing.T) {
	t.Parallel()

	store, err := db.Open(filepath.Join(t.TempDir(), "collector.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = store.Close() }()

	worker := NewWorker(testLogger(), store, nil, 8)
	ch := make(chan Batch, QueueCapacity)
	done := make(chan error, 1)
	go func() { done <- worker.Run(ch) }()

	ch <- Batch{
		BatchID: "trunc",
		ModelID: "m",
		Events: []Event{{
			Timestamp: "2026-03-01T10:00:00.000Z",
			Input:     json.RawMessage(`{"text":"a very long prompt"}`),
		}},
	}
	close(ch)
	if err := <-done; err != nil {
		t.Fatalf("worker returned error: %v", err)
	}

	rows, err := store.BatchEvents(context.Background(), "trunc")
	if err != nil {
		t.Fatalf("batch events: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].InputJSON != `"{\"text\":"` {
		t.Fatalf("input = %q, want 8-byte prefix stored as a JSON string", rows[0].InputJSON)
	}
	if rows[0].ModelID != "m" || rows[0].OutputJSON != "" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (f *failingStore) InsertBatches(context.Context, []db.BatchInsert) (db.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 {
		return db.WriteResult{}, errors.New("disk full")
	}
	return db.WriteResult{Batches: 1}, nil
}

type countingRecorder struct {
	mu       sync.Mutex
	stored   int
	failures int
}

func (c *countingRecorder) Stored(events, _ int) {
	c.mu.Lock()
	c.stored += events
	c.mu.Unlock()
}

func (c *countingRecorder) WriteFailed() {
	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
}

func TestWorkerSurvivesWriteFailure(t *testing.T) {
	t.Parallel()

	store := &failingStore{}
	rec := &countingRecorder{}
	worker := NewWorker(testLogger(), store, rec, 64)
	ch := make(chan Batch, QueueCapacity)
	done := make(chan error, 1)
	go func() { done <- worker.Run(ch) }()

	for i := 0; i < MaxBatchSize; i++ {
		ch <- Batch{BatchID: "x"}
	}
	ch <- Batch{BatchID: "after"}
	close(ch)
	if err := <-done; err != nil {
		t.Fatalf("worker returned error: %v", err)
	}

	store.mu.Lock()
	calls := store.calls
	store.mu.Unlock()
	if calls != 2 {
		t.Fatalf("store calls = %d, want 2", calls)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.failures != 1 {
		t.Fatalf("write failures = %d, want 1", rec.failures)
	}
}
