package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kon-rad/guardrail/internal/db"
)

type Store interface {
	InsertBatches(ctx context.Context, batches []db.BatchInsert) (db.WriteResult, error)
}

type Recorder interface {
	Stored(events, duplicates int)
	WriteFailed()
}

// Worker drains accepted batches into the store, grouping up to
// MaxBatchSize requests per transaction or whatever arrived within
// FlushWindow.
type Worker struct {
	logger        *slog.Logger
	store         Store
	stats         Recorder
	maxValueBytes int
}

func NewWorker(logger *slog.Logger, store Store, stats Recorder, maxValueBytes int) *Worker {
	return &Worker{
		logger:        logger,
		store:         store,
		stats:         stats,
		maxValueBytes: maxValueBytes,
	}
}

// Run returns after batches is closed and the remainder is written. A
// failed write is logged and its requests dropped; the loop keeps going.
func (w *Worker) Run(batches <-chan Batch) error {
	ticker := time.NewTicker(FlushWindow)
	defer ticker.Stop()

	pending := make([]Batch, 0, MaxBatchSize)
	for {
		select {
		case b, ok := <-batches:
			if !ok {
				return w.write(pending)
			}
			pending = append(pending, b)
			if len(pending) >= MaxBatchSize {
				if err := w.write(pending); err != nil {
					w.logger.Error("ingest flush failed", "batches", len(pending), "error", err)
				}
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			if err := w.write(pending); err != nil {
				w.logger.Error("ingest timed flush failed", "batches", len(pending), "error", err)
			}
			pending = pending[:0]
		}
	}
}

func (w *Worker) write(pending []Batch) error {
	if len(pending) == 0 {
		return nil
	}
	inserts := make([]db.BatchInsert, 0, len(pending))
	for _, b := range pending {
		receivedAt := b.ReceivedAt
		if receivedAt == 0 {
			receivedAt = time.Now().UnixMilli()
		}
		events := make([]db.EventInsert, 0, len(b.Events))
		for _, ev := range b.Events {
			events = append(events, db.EventInsert{
				ModelID:    ev.ModelID,
				CapturedAt: ev.Timestamp,
				LatencyMS:  ev.LatencyMS,
				InputJSON:  rawValue(ev.Input, w.maxValueBytes),
				OutputJSON: rawValue(ev.Output, w.maxValueBytes),
			})
		}
		inserts = append(inserts, db.BatchInsert{
			BatchID:    b.BatchID,
			ModelID:    b.ModelID,
			SDKVersion: b.SDKVersion,
			ReceivedAt: receivedAt,
			Events:     events,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := w.store.InsertBatches(ctx, inserts)
	if err != nil {
		if w.stats != nil {
			w.stats.WriteFailed()
		}
		return fmt.Errorf("insert batches: %w", err)
	}
	if w.stats != nil {
		w.stats.Stored(res.Events, res.Duplicates)
	}
	if res.Duplicates > 0 {
		w.logger.Info("skipped duplicate batches", "duplicates", res.Duplicates)
	}
	return nil
}
