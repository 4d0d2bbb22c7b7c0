package db

import (
	"context"
	"database/sql"
	"fmt"
)

type EventInsert struct {
	ModelID    string
	CapturedAt string
	LatencyMS  float64
	InputJSON  string
	OutputJSON string
}

type BatchInsert struct {
	BatchID    string
	ModelID    string
	SDKVersion string
	ReceivedAt int64
	Events     []EventInsert
}

type WriteResult struct {
	Batches    int
	Duplicates int
	Events     int
}

type EventRow struct {
	BatchID    string
	Seq        int
	ModelID    string
	CapturedAt string
	LatencyMS  float64
	InputJSON  string
	OutputJSON string
}

type LatencySummary struct {
	ModelID        string  `json:"model_id"`
	Events         int64   `json:"events"`
	AvgLatencyMS   float64 `json:"avg_latency_ms"`
	MaxLatencyMS   float64 `json:"max_latency_ms"`
	LastCapturedAt string  `json:"last_captured_at,omitempty"`
}

// InsertBatches writes batches in one transaction. A batch whose id is
// already stored is skipped together with its events.
func (s *Store) InsertBatches(ctx context.Context, batches []BatchInsert) (WriteResult, error) {
	var res WriteResult
	tx, err := s.writer.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return res, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	batchStmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO batches (batch_id, model_id, sdk_version, received_at, event_count)
VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return res, fmt.Errorf("prepare batch insert: %w", err)
	}
	defer batchStmt.Close()

	eventStmt, err := tx.PrepareContext(ctx, `
INSERT INTO prediction_events (batch_id, seq, model_id, captured_at, received_at, latency_ms, input_json, output_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return res, fmt.Errorf("prepare event insert: %w", err)
	}
	defer eventStmt.Close()

	for _, b := range batches {
		r, err := batchStmt.ExecContext(ctx, b.BatchID, b.ModelID, nullIfEmpty(b.SDKVersion), b.ReceivedAt, len(b.Events))
		if err != nil {
			return WriteResult{}, fmt.Errorf("insert batch %s: %w", b.BatchID, err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			res.Duplicates++
			continue
		}
		for i, ev := range b.Events {
			modelID := ev.ModelID
			if modelID == "" {
				modelID = b.ModelID
			}
			if _, err := eventStmt.ExecContext(ctx,
				b.BatchID, i, modelID, ev.CapturedAt, b.ReceivedAt, ev.LatencyMS,
				nullIfEmpty(ev.InputJSON), nullIfEmpty(ev.OutputJSON),
			); err != nil {
				return WriteResult{}, fmt.Errorf("insert event %d of batch %s: %w", i, b.BatchID, err)
			}
			res.Events++
		}
		res.Batches++
	}

	if err := tx.Commit(); err != nil {
		return WriteResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// BatchEvents returns the stored events of one batch in their original order.
func (s *Store) BatchEvents(ctx context.Context, batchID string) ([]EventRow, error) {
	rows, err := s.reader.QueryContext(ctx, `
SELECT batch_id, seq, model_id, captured_at, latency_ms, COALESCE(input_json, ''), COALESCE(output_json, '')
FROM prediction_events WHERE batch_id = ? ORDER BY seq ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.BatchID, &r.Seq, &r.ModelID, &r.CapturedAt, &r.LatencyMS, &r.InputJSON, &r.OutputJSON); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Counts(ctx context.Context) (batches int64, events int64, err error) {
	if err = s.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM batches").Scan(&batches); err != nil {
		return
	}
	err = s.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM prediction_events").Scan(&events)
	return
}

// Summary aggregates latency for one model. A model with no events yields a
// zero summary, not an error.
func (s *Store) Summary(ctx context.Context, modelID string) (LatencySummary, error) {
	var (
		avg, peak sql.NullFloat64
		last      sql.NullString
	)
	sum := LatencySummary{ModelID: modelID}
	err := s.reader.QueryRowContext(ctx, `
SELECT COUNT(*), AVG(latency_ms), MAX(latency_ms), MAX(captured_at)
FROM prediction_events WHERE model_id = ?`, modelID).Scan(&sum.Events, &avg, &peak, &last)
	if err != nil {
		return LatencySummary{}, err
	}
	sum.AvgLatencyMS = avg.Float64
	sum.MaxLatencyMS = peak.Float64
	sum.LastCapturedAt = last.String
	return sum, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
