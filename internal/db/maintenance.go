package db

import (
	"context"
	"fmt"
	"os"
	"time"
)

func (s *Store) WALSizeBytes() int64 {
	fi, err := os.Stat(s.path + "-wal")
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (s *Store) DBSizeBytes() int64 {
	fi, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (s *Store) CheckpointIfWALExceeds(ctx context.Context, thresholdBytes int64) (bool, error) {
	if s.WALSizeBytes() <= thresholdBytes {
		return false, nil
	}
	if _, err := s.writer.ExecContext(ctx, "PRAGMA wal_checkpoint(RESTART)"); err != nil {
		return false, fmt.Errorf("wal restart checkpoint: %w", err)
	}
	return true, nil
}

// CleanupOlderThan deletes batches received before the retention window;
// their events go with them through the foreign key cascade.
func (s *Store) CleanupOlderThan(ctx context.Context, retentionDays int, now time.Time) (int64, error) {
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour).UnixMilli()
	res, err := s.writer.ExecContext(ctx, "DELETE FROM batches WHERE received_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired batches: %w", err)
	}
	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		_, _ = s.writer.ExecContext(ctx, "PRAGMA incremental_vacuum(1000)")
	}
	return deleted, nil
}
