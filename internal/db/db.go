package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
)

// Store is the collector's SQLite database: a single writer connection and
// a small reader pool over the same WAL file.
type Store struct {
	path   string
	writer *sql.DB
	reader *sql.DB
}

type HealthStats struct {
	DBStatus    string
	DBSizeBytes int64
	WALSize     int64
}

const pragmaSQL = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA busy_timeout = 10000;
PRAGMA temp_store = MEMORY;
PRAGMA auto_vacuum = INCREMENTAL;
PRAGMA foreign_keys = ON;
PRAGMA cache_size = -8000;
`

func init() {
	sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, _ string) error {
		_, err := conn.ExecContext(context.Background(), pragmaSQL, []driver.NamedValue{})
		return err
	})
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := "file:" + path

	writer, err := openPool(dsn, 1)
	if err != nil {
		return nil, fmt.Errorf("open writer db: %w", err)
	}
	reader, err := openPool(dsn, 4)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader db: %w", err)
	}
	s := &Store{path: path, writer: writer, reader: reader}

	if err := ensureAutoVacuum(writer); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ensure auto_vacuum incremental: %w", err)
	}
	if _, err := writer.Exec(schemaDDL); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

func openPool(dsn string, conns int) (*sql.DB, error) {
	pool, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(conns)
	pool.SetMaxIdleConns(conns)
	if conns == 1 {
		pool.SetConnMaxLifetime(0)
	}
	if err := pool.PingContext(context.Background()); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.writer.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (s *Store) Close() error {
	return errors.Join(s.writer.Close(), s.reader.Close())
}

func (s *Store) Ping(ctx context.Context) error {
	return s.writer.PingContext(ctx)
}

func (s *Store) Stats() HealthStats {
	stats := HealthStats{
		DBStatus:    "ok",
		DBSizeBytes: s.DBSizeBytes(),
		WALSize:     s.WALSizeBytes(),
	}
	if err := s.Ping(context.Background()); err != nil {
		stats.DBStatus = "error"
	}
	return stats
}

func (s *Store) Pragmas(ctx context.Context) (journalMode string, busyTimeout int, autoVacuum int, err error) {
	if err = s.writer.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return "", 0, 0, err
	}
	if err = s.writer.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		return "", 0, 0, err
	}
	if err = s.writer.QueryRowContext(ctx, "PRAGMA auto_vacuum").Scan(&autoVacuum); err != nil {
		return "", 0, 0, err
	}
	return journalMode, busyTimeout, autoVacuum, nil
}

func ensureAutoVacuum(writer *sql.DB) error {
	var mode int
	if err := writer.QueryRow("PRAGMA auto_vacuum").Scan(&mode); err != nil {
		return err
	}
	if mode == 2 {
		return nil
	}
	if _, err := writer.Exec("PRAGMA auto_vacuum = INCREMENTAL;"); err != nil {
		return err
	}
	_, err := writer.Exec("VACUUM;")
	return err
}
