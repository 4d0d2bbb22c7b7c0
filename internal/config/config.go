package config

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config drives the reference collector binary.
type Config struct {
	Port                  string        `env:"GRC_PORT,default=8787"`
	DBPath                string        `env:"GRC_DB_PATH,default=/data/guardrail-collector.db"`
	LogLevel              string        `env:"GRC_LOG_LEVEL,default=info"`
	LogFormat             string        `env:"GRC_LOG_FORMAT,default=json"`
	APIKeys               []string      `env:"GRC_API_KEYS"`
	MaxBodyBytes          int64         `env:"GRC_MAX_BODY_BYTES,default=5242880"`
	MaxValueBytes         int           `env:"GRC_MAX_VALUE_BYTES,default=16384"`
	RetentionDays         int           `env:"GRC_RETENTION_DAYS,default=7"`
	CleanupInterval       time.Duration `env:"GRC_CLEANUP_INTERVAL,default=10m"`
	WALCheckpointInterval time.Duration `env:"GRC_WAL_CHECKPOINT_INTERVAL,default=10m"`
	WALRestartThresholdB  int64         `env:"GRC_WAL_RESTART_THRESHOLD_BYTES,default=52428800"`
}

func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	if cfg.RetentionDays < 1 {
		return nil, fmt.Errorf("load env config: retention days must be >= 1, got %d", cfg.RetentionDays)
	}
	return &cfg, nil
}

func WriteHelp(w io.Writer, version string) {
	fmt.Fprintf(w, "guardrail-collector %s\n\n", version)
	fmt.Fprintln(w, "Reference ingestion endpoint for guardrail telemetry batches.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment variables:")
	fmt.Fprintln(w, "  GRC_PORT=8787")
	fmt.Fprintln(w, "  GRC_DB_PATH=/data/guardrail-collector.db")
	fmt.Fprintln(w, "  GRC_LOG_LEVEL=info")
	fmt.Fprintln(w, "  GRC_LOG_FORMAT=json")
	fmt.Fprintln(w, "  GRC_API_KEYS=            (comma separated; empty accepts any key)")
	fmt.Fprintln(w, "  GRC_MAX_BODY_BYTES=5242880")
	fmt.Fprintln(w, "  GRC_MAX_VALUE_BYTES=16384")
	fmt.Fprintln(w, "  GRC_RETENTION_DAYS=7")
	fmt.Fprintln(w, "  GRC_CLEANUP_INTERVAL=10m")
	fmt.Fprintln(w, "  GRC_WAL_CHECKPOINT_INTERVAL=10m")
	fmt.Fprintln(w, "  GRC_WAL_RESTART_THRESHOLD_BYTES=52428800")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -h, --help")
	fmt.Fprintln(w, "  --version")
	fmt.Fprintln(w, "  --port string       overrides GRC_PORT")
	fmt.Fprintln(w, "  --db-path string    overrides GRC_DB_PATH")
}
