// guardrail-collector is a reference ingestion endpoint for guardrail
// telemetry. It authenticates batches by X-API-KEY, stores them in SQLite
// deduplicated by batch id, and exposes health, per-model latency summaries
// and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/kon-rad/guardrail/internal/app"
	"github.com/kon-rad/guardrail/internal/config"
	"github.com/kon-rad/guardrail/internal/logging"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		showHelp    bool
		showVersion bool
		port        string
		dbPath      string
	)
	flagSet := pflag.NewFlagSet("guardrail-collector", pflag.ContinueOnError)
	flagSet.BoolVarP(&showHelp, "help", "h", false, "show help")
	flagSet.BoolVar(&showVersion, "version", false, "print version")
	flagSet.StringVar(&port, "port", "", "listen port (overrides GRC_PORT)")
	flagSet.StringVar(&dbPath, "db-path", "", "sqlite database path (overrides GRC_DB_PATH)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			config.WriteHelp(os.Stdout, version)
			return nil
		}
		return err
	}
	if showHelp {
		config.WriteHelp(os.Stdout, version)
		return nil
	}
	if showVersion {
		fmt.Println(version)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Port = port
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger.Info("starting guardrail-collector", "version", version, "port", cfg.Port)

	return app.New(cfg, logger, version).Run(ctx)
}
