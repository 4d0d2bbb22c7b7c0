package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kon-rad/guardrail/internal/config"
	"github.com/kon-rad/guardrail/internal/db"
	"github.com/kon-rad/guardrail/internal/ingest"
	"github.com/kon-rad/guardrail/internal/metrics"
	"github.com/kon-rad/guardrail/internal/server"
)

// Runtime owns the collector's store, ingest worker, HTTP server and
// maintenance loops.
type Runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	version    string
	startedAt  time.Time
	store      *db.Store
	stats      *metrics.Collector
	httpServer *http.Server
	ingestCh   chan ingest.Batch
	workerDone chan error
	bgCancel   context.CancelFunc
	bgWG       sync.WaitGroup

	ready chan struct{}
	addr  atomic.Value

	batchesAccepted atomic.Int64
	batchesRejected atomic.Int64
}

func New(cfg *config.Config, logger *slog.Logger, version string) *Runtime {
	return &Runtime{
		cfg:       cfg,
		logger:    logger,
		version:   version,
		startedAt: time.Now(),
		ready:     make(chan struct{}),
	}
}

// Ready is closed once the listener is bound.
func (r *Runtime) Ready() <-chan struct{} {
	return r.ready
}

// Addr is the bound listen address, empty before Ready.
func (r *Runtime) Addr() string {
	s, _ := r.addr.Load().(string)
	return s
}

// Run serves until ctx is cancelled, then drains and closes everything.
func (r *Runtime) Run(ctx context.Context) error {
	store, err := db.Open(r.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	r.store = store

	journalMode, busyTimeout, autoVacuum, err := r.store.Pragmas(ctx)
	if err != nil {
		_ = r.store.Close()
		return fmt.Errorf("query sqlite pragmas: %w", err)
	}
	r.logger.Info("sqlite opened",
		"path", r.cfg.DBPath,
		"journal_mode", journalMode,
		"busy_timeout", busyTimeout,
		"auto_vacuum", autoVacuum,
	)

	ln, err := net.Listen("tcp", ":"+r.cfg.Port)
	if err != nil {
		_ = r.store.Close()
		return fmt.Errorf("listen: %w", err)
	}

	r.stats = metrics.NewCollector()
	r.ingestCh = make(chan ingest.Batch, ingest.QueueCapacity)
	r.workerDone = make(chan error, 1)

	worker := ingest.NewWorker(r.logger, r.store, r.stats, r.cfg.MaxValueBytes)
	go func() {
		r.workerDone <- worker.Run(r.ingestCh)
	}()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	r.bgCancel = bgCancel
	r.startBackgroundLoops(bgCtx)

	r.httpServer = server.New(ln.Addr().String(), server.Routes{
		Health: server.NewHealthHandler(r.store, r.startedAt, r.version, r),
		Ingest: server.NewIngestHandlers(r, server.IngestOptions{
			APIKeys:      r.cfg.APIKeys,
			MaxBodyBytes: r.cfg.MaxBodyBytes,
			Stats:        r.stats,
			Logger:       r.logger,
		}),
		Summary:  server.SummaryHandler(r.store),
		Gatherer: r.stats.Registry,
	})

	serverErr := make(chan error, 1)
	go func() {
		r.logger.Info("listening", "addr", ln.Addr().String())
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()
	r.addr.Store(ln.Addr().String())
	close(r.ready)

	select {
	case err := <-serverErr:
		shutdownErr := r.shutdown(context.Background())
		if err != nil {
			return errors.Join(fmt.Errorf("http server failed: %w", err), shutdownErr)
		}
		return shutdownErr
	case <-ctx.Done():
		r.logger.Info("shutdown requested")
		return r.shutdown(context.Background())
	}
}

func (r *Runtime) Snapshot() server.RuntimeSnapshot {
	return server.RuntimeSnapshot{
		QueueDepth:      int64(len(r.ingestCh)),
		BatchesAccepted: r.batchesAccepted.Load(),
		BatchesRejected: r.batchesRejected.Load(),
	}
}

func (r *Runtime) Enqueue(batch ingest.Batch) bool {
	if r.ingestCh == nil {
		r.batchesRejected.Add(1)
		return false
	}
	if ingest.TryEnqueue(r.ingestCh, batch) {
		r.batchesAccepted.Add(1)
		return true
	}
	r.batchesRejected.Add(1)
	return false
}

func (r *Runtime) shutdown(ctx context.Context) error {
	var joined error

	if r.httpServer != nil {
		httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := r.httpServer.Shutdown(httpCtx); err != nil {
			joined = errors.Join(joined, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if r.bgCancel != nil {
		r.bgCancel()
		done := make(chan struct{})
		go func() {
			r.bgWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			joined = errors.Join(joined, errors.New("background loop shutdown timeout"))
		}
	}

	// The HTTP server is down, so nothing sends on the channel any more.
	r.logger.Info("draining ingest queue", "remaining", len(r.ingestCh))
	close(r.ingestCh)
	select {
	case err := <-r.workerDone:
		if err != nil {
			joined = errors.Join(joined, fmt.Errorf("worker shutdown: %w", err))
		}
	case <-time.After(5 * time.Second):
		joined = errors.Join(joined, errors.New("worker drain timeout"))
	}

	cpCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.store.Checkpoint(cpCtx); err != nil {
		r.logger.Warn("wal checkpoint failed", "error", err)
		joined = errors.Join(joined, fmt.Errorf("wal checkpoint: %w", err))
	}
	if err := r.store.Close(); err != nil {
		joined = errors.Join(joined, fmt.Errorf("db close: %w", err))
	}

	r.logger.Info("shutdown complete",
		"batches_accepted", r.batchesAccepted.Load(),
		"batches_rejected", r.batchesRejected.Load(),
		"uptime", time.Since(r.startedAt).String(),
	)
	return joined
}

func (r *Runtime) startBackgroundLoops(ctx context.Context) {
	r.every(ctx, r.cfg.CleanupInterval, func(ctx context.Context) {
		removed, err := r.store.CleanupOlderThan(ctx, r.cfg.RetentionDays, time.Now())
		if err != nil {
			r.logger.Warn("cleanup failed", "error", err)
			return
		}
		if removed > 0 {
			r.logger.Info("expired batches removed", "batches", removed)
		}
	})

	r.every(ctx, r.cfg.WALCheckpointInterval, func(ctx context.Context) {
		if _, err := r.store.CheckpointIfWALExceeds(ctx, r.cfg.WALRestartThresholdB); err != nil {
			r.logger.Warn("wal checkpoint loop failed", "error", err)
		}
	})
}

// every runs fn on each tick with a short per-run timeout.
func (r *Runtime) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	r.bgWG.Add(1)
	go func() {
		defer r.bgWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				fn(runCtx)
				cancel()
			}
		}
	}()
}
