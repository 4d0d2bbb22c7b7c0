package guardrail

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kon-rad/guardrail/internal/buffer"
	"github.com/kon-rad/guardrail/internal/capture"
	"github.com/kon-rad/guardrail/internal/metrics"
	"github.com/kon-rad/guardrail/internal/transport"
)

var ErrAlreadyInitialized = errors.New("guardrail client already initialized")

// Event is one captured prediction as sent on the wire.
type Event = capture.Event

// BatchSender delivers one batch. The default is the HTTP transport.
type BatchSender interface {
	SendBatch(ctx context.Context, batch []Event) error
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRegisterer registers the client's Prometheus instruments on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = reg }
}

// WithHTTPClient overrides the HTTP client of the default transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSender replaces the HTTP transport entirely.
func WithSender(s BatchSender) Option {
	return func(c *Client) { c.sender = s }
}

// Client owns the telemetry buffer and its delivery path. The zero value
// and a Client from New are inactive until Init succeeds.
type Client struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	httpClient *http.Client
	sender     BatchSender

	mu      sync.RWMutex
	cfg     Config
	buffer  *buffer.Buffer[Event]
	stats   *metrics.SDK
	started bool
}

func New(opts ...Option) *Client {
	c := &Client{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start is New followed by Init.
func Start(cfg Config, opts ...Option) (*Client, error) {
	c := New(opts...)
	if err := c.Init(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Init validates cfg, builds the transport and starts the buffer's flush
// timer. A client can be initialized once.
func (c *Client) Init(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyInitialized
	}
	logger := c.log()

	sender := c.sender
	if sender == nil {
		ht := transport.New(transport.Options{
			Endpoint:     cfg.Endpoint,
			APIKey:       cfg.APIKey,
			ModelID:      cfg.ModelID,
			SDKVersion:   SDKVersion,
			Timeout:      cfg.Timeout,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
		}, logger)
		ht.SetHTTPClient(c.httpClient)
		sender = ht
	}
	if cfg.APIKey == "" {
		logger.Warn("guardrail api key is empty; the ingestion endpoint may reject batches")
	}

	c.cfg = cfg
	stats, err := metrics.NewSDK(c.registerer, cfg.ModelID)
	if err != nil {
		logger.Warn("guardrail metrics not fully registered", "model_id", cfg.ModelID, "error", err)
	}
	c.stats = stats
	c.buffer = buffer.New(buffer.Options{
		MaxBatchSize:  cfg.MaxBatchSize,
		FlushInterval: cfg.FlushInterval,
		MaxQueueLimit: cfg.MaxQueueLimit,
	}, sender.SendBatch, logger, c.stats)
	c.started = true

	logger.Info("guardrail initialized",
		"model_id", cfg.ModelID,
		"endpoint", cfg.Endpoint,
		"max_batch_size", cfg.MaxBatchSize,
		"flush_interval", cfg.FlushInterval.String(),
		"max_queue_limit", cfg.MaxQueueLimit,
	)
	return nil
}

func (c *Client) log() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Active reports whether the client is initialized and not yet disposed.
func (c *Client) Active() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buffer != nil
}

// ModelID is the identifier stamped on every event.
func (c *Client) ModelID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.ModelID
}

// Flush starts delivery of whatever is buffered without waiting for it.
func (c *Client) Flush() {
	if b := c.activeBuffer(); b != nil {
		b.Flush()
	}
}

// Pending returns the number of buffered events.
func (c *Client) Pending() int {
	if b := c.activeBuffer(); b != nil {
		return b.Len()
	}
	return 0
}

// Dispose stops the flush timer, flushes the remaining events and waits
// for in-flight deliveries until ctx is done. Models wrapped by this client
// keep working as plain pass-throughs afterwards.
func (c *Client) Dispose(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	b := c.buffer
	c.buffer = nil
	c.mu.Unlock()
	if b == nil {
		return nil
	}

	start := time.Now()
	err := b.Close(ctx)
	c.log().Info("guardrail disposed",
		"model_id", c.ModelID(),
		"took", time.Since(start).String(),
	)
	return err
}

func (c *Client) activeBuffer() *buffer.Buffer[Event] {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buffer
}

// record builds and buffers one event. Nothing in here may reach the caller
// of Predict: failures are logged and swallowed.
func (c *Client) record(latency time.Duration, input, output any) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.CaptureFailed()
			c.log().Warn("failed to capture prediction telemetry", "panic", r)
		}
	}()

	c.mu.RLock()
	b, modelID, stats := c.buffer, c.cfg.ModelID, c.stats
	c.mu.RUnlock()
	if b == nil {
		return
	}

	res, err := capture.NewEvent(modelID, latency, input, output)
	if err != nil {
		stats.CaptureFailed()
		c.log().Warn("failed to capture prediction telemetry", "model_id", modelID, "error", err)
		return
	}
	if res.LossyInput || res.LossyOutput {
		c.log().Debug("prediction telemetry captured with reduced fidelity",
			"model_id", modelID,
			"lossy_input", res.LossyInput,
			"lossy_output", res.LossyOutput,
		)
	}
	b.Push(res.Event)
	stats.Captured()
}
