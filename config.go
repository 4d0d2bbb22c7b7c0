package guardrail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/kon-rad/guardrail/internal/buffer"
	"github.com/kon-rad/guardrail/internal/transport"
)

// SDKVersion is sent with every batch.
const SDKVersion = "1.0.0"

var ErrInvalidConfig = errors.New("invalid guardrail config")

// Config is fixed for the lifetime of a Client. Zero values take the
// defaults shown in the env tags.
type Config struct {
	APIKey        string        `env:"GUARDRAIL_API_KEY"`
	ModelID       string        `env:"GUARDRAIL_MODEL_ID"`
	Endpoint      string        `env:"GUARDRAIL_ENDPOINT,default=https://api.guardrail.ai/v1/ingest"`
	MaxBatchSize  int           `env:"GUARDRAIL_MAX_BATCH_SIZE,default=50"`
	FlushInterval time.Duration `env:"GUARDRAIL_FLUSH_INTERVAL,default=5s"`
	MaxQueueLimit int           `env:"GUARDRAIL_MAX_QUEUE_LIMIT,default=5000"`
	Timeout       time.Duration `env:"GUARDRAIL_TIMEOUT,default=5s"`
	MaxRetries    int           `env:"GUARDRAIL_MAX_RETRIES,default=0"`
	RetryBackoff  time.Duration `env:"GUARDRAIL_RETRY_BACKOFF,default=500ms"`
}

// LoadConfig reads GUARDRAIL_* environment variables.
func LoadConfig(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("load env config: %w", err)
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = transport.DefaultEndpoint
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = buffer.DefaultMaxBatchSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = buffer.DefaultFlushInterval
	}
	if c.MaxQueueLimit == 0 {
		c.MaxQueueLimit = buffer.DefaultMaxQueueLimit
	}
	if c.Timeout == 0 {
		c.Timeout = transport.DefaultTimeout
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	return c
}

func (c Config) validate() error {
	var errs []error
	if c.ModelID == "" {
		errs = append(errs, errors.New("model id is required"))
	}
	if c.MaxBatchSize < 0 {
		errs = append(errs, fmt.Errorf("max batch size %d is negative", c.MaxBatchSize))
	}
	if c.MaxQueueLimit < 0 {
		errs = append(errs, fmt.Errorf("max queue limit %d is negative", c.MaxQueueLimit))
	}
	if c.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("flush interval %s is negative", c.FlushInterval))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout %s is negative", c.Timeout))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries %d is negative", c.MaxRetries))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
