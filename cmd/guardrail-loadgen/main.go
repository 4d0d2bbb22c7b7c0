// guardrail-loadgen drives a synthetic model through the guardrail SDK so the
// buffer, transport and a collector can be exercised end to end.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/kon-rad/guardrail"
	"github.com/kon-rad/guardrail/internal/logging"
)

var errSyntheticFailure = errors.New("synthetic model failure")

type transaction struct {
	Amount   float64 `json:"amount"`
	Country  string  `json:"country"`
	Merchant string  `json:"merchant"`
}

type verdict struct {
	Score float64 `json:"score"`
	Fraud bool    `json:"fraud"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		showHelp    bool
		endpoint    string
		modelID     string
		apiKey      string
		count       int
		concurrency int
		failRate    float64
		logLevel    string
	)
	flagSet := pflag.NewFlagSet("guardrail-loadgen", pflag.ContinueOnError)
	flagSet.BoolVarP(&showHelp, "help", "h", false, "show help")
	flagSet.StringVar(&endpoint, "endpoint", "", "ingestion endpoint (overrides GUARDRAIL_ENDPOINT)")
	flagSet.StringVar(&modelID, "model-id", "", "model id (overrides GUARDRAIL_MODEL_ID)")
	flagSet.StringVar(&apiKey, "api-key", "", "api key (overrides GUARDRAIL_API_KEY)")
	flagSet.IntVarP(&count, "count", "n", 1000, "predictions per worker")
	flagSet.IntVarP(&concurrency, "concurrency", "c", 4, "concurrent callers")
	flagSet.Float64Var(&failRate, "fail-rate", 0.05, "fraction of predictions that fail")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showHelp {
		fmt.Fprintln(os.Stdout, "Usage: guardrail-loadgen [flags]")
		flagSet.PrintDefaults()
		return nil
	}

	logger, err := logging.Setup(logLevel, "text")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := guardrail.LoadConfig(ctx)
	if err != nil {
		return err
	}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if modelID != "" {
		cfg.ModelID = modelID
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}

	reg := prometheus.NewRegistry()
	client, err := guardrail.Start(cfg, guardrail.WithLogger(logger), guardrail.WithRegisterer(reg))
	if err != nil {
		return err
	}
	model := guardrail.Wrap[transaction, verdict](client, guardrail.PredictorFunc[transaction, verdict](
		func(ctx context.Context, tx transaction) (verdict, error) {
			time.Sleep(time.Duration(rand.IntN(2000)) * time.Microsecond)
			if rand.Float64() < failRate {
				return verdict{}, errSyntheticFailure
			}
			score := tx.Amount / 10000
			return verdict{Score: score, Fraud: score > 0.8}, nil
		}))

	countries := []string{"IN", "US", "DE", "BR", "JP"}
	var failed atomic.Int64
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < count; i++ {
				if ctx.Err() != nil {
					return
				}
				_, err := model.Predict(ctx, transaction{
					Amount:   rand.Float64() * 10000,
					Country:  countries[rand.IntN(len(countries))],
					Merchant: fmt.Sprintf("m-%d-%d", worker, i%17),
				})
				if err != nil {
					failed.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	disposeCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout+5*time.Second)
	defer cancel()
	if err := client.Dispose(disposeCtx); err != nil {
		logger.Warn("dispose did not finish", "error", err)
	}

	total := int64(count * concurrency)
	logger.Info("load finished",
		"predictions", humanize.Comma(total),
		"failed", humanize.Comma(failed.Load()),
		"elapsed", elapsed.Round(time.Millisecond).String(),
		"rate_per_sec", humanize.CommafWithDigits(float64(total)/elapsed.Seconds(), 1),
	)
	return logCounters(logger, reg)
}

func logCounters(logger *slog.Logger, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather sdk metrics: %w", err)
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				attrs := []any{"metric", mf.GetName(), "value", c.GetValue()}
				for _, lp := range m.GetLabel() {
					if lp.GetName() != "model_id" {
						attrs = append(attrs, lp.GetName(), lp.GetValue())
					}
				}
				logger.Info("sdk counter", attrs...)
			}
		}
	}
	return nil
}
