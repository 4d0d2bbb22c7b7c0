package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Flush reasons.
const (
	ReasonSize     = "size"
	ReasonInterval = "interval"
	ReasonManual   = "manual"
	ReasonShutdown = "shutdown"
)

// SDK instruments the capture and delivery path of one client. A nil *SDK
// is valid and records nothing.
type SDK struct {
	captured        prometheus.Counter
	captureFailures prometheus.Counter
	evicted         prometheus.Counter
	dropped         prometheus.Counter
	flushes         *prometheus.CounterVec
	batches         *prometheus.CounterVec
	deliveryLatency prometheus.Histogram
	queueDepth      prometheus.Gauge
}

// NewSDK builds the instruments labelled with modelID. When reg is non-nil
// they are registered on it; collectors already registered there are reused.
// Any other registration failure is returned alongside a usable SDK whose
// affected instruments are simply not exported.
func NewSDK(reg prometheus.Registerer, modelID string) (*SDK, error) {
	labels := prometheus.Labels{"model_id": modelID}
	s := &SDK{
		captured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guardrail", Subsystem: "sdk", Name: "events_captured_total",
			Help: "Prediction events pushed into the buffer.", ConstLabels: labels,
		}),
		captureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guardrail", Subsystem: "sdk", Name: "capture_failures_total",
			Help: "Successful predictions whose telemetry could not be captured.", ConstLabels: labels,
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guardrail", Subsystem: "sdk", Name: "events_evicted_total",
			Help: "Oldest events discarded because the queue hit its limit.", ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guardrail", Subsystem: "sdk", Name: "events_dropped_total",
			Help: "Events pushed after the buffer was closed.", ConstLabels: labels,
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardrail", Subsystem: "sdk", Name: "flushes_total",
			Help: "Non-empty flushes by trigger.", ConstLabels: labels,
		}, []string{"reason"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardrail", Subsystem: "sdk", Name: "batches_total",
			Help: "Batch delivery attempts by outcome.", ConstLabels: labels,
		}, []string{"outcome"}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "guardrail", Subsystem: "sdk", Name: "delivery_duration_seconds",
			Help:    "Wall time spent delivering one batch.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10}, ConstLabels: labels,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "guardrail", Subsystem: "sdk", Name: "queue_depth",
			Help: "Events currently buffered.", ConstLabels: labels,
		}),
	}
	if reg == nil {
		return s, nil
	}
	var errs []error
	s.captured = register(reg, s.captured, &errs)
	s.captureFailures = register(reg, s.captureFailures, &errs)
	s.evicted = register(reg, s.evicted, &errs)
	s.dropped = register(reg, s.dropped, &errs)
	s.flushes = register(reg, s.flushes, &errs)
	s.batches = register(reg, s.batches, &errs)
	s.deliveryLatency = register(reg, s.deliveryLatency, &errs)
	s.queueDepth = register(reg, s.queueDepth, &errs)
	if len(errs) > 0 {
		return s, fmt.Errorf("register sdk metrics: %w", errors.Join(errs...))
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, errs *[]error) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	*errs = append(*errs, err)
	return c
}

func (s *SDK) Captured() {
	if s == nil {
		return
	}
	s.captured.Inc()
}

func (s *SDK) CaptureFailed() {
	if s == nil {
		return
	}
	s.captureFailures.Inc()
}

func (s *SDK) Evicted(n int) {
	if s == nil || n <= 0 {
		return
	}
	s.evicted.Add(float64(n))
}

func (s *SDK) Dropped(n int) {
	if s == nil || n <= 0 {
		return
	}
	s.dropped.Add(float64(n))
}

func (s *SDK) Flushed(reason string) {
	if s == nil {
		return
	}
	s.flushes.WithLabelValues(reason).Inc()
}

func (s *SDK) Delivered(took time.Duration, err error) {
	if s == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.batches.WithLabelValues(outcome).Inc()
	s.deliveryLatency.Observe(took.Seconds())
}

func (s *SDK) QueueDepth(n int) {
	if s == nil {
		return
	}
	s.queueDepth.Set(float64(n))
}
