package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector instruments the reference ingestion service.
type Collector struct {
	Registry *prometheus.Registry

	batchesReceived *prometheus.CounterVec
	batchesRejected *prometheus.CounterVec
	duplicates      prometheus.Counter
	eventsStored    prometheus.Counter
	writeFailures   prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		Registry: reg,
		batchesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardrail", Subsystem: "collector", Name: "batches_received_total",
			Help: "Batches accepted onto the ingest queue.",
		}, []string{"model_id"}),
		batchesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardrail", Subsystem: "collector", Name: "batches_rejected_total",
			Help: "Batches refused at the HTTP edge.",
		}, []string{"reason"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guardrail", Subsystem: "collector", Name: "batches_duplicate_total",
			Help: "Batches skipped because their batch id was already stored.",
		}),
		eventsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guardrail", Subsystem: "collector", Name: "events_stored_total",
			Help: "Prediction events written to the store.",
		}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guardrail", Subsystem: "collector", Name: "write_failures_total",
			Help: "Store transactions that failed.",
		}),
	}
	reg.MustRegister(c.batchesReceived, c.batchesRejected, c.duplicates, c.eventsStored, c.writeFailures)
	return c
}

func (c *Collector) BatchReceived(modelID string) {
	if c == nil {
		return
	}
	c.batchesReceived.WithLabelValues(modelID).Inc()
}

func (c *Collector) BatchRejected(reason string) {
	if c == nil {
		return
	}
	c.batchesRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) Stored(events, duplicates int) {
	if c == nil {
		return
	}
	c.eventsStored.Add(float64(events))
	c.duplicates.Add(float64(duplicates))
}

func (c *Collector) WriteFailed() {
	if c == nil {
		return
	}
	c.writeFailures.Inc()
}
