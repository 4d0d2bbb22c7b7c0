package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Routes struct {
	Health   http.Handler
	Ingest   *IngestHandlers
	Summary  http.HandlerFunc
	Gatherer prometheus.Gatherer
}

func NewMux(r Routes) *http.ServeMux {
	mux := http.NewServeMux()
	if r.Health != nil {
		mux.Handle("GET /health", r.Health)
	}
	if r.Ingest != nil {
		mux.HandleFunc("POST /v1/ingest", r.Ingest.PostBatch)
	}
	if r.Summary != nil {
		mux.HandleFunc("GET /v1/models/{modelID}/summary", r.Summary)
	}
	if r.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(r.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func New(addr string, r Routes) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewMux(r),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
