// Package metrics exposes Prometheus collectors for storage and ingestion and
// serves them on a dedicated HTTP listener.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/sbs/interfaces"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	blobWrites        *prometheus.CounterVec
	dedupHits         *prometheus.CounterVec
	ingestions        *prometheus.CounterVec
	downloads         *prometheus.CounterVec
	ingestionsWorking prometheus.Gauge
}

// NewMetrics creates and registers the collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		blobWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_writes_total",
			Help:      "Blobs written to a backend after a dedup miss.",
		}, []string{"library"}),
		dedupHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_dedup_hits_total",
			Help:      "Blob creations satisfied by an already stored blob.",
		}, []string{"library"}),
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Finished entry ingestions by final state.",
		}, []string{"state"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Finished resource downloads by final state.",
		}, []string{"state"}),
		ingestionsWorking: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingestions_working",
			Help:      "Entry ingestions currently in progress.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.blobWrites,
		m.dedupHits,
		m.ingestions,
		m.downloads,
		m.ingestionsWorking,
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// BlobWritten counts a blob written to a backend.
func (m *Metrics) BlobWritten(library interfaces.LibraryID) {
	if m == nil {
		return
	}
	m.blobWrites.WithLabelValues(string(library)).Inc()
}

// DedupHit counts a blob creation that found the blob already stored.
func (m *Metrics) DedupHit(library interfaces.LibraryID) {
	if m == nil {
		return
	}
	m.dedupHits.WithLabelValues(string(library)).Inc()
}

// IngestionStarted tracks a newly accepted ingestion.
func (m *Metrics) IngestionStarted() {
	if m == nil {
		return
	}
	m.ingestionsWorking.Inc()
}

// IngestionFinished tracks an ingestion reaching a terminal state.
func (m *Metrics) IngestionFinished(state string) {
	if m == nil {
		return
	}
	m.ingestionsWorking.Dec()
	m.ingestions.WithLabelValues(state).Inc()
}

// DownloadFinished counts a download reaching a terminal state.
func (m *Metrics) DownloadFinished(state string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(state).Inc()
}

// MetricsServer serves the collectors at /metrics.
type MetricsServer struct {
	metrics *Metrics
	srv     *http.Server
}

// New creates a metrics server for namespace listening on addr.
func New(namespace, addr string) (*MetricsServer, error) {
	m := NewMetrics(namespace)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		metrics: m,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}, nil
}

// Metrics returns the collectors served by this server.
func (s *MetricsServer) Metrics() *Metrics {
	return s.metrics
}

// ListenAndServe blocks serving metrics until Shutdown.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
