// Package metrics exposes dispatch outcomes as Prometheus metrics.
//
// A nil *Recorder is valid and records nothing, so pipelines run unchanged
// when no metrics endpoint is configured.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns the ingestion metrics and the registry they are exported from.
type Recorder struct {
	registry   *prometheus.Registry
	dispatched *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	batches    *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewRecorder creates a Recorder backed by its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_records_dispatched_total",
			Help: "Payloads sent to an ingestion endpoint, by delivery status",
		}, []string{"connector", "status"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_records_rejected_total",
			Help: "Records dropped before dispatch, by reason",
		}, []string{"connector", "reason"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_batches_flushed_total",
			Help: "Batches flushed to the ingestion endpoint",
		}, []string{"connector"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_delivery_duration_seconds",
			Help:    "Duration of single payload deliveries",
			Buckets: prometheus.DefBuckets,
		}, []string{"connector"}),
	}
	r.registry.MustRegister(r.dispatched, r.rejected, r.batches, r.latency)
	return r
}

// Registry returns the registry the metrics are registered with.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Dispatched counts one delivered payload; status is SUCCESS or FAILURE.
func (r *Recorder) Dispatched(connector, status string) {
	if r == nil {
		return
	}
	r.dispatched.WithLabelValues(connector, status).Inc()
}

// Rejected counts one record dropped at build time.
func (r *Recorder) Rejected(connector, reason string) {
	if r == nil {
		return
	}
	r.rejected.WithLabelValues(connector, reason).Inc()
}

// BatchFlushed counts one flushed batch.
func (r *Recorder) BatchFlushed(connector string) {
	if r == nil {
		return
	}
	r.batches.WithLabelValues(connector).Inc()
}

// ObserveDelivery records the duration of one Send call.
func (r *Recorder) ObserveDelivery(connector string, d time.Duration) {
	if r == nil {
		return
	}
	r.latency.WithLabelValues(connector).Observe(d.Seconds())
}
