// Package metrics exposes Prometheus collectors for a crawl run.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the collectors of one run on a private registry, so repeated
// runs in one process (and tests) never collide on registration.
type Recorder struct {
	registry *prometheus.Registry

	pagesTotal    *prometheus.CounterVec
	itemsTotal    *prometheus.CounterVec
	requestsTotal *prometheus.CounterVec
	retriesTotal  prometheus.Counter
	delaySeconds  prometheus.Histogram
}

// New registers the harvester collectors on a fresh registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		pagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Listing pages processed, labeled by outcome.",
			},
			[]string{"status"},
		),
		itemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_items_total",
				Help: "Detail pages processed, labeled by outcome.",
			},
			[]string{"status"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_http_requests_total",
				Help: "HTTP attempts, labeled by status code (0 for transport errors).",
			},
			[]string{"code"},
		),
		retriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_retries_total",
				Help: "Retries scheduled after transient failures.",
			},
		),
		delaySeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_politeness_delay_seconds",
				Help:    "Histogram of politeness delays between requests.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
	}
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObservePage increments the page counter for status.
func (r *Recorder) ObservePage(status string) {
	r.pagesTotal.WithLabelValues(status).Inc()
}

// ObserveItem increments the item counter for status.
func (r *Recorder) ObserveItem(status string) {
	r.itemsTotal.WithLabelValues(status).Inc()
}

// ObserveRequest counts one HTTP attempt.
func (r *Recorder) ObserveRequest(code int) {
	r.requestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveRetry counts one scheduled retry.
func (r *Recorder) ObserveRetry() {
	r.retriesTotal.Inc()
}

// ObserveDelay records a politeness delay.
func (r *Recorder) ObserveDelay(delay time.Duration) {
	r.delaySeconds.Observe(delay.Seconds())
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
