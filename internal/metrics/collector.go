package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes migration metrics
type Collector struct {
	registry      *prometheus.Registry
	batchesTotal  *prometheus.CounterVec
	syncAttempts  prometheus.Counter
	gapMinutes    prometheus.Gauge
	batchDuration prometheus.Histogram
}

// New creates a new metrics collector
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrate_batches_total",
				Help: "Total number of batch windows processed",
			},
			[]string{"status"},
		),
		syncAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "migrate_sync_attempts_total",
				Help: "Total number of executor invocations including retries",
			},
		),
		gapMinutes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "migrate_gap_minutes",
				Help: "Minutes between the checkpoint and the source cluster's latest document",
			},
		),
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "migrate_batch_duration_seconds",
				Help:    "Time taken to sync one batch window",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
	}

	c.registry.MustRegister(c.batchesTotal)
	c.registry.MustRegister(c.syncAttempts)
	c.registry.MustRegister(c.gapMinutes)
	c.registry.MustRegister(c.batchDuration)

	return c
}

// IncBatchSuccess increments the successful batch counter
func (c *Collector) IncBatchSuccess() {
	c.batchesTotal.WithLabelValues("success").Inc()
}

// IncBatchFailed increments the failed batch counter
func (c *Collector) IncBatchFailed() {
	c.batchesTotal.WithLabelValues("failed").Inc()
}

// IncSyncAttempt counts one executor invocation
func (c *Collector) IncSyncAttempt() {
	c.syncAttempts.Inc()
}

// SetGapMinutes records the current gap
func (c *Collector) SetGapMinutes(gap int) {
	c.gapMinutes.Set(float64(gap))
}

// ObserveBatchDuration observes one batch window's sync duration
func (c *Collector) ObserveBatchDuration(d time.Duration) {
	c.batchDuration.Observe(d.Seconds())
}

// StartServer starts the metrics HTTP server
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
