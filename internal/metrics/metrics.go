package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/i474232898/roof-pv-estimation/internal/estimate"
)

// Collector exports estimation progress as Prometheus metrics.
// It implements estimate.Observer.
type Collector struct {
	// Request Metrics
	RequestsTotal *prometheus.CounterVec

	// Batch Metrics
	BatchesTotal  *prometheus.CounterVec
	BatchDuration prometheus.Histogram
	BatchSize     prometheus.Histogram

	// Run Metrics
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	CacheHitsTotal     prometheus.Counter
	FailedFingerprints prometheus.Gauge
	NullRoofs          prometheus.Gauge
}

// NewCollector creates a collector registered on reg.
// A nil reg registers on the default registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total number of production estimate requests by outcome",
			},
			[]string{"outcome"}, // "ok", "failed"
		),

		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of joined request batches by outcome",
			},
			[]string{"outcome"},
		),

		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Time from batch dispatch until every task settled",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		BatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Number of distinct requests per batch",
				Buckets:   []float64{1, 5, 10, 20, 30, 50, 100},
			},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of estimation runs by outcome",
			},
			[]string{"outcome"},
		),

		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of estimation runs in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
		),

		CacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Roofs served from the fingerprint cache without a request",
			},
		),

		FailedFingerprints: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_failed_fingerprints",
				Help:      "Fingerprints without a response in the last completed run",
			},
		),

		NullRoofs: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_null_roofs",
				Help:      "Roofs written with null production in the last completed run",
			},
		),
	}
}

// BatchCompleted records one joined batch.
func (c *Collector) BatchCompleted(ev estimate.BatchEvent) {
	c.RequestsTotal.WithLabelValues("ok").Add(float64(ev.Succeeded))
	c.RequestsTotal.WithLabelValues("failed").Add(float64(ev.Failed))
	c.BatchesTotal.WithLabelValues(outcome(ev.Err == nil)).Inc()
	c.BatchDuration.Observe(ev.Duration.Seconds())
	c.BatchSize.Observe(float64(ev.Size))
}

// RunCompleted records one finished or aborted run.
func (c *Collector) RunCompleted(sum estimate.RunSummary) {
	c.RunsTotal.WithLabelValues(outcome(sum.Err == "")).Inc()
	c.RunDuration.Observe(sum.Duration.Seconds())
	c.CacheHitsTotal.Add(float64(sum.CacheHits))
	if sum.Err == "" {
		c.FailedFingerprints.Set(float64(sum.FailedFingerprints))
		c.NullRoofs.Set(float64(sum.NullRoofs))
	}
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
