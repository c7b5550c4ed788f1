// Package metrics exports resampling and scan progress as Prometheus
// metrics for long-running analyses.
package metrics

import (
	"sync/atomic"
	"time"

	"bellstat/domain/stats"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bellstat"

// Recorder implements resample.Observer and records scan progress.
type Recorder struct {
	registry *prometheus.Registry

	draws         *prometheus.CounterVec
	excluded      *prometheus.CounterVec
	shardDuration *prometheus.HistogramVec
	runDuration   *prometheus.HistogramVec
	radii         *prometheus.CounterVec
	lastRadius    *prometheus.GaugeVec

	radiiDone   atomic.Int64
	radiiFailed atomic.Int64
}

// NewRecorder registers all collectors on a fresh registry, so several
// recorders can coexist in one process.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		// draws counts completed resampling draws.
		// Labels: kind (permutation, bootstrap), statistic
		draws: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resample",
			Name:      "draws_total",
			Help:      "Total resampling draws evaluated",
		}, []string{"kind", "statistic"}),

		excluded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resample",
			Name:      "excluded_draws_total",
			Help:      "Total resampling draws excluded as NaN",
		}, []string{"kind", "statistic"}),

		shardDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resample",
			Name:      "shard_duration_seconds",
			Help:      "Wall time of one resampling shard",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"kind", "statistic"}),

		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resample",
			Name:      "run_duration_seconds",
			Help:      "Wall time of one resampling run",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"kind", "statistic"}),

		// radii counts finished scan radii.
		// Labels: statistic, status (ok, failed)
		radii: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "radii_total",
			Help:      "Total scan radii completed",
		}, []string{"statistic", "status"}),

		lastRadius: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "last_radius",
			Help:      "Most recently completed scan radius",
		}, []string{"run", "statistic"}),
	}
}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) ObserveShard(kind stats.ResampleKind, stat stats.Statistic, draws int, elapsed time.Duration) {
	r.shardDuration.WithLabelValues(string(kind), stat.String()).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveRun(kind stats.ResampleKind, stat stats.Statistic, draws, excluded int, elapsed time.Duration) {
	labels := []string{string(kind), stat.String()}
	r.draws.WithLabelValues(labels...).Add(float64(draws))
	r.excluded.WithLabelValues(labels...).Add(float64(excluded))
	r.runDuration.WithLabelValues(labels...).Observe(elapsed.Seconds())
}

// ObserveRadius records one finished scan radius.
func (r *Recorder) ObserveRadius(run string, stat stats.Statistic, entry stats.ScanEntry) {
	status := "ok"
	if entry.Failed() {
		status = "failed"
		r.radiiFailed.Add(1)
	}
	r.radiiDone.Add(1)
	r.radii.WithLabelValues(stat.String(), status).Inc()
	r.lastRadius.WithLabelValues(run, stat.String()).Set(entry.Radius)
}

// Progress is the scan progress reported by the health endpoint.
type Progress struct {
	RadiiDone   int64 `json:"radii_done"`
	RadiiFailed int64 `json:"radii_failed"`
}

func (r *Recorder) Progress() Progress {
	return Progress{RadiiDone: r.radiiDone.Load(), RadiiFailed: r.radiiFailed.Load()}
}
