// Package metrics exposes sweep progress as Prometheus metrics on a private
// registry. Batch sweeps publish them through the node-exporter textfile
// collector rather than an HTTP endpoint.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcome labels.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Registry holds the sweep metrics.
type Registry struct {
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram
	Regions     prometheus.Gauge

	registry *prometheus.Registry
}

// NewRegistry creates a registry with every metric initialized.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.RunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "connectome_sweep_runs_total",
			Help: "Sweep runs by outcome",
		},
		[]string{"status"},
	)

	r.RunDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "connectome_sweep_run_duration_seconds",
			Help:    "Wall-clock time of one engine run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	r.Regions = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "connectome_regions",
			Help: "Regions in the loaded connectivity",
		},
	)

	return r
}

// RecordRun counts a finished run and observes its duration. Skipped runs
// are counted but not timed. Safe on a nil receiver.
func (r *Registry) RecordRun(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.RunsTotal.WithLabelValues(status).Inc()
	if status != StatusSkipped {
		r.RunDuration.Observe(d.Seconds())
	}
}

// SetRegions records the connectivity size. Safe on a nil receiver.
func (r *Registry) SetRegions(n int) {
	if r == nil {
		return
	}
	r.Regions.Set(float64(n))
}

// WriteTextfile writes every metric in text exposition format to path,
// atomically.
func (r *Registry) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
