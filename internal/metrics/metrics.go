// Package metrics records Prometheus metrics for pipeline runs and stages.
//
// A run is a short-lived batch job, so metrics are pushed to a Prometheus
// Pushgateway when one is configured rather than scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/leapstack-labs/listingwh/pkg/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "listingwh"

// Recorder holds the pipeline metrics.
type Recorder struct {
	StageDuration *prometheus.HistogramVec
	StageAttempts *prometheus.CounterVec
	StageRows     *prometheus.GaugeVec
	StagesTotal   *prometheus.CounterVec
	RunsTotal     *prometheus.CounterVec
	RunDuration   prometheus.Gauge
	LastSuccess   prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Wall time of a stage execution including retries",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
			},
			[]string{"stage", "status"},
		),
		StageAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_attempts_total",
				Help:      "Transformation attempts by stage",
			},
			[]string{"stage"},
		),
		StageRows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_rows",
				Help:      "Rows materialized by the last execution of a stage",
			},
			[]string{"stage"},
		),
		StagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_total",
				Help:      "Finished stages by terminal status",
			},
			[]string{"stage", "status"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished runs by status",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of the last run",
			},
		),
		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run",
			},
		),
	}

	r.registry.MustRegister(
		r.StageDuration,
		r.StageAttempts,
		r.StageRows,
		r.StagesTotal,
		r.RunsTotal,
		r.RunDuration,
		r.LastSuccess,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// StageFinished records a terminal stage outcome.
func (r *Recorder) StageFinished(stage string, status core.StageStatus, attempts int, rows int64, elapsed time.Duration) {
	r.StagesTotal.WithLabelValues(stage, string(status)).Inc()
	if attempts == 0 {
		// Blocked by an upstream failure; never executed.
		return
	}
	r.StageDuration.WithLabelValues(stage, string(status)).Observe(elapsed.Seconds())
	r.StageAttempts.WithLabelValues(stage).Add(float64(attempts))
	if status == core.StageStatusSucceeded {
		r.StageRows.WithLabelValues(stage).Set(float64(rows))
	}
}

// RunFinished records a finished run.
func (r *Recorder) RunFinished(status core.RunStatus, elapsed time.Duration) {
	r.RunsTotal.WithLabelValues(string(status)).Inc()
	r.RunDuration.Set(elapsed.Seconds())
	if status == core.RunStatusSucceeded {
		r.LastSuccess.SetToCurrentTime()
	}
}

// Push sends all metrics to the Pushgateway at url under job.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
