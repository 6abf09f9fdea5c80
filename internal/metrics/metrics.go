// Package metrics defines the Prometheus registry for ingest job
// outcomes, checkpoint lag, and archival backlog.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Prometheus metric the scheduler and its jobs emit.
type Registry struct {
	JobRuns         *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	JobMisfires     *prometheus.CounterVec
	CheckpointLag   *prometheus.GaugeVec
	ArchivalBacklog *prometheus.GaugeVec
	TicksIngested   *prometheus.CounterVec
	TradesIngested  *prometheus.CounterVec
}

// NewRegistry builds and registers the ingest metrics.
func NewRegistry() *Registry {
	r := &Registry{
		JobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_job_runs_total",
				Help: "Total scheduler job executions by job and outcome",
			},
			[]string{"job", "area", "outcome"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_job_duration_seconds",
				Help:    "Duration of each scheduler job run",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"job", "area"},
		),
		JobMisfires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_job_misfires_total",
				Help: "Total job ticks skipped because the previous run was still in flight",
			},
			[]string{"job"},
		),
		CheckpointLag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ingest_checkpoint_lag_seconds",
				Help: "Seconds between now and each checkpoint's advance point",
			},
			[]string{"checkpoint", "area"},
		),
		ArchivalBacklog: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ingest_archival_backlog_contracts",
				Help: "Unarchived contract count for the current archival day",
			},
			[]string{"area"},
		),
		TicksIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_ticks_ingested_total",
				Help: "Total order-flow ticks inserted, by area and store tier",
			},
			[]string{"area", "tier"},
		),
		TradesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_trades_ingested_total",
				Help: "Total trade rows upserted, by area",
			},
			[]string{"area"},
		),
	}

	prometheus.MustRegister(
		r.JobRuns,
		r.JobDuration,
		r.JobMisfires,
		r.CheckpointLag,
		r.ArchivalBacklog,
		r.TicksIngested,
		r.TradesIngested,
	)

	return r
}

// Handler returns the HTTP handler that serves the Prometheus exposition
// format for this registry's default gatherer.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
