// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// Stage runs are short-lived CLI invocations as often as they are server
// requests, so metrics are pushed to a Pushgateway instead of being scraped.
// All Prometheus-specific dependencies stay inside this package.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"hospitaletl/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stageCounter    *prometheus.CounterVec // etl_stage_total{stage,category,status}
	stageDuration   *prometheus.SummaryVec // etl_stage_duration_seconds{stage,category,status}
	rowCounter      *prometheus.CounterVec // etl_rows_total{stage,kind}
	batchCounter    *prometheus.CounterVec // etl_batches_total{stage}
	pipelineCounter *prometheus.CounterVec // etl_pipeline_total{outcome}
	cleanupCounter  *prometheus.CounterVec // etl_cleanup_rows_total{kind}
}

var stageLabels = []string{"stage", "category", "status"}

// NewBackend constructs a Pushgateway backend. jobName defaults to
// "hospitaletl"; gatewayURL is required.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "hospitaletl"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stageCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StageTotal,
			Help: "ETL stage executions by stage, category and status.",
		}, stageLabels),
		stageDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StageDuration,
			Help:       "ETL stage duration in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, stageLabels),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Row counts per stage and kind (processed, error, invalid, inserted).",
		}, []string{"stage", "kind"}),
		batchCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Bulk-insert batches flushed per stage.",
		}, []string{"stage"}),
		pipelineCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.PipelineTotal,
			Help: "Orchestrated pipeline runs by outcome.",
		}, []string{"outcome"}),
		cleanupCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.CleanupRowsTotal,
			Help: "Intermediate rows purged by table kind.",
		}, []string{"kind"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"stage counter":    b.stageCounter,
		"stage summary":    b.stageDuration,
		"row counter":      b.rowCounter,
		"batch counter":    b.batchCounter,
		"pipeline counter": b.pipelineCounter,
		"cleanup counter":  b.cleanupCounter,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

// IncCounter routes a counter update to the matching collector. Unknown
// names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StageTotal:
		b.stageCounter.WithLabelValues(labels["stage"], labels["category"], labels["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rowCounter.WithLabelValues(labels["stage"], labels["kind"]).Add(delta)
	case metrics.BatchesTotal:
		b.batchCounter.WithLabelValues(labels["stage"]).Add(delta)
	case metrics.PipelineTotal:
		b.pipelineCounter.WithLabelValues(labels["outcome"]).Add(delta)
	case metrics.CleanupRowsTotal:
		b.cleanupCounter.WithLabelValues(labels["kind"]).Add(delta)
	}
}

// ObserveHistogram records stage durations; other names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StageDuration {
		return
	}
	b.stageDuration.WithLabelValues(labels["stage"], labels["category"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
