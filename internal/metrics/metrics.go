// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the ETL stages.
//
// It exposes a narrow Backend interface (counters and durations) and a global,
// pluggable backend that defaults to a no-op, so instrumentation is always
// safe to call. Concrete systems live in subpackages (prompush, datadog).
package metrics

import (
	"sync"
	"time"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Metric names emitted by this package.
const (
	StageTotal       = "etl_stage_total"
	StageDuration    = "etl_stage_duration_seconds"
	RowsTotal        = "etl_rows_total"
	BatchesTotal     = "etl_batches_total"
	PipelineTotal    = "etl_pipeline_total"
	CleanupRowsTotal = "etl_cleanup_rows_total"
)

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStage measures latency and outcome of one stage execution.
// stage is extract, transform or load; category is the upload's data category.
func RecordStage(stage, category string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"stage":    stage,
		"category": category,
		"status":   status,
	}
	b := current()
	b.IncCounter(StageTotal, 1, lbls)
	b.ObserveHistogram(StageDuration, d.Seconds(), lbls)
}

// RecordRows increments a row-level counter. Typical kinds are
// "processed", "error", "invalid", "skipped" and "inserted".
func RecordRows(stage, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{
		"stage": stage,
		"kind":  kind,
	})
}

// RecordBatches increments the flushed-batch counter for a stage.
func RecordBatches(stage string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{"stage": stage})
}

// RecordPipeline counts orchestrated runs by outcome
// (completed, failed, rejected).
func RecordPipeline(outcome string) {
	current().IncCounter(PipelineTotal, 1, Labels{"outcome": outcome})
}

// RecordCleanup counts intermediate rows purged per table kind (raw, staging).
func RecordCleanup(kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(CleanupRowsTotal, float64(delta), Labels{"kind": kind})
}
