package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"hospitaletl/internal/metrics"
)

// readCounterValue reads the current value of a Counter for assertions.
func readCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Counter.Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend("job", ""); err == nil {
		t.Fatalf("expected error for empty gateway URL")
	}
	b, err := NewBackend("", "http://pushgateway:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if b.jobName != "hospitaletl" {
		t.Fatalf("jobName = %q, want default", b.jobName)
	}
}

func TestIncCounterAndObserve(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("test", "http://unused")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter(metrics.StageTotal, 2, metrics.Labels{"stage": "extract", "category": "financial", "status": "success"})
	b.IncCounter(metrics.RowsTotal, 5, metrics.Labels{"stage": "load", "kind": "inserted"})
	b.IncCounter(metrics.BatchesTotal, 1, metrics.Labels{"stage": "load"})
	b.IncCounter(metrics.PipelineTotal, 1, metrics.Labels{"outcome": "failed"})
	b.IncCounter(metrics.CleanupRowsTotal, 7, metrics.Labels{"kind": "raw"})
	b.IncCounter("unknown_metric", 100, nil)
	b.ObserveHistogram(metrics.StageDuration, 0.25, metrics.Labels{"stage": "load", "category": "general", "status": "success"})
	b.ObserveHistogram("ignored", 1, nil)

	if got := readCounterValue(t, b.stageCounter.WithLabelValues("extract", "financial", "success")); got != 2 {
		t.Fatalf("stage counter = %v, want 2", got)
	}
	if got := readCounterValue(t, b.rowCounter.WithLabelValues("load", "inserted")); got != 5 {
		t.Fatalf("row counter = %v, want 5", got)
	}
	if got := readCounterValue(t, b.cleanupCounter.WithLabelValues("raw")); got != 7 {
		t.Fatalf("cleanup counter = %v, want 7", got)
	}

	m := &dto.Metric{}
	obs := b.stageDuration.WithLabelValues("load", "general", "success").(prometheus.Metric)
	if err := obs.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.GetSummary().GetSampleCount() != 1 {
		t.Fatalf("summary count = %d, want 1", m.GetSummary().GetSampleCount())
	}
}

func TestFlushPushesToGateway(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body = r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("etl-test", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.BatchesTotal, 3, metrics.Labels{"stage": "extract"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(path, "/job/etl-test") {
		t.Fatalf("push path = %q", path)
	}
	if body == "" {
		t.Fatalf("expected a non-empty push body")
	}
}
