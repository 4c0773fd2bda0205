package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestBatcher(t *testing.T, size int, fn CopyFn) *Batcher {
	t.Helper()
	b, err := NewBatcher([]string{"c1", "c2"}, size, fn, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBatcher: %v", err)
	}
	return b
}

// TestLoadBatches_Basic verifies rows are grouped into batches and the
// total equals the sum of all successful copies.
func TestLoadBatches_Basic(t *testing.T) {
	t.Parallel()

	in := make(chan []any, 8)
	for i := 0; i < 7; i++ {
		in <- []any{i, "x"}
	}
	close(in)

	var calls int32
	b := newTestBatcher(t, 3, func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		atomic.AddInt32(&calls, 1)
		return int64(len(rows)), nil
	})

	stats, err := LoadBatches(context.Background(), b, in)
	if err != nil {
		t.Fatalf("LoadBatches error: %v", err)
	}
	if stats.Inserted != 7 {
		t.Fatalf("total rows %d, want 7", stats.Inserted)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("copyFn calls %d, want 3 (3+3+1)", got)
	}
}

// TestLoadBatches_ErrorPropagation ensures the first copy error stops the
// writer when ContinueOnError is off.
func TestLoadBatches_ErrorPropagation(t *testing.T) {
	t.Parallel()

	in := make(chan []any, 5)
	for i := 0; i < 5; i++ {
		in <- []any{i, i}
	}
	close(in)

	wantErr := errors.New("copy failed")
	var batches int
	b := newTestBatcher(t, 2, func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		batches++
		if batches == 2 {
			return 0, wantErr
		}
		return int64(len(rows)), nil
	})

	stats, err := LoadBatches(context.Background(), b, in)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want error %v, got %v", wantErr, err)
	}
	if stats.Inserted != 2 {
		t.Fatalf("inserted %d, want 2", stats.Inserted)
	}
}

// TestBatcher_ContinueOnError counts failed batches and keeps writing.
func TestBatcher_ContinueOnError(t *testing.T) {
	t.Parallel()

	var batches int
	b := newTestBatcher(t, 2, func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		batches++
		if batches == 1 {
			return 0, errors.New("constraint")
		}
		return int64(len(rows)), nil
	})
	b.ContinueOnError = true

	var flushes int
	b.AfterFlush = func(context.Context, BatchStats) error { flushes++; return nil }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := b.Add(ctx, []any{i, i}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	s := b.Stats()
	if s.Inserted != 3 || s.Failed != 2 || s.Batches != 3 || len(s.Errors) != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if flushes != 3 {
		t.Fatalf("AfterFlush calls = %d, want 3", flushes)
	}
}

func TestBatcher_AfterFlushStops(t *testing.T) {
	t.Parallel()

	stop := errors.New("cancelled")
	b := newTestBatcher(t, 1, func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		return int64(len(rows)), nil
	})
	b.AfterFlush = func(context.Context, BatchStats) error { return stop }

	if err := b.Add(context.Background(), []any{1, 2}); !errors.Is(err, stop) {
		t.Fatalf("Add err = %v, want %v", err, stop)
	}
}

func TestBatcher_RejectsMisalignedRow(t *testing.T) {
	t.Parallel()

	b := newTestBatcher(t, 2, func(context.Context, []string, [][]any) (int64, error) { return 0, nil })
	if err := b.Add(context.Background(), []any{1}); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestNewBatcher_Validation(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, []string, [][]any) (int64, error) { return 0, nil }
	if _, err := NewBatcher([]string{"a"}, 0, noop, zerolog.Nop()); err == nil {
		t.Fatalf("expected size error")
	}
	if _, err := NewBatcher([]string{"a"}, 1, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected nil copy error")
	}
	if _, err := NewBatcher(nil, 1, noop, zerolog.Nop()); err == nil {
		t.Fatalf("expected columns error")
	}
}

// TestLoadBatches_ContextCancel checks the loader exits on cancellation.
func TestLoadBatches_ContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan []any)
	b := newTestBatcher(t, 2, func(ctx context.Context, _ []string, rows [][]any) (int64, error) {
		return int64(len(rows)), nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := LoadBatches(ctx, b, in)
		errCh <- err
	}()

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("LoadBatches did not return after context cancel")
	}
}
