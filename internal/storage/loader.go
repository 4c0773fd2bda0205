package storage

// This file implements the batched writer shared by the three stages. Rows
// are buffered up to Size and handed to a bulk-insert function; every flush
// logs a progress line with running totals and rows/sec since the previous
// flush.

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"hospitaletl/internal/metrics"
)

// CopyFn abstracts a backend's bulk insert for one table. Implementations
// insert rows aligned to columns and return the inserted count.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// TableCopy binds repo.CopyFrom to table.
func TableCopy(repo Repository, table string) CopyFn {
	return func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		return repo.CopyFrom(ctx, table, columns, rows)
	}
}

// BatchStats summarises a Batcher's work so far.
type BatchStats struct {
	Batches  int64
	Inserted int64
	Failed   int64    // rows in batches whose copy failed (ContinueOnError only)
	Errors   []string // one message per failed batch
}

// Batcher accumulates rows and flushes them in fixed-size batches.
type Batcher struct {
	Columns []string
	Size    int
	Copy    CopyFn
	Stage   string // metrics label
	Log     zerolog.Logger

	// ContinueOnError records a failed batch in Stats and keeps going
	// instead of returning the copy error.
	ContinueOnError bool

	// AfterFlush runs after every flush attempt, e.g. to persist progress or
	// to notice cancellation. A non-nil error stops the writer.
	AfterFlush func(ctx context.Context, s BatchStats) error

	batch     [][]any
	stats     BatchStats
	start     time.Time
	lastFlush time.Time
	lastTotal int64
}

// NewBatcher validates its arguments and returns a ready Batcher.
func NewBatcher(columns []string, size int, copyFn CopyFn, log zerolog.Logger) (*Batcher, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batchSize must be > 0")
	}
	if copyFn == nil {
		return nil, fmt.Errorf("copyFn must not be nil")
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("columns must not be empty")
	}
	now := time.Now()
	return &Batcher{
		Columns:   columns,
		Size:      size,
		Copy:      copyFn,
		Log:       log,
		batch:     make([][]any, 0, size),
		start:     now,
		lastFlush: now,
	}, nil
}

// Add buffers row and flushes when the batch is full.
func (b *Batcher) Add(ctx context.Context, row []any) error {
	if len(row) != len(b.Columns) {
		return fmt.Errorf("row length %d != columns length %d", len(row), len(b.Columns))
	}
	b.batch = append(b.batch, row)
	if len(b.batch) >= b.Size {
		return b.Flush(ctx)
	}
	return nil
}

// Pending returns the number of buffered rows.
func (b *Batcher) Pending() int { return len(b.batch) }

// Stats returns a snapshot of the counters.
func (b *Batcher) Stats() BatchStats {
	s := b.stats
	s.Errors = append([]string(nil), b.stats.Errors...)
	return s
}

// Flush writes the buffered rows, if any.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.batch) == 0 {
		return nil
	}
	size := len(b.batch)
	n, err := b.Copy(ctx, b.Columns, b.batch)
	// Reuse the backing array; the copy function must not retain rows.
	b.batch = b.batch[:0]
	b.stats.Batches++
	metrics.RecordBatches(b.Stage, 1)

	if err != nil {
		b.Log.Error().Err(err).
			Int64("batch", b.stats.Batches).
			Int("rows", size).
			Int64("total", b.stats.Inserted).
			Msg("batch copy failed")
		if !b.ContinueOnError {
			return err
		}
		b.stats.Failed += int64(size)
		b.stats.Errors = append(b.stats.Errors, fmt.Sprintf("batch %d: %v", b.stats.Batches, err))
		return b.after(ctx)
	}

	b.stats.Inserted += n
	now := time.Now()
	sinceLast := now.Sub(b.lastFlush)
	rps := float64(0)
	if sinceLast > 0 {
		rps = float64(b.stats.Inserted-b.lastTotal) / sinceLast.Seconds()
	}
	b.Log.Info().
		Int64("batch", b.stats.Batches).
		Int64("rows", n).
		Int64("total", b.stats.Inserted).
		Float64("rps", float64(int64(rps))).
		Dur("elapsed", now.Sub(b.start).Truncate(time.Millisecond)).
		Msg("batch flushed")
	b.lastFlush = now
	b.lastTotal = b.stats.Inserted

	return b.after(ctx)
}

func (b *Batcher) after(ctx context.Context) error {
	if b.AfterFlush == nil {
		return nil
	}
	return b.AfterFlush(ctx, b.Stats())
}

// LoadBatches drains rows from in into b until in is closed, then flushes
// the remainder. It returns ctx.Err() when cancelled.
func LoadBatches(ctx context.Context, b *Batcher, in <-chan []any) (BatchStats, error) {
	for {
		select {
		case <-ctx.Done():
			return b.Stats(), ctx.Err()

		case row, ok := <-in:
			if !ok {
				pending := b.Pending()
				if err := b.Flush(ctx); err != nil {
					return b.Stats(), err
				}
				b.Log.Debug().Int("final_flush", pending).Int64("total", b.stats.Inserted).Msg("input closed")
				return b.Stats(), nil
			}
			if err := b.Add(ctx, row); err != nil {
				return b.Stats(), err
			}
		}
	}
}
