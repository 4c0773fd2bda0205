package etl

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"hospitaletl/internal/config"
	"hospitaletl/internal/datasource/file"
	"hospitaletl/internal/jobs"
	"hospitaletl/internal/metrics"
	"hospitaletl/internal/parser"
	"hospitaletl/internal/schema"
	"hospitaletl/internal/storage"
)

// Extract copies the uploaded file into the raw table of its hospital and
// category, one row per non-blank data row with the cells kept as JSON.
//
// A first pass counts the rows for progress and the error budget. Rows the
// reader cannot parse are counted and skipped; once they exceed
// ExtractErrorBudget of the total the stage aborts.
func (d *Deps) Extract(ctx context.Context, job *jobs.Job) error {
	return d.run(ctx, job, d.extract)
}

func (d *Deps) extract(ctx context.Context, job *jobs.Job, u jobs.Upload, log zerolog.Logger) (config.Options, error) {
	format, err := parser.ForContentType(u.FileType, u.FileName)
	if err != nil {
		return nil, failf("%w: %s", ErrUnsupportedFileType, u.FileType)
	}
	src := file.NewLocal(u.FilePath)
	if !src.Exists() {
		return nil, failf("file not found: %s", u.FilePath)
	}

	total, headers, err := countRows(ctx, src, format)
	if err != nil {
		return nil, withStack(err)
	}
	log.Info().Int64("total_rows", total).Str("format", format.Name).Msg("rows counted")

	td, err := d.Schema.EnsureRaw(ctx, u.HospitalID, u.DataCategory)
	if err != nil {
		return nil, withStack(err)
	}
	if n, err := d.deleteJobRows(ctx, td.FQN, job); err != nil {
		return nil, withStack(err)
	} else if n > 0 {
		log.Info().Int64("rows", n).Str("table", td.FQN).Msg("cleared rows of previous attempt")
	}

	// Counters are written by the convert goroutine and read by the loader's
	// flush hook.
	var processed, errorRows, skipped atomic.Int64
	samples := newErrSample(10)
	snapshot := func() config.Options {
		return progress(processed.Load(), total, config.Options{"error_rows": errorRows.Load()})
	}

	cols := td.ColumnNames()[1:] // id is generated
	b, err := storage.NewBatcher(cols, d.Pipeline.ExtractBatchSize, storage.TableCopy(d.Repo, td.FQN), log)
	if err != nil {
		return nil, withStack(err)
	}
	b.Stage = jobs.TypeExtract
	b.AfterFlush = d.afterFlush(job, snapshot)

	in, err := src.Open(ctx)
	if err != nil {
		return nil, withStack(err)
	}
	defer in.Close()

	// parse -> convert -> load
	rows := make(chan parser.Row, 256)
	encoded := make(chan []any, 256)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(rows)
		return format.Stream(gctx, in, func(h []string) {
			if headers == nil {
				headers = h
			}
		}, rows)
	})
	g.Go(func() error {
		defer close(encoded)
		for row := range rows {
			if row.Err != nil {
				n := errorRows.Add(1)
				samples.add("row %d: %v", row.Number, row.Err)
				log.Warn().Int("row_number", row.Number).Err(row.Err).Msg("row skipped")
				if overBudget(n, total, d.Pipeline.ExtractErrorBudget) {
					return failf("%w during extraction (%d/%d)", ErrTooManyErrors, n, total)
				}
				continue
			}
			if row.Blank() {
				skipped.Add(1)
				continue
			}
			now := time.Now().UTC()
			rec := storage.Record{
				schema.ColHospitalID:  u.HospitalID,
				schema.ColUploadID:    u.ID,
				schema.ColJobID:       job.ID,
				schema.ColRowNumber:   int64(row.Number),
				schema.ColSourceData:  row.Values,
				schema.ColExtractedAt: now,
				schema.ColCreatedAt:   now,
				schema.ColUpdatedAt:   now,
			}
			processed.Add(1)
			select {
			case encoded <- storage.EncodeRow(d.Repo.Dialect(), td, cols, rec):
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	g.Go(func() error {
		_, err := storage.LoadBatches(gctx, b, encoded)
		return err
	})
	err = g.Wait()

	metrics.RecordRows(jobs.TypeExtract, "processed", processed.Load())
	metrics.RecordRows(jobs.TypeExtract, "error", errorRows.Load())
	metrics.RecordRows(jobs.TypeExtract, "skipped", skipped.Load())

	stats := snapshot()
	stats["skipped_rows"] = skipped.Load()
	stats["success_rate"] = successRate(processed.Load(), total)
	stats["headers"] = headers
	if samples.count > 0 {
		stats["row_errors"] = samples.list()
	}
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return stats, err
		}
		return stats, withStack(err)
	}
	log.Info().
		Int64("processed", processed.Load()).
		Int64("errors", errorRows.Load()).
		Int64("skipped", skipped.Load()).
		Msg("extraction finished")
	return stats, nil
}

// countRows makes the counting pass over src.
func countRows(ctx context.Context, src *file.Local, f parser.Format) (int64, []string, error) {
	r, err := src.Open(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer r.Close()
	n, headers, err := parser.Count(ctx, f, r)
	if err != nil {
		return 0, nil, fmt.Errorf("count rows: %w", err)
	}
	return int64(n), headers, nil
}
