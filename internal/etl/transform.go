package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"hospitaletl/internal/category"
	"hospitaletl/internal/config"
	"hospitaletl/internal/ddl"
	"hospitaletl/internal/jobs"
	"hospitaletl/internal/mapping"
	"hospitaletl/internal/metrics"
	"hospitaletl/internal/schema"
	"hospitaletl/internal/storage"
)

// Transform maps the raw rows of the upload's latest completed extract job
// into the staging table. Every row is written, invalid ones with their
// validation errors. A row whose stored source cannot be decoded is
// skipped, and the stage aborts once skipped plus invalid rows exceed
// TransformErrorBudget of the total.
func (d *Deps) Transform(ctx context.Context, job *jobs.Job) error {
	return d.run(ctx, job, d.transform)
}

func (d *Deps) transform(ctx context.Context, job *jobs.Job, u jobs.Upload, log zerolog.Logger) (config.Options, error) {
	ms, err := d.Store.ActiveMappings(ctx, u.ID)
	if err != nil {
		return nil, withStack(err)
	}
	if len(ms) == 0 {
		return nil, failf("%w for data upload %s", ErrNoMappings, u.ID)
	}
	if err := mapping.ValidateSet(ms, schema.Reserved()...); err != nil {
		return nil, withStack(err)
	}
	extractJob, err := d.latestCompleted(ctx, u.ID, jobs.TypeExtract)
	if err != nil {
		return nil, withStack(err)
	}

	rawTable := schema.RawTable(u.HospitalID, u.DataCategory)
	ok, err := storage.TableExists(ctx, d.Repo, rawTable)
	if err != nil {
		return nil, withStack(err)
	}
	if !ok {
		return nil, failf("%w: raw table %s does not exist", ErrMissingInput, rawTable)
	}
	jobFilter := d.Repo.Dialect().QuoteIdent(schema.ColJobID) + " = ?"
	total, err := storage.Count(ctx, d.Repo, rawTable, jobFilter, extractJob.ID)
	if err != nil {
		return nil, withStack(err)
	}

	td, err := d.Schema.EnsureStaging(ctx, u.HospitalID, u.DataCategory, ms)
	if err != nil {
		return nil, withStack(err)
	}
	if _, err := d.deleteJobRows(ctx, td.FQN, job); err != nil {
		return nil, withStack(err)
	}
	log.Info().Int64("total_rows", total).Int("mappings", len(ms)).Str("table", td.FQN).Msg("transforming raw rows")

	cat := category.Lookup(u.DataCategory)
	var processed, invalid, failed int64
	samples := newErrSample(10)
	snapshot := func() config.Options {
		return progress(processed, total, config.Options{
			"error_rows": invalid + failed,
			"valid_rows": processed - invalid,
		})
	}

	cols := td.ColumnNames()[1:]
	b, err := storage.NewBatcher(cols, d.Pipeline.TransformBatchSize, storage.TableCopy(d.Repo, td.FQN), log)
	if err != nil {
		return nil, withStack(err)
	}
	b.Stage = jobs.TypeTransform
	b.AfterFlush = d.afterFlush(job, snapshot)

	page := storage.Page{
		Table:   rawTable,
		Columns: []string{schema.ColRowNumber, schema.ColSourceData},
		Where:   jobFilter,
		Args:    []any{extractJob.ID},
		Size:    d.Pipeline.ReadPageSize,
	}
	err = storage.ScanPages(ctx, d.Repo, page, func(recs []storage.Record) error {
		for _, raw := range recs {
			rowNum := ddl.ToInt64(raw[schema.ColRowNumber])
			source, err := ddl.DecodeJSONMap(raw[schema.ColSourceData])
			if err != nil {
				failed++
				samples.add("row %d: %v", rowNum, err)
				log.Warn().Int64("row_number", rowNum).Err(err).Msg("row not transformed")
				if overBudget(invalid+failed, total, d.Pipeline.TransformErrorBudget) {
					return failf("%w during transformation (%d/%d)", ErrTooManyErrors, invalid+failed, total)
				}
				continue
			}

			row := d.Transformer.Row(source, ms)
			cat.Calculate(row)
			verrs := mapping.Validate(row, ms)
			if len(verrs) > 0 {
				invalid++
				samples.add("row %d: %s", rowNum, strings.Join(verrs, ", "))
				log.Debug().Int64("row_number", rowNum).Strs("errors", verrs).Msg("row invalid")
			} else {
				verrs = []string{}
			}

			now := time.Now().UTC()
			row[schema.ColHospitalID] = u.HospitalID
			row[schema.ColUploadID] = u.ID
			row[schema.ColJobID] = job.ID
			row[schema.ColRowNumber] = rowNum
			row[schema.ColSourceData] = source
			row[schema.ColValidationErrors] = verrs
			row[schema.ColCreatedAt] = now
			row[schema.ColUpdatedAt] = now
			processed++
			if err := b.Add(ctx, storage.EncodeRow(d.Repo.Dialect(), td, cols, row)); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		err = b.Flush(ctx)
	}

	metrics.RecordRows(jobs.TypeTransform, "processed", processed)
	metrics.RecordRows(jobs.TypeTransform, "invalid", invalid)
	metrics.RecordRows(jobs.TypeTransform, "error", failed)

	stats := snapshot()
	stats["failed_rows"] = failed
	stats["success_rate"] = successRate(processed-invalid, total)
	stats["mappings_applied"] = len(ms)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return stats, err
		}
		return stats, withStack(err)
	}

	if err := d.recordValidation(ctx, u.ID, invalid, samples); err != nil {
		return stats, withStack(err)
	}
	return stats, nil
}

// recordValidation stores the invalid row count and a sample of the
// messages on the upload.
func (d *Deps) recordValidation(ctx context.Context, uploadID string, invalid int64, samples *errSample) error {
	u, err := d.Store.GetUpload(ctx, uploadID)
	if err != nil {
		return err
	}
	u.ErrorRows = invalid
	u.ValidationErrors = samples.list()
	if err := d.Store.UpdateUpload(ctx, &u); err != nil {
		return fmt.Errorf("record validation summary: %w", err)
	}
	return nil
}
