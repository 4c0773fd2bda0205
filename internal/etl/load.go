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
	"hospitaletl/internal/metrics"
	"hospitaletl/internal/schema"
	"hospitaletl/internal/storage"
)

// Load copies the valid staging rows of the upload's latest completed
// transform job into the category's core table, adding the category's
// derived fields. A batch the database rejects is counted and reported in
// batch_errors and loading continues; the stage fails only when no
// selected row could be loaded.
func (d *Deps) Load(ctx context.Context, job *jobs.Job) error {
	return d.run(ctx, job, d.load)
}

func (d *Deps) load(ctx context.Context, job *jobs.Job, u jobs.Upload, log zerolog.Logger) (config.Options, error) {
	transformJob, err := d.latestCompleted(ctx, u.ID, jobs.TypeTransform)
	if err != nil {
		return nil, withStack(err)
	}
	stagingTable := schema.StagingTable(u.HospitalID, u.DataCategory)
	stagingCols, err := d.Repo.TableColumns(ctx, stagingTable)
	if err != nil {
		return nil, withStack(err)
	}
	if len(stagingCols) == 0 {
		return nil, failf("%w: staging table %s does not exist", ErrMissingInput, stagingTable)
	}
	dataCols := dataColumns(stagingCols)

	ms, err := d.Store.ActiveMappings(ctx, u.ID)
	if err != nil {
		return nil, withStack(err)
	}
	td, err := d.Schema.EnsureCore(ctx, u.DataCategory, ms)
	if err != nil {
		return nil, withStack(err)
	}
	if _, err := d.deleteJobRows(ctx, td.FQN, job); err != nil {
		return nil, withStack(err)
	}

	dl := d.Repo.Dialect()
	ve := dl.QuoteIdent(schema.ColValidationErrors)
	where := fmt.Sprintf("%s = ? AND (%s IS NULL OR %s = '[]')", dl.QuoteIdent(schema.ColJobID), ve, ve)
	total, err := storage.Count(ctx, d.Repo, stagingTable, where, transformJob.ID)
	if err != nil {
		return nil, withStack(err)
	}
	log.Info().Int64("total_rows", total).Str("table", td.FQN).Msg("loading valid staging rows")

	cat := category.Lookup(u.DataCategory)
	catName := category.Normalize(u.DataCategory)
	cols := td.ColumnNames()[1:]
	b, err := storage.NewBatcher(cols, d.Pipeline.LoadBatchSize, storage.TableCopy(d.Repo, td.FQN), log)
	if err != nil {
		return nil, withStack(err)
	}
	b.Stage = jobs.TypeLoad
	b.ContinueOnError = true
	snapshot := func() config.Options {
		s := b.Stats()
		return progress(s.Inserted, total, config.Options{"error_rows": s.Failed})
	}
	b.AfterFlush = d.afterFlush(job, snapshot)

	page := storage.Page{
		Table:   stagingTable,
		Columns: dataCols,
		Where:   where,
		Args:    []any{transformJob.ID},
		Size:    d.Pipeline.ReadPageSize,
	}
	err = storage.ScanPages(ctx, d.Repo, page, func(recs []storage.Record) error {
		for _, s := range recs {
			rec := coreRecord(s, dataCols, cat, catName, u, job)
			if err := b.Add(ctx, storage.EncodeRow(dl, td, cols, rec)); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		err = b.Flush(ctx)
	}

	bs := b.Stats()
	metrics.RecordRows(jobs.TypeLoad, "inserted", bs.Inserted)
	metrics.RecordRows(jobs.TypeLoad, "error", bs.Failed)

	stats := snapshot()
	// Nothing selected means nothing failed.
	rate := 100.0
	if total > 0 {
		rate = successRate(bs.Inserted, total)
	}
	stats["success_rate"] = rate
	stats["core_tables"] = []string{td.FQN}
	stats["batches"] = bs.Batches
	if len(bs.Errors) > 0 {
		stats["batch_errors"] = bs.Errors
	}
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return stats, err
		}
		return stats, withStack(err)
	}
	if total > 0 && bs.Inserted == 0 {
		return stats, failf("no rows loaded into %s: %s", td.FQN, strings.Join(bs.Errors, "; "))
	}

	if err := d.recordLoaded(ctx, u.ID, bs.Inserted); err != nil {
		return stats, withStack(err)
	}
	return stats, nil
}

// coreRecord builds the core row for one staging row: the envelope, every
// staging data column, then the category's derived fields.
func coreRecord(s storage.Record, dataCols []string, cat category.Category, catName string, u jobs.Upload, job *jobs.Job) storage.Record {
	now := time.Now().UTC()
	data := make(map[string]any, len(dataCols))
	for _, c := range dataCols {
		data[c] = s[c]
	}
	rec := storage.Record{}
	for k, v := range data {
		rec[k] = v
	}
	for k, v := range cat.Derive(data) {
		rec[k] = v
	}
	rec[schema.ColHospitalID] = u.HospitalID
	rec[schema.ColUploadID] = u.ID
	rec[schema.ColJobID] = job.ID
	rec[schema.ColSourceReference] = ddl.ToInt64(s[schema.ColID])
	rec[schema.ColDataCategory] = catName
	rec[schema.ColCreatedAt] = now
	rec[schema.ColUpdatedAt] = now
	return rec
}

// dataColumns drops the envelope and bookkeeping columns of a staging
// table.
func dataColumns(cols []string) []string {
	skip := map[string]bool{}
	for _, n := range schema.Reserved() {
		skip[n] = true
	}
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if !skip[strings.ToLower(c)] {
			out = append(out, c)
		}
	}
	return out
}

// recordLoaded stores the loaded row count on the upload.
func (d *Deps) recordLoaded(ctx context.Context, uploadID string, loaded int64) error {
	u, err := d.Store.GetUpload(ctx, uploadID)
	if err != nil {
		return err
	}
	u.ProcessedRows = loaded
	if err := d.Store.UpdateUpload(ctx, &u); err != nil {
		return fmt.Errorf("record loaded rows: %w", err)
	}
	return nil
}
