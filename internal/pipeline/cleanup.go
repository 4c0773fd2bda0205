package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"hospitaletl/internal/ddl"
	"hospitaletl/internal/metrics"
	"hospitaletl/internal/schema"
	"hospitaletl/internal/storage"
)

// DefaultKeepDays is how long intermediate rows are kept by default.
const DefaultKeepDays = 7

// cleanupWorkers bounds the tables purged at once.
const cleanupWorkers = 4

// CleanupResult counts the intermediate rows removed.
type CleanupResult struct {
	RawRows     int64    `json:"raw_rows"`
	StagingRows int64    `json:"staging_rows"`
	Tables      []string `json:"tables"`
}

func (r *CleanupResult) add(o CleanupResult) {
	r.RawRows += o.RawRows
	r.StagingRows += o.StagingRows
	r.Tables = append(r.Tables, o.Tables...)
}

// CleanupIntermediateData deletes raw and staging rows older than keepDays
// from the tables of the upload's hospital and category. Missing tables
// are skipped. Core rows are never touched.
func (o *Orchestrator) CleanupIntermediateData(ctx context.Context, uploadID string, keepDays int) (CleanupResult, error) {
	u, err := o.store.GetUpload(ctx, uploadID)
	if err != nil {
		return CleanupResult{}, err
	}
	return o.purge(ctx, u.HospitalID, u.DataCategory, o.cutoff(keepDays))
}

// CleanupAll runs the purge for every hospital and category with uploads.
func (o *Orchestrator) CleanupAll(ctx context.Context, keepDays int) (CleanupResult, error) {
	pairs, err := o.store.HospitalCategories(ctx)
	if err != nil {
		return CleanupResult{}, err
	}
	cutoff := o.cutoff(keepDays)

	var (
		mu    sync.Mutex
		total CleanupResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanupWorkers)
	for _, p := range pairs {
		g.Go(func() error {
			res, err := o.purge(gctx, p.HospitalID, p.Category, cutoff)
			if err != nil {
				return err
			}
			mu.Lock()
			total.add(res)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	o.log.Info().
		Int("pairs", len(pairs)).
		Int64("raw_rows", total.RawRows).
		Int64("staging_rows", total.StagingRows).
		Time("cutoff", cutoff).
		Msg("intermediate data cleanup finished")
	return total, err
}

func (o *Orchestrator) cutoff(keepDays int) time.Time {
	if keepDays < 0 {
		keepDays = 0
	}
	return o.now().AddDate(0, 0, -keepDays)
}

func (o *Orchestrator) purge(ctx context.Context, hospitalID int64, cat string, cutoff time.Time) (CleanupResult, error) {
	var res CleanupResult
	for _, t := range []struct {
		kind  string
		table string
		n     *int64
	}{
		{schema.StageRaw, schema.RawTable(hospitalID, cat), &res.RawRows},
		{schema.StageStaging, schema.StagingTable(hospitalID, cat), &res.StagingRows},
	} {
		n, err := o.deleteBefore(ctx, t.table, cutoff)
		if err != nil {
			return res, err
		}
		if n < 0 {
			continue
		}
		*t.n = n
		res.Tables = append(res.Tables, t.table)
		metrics.RecordCleanup(t.kind, n)
		if n > 0 {
			o.log.Info().Str("table", t.table).Int64("rows", n).Msg("purged intermediate rows")
		}
	}
	return res, nil
}

// deleteBefore returns -1 when table does not exist.
func (o *Orchestrator) deleteBefore(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	repo := o.deps.Repo
	ok, err := storage.TableExists(ctx, repo, table)
	if err != nil {
		return 0, err
	}
	if !ok {
		return -1, nil
	}
	d := repo.Dialect()
	q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", d.QuoteIdent(table), d.QuoteIdent(schema.ColCreatedAt))
	n, err := repo.Exec(ctx, q, d.BindValue(ddl.KindDateTime, cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", table, err)
	}
	return n, nil
}
