// Package etl implements the three pipeline stages.
//
//	Extract:   uploaded file  -> raw_<category>_<hospital>
//	Transform: raw            -> staging_<category>_<hospital>
//	Load:      valid staging  -> core_<category>_data
//
// Every stage runs synchronously for one job, writes in fixed-size batches
// through storage.Batcher and records its outcome on the job. A stage never
// leaves a job running: success completes it, any error or panic fails it
// with structured details, and a cancellation noticed between batches
// leaves the cancelled status alone.
package etl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"hospitaletl/internal/category"
	"hospitaletl/internal/config"
	"hospitaletl/internal/ddl"
	"hospitaletl/internal/jobs"
	"hospitaletl/internal/mapping"
	"hospitaletl/internal/metrics"
	_ "hospitaletl/internal/parser/all" // CSV and spreadsheet readers
	"hospitaletl/internal/schema"
	"hospitaletl/internal/storage"
)

// Deps is everything a stage needs. Construct it once per process and share
// it between stages and concurrent runs.
type Deps struct {
	Repo        storage.Repository
	Store       *jobs.Store
	Tracker     *jobs.Tracker
	Schema      *schema.Registry
	Transformer *mapping.Transformer
	Pipeline    config.PipelineConfig
	Log         zerolog.Logger
}

// NewDeps wires the stage dependencies over one repository.
func NewDeps(repo storage.Repository, cfg config.PipelineConfig, log zerolog.Logger) *Deps {
	store := jobs.NewStore(repo)
	return &Deps{
		Repo:        repo,
		Store:       store,
		Tracker:     jobs.NewTracker(store, log),
		Schema:      schema.NewRegistry(repo, log),
		Transformer: mapping.NewTransformer(log),
		Pipeline:    cfg,
		Log:         log,
	}
}

// StageFunc executes one stage for job.
type StageFunc func(ctx context.Context, job *jobs.Job) error

// Stage returns the stage implementation for a job type.
func (d *Deps) Stage(jobType string) (StageFunc, error) {
	switch jobType {
	case jobs.TypeExtract:
		return d.Extract, nil
	case jobs.TypeTransform:
		return d.Transform, nil
	case jobs.TypeLoad:
		return d.Load, nil
	}
	return nil, fmt.Errorf("unknown job type %q", jobType)
}

// stageBody does the work of one stage and returns its final stats, or the
// partial stats gathered before a failure.
type stageBody func(ctx context.Context, job *jobs.Job, u jobs.Upload, log zerolog.Logger) (config.Options, error)

// run is the lifecycle shared by the stages: start the job, execute body,
// then complete or fail the job. It returns body's error so callers can
// stop a sequence; the job record already carries the failure.
func (d *Deps) run(ctx context.Context, job *jobs.Job, body stageBody) (err error) {
	began := time.Now()
	log := d.Log.With().
		Str("job_id", job.ID).
		Str("job_type", job.JobType).
		Str("upload_id", job.UploadID).
		Int64("hospital_id", job.HospitalID).
		Logger()

	u, err := d.Store.GetUpload(ctx, job.UploadID)
	if err != nil {
		err = fmt.Errorf("%s: %w", job.JobType, err)
		log.Error().Err(err).Msg("stage failed")
		metrics.RecordStage(job.JobType, category.Default, err, time.Since(began))
		// With the upload gone there is nothing to propagate to; the job row
		// is written before propagation fails.
		details := Details(err, map[string]any{"stage": job.JobType})
		if ferr := d.Tracker.Fail(context.WithoutCancel(ctx), job, err.Error(), details); ferr != nil && !errors.Is(ferr, jobs.ErrNotFound) {
			log.Error().Err(ferr).Msg("record job failure")
		}
		return err
	}
	cat := category.Normalize(u.DataCategory)

	if err := d.Tracker.Start(ctx, job); err != nil {
		return fmt.Errorf("%s: start job: %w", job.JobType, err)
	}
	log.Info().Str("file", u.FileName).Str("category", cat).Msg("stage started")

	var stats config.Options
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
		metrics.RecordStage(job.JobType, cat, err, time.Since(began))
		if err == nil {
			return
		}
		// Record the outcome even when ctx was cancelled mid-stage.
		wctx := context.WithoutCancel(ctx)
		if errors.Is(err, ErrCancelled) {
			log.Warn().Msg("stage stopped: job cancelled")
			job.Status = jobs.StatusCancelled
			if stats != nil {
				_ = d.Tracker.Progress(wctx, job, stats)
			}
			return
		}
		fields := map[string]any{"stage": job.JobType, "file_type": u.FileType, "category": cat}
		if stats != nil {
			fields["stats"] = stats
		}
		log.Error().Err(err).Msg("stage failed")
		if ferr := d.Tracker.Fail(wctx, job, err.Error(), Details(err, fields)); ferr != nil {
			log.Error().Err(ferr).Msg("record job failure")
		}
	}()

	stats, err = body(ctx, job, u, log)
	if err != nil {
		return err
	}
	if cancelled, cerr := d.Tracker.Cancelled(ctx, job); cerr == nil && cancelled {
		return ErrCancelled
	}
	if err := d.Tracker.Complete(ctx, job, stats); err != nil {
		return fmt.Errorf("%s: complete job: %w", job.JobType, err)
	}
	log.Info().
		Interface("total_rows", stats["total_rows"]).
		Interface("processed_rows", stats["processed_rows"]).
		Interface("error_rows", stats["error_rows"]).
		Dur("elapsed", time.Since(began).Truncate(time.Millisecond)).
		Msg("stage completed")
	return nil
}

// progress builds the running stats persisted after every flush.
func progress(processed, total int64, extra config.Options) config.Options {
	pct := 0.0
	if total > 0 {
		pct = round1(float64(processed) / float64(total) * 100)
	}
	out := config.Options{
		"processed_rows":      processed,
		"total_rows":          total,
		"progress_percentage": pct,
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// successRate is part/total as a percentage with two decimals.
func successRate(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return ddl.Round2(float64(part) / float64(total) * 100)
}

// overBudget reports whether errs exceeds the allowed share of total.
func overBudget(errs, total int64, budget float64) bool {
	return float64(errs) > float64(total)*budget
}

// afterFlush persists progress and stops the writer once the job has been
// cancelled elsewhere.
func (d *Deps) afterFlush(job *jobs.Job, stats func() config.Options) func(context.Context, storage.BatchStats) error {
	return func(ctx context.Context, _ storage.BatchStats) error {
		cancelled, err := d.Tracker.Cancelled(ctx, job)
		if err != nil {
			return err
		}
		if cancelled {
			return ErrCancelled
		}
		return d.Tracker.Progress(ctx, job, stats())
	}
}

// deleteJobRows removes what an earlier attempt of job wrote to table, so
// a retried job starts from a clean slate.
func (d *Deps) deleteJobRows(ctx context.Context, table string, job *jobs.Job) (int64, error) {
	dl := d.Repo.Dialect()
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", dl.QuoteIdent(table), dl.QuoteIdent(schema.ColJobID))
	n, err := d.Repo.Exec(ctx, q, job.ID)
	if err != nil {
		return 0, fmt.Errorf("clear previous attempt in %s: %w", table, err)
	}
	return n, nil
}

// latestCompleted returns the most recent completed job of jobType for an
// upload; its rows are the input of the next stage.
func (d *Deps) latestCompleted(ctx context.Context, uploadID, jobType string) (jobs.Job, error) {
	all, err := d.Store.JobsForUpload(ctx, uploadID)
	if err != nil {
		return jobs.Job{}, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].JobType == jobType && all[i].Status == jobs.StatusCompleted {
			return all[i], nil
		}
	}
	return jobs.Job{}, fmt.Errorf("%w: no completed %s job for upload %s", ErrMissingInput, jobType, uploadID)
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }
