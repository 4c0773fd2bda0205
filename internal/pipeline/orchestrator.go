// Package pipeline runs the three stages of an upload in order and answers
// the control-surface questions about them: may it start, how far has it
// got, how long will it take. It also purges aged intermediate rows.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"hospitaletl/internal/datasource/file"
	"hospitaletl/internal/etl"
	"hospitaletl/internal/jobs"
	"hospitaletl/internal/metrics"
	"hospitaletl/internal/schema"
)

// ErrNotRestartable is returned by Retry for a job that is neither failed
// nor cancelled.
var ErrNotRestartable = errors.New("job cannot be restarted")

// ErrPrerequisites is returned by RunStage when the upload is not ready.
var ErrPrerequisites = errors.New("pipeline prerequisites not met")

// Orchestrator drives the stages of one upload at a time per call. Calls
// for different uploads may run concurrently.
type Orchestrator struct {
	deps    *etl.Deps
	store   *jobs.Store
	tracker *jobs.Tracker
	log     zerolog.Logger
	owner   string
	now     func() time.Time
}

// New returns an orchestrator over the stage dependencies in d.
func New(d *etl.Deps, log zerolog.Logger) *Orchestrator {
	host, _ := os.Hostname()
	return &Orchestrator{
		deps:    d,
		store:   d.Store,
		tracker: d.Tracker,
		log:     log,
		owner:   fmt.Sprintf("%s/%d", host, os.Getpid()),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Result is the outcome of a full run. Jobs is set when the run started,
// Errors when prerequisites blocked it and Error when it failed.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Jobs    []jobs.Summary `json:"jobs,omitempty"`
	Errors  []string       `json:"errors,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Prerequisites lists why the upload cannot be processed; empty means go.
func (o *Orchestrator) Prerequisites(u jobs.Upload) []string {
	var out []string
	if u.FilePath == "" || !file.NewLocal(u.FilePath).Exists() {
		out = append(out, "Source file does not exist")
	}
	if u.Status != jobs.UploadCompleted && u.Status != jobs.UploadProcessing {
		out = append(out, fmt.Sprintf("Upload status must be completed or processing (current: %s)", u.Status))
	}
	if u.HospitalID <= 0 {
		out = append(out, "Upload has no hospital")
	}
	return out
}

// jobConfig is the per-stage configuration recorded on a new job.
func jobConfig(u jobs.Upload, jobType string) map[string]any {
	switch jobType {
	case jobs.TypeExtract:
		return map[string]any{"source_file": u.FilePath}
	case jobs.TypeTransform:
		return map[string]any{"apply_mappings": true, "validate_data": true}
	case jobs.TypeLoad:
		return map[string]any{"target_tables": []string{schema.CoreTable(u.DataCategory)}}
	}
	return map[string]any{}
}

func (o *Orchestrator) newJob(ctx context.Context, u jobs.Upload, jobType string) (*jobs.Job, error) {
	j := &jobs.Job{
		HospitalID: u.HospitalID,
		UploadID:   u.ID,
		JobType:    jobType,
		JobConfig:  jobConfig(u, jobType),
	}
	if err := o.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create %s job: %w", jobType, err)
	}
	return j, nil
}

// claim applies both duplicate-run gates: no job of the upload may be
// running, and the run marker must be free. The returned func releases the
// marker only while it is still this claim's.
func (o *Orchestrator) claim(ctx context.Context, uploadID string) (func(), error) {
	all, err := o.store.JobsForUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	for _, j := range all {
		if j.Status == jobs.StatusRunning {
			return nil, fmt.Errorf("upload %s: %s job %s is running: %w", uploadID, j.JobType, j.ID, jobs.ErrRunInProgress)
		}
	}
	token, err := o.store.AcquireRun(ctx, uploadID, o.owner)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := o.store.ReleaseRun(context.WithoutCancel(ctx), uploadID, token); err != nil {
			o.log.Error().Err(err).Str("upload_id", uploadID).Msg("release run marker")
		}
	}, nil
}

// Run executes extract, transform and load for an upload, stopping at the
// first failed stage. Errors never escape; they are reported in the Result.
func (o *Orchestrator) Run(ctx context.Context, uploadID string) Result {
	log := o.log.With().Str("upload_id", uploadID).Logger()

	u, err := o.store.GetUpload(ctx, uploadID)
	if err != nil {
		metrics.RecordPipeline("rejected")
		return Result{Message: "Upload not found", Error: err.Error()}
	}
	if reasons := o.Prerequisites(u); len(reasons) > 0 {
		metrics.RecordPipeline("rejected")
		log.Warn().Strs("reasons", reasons).Msg("pipeline prerequisites not met")
		return Result{Message: "Pipeline prerequisites not met", Errors: reasons}
	}
	release, err := o.claim(ctx, u.ID)
	if err != nil {
		metrics.RecordPipeline("rejected")
		log.Warn().Err(err).Msg("pipeline already running")
		return Result{Message: "Pipeline is already running", Error: err.Error()}
	}
	defer release()

	began := time.Now()
	created := make([]*jobs.Job, 0, len(jobs.JobTypes))
	for _, typ := range jobs.JobTypes {
		j, err := o.newJob(ctx, u, typ)
		if err != nil {
			metrics.RecordPipeline("failed")
			return Result{Message: "Pipeline execution failed", Error: err.Error()}
		}
		created = append(created, j)
	}
	log.Info().Str("file", u.FileName).Str("category", u.DataCategory).Msg("pipeline started")

	for _, j := range created {
		stage, err := o.deps.Stage(j.JobType)
		if err == nil {
			err = stage(ctx, j)
		}
		if err != nil {
			outcome := "failed"
			if errors.Is(err, etl.ErrCancelled) {
				outcome = "cancelled"
			}
			metrics.RecordPipeline(outcome)
			log.Error().Err(err).Str("job_type", j.JobType).Msg("pipeline stopped")
			return Result{
				Message: fmt.Sprintf("Pipeline %s at %s stage", outcome, j.JobType),
				Jobs:    o.summaries(ctx, u.ID),
				Error:   err.Error(),
			}
		}
	}

	metrics.RecordPipeline("completed")
	log.Info().Dur("elapsed", time.Since(began).Truncate(time.Millisecond)).Msg("pipeline completed")
	return Result{
		Success: true,
		Message: "Pipeline completed successfully",
		Jobs:    o.summaries(ctx, u.ID),
	}
}

func (o *Orchestrator) summaries(ctx context.Context, uploadID string) []jobs.Summary {
	all, err := o.store.JobsForUpload(context.WithoutCancel(ctx), uploadID)
	if err != nil {
		o.log.Error().Err(err).Str("upload_id", uploadID).Msg("list jobs")
		return nil
	}
	now := o.now()
	out := make([]jobs.Summary, len(all))
	for i, j := range all {
		out[i] = j.Summarize(now)
	}
	return out
}

// RunStage creates a fresh job of jobType for the upload and runs it. The
// returned job reflects the final state even when the stage failed.
// Transform is refused before a job is created when the upload has no
// active mappings.
func (o *Orchestrator) RunStage(ctx context.Context, uploadID, jobType string) (jobs.Job, error) {
	stage, err := o.deps.Stage(jobType)
	if err != nil {
		return jobs.Job{}, err
	}
	u, err := o.store.GetUpload(ctx, uploadID)
	if err != nil {
		return jobs.Job{}, err
	}
	if reasons := o.Prerequisites(u); len(reasons) > 0 {
		return jobs.Job{}, fmt.Errorf("%w: %v", ErrPrerequisites, reasons)
	}
	if jobType == jobs.TypeTransform {
		ms, err := o.store.ActiveMappings(ctx, u.ID)
		if err != nil {
			return jobs.Job{}, err
		}
		if len(ms) == 0 {
			return jobs.Job{}, fmt.Errorf("upload %s: %w", u.ID, etl.ErrNoMappings)
		}
	}
	release, err := o.claim(ctx, u.ID)
	if err != nil {
		return jobs.Job{}, err
	}
	defer release()

	j, err := o.newJob(ctx, u, jobType)
	if err != nil {
		return jobs.Job{}, err
	}
	return o.finish(ctx, j, stage(ctx, j))
}

// Retry re-runs a failed or cancelled job in place.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (jobs.Job, error) {
	j, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return jobs.Job{}, err
	}
	if !j.CanRestart() {
		return j, fmt.Errorf("job %s is %s: %w", j.ID, j.Status, ErrNotRestartable)
	}
	stage, err := o.deps.Stage(j.JobType)
	if err != nil {
		return j, err
	}
	release, err := o.claim(ctx, j.UploadID)
	if err != nil {
		return j, err
	}
	defer release()

	o.log.Info().Str("job_id", j.ID).Str("job_type", j.JobType).Str("previous_status", j.Status).Msg("retrying job")
	return o.finish(ctx, &j, stage(ctx, &j))
}

func (o *Orchestrator) finish(ctx context.Context, j *jobs.Job, stageErr error) (jobs.Job, error) {
	cur, err := o.store.GetJob(context.WithoutCancel(ctx), j.ID)
	if err != nil {
		return *j, errors.Join(stageErr, err)
	}
	return cur, stageErr
}

// Cancel moves every pending or running job of the upload to cancelled and
// frees its run marker. Rows already written stay. It returns the number
// of jobs cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, uploadID string) (int, error) {
	all, err := o.store.JobsForUpload(ctx, uploadID)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range all {
		if !all[i].CanCancel() {
			continue
		}
		if err := o.tracker.Cancel(ctx, &all[i]); err != nil {
			return n, fmt.Errorf("cancel job %s: %w", all[i].ID, err)
		}
		n++
	}
	token, ok, err := o.store.RunToken(ctx, uploadID)
	if err != nil {
		return n, err
	}
	if ok {
		if err := o.store.ReleaseRun(ctx, uploadID, token); err != nil {
			return n, err
		}
	}
	o.log.Info().Str("upload_id", uploadID).Int("cancelled", n).Msg("jobs cancelled")
	return n, nil
}
