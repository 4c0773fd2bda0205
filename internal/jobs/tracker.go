package jobs

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"hospitaletl/internal/config"
)

// Tracker moves jobs through their lifecycle and advances the parent
// upload after every status change:
//
//	running   -> upload processing, if it was pending
//	completed -> upload completed, once every job of the upload completed
//	failed    -> upload failed with the job's error message
type Tracker struct {
	store *Store
	log   zerolog.Logger
}

// NewTracker returns a Tracker writing through store.
func NewTracker(store *Store, log zerolog.Logger) *Tracker {
	return &Tracker{store: store, log: log}
}

// Store returns the underlying store.
func (t *Tracker) Store() *Store { return t.store }

// Start marks j running and clears the error of a previous attempt.
func (t *Tracker) Start(ctx context.Context, j *Job) error {
	now := t.store.now()
	j.Status = StatusRunning
	j.StartedAt = &now
	j.CompletedAt = nil
	j.ErrorMessage = ""
	j.ErrorDetails = nil
	return t.save(ctx, j)
}

// Progress persists the running stats of j without changing its status.
func (t *Tracker) Progress(ctx context.Context, j *Job, stats config.Options) error {
	j.ProcessingStats = stats
	return t.store.SaveStats(ctx, j)
}

// Complete marks j completed with its final stats.
func (t *Tracker) Complete(ctx context.Context, j *Job, stats config.Options) error {
	now := t.store.now()
	j.Status = StatusCompleted
	j.CompletedAt = &now
	j.ProcessingStats = stats
	return t.save(ctx, j)
}

// Fail marks j failed. details is the structured error record.
func (t *Tracker) Fail(ctx context.Context, j *Job, msg string, details config.Options) error {
	now := t.store.now()
	j.Status = StatusFailed
	j.CompletedAt = &now
	j.ErrorMessage = msg
	j.ErrorDetails = details
	return t.save(ctx, j)
}

// Cancel marks j cancelled.
func (t *Tracker) Cancel(ctx context.Context, j *Job) error {
	now := t.store.now()
	j.Status = StatusCancelled
	j.CompletedAt = &now
	return t.save(ctx, j)
}

// Cancelled re-reads j and reports whether someone cancelled it since it
// was loaded.
func (t *Tracker) Cancelled(ctx context.Context, j *Job) (bool, error) {
	cur, err := t.store.GetJob(ctx, j.ID)
	if err != nil {
		return false, err
	}
	return cur.Status == StatusCancelled, nil
}

func (t *Tracker) save(ctx context.Context, j *Job) error {
	if err := t.store.UpdateJob(ctx, j); err != nil {
		return err
	}
	if err := t.propagate(ctx, j); err != nil {
		return fmt.Errorf("job %s: propagate %s to upload: %w", j.ID, j.Status, err)
	}
	t.log.Debug().
		Str("job_id", j.ID).
		Str("job_type", j.JobType).
		Str("upload_id", j.UploadID).
		Str("status", j.Status).
		Msg("job status changed")
	return nil
}

func (t *Tracker) propagate(ctx context.Context, j *Job) error {
	switch j.Status {
	case StatusRunning, StatusCompleted, StatusFailed:
	default:
		return nil
	}
	u, err := t.store.GetUpload(ctx, j.UploadID)
	if err != nil {
		return err
	}
	now := t.store.now()

	switch j.Status {
	case StatusRunning:
		if u.Status != UploadPending {
			return nil
		}
		u.Status = UploadProcessing
		u.ProcessingStartedAt = &now
	case StatusCompleted:
		all, err := t.store.JobsForUpload(ctx, u.ID)
		if err != nil {
			return err
		}
		for _, other := range all {
			if other.Status != StatusCompleted {
				return nil
			}
		}
		u.Status = UploadCompleted
		u.ProcessingCompletedAt = &now
	case StatusFailed:
		u.Status = UploadFailed
		u.ErrorMessage = j.ErrorMessage
	}
	return t.store.UpdateUpload(ctx, &u)
}
