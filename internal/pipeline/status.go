package pipeline

import (
	"context"
	"math"
	"time"

	"hospitaletl/internal/ddl"
	"hospitaletl/internal/jobs"
)

// StatusMixed is the overall status of jobs that ended in different
// terminal states, e.g. completed and cancelled.
const StatusMixed = "mixed"

// Status is the aggregate view of an upload's jobs.
type Status struct {
	UploadID      string         `json:"data_upload_id"`
	FileName      string         `json:"file_name"`
	OverallStatus string         `json:"overall_status"`
	Jobs          []jobs.Summary `json:"jobs"`
	Progress      float64        `json:"progress"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Duration      string         `json:"duration,omitempty"`
}

// OverallStatus folds job statuses: any failed, else any running, else any
// pending, else completed when all completed, else mixed. No jobs is
// pending.
func OverallStatus(js []jobs.Job) string {
	if len(js) == 0 {
		return jobs.StatusPending
	}
	has := map[string]bool{}
	for _, j := range js {
		has[j.Status] = true
	}
	switch {
	case has[jobs.StatusFailed]:
		return jobs.StatusFailed
	case has[jobs.StatusRunning]:
		return jobs.StatusRunning
	case has[jobs.StatusPending]:
		return jobs.StatusPending
	case len(has) == 1 && has[jobs.StatusCompleted]:
		return jobs.StatusCompleted
	}
	return StatusMixed
}

// Aggregate builds the status of an upload from its jobs as of now.
func Aggregate(u jobs.Upload, js []jobs.Job, now time.Time) Status {
	st := Status{
		UploadID:      u.ID,
		FileName:      u.FileName,
		OverallStatus: OverallStatus(js),
		Jobs:          make([]jobs.Summary, 0, len(js)),
	}
	var sum float64
	var first, last *time.Time
	open := false
	for _, j := range js {
		st.Jobs = append(st.Jobs, j.Summarize(now))
		sum += j.ProgressPercentage()
		if j.StartedAt != nil && (first == nil || j.StartedAt.Before(*first)) {
			first = j.StartedAt
		}
		if j.CompletedAt == nil {
			open = true
		} else if last == nil || j.CompletedAt.After(*last) {
			last = j.CompletedAt
		}
	}
	if len(js) > 0 {
		st.Progress = math.Round(sum/float64(len(js))*10) / 10
	}
	st.StartedAt = first
	if !open {
		st.CompletedAt = last
	}
	if first != nil {
		end := now
		if st.CompletedAt != nil {
			end = *st.CompletedAt
		}
		st.Duration = jobs.FormatDuration(end.Sub(*first))
	}
	return st
}

// Status returns the aggregate status of an upload.
func (o *Orchestrator) Status(ctx context.Context, uploadID string) (Status, error) {
	u, err := o.store.GetUpload(ctx, uploadID)
	if err != nil {
		return Status{}, err
	}
	js, err := o.store.JobsForUpload(ctx, uploadID)
	if err != nil {
		return Status{}, err
	}
	return Aggregate(u, js, o.now()), nil
}

// Estimate is an advisory processing-time forecast.
type Estimate struct {
	EstimatedSeconds float64         `json:"estimated_seconds"`
	EstimatedMinutes float64         `json:"estimated_minutes"`
	Factors          EstimateFactors `json:"factors"`
}

// EstimateFactors breaks the forecast into its terms.
type EstimateFactors struct {
	BaseTime       float64 `json:"base_time"`
	FileSizeImpact float64 `json:"file_size_impact"`
	RowCountImpact float64 `json:"row_count_impact"`
}

const (
	baseSeconds     = 30
	secondsPerMB    = 2
	secondsPer1kRow = 5
)

// EstimateFor forecasts the run time of u: a base, plus two seconds per
// MiB, plus five seconds per thousand rows.
func EstimateFor(u jobs.Upload) Estimate {
	f := EstimateFactors{
		BaseTime:       baseSeconds,
		FileSizeImpact: ddl.Round2(u.SizeMB() * secondsPerMB),
		RowCountImpact: float64(u.TotalRows/1000) * secondsPer1kRow,
	}
	secs := ddl.Round2(f.BaseTime + f.FileSizeImpact + f.RowCountImpact)
	return Estimate{
		EstimatedSeconds: secs,
		EstimatedMinutes: math.Round(secs/60*10) / 10,
		Factors:          f,
	}
}

// Estimate returns the forecast for an upload.
func (o *Orchestrator) Estimate(ctx context.Context, uploadID string) (Estimate, error) {
	u, err := o.store.GetUpload(ctx, uploadID)
	if err != nil {
		return Estimate{}, err
	}
	return EstimateFor(u), nil
}
