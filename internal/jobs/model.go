// Package jobs holds the upload and pipeline-job records, their SQL store
// and the lifecycle tracker that keeps an upload's status in step with its
// jobs.
package jobs

import (
	"fmt"
	"math"
	"time"

	"hospitaletl/internal/config"
	"hospitaletl/internal/schema"
)

// Upload statuses.
const (
	UploadPending    = "pending"
	UploadProcessing = "processing"
	UploadCompleted  = "completed"
	UploadFailed     = "failed"
)

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Job types, in pipeline order.
const (
	TypeExtract   = "extract"
	TypeTransform = "transform"
	TypeLoad      = "load"
)

// JobTypes lists the stage job types in execution order.
var JobTypes = []string{TypeExtract, TypeTransform, TypeLoad}

// StageFor returns the table stage a job type writes.
func StageFor(jobType string) (string, error) {
	switch jobType {
	case TypeExtract:
		return schema.StageRaw, nil
	case TypeTransform:
		return schema.StageStaging, nil
	case TypeLoad:
		return schema.StageCore, nil
	}
	return "", fmt.Errorf("unknown job type %q", jobType)
}

// Preview is the header and first rows recorded at intake.
type Preview struct {
	Headers []string         `json:"headers"`
	Rows    []map[string]any `json:"rows"`
}

// Upload is one ingested file.
type Upload struct {
	ID                    string     `json:"id"`
	HospitalID            int64      `json:"hospital_id"`
	UserID                string     `json:"user_id,omitempty"`
	FileName              string     `json:"file_name"`
	FilePath              string     `json:"file_path"`
	FileType              string     `json:"file_type"`
	FileSize              int64      `json:"file_size"`
	DataCategory          string     `json:"data_category"`
	Status                string     `json:"status"`
	TotalRows             int64      `json:"total_rows"`
	ProcessedRows         int64      `json:"processed_rows"`
	ErrorRows             int64      `json:"error_rows"`
	ErrorMessage          string     `json:"error_message,omitempty"`
	ValidationErrors      []string   `json:"validation_errors,omitempty"`
	Preview               Preview    `json:"preview"`
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// SizeMB is the file size in MiB rounded to two decimals.
func (u Upload) SizeMB() float64 {
	return math.Round(float64(u.FileSize)/1048576*100) / 100
}

// Job is the status record of one stage run for one upload.
type Job struct {
	ID              string         `json:"id"`
	HospitalID      int64          `json:"hospital_id"`
	UploadID        string         `json:"data_upload_id"`
	JobType         string         `json:"job_type"`
	Stage           string         `json:"stage"`
	Status          string         `json:"status"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ErrorDetails    config.Options `json:"error_details,omitempty"`
	ProcessingStats config.Options `json:"processing_stats"`
	JobConfig       config.Options `json:"job_config"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// CanRestart reports whether the job may be retried.
func (j Job) CanRestart() bool { return j.Status == StatusFailed || j.Status == StatusCancelled }

// CanCancel reports whether the job has not finished yet.
func (j Job) CanCancel() bool { return j.Status == StatusPending || j.Status == StatusRunning }

// Finished reports a terminal status.
func (j Job) Finished() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed || j.Status == StatusCancelled
}

// ProgressPercentage is processed/total rows as a percentage with one
// decimal; 0 when the total is unknown.
func (j Job) ProgressPercentage() float64 {
	total := j.ProcessingStats.Float("total_rows", 0)
	if total == 0 {
		return 0
	}
	processed := j.ProcessingStats.Float("processed_rows", 0)
	return math.Round(processed/total*1000) / 10
}

// Duration is the time from start to completion, or to now while the job
// runs. ok is false before the job starts.
func (j Job) Duration(now time.Time) (d time.Duration, ok bool) {
	if j.StartedAt == nil {
		return 0, false
	}
	end := now
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt), true
}

// DurationText renders Duration the way operators read it: "42초",
// "3분 5초", "1시간 12분", or "-" before the job starts.
func (j Job) DurationText(now time.Time) string {
	d, ok := j.Duration(now)
	if !ok {
		return "-"
	}
	return FormatDuration(d)
}

// FormatDuration renders d in whole seconds with Korean units.
func FormatDuration(d time.Duration) string {
	s := int64(d / time.Second)
	switch {
	case s < 60:
		return fmt.Sprintf("%d초", s)
	case s < 3600:
		return fmt.Sprintf("%d분 %d초", s/60, s%60)
	default:
		return fmt.Sprintf("%d시간 %d분", s/3600, (s%3600)/60)
	}
}

// Summary is the job view returned to status pollers.
type Summary struct {
	ID                 string         `json:"id"`
	JobType            string         `json:"job_type"`
	Stage              string         `json:"stage"`
	Status             string         `json:"status"`
	ProgressPercentage float64        `json:"progress_percentage"`
	Duration           string         `json:"duration"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	ProcessingStats    config.Options `json:"processing_stats"`
}

// Summarize returns the poller view of j.
func (j Job) Summarize(now time.Time) Summary {
	return Summary{
		ID:                 j.ID,
		JobType:            j.JobType,
		Stage:              j.Stage,
		Status:             j.Status,
		ProgressPercentage: j.ProgressPercentage(),
		Duration:           j.DurationText(now),
		ErrorMessage:       j.ErrorMessage,
		StartedAt:          j.StartedAt,
		CompletedAt:        j.CompletedAt,
		ProcessingStats:    j.ProcessingStats,
	}
}

// HospitalCategory is one (hospital, category) pair with intermediate
// tables.
type HospitalCategory struct {
	HospitalID int64
	Category   string
}
