package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"hospitaletl/internal/config"
	"hospitaletl/internal/ddl"
	"hospitaletl/internal/mapping"
	"hospitaletl/internal/storage"
)

var (
	// ErrNotFound is returned when an upload, job or mapping does not exist.
	ErrNotFound = errors.New("jobs: not found")
	// ErrRunInProgress is returned by AcquireRun when another run of the
	// same upload holds the marker.
	ErrRunInProgress = errors.New("jobs: pipeline already running for upload")
)

// Metadata table names.
const (
	UploadsTable  = "data_uploads"
	JobsTable     = "etl_jobs"
	MappingsTable = "field_mappings"
	RunsTable     = "pipeline_runs"
)

func col(name string, kind ddl.Kind, nullable bool) ddl.ColumnDef {
	return ddl.ColumnDef{Name: name, Kind: kind, Nullable: nullable}
}

func pk(name string) ddl.ColumnDef {
	return ddl.ColumnDef{Name: name, Kind: ddl.KindKey, PrimaryKey: true}
}

var (
	uploadsDef = ddl.TableDef{
		FQN: UploadsTable,
		Columns: []ddl.ColumnDef{
			pk("id"),
			col("hospital_id", ddl.KindInteger, false),
			col("user_id", ddl.KindKey, true),
			col("file_name", ddl.KindString, false),
			col("file_path", ddl.KindText, true),
			col("file_type", ddl.KindString, true),
			col("file_size", ddl.KindInteger, true),
			col("data_category", ddl.KindKey, false),
			col("status", ddl.KindKey, false),
			col("total_rows", ddl.KindInteger, true),
			col("processed_rows", ddl.KindInteger, true),
			col("error_rows", ddl.KindInteger, true),
			col("error_message", ddl.KindText, true),
			col("validation_errors", ddl.KindJSON, true),
			col("original_data", ddl.KindJSON, true),
			col("processing_started_at", ddl.KindDateTime, true),
			col("processing_completed_at", ddl.KindDateTime, true),
			col("created_at", ddl.KindDateTime, false),
			col("updated_at", ddl.KindDateTime, false),
		},
		Indexes: []ddl.IndexDef{
			{Columns: []string{"hospital_id", "data_category"}},
			{Columns: []string{"status"}},
			{Columns: []string{"created_at"}},
		},
	}

	jobsDef = ddl.TableDef{
		FQN: JobsTable,
		Columns: []ddl.ColumnDef{
			pk("id"),
			col("hospital_id", ddl.KindInteger, false),
			col("data_upload_id", ddl.KindKey, false),
			col("job_type", ddl.KindKey, false),
			col("stage", ddl.KindKey, false),
			col("status", ddl.KindKey, false),
			col("started_at", ddl.KindDateTime, true),
			col("completed_at", ddl.KindDateTime, true),
			col("error_message", ddl.KindText, true),
			col("error_details", ddl.KindJSON, true),
			col("processing_stats", ddl.KindJSON, true),
			col("job_config", ddl.KindJSON, true),
			col("created_at", ddl.KindDateTime, false),
			col("updated_at", ddl.KindDateTime, false),
		},
		Indexes: []ddl.IndexDef{
			{Columns: []string{"data_upload_id"}},
			{Columns: []string{"hospital_id", "status"}},
		},
	}

	mappingsDef = ddl.TableDef{
		FQN: MappingsTable,
		Columns: []ddl.ColumnDef{
			pk("id"),
			col("hospital_id", ddl.KindInteger, false),
			col("data_upload_id", ddl.KindKey, false),
			col("source_field", ddl.KindString, false),
			col("target_field", ddl.KindString, false),
			col("mapping_type", ddl.KindKey, false),
			col("data_type", ddl.KindKey, false),
			col("transformation_rules", ddl.KindJSON, true),
			col("validation_rules", ddl.KindJSON, true),
			col("is_required", ddl.KindBoolean, false),
			col("is_active", ddl.KindBoolean, false),
			col("description", ddl.KindText, true),
			col("order_index", ddl.KindInteger, false),
			col("created_at", ddl.KindDateTime, false),
			col("updated_at", ddl.KindDateTime, false),
		},
		Indexes: []ddl.IndexDef{
			{Columns: []string{"data_upload_id", "is_active"}},
		},
	}

	runsDef = ddl.TableDef{
		FQN: RunsTable,
		Columns: []ddl.ColumnDef{
			pk("data_upload_id"),
			col("token", ddl.KindKey, false),
			col("owner", ddl.KindString, true),
			col("started_at", ddl.KindDateTime, false),
		},
	}
)

// Store persists uploads, jobs, field mappings and run markers through a
// storage.Repository.
type Store struct {
	repo storage.Repository
	now  func() time.Time
}

// NewStore returns a Store over repo. Call Migrate once before use.
func NewStore(repo storage.Repository) *Store {
	return &Store{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Repository returns the underlying repository.
func (s *Store) Repository() storage.Repository { return s.repo }

// Migrate creates the metadata tables and their indexes if missing.
func (s *Store) Migrate(ctx context.Context) error {
	d := s.repo.Dialect()
	for _, td := range []ddl.TableDef{uploadsDef, jobsDef, mappingsDef, runsDef} {
		create, err := d.CreateTableSQL(td)
		if err != nil {
			return fmt.Errorf("migrate %s: %w", td.FQN, err)
		}
		stmts := []string{create}
		for _, idx := range td.Indexes {
			stmts = append(stmts, d.CreateIndexSQL(td.FQN, idx))
		}
		if err := s.repo.ApplyDDL(ctx, td.FQN, stmts...); err != nil {
			return fmt.Errorf("migrate %s: %w", td.FQN, err)
		}
	}
	return nil
}

// ---- generic row helpers ----

func (s *Store) insert(ctx context.Context, td ddl.TableDef, rec storage.Record) error {
	cols := td.ColumnNames()
	row := storage.EncodeRow(s.repo.Dialect(), td, cols, rec)
	if _, err := s.repo.Exec(ctx, storage.InsertSQL(s.repo.Dialect(), td.FQN, cols), row...); err != nil {
		return fmt.Errorf("insert %s: %w", td.FQN, err)
	}
	return nil
}

// update writes every column of rec except the key and returns
// ErrNotFound when no row matched.
func (s *Store) update(ctx context.Context, td ddl.TableDef, key string, rec storage.Record) error {
	d := s.repo.Dialect()
	var (
		sets []string
		cols []string
	)
	for _, c := range td.ColumnNames() {
		if c == key {
			continue
		}
		if _, ok := rec[c]; !ok {
			continue
		}
		sets = append(sets, d.QuoteIdent(c)+" = ?")
		cols = append(cols, c)
	}
	args := storage.EncodeRow(d, td, append(cols, key), rec)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", d.QuoteIdent(td.FQN), strings.Join(sets, ", "), d.QuoteIdent(key))
	n, err := s.repo.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", td.FQN, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", td.FQN, rec[key], ErrNotFound)
	}
	return nil
}

func (s *Store) selectWhere(ctx context.Context, td ddl.TableDef, where, order string, args ...any) ([]storage.Record, error) {
	d := s.repo.Dialect()
	q := fmt.Sprintf("SELECT %s FROM %s", storage.QuoteList(d, td.ColumnNames()), d.QuoteIdent(td.FQN))
	if where != "" {
		q += " WHERE " + where
	}
	if order != "" {
		q += " ORDER BY " + order
	}
	recs, err := s.repo.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", td.FQN, err)
	}
	return recs, nil
}

func (s *Store) eq(column string) string { return s.repo.Dialect().QuoteIdent(column) + " = ?" }

func jsonValue(v any) any {
	switch t := v.(type) {
	case config.Options:
		if t == nil {
			return nil
		}
	case []string:
		if t == nil {
			return nil
		}
	}
	return v
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(v any) *time.Time {
	t, ok := ddl.AsTime(v)
	if !ok {
		return nil
	}
	t = t.UTC()
	return &t
}

func timeOf(v any) time.Time {
	if t := timePtr(v); t != nil {
		return *t
	}
	return time.Time{}
}

func boolOf(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := ddl.Normalize(ddl.KindBoolean, t).(bool)
		return b
	}
	return ddl.ToInt64(v) != 0
}

func optionsOf(v any) (config.Options, error) {
	if v == nil {
		return nil, nil
	}
	m, err := ddl.DecodeJSONMap(v)
	if err != nil {
		return nil, err
	}
	return config.Options(m), nil
}

// ---- uploads ----

func uploadRecord(u *Upload) storage.Record {
	return storage.Record{
		"id":                      u.ID,
		"hospital_id":             u.HospitalID,
		"user_id":                 u.UserID,
		"file_name":               u.FileName,
		"file_path":               u.FilePath,
		"file_type":               u.FileType,
		"file_size":               u.FileSize,
		"data_category":           u.DataCategory,
		"status":                  u.Status,
		"total_rows":              u.TotalRows,
		"processed_rows":          u.ProcessedRows,
		"error_rows":              u.ErrorRows,
		"error_message":           u.ErrorMessage,
		"validation_errors":       jsonValue(u.ValidationErrors),
		"original_data":           u.Preview,
		"processing_started_at":   timeValue(u.ProcessingStartedAt),
		"processing_completed_at": timeValue(u.ProcessingCompletedAt),
		"created_at":              u.CreatedAt,
		"updated_at":              u.UpdatedAt,
	}
}

func decodeUpload(r storage.Record) (Upload, error) {
	u := Upload{
		ID:                    ddl.AsString(r["id"]),
		HospitalID:            ddl.ToInt64(r["hospital_id"]),
		UserID:                ddl.AsString(r["user_id"]),
		FileName:              ddl.AsString(r["file_name"]),
		FilePath:              ddl.AsString(r["file_path"]),
		FileType:              ddl.AsString(r["file_type"]),
		FileSize:              ddl.ToInt64(r["file_size"]),
		DataCategory:          ddl.AsString(r["data_category"]),
		Status:                ddl.AsString(r["status"]),
		TotalRows:             ddl.ToInt64(r["total_rows"]),
		ProcessedRows:         ddl.ToInt64(r["processed_rows"]),
		ErrorRows:             ddl.ToInt64(r["error_rows"]),
		ErrorMessage:          ddl.AsString(r["error_message"]),
		ProcessingStartedAt:   timePtr(r["processing_started_at"]),
		ProcessingCompletedAt: timePtr(r["processing_completed_at"]),
		CreatedAt:             timeOf(r["created_at"]),
		UpdatedAt:             timeOf(r["updated_at"]),
	}
	var err error
	if u.ValidationErrors, err = ddl.DecodeJSONList(r["validation_errors"]); err != nil {
		return u, fmt.Errorf("upload %s validation_errors: %w", u.ID, err)
	}
	preview, err := ddl.DecodeJSONMap(r["original_data"])
	if err != nil {
		return u, fmt.Errorf("upload %s original_data: %w", u.ID, err)
	}
	u.Preview.Headers = config.Options(preview).StringSlice("headers")
	for _, row := range config.Options(preview).Objects("rows") {
		u.Preview.Rows = append(u.Preview.Rows, map[string]any(row))
	}
	return u, nil
}

// CreateUpload inserts u, assigning an ID, timestamps and the pending
// status when they are unset.
func (s *Store) CreateUpload(ctx context.Context, u *Upload) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = UploadPending
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	return s.insert(ctx, uploadsDef, uploadRecord(u))
}

// GetUpload loads one upload.
func (s *Store) GetUpload(ctx context.Context, id string) (Upload, error) {
	recs, err := s.selectWhere(ctx, uploadsDef, s.eq("id"), "", id)
	if err != nil {
		return Upload{}, err
	}
	if len(recs) == 0 {
		return Upload{}, fmt.Errorf("upload %s: %w", id, ErrNotFound)
	}
	return decodeUpload(recs[0])
}

// UpdateUpload rewrites every mutable field of u.
func (s *Store) UpdateUpload(ctx context.Context, u *Upload) error {
	u.UpdatedAt = s.now()
	rec := uploadRecord(u)
	delete(rec, "created_at")
	return s.update(ctx, uploadsDef, "id", rec)
}

// HospitalCategories lists the distinct (hospital, category) pairs of all
// uploads, ordered by hospital then category.
func (s *Store) HospitalCategories(ctx context.Context) ([]HospitalCategory, error) {
	d := s.repo.Dialect()
	q := fmt.Sprintf("SELECT DISTINCT %s, %s FROM %s ORDER BY %s, %s",
		d.QuoteIdent("hospital_id"), d.QuoteIdent("data_category"), d.QuoteIdent(UploadsTable),
		d.QuoteIdent("hospital_id"), d.QuoteIdent("data_category"))
	recs, err := s.repo.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("hospital categories: %w", err)
	}
	out := make([]HospitalCategory, 0, len(recs))
	for _, r := range recs {
		out = append(out, HospitalCategory{HospitalID: ddl.ToInt64(r["hospital_id"]), Category: ddl.AsString(r["data_category"])})
	}
	return out, nil
}

// ---- jobs ----

func jobRecord(j *Job) storage.Record {
	return storage.Record{
		"id":               j.ID,
		"hospital_id":      j.HospitalID,
		"data_upload_id":   j.UploadID,
		"job_type":         j.JobType,
		"stage":            j.Stage,
		"status":           j.Status,
		"started_at":       timeValue(j.StartedAt),
		"completed_at":     timeValue(j.CompletedAt),
		"error_message":    j.ErrorMessage,
		"error_details":    jsonValue(j.ErrorDetails),
		"processing_stats": jsonValue(j.ProcessingStats),
		"job_config":       jsonValue(j.JobConfig),
		"created_at":       j.CreatedAt,
		"updated_at":       j.UpdatedAt,
	}
}

func decodeJob(r storage.Record) (Job, error) {
	j := Job{
		ID:           ddl.AsString(r["id"]),
		HospitalID:   ddl.ToInt64(r["hospital_id"]),
		UploadID:     ddl.AsString(r["data_upload_id"]),
		JobType:      ddl.AsString(r["job_type"]),
		Stage:        ddl.AsString(r["stage"]),
		Status:       ddl.AsString(r["status"]),
		StartedAt:    timePtr(r["started_at"]),
		CompletedAt:  timePtr(r["completed_at"]),
		ErrorMessage: ddl.AsString(r["error_message"]),
		CreatedAt:    timeOf(r["created_at"]),
		UpdatedAt:    timeOf(r["updated_at"]),
	}
	var err error
	if j.ErrorDetails, err = optionsOf(r["error_details"]); err != nil {
		return j, fmt.Errorf("job %s error_details: %w", j.ID, err)
	}
	if j.ProcessingStats, err = optionsOf(r["processing_stats"]); err != nil {
		return j, fmt.Errorf("job %s processing_stats: %w", j.ID, err)
	}
	if j.JobConfig, err = optionsOf(r["job_config"]); err != nil {
		return j, fmt.Errorf("job %s job_config: %w", j.ID, err)
	}
	return j, nil
}

// CreateJob inserts j as pending, deriving Stage from JobType.
func (s *Store) CreateJob(ctx context.Context, j *Job) error {
	stage, err := StageFor(j.JobType)
	if err != nil {
		return err
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	j.Stage = stage
	if j.Status == "" {
		j.Status = StatusPending
	}
	now := s.now()
	j.CreatedAt, j.UpdatedAt = now, now
	return s.insert(ctx, jobsDef, jobRecord(j))
}

// GetJob loads one job.
func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	recs, err := s.selectWhere(ctx, jobsDef, s.eq("id"), "", id)
	if err != nil {
		return Job{}, err
	}
	if len(recs) == 0 {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return decodeJob(recs[0])
}

// UpdateJob rewrites every mutable field of j.
func (s *Store) UpdateJob(ctx context.Context, j *Job) error {
	j.UpdatedAt = s.now()
	rec := jobRecord(j)
	delete(rec, "created_at")
	return s.update(ctx, jobsDef, "id", rec)
}

// SaveStats persists only the processing stats of a running job.
func (s *Store) SaveStats(ctx context.Context, j *Job) error {
	j.UpdatedAt = s.now()
	return s.update(ctx, jobsDef, "id", storage.Record{
		"id":               j.ID,
		"processing_stats": jsonValue(j.ProcessingStats),
		"updated_at":       j.UpdatedAt,
	})
}

var jobOrder = map[string]int{TypeExtract: 0, TypeTransform: 1, TypeLoad: 2}

// JobsForUpload returns every job of an upload by creation time; jobs
// created in the same instant keep pipeline order.
func (s *Store) JobsForUpload(ctx context.Context, uploadID string) ([]Job, error) {
	recs, err := s.selectWhere(ctx, jobsDef, s.eq("data_upload_id"), s.repo.Dialect().QuoteIdent("created_at"), uploadID)
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(recs))
	for _, r := range recs {
		j, err := decodeJob(r)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return jobOrder[out[a].JobType] < jobOrder[out[b].JobType]
	})
	return out, nil
}

// ---- field mappings ----

func mappingRecord(m *mapping.FieldMapping) storage.Record {
	return storage.Record{
		"id":                   m.ID,
		"hospital_id":          m.HospitalID,
		"data_upload_id":       m.UploadID,
		"source_field":         m.SourceField,
		"target_field":         m.TargetField,
		"mapping_type":         m.MappingType,
		"data_type":            m.DataType,
		"transformation_rules": jsonValue(m.TransformationRules),
		"validation_rules":     jsonValue(m.ValidationRules),
		"is_required":          m.IsRequired,
		"is_active":            m.IsActive,
		"description":          m.Description,
		"order_index":          int64(m.Position),
		"created_at":           m.CreatedAt,
		"updated_at":           m.UpdatedAt,
	}
}

func decodeMapping(r storage.Record) (mapping.FieldMapping, error) {
	m := mapping.FieldMapping{
		ID:          ddl.AsString(r["id"]),
		HospitalID:  ddl.ToInt64(r["hospital_id"]),
		UploadID:    ddl.AsString(r["data_upload_id"]),
		SourceField: ddl.AsString(r["source_field"]),
		TargetField: ddl.AsString(r["target_field"]),
		MappingType: ddl.AsString(r["mapping_type"]),
		DataType:    ddl.AsString(r["data_type"]),
		IsRequired:  boolOf(r["is_required"]),
		IsActive:    boolOf(r["is_active"]),
		Description: ddl.AsString(r["description"]),
		Position:    int(ddl.ToInt64(r["order_index"])),
		CreatedAt:   timeOf(r["created_at"]),
		UpdatedAt:   timeOf(r["updated_at"]),
	}
	var err error
	if m.TransformationRules, err = optionsOf(r["transformation_rules"]); err != nil {
		return m, fmt.Errorf("mapping %s transformation_rules: %w", m.ID, err)
	}
	if m.ValidationRules, err = optionsOf(r["validation_rules"]); err != nil {
		return m, fmt.Errorf("mapping %s validation_rules: %w", m.ID, err)
	}
	return m, nil
}

// ReplaceMappings validates ms and stores it as the mapping set of the
// upload, replacing any previous set. Mappings inherit the upload's
// hospital.
func (s *Store) ReplaceMappings(ctx context.Context, u Upload, ms []mapping.FieldMapping, reserved ...string) error {
	if err := mapping.ValidateSet(ms, reserved...); err != nil {
		return err
	}
	d := s.repo.Dialect()
	del := fmt.Sprintf("DELETE FROM %s WHERE %s", d.QuoteIdent(MappingsTable), s.eq("data_upload_id"))
	if _, err := s.repo.Exec(ctx, del, u.ID); err != nil {
		return fmt.Errorf("replace mappings: %w", err)
	}
	now := s.now()
	for i := range ms {
		m := &ms[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.HospitalID = u.HospitalID
		m.UploadID = u.ID
		m.CreatedAt, m.UpdatedAt = now, now
		if err := s.insert(ctx, mappingsDef, mappingRecord(m)); err != nil {
			return err
		}
	}
	return nil
}

// Mappings returns every mapping of an upload, active or not, by position.
func (s *Store) Mappings(ctx context.Context, uploadID string) ([]mapping.FieldMapping, error) {
	d := s.repo.Dialect()
	recs, err := s.selectWhere(ctx, mappingsDef, s.eq("data_upload_id"),
		d.QuoteIdent("order_index")+", "+d.QuoteIdent("created_at"), uploadID)
	if err != nil {
		return nil, err
	}
	out := make([]mapping.FieldMapping, 0, len(recs))
	for _, r := range recs {
		m, err := decodeMapping(r)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ActiveMappings returns the active mappings of an upload by position.
func (s *Store) ActiveMappings(ctx context.Context, uploadID string) ([]mapping.FieldMapping, error) {
	ms, err := s.Mappings(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	return mapping.Active(ms), nil
}

// ---- run markers ----

// AcquireRun inserts the run marker of an upload and returns the token
// that identifies this claim. It returns ErrRunInProgress when a marker
// already exists.
func (s *Store) AcquireRun(ctx context.Context, uploadID, owner string) (string, error) {
	token := uuid.NewString()
	err := s.insert(ctx, runsDef, storage.Record{
		"data_upload_id": uploadID,
		"token":          token,
		"owner":          owner,
		"started_at":     s.now(),
	})
	if err != nil {
		if s.repo.Dialect().IsUniqueViolation(err) {
			return "", fmt.Errorf("upload %s: %w", uploadID, ErrRunInProgress)
		}
		return "", err
	}
	return token, nil
}

// ReleaseRun removes the run marker of an upload if it still carries token.
// A marker taken over by a later claim is left alone, and releasing a
// marker that does not exist is not an error.
func (s *Store) ReleaseRun(ctx context.Context, uploadID, token string) error {
	d := s.repo.Dialect()
	q := fmt.Sprintf("DELETE FROM %s WHERE %s AND %s", d.QuoteIdent(RunsTable), s.eq("data_upload_id"), s.eq("token"))
	if _, err := s.repo.Exec(ctx, q, uploadID, token); err != nil {
		return fmt.Errorf("release run %s: %w", uploadID, err)
	}
	return nil
}

// RunToken returns the token of the current run marker of an upload;
// ok is false when there is none.
func (s *Store) RunToken(ctx context.Context, uploadID string) (token string, ok bool, err error) {
	recs, err := s.selectWhere(ctx, runsDef, s.eq("data_upload_id"), "", uploadID)
	if err != nil {
		return "", false, err
	}
	if len(recs) == 0 {
		return "", false, nil
	}
	return ddl.AsString(recs[0]["token"]), true, nil
}

// RunActive reports whether an upload holds a run marker.
func (s *Store) RunActive(ctx context.Context, uploadID string) (bool, error) {
	n, err := storage.Count(ctx, s.repo, RunsTable, s.eq("data_upload_id"), uploadID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
