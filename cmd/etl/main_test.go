package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hospitaletl/internal/config"
	"hospitaletl/internal/jobs"
	"hospitaletl/internal/mapping"
	"hospitaletl/internal/storage/sqlite"
)

func TestContentTypeFor(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"a.csv":        "text/csv",
		"B.XLSX":       "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"macro.xlsm":   "application/vnd.ms-excel.sheet.macroEnabled.12",
		"report.pdf":   "application/octet-stream",
		"no_extension": "application/octet-stream",
	}
	for in, want := range cases {
		if got := contentTypeFor(in); got != want {
			t.Errorf("contentTypeFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecodeMappings_Defaults(t *testing.T) {
	t.Parallel()

	in := `[
		{"source_field": "Revenue", "target_field": "revenue", "data_type": "decimal", "is_required": true},
		{"source_field": "Dept", "target_field": "department", "is_active": false, "order_index": 7}
	]`
	ms, err := decodeMappings(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, ms, 2)

	assert.True(t, ms[0].IsActive)
	assert.Equal(t, mapping.TypeDirect, ms[0].MappingType)
	assert.Equal(t, mapping.DataDecimal, ms[0].DataType)
	assert.True(t, ms[0].IsRequired)
	assert.Equal(t, 0, ms[0].Position)

	assert.False(t, ms[1].IsActive)
	assert.Equal(t, mapping.DataString, ms[1].DataType)
	assert.Equal(t, 7, ms[1].Position)

	_, err = decodeMappings(strings.NewReader(`{"not": "an array"}`))
	assert.Error(t, err)
}

func TestRegisterUpload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, closeFn, err := sqlite.NewRepository(ctx, sqlite.Config{DSN: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(closeFn)
	store := jobs.NewStore(repo)
	require.NoError(t, store.Migrate(ctx))

	var b strings.Builder
	b.WriteString("Name,Value\n")
	for i := 0; i < 8; i++ {
		b.WriteString("row,1\n")
	}
	p := filepath.Join(t.TempDir(), "general.csv")
	require.NoError(t, os.WriteFile(p, []byte(b.String()), 0o644))

	u, err := registerUpload(ctx, store, p, uploadInput{HospitalID: 3, Category: "General"})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "text/csv", u.FileType)
	assert.Equal(t, "general", u.DataCategory)
	assert.Equal(t, jobs.UploadCompleted, u.Status)
	assert.Equal(t, int64(8), u.TotalRows)
	assert.Equal(t, int64(b.Len()), u.FileSize)
	assert.Equal(t, []string{"Name", "Value"}, u.Preview.Headers)
	assert.Len(t, u.Preview.Rows, previewRows)

	stored, err := store.GetUpload(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.FilePath, stored.FilePath)

	_, err = registerUpload(ctx, store, filepath.Join(t.TempDir(), "missing.csv"), uploadInput{HospitalID: 3})
	assert.Error(t, err)
}

// execute runs the root command against a fresh sqlite file and returns stdout.
func execute(t *testing.T, dsn string, args ...string) (string, error) {
	t.Helper()
	loadConfigFn = func(string) (*config.Config, error) {
		cfg := config.Default()
		cfg.Storage.DSN = dsn
		cfg.Log.Level = "error"
		return &cfg, nil
	}
	t.Cleanup(func() { loadConfigFn = config.Load })

	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommands_RunPipeline(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "etl.db")

	data := filepath.Join(dir, "general.csv")
	require.NoError(t, os.WriteFile(data, []byte("Name,Value\nbeds,120\nwards,8\n"), 0o644))
	maps := filepath.Join(dir, "mappings.json")
	require.NoError(t, os.WriteFile(maps, []byte(`[
		{"source_field": "Name", "target_field": "name"},
		{"source_field": "Value", "target_field": "value", "data_type": "decimal"}
	]`), 0o644))

	out, err := execute(t, dsn, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "metadata tables ready")

	_, err = execute(t, dsn, "upload", "register", data)
	require.EqualError(t, err, "--hospital is required")

	out, err = execute(t, dsn, "upload", "register", data, "--hospital", "5")
	require.NoError(t, err)
	var u jobs.Upload
	require.NoError(t, json.Unmarshal([]byte(out), &u))
	require.NotEmpty(t, u.ID)
	assert.Equal(t, int64(2), u.TotalRows)

	out, err = execute(t, dsn, "mappings", "import", u.ID, maps)
	require.NoError(t, err)
	var ms []mapping.FieldMapping
	require.NoError(t, json.Unmarshal([]byte(out), &ms))
	assert.Len(t, ms, 2)

	out, err = execute(t, dsn, "run", u.ID)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"success": true`)

	out, err = execute(t, dsn, "status", u.ID)
	require.NoError(t, err)
	assert.Contains(t, out, `"overall_status": "completed"`)

	_, err = execute(t, dsn, "stage", u.ID, "publish")
	assert.Error(t, err)

	_, err = execute(t, dsn, "retry", "no-such-job")
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	out, err = execute(t, dsn, "cleanup", "--upload", u.ID)
	require.NoError(t, err)
	assert.Contains(t, out, `"raw_rows": 0`)
}

func TestCheckConfig_RejectsInvalid(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Pipeline.ExtractBatchSize = 0
	var buf bytes.Buffer
	assert.Error(t, checkConfig(cfg, &buf))
	assert.Contains(t, buf.String(), "extract_batch_size")

	buf.Reset()
	assert.NoError(t, checkConfig(config.Default(), &buf))
}
