package mssql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	mssql "github.com/microsoft/go-mssqldb"

	"hospitaletl/internal/ddl"
	"hospitaletl/internal/storage"
)

func TestDialect_CreateTableSQL(t *testing.T) {
	t.Parallel()

	td := ddl.TableDef{
		FQN: "core_patient_data",
		Columns: []ddl.ColumnDef{
			{Name: "id", Kind: ddl.KindID},
			{Name: "patient_id", Kind: ddl.KindString, Nullable: true},
			{Name: "metadata", Kind: ddl.KindJSON, Nullable: true},
		},
	}
	got, err := Dialect{}.CreateTableSQL(td)
	if err != nil {
		t.Fatalf("CreateTableSQL: %v", err)
	}
	want := "IF OBJECT_ID(N'[core_patient_data]', N'U') IS NULL\nBEGIN\n" +
		"  CREATE TABLE [core_patient_data] (\n" +
		"    [id] BIGINT IDENTITY(1,1) PRIMARY KEY,\n" +
		"    [patient_id] NVARCHAR(4000),\n" +
		"    [metadata] NVARCHAR(MAX)\n" +
		"  );\nEND;"
	if got != want {
		t.Fatalf("SQL mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestDialect_CreateTableSQL_Errors(t *testing.T) {
	t.Parallel()

	if _, err := (Dialect{}).CreateTableSQL(ddl.TableDef{}); err == nil || !strings.Contains(err.Error(), "table FQN must not be empty") {
		t.Fatalf("err = %v", err)
	}
}

func TestDialect_GuardedAlterAndIndex(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	alter, err := d.AddColumnSQL("staging_quality_2", ddl.ColumnDef{Name: "o'brien", Kind: ddl.KindInteger})
	if err != nil {
		t.Fatalf("AddColumnSQL: %v", err)
	}
	want := "IF COL_LENGTH(N'[staging_quality_2]', N'o''brien') IS NULL\n  ALTER TABLE [staging_quality_2] ADD [o'brien] BIGINT;"
	if alter != want {
		t.Fatalf("alter = %q", alter)
	}

	idx := d.CreateIndexSQL("staging_quality_2", ddl.IndexDef{Columns: []string{"etl_job_id"}})
	if !strings.HasPrefix(idx, "IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'idx_staging_quality_2_etl_job_id'") {
		t.Fatalf("index = %q", idx)
	}
	if !strings.HasSuffix(idx, "CREATE INDEX [idx_staging_quality_2_etl_job_id] ON [staging_quality_2] ([etl_job_id]);") {
		t.Fatalf("index = %q", idx)
	}
}

func TestDialect_LimitAndPlaceholders(t *testing.T) {
	t.Parallel()

	prefix, suffix := Dialect{}.Limit(50)
	if prefix != "TOP (50) " || suffix != "" {
		t.Fatalf("Limit = %q %q", prefix, suffix)
	}
	got := storage.Rebind("SELECT [a?] FROM t WHERE x = ? AND y = ?", storage.AtPlaceholder)
	if got != "SELECT [a?] FROM t WHERE x = @p1 AND y = @p2" {
		t.Fatalf("Rebind = %q", got)
	}
}

func TestDialect_IsUniqueViolation(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	for _, n := range []int32{2627, 2601} {
		if !d.IsUniqueViolation(fmt.Errorf("exec: %w", mssql.Error{Number: n})) {
			t.Errorf("number %d not detected", n)
		}
	}
	if d.IsUniqueViolation(mssql.Error{Number: 208}) || d.IsUniqueViolation(errors.New("x")) {
		t.Fatalf("false positive")
	}
}

// TestCopyFromEmptyRows verifies that CopyFrom short-circuits when no rows
// are provided and does not require a live database connection.
func TestCopyFromEmptyRows(t *testing.T) {
	t.Parallel()

	r := &Repository{db: nil}
	got, err := r.CopyFrom(context.Background(), "t", []string{"id", "name"}, nil)
	if err != nil {
		t.Fatalf("CopyFrom(nil...) error = %v, want nil", err)
	}
	if got != 0 {
		t.Fatalf("CopyFrom(nil...) = %d, want 0", got)
	}
}

func TestNewRepository_InvalidDSN(t *testing.T) {
	t.Parallel()

	if _, _, err := NewRepository(context.Background(), Config{DSN: "sqlserver://host:notaport"}); err == nil {
		t.Fatalf("expected DSN error")
	}
}

func TestMSSQLStorageRegistrationUsesNewRepositoryHook(t *testing.T) {
	orig := newRepository
	defer func() { newRepository = orig }()

	var got Config
	newRepository = func(ctx context.Context, cfg Config) (*Repository, func(), error) {
		got = cfg
		return &Repository{}, func() {}, nil
	}

	repo, err := storage.New(context.Background(), storage.Config{Kind: "mssql", DSN: "sqlserver://sa@localhost", MaxConns: 3})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer repo.Close()
	if got.MaxConns != 3 || repo.Dialect().Name() != "mssql" {
		t.Fatalf("cfg = %+v dialect = %s", got, repo.Dialect().Name())
	}
}
