//go:build integration

package mssql

import (
	"context"
	"os"
	"testing"
	"time"

	"hospitaletl/internal/ddl"
	"hospitaletl/internal/storage"
)

// getTestDSN reads the MSSQL_TEST_DSN environment variable.
// If it is empty, the caller should skip the test.
func getTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MSSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("MSSQL_TEST_DSN not set; skipping MSSQL integration tests")
	}
	return dsn
}

func TestRepositoryIntegration(t *testing.T) {
	dsn := getTestDSN(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, closeFn, err := NewRepository(ctx, Config{DSN: dsn})
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	defer closeFn()

	d := repo.Dialect()
	td := ddl.TableDef{
		FQN: "raw_general_it",
		Columns: []ddl.ColumnDef{
			{Name: "id", Kind: ddl.KindID},
			{Name: "etl_job_id", Kind: ddl.KindKey},
			{Name: "row_number", Kind: ddl.KindInteger},
			{Name: "source_data", Kind: ddl.KindJSON, Nullable: true},
		},
		Indexes: []ddl.IndexDef{{Columns: []string{"etl_job_id"}}},
	}
	defer func() { _, _ = repo.Exec(context.Background(), "DROP TABLE IF EXISTS [raw_general_it]") }()

	create, err := d.CreateTableSQL(td)
	if err != nil {
		t.Fatalf("CreateTableSQL: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := repo.ApplyDDL(ctx, td.FQN, create, d.CreateIndexSQL(td.FQN, td.Indexes[0])); err != nil {
			t.Fatalf("ApplyDDL #%d: %v", i, err)
		}
	}

	cols := []string{"etl_job_id", "row_number", "source_data"}
	rows := [][]any{
		storage.EncodeRow(d, td, cols, storage.Record{"etl_job_id": "j", "row_number": 1, "source_data": `{"a":"1"}`}),
		storage.EncodeRow(d, td, cols, storage.Record{"etl_job_id": "j", "row_number": 2, "source_data": `{"a":"2"}`}),
	}
	n, err := repo.CopyFrom(ctx, td.FQN, cols, rows)
	if err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	if n != 2 {
		t.Fatalf("CopyFrom = %d, want 2", n)
	}

	got, err := storage.Count(ctx, repo, td.FQN, "[etl_job_id] = ?", "j")
	if err != nil || got != 2 {
		t.Fatalf("Count = %d, %v", got, err)
	}
}
