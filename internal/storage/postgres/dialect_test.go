package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"hospitaletl/internal/ddl"
	"hospitaletl/internal/storage"
)

func TestDialect_CreateTableSQL(t *testing.T) {
	t.Parallel()

	td := ddl.TableDef{
		FQN: "raw_general_12",
		Columns: []ddl.ColumnDef{
			{Name: "id", Kind: ddl.KindID},
			{Name: "hospital_id", Kind: ddl.KindInteger},
			{Name: "source_data", Kind: ddl.KindJSON, Nullable: true},
			{Name: "created_at", Kind: ddl.KindDateTime, Default: "CURRENT_TIMESTAMP"},
		},
	}
	got, err := Dialect{}.CreateTableSQL(td)
	if err != nil {
		t.Fatalf("CreateTableSQL: %v", err)
	}
	want := "CREATE TABLE IF NOT EXISTS \"raw_general_12\" (\n" +
		"  \"id\" BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,\n" +
		"  \"hospital_id\" BIGINT NOT NULL,\n" +
		"  \"source_data\" JSONB,\n" +
		"  \"created_at\" TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP\n);"
	if got != want {
		t.Fatalf("SQL mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestDialect_AddColumnAndIndex(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	alter, err := d.AddColumnSQL("core_financial_data", ddl.ColumnDef{Name: "ward", Kind: ddl.KindString})
	if err != nil {
		t.Fatalf("AddColumnSQL: %v", err)
	}
	if want := `ALTER TABLE "core_financial_data" ADD COLUMN IF NOT EXISTS "ward" TEXT;`; alter != want {
		t.Fatalf("alter = %q", alter)
	}
	idx := d.CreateIndexSQL("core_financial_data", ddl.IndexDef{Columns: []string{"date"}})
	if !strings.HasPrefix(idx, `CREATE INDEX IF NOT EXISTS "idx_core_financial_data_date"`) {
		t.Fatalf("index = %q", idx)
	}
}

func TestDialect_IsUniqueViolation(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	dup := fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})
	if !d.IsUniqueViolation(dup) {
		t.Fatalf("23505 not detected")
	}
	if d.IsUniqueViolation(&pgconn.PgError{Code: "23502"}) || d.IsUniqueViolation(errors.New("x")) {
		t.Fatalf("false positive")
	}
}

func TestRebindForPostgres(t *testing.T) {
	t.Parallel()

	got := storage.Rebind(`DELETE FROM "raw_general_1" WHERE "created_at" < ? AND "hospital_id" = ?`, storage.DollarPlaceholder)
	if !strings.HasSuffix(got, `"created_at" < $1 AND "hospital_id" = $2`) {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeValue(t *testing.T) {
	t.Parallel()

	var n pgtype.Numeric
	if err := n.Scan("123.45"); err != nil {
		t.Fatalf("scan numeric: %v", err)
	}
	if got := normalizeValue(n); got != 123.45 {
		t.Fatalf("numeric = %#v", got)
	}
	if got := normalizeValue(pgtype.Numeric{}); got != nil {
		t.Fatalf("null numeric = %#v", got)
	}
	if got := normalizeValue(int32(7)); got != int64(7) {
		t.Fatalf("int32 = %#v", got)
	}
}

func TestLockID_Deterministic(t *testing.T) {
	t.Parallel()

	if lockID("raw_general_1") != lockID("raw_general_1") {
		t.Fatalf("lockID not deterministic")
	}
	if lockID("raw_general_1") == lockID("raw_general_2") {
		t.Fatalf("lockID collision")
	}
}

func TestPostgresStorageRegistrationUsesNewRepositoryHook(t *testing.T) {
	orig := newRepository
	defer func() { newRepository = orig }()

	var got Config
	closed := false
	newRepository = func(ctx context.Context, cfg Config) (*Repository, func(), error) {
		got = cfg
		return &Repository{}, func() { closed = true }, nil
	}

	repo, err := storage.New(context.Background(), storage.Config{Kind: "postgres", DSN: "postgres://x", MaxConns: 4})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	if got.DSN != "postgres://x" || got.MaxConns != 4 {
		t.Fatalf("hook cfg = %+v", got)
	}
	if repo.Dialect().Name() != "postgres" {
		t.Fatalf("dialect = %s", repo.Dialect().Name())
	}
	repo.Close()
	if !closed {
		t.Fatalf("Close did not invoke closeFn")
	}
}
