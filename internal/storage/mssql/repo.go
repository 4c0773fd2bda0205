// Package mssql implements a Microsoft SQL Server repository using
// go-mssqldb. Bulk loads use the driver's bulk copy API; schema changes run
// under sp_getapplock so concurrent creators of one table queue up.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"hospitaletl/internal/storage"
)

// Config holds MSSQL repository configuration.
type Config struct {
	DSN      string
	MaxConns int
}

// Repository is an MSSQL-backed implementation of storage.Repository.
type Repository struct {
	db      *sql.DB
	cfg     Config
	dialect Dialect
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	closeFn := func() { _ = db.Close() }
	return &Repository{db: db, cfg: cfg}, closeFn, nil
}

// Dialect implements storage.Repository.
func (r *Repository) Dialect() storage.Dialect { return r.dialect }

// Close releases the connections. Calling it more than once is harmless.
func (r *Repository) Close() { _ = r.db.Close() }

// Exec executes one statement and returns the affected row count.
func (r *Repository) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, storage.Rebind(query, storage.AtPlaceholder), args...)
	if err != nil {
		return 0, fmt.Errorf("mssql: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Query materialises every row of query.
func (r *Repository) Query(ctx context.Context, query string, args ...any) ([]storage.Record, error) {
	rows, err := r.db.QueryContext(ctx, storage.Rebind(query, storage.AtPlaceholder), args...)
	if err != nil {
		return nil, fmt.Errorf("mssql: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	var out []storage.Record
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("mssql: scan: %w", err)
		}
		rec := make(storage.Record, len(cols))
		for i, c := range cols {
			// DECIMAL arrives as []byte text.
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
				continue
			}
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CopyFrom performs a bulk insert directly into table.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, columns...))
	if err != nil {
		rollback()
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// TableColumns lists table's columns from sys.columns.
func (r *Repository) TableColumns(ctx context.Context, table string) ([]string, error) {
	recs, err := r.Query(ctx,
		`SELECT name FROM sys.columns WHERE object_id = OBJECT_ID(?) ORDER BY column_id`,
		msFQN(table))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		if s, ok := rec["name"].(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// ColumnTypes maps the columns of table to their sys.types names.
func (r *Repository) ColumnTypes(ctx context.Context, table string) (map[string]string, error) {
	recs, err := r.Query(ctx,
		`SELECT c.name AS name, t.name AS type_name
		   FROM sys.columns c
		   JOIN sys.types t ON t.user_type_id = c.user_type_id
		  WHERE c.object_id = OBJECT_ID(?)`,
		msFQN(table))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(recs))
	for _, rec := range recs {
		n, _ := rec["name"].(string)
		t, _ := rec["type_name"].(string)
		out[n] = t
	}
	return out, nil
}

// ApplyDDL runs stmts in one transaction holding an exclusive application
// lock named after lockKey.
func (r *Repository) ApplyDDL(ctx context.Context, lockKey string, stmts ...string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mssql: begin ddl: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	lock := `DECLARE @rc INT;
EXEC @rc = sp_getapplock @Resource = @p1, @LockMode = 'Exclusive', @LockOwner = 'Transaction', @LockTimeout = 60000;
IF @rc < 0 THROW 50000, 'sp_getapplock failed', 1;`
	if _, err := tx.ExecContext(ctx, lock, "hospitaletl:"+lockKey); err != nil {
		rollback()
		return fmt.Errorf("mssql: applock: %w", err)
	}
	for _, s := range stmts {
		if strings.TrimSpace(s) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, s); err != nil {
			rollback()
			return fmt.Errorf("mssql: ddl: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mssql: commit ddl: %w", err)
	}
	return nil
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// msFQN quotes a possibly schema-qualified name like "dbo.core_patient_data"
// to "[dbo].[core_patient_data]".
func msFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = msIdent(p)
	}
	return strings.Join(parts, ".")
}
