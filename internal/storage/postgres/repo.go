// Package postgres implements a Postgres repository using pgx v5. Bulk loads
// use the COPY protocol; schema changes run under a transaction-scoped
// advisory lock keyed by table name.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zeebo/xxh3"

	"hospitaletl/internal/storage"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN      string // connection string for pgxpool
	MaxConns int32  // 0 keeps the pgxpool default
}

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool    *pgxpool.Pool
	cfg     Config
	dialect Dialect
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	closeFn := func() { pool.Close() }
	return &Repository{pool: pool, cfg: cfg}, closeFn, nil
}

// Dialect implements storage.Repository.
func (r *Repository) Dialect() storage.Dialect { return r.dialect }

// Close releases the connections. Calling it more than once is harmless.
func (r *Repository) Close() { r.pool.Close() }

// Exec implements storage.Repository.Exec for Postgres.
func (r *Repository) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := r.pool.Exec(ctx, storage.Rebind(query, storage.DollarPlaceholder), args...)
	if err != nil {
		return 0, wrapPgErr("exec", err)
	}
	return tag.RowsAffected(), nil
}

// Query materialises every row of query.
func (r *Repository) Query(ctx context.Context, query string, args ...any) ([]storage.Record, error) {
	rows, err := r.pool.Query(ctx, storage.Rebind(query, storage.DollarPlaceholder), args...)
	if err != nil {
		return nil, wrapPgErr("query", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []storage.Record
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, wrapPgErr("scan", err)
		}
		rec := make(storage.Record, len(fields))
		for i, f := range fields {
			rec[f.Name] = normalizeValue(vals[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgErr("rows", err)
	}
	return out, nil
}

// normalizeValue turns pgx-specific scan results into plain Go values.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		if !t.Valid {
			return nil
		}
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case float32:
		return float64(t)
	case []byte:
		return string(t)
	}
	return v
}

// CopyFrom streams rows into table with COPY.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := r.pool.CopyFrom(ctx, splitFQN(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, wrapPgErr("copy into "+table, err)
	}
	return n, nil
}

// TableColumns lists the columns of table in the current schema.
func (r *Repository) TableColumns(ctx context.Context, table string) ([]string, error) {
	schema, name := "", table
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		schema, name = table[:i], table[i+1:]
	}
	q := `SELECT column_name::text AS column_name
	        FROM information_schema.columns
	       WHERE table_schema = COALESCE(NULLIF(?, ''), current_schema())
	         AND table_name = ?
	       ORDER BY ordinal_position`
	recs, err := r.Query(ctx, q, schema, name)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		if s, ok := rec["column_name"].(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// ColumnTypes maps the columns of table to information_schema data types.
func (r *Repository) ColumnTypes(ctx context.Context, table string) (map[string]string, error) {
	schema, name := "", table
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		schema, name = table[:i], table[i+1:]
	}
	q := `SELECT column_name::text AS column_name, data_type::text AS data_type
	        FROM information_schema.columns
	       WHERE table_schema = COALESCE(NULLIF(?, ''), current_schema())
	         AND table_name = ?`
	recs, err := r.Query(ctx, q, schema, name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(recs))
	for _, rec := range recs {
		n, _ := rec["column_name"].(string)
		t, _ := rec["data_type"].(string)
		out[n] = t
	}
	return out, nil
}

// ApplyDDL runs stmts in one transaction holding pg_advisory_xact_lock on a
// 64-bit hash of lockKey, so concurrent creators of the same table queue
// instead of racing on the catalog.
func (r *Repository) ApplyDDL(ctx context.Context, lockKey string, stmts ...string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapPgErr("begin ddl", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID(lockKey)); err != nil {
		return wrapPgErr("advisory lock", err)
	}
	for _, s := range stmts {
		if strings.TrimSpace(s) == "" {
			continue
		}
		if _, err := tx.Exec(ctx, s); err != nil {
			return wrapPgErr("ddl", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapPgErr("commit ddl", err)
	}
	return nil
}

func lockID(key string) int64 { return int64(xxh3.HashString("hospitaletl:" + key)) }

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
// If no dot is present, returns {"table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}

// wrapPgErr keeps the PgError in the chain and surfaces its detail, which
// pgx leaves out of Error().
func wrapPgErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("postgres: %s: %w (%s)", op, err, pgErr.Detail)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}
