// Package storage contains storage-agnostic contracts and utilities shared by
// the SQL backends: the Repository and Dialect interfaces, the backend
// factory, placeholder rebinding, keyset paging and the batched writer.
//
// SQL handed to a Repository uses '?' placeholders; each backend rebinds them
// to its own syntax ($1 for Postgres, @p1 for SQL Server).
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"hospitaletl/internal/ddl"
)

// Record is one row keyed by column name.
type Record map[string]any

// Repository is the single database handle passed explicitly to every
// component that touches SQL.
type Repository interface {
	Dialect() Dialect

	// Exec runs one statement and returns the affected row count.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// Query returns all rows of a statement. Callers bound result size with
	// LIMIT (see ScanPages) rather than streaming, so that a single-connection
	// SQLite pool never holds a cursor open while writing.
	Query(ctx context.Context, sql string, args ...any) ([]Record, error)

	// CopyFrom bulk-inserts rows (aligned to columns) into table using the
	// backend's fastest primitive and returns the inserted count.
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// TableColumns lists the columns of table, or nothing if it does not exist.
	TableColumns(ctx context.Context, table string) ([]string, error)

	// ColumnTypes maps each column of table to its catalog type name, or
	// returns an empty map if the table does not exist.
	ColumnTypes(ctx context.Context, table string) (map[string]string, error)

	// ApplyDDL runs stmts atomically while holding a lock named lockKey that
	// serialises concurrent schema changes to the same table.
	ApplyDDL(ctx context.Context, lockKey string, stmts ...string) error

	Close()
}

// Dialect renders the SQL fragments that differ between backends.
type Dialect interface {
	Name() string
	QuoteIdent(string) string
	// Limit returns text to place after SELECT and at the end of the
	// statement to cap the result at n rows.
	Limit(n int) (prefix, suffix string)
	ColumnType(ddl.ColumnDef) string
	CreateTableSQL(ddl.TableDef) (string, error)
	AddColumnSQL(table string, c ddl.ColumnDef) (string, error)
	CreateIndexSQL(table string, idx ddl.IndexDef) string
	// BindValue adapts a canonical value (see ddl.Normalize) to what the
	// driver accepts for a column of the given kind.
	BindValue(kind ddl.Kind, v any) any
	IsUniqueViolation(err error) bool
}

// Config selects and configures a backend.
type Config struct {
	Kind     string
	DSN      string
	MaxConns int
}

// Factory opens a Repository for a backend.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind. Backends call it
// from init.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens a Repository for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted. The slice is a copy.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
