// Package ddl defines a small, dialect-neutral model for the dynamic tables
// (TableDef, ColumnDef, IndexDef, Kind) plus shared helpers: DDL rendering
// parameterised by a quoting function and a type mapper, identifier
// slugging, and canonicalisation of cell values per column kind.
//
// Backends (internal/storage/postgres, sqlite, mssql) supply the quoting and
// type mapping; this package never assumes a specific SQL dialect.
package ddl

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// Quoter quotes a single identifier segment.
type Quoter func(string) string

// TypeMapper renders the SQL type for a column.
type TypeMapper func(ColumnDef) string

// maxIdentLen is the Postgres identifier limit, the tightest of the
// supported backends.
const maxIdentLen = 63

// QuoteFQN quotes a possibly schema-qualified name segment by segment.
func QuoteFQN(fqn string, q Quoter) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, q(p))
	}
	return strings.Join(out, ".")
}

// BuildCreateTableSQL renders a CREATE TABLE statement:
//
//	CREATE TABLE [IF NOT EXISTS] <fqn> (
//	  <col> <type> [NOT NULL] [DEFAULT <expr>],
//	  ...,
//	  [PRIMARY KEY (<pk-cols>)]
//	);
//
// KindID columns are expected to carry their key clause in the mapped type.
func BuildCreateTableSQL(t TableDef, q Quoter, types TypeMapper, ifNotExists bool) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, 1)
	for _, c := range t.Columns {
		def, err := columnSQL(c, q, types)
		if err != nil {
			return "", fmt.Errorf("ddl: table %s: %w", fqn, err)
		}
		cols = append(cols, def)
		if c.PrimaryKey && c.Kind != KindID {
			pks = append(pks, q(strings.TrimSpace(c.Name)))
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	guard := ""
	if ifNotExists {
		guard = "IF NOT EXISTS "
	}
	return fmt.Sprintf("CREATE TABLE %s%s (\n  %s\n);", guard, QuoteFQN(fqn, q), strings.Join(cols, ",\n  ")), nil
}

// BuildAddColumnSQL renders ALTER TABLE ... ADD [COLUMN]. keyword is
// "ADD COLUMN" for Postgres/SQLite and "ADD" for SQL Server. Added columns
// are always nullable since existing rows have no value for them.
func BuildAddColumnSQL(table string, c ColumnDef, q Quoter, types TypeMapper, keyword string) (string, error) {
	c.Nullable = true
	c.Default = ""
	def, err := columnSQL(c, q, types)
	if err != nil {
		return "", fmt.Errorf("ddl: table %s: %w", table, err)
	}
	return fmt.Sprintf("ALTER TABLE %s %s %s;", QuoteFQN(table, q), keyword, def), nil
}

// BuildCreateIndexSQL renders CREATE INDEX [IF NOT EXISTS].
func BuildCreateIndexSQL(table string, idx IndexDef, q Quoter, ifNotExists bool) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = q(c)
	}
	guard := ""
	if ifNotExists {
		guard = "IF NOT EXISTS "
	}
	return fmt.Sprintf("CREATE INDEX %s%s ON %s (%s);", guard, q(IndexName(table, idx)), QuoteFQN(table, q), strings.Join(cols, ", "))
}

// IndexName returns idx.Name or derives idx_<table>_<cols>. Names longer
// than the identifier limit keep a readable prefix and end in a hash of the
// full name so they stay unique.
func IndexName(table string, idx IndexDef) string {
	if idx.Name != "" {
		return idx.Name
	}
	base := strings.ReplaceAll(table, ".", "_")
	name := "idx_" + base + "_" + strings.Join(idx.Columns, "_")
	if len(name) <= maxIdentLen {
		return name
	}
	sum := fmt.Sprintf("%016x", xxh3.HashString(name))
	return name[:maxIdentLen-len(sum)-1] + "_" + sum
}

func columnSQL(c ColumnDef, q Quoter, types TypeMapper) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("column with empty name")
	}
	typ := strings.TrimSpace(c.SQLType)
	if typ == "" && types != nil {
		typ = strings.TrimSpace(types(c))
	}
	if typ == "" {
		return "", fmt.Errorf("column %s missing SQLType", name)
	}

	var sb strings.Builder
	sb.WriteString(q(name))
	sb.WriteByte(' ')
	sb.WriteString(typ)
	if !c.Nullable && c.Kind != KindID {
		sb.WriteString(" NOT NULL")
	}
	if def := strings.TrimSpace(c.Default); def != "" {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(def)
	}
	return sb.String(), nil
}
