package sqlite

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"hospitaletl/internal/ddl"
	"hospitaletl/internal/storage"
)

// Dialect renders SQLite SQL.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite" }

// QuoteIdent quotes a single identifier segment, e.g.:
//
//	quoteIdent(`revenue`)    => `"revenue"`
//	quoteIdent(`weird"name`) => `"weird""name"`
func (Dialect) QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func (Dialect) Limit(n int) (string, string) { return "", fmt.Sprintf(" LIMIT %d", n) }

// ColumnType maps a column kind to a SQLite declared type. Declared types
// only select an affinity, but DATE and DATETIME let the driver hand back
// time.Time values.
func (Dialect) ColumnType(c ddl.ColumnDef) string {
	switch c.Kind {
	case ddl.KindID:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	case ddl.KindKey:
		return "VARCHAR(64)"
	case ddl.KindInteger:
		return "BIGINT"
	case ddl.KindDecimal:
		return "NUMERIC(15,2)"
	case ddl.KindBoolean:
		return "BOOLEAN"
	case ddl.KindDate:
		return "DATE"
	case ddl.KindDateTime:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

func (d Dialect) CreateTableSQL(t ddl.TableDef) (string, error) {
	return ddl.BuildCreateTableSQL(t, d.QuoteIdent, d.ColumnType, true)
}

func (d Dialect) AddColumnSQL(table string, c ddl.ColumnDef) (string, error) {
	return ddl.BuildAddColumnSQL(table, c, d.QuoteIdent, d.ColumnType, "ADD COLUMN")
}

func (d Dialect) CreateIndexSQL(table string, idx ddl.IndexDef) string {
	return ddl.BuildCreateIndexSQL(table, idx, d.QuoteIdent, true)
}

// BindValue stores booleans as 0/1 and times as sortable text.
func (Dialect) BindValue(kind ddl.Kind, v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		if kind == ddl.KindDate {
			return t.Format("2006-01-02")
		}
		return t.Format("2006-01-02 15:04:05.999999999-07:00")
	}
	return v
}

func (Dialect) IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
