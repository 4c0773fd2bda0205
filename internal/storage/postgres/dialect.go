package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"hospitaletl/internal/ddl"
	"hospitaletl/internal/storage"
)

const uniqueViolation = "23505"

// Dialect renders Postgres SQL.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

// QuoteIdent quotes a single identifier segment for Postgres, e.g.:
//
//	quoteIdent(`revenue`)    => `"revenue"`
//	quoteIdent(`weird"name`) => `"weird""name"`
func (Dialect) QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func (Dialect) Limit(n int) (string, string) { return "", fmt.Sprintf(" LIMIT %d", n) }

func (Dialect) ColumnType(c ddl.ColumnDef) string {
	switch c.Kind {
	case ddl.KindID:
		return "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
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
		return "TIMESTAMPTZ"
	case ddl.KindJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (d Dialect) CreateTableSQL(t ddl.TableDef) (string, error) {
	return ddl.BuildCreateTableSQL(t, d.QuoteIdent, d.ColumnType, true)
}

func (d Dialect) AddColumnSQL(table string, c ddl.ColumnDef) (string, error) {
	s, err := ddl.BuildAddColumnSQL(table, c, d.QuoteIdent, d.ColumnType, "ADD COLUMN IF NOT EXISTS")
	if err != nil {
		return "", fmt.Errorf("postgres ddl: %w", err)
	}
	return s, nil
}

func (d Dialect) CreateIndexSQL(table string, idx ddl.IndexDef) string {
	return ddl.BuildCreateIndexSQL(table, idx, d.QuoteIdent, true)
}

// BindValue passes canonical values through; pgx encodes them natively and
// takes strings as already-encoded JSON for JSONB.
func (Dialect) BindValue(_ ddl.Kind, v any) any { return v }

func (Dialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
