package mssql

import (
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"hospitaletl/internal/ddl"
	"hospitaletl/internal/storage"
)

// Dialect renders T-SQL. T-SQL has no IF NOT EXISTS for tables, columns or
// indexes, so every statement carries its own catalog guard.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) Name() string { return "mssql" }

func (Dialect) QuoteIdent(id string) string { return msIdent(id) }

func (Dialect) Limit(n int) (string, string) { return fmt.Sprintf("TOP (%d) ", n), "" }

func (Dialect) ColumnType(c ddl.ColumnDef) string {
	switch c.Kind {
	case ddl.KindID:
		return "BIGINT IDENTITY(1,1) PRIMARY KEY"
	case ddl.KindKey:
		return "NVARCHAR(64)"
	case ddl.KindInteger:
		return "BIGINT"
	case ddl.KindDecimal:
		return "DECIMAL(15,2)"
	case ddl.KindBoolean:
		return "BIT"
	case ddl.KindDate:
		return "DATE"
	case ddl.KindDateTime:
		return "DATETIME2"
	case ddl.KindText, ddl.KindJSON:
		return "NVARCHAR(MAX)"
	default:
		return "NVARCHAR(4000)"
	}
}

// CreateTableSQL wraps CREATE TABLE in an OBJECT_ID guard:
//
//	IF OBJECT_ID(N'[t]', N'U') IS NULL
//	BEGIN
//	  CREATE TABLE [t] (...);
//	END;
func (d Dialect) CreateTableSQL(t ddl.TableDef) (string, error) {
	create, err := ddl.BuildCreateTableSQL(t, msIdent, d.ColumnType, false)
	if err != nil {
		return "", fmt.Errorf("mssql ddl: %w", err)
	}
	fqn := msFQN(strings.TrimSpace(t.FQN))
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n  %s\nEND;",
		escapeLiteral(fqn), strings.ReplaceAll(create, "\n", "\n  ")), nil
}

func (d Dialect) AddColumnSQL(table string, c ddl.ColumnDef) (string, error) {
	alter, err := ddl.BuildAddColumnSQL(table, c, msIdent, d.ColumnType, "ADD")
	if err != nil {
		return "", fmt.Errorf("mssql ddl: %w", err)
	}
	return fmt.Sprintf("IF COL_LENGTH(N'%s', N'%s') IS NULL\n  %s",
		escapeLiteral(msFQN(table)), escapeLiteral(c.Name), alter), nil
}

func (d Dialect) CreateIndexSQL(table string, idx ddl.IndexDef) string {
	name := ddl.IndexName(table, idx)
	create := ddl.BuildCreateIndexSQL(table, idx, msIdent, false)
	return fmt.Sprintf("IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s' AND object_id = OBJECT_ID(N'%s'))\n  %s",
		escapeLiteral(name), escapeLiteral(msFQN(table)), create)
}

// BindValue passes values through; the bulk copy encoder handles Go types.
func (Dialect) BindValue(_ ddl.Kind, v any) any { return v }

// IsUniqueViolation matches error 2627 (constraint) and 2601 (unique index).
func (Dialect) IsUniqueViolation(err error) bool {
	var msErr mssql.Error
	if !errors.As(err, &msErr) {
		return false
	}
	return msErr.Number == 2627 || msErr.Number == 2601
}

func escapeLiteral(s string) string { return strings.ReplaceAll(s, "'", "''") }
