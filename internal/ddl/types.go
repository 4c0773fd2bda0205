package ddl

import "strings"

// Kind is a dialect-neutral column type. Backends map it to a concrete SQL
// type through their Dialect.
type Kind string

const (
	KindID       Kind = "id"       // auto-increment surrogate primary key
	KindKey      Kind = "key"      // short indexed identifier (uuid, code)
	KindString   Kind = "string"   // free text of moderate length
	KindText     Kind = "text"     // long free text
	KindInteger  Kind = "integer"  // 64-bit integer
	KindDecimal  Kind = "decimal"  // fixed-point NUMERIC(15,2)
	KindBoolean  Kind = "boolean"  //
	KindDate     Kind = "date"     // calendar date without time
	KindDateTime Kind = "datetime" // timestamp
	KindJSON     Kind = "json"     // JSON document
)

// KindFromDataType maps a field-mapping data_type onto a column kind.
// Unknown types map to KindString.
func KindFromDataType(dataType string) Kind {
	switch strings.ToLower(strings.TrimSpace(dataType)) {
	case "integer", "int", "bigint":
		return KindInteger
	case "decimal", "float", "numeric", "double":
		return KindDecimal
	case "boolean", "bool":
		return KindBoolean
	case "date":
		return KindDate
	case "datetime", "timestamp":
		return KindDateTime
	case "text":
		return KindText
	case "json":
		return KindJSON
	default:
		return KindString
	}
}

// ColumnDef describes a single column.
//
//   - Name: column name, unquoted; renderers quote it
//   - Kind: logical type; SQLType, when set, overrides the dialect mapping
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: part of a composite primary key (KindID columns carry their own)
//   - Default: raw default expression, e.g. CURRENT_TIMESTAMP
type ColumnDef struct {
	Name       string
	Kind       Kind
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// IndexDef is a non-unique secondary index. An empty Name is derived from
// the table and column names by IndexName.
type IndexDef struct {
	Name    string
	Columns []string
}

// TableDef holds the table name and its ordered columns and indexes.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
	Indexes []IndexDef
}

// Column returns the definition of the named column.
func (t TableDef) Column(name string) (ColumnDef, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// ColumnNames returns the column names in declaration order.
func (t TableDef) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Missing returns the columns of t that are absent from existing, in
// declaration order. Comparison is case-insensitive because SQL Server and
// SQLite fold identifier case.
func (t TableDef) Missing(existing []string) []ColumnDef {
	have := make(map[string]struct{}, len(existing))
	for _, n := range existing {
		have[strings.ToLower(n)] = struct{}{}
	}
	var out []ColumnDef
	for _, c := range t.Columns {
		if _, ok := have[strings.ToLower(c.Name)]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// WithColumns returns a copy of t with extra appended, skipping names that
// are already present.
func (t TableDef) WithColumns(extra ...ColumnDef) TableDef {
	out := TableDef{
		FQN:     t.FQN,
		Columns: append([]ColumnDef(nil), t.Columns...),
		Indexes: append([]IndexDef(nil), t.Indexes...),
	}
	for _, c := range extra {
		if _, ok := out.Column(c.Name); ok {
			continue
		}
		out.Columns = append(out.Columns, c)
	}
	return out
}

// KindOfSQLType classifies a catalog type name ("bigint", "character
// varying", "NUMERIC(15,2)", "datetime2", ...) as the kind that would have
// produced it. It returns "" for types it does not recognise.
func KindOfSQLType(sqlType string) Kind {
	base := strings.ToLower(strings.TrimSpace(sqlType))
	if i := strings.IndexByte(base, '('); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	switch {
	case base == "":
		return ""
	case strings.Contains(base, "json"):
		return KindJSON
	case strings.HasPrefix(base, "timestamp"), strings.HasPrefix(base, "datetime"), base == "smalldatetime":
		return KindDateTime
	case base == "date":
		return KindDate
	}
	switch base {
	case "integer", "int", "bigint", "smallint", "tinyint", "mediumint", "int2", "int4", "int8":
		return KindInteger
	case "numeric", "decimal", "real", "float", "float4", "float8", "double", "double precision", "money":
		return KindDecimal
	case "boolean", "bool", "bit":
		return KindBoolean
	}
	if strings.Contains(base, "char") || strings.Contains(base, "text") || strings.Contains(base, "clob") {
		return KindString
	}
	return ""
}

func family(k Kind) Kind {
	switch k {
	case KindID, KindInteger:
		return KindInteger
	case KindKey, KindString, KindText:
		return KindString
	}
	return k
}

// Accepts reports whether a column created as have can store values bound
// as want. Integers fit decimal columns and JSON fits text columns; every
// other pairing must match.
func Accepts(have, want Kind) bool {
	h, w := family(have), family(want)
	switch {
	case h == w:
		return true
	case h == KindDecimal && w == KindInteger:
		return true
	case h == KindString && w == KindJSON:
		return true
	}
	return false
}

// Conflicts lists the columns of t whose kind an existing column of the
// same name cannot store, as "name: have X, want Y". Columns absent from
// existing or of unrecognised type are skipped.
func (t TableDef) Conflicts(existing map[string]string) []string {
	have := make(map[string]Kind, len(existing))
	for n, typ := range existing {
		have[strings.ToLower(n)] = KindOfSQLType(typ)
	}
	var out []string
	for _, c := range t.Columns {
		k, ok := have[strings.ToLower(c.Name)]
		if !ok || k == "" || Accepts(k, c.Kind) {
			continue
		}
		out = append(out, c.Name+": have "+string(k)+", want "+string(c.Kind))
	}
	return out
}
