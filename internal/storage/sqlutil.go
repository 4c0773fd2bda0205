package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"hospitaletl/internal/ddl"
)

// Rebind rewrites '?' placeholders outside quoted text using render(n),
// where n counts from 1.
func Rebind(query string, render func(n int) string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var (
		b     strings.Builder
		n     int
		quote rune
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '[':
			quote = r
			if r == '[' {
				quote = ']'
			}
		case r == '?':
			n++
			b.WriteString(render(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DollarPlaceholder renders $n.
func DollarPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

// AtPlaceholder renders @pn.
func AtPlaceholder(n int) string { return "@p" + strconv.Itoa(n) }

// QuoteList quotes every name with d.
func QuoteList(d Dialect, names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.QuoteIdent(n)
	}
	return strings.Join(out, ", ")
}

// InsertSQL renders a single-row INSERT with '?' placeholders.
func InsertSQL(d Dialect, table string, columns []string) string {
	ph := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.QuoteIdent(table), QuoteList(d, columns), ph)
}

// Page describes a keyset-paged read over a table with an integer "id" key.
type Page struct {
	Table   string
	Columns []string // "id" is always selected first
	Where   string   // optional predicate with '?' placeholders
	Args    []any
	Size    int
}

// ScanPages reads the matching rows in id order, Size rows per query, and
// hands each page to fn. Each page is a fresh query so fn may write to the
// same database between pages.
func ScanPages(ctx context.Context, repo Repository, p Page, fn func([]Record) error) error {
	if p.Size <= 0 {
		return fmt.Errorf("storage: page size must be > 0")
	}
	d := repo.Dialect()
	cols := append([]string{"id"}, p.Columns...)
	prefix, suffix := d.Limit(p.Size)

	where := d.QuoteIdent("id") + " > ?"
	if strings.TrimSpace(p.Where) != "" {
		where = "(" + p.Where + ") AND " + where
	}
	query := fmt.Sprintf("SELECT %s%s FROM %s WHERE %s ORDER BY %s%s",
		prefix, QuoteList(d, cols), d.QuoteIdent(p.Table), where, d.QuoteIdent("id"), suffix)

	var last int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		args := append(append([]any{}, p.Args...), last)
		recs, err := repo.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("storage: page %s: %w", p.Table, err)
		}
		if len(recs) == 0 {
			return nil
		}
		last = ddl.ToInt64(recs[len(recs)-1]["id"])
		if err := fn(recs); err != nil {
			return err
		}
		if len(recs) < p.Size {
			return nil
		}
	}
}

// Count returns SELECT COUNT(*) for table filtered by where.
func Count(ctx context.Context, repo Repository, table, where string, args ...any) (int64, error) {
	d := repo.Dialect()
	q := "SELECT COUNT(*) AS n FROM " + d.QuoteIdent(table)
	if strings.TrimSpace(where) != "" {
		q += " WHERE " + where
	}
	recs, err := repo.Query(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return ddl.ToInt64(recs[0]["n"]), nil
}

// TableExists reports whether table has any columns.
func TableExists(ctx context.Context, repo Repository, table string) (bool, error) {
	cols, err := repo.TableColumns(ctx, table)
	if err != nil {
		return false, err
	}
	return len(cols) > 0, nil
}

// EncodeRow normalises rec into a row aligned with td's columns, ready for
// CopyFrom. Columns missing from rec are NULL.
func EncodeRow(d Dialect, td ddl.TableDef, columns []string, rec Record) []any {
	row := make([]any, len(columns))
	for i, name := range columns {
		kind := ddl.KindString
		if c, ok := td.Column(name); ok {
			kind = c.Kind
		}
		row[i] = d.BindValue(kind, ddl.Normalize(kind, rec[name]))
	}
	return row
}
