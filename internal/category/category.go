// Package category is the table of per-category behaviour the stages
// dispatch on: the business columns of the core table, the fields computed
// during Transform and the fields derived during Load.
//
// Unknown categories resolve to General, so a new upload category works
// without code changes and gains dedicated logic once registered here.
package category

import (
	"sort"
	"sync"
	"time"

	"hospitaletl/internal/ddl"
)

// Default is the category of an upload that declares none.
const Default = "general"

// Category bundles one data category's schema and calculations.
type Category struct {
	Name string
	// Columns are the business columns of the core table.
	Columns []ddl.ColumnDef
	// Calculated are the columns Calculate may add; they are carried in the
	// staging table so the values reach Load.
	Calculated []ddl.ColumnDef
	// Calculate adds Transform-time fields to a mapped row in place.
	Calculate func(row map[string]any)
	// Derive returns the Load-time fields for a staging row.
	Derive func(staging map[string]any) map[string]any
}

var (
	mu       sync.RWMutex
	registry = map[string]Category{}
)

// Register adds or replaces c.
func Register(c Category) {
	if c.Calculate == nil {
		c.Calculate = func(map[string]any) {}
	}
	if c.Derive == nil {
		c.Derive = func(map[string]any) map[string]any { return nil }
	}
	mu.Lock()
	defer mu.Unlock()
	registry[c.Name] = c
}

// Normalize lower-cases and trims name; empty means Default.
func Normalize(name string) string {
	name = ddl.Ident(name)
	if name == "" {
		return Default
	}
	return name
}

// Lookup returns the category registered under name, falling back to the
// general category.
func Lookup(name string) Category {
	mu.RLock()
	defer mu.RUnlock()
	if c, ok := registry[Normalize(name)]; ok {
		return c
	}
	return registry[Default]
}

// Known reports whether name has dedicated logic.
func Known(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := registry[Normalize(name)]
	return ok
}

// Names lists the registered categories, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func col(name string, kind ddl.Kind) ddl.ColumnDef {
	return ddl.ColumnDef{Name: name, Kind: kind, Nullable: true}
}

func present(row map[string]any, keys ...string) bool {
	for _, k := range keys {
		if ddl.IsBlank(row[k]) {
			return false
		}
	}
	return true
}

// date reads a calendar date from a mapped or stored value.
func date(v any) (time.Time, bool) {
	if ddl.IsBlank(v) {
		return time.Time{}, false
	}
	if t, ok := v.(time.Time); ok {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	}
	return ddl.ParseDate(ddl.AsString(v))
}

// band returns the label of the first threshold score reaches, or last.
func band(score float64, thresholds []float64, labels []string) string {
	for i, t := range thresholds {
		if score >= t {
			return labels[i]
		}
	}
	return labels[len(labels)-1]
}

var scoreBands = []float64{90, 80, 70, 60}

func ratio(num, den float64, scale float64) float64 {
	if den <= 0 {
		return 0
	}
	return ddl.Round2(num / den * scale)
}
