package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"hospitaletl/internal/ddl"
	"hospitaletl/internal/mapping"
	"hospitaletl/internal/storage"
)

// ErrKindConflict is returned by Ensure when an existing column was created
// with a type that cannot store the values now declared for it.
var ErrKindConflict = errors.New("column type conflict")

// Key identifies one dynamic table. Core tables are shared across
// hospitals and use HospitalID 0.
type Key struct {
	HospitalID int64
	Category   string
	Stage      string
}

// Registry ensures dynamic tables exist with at least the declared columns.
// It remembers what it has ensured so repeated calls with the same schema
// do not touch the database.
type Registry struct {
	repo storage.Repository
	log  zerolog.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	tables map[Key]ddl.TableDef
}

// NewRegistry returns a Registry issuing DDL through repo.
func NewRegistry(repo storage.Repository, log zerolog.Logger) *Registry {
	return &Registry{
		repo:   repo,
		log:    log,
		locks:  map[string]*sync.Mutex{},
		tables: map[Key]ddl.TableDef{},
	}
}

// EnsureRaw ensures the raw table of a hospital and category.
func (r *Registry) EnsureRaw(ctx context.Context, hospitalID int64, cat string) (ddl.TableDef, error) {
	return r.Ensure(ctx, Key{hospitalID, cat, StageRaw}, RawDef(hospitalID, cat))
}

// EnsureStaging ensures the staging table carries every column of the
// active mapping set.
func (r *Registry) EnsureStaging(ctx context.Context, hospitalID int64, cat string, ms []mapping.FieldMapping) (ddl.TableDef, error) {
	return r.Ensure(ctx, Key{hospitalID, cat, StageStaging}, StagingDef(hospitalID, cat, ms))
}

// EnsureCore ensures the category's core table carries its fixed columns
// and every mapped column.
func (r *Registry) EnsureCore(ctx context.Context, cat string, ms []mapping.FieldMapping) (ddl.TableDef, error) {
	return r.Ensure(ctx, Key{0, CoreTable(cat), StageCore}, CoreDef(cat, ms))
}

// Lookup returns the last definition ensured for k.
func (r *Registry) Lookup(k Key) (ddl.TableDef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[k]
	return t, ok
}

// Ensure creates want.FQN with its indexes when the table is missing, or
// adds the columns it lacks. A column that exists with a type unable to
// hold the declared kind fails with ErrKindConflict and no DDL is run.
// Calls for the same table are serialised in process; the repository's DDL
// lock serialises them across processes.
func (r *Registry) Ensure(ctx context.Context, k Key, want ddl.TableDef) (ddl.TableDef, error) {
	lock := r.tableLock(want.FQN)
	lock.Lock()
	defer lock.Unlock()

	if have, ok := r.Lookup(k); ok && sameColumns(have, want) {
		return have, nil
	}

	existing, err := r.repo.TableColumns(ctx, want.FQN)
	if err != nil {
		return ddl.TableDef{}, fmt.Errorf("schema: inspect %s: %w", want.FQN, err)
	}

	d := r.repo.Dialect()
	var stmts []string
	if len(existing) == 0 {
		create, err := d.CreateTableSQL(want)
		if err != nil {
			return ddl.TableDef{}, fmt.Errorf("schema: %s: %w", want.FQN, err)
		}
		stmts = append(stmts, create)
		for _, idx := range want.Indexes {
			stmts = append(stmts, d.CreateIndexSQL(want.FQN, idx))
		}
	} else {
		types, err := r.repo.ColumnTypes(ctx, want.FQN)
		if err != nil {
			return ddl.TableDef{}, fmt.Errorf("schema: inspect %s: %w", want.FQN, err)
		}
		if conflicts := want.Conflicts(types); len(conflicts) > 0 {
			return ddl.TableDef{}, fmt.Errorf("schema: %s: %w: %s", want.FQN, ErrKindConflict, strings.Join(conflicts, "; "))
		}
		for _, c := range want.Missing(existing) {
			alter, err := d.AddColumnSQL(want.FQN, c)
			if err != nil {
				return ddl.TableDef{}, fmt.Errorf("schema: %s: %w", want.FQN, err)
			}
			stmts = append(stmts, alter)
		}
	}

	if len(stmts) > 0 {
		if err := r.repo.ApplyDDL(ctx, want.FQN, stmts...); err != nil {
			return ddl.TableDef{}, fmt.Errorf("schema: migrate %s: %w", want.FQN, err)
		}
		ev := r.log.Info().Str("table", want.FQN).Str("stage", k.Stage)
		if len(existing) == 0 {
			ev.Int("columns", len(want.Columns)).Msg("table created")
		} else {
			ev.Int("added", len(stmts)).Msg("columns added")
		}
	}

	r.mu.Lock()
	r.tables[k] = want
	r.mu.Unlock()
	return want, nil
}

// sameColumns reports whether a and b declare the same column names with
// the same kinds, ignoring order.
func sameColumns(a, b ddl.TableDef) bool {
	if len(a.Columns) != len(b.Columns) {
		return false
	}
	for _, c := range b.Columns {
		have, ok := a.Column(c.Name)
		if !ok || have.Kind != c.Kind {
			return false
		}
	}
	return true
}

func (r *Registry) tableLock(table string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[table]
	if !ok {
		l = &sync.Mutex{}
		r.locks[table] = l
	}
	return l
}
