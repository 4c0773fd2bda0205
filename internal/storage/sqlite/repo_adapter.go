package sqlite

import (
	"context"
	"sync"

	"hospitaletl/internal/storage"
)

// newRepository is swapped out by tests.
var newRepository = NewRepository

// wrappedRepo is what storage.New hands out for kind "sqlite". Close runs the
// cleanup from NewRepository at most once, so the CLI and deferred test
// cleanups can both call it.
type wrappedRepo struct {
	*Repository
	once    sync.Once
	closeFn func()
}

func (w *wrappedRepo) Close() {
	w.once.Do(func() {
		if w.closeFn != nil {
			w.closeFn()
		}
	})
}

var _ storage.Repository = (*wrappedRepo)(nil)

func init() { storage.Register("sqlite", open) }

// open ignores cfg.MaxConns; the pool is pinned to one connection.
func open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	r, closeFn, err := newRepository(ctx, Config{DSN: cfg.DSN})
	if err != nil {
		return nil, err
	}
	return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
}
