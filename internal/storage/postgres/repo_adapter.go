package postgres

import (
	"context"
	"sync"

	"hospitaletl/internal/storage"
)

// newRepository is swapped out by tests.
var newRepository = NewRepository

// wrappedRepo is what storage.New hands out for kind "postgres"; Close
// releases the pool once.
type wrappedRepo struct {
	*Repository
	once    sync.Once
	closeFn func()
}

var _ storage.Repository = (*wrappedRepo)(nil)

func (w *wrappedRepo) Close() {
	w.once.Do(func() {
		if w.closeFn != nil {
			w.closeFn()
		}
	})
}

func init() { storage.Register("postgres", open) }

func open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	r, closeFn, err := newRepository(ctx, Config{DSN: cfg.DSN, MaxConns: int32(cfg.MaxConns)})
	if err != nil {
		return nil, err
	}
	return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
}
