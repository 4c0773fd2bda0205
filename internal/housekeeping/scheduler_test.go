package housekeeping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hospitaletl/internal/pipeline"
)

type fakeCleaner struct {
	calls chan int
	err   error
}

func (f *fakeCleaner) CleanupAll(_ context.Context, keepDays int) (pipeline.CleanupResult, error) {
	f.calls <- keepDays
	return pipeline.CleanupResult{RawRows: 3}, f.err
}

func TestNew_RejectsBadSpec(t *testing.T) {
	t.Parallel()

	_, err := New("every day", 7, &fakeCleaner{}, zerolog.Nop())
	require.Error(t, err)

	// Five fields lack the seconds field.
	_, err = New("30 3 * * *", 7, &fakeCleaner{}, zerolog.Nop())
	require.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	t.Parallel()

	f := &fakeCleaner{calls: make(chan int, 2), err: errors.New("db down")}
	s, err := New("0 30 3 * * *", 5, f, zerolog.Nop())
	require.NoError(t, err)

	s.RunOnce(context.Background())
	assert.Equal(t, 5, <-f.calls)
}

func TestScheduler_Fires(t *testing.T) {
	t.Parallel()

	f := &fakeCleaner{calls: make(chan int, 8)}
	s, err := New("* * * * * *", 7, f, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, s.Next().IsZero())

	s.Start()
	defer s.Stop(time.Second)
	assert.False(t, s.Next().IsZero())

	select {
	case got := <-f.calls:
		assert.Equal(t, 7, got)
	case <-time.After(3 * time.Second):
		t.Fatal("cleanup never ran")
	}
}
