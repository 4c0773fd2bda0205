// Package housekeeping schedules the periodic purge of intermediate rows.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"hospitaletl/internal/config"
	"hospitaletl/internal/pipeline"
)

// Cleaner purges raw and staging rows older than keepDays.
type Cleaner interface {
	CleanupAll(ctx context.Context, keepDays int) (pipeline.CleanupResult, error)
}

// Scheduler runs the purge on a cron schedule with a seconds field.
type Scheduler struct {
	runner   *cron.Cron
	cleaner  Cleaner
	keepDays int
	timeout  time.Duration
	log      zerolog.Logger
}

// New registers the purge under spec, e.g. "0 30 3 * * *". An overlapping
// tick is skipped while the previous purge still runs.
func New(spec string, keepDays int, c Cleaner, log zerolog.Logger) (*Scheduler, error) {
	cl := cronLogger{log}
	s := &Scheduler{
		runner: cron.New(
			cron.WithParser(config.CronParser),
			cron.WithLogger(cl),
			cron.WithChain(
				cron.SkipIfStillRunning(cl),
				cron.Recover(cl),
			),
		),
		cleaner:  c,
		keepDays: keepDays,
		timeout:  time.Hour,
		log:      log,
	}
	if _, err := s.runner.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("housekeeping: schedule %q: %w", spec, err)
	}
	return s, nil
}

// RunOnce performs one purge.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.cleaner.CleanupAll(ctx, s.keepDays)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled cleanup failed")
		return
	}
	s.log.Info().
		Int64("raw_rows", res.RawRows).
		Int64("staging_rows", res.StagingRows).
		Int("keep_days", s.keepDays).
		Msg("scheduled cleanup done")
}

// Next reports when the purge fires next; zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.runner.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() {
	s.runner.Start()
	s.log.Info().Time("next", s.Next()).Msg("housekeeping scheduler started")
}

// Stop halts scheduling and waits up to grace for a running purge.
func (s *Scheduler) Stop(grace time.Duration) {
	ctx := s.runner.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(grace):
		s.log.Warn().Dur("grace", grace).Msg("housekeeping stop timed out")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug().Fields(kv).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error().Err(err).Fields(kv).Msg("cron: " + msg)
}
