// Package main wires configuration, storage, metrics and the pipeline
// orchestrator behind the etl command. It depends only on storage-agnostic
// interfaces; backends register themselves through internal/storage/all.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"hospitaletl/internal/config"
	"hospitaletl/internal/etl"
	"hospitaletl/internal/logging"
	"hospitaletl/internal/metrics"
	"hospitaletl/internal/metrics/datadog"
	"hospitaletl/internal/metrics/prompush"
	"hospitaletl/internal/pipeline"
	"hospitaletl/internal/storage"
)

// Test seams.
var (
	loadConfigFn    = config.Load
	newRepositoryFn = storage.New
)

// app is everything a command needs once configuration is loaded.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	repo  storage.Repository
	deps  *etl.Deps
	orch  *pipeline.Orchestrator
	flush func()
}

// openApp loads and validates configuration, connects to storage and
// creates the metadata tables when missing. Validation findings are
// written to errOut; any error-severity finding aborts.
func openApp(ctx context.Context, cfgPath string, errOut io.Writer) (*app, error) {
	cfg, err := loadConfigFn(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := checkConfig(*cfg, errOut); err != nil {
		return nil, err
	}

	log := logging.New(cfg.Log)
	flush := setupMetrics(cfg.Metrics, log)

	repo, err := newRepositoryFn(ctx, storage.Config{
		Kind:     cfg.Storage.Kind,
		DSN:      cfg.Storage.DSN,
		MaxConns: cfg.Storage.MaxConns,
	})
	if err != nil {
		flush()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	deps := etl.NewDeps(repo, cfg.Pipeline, logging.Component(log, "etl"))
	if err := deps.Store.Migrate(ctx); err != nil {
		repo.Close()
		flush()
		return nil, fmt.Errorf("migrate metadata tables: %w", err)
	}
	return &app{
		cfg:   cfg,
		log:   log,
		repo:  repo,
		deps:  deps,
		orch:  pipeline.New(deps, logging.Component(log, "pipeline")),
		flush: flush,
	}, nil
}

// Close releases storage and pushes any buffered metrics.
func (a *app) Close() {
	a.repo.Close()
	a.flush()
}

func checkConfig(cfg config.Config, errOut io.Writer) error {
	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(errOut, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("configuration is invalid")
	}
	return nil
}

// setupMetrics installs the configured backend and returns its flush
// function. A backend that cannot start leaves metrics disabled.
func setupMetrics(cfg config.MetricsConfig, log zerolog.Logger) func() {
	nop := func() {}
	var (
		b   metrics.Backend
		err error
	)
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		log.Debug().Msg("metrics disabled")
		return nop
	case "pushgateway":
		b, err = prompush.NewBackend(cfg.JobName, cfg.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       cfg.DatadogAddr,
			Namespace:  cfg.Namespace,
			GlobalTags: cfg.Tags,
		})
	default:
		log.Warn().Str("backend", cfg.Backend).Msg("unknown metrics backend; metrics disabled")
		return nop
	}
	if err != nil {
		log.Warn().Err(err).Str("backend", cfg.Backend).Msg("metrics backend failed to start; using nop")
		return nop
	}
	metrics.SetBackend(b)
	log.Info().Str("backend", cfg.Backend).Msg("metrics enabled")
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn().Err(err).Msg("metrics flush")
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
