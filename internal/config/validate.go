package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is the dotted config key.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// knownStorageKinds mirrors the backends wired by internal/storage/all.
var knownStorageKinds = map[string]struct{}{
	"postgres": {},
	"sqlite":   {},
	"mssql":    {},
}

// CronParser is the schedule parser used by the housekeeping scheduler. It is
// shared here so a bad schedule is caught before the server starts.
var CronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate performs static checks over cfg and returns every issue found.
func Validate(cfg Config) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, msg string) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: msg})
	}

	kind := strings.TrimSpace(cfg.Storage.Kind)
	if kind == "" {
		add(SeverityError, "storage.kind", "storage.kind must not be empty")
	} else if _, ok := knownStorageKinds[kind]; !ok {
		add(SeverityError, "storage.kind", fmt.Sprintf("unsupported storage kind %q", kind))
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "storage.dsn must not be empty")
	}
	if cfg.Storage.MaxConns < 0 {
		add(SeverityWarning, "storage.max_conns", "negative max_conns ignored")
	}

	p := cfg.Pipeline
	for path, n := range map[string]int{
		"pipeline.extract_batch_size":   p.ExtractBatchSize,
		"pipeline.transform_batch_size": p.TransformBatchSize,
		"pipeline.load_batch_size":      p.LoadBatchSize,
		"pipeline.read_page_size":       p.ReadPageSize,
	} {
		if n <= 0 {
			add(SeverityError, path, "must be > 0")
		}
	}
	for path, b := range map[string]float64{
		"pipeline.extract_error_budget":   p.ExtractErrorBudget,
		"pipeline.transform_error_budget": p.TransformErrorBudget,
	} {
		if b <= 0 || b > 1 {
			add(SeverityError, path, "must be within (0, 1]")
		}
	}

	if cfg.Retention.KeepDays < 1 {
		add(SeverityError, "retention.keep_days", "must be >= 1")
	}
	if s := strings.TrimSpace(cfg.Retention.Schedule); s != "" {
		if _, err := CronParser.Parse(s); err != nil {
			add(SeverityError, "retention.schedule", err.Error())
		}
	} else {
		add(SeverityWarning, "retention.schedule", "empty schedule disables the retention purge")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Metrics.Backend)) {
	case "", "none":
	case "pushgateway":
		if cfg.Metrics.PushgatewayURL == "" {
			add(SeverityError, "metrics.pushgateway_url", "required when metrics.backend=pushgateway")
		}
	case "datadog":
		if cfg.Metrics.DatadogAddr == "" {
			add(SeverityError, "metrics.datadog_addr", "required when metrics.backend=datadog")
		}
	default:
		add(SeverityError, "metrics.backend", fmt.Sprintf("unknown metrics backend %q", cfg.Metrics.Backend))
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "", "console", "json":
	default:
		add(SeverityWarning, "log.format", fmt.Sprintf("unknown format %q, using json", cfg.Log.Format))
	}
	return issues
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
