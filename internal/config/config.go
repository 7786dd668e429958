// Package config loads and validates the engine configuration.
//
// Validation returns a list of issues rather than a single error so the CLI
// can show everything wrong with a config file in one pass.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"datalab/internal/store"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// MetricsConfig selects and tunes the metrics backend.
type MetricsConfig struct {
	// Backend is "datadog" or "none". Empty means none.
	Backend string `json:"backend"`

	// FlushSeconds overrides the flush interval. Zero selects the backend
	// default.
	FlushSeconds int `json:"flush_seconds"`

	// Tags are extra key:value tags attached to every series.
	Tags []string `json:"tags"`
}

// DiffConfig tunes version comparison.
type DiffConfig struct {
	// ThresholdPercent is the materiality threshold for statistical
	// changes. Zero selects the default.
	ThresholdPercent float64 `json:"threshold_percent"`
}

// Config is the full engine configuration.
type Config struct {
	// BaseDir is the root directory for materialized artifacts. Versions
	// write to <base_dir>/<dataset_id>/<version_id>.csv.
	BaseDir string `json:"base_dir"`

	Storage store.Config  `json:"storage"`
	Metrics MetricsConfig `json:"metrics"`
	Diff    DiffConfig    `json:"diff"`
}

// Load reads a config file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var c Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// Validate checks the configuration and returns all findings. A config with
// no SeverityError issues is usable.
func Validate(c *Config) []Issue {
	var issues []Issue

	if c.BaseDir == "" {
		issues = append(issues, Issue{SeverityError, "base_dir", "must be set"})
	}

	switch c.Storage.Kind {
	case "":
		issues = append(issues, Issue{SeverityError, "storage.kind", "must be set (sqlite, postgres, mssql)"})
	case "sqlite", "postgres", "mssql":
		if c.Storage.DSN == "" {
			issues = append(issues, Issue{SeverityError, "storage.dsn", "must be set"})
		}
	default:
		issues = append(issues, Issue{SeverityError, "storage.kind",
			fmt.Sprintf("unsupported kind %q (want sqlite, postgres, or mssql)", c.Storage.Kind)})
	}

	switch c.Metrics.Backend {
	case "", "none", "datadog":
	default:
		issues = append(issues, Issue{SeverityError, "metrics.backend",
			fmt.Sprintf("unsupported backend %q (want datadog or none)", c.Metrics.Backend)})
	}
	if c.Metrics.FlushSeconds < 0 {
		issues = append(issues, Issue{SeverityError, "metrics.flush_seconds", "must not be negative"})
	}

	if c.Diff.ThresholdPercent < 0 {
		issues = append(issues, Issue{SeverityError, "diff.threshold_percent", "must not be negative"})
	}
	if c.Diff.ThresholdPercent > 50 {
		issues = append(issues, Issue{SeverityWarning, "diff.threshold_percent",
			"thresholds above 50% hide most statistical changes"})
	}

	return issues
}
