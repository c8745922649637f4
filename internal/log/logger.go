// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs logs in JSON format for machine parsing.
	FormatJSON Format = "json"
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
)

// Custom log levels extending slog's standard levels.
const (
	// LevelTrace sits below Debug and is reserved for per-step replay
	// detail: a step's best-effort failStep write failing, a step
	// completing. Workflow/worker lifecycle events (claimed, completed,
	// lease lost) log at Debug or above; LevelTrace is for the noise
	// that only matters when debugging a specific replay.
	LevelTrace = slog.Level(-8)
)

// Standard field keys attached to every workflow/step/worker log line
// by the With*Context helpers below, so a log aggregator can group all
// lines for one workflow instance or one worker regardless of which
// package emitted them.
const (
	// WorkflowIDKey is the field key for a workflow instance's id.
	WorkflowIDKey = "workflow_id"
	// StepIDKey is the field key for a step's id within its workflow.
	StepIDKey = "step_id"
	// WorkerIDKey is the field key for the claiming worker's id.
	WorkerIDKey = "worker_id"
	// WorkflowKey is the field key for the registered workflow name
	// (distinct from WorkflowIDKey, which identifies one run of it).
	WorkflowKey = "workflow"
	// DurationKey is the field key the HTTP request middleware uses
	// for how long a request took, in milliseconds.
	DurationKey = "duration_ms"
)

// Config holds the logging configuration.
type Config struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Default: info
	Level string

	// Format sets the output format (json, text).
	// Default: json
	Format Format

	// Output is the writer for log output.
	// Default: os.Stderr
	Output io.Writer

	// AddSource adds source file and line information to logs.
	// Default: false
	AddSource bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:     "info",
		Format:    FormatJSON,
		Output:    os.Stderr,
		AddSource: false,
	}
}

// FromEnv creates a Config from environment variables, read by both
// flowkeepd (the daemon serving the store) and any process running a
// worker poll loop, so the two agree on log shape without sharing a
// config file.
// Supported environment variables:
//   - FLOWKEEP_DEBUG: true/1 to enable debug level and source logging (takes precedence)
//   - FLOWKEEP_LOG_LEVEL: debug, info, warn, error, trace (takes precedence over LOG_LEVEL)
//   - LOG_LEVEL: debug, info, warn, error, trace (default: info)
//   - LOG_FORMAT: json, text (default: json)
//   - LOG_SOURCE: 1 to enable source file/line (default: 0)
func FromEnv() *Config {
	cfg := DefaultConfig()

	debug := os.Getenv("FLOWKEEP_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	}

	// FLOWKEEP_LOG_LEVEL takes precedence over LOG_LEVEL (but not FLOWKEEP_DEBUG)
	if debug != "true" && debug != "1" {
		if level := os.Getenv("FLOWKEEP_LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		} else if level := os.Getenv("LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		}
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}

	if os.Getenv("LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}

	return cfg
}

// New creates a new structured logger from the given configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(cfg.Output, opts)
	case FormatJSON:
		fallthrough
	default:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a configured level name to a slog.Level. "trace"
// maps to LevelTrace; an unrecognized level (e.g. a typo in a deployed
// FLOWKEEP_LOG_LEVEL) falls back to info rather than failing daemon
// startup over a logging misconfiguration.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithCorrelationID returns a new logger with a correlation_id field,
// used by the HTTP middleware to tie every log line for one request
// together even when that request spans a claim, a heartbeat, and a
// step completion on the worker side.
func WithCorrelationID(logger *slog.Logger, correlationID string) *slog.Logger {
	return logger.With("correlation_id", correlationID)
}

// Attr creates an attribute from an arbitrary value.
func Attr(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// String creates a string attribute.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Int creates an int attribute.
func Int(key string, value int) slog.Attr {
	return slog.Int(key, value)
}

// Error creates an error attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// WithWorkflowContext returns a new logger with workflow_id and
// workflow (the registered workflow name) attached, used once per
// claimed execution so every subsequent line the runner and the
// workflow's own Context log for that replay carries both.
func WithWorkflowContext(logger *slog.Logger, workflowID, workflowName string) *slog.Logger {
	return logger.With(
		slog.String(WorkflowIDKey, workflowID),
		slog.String(WorkflowKey, workflowName),
	)
}

// WithStepContext returns a new logger with workflow_id and step_id
// attached, used by Step to scope its best-effort failure and
// completion trace lines to the step that produced them.
func WithStepContext(logger *slog.Logger, workflowID, stepID string) *slog.Logger {
	return logger.With(
		slog.String(WorkflowIDKey, workflowID),
		slog.String(StepIDKey, stepID),
	)
}

// WithWorkerContext returns a new logger with worker_id attached, used
// once per running worker so its claim loop, heartbeats, and every
// workflow it executes are attributable to one worker_id in aggregate
// logs.
func WithWorkerContext(logger *slog.Logger, workerID string) *slog.Logger {
	return logger.With(slog.String(WorkerIDKey, workerID))
}

// Trace logs at LevelTrace: replay detail below what Step's caller
// needs at Debug, such as a failStep write itself failing after the
// step's own function already returned an error.
func Trace(logger *slog.Logger, msg string, attrs ...slog.Attr) {
	if !logger.Enabled(nil, LevelTrace) {
		return
	}
	logger.LogAttrs(nil, LevelTrace, msg, attrs...)
}
