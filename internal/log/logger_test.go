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
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}
	if cfg.Format != FormatJSON {
		t.Errorf("expected default format 'json', got %q", cfg.Format)
	}
	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}
	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected *Config
	}{
		{
			name:    "defaults when no env vars",
			envVars: map[string]string{},
			expected: &Config{
				Level:     "info",
				Format:    FormatJSON,
				AddSource: false,
			},
		},
		{
			name: "LOG_LEVEL=debug",
			envVars: map[string]string{
				"LOG_LEVEL": "debug",
			},
			expected: &Config{Level: "debug", Format: FormatJSON, AddSource: false},
		},
		{
			name: "LOG_LEVEL=TRACE (case insensitive, for worker replay debugging)",
			envVars: map[string]string{
				"LOG_LEVEL": "TRACE",
			},
			expected: &Config{Level: "trace", Format: FormatJSON, AddSource: false},
		},
		{
			name: "LOG_FORMAT=text",
			envVars: map[string]string{
				"LOG_FORMAT": "text",
			},
			expected: &Config{Level: "info", Format: FormatText, AddSource: false},
		},
		{
			name: "LOG_SOURCE=1",
			envVars: map[string]string{
				"LOG_SOURCE": "1",
			},
			expected: &Config{Level: "info", Format: FormatJSON, AddSource: true},
		},
		{
			name: "FLOWKEEP_DEBUG forces debug level and source regardless of LOG_LEVEL",
			envVars: map[string]string{
				"FLOWKEEP_DEBUG": "1",
				"LOG_LEVEL":      "error",
			},
			expected: &Config{Level: "debug", Format: FormatJSON, AddSource: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()

			if cfg.Level != tt.expected.Level {
				t.Errorf("expected level %q, got %q", tt.expected.Level, cfg.Level)
			}
			if cfg.Format != tt.expected.Format {
				t.Errorf("expected format %q, got %q", tt.expected.Format, cfg.Format)
			}
			if cfg.AddSource != tt.expected.AddSource {
				t.Errorf("expected AddSource %v, got %v", tt.expected.AddSource, cfg.AddSource)
			}
		})
	}
}

func TestFromEnv_FlowkeepLogLevelTakesPrecedenceOverLogLevel(t *testing.T) {
	// A worker process and the daemon it reports to may both read
	// LOG_LEVEL from a shared parent environment; FLOWKEEP_LOG_LEVEL
	// lets one override just its own verbosity without touching the
	// other.
	t.Setenv("FLOWKEEP_LOG_LEVEL", "debug")
	t.Setenv("LOG_LEVEL", "error")

	cfg := FromEnv()

	if cfg.Level != "debug" {
		t.Errorf("expected FLOWKEEP_LOG_LEVEL to win, got level %q", cfg.Level)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"TRACE", LevelTrace},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus-level", slog.LevelInfo}, // misconfiguration falls back to info
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if level := parseLevel(tt.input); level != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, level)
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	logger.Info("workflow claimed", String("workflow", "send-invoice"))

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	if logEntry["msg"] != "workflow claimed" {
		t.Errorf("expected msg field to be 'workflow claimed', got: %v", logEntry["msg"])
	}
	if logEntry["workflow"] != "send-invoice" {
		t.Errorf("expected workflow field to be 'send-invoice', got: %v", logEntry["workflow"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})
	logger.Info("workflow completed", String("workflow_id", "wf-1"))

	output := buf.String()
	if !strings.Contains(output, "workflow completed") {
		t.Errorf("expected output to contain 'workflow completed', got: %s", output)
	}
	if !strings.Contains(output, "workflow_id=wf-1") {
		t.Errorf("expected output to contain 'workflow_id=wf-1', got: %s", output)
	}
}

// TestLevelFiltering exercises the level a worker would actually
// configure: LevelTrace gated behind "trace" specifically, not swept
// in under "debug" by mistake.
func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		name          string
		configLevel   string
		logFunc       func(*slog.Logger)
		shouldContain bool
	}{
		{
			name:        "replay trace suppressed at debug",
			configLevel: "debug",
			logFunc: func(l *slog.Logger) {
				Trace(l, "step completed")
			},
			shouldContain: false,
		},
		{
			name:        "replay trace emitted at trace",
			configLevel: "trace",
			logFunc: func(l *slog.Logger) {
				Trace(l, "step completed")
			},
			shouldContain: true,
		},
		{
			name:        "debug suppressed at info",
			configLevel: "info",
			logFunc: func(l *slog.Logger) {
				l.Debug("replaying workflow function")
			},
			shouldContain: false,
		},
		{
			name:        "warn ownership rejection visible at info",
			configLevel: "info",
			logFunc: func(l *slog.Logger) {
				l.Warn("claim rejected: lease held by another worker")
			},
			shouldContain: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&Config{Level: tt.configLevel, Format: FormatJSON, Output: &buf})
			tt.logFunc(logger)

			if contains := buf.Len() > 0; contains != tt.shouldContain {
				t.Errorf("expected output=%v, got output=%v (output: %s)", tt.shouldContain, contains, buf.String())
			}
		})
	}
}

func TestWithCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithCorrelationID(logger, "req-abc").Info("signal delivered")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	if logEntry["correlation_id"] != "req-abc" {
		t.Errorf("expected correlation_id 'req-abc', got: %v", logEntry["correlation_id"])
	}
}

// TestWithWorkflowContext mirrors how the runner scopes a logger once
// per claimed execution, before any step runs.
func TestWithWorkflowContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithWorkflowContext(logger, "wf-123", "send-invoice").Info("replaying workflow function")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	if logEntry[WorkflowIDKey] != "wf-123" {
		t.Errorf("expected %s to be 'wf-123', got: %v", WorkflowIDKey, logEntry[WorkflowIDKey])
	}
	if logEntry[WorkflowKey] != "send-invoice" {
		t.Errorf("expected %s to be 'send-invoice', got: %v", WorkflowKey, logEntry[WorkflowKey])
	}
}

// TestWithStepContext mirrors Step scoping its best-effort failure
// logging to one step within the enclosing workflow's context.
func TestWithStepContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	workflowLogger := WithWorkflowContext(logger, "wf-456", "send-invoice")
	WithStepContext(workflowLogger, "wf-456", "step-789").Warn("best-effort failStep also failed")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	if logEntry[WorkflowIDKey] != "wf-456" {
		t.Errorf("expected %s to be 'wf-456', got: %v", WorkflowIDKey, logEntry[WorkflowIDKey])
	}
	if logEntry[StepIDKey] != "step-789" {
		t.Errorf("expected %s to be 'step-789', got: %v", StepIDKey, logEntry[StepIDKey])
	}
	// The workflow name carries through even though WithStepContext
	// itself doesn't re-attach it.
	if logEntry[WorkflowKey] != "send-invoice" {
		t.Errorf("expected %s to be 'send-invoice', got: %v", WorkflowKey, logEntry[WorkflowKey])
	}
}

func TestWithWorkerContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithWorkerContext(logger, "worker-a").Info("claim loop started")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	if logEntry[WorkerIDKey] != "worker-a" {
		t.Errorf("expected %s to be 'worker-a', got: %v", WorkerIDKey, logEntry[WorkerIDKey])
	}
}

// TestCombinedWorkflowAndWorkerContext mirrors the full attribution a
// claimed execution's logger carries: which worker is running which
// workflow instance.
func TestCombinedWorkflowAndWorkerContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	scoped := WithWorkerContext(WithWorkflowContext(logger, "wf-999", "send-invoice"), "worker-b")
	scoped.Info("workflow completed")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	if logEntry[WorkflowIDKey] != "wf-999" {
		t.Errorf("expected %s to be 'wf-999', got: %v", WorkflowIDKey, logEntry[WorkflowIDKey])
	}
	if logEntry[WorkflowKey] != "send-invoice" {
		t.Errorf("expected %s to be 'send-invoice', got: %v", WorkflowKey, logEntry[WorkflowKey])
	}
	if logEntry[WorkerIDKey] != "worker-b" {
		t.Errorf("expected %s to be 'worker-b', got: %v", WorkerIDKey, logEntry[WorkerIDKey])
	}
}

func TestAddSource(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf, AddSource: true})
	logger.Info("claim loop started")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}

	source, ok := logEntry["source"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected source to be a map, got: %v", logEntry["source"])
	}
	if _, ok := source["file"]; !ok {
		t.Error("expected source.file to be present")
	}
	if _, ok := source["line"]; !ok {
		t.Error("expected source.line to be present")
	}
}

func TestAttrHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("claim issued",
		String("workflow", "send-invoice"),
		Int("slots_available", 3),
		Attr("names", []string{"send-invoice", "charge-card"}),
	)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	if logEntry["workflow"] != "send-invoice" {
		t.Errorf("expected workflow to be 'send-invoice', got: %v", logEntry["workflow"])
	}
	if logEntry["slots_available"] != float64(3) {
		t.Errorf("expected slots_available to be 3, got: %v", logEntry["slots_available"])
	}
}

func TestErrorAttr(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "error", Format: FormatJSON, Output: &buf})

	claimLostErr := errors.New("lease moved to another worker")
	logger.Error("failed to record workflow completion", Error(claimLostErr))

	output := buf.String()
	if !strings.Contains(output, claimLostErr.Error()) {
		t.Errorf("expected error message in output, got: %s", output)
	}
}

func TestNilConfig(t *testing.T) {
	logger := New(nil)
	if logger == nil {
		t.Error("expected non-nil logger when nil config passed")
	}
}

func BenchmarkLogger_JSON(b *testing.B) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("claim issued", "worker_id", "worker-a", "workflow", "send-invoice")
	}
}

func BenchmarkLogger_Text(b *testing.B) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("claim issued", "worker_id", "worker-a", "workflow", "send-invoice")
	}
}
