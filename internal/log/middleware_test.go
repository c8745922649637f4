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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddleware_Wrap_LogsCompletedRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	mw := NewMiddleware(logger)

	handlerCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/workflows/wf-1", nil)
	rec := httptest.NewRecorder()

	mw.Wrap(next).ServeHTTP(rec, req)

	if !handlerCalled {
		t.Fatal("expected wrapped handler to be called")
	}

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}

	if logEntry["msg"] != "request completed" {
		t.Errorf("expected msg 'request completed', got: %v", logEntry["msg"])
	}
	if logEntry["method"] != http.MethodGet {
		t.Errorf("expected method %q, got: %v", http.MethodGet, logEntry["method"])
	}
	if logEntry["path"] != "/v1/workflows/wf-1" {
		t.Errorf("expected path '/v1/workflows/wf-1', got: %v", logEntry["path"])
	}
	if logEntry["status"] != float64(http.StatusOK) {
		t.Errorf("expected status 200, got: %v", logEntry["status"])
	}
	if _, ok := logEntry["duration_ms"]; !ok {
		t.Error("expected duration_ms to be present")
	}
	if _, ok := logEntry["correlation_id"]; !ok {
		t.Error("expected a correlation_id to be minted when none is supplied")
	}
}

func TestMiddleware_Wrap_PreservesCorrelationIDHeader(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	mw := NewMiddleware(logger)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(CorrelationIDHeader, "caller-supplied-id")
	rec := httptest.NewRecorder()

	mw.Wrap(next).ServeHTTP(rec, req)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}

	if logEntry["correlation_id"] != "caller-supplied-id" {
		t.Errorf("expected correlation_id 'caller-supplied-id', got: %v", logEntry["correlation_id"])
	}
}

func TestMiddleware_Wrap_LevelByStatus(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		expectedLevel string
	}{
		{"2xx logs at info", http.StatusOK, "INFO"},
		{"4xx logs at warn", http.StatusNotFound, "WARN"},
		{"5xx logs at error", http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
			mw := NewMiddleware(logger)

			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			req := httptest.NewRequest(http.MethodGet, "/v1/workflows/missing", nil)
			rec := httptest.NewRecorder()
			mw.Wrap(next).ServeHTTP(rec, req)

			var logEntry map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
				t.Fatalf("expected valid JSON output: %v", err)
			}
			if logEntry["level"] != tt.expectedLevel {
				t.Errorf("expected level %q, got: %v", tt.expectedLevel, logEntry["level"])
			}
		})
	}
}

func TestMiddleware_Wrap_DefaultsToOKWhenHandlerOmitsWriteHeader(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	mw := NewMiddleware(logger)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	mw.Wrap(next).ServeHTTP(rec, req)

	output := buf.String()
	if !strings.Contains(output, `"status":200`) {
		t.Errorf("expected status 200 in log output, got: %s", output)
	}
}
