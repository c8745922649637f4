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

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tombee/flowkeep/store"
)

// Authenticator authorizes worker-surface requests. A nil error means
// the request is authorized; a non-nil error's message must contain
// "unauthorized" per spec.md section 6.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// WorkerHandler serves the claim/heartbeat/step/sleep/signal-wait
// surface. Every route is gated behind an Authenticator.
type WorkerHandler struct {
	store store.Store
	auth  Authenticator
}

// NewWorkerHandler creates a handler over store, authorizing every
// request with auth.
func NewWorkerHandler(s store.Store, auth Authenticator) *WorkerHandler {
	return &WorkerHandler{store: s, auth: auth}
}

// RegisterRoutes registers the worker API routes on mux, wrapping each
// with the configured Authenticator.
func (h *WorkerHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/worker/pending", h.authorized(h.handlePending))
	mux.HandleFunc("POST /v1/worker/claim", h.authorized(h.handleClaim))
	mux.HandleFunc("POST /v1/worker/workflows/{id}/heartbeat", h.authorized(h.handleHeartbeat))
	mux.HandleFunc("POST /v1/worker/workflows/{id}/complete", h.authorized(h.handleCompleteWorkflow))
	mux.HandleFunc("POST /v1/worker/workflows/{id}/fail", h.authorized(h.handleFailWorkflow))
	mux.HandleFunc("POST /v1/worker/workflows/{id}/sleep", h.authorized(h.handleSleepWorkflow))
	mux.HandleFunc("POST /v1/worker/workflows/{id}/steps", h.authorized(h.handleGetOrCreateStep))
	mux.HandleFunc("POST /v1/worker/workflows/{id}/steps/{stepId}/schedule-sleep", h.authorized(h.handleScheduleSleep))
	mux.HandleFunc("POST /v1/worker/workflows/{id}/steps/{stepId}/wait-for-signal", h.authorized(h.handleWaitForSignal))
	mux.HandleFunc("POST /v1/worker/steps/{stepId}/complete", h.authorized(h.handleCompleteStep))
	mux.HandleFunc("POST /v1/worker/steps/{stepId}/fail", h.authorized(h.handleFailStep))
}

// authorized wraps next so it only runs when h.auth approves the
// request; otherwise it responds 401 with a message containing
// "unauthorized".
func (h *WorkerHandler) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.auth.Authenticate(r); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r)
	}
}

func (h *WorkerHandler) handlePending(w http.ResponseWriter, r *http.Request) {
	names := r.URL.Query()["name"]
	if len(names) == 0 {
		names = store.WildcardWorkflowNames
	}

	ch, err := h.store.SubscribePendingWorkflows(r.Context(), names)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to subscribe: %v", err))
		return
	}

	select {
	case _, ok := <-ch:
		writeJSON(w, http.StatusOK, pendingResponse{Pending: ok})
	case <-r.Context().Done():
	}
}

func (h *WorkerHandler) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required")
		return
	}
	names := req.WorkflowNames
	if len(names) == 0 {
		names = store.WildcardWorkflowNames
	}

	claimed, err := h.store.Claim(r.Context(), names, req.WorkerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("claim failed: %v", err))
		return
	}
	if claimed == nil {
		writeJSON(w, http.StatusOK, claimResponse{Claimed: false})
		return
	}

	writeJSON(w, http.StatusOK, claimResponse{
		Claimed:    true,
		WorkflowID: claimed.WorkflowID,
		Name:       claimed.Name,
		Input:      json.RawMessage(claimed.Input),
	})
}

func (h *WorkerHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ok, err := h.store.Heartbeat(r.Context(), id, req.WorkerID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

func (h *WorkerHandler) handleCompleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req completeWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ok, err := h.store.CompleteWorkflow(r.Context(), id, req.WorkerID, req.Output)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

func (h *WorkerHandler) handleFailWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req failWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ok, err := h.store.FailWorkflow(r.Context(), id, req.WorkerID, req.Error)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

func (h *WorkerHandler) handleSleepWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req sleepWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ok, err := h.store.SleepWorkflow(r.Context(), id, req.WorkerID, req.SleepUntil)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

func (h *WorkerHandler) handleGetOrCreateStep(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req getOrCreateStepRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	info, err := h.store.GetOrCreateStep(r.Context(), id, req.Name, req.WorkerID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stepInfoResponse{
		StepID:     info.StepID,
		Status:     info.Status,
		Output:     json.RawMessage(info.Output),
		Error:      info.Error,
		SleepUntil: info.SleepUntil,
		IsNew:      info.IsNew,
	})
}

func (h *WorkerHandler) handleScheduleSleep(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stepID := r.PathValue("stepId")

	var req scheduleSleepRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ok, err := h.store.ScheduleSleep(r.Context(), id, stepID, req.WorkerID, req.SleepUntil)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

func (h *WorkerHandler) handleWaitForSignal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stepID := r.PathValue("stepId")

	var req waitForSignalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.SignalName == "" {
		writeError(w, http.StatusBadRequest, "signal_name is required")
		return
	}

	result, err := h.store.WaitForSignal(r.Context(), id, stepID, req.WorkerID, req.SignalName)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, waitForSignalResponse{
		Signaled: result.Signaled,
		Payload:  json.RawMessage(result.Payload),
	})
}

func (h *WorkerHandler) handleCompleteStep(w http.ResponseWriter, r *http.Request) {
	stepID := r.PathValue("stepId")

	var req completeStepRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ok, err := h.store.CompleteStep(r.Context(), stepID, req.WorkerID, req.Output)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

func (h *WorkerHandler) handleFailStep(w http.ResponseWriter, r *http.Request) {
	stepID := r.PathValue("stepId")

	var req failStepRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ok, err := h.store.FailStep(r.Context(), stepID, req.WorkerID, req.Error)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

