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
	"fmt"
	"net/http"
	"strconv"

	conductorerrors "github.com/tombee/flowkeep/pkg/errors"
	"github.com/tombee/flowkeep/store"
)

// PublicHandler serves the client/dashboard-safe surface: starting
// workflows, signalling them, and reading their state. None of these
// routes require worker authorization.
type PublicHandler struct {
	store store.Store
}

// NewPublicHandler creates a handler over store.
func NewPublicHandler(s store.Store) *PublicHandler {
	return &PublicHandler{store: s}
}

// RegisterRoutes registers the public API routes on mux.
func (h *PublicHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/workflows", h.handleStart)
	mux.HandleFunc("GET /v1/workflows", h.handleList)
	mux.HandleFunc("GET /v1/workflows/{id}", h.handleGet)
	mux.HandleFunc("GET /v1/workflows/{id}/steps", h.handleGetSteps)
	mux.HandleFunc("POST /v1/workflows/{id}/signal", h.handleSignal)
}

func (h *PublicHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	id, err := h.store.StartWorkflow(r.Context(), req.Name, req.Input)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to start workflow: %v", err))
		return
	}

	writeJSON(w, http.StatusCreated, startWorkflowResponse{WorkflowID: id})
}

func (h *PublicHandler) handleSignal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req signalWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.SignalName == "" {
		writeError(w, http.StatusBadRequest, "signal_name is required")
		return
	}

	delivered, err := h.store.SignalWorkflow(r.Context(), id, req.SignalName, req.Payload)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, signalWorkflowResponse{Delivered: delivered})
}

func (h *PublicHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	wf, err := h.store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWorkflowView(wf))
}

func (h *PublicHandler) handleGetSteps(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	steps, err := h.store.GetWorkflowSteps(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	views := make([]stepView, 0, len(steps))
	for _, s := range steps {
		views = append(views, toStepView(s))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *PublicHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := store.WorkflowFilter{
		Name:   r.URL.Query().Get("name"),
		Status: store.Status(r.URL.Query().Get("status")),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			filter.Offset = n
		}
	}

	workflows, err := h.store.ListWorkflows(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list workflows: %v", err))
		return
	}

	views := make([]workflowView, 0, len(workflows))
	for _, wf := range workflows {
		views = append(views, toWorkflowView(wf))
	}
	writeJSON(w, http.StatusOK, views)
}

// writeStoreError maps a store-layer error to an HTTP status, following
// the error taxonomy in spec.md section 7.
func writeStoreError(w http.ResponseWriter, err error) {
	var notFound *conductorerrors.NotFoundError
	var ownership *conductorerrors.OwnershipError
	var unauthorized *conductorerrors.UnauthorizedError
	var validation *conductorerrors.ValidationError

	switch {
	case conductorerrors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case conductorerrors.As(err, &ownership):
		writeError(w, http.StatusConflict, err.Error())
	case conductorerrors.As(err, &unauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case conductorerrors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
