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

// Package server exposes the orchestrator store over HTTP/JSON: a
// public surface safe for clients and dashboards, and a worker surface
// gated behind Bearer authorization, mirroring spec.md section 6.
package server

import (
	"encoding/json"
	"time"

	"github.com/tombee/flowkeep/store"
)

// All user-supplied input/output/payload/error values travel the wire
// as opaque JSON — json.RawMessage preserves them byte-for-byte.

// startWorkflowRequest is the body of POST /v1/workflows.
type startWorkflowRequest struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// startWorkflowResponse is the body of a successful POST /v1/workflows.
type startWorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
}

// signalWorkflowRequest is the body of POST /v1/workflows/{id}/signal.
type signalWorkflowRequest struct {
	SignalName string          `json:"signal_name"`
	Payload    json.RawMessage `json:"payload"`
}

// signalWorkflowResponse is the body of a successful signal call.
type signalWorkflowResponse struct {
	Delivered bool `json:"delivered"`
}

// workflowView is the wire representation of store.Workflow.
type workflowView struct {
	ID             string          `json:"id"`
	CreationTime   time.Time       `json:"creation_time"`
	Name           string          `json:"name"`
	Status         store.Status    `json:"status"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          string          `json:"error,omitempty"`
	ClaimedBy      string          `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time      `json:"claimed_at,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	SleepUntil     *time.Time      `json:"sleep_until,omitempty"`
}

func toWorkflowView(w *store.Workflow) workflowView {
	return workflowView{
		ID:             w.ID,
		CreationTime:   w.CreationTime,
		Name:           w.Name,
		Status:         w.Status,
		Input:          json.RawMessage(w.Input),
		Output:         json.RawMessage(w.Output),
		Error:          w.Error,
		ClaimedBy:      w.ClaimedBy,
		ClaimedAt:      w.ClaimedAt,
		LeaseExpiresAt: w.LeaseExpiresAt,
		SleepUntil:     w.SleepUntil,
	}
}

// stepView is the wire representation of store.Step.
type stepView struct {
	ID             string          `json:"id"`
	CreationTime   time.Time       `json:"creation_time"`
	WorkflowID     string          `json:"workflow_id"`
	Name           string          `json:"name"`
	Status         store.Status    `json:"status"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          string          `json:"error,omitempty"`
	SleepUntil     *time.Time      `json:"sleep_until,omitempty"`
	AwaitingSignal string          `json:"awaiting_signal,omitempty"`
	Attempts       int             `json:"attempts"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

func toStepView(s *store.Step) stepView {
	return stepView{
		ID:             s.ID,
		CreationTime:   s.CreationTime,
		WorkflowID:     s.WorkflowID,
		Name:           s.Name,
		Status:         s.Status,
		Output:         json.RawMessage(s.Output),
		Error:          s.Error,
		SleepUntil:     s.SleepUntil,
		AwaitingSignal: s.AwaitingSignal,
		Attempts:       s.Attempts,
		StartedAt:      s.StartedAt,
		CompletedAt:    s.CompletedAt,
	}
}

// claimRequest is the body of POST /v1/worker/claim.
type claimRequest struct {
	WorkflowNames []string `json:"workflow_names"`
	WorkerID      string   `json:"worker_id"`
}

// claimResponse is the body of a successful claim call. Claimed is
// false when no claimable workflow was found.
type claimResponse struct {
	Claimed    bool            `json:"claimed"`
	WorkflowID string          `json:"workflow_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
}

// heartbeatRequest is the body of POST /v1/worker/workflows/{id}/heartbeat.
type heartbeatRequest struct {
	WorkerID string `json:"worker_id"`
}

// okResponse is the common shape for guarded mutations that return a
// bare ownership-success boolean.
type okResponse struct {
	OK bool `json:"ok"`
}

// completeWorkflowRequest is the body of .../complete.
type completeWorkflowRequest struct {
	WorkerID string          `json:"worker_id"`
	Output   json.RawMessage `json:"output"`
}

// failWorkflowRequest is the body of .../fail.
type failWorkflowRequest struct {
	WorkerID string `json:"worker_id"`
	Error    string `json:"error"`
}

// sleepWorkflowRequest is the body of .../sleep.
type sleepWorkflowRequest struct {
	WorkerID   string    `json:"worker_id"`
	SleepUntil time.Time `json:"sleep_until"`
}

// scheduleSleepRequest is the body of .../steps/{stepId}/schedule-sleep.
type scheduleSleepRequest struct {
	WorkerID   string    `json:"worker_id"`
	SleepUntil time.Time `json:"sleep_until"`
}

// waitForSignalRequest is the body of .../steps/{stepId}/wait-for-signal.
type waitForSignalRequest struct {
	WorkerID   string `json:"worker_id"`
	SignalName string `json:"signal_name"`
}

// waitForSignalResponse mirrors store.SignalResult.
type waitForSignalResponse struct {
	Signaled bool            `json:"signaled"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// getOrCreateStepRequest is the body of POST /v1/worker/workflows/{id}/steps.
type getOrCreateStepRequest struct {
	WorkerID string `json:"worker_id"`
	Name     string `json:"name"`
}

// stepInfoResponse mirrors store.StepInfo.
type stepInfoResponse struct {
	StepID     string          `json:"step_id"`
	Status     store.Status    `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	SleepUntil *time.Time      `json:"sleep_until,omitempty"`
	IsNew      bool            `json:"is_new"`
}

// completeStepRequest is the body of .../steps/{stepId}/complete.
type completeStepRequest struct {
	WorkerID string          `json:"worker_id"`
	Output   json.RawMessage `json:"output"`
}

// failStepRequest is the body of .../steps/{stepId}/fail.
type failStepRequest struct {
	WorkerID string `json:"worker_id"`
	Error    string `json:"error"`
}

// pendingResponse is the body of GET /v1/worker/pending.
type pendingResponse struct {
	Pending bool `json:"pending"`
}
