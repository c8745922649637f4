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

package client

import (
	"encoding/json"
	"time"
)

// Workflow mirrors the JSON shape transport/server writes for a
// store.Workflow.
type Workflow struct {
	ID             string          `json:"id"`
	CreationTime   time.Time       `json:"creation_time"`
	Name           string          `json:"name"`
	Status         string          `json:"status"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          string          `json:"error,omitempty"`
	ClaimedBy      string          `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time      `json:"claimed_at,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	SleepUntil     *time.Time      `json:"sleep_until,omitempty"`
}

// Step mirrors the JSON shape transport/server writes for a store.Step.
type Step struct {
	ID             string          `json:"id"`
	CreationTime   time.Time       `json:"creation_time"`
	WorkflowID     string          `json:"workflow_id"`
	Name           string          `json:"name"`
	Status         string          `json:"status"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          string          `json:"error,omitempty"`
	SleepUntil     *time.Time      `json:"sleep_until,omitempty"`
	AwaitingSignal string          `json:"awaiting_signal,omitempty"`
	Attempts       int             `json:"attempts"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// ListFilter mirrors store.WorkflowFilter for ListWorkflows.
type ListFilter struct {
	Name   string
	Status string
	Limit  int
	Offset int
}

// ClaimResult mirrors a claim response. Claimed is false when nothing
// was claimable.
type ClaimResult struct {
	Claimed    bool
	WorkflowID string
	Name       string
	Input      json.RawMessage
}

// StepInfo mirrors store.StepInfo.
type StepInfo struct {
	StepID     string
	Status     string
	Output     json.RawMessage
	Error      string
	SleepUntil *time.Time
	IsNew      bool
}

// SignalResult mirrors store.SignalResult.
type SignalResult struct {
	Signaled bool
	Payload  json.RawMessage
}
