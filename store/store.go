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

// Package store defines the orchestrator store: the transactional home
// of workflow and step rows, and the small set of guarded operations a
// worker uses to claim, memoize, sleep, and signal a workflow.
//
// # Interface Hierarchy
//
// The store package uses interface segregation so minimal backends can
// satisfy only the pieces they support:
//
//   - WorkflowStore (core, required): startWorkflow/claim/heartbeat and
//     the terminal/sleep/signal transitions.
//   - StepStore (core, required): getOrCreateStep/completeStep/failStep.
//   - WorkflowLister (optional): getWorkflow/listWorkflows/getWorkflowSteps.
//   - PendingSubscriber (optional): subscribePendingWorkflows.
//
// Store composes all of these for full-featured backends. All three
// shipped backends (memory, sqlite, postgres) implement Store in full.
package store

import (
	"context"
	"io"
	"time"
)

// Status is a workflow or step lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSleeping  Status = "sleeping"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Synthetic step name prefixes reserved for sleep and signal markers.
// User-chosen step names must never begin with either prefix.
const (
	SleepStepPrefix  = "__sleep:"
	SignalStepPrefix = "__signal:"
)

// DefaultClaimTimeout is the lease duration granted on every claim or
// heartbeat. It is the only system timeout; it exists for failover, not
// deadline enforcement.
const DefaultClaimTimeout = 30 * time.Second

// DefaultHeartbeatInterval is how often a worker renews its lease on a
// claimed workflow.
const DefaultHeartbeatInterval = 10 * time.Second

// Workflow is a durable workflow row.
type Workflow struct {
	ID             string
	CreationTime   time.Time
	Name           string
	Status         Status
	Input          []byte // opaque JSON
	Output         []byte // opaque JSON, set only on completed
	Error          string // set only on failed
	ClaimedBy      string
	ClaimedAt      *time.Time
	LeaseExpiresAt *time.Time
	SleepUntil     *time.Time

	// StepIDsByName makes getOrCreateStep idempotent under concurrent
	// callers and preserves determinism across replays.
	StepIDsByName map[string]string

	// PendingSignals holds signal payloads that arrived before the
	// workflow reached the matching waitForSignal.
	PendingSignals map[string][]byte
}

// Step is a durable step row, either user-defined or a synthetic sleep
// or signal marker.
type Step struct {
	ID             string
	CreationTime   time.Time
	WorkflowID     string
	Name           string
	Status         Status
	Output         []byte
	Error          string
	SleepUntil     *time.Time // set only on sleep-marker steps
	AwaitingSignal string     // signal name, set only on waiting signal-marker steps
	Attempts       int
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// ClaimedWorkflow is what claim returns on a successful match.
type ClaimedWorkflow struct {
	WorkflowID string
	Name       string
	Input      []byte
}

// StepInfo is what getOrCreateStep returns.
type StepInfo struct {
	StepID     string
	Status     Status
	Output     []byte
	Error      string
	SleepUntil *time.Time
	IsNew      bool
}

// SignalResult is what waitForSignal returns.
type SignalResult struct {
	Signaled bool
	Payload  []byte
}

// WorkflowFilter filters listWorkflows.
type WorkflowFilter struct {
	Name   string
	Status Status
	Limit  int
	Offset int
}

// WorkflowStore is the core interface for workflow lifecycle operations.
type WorkflowStore interface {
	// StartWorkflow inserts a new pending workflow and returns its id.
	StartWorkflow(ctx context.Context, name string, input []byte) (string, error)

	// Claim selects at most one claimable workflow matching workflowNames
	// (or every workflow, if workflowNames is the wildcard ["*"]),
	// transitions it to running under workerID, and returns it. Returns
	// (nil, nil) when nothing is claimable.
	Claim(ctx context.Context, workflowNames []string, workerID string) (*ClaimedWorkflow, error)

	// Heartbeat extends a held lease. It returns false if the workflow no
	// longer exists or is no longer claimed by workerID; workers must
	// treat false as authoritative claim-lost.
	Heartbeat(ctx context.Context, workflowID, workerID string) (bool, error)

	// CompleteWorkflow transitions a running, owned workflow to completed.
	CompleteWorkflow(ctx context.Context, workflowID, workerID string, output []byte) (bool, error)

	// FailWorkflow transitions a running, owned workflow to failed.
	FailWorkflow(ctx context.Context, workflowID, workerID string, errMsg string) (bool, error)

	// SleepWorkflow transitions a running, owned workflow to sleeping.
	// Kept for callers that predate step-marker sleeps; ScheduleSleep is
	// the preferred, atomic path used by the runner.
	SleepWorkflow(ctx context.Context, workflowID, workerID string, sleepUntil time.Time) (bool, error)

	// ScheduleSleep atomically associates a sleep marker step with a
	// running-to-sleeping transition. If the step already has a
	// SleepUntil, that value wins over the caller's requested time
	// (determinism across replays). Returns false if the resolved wake
	// time is not in the future; the caller must instead complete the
	// marker directly.
	ScheduleSleep(ctx context.Context, workflowID, stepID, workerID string, sleepUntil time.Time) (bool, error)

	// WaitForSignal consumes a pending signal if one is already queued,
	// otherwise registers stepID as the waiter for signalName and
	// transitions the workflow to waiting.
	WaitForSignal(ctx context.Context, workflowID, stepID, workerID, signalName string) (SignalResult, error)

	// SignalWorkflow delivers a signal. If a step is registered as the
	// waiter for signalName, it completes that step and moves the
	// workflow from waiting back to pending. Otherwise the signal is
	// queued in PendingSignals for a later WaitForSignal.
	SignalWorkflow(ctx context.Context, workflowID, signalName string, payload []byte) (bool, error)
}

// StepStore is the core interface for step memoization.
type StepStore interface {
	// GetOrCreateStep is ownership-guarded: it fails unless the
	// workflow is currently running under workerID. It returns the
	// existing step if stepName already resolves for the workflow,
	// otherwise it inserts a new running step and returns IsNew = true.
	GetOrCreateStep(ctx context.Context, workflowID, stepName, workerID string) (StepInfo, error)

	// CompleteStep and FailStep are ownership-guarded via the step's
	// parent workflow and reject a step that is not currently running.
	CompleteStep(ctx context.Context, stepID, workerID string, output []byte) (bool, error)
	FailStep(ctx context.Context, stepID, workerID string, errMsg string) (bool, error)
}

// WorkflowLister is an optional interface for read-only views.
type WorkflowLister interface {
	GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	GetWorkflowSteps(ctx context.Context, workflowID string) ([]*Step, error)
}

// PendingSubscriber is an optional interface for the reactive
// pending-work signal. It is strictly a latency optimization: the
// worker claim loop's timer fallback provides correctness on its own.
type PendingSubscriber interface {
	// SubscribePendingWorkflows returns a channel that receives a value
	// whenever a workflow matching workflowNames becomes claimable
	// (pending, or a due sleeper). Delivery stops when ctx is done; the
	// channel is not closed then (store/memory closes it only in Close).
	// Implementations may coalesce bursts of wakeups.
	SubscribePendingWorkflows(ctx context.Context, workflowNames []string) (<-chan struct{}, error)
}

// Store is the full interface a worker and transport layer program
// against. All three shipped backends implement it.
type Store interface {
	WorkflowStore
	StepStore
	WorkflowLister
	PendingSubscriber
	io.Closer
}

// WildcardWorkflowNames is the sentinel slice claim interprets as
// "every registered workflow name", bypassing the name filter.
var WildcardWorkflowNames = []string{"*"}

// IsWildcard reports whether names is the claim-all sentinel.
func IsWildcard(names []string) bool {
	return len(names) == 1 && names[0] == "*"
}
