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

package worker

import (
	"context"
	"time"

	"github.com/tombee/flowkeep/store"
)

// Store is the subset of the orchestrator store a worker needs. A
// worker never needs WorkflowLister, so an embedded store.Store
// satisfies Store directly. transport/client does not satisfy it as
// is: its Claim returns a *client.ClaimResult and it has no
// SubscribePendingWorkflows method.
type Store interface {
	Claim(ctx context.Context, workflowNames []string, workerID string) (*store.ClaimedWorkflow, error)
	Heartbeat(ctx context.Context, workflowID, workerID string) (bool, error)
	CompleteWorkflow(ctx context.Context, workflowID, workerID string, output []byte) (bool, error)
	FailWorkflow(ctx context.Context, workflowID, workerID string, errMsg string) (bool, error)
	ScheduleSleep(ctx context.Context, workflowID, stepID, workerID string, sleepUntil time.Time) (bool, error)
	WaitForSignal(ctx context.Context, workflowID, stepID, workerID, signalName string) (store.SignalResult, error)
	GetOrCreateStep(ctx context.Context, workflowID, stepName, workerID string) (store.StepInfo, error)
	CompleteStep(ctx context.Context, stepID, workerID string, output []byte) (bool, error)
	FailStep(ctx context.Context, stepID, workerID string, errMsg string) (bool, error)
	SubscribePendingWorkflows(ctx context.Context, workflowNames []string) (<-chan struct{}, error)
}
