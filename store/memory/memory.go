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

// Package memory provides an in-memory store backend, intended for
// tests and single-process development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	conductorerrors "github.com/tombee/flowkeep/pkg/errors"
	"github.com/tombee/flowkeep/store"
)

// Compile-time interface assertion.
var _ store.Store = (*Backend)(nil)

// Backend is an in-memory storage backend. All operations hold a single
// mutex; this is a correctness reference, not a high-throughput target.
type Backend struct {
	mu        sync.Mutex
	workflows map[string]*store.Workflow
	steps     map[string]*store.Step

	subsMu sync.Mutex
	subs   []*subscription

	claimTimeout time.Duration
}

type subscription struct {
	names []string
	ch    chan struct{}
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{
		workflows:    make(map[string]*store.Workflow),
		steps:        make(map[string]*store.Step),
		claimTimeout: store.DefaultClaimTimeout,
	}
}

// ExpireLeaseForTest forces a claimed workflow's lease into the past.
// It exists only to let storetest.Run exercise expired-lease reclaim
// without sleeping past the real claim timeout.
func (b *Backend) ExpireLeaseForTest(ctx context.Context, workflowID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	wf, ok := b.workflows[workflowID]
	if !ok {
		return &conductorerrors.NotFoundError{Resource: "workflow", ID: workflowID}
	}
	past := time.Now().Add(-time.Minute)
	wf.LeaseExpiresAt = &past
	return nil
}

// Close closes every open subscription channel. The in-memory backend
// holds no other resources.
func (b *Backend) Close() error {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
	return nil
}

func (b *Backend) StartWorkflow(ctx context.Context, name string, input []byte) (string, error) {
	b.mu.Lock()
	wf := &store.Workflow{
		ID:             uuid.NewString(),
		CreationTime:   time.Now(),
		Name:           name,
		Status:         store.StatusPending,
		Input:          input,
		StepIDsByName:  make(map[string]string),
		PendingSignals: make(map[string][]byte),
	}
	b.workflows[wf.ID] = wf
	b.mu.Unlock()

	b.notify(name)
	return wf.ID, nil
}

// matchesNames reports whether a workflow's name is selected by names,
// honoring the wildcard sentinel.
func matchesNames(names []string, name string) bool {
	if store.IsWildcard(names) {
		return true
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (b *Backend) Claim(ctx context.Context, workflowNames []string, workerID string) (*store.ClaimedWorkflow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	// Step 1: oldest pending.
	if wf := b.pickOldest(workflowNames, func(w *store.Workflow) bool {
		return w.Status == store.StatusPending
	}); wf != nil {
		b.claimRow(wf, workerID, now)
		return &store.ClaimedWorkflow{WorkflowID: wf.ID, Name: wf.Name, Input: wf.Input}, nil
	}

	// Step 2: due sleeper, tie-broken by sleepUntil then creationTime.
	if wf := b.pickDueSleeper(workflowNames, now); wf != nil {
		b.claimRow(wf, workerID, now)
		return &store.ClaimedWorkflow{WorkflowID: wf.ID, Name: wf.Name, Input: wf.Input}, nil
	}

	// Step 3: expired lease, oldest creationTime first. Also covers the
	// legacy claimedAt-only case since every row here sets both fields
	// together.
	if wf := b.pickOldest(workflowNames, func(w *store.Workflow) bool {
		return w.Status == store.StatusRunning && w.LeaseExpiresAt != nil && w.LeaseExpiresAt.Before(now)
	}); wf != nil {
		b.claimRow(wf, workerID, now)
		return &store.ClaimedWorkflow{WorkflowID: wf.ID, Name: wf.Name, Input: wf.Input}, nil
	}

	return nil, nil
}

func (b *Backend) pickOldest(names []string, pred func(*store.Workflow) bool) *store.Workflow {
	var best *store.Workflow
	for _, wf := range b.workflows {
		if !matchesNames(names, wf.Name) || !pred(wf) {
			continue
		}
		if best == nil || wf.CreationTime.Before(best.CreationTime) {
			best = wf
		}
	}
	return best
}

func (b *Backend) pickDueSleeper(names []string, now time.Time) *store.Workflow {
	var best *store.Workflow
	for _, wf := range b.workflows {
		if !matchesNames(names, wf.Name) || wf.Status != store.StatusSleeping {
			continue
		}
		if wf.SleepUntil == nil || wf.SleepUntil.After(now) {
			continue
		}
		if best == nil ||
			wf.SleepUntil.Before(*best.SleepUntil) ||
			(wf.SleepUntil.Equal(*best.SleepUntil) && wf.CreationTime.Before(best.CreationTime)) {
			best = wf
		}
	}
	return best
}

func (b *Backend) claimRow(wf *store.Workflow, workerID string, now time.Time) {
	lease := now.Add(b.claimTimeout)
	wf.Status = store.StatusRunning
	wf.ClaimedBy = workerID
	wf.ClaimedAt = &now
	wf.LeaseExpiresAt = &lease
	wf.SleepUntil = nil
}

func (b *Backend) Heartbeat(ctx context.Context, workflowID, workerID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wf, ok := b.workflows[workflowID]
	if !ok || wf.ClaimedBy != workerID {
		return false, nil
	}
	now := time.Now()
	lease := now.Add(b.claimTimeout)
	wf.ClaimedAt = &now
	wf.LeaseExpiresAt = &lease
	return true, nil
}

// owns reports whether workerID currently holds workflowID's running claim.
func (b *Backend) owns(workflowID, workerID string) (*store.Workflow, bool) {
	wf, ok := b.workflows[workflowID]
	if !ok || wf.Status != store.StatusRunning || wf.ClaimedBy != workerID {
		return nil, false
	}
	return wf, true
}

func (b *Backend) CompleteWorkflow(ctx context.Context, workflowID, workerID string, output []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wf, ok := b.owns(workflowID, workerID)
	if !ok {
		return false, nil
	}
	wf.Status = store.StatusCompleted
	wf.Output = output
	wf.ClaimedBy = ""
	wf.ClaimedAt = nil
	wf.LeaseExpiresAt = nil
	return true, nil
}

func (b *Backend) FailWorkflow(ctx context.Context, workflowID, workerID string, errMsg string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wf, ok := b.owns(workflowID, workerID)
	if !ok {
		return false, nil
	}
	wf.Status = store.StatusFailed
	wf.Error = errMsg
	wf.ClaimedBy = ""
	wf.ClaimedAt = nil
	wf.LeaseExpiresAt = nil
	return true, nil
}

func (b *Backend) SleepWorkflow(ctx context.Context, workflowID, workerID string, sleepUntil time.Time) (bool, error) {
	b.mu.Lock()
	wf, ok := b.owns(workflowID, workerID)
	if !ok {
		b.mu.Unlock()
		return false, nil
	}
	wf.Status = store.StatusSleeping
	wf.SleepUntil = &sleepUntil
	wf.ClaimedBy = ""
	wf.ClaimedAt = nil
	wf.LeaseExpiresAt = nil
	name := wf.Name
	b.mu.Unlock()

	b.notify(name)
	time.AfterFunc(time.Until(sleepUntil), func() { b.notify(name) })
	return true, nil
}

func (b *Backend) ScheduleSleep(ctx context.Context, workflowID, stepID, workerID string, sleepUntil time.Time) (bool, error) {
	b.mu.Lock()
	wf, ok := b.owns(workflowID, workerID)
	if !ok {
		b.mu.Unlock()
		return false, nil
	}
	step, ok := b.steps[stepID]
	if !ok || step.WorkflowID != workflowID {
		b.mu.Unlock()
		return false, nil
	}

	wake := sleepUntil
	if step.SleepUntil != nil {
		wake = *step.SleepUntil // determinism across replays
	}
	if !wake.After(time.Now()) {
		b.mu.Unlock()
		return false, nil
	}
	if step.SleepUntil == nil {
		step.SleepUntil = &wake
	}

	wf.Status = store.StatusSleeping
	wf.SleepUntil = &wake
	wf.ClaimedBy = ""
	wf.ClaimedAt = nil
	wf.LeaseExpiresAt = nil
	name := wf.Name
	b.mu.Unlock()

	b.notify(name)
	time.AfterFunc(time.Until(wake), func() { b.notify(name) })
	return true, nil
}

func (b *Backend) WaitForSignal(ctx context.Context, workflowID, stepID, workerID, signalName string) (store.SignalResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wf, ok := b.owns(workflowID, workerID)
	if !ok {
		return store.SignalResult{}, &conductorerrors.OwnershipError{WorkflowID: workflowID, WorkerID: workerID}
	}
	step, ok := b.steps[stepID]
	if !ok || step.WorkflowID != workflowID {
		return store.SignalResult{}, &conductorerrors.NotFoundError{Resource: "step", ID: stepID}
	}

	if payload, ok := wf.PendingSignals[signalName]; ok {
		delete(wf.PendingSignals, signalName)
		return store.SignalResult{Signaled: true, Payload: payload}, nil
	}

	step.AwaitingSignal = signalName
	wf.Status = store.StatusWaiting
	wf.ClaimedBy = ""
	wf.ClaimedAt = nil
	wf.LeaseExpiresAt = nil
	return store.SignalResult{Signaled: false}, nil
}

func (b *Backend) SignalWorkflow(ctx context.Context, workflowID, signalName string, payload []byte) (bool, error) {
	b.mu.Lock()
	wf, ok := b.workflows[workflowID]
	if !ok {
		b.mu.Unlock()
		return false, nil
	}

	var waiter *store.Step
	for _, step := range b.steps {
		if step.WorkflowID == workflowID && step.Status == store.StatusRunning && step.AwaitingSignal == signalName {
			waiter = step
			break
		}
	}

	if waiter == nil {
		if wf.PendingSignals == nil {
			wf.PendingSignals = make(map[string][]byte)
		}
		wf.PendingSignals[signalName] = payload
		b.mu.Unlock()
		return true, nil
	}

	now := time.Now()
	waiter.Status = store.StatusCompleted
	waiter.Output = payload
	waiter.AwaitingSignal = ""
	waiter.CompletedAt = &now

	wf.Status = store.StatusPending
	name := wf.Name
	b.mu.Unlock()

	b.notify(name)
	return true, nil
}

func (b *Backend) GetOrCreateStep(ctx context.Context, workflowID, stepName, workerID string) (store.StepInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wf, ok := b.owns(workflowID, workerID)
	if !ok {
		return store.StepInfo{}, &conductorerrors.OwnershipError{WorkflowID: workflowID, WorkerID: workerID}
	}

	if id, exists := wf.StepIDsByName[stepName]; exists {
		step := b.steps[id]
		return store.StepInfo{
			StepID:     step.ID,
			Status:     step.Status,
			Output:     step.Output,
			Error:      step.Error,
			SleepUntil: step.SleepUntil,
			IsNew:      false,
		}, nil
	}

	now := time.Now()
	step := &store.Step{
		ID:           uuid.NewString(),
		CreationTime: now,
		WorkflowID:   workflowID,
		Name:         stepName,
		Status:       store.StatusRunning,
		Attempts:     1,
		StartedAt:    &now,
	}
	b.steps[step.ID] = step
	wf.StepIDsByName[stepName] = step.ID

	return store.StepInfo{StepID: step.ID, Status: step.Status, IsNew: true}, nil
}

func (b *Backend) CompleteStep(ctx context.Context, stepID, workerID string, output []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	step, ok := b.steps[stepID]
	if !ok || step.Status != store.StatusRunning {
		return false, nil
	}
	if _, ok := b.owns(step.WorkflowID, workerID); !ok {
		return false, nil
	}

	now := time.Now()
	step.Status = store.StatusCompleted
	step.Output = output
	step.SleepUntil = nil
	step.CompletedAt = &now
	return true, nil
}

func (b *Backend) FailStep(ctx context.Context, stepID, workerID string, errMsg string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	step, ok := b.steps[stepID]
	if !ok || step.Status != store.StatusRunning {
		return false, nil
	}
	if _, ok := b.owns(step.WorkflowID, workerID); !ok {
		return false, nil
	}

	now := time.Now()
	step.Status = store.StatusFailed
	step.Error = errMsg
	step.SleepUntil = nil
	step.CompletedAt = &now
	return true, nil
}

func (b *Backend) GetWorkflow(ctx context.Context, workflowID string) (*store.Workflow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wf, ok := b.workflows[workflowID]
	if !ok {
		return nil, &conductorerrors.NotFoundError{Resource: "workflow", ID: workflowID}
	}
	cp := *wf
	return &cp, nil
}

func (b *Backend) ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []*store.Workflow
	for _, wf := range b.workflows {
		if filter.Name != "" && wf.Name != filter.Name {
			continue
		}
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		cp := *wf
		result = append(result, &cp)
	}

	if filter.Offset > 0 && filter.Offset < len(result) {
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (b *Backend) GetWorkflowSteps(ctx context.Context, workflowID string) ([]*store.Step, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []*store.Step
	for _, step := range b.steps {
		if step.WorkflowID == workflowID {
			cp := *step
			result = append(result, &cp)
		}
	}
	return result, nil
}

// SubscribePendingWorkflows returns a channel that receives a value
// whenever a startWorkflow, sleep-wake, or signal transition may have
// made a workflow matching workflowNames claimable. This is a true
// in-process broadcast, unlike the polling SQL backends.
func (b *Backend) SubscribePendingWorkflows(ctx context.Context, workflowNames []string) (<-chan struct{}, error) {
	sub := &subscription{names: workflowNames, ch: make(chan struct{}, 1)}

	b.subsMu.Lock()
	b.subs = append(b.subs, sub)
	b.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		b.subsMu.Lock()
		defer b.subsMu.Unlock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
	}()

	return sub.ch, nil
}

func (b *Backend) notify(workflowName string) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for _, sub := range b.subs {
		if !matchesNames(sub.names, workflowName) {
			continue
		}
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}
