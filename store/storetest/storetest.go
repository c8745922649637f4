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

// Package storetest is a black-box contract-test suite run against
// every store.Store implementation (memory, sqlite, postgres). A
// backend passes by exhibiting the same externally-observable behavior
// for every operation in the orchestrator store, independent of its
// storage technology.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flowkeep/store"
)

// Run exercises the full store.Store contract, calling newStore() to
// obtain a fresh, empty backend for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("StartWorkflowThenGet", func(t *testing.T) { testStartWorkflowThenGet(t, newStore(t)) })
	t.Run("ClaimTransitionsPendingToRunning", func(t *testing.T) { testClaimTransitionsPendingToRunning(t, newStore(t)) })
	t.Run("ClaimIsFIFO", func(t *testing.T) { testClaimIsFIFO(t, newStore(t)) })
	t.Run("ClaimReturnsNilWhenEmpty", func(t *testing.T) { testClaimReturnsNilWhenEmpty(t, newStore(t)) })
	t.Run("ClaimFiltersByName", func(t *testing.T) { testClaimFiltersByName(t, newStore(t)) })
	t.Run("ClaimWildcardMatchesAnyName", func(t *testing.T) { testClaimWildcardMatchesAnyName(t, newStore(t)) })
	t.Run("HeartbeatExtendsLease", func(t *testing.T) { testHeartbeatExtendsLease(t, newStore(t)) })
	t.Run("HeartbeatFailsForWrongWorker", func(t *testing.T) { testHeartbeatFailsForWrongWorker(t, newStore(t)) })
	t.Run("CompleteWorkflowIsOwnershipGuarded", func(t *testing.T) { testCompleteWorkflowIsOwnershipGuarded(t, newStore(t)) })
	t.Run("FailWorkflowIsOwnershipGuarded", func(t *testing.T) { testFailWorkflowIsOwnershipGuarded(t, newStore(t)) })
	t.Run("GetOrCreateStepIsIdempotent", func(t *testing.T) { testGetOrCreateStepIsIdempotent(t, newStore(t)) })
	t.Run("GetOrCreateStepRequiresOwnership", func(t *testing.T) { testGetOrCreateStepRequiresOwnership(t, newStore(t)) })
	t.Run("CompletedStepSurvivesReplay", func(t *testing.T) { testCompletedStepSurvivesReplay(t, newStore(t)) })
	t.Run("ExpiredLeaseIsReclaimable", func(t *testing.T) { testExpiredLeaseIsReclaimable(t, newStore(t)) })
	t.Run("DueSleeperBeatsExpiredLease", func(t *testing.T) { testDueSleeperBeatsExpiredLease(t, newStore(t)) })
	t.Run("ScheduleSleepIsSingleShotPerMarker", func(t *testing.T) { testScheduleSleepIsSingleShotPerMarker(t, newStore(t)) })
	t.Run("SignalBeforeWaitIsConsumedImmediately", func(t *testing.T) { testSignalBeforeWaitIsConsumedImmediately(t, newStore(t)) })
	t.Run("WaitThenSignalCompletesMarkerStep", func(t *testing.T) { testWaitThenSignalCompletesMarkerStep(t, newStore(t)) })
	t.Run("ListWorkflowsFiltersByStatus", func(t *testing.T) { testListWorkflowsFiltersByStatus(t, newStore(t)) })
}

func testStartWorkflowThenGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.StartWorkflow(ctx, "greet", []byte(`{"name":"W"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	wf, err := s.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, wf.Status)
	assert.Equal(t, "greet", wf.Name)
	assert.JSONEq(t, `{"name":"W"}`, string(wf.Input))
}

func testClaimTransitionsPendingToRunning(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.StartWorkflow(ctx, "greet", []byte(`{}`))
	require.NoError(t, err)

	claimed, err := s.Claim(ctx, []string{"greet"}, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, id, claimed.WorkflowID)

	wf, err := s.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, wf.Status)
	assert.Equal(t, "worker-1", wf.ClaimedBy)
	require.NotNil(t, wf.LeaseExpiresAt)
}

func testClaimIsFIFO(t *testing.T, s store.Store) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 4; i++ {
		id, err := s.StartWorkflow(ctx, "greet", []byte(`{}`))
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(time.Millisecond)
	}

	for _, want := range ids {
		claimed, err := s.Claim(ctx, []string{"greet"}, "worker-1")
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, want, claimed.WorkflowID)
		_, err = s.CompleteWorkflow(ctx, claimed.WorkflowID, "worker-1", nil)
		require.NoError(t, err)
	}
}

func testClaimReturnsNilWhenEmpty(t *testing.T, s store.Store) {
	ctx := context.Background()
	claimed, err := s.Claim(ctx, []string{"nope"}, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func testClaimFiltersByName(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.StartWorkflow(ctx, "order", []byte(`{}`))
	require.NoError(t, err)

	claimed, err := s.Claim(ctx, []string{"greet"}, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, claimed)

	claimed, err = s.Claim(ctx, []string{"order"}, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
}

func testClaimWildcardMatchesAnyName(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.StartWorkflow(ctx, "anything", []byte(`{}`))
	require.NoError(t, err)

	claimed, err := s.Claim(ctx, store.WildcardWorkflowNames, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "anything", claimed.Name)
}

func testHeartbeatExtendsLease(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.StartWorkflow(ctx, "greet", []byte(`{}`))
	require.NoError(t, err)
	_, err = s.Claim(ctx, []string{"greet"}, "worker-1")
	require.NoError(t, err)

	before, err := s.GetWorkflow(ctx, id)
	require.NoError(t, err)

	ok, err := s.Heartbeat(ctx, id, "worker-1")
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := s.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.True(t, !after.LeaseExpiresAt.Before(*before.LeaseExpiresAt))
}

func testHeartbeatFailsForWrongWorker(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.StartWorkflow(ctx, "greet", []byte(`{}`))
	require.NoError(t, err)
	_, err = s.Claim(ctx, []string{"greet"}, "worker-1")
	require.NoError(t, err)

	ok, err := s.Heartbeat(ctx, id, "worker-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testCompleteWorkflowIsOwnershipGuarded(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.StartWorkflow(ctx, "greet", []byte(`{}`))
	require.NoError(t, err)
	_, err = s.Claim(ctx, []string{"greet"}, "worker-1")
	require.NoError(t, err)

	ok, err := s.CompleteWorkflow(ctx, id, "worker-2", []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompleteWorkflow(ctx, id, "worker-1", []byte(`{"greeting":"hi"}`))
	require.NoError(t, err)
	assert.True(t, ok)

	wf, err := s.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, wf.Status)
	assert.JSONEq(t, `{"greeting":"hi"}`, string(wf.Output))
}

func testFailWorkflowIsOwnershipGuarded(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.StartWorkflow(ctx, "greet", []byte(`{}`))
	require.NoError(t, err)
	_, err = s.Claim(ctx, []string{"greet"}, "worker-1")
	require.NoError(t, err)

	ok, err := s.FailWorkflow(ctx, id, "worker-1", "boom")
	require.NoError(t, err)
	assert.True(t, ok)

	wf, err := s.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, wf.Status)
	assert.Equal(t, "boom", wf.Error)
}

func testGetOrCreateStepIsIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.StartWorkflow(ctx, "greet", []byte(`{}`))
	require.NoError(t, err)
	_, err = s.Claim(ctx, []string{"greet"}, "worker-1")
	require.NoError(t, err)

	first, err := s.GetOrCreateStep(ctx, id, "hi", "worker-1")
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	second, err := s.GetOrCreateStep(ctx, id, "hi", "worker-1")
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.StepID, second.StepID)
}

func testGetOrCreateStepRequiresOwnership(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.StartWorkflow(ctx, "greet", []byte(`{}`))
	require.NoError(t, err)

	_, err = s.GetOrCreateStep(ctx, id, "hi", "worker-1")
	assert.Error(t, err)
}

func testCompletedStepSurvivesReplay(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.StartWorkflow(ctx, "greet", []byte(`{}`))
	require.NoError(t, err)
	_, err = s.Claim(ctx, []string{"greet"}, "worker-1")
	require.NoError(t, err)

	info, err := s.GetOrCreateStep(ctx, id, "hi", "worker-1")
	require.NoError(t, err)
	ok, err := s.CompleteStep(ctx, info.StepID, "worker-1", []byte(`"Hello, W!"`))
	require.NoError(t, err)
	require.True(t, ok)

	replayed, err := s.GetOrCreateStep(ctx, id, "hi", "worker-1")
	require.NoError(t, err)
	assert.False(t, replayed.IsNew)
	assert.Equal(t, store.StatusCompleted, replayed.Status)
	assert.JSONEq(t, `"Hello, W!"`, string(replayed.Output))
}

func testExpiredLeaseIsReclaimable(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.StartWorkflow(ctx, "greet", []byte(`{}`))
	require.NoError(t, err)
	_, err = s.Claim(ctx, []string{"greet"}, "worker-1")
	require.NoError(t, err)

	expireLease(t, s, id)

	claimed, err := s.Claim(ctx, []string{"greet"}, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, id, claimed.WorkflowID)

	wf, err := s.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "worker-2", wf.ClaimedBy)
	assert.Equal(t, store.StatusRunning, wf.Status)
}

func testDueSleeperBeatsExpiredLease(t *testing.T, s store.Store) {
	ctx := context.Background()
	expiredID, err := s.StartWorkflow(ctx, "greet", []byte(`{}`))
	require.NoError(t, err)
	_, err = s.Claim(ctx, []string{"greet"}, "worker-1")
	require.NoError(t, err)
	expireLease(t, s, expiredID)

	sleeperID, err := s.StartWorkflow(ctx, "greet", []byte(`{}`))
	require.NoError(t, err)
	claimed, err := s.Claim(ctx, []string{"greet"}, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, sleeperID, claimed.WorkflowID)

	info, err := s.GetOrCreateStep(ctx, sleeperID, "__sleep:d", "worker-2")
	require.NoError(t, err)
	ok, err := s.ScheduleSleep(ctx, sleeperID, info.StepID, "worker-2", time.Now().Add(-time.Millisecond))
	require.NoError(t, err)
	// Wake time already in the past relative to "now" inside ScheduleSleep
	// is rejected by contract; use a short future wake and then let it elapse.
	_ = ok

	info2, err := s.GetOrCreateStep(ctx, sleeperID, "__sleep:d2", "worker-2")
	require.NoError(t, err)
	ok, err = s.ScheduleSleep(ctx, sleeperID, info2.StepID, "worker-2", time.Now().Add(10*time.Millisecond))
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(15 * time.Millisecond)

	claimed, err = s.Claim(ctx, []string{"greet"}, "worker-3")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, sleeperID, claimed.WorkflowID, "due sleeper must be claimed before the expired-lease row")
}

func testScheduleSleepIsSingleShotPerMarker(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.StartWorkflow(ctx, "greet", []byte(`{}`))
	require.NoError(t, err)
	_, err = s.Claim(ctx, []string{"greet"}, "worker-1")
	require.NoError(t, err)

	info, err := s.GetOrCreateStep(ctx, id, "__sleep:d", "worker-1")
	require.NoError(t, err)
	wake := time.Now().Add(50 * time.Millisecond)
	ok, err := s.ScheduleSleep(ctx, id, info.StepID, "worker-1", wake)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	claimed, err := s.Claim(ctx, []string{"greet"}, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	replayed, err := s.GetOrCreateStep(ctx, id, "__sleep:d", "worker-2")
	require.NoError(t, err)
	assert.False(t, replayed.IsNew)
	require.NotNil(t, replayed.SleepUntil)
	assert.True(t, replayed.SleepUntil.Equal(wake), "sleep marker's wake time must be stable across replays")
}

func testSignalBeforeWaitIsConsumedImmediately(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.StartWorkflow(ctx, "approval", []byte(`{}`))
	require.NoError(t, err)

	ok, err := s.SignalWorkflow(ctx, id, "approved", []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.True(t, ok)

	claimed, err := s.Claim(ctx, []string{"approval"}, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	info, err := s.GetOrCreateStep(ctx, id, "__signal:approved:d", "worker-1")
	require.NoError(t, err)
	require.True(t, info.IsNew)

	result, err := s.WaitForSignal(ctx, id, info.StepID, "worker-1", "approved")
	require.NoError(t, err)
	assert.True(t, result.Signaled)
	assert.JSONEq(t, `{"ok":true}`, string(result.Payload))

	wf, err := s.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, wf.Status, "consuming a pre-arrived signal must not transition to waiting")
}

func testWaitThenSignalCompletesMarkerStep(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.StartWorkflow(ctx, "approval", []byte(`{}`))
	require.NoError(t, err)
	_, err = s.Claim(ctx, []string{"approval"}, "worker-1")
	require.NoError(t, err)

	info, err := s.GetOrCreateStep(ctx, id, "__signal:approved:d", "worker-1")
	require.NoError(t, err)

	result, err := s.WaitForSignal(ctx, id, info.StepID, "worker-1", "approved")
	require.NoError(t, err)
	assert.False(t, result.Signaled)

	wf, err := s.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusWaiting, wf.Status)

	ok, err := s.SignalWorkflow(ctx, id, "approved", []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.True(t, ok)

	wf, err = s.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, wf.Status)

	claimed, err := s.Claim(ctx, []string{"approval"}, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	replayed, err := s.GetOrCreateStep(ctx, id, "__signal:approved:d", "worker-2")
	require.NoError(t, err)
	assert.False(t, replayed.IsNew)
	assert.Equal(t, store.StatusCompleted, replayed.Status)
	assert.JSONEq(t, `{"ok":true}`, string(replayed.Output))
}

func testListWorkflowsFiltersByStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.StartWorkflow(ctx, "greet", []byte(`{}`))
	require.NoError(t, err)
	id2, err := s.StartWorkflow(ctx, "greet", []byte(`{}`))
	require.NoError(t, err)
	_, err = s.Claim(ctx, []string{"greet"}, "worker-1")
	require.NoError(t, err)

	pending, err := s.ListWorkflows(ctx, store.WorkflowFilter{Status: store.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	running, err := s.ListWorkflows(ctx, store.WorkflowFilter{Status: store.StatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, id2, running[0].ID)
}

// expireLease forces workflowID's lease into the past so the next Claim
// sees it as reclaimable, without requiring the contract suite to sleep
// past the real 30s claim timeout. Backends expose this as an exported
// ExpireLeaseForTest method, found here by type assertion.
func expireLease(t *testing.T, s store.Store, workflowID string) {
	t.Helper()
	hook, ok := s.(interface {
		ExpireLeaseForTest(ctx context.Context, workflowID string) error
	})
	require.True(t, ok, "backend under test must implement ExpireLeaseForTest for storetest.Run")
	require.NoError(t, hook.ExpireLeaseForTest(context.Background(), workflowID))
}
