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
	"context"
	"encoding/json"
	"net/url"
	"time"

	conductorerrors "github.com/tombee/flowkeep/pkg/errors"
)

// Claim asks flowkeepd for the next claimable workflow matching names
// (or store.WildcardWorkflowNames for every registered name).
func (c *Client) Claim(ctx context.Context, names []string, workerID string) (*ClaimResult, error) {
	var resp struct {
		Claimed    bool            `json:"claimed"`
		WorkflowID string          `json:"workflow_id"`
		Name       string          `json:"name"`
		Input      json.RawMessage `json:"input"`
	}
	err := c.do(ctx, "POST", "/v1/worker/claim", map[string]any{
		"workflow_names": names,
		"worker_id":      workerID,
	}, &resp)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "claim")
	}
	return &ClaimResult{
		Claimed:    resp.Claimed,
		WorkflowID: resp.WorkflowID,
		Name:       resp.Name,
		Input:      resp.Input,
	}, nil
}

// Heartbeat renews the lease on workflowID. The return value is
// authoritative: false means the claim has moved to another worker.
func (c *Client) Heartbeat(ctx context.Context, workflowID, workerID string) (bool, error) {
	return c.postOK(ctx, "/v1/worker/workflows/"+url.PathEscape(workflowID)+"/heartbeat", map[string]any{
		"worker_id": workerID,
	})
}

// CompleteWorkflow transitions workflowID to completed.
func (c *Client) CompleteWorkflow(ctx context.Context, workflowID, workerID string, output any) (bool, error) {
	return c.postOK(ctx, "/v1/worker/workflows/"+url.PathEscape(workflowID)+"/complete", map[string]any{
		"worker_id": workerID,
		"output":    output,
	})
}

// FailWorkflow transitions workflowID to failed.
func (c *Client) FailWorkflow(ctx context.Context, workflowID, workerID, errMsg string) (bool, error) {
	return c.postOK(ctx, "/v1/worker/workflows/"+url.PathEscape(workflowID)+"/fail", map[string]any{
		"worker_id": workerID,
		"error":     errMsg,
	})
}

// SleepWorkflow transitions workflowID directly to sleeping. Kept for
// callers that predate step-marker sleeps; ScheduleSleep is preferred.
func (c *Client) SleepWorkflow(ctx context.Context, workflowID, workerID string, sleepUntil time.Time) (bool, error) {
	return c.postOK(ctx, "/v1/worker/workflows/"+url.PathEscape(workflowID)+"/sleep", map[string]any{
		"worker_id":   workerID,
		"sleep_until": sleepUntil,
	})
}

// GetOrCreateStep is the linchpin of step memoization: it returns the
// existing step for stepName if one was already created, else creates
// a new running step.
func (c *Client) GetOrCreateStep(ctx context.Context, workflowID, stepName, workerID string) (StepInfo, error) {
	var resp struct {
		StepID     string     `json:"step_id"`
		Status     string     `json:"status"`
		Output     json.RawMessage `json:"output"`
		Error      string          `json:"error"`
		SleepUntil *time.Time      `json:"sleep_until"`
		IsNew      bool            `json:"is_new"`
	}
	err := c.do(ctx, "POST", "/v1/worker/workflows/"+url.PathEscape(workflowID)+"/steps", map[string]any{
		"worker_id": workerID,
		"name":      stepName,
	}, &resp)
	if err != nil {
		return StepInfo{}, conductorerrors.Wrap(err, "get or create step")
	}
	return StepInfo{
		StepID:     resp.StepID,
		Status:     resp.Status,
		Output:     resp.Output,
		Error:      resp.Error,
		SleepUntil: resp.SleepUntil,
		IsNew:      resp.IsNew,
	}, nil
}

// ScheduleSleep atomically associates stepID with a sleeping transition.
func (c *Client) ScheduleSleep(ctx context.Context, workflowID, stepID, workerID string, sleepUntil time.Time) (bool, error) {
	path := "/v1/worker/workflows/" + url.PathEscape(workflowID) + "/steps/" + url.PathEscape(stepID) + "/schedule-sleep"
	return c.postOK(ctx, path, map[string]any{
		"worker_id":   workerID,
		"sleep_until": sleepUntil,
	})
}

// WaitForSignal registers stepID as the waiter for signalName, or
// immediately consumes a pending signal if one already arrived.
func (c *Client) WaitForSignal(ctx context.Context, workflowID, stepID, workerID, signalName string) (SignalResult, error) {
	var resp struct {
		Signaled bool            `json:"signaled"`
		Payload  json.RawMessage `json:"payload"`
	}
	path := "/v1/worker/workflows/" + url.PathEscape(workflowID) + "/steps/" + url.PathEscape(stepID) + "/wait-for-signal"
	err := c.do(ctx, "POST", path, map[string]any{
		"worker_id":   workerID,
		"signal_name": signalName,
	}, &resp)
	if err != nil {
		return SignalResult{}, conductorerrors.Wrap(err, "wait for signal")
	}
	return SignalResult{Signaled: resp.Signaled, Payload: resp.Payload}, nil
}

// CompleteStep marks stepID completed with output.
func (c *Client) CompleteStep(ctx context.Context, stepID, workerID string, output any) (bool, error) {
	return c.postOK(ctx, "/v1/worker/steps/"+url.PathEscape(stepID)+"/complete", map[string]any{
		"worker_id": workerID,
		"output":    output,
	})
}

// FailStep marks stepID failed with errMsg.
func (c *Client) FailStep(ctx context.Context, stepID, workerID, errMsg string) (bool, error) {
	return c.postOK(ctx, "/v1/worker/steps/"+url.PathEscape(stepID)+"/fail", map[string]any{
		"worker_id": workerID,
		"error":     errMsg,
	})
}

func (c *Client) postOK(ctx context.Context, path string, body any) (bool, error) {
	var resp struct {
		OK bool `json:"ok"`
	}
	if err := c.do(ctx, "POST", path, body, &resp); err != nil {
		return false, err
	}
	return resp.OK, nil
}
