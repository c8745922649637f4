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
	"net/url"
	"strconv"

	conductorerrors "github.com/tombee/flowkeep/pkg/errors"
)

// StartWorkflow starts a new workflow of the given name, returning its id.
func (c *Client) StartWorkflow(ctx context.Context, name string, input any) (string, error) {
	var resp struct {
		WorkflowID string `json:"workflow_id"`
	}
	err := c.do(ctx, "POST", "/v1/workflows", map[string]any{
		"name":  name,
		"input": input,
	}, &resp)
	if err != nil {
		return "", conductorerrors.Wrap(err, "start workflow")
	}
	return resp.WorkflowID, nil
}

// SignalWorkflow delivers a signal to a workflow. It returns true when
// the workflow exists, whether a waiting step consumed the signal or it
// was queued for a later wait, and false when the workflow does not exist.
func (c *Client) SignalWorkflow(ctx context.Context, workflowID, signalName string, payload any) (bool, error) {
	var resp struct {
		Delivered bool `json:"delivered"`
	}
	err := c.do(ctx, "POST", "/v1/workflows/"+url.PathEscape(workflowID)+"/signal", map[string]any{
		"signal_name": signalName,
		"payload":     payload,
	}, &resp)
	if err != nil {
		return false, conductorerrors.Wrap(err, "signal workflow")
	}
	return resp.Delivered, nil
}

// GetWorkflow fetches a single workflow by id.
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error) {
	var wf Workflow
	if err := c.do(ctx, "GET", "/v1/workflows/"+url.PathEscape(workflowID), nil, &wf); err != nil {
		return nil, conductorerrors.Wrap(err, "get workflow")
	}
	return &wf, nil
}

// GetWorkflowSteps fetches all steps for a workflow.
func (c *Client) GetWorkflowSteps(ctx context.Context, workflowID string) ([]*Step, error) {
	var steps []*Step
	path := "/v1/workflows/" + url.PathEscape(workflowID) + "/steps"
	if err := c.do(ctx, "GET", path, nil, &steps); err != nil {
		return nil, conductorerrors.Wrap(err, "get workflow steps")
	}
	return steps, nil
}

// ListWorkflows lists workflows matching filter.
func (c *Client) ListWorkflows(ctx context.Context, filter ListFilter) ([]*Workflow, error) {
	q := url.Values{}
	if filter.Name != "" {
		q.Set("name", filter.Name)
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}

	var workflows []*Workflow
	path := "/v1/workflows"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	if err := c.do(ctx, "GET", path, nil, &workflows); err != nil {
		return nil, conductorerrors.Wrap(err, "list workflows")
	}
	return workflows, nil
}

