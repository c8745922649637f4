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

package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	conductorerrors "github.com/tombee/flowkeep/pkg/errors"
	"github.com/tombee/flowkeep/transport/client"
)

func newClient(serverAddr, token *string) *client.Client {
	opts := []client.Option{}
	if *token != "" {
		opts = append(opts, client.WithToken(*token))
	}
	return client.New(*serverAddr, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStartCommand(serverAddr, token *string) *cobra.Command {
	var inputJSON string

	cmd := &cobra.Command{
		Use:   "start <workflow-name>",
		Short: "Start a new workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input any
			if inputJSON != "" {
				if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
					return conductorerrors.Wrap(err, "parse --input as JSON")
				}
			}

			c := newClient(serverAddr, token)
			id, err := c.StartWorkflow(cmd.Context(), args[0], input)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"workflow_id": id})
		},
	}

	cmd.Flags().StringVar(&inputJSON, "input", "", "Workflow input, as a JSON value")
	return cmd
}

func newSignalCommand(serverAddr, token *string) *cobra.Command {
	var payloadJSON string

	cmd := &cobra.Command{
		Use:   "signal <workflow-id> <signal-name>",
		Short: "Send a signal to a workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload any
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return conductorerrors.Wrap(err, "parse --payload as JSON")
				}
			}

			c := newClient(serverAddr, token)
			delivered, err := c.SignalWorkflow(cmd.Context(), args[0], args[1], payload)
			if err != nil {
				return err
			}
			return printJSON(map[string]bool{"delivered": delivered})
		},
	}

	cmd.Flags().StringVar(&payloadJSON, "payload", "", "Signal payload, as a JSON value")
	return cmd
}

func newGetCommand(serverAddr, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <workflow-id>",
		Short: "Fetch a workflow's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(serverAddr, token)
			wf, err := c.GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(wf)
		},
	}
}

func newListCommand(serverAddr, token *string) *cobra.Command {
	var (
		name   string
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(serverAddr, token)
			workflows, err := c.ListWorkflows(cmd.Context(), client.ListFilter{
				Name:   name,
				Status: status,
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}
			return printJSON(workflows)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Filter by workflow name")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, running, sleeping, waiting, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Result offset")
	return cmd
}

func newStepsCommand(serverAddr, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "steps <workflow-id>",
		Short: "List a workflow's recorded steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(serverAddr, token)
			steps, err := c.GetWorkflowSteps(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(steps)
		},
	}
}
