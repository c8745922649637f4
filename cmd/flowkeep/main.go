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

// Command flowkeep is the CLI client for a flowkeepd daemon: it starts
// and signals workflows and inspects their status and step history.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, injected via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		serverAddr string
		token      string
	)

	root := &cobra.Command{
		Use:   "flowkeep",
		Short: "Client for the flowkeep durable workflow orchestrator",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	}

	root.PersistentFlags().StringVar(&serverAddr, "server", envOrDefault("FLOWKEEP_SERVER", "http://localhost:8080"), "flowkeepd base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("FLOWKEEP_TOKEN"), "bearer token sent with every request (the commands here call only public endpoints, which do not require one)")

	root.AddCommand(
		newStartCommand(&serverAddr, &token),
		newSignalCommand(&serverAddr, &token),
		newGetCommand(&serverAddr, &token),
		newListCommand(&serverAddr, &token),
		newStepsCommand(&serverAddr, &token),
	)

	return root
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
