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

import "fmt"

// NestingError is a contract violation: ctx.Step/ctx.Sleep/
// ctx.SleepUntil/ctx.WaitForSignal was called while a ctx.Step activity was
// executing. Such nesting would not be replay-safe, because the outer
// step's memoization would mask the inner marker's state, so it fails
// the current step and the workflow rather than being silently
// permitted.
type NestingError struct {
	Operation string // "step", "sleep" or "waitForSignal"
	StepName  string // the enclosing ctx.Step name
}

func (e *NestingError) Error() string {
	return fmt.Sprintf("ctx.%s cannot be called inside ctx.step (currently executing step %q)", e.Operation, e.StepName)
}

// MarkerError is a contract violation: a required replay-stable marker
// was missing or empty.
type MarkerError struct {
	Operation string
	Reason    string
}

func (e *MarkerError) Error() string {
	return fmt.Sprintf("ctx.%s: %s", e.Operation, e.Reason)
}

// ClaimLostError indicates a guarded store mutation reported that the
// calling worker no longer owns the workflow's lease. The runner
// treats this as authoritative and halts all further writes for the
// run, per spec.md section 4.4.
type ClaimLostError struct {
	WorkflowID string
}

func (e *ClaimLostError) Error() string {
	return fmt.Sprintf("claim lost for workflow %s", e.WorkflowID)
}
