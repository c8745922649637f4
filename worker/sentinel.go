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

import "time"

// SleepError is thrown (returned up through ctx.Sleep/ctx.SleepUntil)
// to unwind the workflow function cleanly when a sleep has not yet
// completed. It is not a failure: the workflow is already persisted as
// sleeping when this surfaces, and the runner's top level discards it
// without ever reaching a user error handler. See spec.md section 9
// for why this unwind is modeled as a sentinel rather than a normal
// error: the workflow function must be re-entered from the top on the
// next claim, and nothing above ctx.Sleep may observe this as failure.
type SleepError struct {
	// WakeTime is when the workflow becomes claimable again.
	WakeTime time.Time
}

func (e *SleepError) Error() string {
	return "workflow suspended until " + e.WakeTime.Format(time.RFC3339)
}

// WaitError is the signal-wait analogue of SleepError: thrown to
// unwind the workflow function when ctx.WaitForSignal has registered
// the workflow as waiting and no matching signal has arrived yet.
type WaitError struct {
	SignalName string
	Marker     string
}

func (e *WaitError) Error() string {
	return "workflow suspended awaiting signal " + e.SignalName + " (marker " + e.Marker + ")"
}

// isSuspend reports whether err is one of the non-error unwind
// sentinels that the runner must swallow rather than treat as a
// workflow failure.
func isSuspend(err error) bool {
	switch err.(type) {
	case *SleepError, *WaitError:
		return true
	default:
		return false
	}
}
