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
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	conductorerrors "github.com/tombee/flowkeep/pkg/errors"

	"github.com/tombee/flowkeep/internal/log"
	"github.com/tombee/flowkeep/store"
)

// Context is passed to a registered workflow function on every replay.
// It intercepts Step, Sleep, SleepUntil, and WaitForSignal, memoizing
// each against the store so a replaying workflow observes exactly the
// outputs it observed before.
//
// A Context is not safe for use by more than one goroutine: within one
// workflow execution, steps execute strictly in the order the workflow
// function calls them (spec.md section 5).
type Context struct {
	ctx        context.Context
	store      Store
	workflowID string
	workerID   string
	logger     *slog.Logger

	// claimLost is set by the heartbeater when a heartbeat reports the
	// lease has moved. Store-mutating helpers check it before writing.
	claimLost *atomic.Bool

	// executingStepName is non-empty while a ctx.Step activity is
	// running. Sleep/SleepUntil/WaitForSignal reject nesting inside a
	// step, because the outer step's memoization would mask the inner
	// marker's state across replays.
	executingStepName string
}

// Context returns the underlying context.Context, for activities that
// need cancellation or deadlines.
func (c *Context) Context() context.Context {
	return c.ctx
}

// ClaimLost reports whether the worker's lease on this workflow has
// been observed to move to another worker.
func (c *Context) ClaimLost() bool {
	return c.claimLost.Load()
}

// Step runs fn at most once per replay-stable name: on a fresh call it
// executes fn and durably records the result; on replay of a completed
// step it returns the stored output without running fn again.
func Step[T any](c *Context, name string, fn func() (T, error)) (T, error) {
	var zero T

	if c.executingStepName != "" {
		err := &NestingError{Operation: "step", StepName: c.executingStepName}
		return zero, err
	}
	if name == "" {
		return zero, &MarkerError{Operation: "step", Reason: "name must not be empty"}
	}

	info, err := c.store.GetOrCreateStep(c.ctx, c.workflowID, name, c.workerID)
	if err != nil {
		return zero, conductorerrors.Wrapf(err, "get or create step %q", name)
	}

	if !info.IsNew {
		switch info.Status {
		case store.StatusCompleted:
			var out T
			if err := unmarshalOutput(info.Output, &out); err != nil {
				return zero, conductorerrors.Wrapf(err, "decode stored output for step %q", name)
			}
			return out, nil
		case store.StatusFailed:
			return zero, conductorerrors.New(info.Error)
		default:
			// Running but not new: another replay is mid-flight, or a
			// prior attempt crashed before completing. Re-execute; the
			// completion write is ownership-guarded so only the
			// attempt that still holds the lease wins.
		}
	}

	stepLogger := log.WithStepContext(c.logger, c.workflowID, info.StepID)

	c.executingStepName = name
	result, runErr := func() (T, error) {
		defer func() { c.executingStepName = "" }()
		return fn()
	}()

	if c.claimLost.Load() {
		return zero, &ClaimLostError{WorkflowID: c.workflowID}
	}

	if runErr != nil {
		if _, ferr := c.store.FailStep(c.ctx, info.StepID, c.workerID, runErr.Error()); ferr != nil {
			log.Trace(stepLogger, "best-effort failStep also failed", log.Error(ferr))
		}
		return zero, runErr
	}

	output, err := json.Marshal(result)
	if err != nil {
		return zero, conductorerrors.Wrapf(err, "marshal output for step %q", name)
	}
	if _, err := c.store.CompleteStep(c.ctx, info.StepID, c.workerID, output); err != nil {
		return zero, conductorerrors.Wrapf(err, "complete step %q", name)
	}

	log.Trace(stepLogger, "step completed", log.String("name", name))
	return result, nil
}

// Sleep suspends the workflow for d, identified by a replay-stable
// marker. It is shorthand for SleepUntil(c, marker, time.Now().Add(d)).
func Sleep(c *Context, marker string, d time.Duration) error {
	return SleepUntil(c, marker, time.Now().Add(d))
}

// SleepUntil suspends the workflow until at, identified by a
// replay-stable marker. On first entry, if at has already passed, it
// logs, records the marker step as completed, and returns immediately
// without suspending. Otherwise it
// schedules a durable sleep and returns *SleepError to unwind the
// workflow function; the runner's top level treats this as a clean
// suspension, not a failure.
func SleepUntil(c *Context, marker string, at time.Time) error {
	if c.executingStepName != "" {
		return &NestingError{Operation: "sleep", StepName: c.executingStepName}
	}
	if marker == "" {
		return &MarkerError{Operation: "sleep", Reason: "marker must not be empty"}
	}

	stepName := store.SleepStepPrefix + marker
	now := time.Now()

	info, err := c.store.GetOrCreateStep(c.ctx, c.workflowID, stepName, c.workerID)
	if err != nil {
		return conductorerrors.Wrapf(err, "get or create sleep marker %q", marker)
	}

	if !info.IsNew {
		switch info.Status {
		case store.StatusCompleted:
			return nil
		case store.StatusFailed:
			return conductorerrors.New(info.Error)
		}
	}

	if info.IsNew && !at.After(now) {
		c.logger.Warn("sleep wake time already in the past on first entry, continuing without transitioning",
			log.String("marker", marker))
		if _, err := c.store.CompleteStep(c.ctx, info.StepID, c.workerID, nil); err != nil {
			return conductorerrors.Wrapf(err, "complete past-due sleep marker %q", marker)
		}
		return nil
	}

	wakeTime := at
	if info.SleepUntil != nil {
		wakeTime = *info.SleepUntil // stable across replays
	}

	if !wakeTime.After(now) {
		output, _ := json.Marshal(map[string]time.Time{"sleepUntil": wakeTime})
		if _, err := c.store.CompleteStep(c.ctx, info.StepID, c.workerID, output); err != nil {
			return conductorerrors.Wrapf(err, "complete due sleep marker %q", marker)
		}
		return nil
	}

	ok, err := c.store.ScheduleSleep(c.ctx, c.workflowID, info.StepID, c.workerID, wakeTime)
	if err != nil {
		return conductorerrors.Wrapf(err, "schedule sleep %q", marker)
	}
	if !ok {
		return &ClaimLostError{WorkflowID: c.workflowID}
	}

	return &SleepError{WakeTime: wakeTime}
}

// WaitForSignal suspends the workflow until signalName arrives,
// identified by a replay-stable marker. If the signal already arrived
// (before this call, or queued from an earlier replay), it returns the
// payload immediately. Otherwise it registers the wait and returns
// *WaitError to unwind the workflow function.
func WaitForSignal[T any](c *Context, marker, signalName string) (T, error) {
	var zero T

	if c.executingStepName != "" {
		return zero, &NestingError{Operation: "waitForSignal", StepName: c.executingStepName}
	}
	if marker == "" {
		return zero, &MarkerError{Operation: "waitForSignal", Reason: "marker must not be empty"}
	}
	if signalName == "" {
		return zero, &MarkerError{Operation: "waitForSignal", Reason: "signalName must not be empty"}
	}

	stepName := store.SignalStepPrefix + signalName + ":" + marker

	info, err := c.store.GetOrCreateStep(c.ctx, c.workflowID, stepName, c.workerID)
	if err != nil {
		return zero, conductorerrors.Wrapf(err, "get or create signal marker %q", marker)
	}

	if !info.IsNew {
		switch info.Status {
		case store.StatusCompleted:
			var out T
			if err := unmarshalOutput(info.Output, &out); err != nil {
				return zero, conductorerrors.Wrapf(err, "decode signal payload for %q", marker)
			}
			return out, nil
		case store.StatusFailed:
			return zero, conductorerrors.New(info.Error)
		}
	}

	result, err := c.store.WaitForSignal(c.ctx, c.workflowID, info.StepID, c.workerID, signalName)
	if err != nil {
		return zero, conductorerrors.Wrapf(err, "wait for signal %q", signalName)
	}

	if !result.Signaled {
		return zero, &WaitError{SignalName: signalName, Marker: marker}
	}

	if _, err := c.store.CompleteStep(c.ctx, info.StepID, c.workerID, result.Payload); err != nil {
		return zero, conductorerrors.Wrapf(err, "complete signal marker %q", marker)
	}

	var out T
	if err := unmarshalOutput(result.Payload, &out); err != nil {
		return zero, conductorerrors.Wrapf(err, "decode signal payload for %q", marker)
	}
	return out, nil
}

func unmarshalOutput[T any](raw []byte, out *T) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
