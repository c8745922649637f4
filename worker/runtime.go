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

	"github.com/tombee/flowkeep/internal/log"
	"github.com/tombee/flowkeep/store"
)

// runClaim executes one claimed workflow end to end: it is the replay
// engine described in spec.md section 4.3. The workflow function is
// re-entered from the top; everything inside ctx.Step/ctx.Sleep*/
// ctx.WaitForSignal is memoized, so a replay only does new work past
// the point the prior attempt reached.
func (w *Worker) runClaim(ctx context.Context, claimed *store.ClaimedWorkflow) {
	logger := log.WithWorkflowContext(w.logger, claimed.WorkflowID, claimed.Name)

	fn, ok := w.registry[claimed.Name]
	if !ok {
		logger.Error("no workflow registered for this name, dropping claim (lease will expire)",
			log.String("name", claimed.Name))
		return
	}

	hbCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()

	hb := newHeartbeater(w.store, claimed.WorkflowID, w.workerID, w.heartbeatInterval, logger)
	go hb.run(hbCtx)

	wfCtx := &Context{
		ctx:        ctx,
		store:      w.store,
		workflowID: claimed.WorkflowID,
		workerID:   w.workerID,
		logger:     logger,
		claimLost:  hb.lost,
	}

	logger.Debug("replaying workflow function")
	output, err := fn(wfCtx, claimed.Input)

	if err != nil {
		if isSuspend(err) {
			logger.Debug("workflow suspended", log.Attr("reason", err.Error()))
			return
		}
		if hb.lost.Load() {
			logger.Debug("claim lost during execution, suppressing write")
			return
		}
		logger.Info("workflow function failed", log.Error(err))
		if _, cerr := w.store.FailWorkflow(ctx, claimed.WorkflowID, w.workerID, err.Error()); cerr != nil {
			logger.Warn("failed to record workflow failure", log.Error(cerr))
		}
		return
	}

	if hb.lost.Load() {
		logger.Debug("claim lost before completion could be recorded, suppressing write")
		return
	}

	if _, cerr := w.store.CompleteWorkflow(ctx, claimed.WorkflowID, w.workerID, output); cerr != nil {
		logger.Warn("failed to record workflow completion", log.Error(cerr))
		return
	}
	logger.Info("workflow completed")
}

// DefaultPollInterval is the claim loop's timer fallback cadence when
// no reactive pending-work signal fires sooner.
const DefaultPollInterval = time.Second
