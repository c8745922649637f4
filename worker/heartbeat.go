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
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tombee/flowkeep/internal/log"
)

// heartbeater renews a single claim's lease on a fixed interval until
// ctx is cancelled. It sets lost once the store reports the claim has
// moved; every subsequent tick is then a no-op, since the runner stops
// writing as soon as it observes lost.
type heartbeater struct {
	store      Store
	workflowID string
	workerID   string
	interval   time.Duration
	logger     *slog.Logger
	lost       *atomic.Bool
}

func newHeartbeater(s Store, workflowID, workerID string, interval time.Duration, logger *slog.Logger) *heartbeater {
	return &heartbeater{
		store:      s,
		workflowID: workflowID,
		workerID:   workerID,
		interval:   interval,
		logger:     logger,
		lost:       &atomic.Bool{},
	}
}

// run heartbeats until ctx is done. Intended to be launched in its own
// goroutine; stop it by cancelling ctx.
func (h *heartbeater) run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.lost.Load() {
				continue
			}
			ok, err := h.store.Heartbeat(ctx, h.workflowID, h.workerID)
			if err != nil {
				// Transient transport/store outage: retried implicitly
				// on the next tick, per spec.md section 7.
				h.logger.Warn("heartbeat request failed, will retry",
					log.String(log.WorkflowIDKey, h.workflowID), log.Error(err))
				continue
			}
			if !ok {
				h.lost.Store(true)
				h.logger.Warn("heartbeat reports claim lost",
					log.String(log.WorkflowIDKey, h.workflowID),
					log.String(log.WorkerIDKey, h.workerID))
			}
		}
	}
}
