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
	"sync"
	"time"

	"github.com/tombee/flowkeep/internal/log"
	"github.com/tombee/flowkeep/store"
)

// Config configures a Worker. Zero values fall back to the spec's
// stated defaults (spec.md section 6).
type Config struct {
	// WorkerID identifies this worker to the store. Required.
	WorkerID string

	// Workflows is the registry of definitions this worker can run.
	Workflows Registry

	// PollInterval is the fallback polling cadence. Default 1s
	// (DefaultPollInterval).
	PollInterval time.Duration

	// MaxConcurrentWorkflows caps in-flight executions. Default 1.
	MaxConcurrentWorkflows int

	// ClaimAllWorkflows, when true, passes store.WildcardWorkflowNames
	// to Claim instead of the registry's names.
	ClaimAllWorkflows bool

	// HeartbeatInterval is how often an in-flight claim's lease is
	// renewed. Default store.DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	Logger *slog.Logger
}

// Worker repeatedly claims workflows from a Store, enforces a maximum
// concurrency, and dispatches claimed items to the replay engine
// (spec.md section 4.2).
type Worker struct {
	store             Store
	registry          Registry
	workerID          string
	claimNames        []string
	maxConcurrent     int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	logger            *slog.Logger

	mu        sync.Mutex
	inFlight  int
	slotFreed chan struct{}
	wg        sync.WaitGroup
}

// New creates a Worker over store, configured by cfg.
func New(s Store, cfg Config) *Worker {
	maxConcurrent := cfg.MaxConcurrentWorkflows
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	heartbeatInterval := cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = store.DefaultHeartbeatInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.FromEnv())
	}

	names := store.WildcardWorkflowNames
	if !cfg.ClaimAllWorkflows {
		names = make([]string, 0, len(cfg.Workflows))
		for name := range cfg.Workflows {
			names = append(names, name)
		}
	}

	return &Worker{
		store:             s,
		registry:          cfg.Workflows,
		workerID:          cfg.WorkerID,
		claimNames:        names,
		maxConcurrent:     maxConcurrent,
		pollInterval:      pollInterval,
		heartbeatInterval: heartbeatInterval,
		logger:            log.WithWorkerContext(logger, cfg.WorkerID),
		slotFreed:         make(chan struct{}, 1),
	}
}

// Run executes the claim loop until ctx is cancelled, then waits for
// every in-flight execution to finish naturally (spec.md section 5:
// "in-flight executions are allowed to finish naturally"). It returns
// when the last one completes.
func (w *Worker) Run(ctx context.Context) {
	defer w.wg.Wait()

	for {
		if ctx.Err() != nil {
			return
		}

		w.fillSlots(ctx)

		if !w.waitForNextEvent(ctx) {
			return
		}
	}
}

// fillSlots claims work until either concurrency is saturated or claim
// returns nothing claimable.
func (w *Worker) fillSlots(ctx context.Context) {
	for w.availableSlots() > 0 {
		claimed, err := w.store.Claim(ctx, w.claimNames, w.workerID)
		if err != nil {
			w.logger.Warn("claim failed, will retry on next poll", log.Error(err))
			return
		}
		if claimed == nil {
			return
		}
		w.startExecution(ctx, claimed)
	}
}

func (w *Worker) availableSlots() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxConcurrent - w.inFlight
}

func (w *Worker) startExecution(ctx context.Context, claimed *store.ClaimedWorkflow) {
	w.mu.Lock()
	w.inFlight++
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.releaseSlot()
		w.runClaim(ctx, claimed)
	}()
}

func (w *Worker) releaseSlot() {
	w.mu.Lock()
	w.inFlight--
	w.mu.Unlock()

	select {
	case w.slotFreed <- struct{}{}:
	default:
	}
}

// waitForNextEvent blocks until a timer fires, a pending-work signal
// arrives, an execution slot frees up, or ctx is cancelled. It returns
// false only when ctx is done.
func (w *Worker) waitForNextEvent(ctx context.Context) bool {
	waitCtx, cancel := context.WithTimeout(ctx, w.pollInterval)
	defer cancel()

	pending, err := w.store.SubscribePendingWorkflows(waitCtx, w.claimNames)
	if err != nil {
		// The reactive subscription is strictly a latency optimization
		// (spec.md section 4.2); fall back to the timer alone.
		select {
		case <-ctx.Done():
			return false
		case <-waitCtx.Done():
			return true
		case <-w.slotFreed:
			return true
		}
	}

	select {
	case <-ctx.Done():
		return false
	case <-waitCtx.Done():
		return true
	case <-pending:
		return true
	case <-w.slotFreed:
		return true
	}
}
