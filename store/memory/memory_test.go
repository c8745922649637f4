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

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tombee/flowkeep/store"
	"github.com/tombee/flowkeep/store/memory"
	"github.com/tombee/flowkeep/store/storetest"
)

func TestMemoryBackendContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		t.Helper()
		b := memory.New()
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}

func TestMemoryBackendSubscribeWakesOnStart(t *testing.T) {
	b := memory.New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.SubscribePendingWorkflows(ctx, []string{"greet"})
	require.NoError(t, err)

	_, err = b.StartWorkflow(context.Background(), "greet", []byte(`{}`))
	require.NoError(t, err)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a wakeup after StartWorkflow")
	}
}

func TestMemoryBackendSubscribeIgnoresOtherNames(t *testing.T) {
	b := memory.New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.SubscribePendingWorkflows(ctx, []string{"greet"})
	require.NoError(t, err)

	_, err = b.StartWorkflow(context.Background(), "order", []byte(`{}`))
	require.NoError(t, err)

	select {
	case <-ch:
		t.Fatal("did not expect a wakeup for an unrelated workflow name")
	case <-time.After(50 * time.Millisecond):
	}
}
