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

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/tombee/flowkeep/store"
	"github.com/tombee/flowkeep/store/postgres"
	"github.com/tombee/flowkeep/store/storetest"
)

// newTestBackend starts a throwaway Postgres container and returns a
// Backend pointed at it. Skipped under -short since it needs a working
// Docker daemon.
func newTestBackend(t *testing.T) store.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed postgres test in -short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("flowkeep"),
		tcpostgres.WithUsername("flowkeep"),
		tcpostgres.WithPassword("flowkeep"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		tctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(tctx)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to build connection string")

	be, err := postgres.New(postgres.Config{ConnectionString: connStr})
	require.NoError(t, err, "failed to create postgres backend")
	t.Cleanup(func() { _ = be.Close() })

	return be
}

func TestPostgresBackendContract(t *testing.T) {
	storetest.Run(t, newTestBackend)
}
