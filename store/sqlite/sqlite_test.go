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

package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/tombee/flowkeep/store"
	"github.com/tombee/flowkeep/store/sqlite"
	"github.com/tombee/flowkeep/store/storetest"
)

func newTestBackend(t *testing.T) store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	be, err := sqlite.New(sqlite.Config{Path: dbPath, WAL: true})
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	t.Cleanup(func() { _ = be.Close() })
	return be
}

func TestSQLiteBackendContract(t *testing.T) {
	storetest.Run(t, newTestBackend)
}
