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

package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flowkeep/internal/auth"
)

func TestBearerAuthenticator_Authenticate(t *testing.T) {
	a := auth.NewBearerAuthenticator("secret-one", "secret-two")

	t.Run("accepts any configured token", func(t *testing.T) {
		for _, token := range []string{"secret-one", "secret-two"} {
			r := httptest.NewRequest(http.MethodPost, "/v1/claim", nil)
			r.Header.Set("Authorization", "Bearer "+token)
			require.NoError(t, a.Authenticate(r))
		}
	})

	t.Run("rejects unknown token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/claim", nil)
		r.Header.Set("Authorization", "Bearer wrong")
		err := a.Authenticate(r)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unauthorized")
	})

	t.Run("rejects missing header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/claim", nil)
		err := a.Authenticate(r)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unauthorized")
	})

	t.Run("rejects malformed header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/claim", nil)
		r.Header.Set("Authorization", "Basic deadbeef")
		err := a.Authenticate(r)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unauthorized")
	})
}

func TestBearerAuthenticator_NoTokensRejectsEverything(t *testing.T) {
	a := auth.NewBearerAuthenticator()
	r := httptest.NewRequest(http.MethodPost, "/v1/claim", nil)
	r.Header.Set("Authorization", "Bearer anything")
	require.Error(t, a.Authenticate(r))
}
