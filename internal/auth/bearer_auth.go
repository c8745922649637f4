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

// Package auth provides Bearer token authorization for worker endpoints.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	conductorerrors "github.com/tombee/flowkeep/pkg/errors"
)

// BearerAuthenticator authorizes worker requests against a fixed set of
// accepted tokens. A request is authorized if its token matches any one
// of them, so a token can be rotated by adding the new value before
// removing the old.
type BearerAuthenticator struct {
	tokens []string
}

// NewBearerAuthenticator creates an authenticator accepting any of the
// given tokens. An authenticator with no tokens rejects every request.
func NewBearerAuthenticator(tokens ...string) *BearerAuthenticator {
	return &BearerAuthenticator{tokens: tokens}
}

// ExtractBearerToken extracts the token from a request's Authorization
// header. Returns an error if the header is missing or malformed.
func (a *BearerAuthenticator) ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", conductorerrors.New("missing Authorization header")
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(header, bearerPrefix) && !strings.HasPrefix(header, "bearer ") {
		return "", conductorerrors.New("invalid Authorization header format, expected 'Bearer <token>'")
	}

	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", conductorerrors.New("empty Bearer token")
	}

	return token, nil
}

// VerifyToken reports whether token matches any accepted token, using a
// constant-time comparison to avoid leaking timing information.
func (a *BearerAuthenticator) VerifyToken(token string) bool {
	ok := false
	for _, accepted := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(accepted)) == 1 {
			ok = true
		}
	}
	return ok
}

// Authenticate verifies the request's Bearer token against the accepted
// set. Returns an error — whose message contains "unauthorized" per the
// worker-endpoint contract — if the token is missing or does not match.
func (a *BearerAuthenticator) Authenticate(r *http.Request) error {
	token, err := a.ExtractBearerToken(r)
	if err != nil {
		return conductorerrors.Wrap(err, "unauthorized")
	}
	if !a.VerifyToken(token) {
		return conductorerrors.New("unauthorized: invalid bearer token")
	}
	return nil
}
