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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":8080", cfg.Listen.Addr)
	assert.Equal(t, "memory", cfg.Backend.Type)
	assert.Equal(t, 30*time.Second, cfg.Claims.ClaimTimeout)
	assert.Equal(t, 10*time.Second, cfg.Claims.HeartbeatInterval)
	assert.Equal(t, time.Second, cfg.Claims.PollInterval)
}

func TestConfig_Validate(t *testing.T) {
	t.Run("default with a token is valid", func(t *testing.T) {
		cfg := Default()
		cfg.Auth.Tokens = []string{"secret"}
		require.NoError(t, cfg.Validate())
	})

	t.Run("no tokens is invalid", func(t *testing.T) {
		cfg := Default()
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "auth.tokens")
	})

	t.Run("postgres backend without a connection string is invalid", func(t *testing.T) {
		cfg := Default()
		cfg.Auth.Tokens = []string{"secret"}
		cfg.Backend.Type = "postgres"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection_string")
	})

	t.Run("unknown backend type is invalid", func(t *testing.T) {
		cfg := Default()
		cfg.Auth.Tokens = []string{"secret"}
		cfg.Backend.Type = "sqlite"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "backend.type")
	})

	t.Run("heartbeat interval must be shorter than claim timeout", func(t *testing.T) {
		cfg := Default()
		cfg.Auth.Tokens = []string{"secret"}
		cfg.Claims.HeartbeatInterval = cfg.Claims.ClaimTimeout
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "heartbeat_interval")
	})
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowkeep.yaml")
	yamlBody := `
log:
  level: debug
  format: text
listen:
  addr: ":9090"
auth:
  tokens:
    - file-token
backend:
  type: memory
claims:
  claim_timeout: 1m
  heartbeat_interval: 15s
  poll_interval: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, ":9090", cfg.Listen.Addr)
	assert.Equal(t, []string{"file-token"}, cfg.Auth.Tokens)
	assert.Equal(t, time.Minute, cfg.Claims.ClaimTimeout)
	assert.Equal(t, 15*time.Second, cfg.Claims.HeartbeatInterval)
	assert.Equal(t, 2*time.Second, cfg.Claims.PollInterval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowkeep.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  tokens:\n    - file-token\n"), 0o600))

	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("FLOWKEEP_LISTEN_ADDR", ":7000")
	t.Setenv("FLOWKEEP_WORKER_TOKENS", "env-token-1, env-token-2")
	t.Setenv("FLOWKEEP_BACKEND", "memory")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, ":7000", cfg.Listen.Addr)
	assert.Equal(t, []string{"env-token-1", "env-token-2"}, cfg.Auth.Tokens)
}

func TestLoad_MissingFileReturnsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoad_NoPathUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("FLOWKEEP_WORKER_TOKENS", "only-token")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"only-token"}, cfg.Auth.Tokens)
	assert.Equal(t, "memory", cfg.Backend.Type)
}
