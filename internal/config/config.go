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

// Package config provides daemon and worker configuration, loaded from
// a YAML file and overridden by environment variables, the same
// layering used throughout the rest of this project.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	conductorerrors "github.com/tombee/flowkeep/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Listen  ListenConfig  `yaml:"listen"`
	Auth    AuthConfig    `yaml:"auth"`
	Backend BackendConfig `yaml:"backend"`
	Claims  ClaimsConfig  `yaml:"claims"`
}

// LogConfig configures daemon logging.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	// Environment: LOG_LEVEL
	Level string `yaml:"level"`

	// Format is the output format (json, text).
	// Environment: LOG_FORMAT
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	AddSource bool `yaml:"add_source"`
}

// ListenConfig configures how the daemon listens for HTTP connections.
type ListenConfig struct {
	// Addr is the TCP address to bind (e.g. ":8080").
	// Environment: FLOWKEEP_LISTEN_ADDR
	Addr string `yaml:"addr"`
}

// AuthConfig configures Bearer token authorization for the worker
// surface (spec.md section 6: public endpoints are unauthenticated,
// worker endpoints require one of these tokens).
type AuthConfig struct {
	// Tokens is the set of valid worker bearer tokens. At least one is
	// required; the daemon refuses to start with none configured.
	// Environment: FLOWKEEP_WORKER_TOKENS (comma-separated)
	Tokens []string `yaml:"tokens"`
}

// BackendConfig configures the storage backend.
type BackendConfig struct {
	// Type selects the backend: "memory" or "postgres".
	// Environment: FLOWKEEP_BACKEND
	Type string `yaml:"type"`

	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig contains PostgreSQL connection settings, used when
// Backend.Type is "postgres".
type PostgresConfig struct {
	// ConnectionString is the PostgreSQL connection URL.
	// Environment: FLOWKEEP_POSTGRES_DSN
	ConnectionString string `yaml:"connection_string"`

	// MaxOpenConns caps open connections in the pool.
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns caps idle connections in the pool.
	MaxIdleConns int `yaml:"max_idle_conns"`

	// ConnMaxLifetime bounds how long a pooled connection is reused.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ClaimsConfig holds lease and polling cadence settings. The daemon
// passes only ClaimTimeout on, and only to the postgres backend; the
// memory backend always uses store.DefaultClaimTimeout. HeartbeatInterval
// and PollInterval are not read outside this package, and the CLI starts
// no workers.
type ClaimsConfig struct {
	// ClaimTimeout is how long an unrenewed lease remains valid before
	// the workflow becomes reclaimable. Environment: FLOWKEEP_CLAIM_TIMEOUT
	ClaimTimeout time.Duration `yaml:"claim_timeout"`

	// HeartbeatInterval is the default cadence workers should renew a
	// held lease at. Environment: FLOWKEEP_HEARTBEAT_INTERVAL
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// PollInterval is the default claim-loop timer fallback for
	// workers. Environment: FLOWKEEP_POLL_INTERVAL
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns a Config with sensible defaults, mirroring
// store.DefaultClaimTimeout, store.DefaultHeartbeatInterval, and
// worker.DefaultPollInterval so an unconfigured daemon and an
// unconfigured worker agree on timing.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Listen: ListenConfig{
			Addr: ":8080",
		},
		Backend: BackendConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 30 * time.Minute,
			},
		},
		Claims: ClaimsConfig{
			ClaimTimeout:      30 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			PollInterval:      time.Second,
		},
	}
}

// Load loads configuration from defaults, then an optional YAML file,
// then environment variables, in that order of increasing precedence.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &conductorerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &conductorerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return conductorerrors.Wrap(err, "get home directory")
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return conductorerrors.Wrap(err, "read config file")
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return conductorerrors.Wrap(err, "parse YAML")
	}

	return nil
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	if val := os.Getenv("FLOWKEEP_LISTEN_ADDR"); val != "" {
		c.Listen.Addr = val
	}

	if val := os.Getenv("FLOWKEEP_WORKER_TOKENS"); val != "" {
		tokens := strings.Split(val, ",")
		for i := range tokens {
			tokens[i] = strings.TrimSpace(tokens[i])
		}
		c.Auth.Tokens = tokens
	}

	if val := os.Getenv("FLOWKEEP_BACKEND"); val != "" {
		c.Backend.Type = strings.ToLower(val)
	}
	if val := os.Getenv("FLOWKEEP_POSTGRES_DSN"); val != "" {
		c.Backend.Postgres.ConnectionString = val
	}

	if val := os.Getenv("FLOWKEEP_CLAIM_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Claims.ClaimTimeout = d
		}
	}
	if val := os.Getenv("FLOWKEEP_HEARTBEAT_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Claims.HeartbeatInterval = d
		}
	}
	if val := os.Getenv("FLOWKEEP_POLL_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Claims.PollInterval = d
		}
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "trace": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	switch c.Backend.Type {
	case "memory":
	case "postgres":
		if c.Backend.Postgres.ConnectionString == "" {
			errs = append(errs, "backend.postgres.connection_string is required when backend.type is postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("backend.type must be one of [memory, postgres], got %q", c.Backend.Type))
	}

	if len(c.Auth.Tokens) == 0 {
		errs = append(errs, "auth.tokens must contain at least one worker bearer token")
	}

	if c.Claims.ClaimTimeout <= 0 {
		errs = append(errs, "claims.claim_timeout must be positive")
	}
	if c.Claims.HeartbeatInterval <= 0 {
		errs = append(errs, "claims.heartbeat_interval must be positive")
	}
	if c.Claims.HeartbeatInterval >= c.Claims.ClaimTimeout {
		errs = append(errs, "claims.heartbeat_interval must be shorter than claims.claim_timeout")
	}
	if c.Claims.PollInterval <= 0 {
		errs = append(errs, "claims.poll_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
