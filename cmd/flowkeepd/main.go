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

// Command flowkeepd runs the durable workflow orchestrator daemon: the
// transactional store plus its public and worker HTTP surfaces.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tombee/flowkeep/internal/auth"
	"github.com/tombee/flowkeep/internal/config"
	"github.com/tombee/flowkeep/internal/log"
	conductorerrors "github.com/tombee/flowkeep/pkg/errors"
	"github.com/tombee/flowkeep/store"
	"github.com/tombee/flowkeep/store/memory"
	"github.com/tombee/flowkeep/store/postgres"
	"github.com/tombee/flowkeep/transport/server"
)

// Version information, injected via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		backendType = flag.String("backend", "", "Storage backend (memory, postgres)")
		postgresDSN = flag.String("postgres-dsn", "", "PostgreSQL connection string")
		listenAddr  = flag.String("listen", "", "TCP address to listen on")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("flowkeepd %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", log.Error(err))
		os.Exit(1)
	}

	if *backendType != "" {
		cfg.Backend.Type = *backendType
	}
	if *postgresDSN != "" {
		cfg.Backend.Postgres.ConnectionString = *postgresDSN
	}
	if *listenAddr != "" {
		cfg.Listen.Addr = *listenAddr
	}

	s, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open storage backend", log.Error(err))
		os.Exit(1)
	}
	defer closeStore()

	authenticator := auth.NewBearerAuthenticator(cfg.Auth.Tokens...)
	router := server.NewRouter(server.RouterConfig{Version: version, Commit: commit}, s, authenticator)

	httpServer := &http.Server{
		Addr:         cfg.Listen.Addr,
		Handler:      router.Handler(logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("flowkeepd listening", log.String("addr", cfg.Listen.Addr), log.String("backend", cfg.Backend.Type))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", log.String("signal", sig.String()))
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", log.Error(err))
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", log.Error(err))
			os.Exit(1)
		}
	}
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Backend.Type {
	case "postgres":
		backend, err := postgres.New(postgres.Config{
			ConnectionString: cfg.Backend.Postgres.ConnectionString,
			MaxOpenConns:     cfg.Backend.Postgres.MaxOpenConns,
			MaxIdleConns:     cfg.Backend.Postgres.MaxIdleConns,
			ConnMaxLifetime:  cfg.Backend.Postgres.ConnMaxLifetime,
			ClaimTimeout:     cfg.Claims.ClaimTimeout,
		})
		if err != nil {
			return nil, nil, conductorerrors.Wrap(err, "open postgres backend")
		}
		return backend, func() { backend.Close() }, nil
	case "memory":
		backend := memory.New()
		return backend, func() { backend.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
}
