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

package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/flowkeep/internal/log"
	"github.com/tombee/flowkeep/store"
)

// RouterConfig holds build metadata surfaced at /v1/version.
type RouterConfig struct {
	Version string
	Commit  string
}

// Router wraps an http.ServeMux with the full flowkeepd API: health and
// version endpoints, the public store surface, and the Bearer-guarded
// worker surface, all behind request logging middleware.
type Router struct {
	mux    *http.ServeMux
	config RouterConfig
}

// NewRouter builds a Router with health, version, metrics, public, and
// worker routes registered.
func NewRouter(cfg RouterConfig, s store.Store, auth Authenticator) *Router {
	r := &Router{mux: http.NewServeMux(), config: cfg}

	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	r.mux.HandleFunc("GET /v1/version", r.handleVersion)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	NewPublicHandler(s).RegisterRoutes(r.mux)
	NewWorkerHandler(s, auth).RegisterRoutes(r.mux)

	return r
}

// Handler wraps the router's mux with request-logging middleware built
// from logger.
func (r *Router) Handler(logger *slog.Logger) http.Handler {
	return log.NewMiddleware(logger).Wrap(r.mux)
}

// Mux returns the underlying ServeMux for registering additional routes.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "flowkeepd",
		"version": r.config.Version,
		"commit":  r.config.Commit,
	})
}
