// Copyright 2025 The Pipewright Authors
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

// Package api provides the daemon's HTTP API.
package api

import (
	"log/slog"
	"net/http"

	"github.com/pipewright/pipewright/internal/httputil"
	"github.com/pipewright/pipewright/internal/log"
)

// RouterConfig holds build identification served by the version endpoint.
type RouterConfig struct {
	Version   string
	Commit    string
	BuildDate string
}

// MetricsHandler serves the Prometheus scrape endpoint.
type MetricsHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Router wraps an http.ServeMux with request logging.
type Router struct {
	mux     *http.ServeMux
	handler http.Handler
	config  RouterConfig
	logger  *slog.Logger
}

// NewRouter creates the router with the built-in endpoints registered.
// Feature handlers attach themselves via Mux.
func NewRouter(cfg RouterConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:    http.NewServeMux(),
		config: cfg,
		logger: log.WithComponent(logger, "api"),
	}
	r.handler = log.HTTPMiddleware(r.logger)(r.mux)

	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	r.mux.HandleFunc("GET /v1/version", r.handleVersion)

	// Root endpoint for basic connectivity check
	r.mux.HandleFunc("GET /", r.handleRoot)

	return r
}

// SetMetricsHandler registers the Prometheus metrics handler.
func (r *Router) SetMetricsHandler(handler MetricsHandler) {
	if handler != nil {
		r.mux.HandleFunc("GET /metrics", handler.ServeHTTP)
	}
}

// Mux returns the underlying ServeMux for registering additional routes.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// handleRoot handles GET / for basic connectivity.
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"name":    "pipewrightd",
		"version": r.config.Version,
	})
}
