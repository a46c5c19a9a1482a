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

package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/pipewright/pipewright/internal/engine/scheduler"
	"github.com/pipewright/pipewright/internal/history"
	"github.com/pipewright/pipewright/internal/httputil"
	"github.com/pipewright/pipewright/internal/watcher"
	"github.com/pipewright/pipewright/pkg/errors"
)

// Engine is the scheduler surface the API reads and drives.
type Engine interface {
	Snapshot(ctx context.Context) (*scheduler.RunSnapshot, error)
	GetAllJobs(ctx context.Context) ([]scheduler.JobSnapshot, error)
	GetJobStatus(ctx context.Context, name string) (*scheduler.JobSnapshot, error)
	StartRun(ctx context.Context) error
	StopRun(ctx context.Context, reason string) error
	CurrentRunID(ctx context.Context) string
}

var _ Engine = (*scheduler.Scheduler)(nil)

// WatcherStatus reports watch state for the status endpoint.
type WatcherStatus interface {
	Path() string
	LastReload() watcher.ReloadState
}

var _ WatcherStatus = (*watcher.Watcher)(nil)

// History is the stored-run surface the API serves.
type History interface {
	GetRun(ctx context.Context, id string) (*history.RunDetail, error)
	ListRuns(ctx context.Context, limit int) ([]history.RunRecord, error)
	JobLogs(ctx context.Context, runID, job string, limit int) ([]history.LogRecord, error)
}

var _ History = (*history.Store)(nil)

// StatusHandler serves the run snapshot and per-job queries.
type StatusHandler struct {
	engine  Engine
	history History
	watcher WatcherStatus
}

// NewStatusHandler creates a status handler. The watcher is optional (nil
// when running without file watching).
func NewStatusHandler(engine Engine, hist History, w WatcherStatus) *StatusHandler {
	return &StatusHandler{engine: engine, history: hist, watcher: w}
}

// RegisterRoutes registers status and job routes.
func (h *StatusHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	mux.HandleFunc("GET /v1/jobs", h.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{name}", h.handleGetJob)
	mux.HandleFunc("GET /v1/jobs/{name}/logs", h.handleJobLogs)
}

// WatcherInfo describes the watched file in the status response.
type WatcherInfo struct {
	Path       string              `json:"path"`
	LastReload watcher.ReloadState `json:"last_reload"`
}

// StatusResponse is the response format for /v1/status. Run is null until a
// pipeline has loaded.
type StatusResponse struct {
	Run     *scheduler.RunSnapshot `json:"run"`
	Watcher *WatcherInfo           `json:"watcher,omitempty"`
}

// handleStatus handles GET /v1/status.
func (h *StatusHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{}

	snap, err := h.engine.Snapshot(r.Context())
	if err != nil {
		var notFound *errors.NotFoundError
		if !stderrors.As(err, &notFound) {
			httputil.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// No pipeline loaded yet; serve the watcher state alone.
	} else {
		resp.Run = snap
	}

	if h.watcher != nil {
		resp.Watcher = &WatcherInfo{
			Path:       h.watcher.Path(),
			LastReload: h.watcher.LastReload(),
		}
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleListJobs handles GET /v1/jobs.
func (h *StatusHandler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.engine.GetAllJobs(r.Context())
	if err != nil {
		httputil.WriteErrorFrom(w, err, http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob handles GET /v1/jobs/{name}.
func (h *StatusHandler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	job, err := h.engine.GetJobStatus(r.Context(), name)
	if err != nil {
		httputil.WriteErrorFrom(w, err, http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

// handleJobLogs handles GET /v1/jobs/{name}/logs. Lines come back most
// recent first, bounded by the limit parameter.
func (h *StatusHandler) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	runID := h.engine.CurrentRunID(r.Context())
	if runID == "" {
		httputil.WriteErrorFrom(w, &errors.NotFoundError{Resource: "run", ID: "current"}, http.StatusNotFound)
		return
	}

	logs, err := h.history.JobLogs(r.Context(), runID, name, limit)
	if err != nil {
		httputil.WriteErrorFrom(w, err, http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"job":    name,
		"logs":   logs,
		"count":  len(logs),
	})
}

// parseLimit reads the optional limit query parameter. Zero means the
// store's default. Writes a 400 and returns false on garbage.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "invalid limit parameter")
		return 0, false
	}
	return limit, true
}
