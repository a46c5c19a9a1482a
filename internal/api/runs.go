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
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pipewright/pipewright/internal/httputil"
)

// ReloadFunc reloads the pipeline. An empty path means the configured file;
// a non-empty path switches the engine to watching that file.
type ReloadFunc func(ctx context.Context, path string) error

// RunsHandler serves run control and run history.
type RunsHandler struct {
	engine  Engine
	history History
	reload  ReloadFunc
}

// NewRunsHandler creates a runs handler.
func NewRunsHandler(engine Engine, hist History, reload ReloadFunc) *RunsHandler {
	return &RunsHandler{engine: engine, history: hist, reload: reload}
}

// RegisterRoutes registers run API routes.
func (h *RunsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/runs", h.handleStart)
	mux.HandleFunc("POST /v1/runs/stop", h.handleStop)
	mux.HandleFunc("POST /v1/reload", h.handleReload)
	mux.HandleFunc("GET /v1/runs", h.handleList)
	mux.HandleFunc("GET /v1/runs/{id}", h.handleGet)
}

// handleStart handles POST /v1/runs.
func (h *RunsHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StartRun(r.Context()); err != nil {
		httputil.WriteErrorFrom(w, err, http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
		"run_id": h.engine.CurrentRunID(r.Context()),
	})
}

// StopRequest is the optional request body for POST /v1/runs/stop.
type StopRequest struct {
	Reason string `json:"reason,omitempty"`
}

// handleStop handles POST /v1/runs/stop.
func (h *RunsHandler) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "stop requested"
	}

	if err := h.engine.StopRun(r.Context(), reason); err != nil {
		httputil.WriteErrorFrom(w, err, http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "stopping",
		"run_id": h.engine.CurrentRunID(r.Context()),
	})
}

// ReloadRequest is the optional request body for POST /v1/reload.
type ReloadRequest struct {
	Path string `json:"path,omitempty"`
}

// handleReload handles POST /v1/reload. Validation and cycle errors come
// back as 422; the prior run state survives a failed reload.
func (h *RunsHandler) handleReload(w http.ResponseWriter, r *http.Request) {
	var req ReloadRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.reload(r.Context(), req.Path); err != nil {
		httputil.WriteErrorFrom(w, err, http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "reloaded",
		"run_id": h.engine.CurrentRunID(r.Context()),
	})
}

// handleList handles GET /v1/runs.
func (h *RunsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	runs, err := h.history.ListRuns(r.Context(), limit)
	if err != nil {
		httputil.WriteErrorFrom(w, err, http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleGet handles GET /v1/runs/{id}.
func (h *RunsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	run, err := h.history.GetRun(r.Context(), id)
	if err != nil {
		httputil.WriteErrorFrom(w, err, http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, run)
}

// decodeOptionalBody decodes a JSON body into dst, treating an empty body
// as the zero value.
func decodeOptionalBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
