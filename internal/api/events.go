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
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pipewright/pipewright/internal/engine/events"
	"github.com/pipewright/pipewright/internal/httputil"
)

// heartbeatInterval keeps idle SSE connections from being reaped by
// intermediaries.
const heartbeatInterval = 15 * time.Second

// EventSource provides live event subscriptions.
type EventSource interface {
	Subscribe(key string) (<-chan events.Event, func())
}

var _ EventSource = (*events.Bus)(nil)

// EventsHandler streams engine events over SSE.
type EventsHandler struct {
	source EventSource
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(source EventSource) *EventsHandler {
	return &EventsHandler{source: source}
}

// RegisterRoutes registers the event stream route.
func (h *EventsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/events", h.handleStream)
}

// handleStream handles GET /v1/events. The optional job query parameter
// filters to one job; without it the stream carries every event.
func (h *EventsHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("job")
	if key == "" {
		key = events.AllJobs
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.source.Subscribe(key)
	defer cancel()

	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, "data: {\"type\":\"heartbeat\"}\n\n")
			flusher.Flush()
		case event, open := <-ch:
			if !open {
				// Bus closed; the daemon is shutting down.
				fmt.Fprintf(w, "event: done\ndata: {\"type\":\"shutdown\"}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
