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

package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Event is one live engine event: a log line or a state transition.
type Event struct {
	Kind  string    `json:"kind"`
	RunID string    `json:"run_id"`
	Job   string    `json:"job,omitempty"`
	Step  string    `json:"step,omitempty"`
	Time  time.Time `json:"time"`

	Stream string `json:"stream,omitempty"`
	Line   string `json:"line,omitempty"`
	Seq    int64  `json:"seq,omitempty"`

	State  string `json:"state,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Event kinds, matching the daemon's event bus.
const (
	KindLog      = "log"
	KindJobState = "job_state"
	KindRunState = "run_state"
)

// EventStream is a live event subscription. Read with Next until io.EOF,
// then Close.
type EventStream struct {
	resp    *http.Response
	scanner *bufio.Scanner
}

// Events subscribes to live events, optionally filtered to one job. The
// stream stays open until ctx is cancelled, Close is called, or the
// daemon shuts down.
func (c *Client) Events(ctx context.Context, job string) (*EventStream, error) {
	path := "/v1/events"
	if job != "" {
		path += "?job=" + url.QueryEscape(job)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	// Log lines can run long; the default token limit is too small once
	// JSON framing is added.
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	return &EventStream{resp: resp, scanner: scanner}, nil
}

// Next returns the next event. Control frames (connected, heartbeat) are
// skipped. Returns io.EOF when the daemon ends the stream.
func (s *EventStream) Next() (*Event, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "event: done"):
			return nil, io.EOF
		case strings.HasPrefix(line, "data: "):
			var ev Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			// Control frames carry no kind.
			if ev.Kind == "" {
				continue
			}
			return &ev, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Close ends the subscription.
func (s *EventStream) Close() error {
	return s.resp.Body.Close()
}
