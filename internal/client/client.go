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

// Package client is the HTTP client for the pipewrightd API, used by the
// CLI over the daemon's unix socket or a TCP address.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a client for the pipewrightd API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client.
type Option func(*Client) error

// New creates a daemon client with the given options. Without options it
// connects to the default unix socket.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: "http://pipewrightd", // Placeholder host; the transport dials the socket.
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.httpClient == nil {
		transport, err := DefaultTransport()
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
		c.httpClient = &http.Client{Transport: transport}
	}

	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = client
		return nil
	}
}

// WithTransport sets a custom transport.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{Transport: transport}
		return nil
	}
}

// WithBaseURL overrides the request base URL. Useful against test servers.
func WithBaseURL(base string) Option {
	return func(c *Client) error {
		c.baseURL = base
		return nil
	}
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned error %d: %s", e.StatusCode, e.Message)
}

// HealthResponse is the response from /v1/health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// VersionResponse is the response from /v1/version.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// Job is one job in the current run snapshot.
type Job struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	RunsOn     string    `json:"runs_on"`
	Needs      []string  `json:"needs,omitempty"`
	Steps      []string  `json:"steps,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Run is the current run snapshot.
type Run struct {
	RunID      string    `json:"run_id"`
	Pipeline   string    `json:"pipeline"`
	Source     string    `json:"source,omitempty"`
	Status     string    `json:"status"`
	Jobs       []Job     `json:"jobs"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// ReloadState describes the outcome of the most recent reload attempt.
type ReloadState struct {
	Time  time.Time `json:"time,omitzero"`
	Error string    `json:"error,omitempty"`
}

// WatcherInfo describes the daemon's file watcher.
type WatcherInfo struct {
	Path       string      `json:"path"`
	LastReload ReloadState `json:"last_reload"`
}

// StatusResponse is the response from /v1/status. Run is nil until a
// pipeline has loaded.
type StatusResponse struct {
	Run     *Run         `json:"run"`
	Watcher *WatcherInfo `json:"watcher,omitempty"`
}

// LogLine is one stored log line.
type LogLine struct {
	RunID     string    `json:"run_id"`
	Job       string    `json:"job"`
	Step      string    `json:"step"`
	Stream    string    `json:"stream"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// JobLogsResponse is the response from /v1/jobs/{name}/logs.
type JobLogsResponse struct {
	RunID string    `json:"run_id"`
	Job   string    `json:"job"`
	Logs  []LogLine `json:"logs"`
	Count int       `json:"count"`
}

// RunSummary is one run in the history listing.
type RunSummary struct {
	ID         string    `json:"id"`
	Pipeline   string    `json:"pipeline"`
	Source     string    `json:"source,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// StepDetail is one step's stored record.
type StepDetail struct {
	RunID      string    `json:"run_id"`
	Job        string    `json:"job"`
	Index      int       `json:"index"`
	Name       string    `json:"name"`
	Command    string    `json:"command,omitempty"`
	Status     string    `json:"status"`
	ExitCode   int       `json:"exit_code"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// JobDetail is one job's stored record with its steps.
type JobDetail struct {
	RunID      string       `json:"run_id"`
	Job        string       `json:"job"`
	Status     string       `json:"status"`
	RunsOn     string       `json:"runs_on"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Steps      []StepDetail `json:"steps"`
}

// RunDetail is a stored run with its job records.
type RunDetail struct {
	RunSummary
	Jobs []JobDetail `json:"jobs"`
}

// RunAction is the response to start, stop, and reload requests.
type RunAction struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
}

// Health returns the daemon health status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.getJSON(ctx, "/v1/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Version returns the daemon version information.
func (c *Client) Version(ctx context.Context) (*VersionResponse, error) {
	var version VersionResponse
	if err := c.getJSON(ctx, "/v1/version", &version); err != nil {
		return nil, err
	}
	return &version, nil
}

// Ping checks if the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

// Status returns the current run snapshot and watcher state.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var status StatusResponse
	if err := c.getJSON(ctx, "/v1/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Jobs returns every job in the current run.
func (c *Client) Jobs(ctx context.Context) ([]Job, error) {
	var resp struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.getJSON(ctx, "/v1/jobs", &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Job returns one job from the current run.
func (c *Client) Job(ctx context.Context, name string) (*Job, error) {
	var job Job
	if err := c.getJSON(ctx, "/v1/jobs/"+url.PathEscape(name), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// JobLogs returns the stored logs for a job in the current run. A limit of
// zero means the server default.
func (c *Client) JobLogs(ctx context.Context, name string, limit int) (*JobLogsResponse, error) {
	path := "/v1/jobs/" + url.PathEscape(name) + "/logs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp JobLogsResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartRun triggers a run of the loaded pipeline.
func (c *Client) StartRun(ctx context.Context) (*RunAction, error) {
	var action RunAction
	if err := c.postJSON(ctx, "/v1/runs", nil, &action); err != nil {
		return nil, err
	}
	return &action, nil
}

// StopRun stops the active run. An empty reason uses the server default.
func (c *Client) StopRun(ctx context.Context, reason string) (*RunAction, error) {
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	var action RunAction
	if err := c.postJSON(ctx, "/v1/runs/stop", body, &action); err != nil {
		return nil, err
	}
	return &action, nil
}

// Reload reloads the pipeline file. An empty path means the daemon's
// configured file.
func (c *Client) Reload(ctx context.Context, path string) (*RunAction, error) {
	var body any
	if path != "" {
		body = map[string]string{"path": path}
	}
	var action RunAction
	if err := c.postJSON(ctx, "/v1/reload", body, &action); err != nil {
		return nil, err
	}
	return &action, nil
}

// Runs lists stored runs, most recent first. A limit of zero means the
// server default.
func (c *Client) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	path := "/v1/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Runs []RunSummary `json:"runs"`
	}
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Run returns one stored run with its jobs and steps.
func (c *Client) Run(ctx context.Context, id string) (*RunDetail, error) {
	var detail RunDetail
	if err := c.getJSON(ctx, "/v1/runs/"+url.PathEscape(id), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// apiError turns an error response into an APIError, preferring the
// message from the {"error": ...} envelope.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var envelope struct {
		Error string `json:"error"`
	}
	message := string(bytes.TrimSpace(body))
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		message = envelope.Error
	}

	return &APIError{StatusCode: resp.StatusCode, Message: message}
}
