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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewright/pipewright/internal/engine/scheduler"
	"github.com/pipewright/pipewright/internal/history"
	"github.com/pipewright/pipewright/internal/watcher"
	"github.com/pipewright/pipewright/pkg/errors"
)

type fakeEngine struct {
	snapshot *scheduler.RunSnapshot
	jobs     []scheduler.JobSnapshot
	runID    string
	startErr error
	stopErr  error

	started     int
	stopReasons []string
}

func (f *fakeEngine) Snapshot(ctx context.Context) (*scheduler.RunSnapshot, error) {
	if f.snapshot == nil {
		return nil, &errors.NotFoundError{Resource: "run", ID: "current"}
	}
	return f.snapshot, nil
}

func (f *fakeEngine) GetAllJobs(ctx context.Context) ([]scheduler.JobSnapshot, error) {
	if f.snapshot == nil {
		return nil, &errors.NotFoundError{Resource: "run", ID: "current"}
	}
	return f.jobs, nil
}

func (f *fakeEngine) GetJobStatus(ctx context.Context, name string) (*scheduler.JobSnapshot, error) {
	for i := range f.jobs {
		if f.jobs[i].Name == name {
			return &f.jobs[i], nil
		}
	}
	return nil, &errors.NotFoundError{Resource: "job", ID: name}
}

func (f *fakeEngine) StartRun(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeEngine) StopRun(ctx context.Context, reason string) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopReasons = append(f.stopReasons, reason)
	return nil
}

func (f *fakeEngine) CurrentRunID(ctx context.Context) string {
	return f.runID
}

type fakeHistory struct {
	runs   []history.RunRecord
	detail *history.RunDetail
	logs   []history.LogRecord

	lastLimit int
	lastRunID string
	lastJob   string
}

func (f *fakeHistory) GetRun(ctx context.Context, id string) (*history.RunDetail, error) {
	if f.detail == nil || f.detail.ID != id {
		return nil, &errors.NotFoundError{Resource: "run", ID: id}
	}
	return f.detail, nil
}

func (f *fakeHistory) ListRuns(ctx context.Context, limit int) ([]history.RunRecord, error) {
	f.lastLimit = limit
	return f.runs, nil
}

func (f *fakeHistory) JobLogs(ctx context.Context, runID, job string, limit int) ([]history.LogRecord, error) {
	f.lastRunID = runID
	f.lastJob = job
	f.lastLimit = limit
	return f.logs, nil
}

type fakeWatcher struct {
	path  string
	state watcher.ReloadState
}

func (f *fakeWatcher) Path() string                    { return f.path }
func (f *fakeWatcher) LastReload() watcher.ReloadState { return f.state }

type testServer struct {
	router  *Router
	engine  *fakeEngine
	history *fakeHistory

	reloadPaths []string
	reloadErr   error
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		engine: &fakeEngine{
			runID: "run-1",
			snapshot: &scheduler.RunSnapshot{
				RunID:    "run-1",
				Pipeline: "demo",
				Status:   scheduler.RunRunning,
			},
			jobs: []scheduler.JobSnapshot{
				{Name: "build", State: scheduler.JobSuccess, RunsOn: "go-1.24"},
				{Name: "test", State: scheduler.JobRunning, Needs: []string{"build"}},
			},
		},
		history: &fakeHistory{},
	}

	ts.router = NewRouter(RouterConfig{Version: "1.2.3", Commit: "abc1234", BuildDate: "2025-06-01"}, nil)

	status := NewStatusHandler(ts.engine, ts.history, &fakeWatcher{
		path:  "/work/pipewright.yaml",
		state: watcher.ReloadState{Time: time.Now(), Error: ""},
	})
	status.RegisterRoutes(ts.router.Mux())

	runs := NewRunsHandler(ts.engine, ts.history, func(ctx context.Context, path string) error {
		if ts.reloadErr != nil {
			return ts.reloadErr
		}
		ts.reloadPaths = append(ts.reloadPaths, path)
		return nil
	})
	runs.RegisterRoutes(ts.router.Mux())

	return ts
}

func (ts *testServer) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ok", resp.Checks["api"])
}

func TestVersion(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/v1/version", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[VersionResponse](t, rec)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "abc1234", resp.Commit)
	assert.NotEmpty(t, resp.GoVersion)
}

func TestRoot(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "pipewrightd", resp["name"])
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[StatusResponse](t, rec)
	require.NotNil(t, resp.Run)
	assert.Equal(t, "run-1", resp.Run.RunID)
	assert.Equal(t, scheduler.RunRunning, resp.Run.Status)
	require.NotNil(t, resp.Watcher)
	assert.Equal(t, "/work/pipewright.yaml", resp.Watcher.Path)
}

func TestStatusBeforeFirstLoad(t *testing.T) {
	ts := newTestServer(t)
	ts.engine.snapshot = nil

	rec := ts.request(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[StatusResponse](t, rec)
	assert.Nil(t, resp.Run)
	assert.NotNil(t, resp.Watcher)
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[map[string]json.RawMessage](t, rec)
	var count int
	require.NoError(t, json.Unmarshal(resp["count"], &count))
	assert.Equal(t, 2, count)
}

func TestGetJob(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/v1/jobs/build", "")
	require.Equal(t, http.StatusOK, rec.Code)

	job := decodeBody[scheduler.JobSnapshot](t, rec)
	assert.Equal(t, "build", job.Name)
	assert.Equal(t, scheduler.JobSuccess, job.State)
}

func TestGetJobNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/v1/jobs/nonesuch", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobLogs(t *testing.T) {
	ts := newTestServer(t)
	ts.history.logs = []history.LogRecord{
		{RunID: "run-1", Job: "build", Line: "line 3"},
		{RunID: "run-1", Job: "build", Line: "line 2"},
	}

	rec := ts.request(t, http.MethodGet, "/v1/jobs/build/logs?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "run-1", ts.history.lastRunID)
	assert.Equal(t, "build", ts.history.lastJob)
	assert.Equal(t, 2, ts.history.lastLimit)
}

func TestJobLogsInvalidLimit(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/v1/jobs/build/logs?limit=lots", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobLogsNoRun(t *testing.T) {
	ts := newTestServer(t)
	ts.engine.runID = ""

	rec := ts.request(t, http.MethodGet, "/v1/jobs/build/logs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartRun(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/v1/runs", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "started", resp["status"])
	assert.Equal(t, "run-1", resp["run_id"])
	assert.Equal(t, 1, ts.engine.started)
}

func TestStartRunConflict(t *testing.T) {
	ts := newTestServer(t)
	ts.engine.startErr = &errors.ConflictError{Op: "start", Reason: "a run is already active"}

	rec := ts.request(t, http.MethodPost, "/v1/runs", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStopRun(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/v1/runs/stop", `{"reason":"user requested stop"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, ts.engine.stopReasons, 1)
	assert.Equal(t, "user requested stop", ts.engine.stopReasons[0])
}

func TestStopRunDefaultReason(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/v1/runs/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, ts.engine.stopReasons, 1)
	assert.Equal(t, "stop requested", ts.engine.stopReasons[0])
}

func TestStopRunConflict(t *testing.T) {
	ts := newTestServer(t)
	ts.engine.stopErr = &errors.ConflictError{Op: "stop", Reason: "no active run"}

	rec := ts.request(t, http.MethodPost, "/v1/runs/stop", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReload(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/v1/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "reloaded", resp["status"])
	require.Len(t, ts.reloadPaths, 1)
	assert.Empty(t, ts.reloadPaths[0])
}

func TestReloadWithPath(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/v1/reload", `{"path":"other.yaml"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, ts.reloadPaths, 1)
	assert.Equal(t, "other.yaml", ts.reloadPaths[0])
}

func TestReloadValidationFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.reloadErr = &errors.ValidationError{Field: "jobs.build", Message: "unknown runtime"}

	rec := ts.request(t, http.MethodPost, "/v1/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decodeBody[map[string]string](t, rec)
	assert.Contains(t, resp["error"], "unknown runtime")
}

func TestReloadCycleFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.reloadErr = &errors.CycleError{Jobs: []string{"a", "b"}}

	rec := ts.request(t, http.MethodPost, "/v1/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListRuns(t *testing.T) {
	ts := newTestServer(t)
	ts.history.runs = []history.RunRecord{
		{ID: "run-2", Pipeline: "demo", Status: "success"},
		{ID: "run-1", Pipeline: "demo", Status: "failed"},
	}

	rec := ts.request(t, http.MethodGet, "/v1/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, ts.history.lastLimit)

	resp := decodeBody[map[string]json.RawMessage](t, rec)
	var runs []history.RunRecord
	require.NoError(t, json.Unmarshal(resp["runs"], &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
}

func TestGetRun(t *testing.T) {
	ts := newTestServer(t)
	ts.history.detail = &history.RunDetail{
		RunRecord: history.RunRecord{ID: "run-1", Pipeline: "demo", Status: "success"},
	}

	rec := ts.request(t, http.MethodGet, "/v1/runs/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	detail := decodeBody[history.RunDetail](t, rec)
	assert.Equal(t, "run-1", detail.ID)
}

func TestGetRunNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/v1/runs/gone", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
