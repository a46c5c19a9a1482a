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

package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewright/pipewright/internal/config"
)

const testPipeline = `name: demo
jobs:
  build:
    steps:
      - run: make build
  test:
    needs: [build]
    steps:
      - run: make test
`

type testDaemon struct {
	daemon *Daemon
	cfg    *config.Config
	client *http.Client
}

func startTestDaemon(t *testing.T, mutate func(*config.Config)) *testDaemon {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets required")
	}

	workspace := t.TempDir()
	pipelinePath := filepath.Join(workspace, "pipewright.yaml")
	require.NoError(t, os.WriteFile(pipelinePath, []byte(testPipeline), 0644))

	cfg := config.Default()
	cfg.Workspace = workspace
	cfg.PipelinePath = pipelinePath
	cfg.DataDir = t.TempDir()
	cfg.Listen.SocketPath = filepath.Join(t.TempDir(), "pw.sock")
	// Runs never start on their own here; starting one would shell out to
	// the container runtime.
	cfg.RunOnStart = false
	if mutate != nil {
		mutate(cfg)
	}

	d, err := New(cfg, Options{Version: "test", Commit: "none", BuildDate: "unknown"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	startErr := make(chan error, 1)
	go func() {
		startErr <- d.Start(ctx)
	}()

	socket := cfg.Listen.SocketPath
	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond, "daemon did not come up")

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		},
		Timeout: 5 * time.Second,
	}

	t.Cleanup(func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		assert.NoError(t, d.Shutdown(shutCtx))
		cancel()
		select {
		case err := <-startErr:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Start did not return after shutdown")
		}
	})

	return &testDaemon{daemon: d, cfg: cfg, client: client}
}

func (td *testDaemon) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := td.client.Get("http://unix" + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (td *testDaemon) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := td.client.Post("http://unix"+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestDaemonServesHealth(t *testing.T) {
	td := startTestDaemon(t, nil)

	resp, body := td.get(t, "/v1/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
}

func TestDaemonLoadsPipelineOnStart(t *testing.T) {
	td := startTestDaemon(t, nil)

	resp, body := td.get(t, "/v1/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		Run *struct {
			Pipeline string `json:"pipeline"`
			Jobs     []struct {
				Name  string `json:"name"`
				State string `json:"state"`
			} `json:"jobs"`
		} `json:"run"`
		Watcher *struct {
			Path string `json:"path"`
		} `json:"watcher"`
	}
	require.NoError(t, json.Unmarshal(body, &status))

	require.NotNil(t, status.Run, "pipeline should load at startup")
	assert.Equal(t, "demo", status.Run.Pipeline)
	require.Len(t, status.Run.Jobs, 2)
	for _, job := range status.Run.Jobs {
		assert.Equal(t, "pending", job.State)
	}
	require.NotNil(t, status.Watcher)
	assert.Equal(t, td.cfg.PipelinePath, status.Watcher.Path)
}

func TestDaemonSurvivesMissingPipeline(t *testing.T) {
	td := startTestDaemon(t, func(cfg *config.Config) {
		cfg.PipelinePath = filepath.Join(cfg.Workspace, "missing.yaml")
	})

	resp, body := td.get(t, "/v1/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		Run json.RawMessage `json:"run"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "null", string(status.Run))
}

func TestDaemonReloadEndpoint(t *testing.T) {
	td := startTestDaemon(t, nil)

	other := filepath.Join(td.cfg.Workspace, "other.yaml")
	require.NoError(t, os.WriteFile(other, []byte("name: other\njobs:\n  solo:\n    steps:\n      - run: true\n"), 0644))

	resp, _ := td.post(t, "/v1/reload", `{"path":"other.yaml"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := td.get(t, "/v1/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		Run *struct {
			Pipeline string `json:"pipeline"`
		} `json:"run"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	require.NotNil(t, status.Run)
	assert.Equal(t, "other", status.Run.Pipeline)
}

func TestDaemonReloadRejectsInvalidPipeline(t *testing.T) {
	td := startTestDaemon(t, nil)

	bad := filepath.Join(td.cfg.Workspace, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: bad\njobs:\n  a:\n    needs: [b]\n    steps:\n      - run: true\n"), 0644))

	resp, body := td.post(t, "/v1/reload", `{"path":"bad.yaml"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var errResp map[string]string
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.NotEmpty(t, errResp["error"])

	// The failed reload must leave the previously loaded pipeline active.
	resp, body = td.get(t, "/v1/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		Run *struct {
			Pipeline string `json:"pipeline"`
		} `json:"run"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	require.NotNil(t, status.Run)
	assert.Equal(t, "demo", status.Run.Pipeline)
}

func TestDaemonShutdownRemovesSocket(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets required")
	}

	workspace := t.TempDir()
	pipelinePath := filepath.Join(workspace, "pipewright.yaml")
	require.NoError(t, os.WriteFile(pipelinePath, []byte(testPipeline), 0644))

	cfg := config.Default()
	cfg.Workspace = workspace
	cfg.PipelinePath = pipelinePath
	cfg.DataDir = t.TempDir()
	cfg.Listen.SocketPath = filepath.Join(t.TempDir(), "pw.sock")
	cfg.RunOnStart = false

	d, err := New(cfg, Options{Version: "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startErr := make(chan error, 1)
	go func() {
		startErr <- d.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.Listen.SocketPath)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	require.NoError(t, d.Shutdown(shutCtx))

	_, err = os.Stat(cfg.Listen.SocketPath)
	assert.True(t, os.IsNotExist(err), "socket file should be removed on shutdown")

	// Shutdown is idempotent once stopped.
	require.NoError(t, d.Shutdown(shutCtx))

	cancel()
	require.NoError(t, <-startErr)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Workspace = t.TempDir()
	cfg.DataDir = t.TempDir()
	cfg.MaxParallel = -1

	_, err := New(cfg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PIPEWRIGHT_MAX_PARALLEL")
}
