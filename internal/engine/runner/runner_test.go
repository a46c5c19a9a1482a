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

package runner

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewright/pipewright/internal/executor"
	"github.com/pipewright/pipewright/pkg/pipeline"
)

// stubExecutor returns canned statuses per step name and records the
// options each call received.
type stubExecutor struct {
	mu       sync.Mutex
	statuses map[string]executor.Status
	calls    []executor.Options
	ran      []string
}

func (s *stubExecutor) RunStep(_ context.Context, step pipeline.Step, opts executor.Options) executor.StepResult {
	s.mu.Lock()
	s.calls = append(s.calls, opts)
	s.ran = append(s.ran, step.Name)
	s.mu.Unlock()

	status := executor.StatusSuccess
	if st, ok := s.statuses[step.Name]; ok {
		status = st
	}
	exitCode := 0
	if status != executor.StatusSuccess {
		exitCode = 1
	}
	now := time.Now()
	return executor.StepResult{
		Name:       step.Name,
		Command:    step.Run,
		Status:     status,
		ExitCode:   exitCode,
		StartedAt:  now,
		FinishedAt: now,
	}
}

func mustPipeline(t *testing.T, source string) *pipeline.Pipeline {
	t.Helper()
	pl, err := pipeline.Parse([]byte(source))
	require.NoError(t, err)
	require.NoError(t, pl.Validate())
	return pl
}

func newTestRunner(t *testing.T, stub *stubExecutor, mutate func(*Config)) *Runner {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Executor = stub
	cfg.Workspace = t.TempDir()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

func TestNewRequiresExecutor(t *testing.T) {
	_, err := New(DefaultConfig())
	require.Error(t, err)
}

func TestRunJobAllStepsPass(t *testing.T) {
	pl := mustPipeline(t, `
jobs:
  build:
    steps:
      - name: generate
        run: make generate
      - name: compile
        run: make build
`)
	stub := &stubExecutor{}
	r := newTestRunner(t, stub, nil)

	res := r.RunJob(context.Background(), pl, pl.Jobs["build"], "run-1")

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, res.FailedStep)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, []string{"generate", "compile"}, stub.ran)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestRunJobShortCircuitSkipsAfterFailure(t *testing.T) {
	pl := mustPipeline(t, `
jobs:
  build:
    steps:
      - name: one
        run: "true"
      - name: two
        run: "false"
      - name: three
        run: echo never
`)
	stub := &stubExecutor{statuses: map[string]executor.Status{"two": executor.StatusFailed}}
	r := newTestRunner(t, stub, nil)

	res := r.RunJob(context.Background(), pl, pl.Jobs["build"], "run-1")

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "two", res.FailedStep)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, executor.StatusSuccess, res.Steps[0].Status)
	assert.Equal(t, executor.StatusFailed, res.Steps[1].Status)
	assert.Equal(t, executor.StatusSkipped, res.Steps[2].Status)
	assert.Equal(t, "previous step failed", res.Steps[2].SkipReason)
	assert.Equal(t, []string{"one", "two"}, stub.ran)
}

func TestRunJobContinueOnError(t *testing.T) {
	pl := mustPipeline(t, `
jobs:
  build:
    steps:
      - name: flaky
        run: make flaky
        continue_on_error: true
      - name: after
        run: echo still runs
`)
	stub := &stubExecutor{statuses: map[string]executor.Status{"flaky": executor.StatusFailed}}
	r := newTestRunner(t, stub, nil)

	res := r.RunJob(context.Background(), pl, pl.Jobs["build"], "run-1")

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, res.FailedStep)
	assert.Equal(t, []string{"flaky", "after"}, stub.ran)
}

func TestRunJobShortCircuitDisabled(t *testing.T) {
	pl := mustPipeline(t, `
jobs:
  build:
    steps:
      - name: one
        run: "false"
      - name: two
        run: echo runs anyway
`)
	stub := &stubExecutor{statuses: map[string]executor.Status{"one": executor.StatusFailed}}
	r := newTestRunner(t, stub, func(cfg *Config) { cfg.ShortCircuit = false })

	res := r.RunJob(context.Background(), pl, pl.Jobs["build"], "run-1")

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "one", res.FailedStep)
	assert.Equal(t, []string{"one", "two"}, stub.ran)
	assert.Equal(t, executor.StatusSuccess, res.Steps[1].Status)
}

func TestRunJobConditions(t *testing.T) {
	pl := mustPipeline(t, `
jobs:
  build:
    steps:
      - name: breaks
        run: make build
      - name: on-success
        if: success()
        run: echo happy path
      - name: on-failure
        if: failure()
        run: echo cleanup
      - name: regardless
        if: always()
        run: echo report
`)
	stub := &stubExecutor{statuses: map[string]executor.Status{"breaks": executor.StatusFailed}}
	r := newTestRunner(t, stub, nil)

	res := r.RunJob(context.Background(), pl, pl.Jobs["build"], "run-1")

	assert.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.Steps, 4)
	assert.Equal(t, executor.StatusFailed, res.Steps[0].Status)
	assert.Equal(t, executor.StatusSkipped, res.Steps[1].Status)
	assert.Equal(t, "condition evaluated false", res.Steps[1].SkipReason)
	assert.Equal(t, executor.StatusSuccess, res.Steps[2].Status)
	assert.Equal(t, executor.StatusSuccess, res.Steps[3].Status)
	assert.Equal(t, []string{"breaks", "on-failure", "regardless"}, stub.ran)
}

func TestRunJobConditionFalseDoesNotFail(t *testing.T) {
	pl := mustPipeline(t, `
jobs:
  build:
    steps:
      - name: gated
        if: "false"
        run: echo never
      - name: rest
        run: echo runs
`)
	stub := &stubExecutor{}
	r := newTestRunner(t, stub, nil)

	res := r.RunJob(context.Background(), pl, pl.Jobs["build"], "run-1")

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, executor.StatusSkipped, res.Steps[0].Status)
	assert.Equal(t, []string{"rest"}, stub.ran)
}

func TestRunJobNoOpStep(t *testing.T) {
	pl := mustPipeline(t, `
jobs:
  build:
    steps:
      - name: checkpoint
      - name: work
        run: make build
`)
	stub := &stubExecutor{}
	r := newTestRunner(t, stub, nil)

	res := r.RunJob(context.Background(), pl, pl.Jobs["build"], "run-1")

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, executor.StatusSuccess, res.Steps[0].Status)
	// Only the real step reached the executor.
	assert.Equal(t, []string{"work"}, stub.ran)
}

func TestRunJobCanceledContextSkipsSteps(t *testing.T) {
	pl := mustPipeline(t, `
jobs:
  build:
    steps:
      - name: one
        run: echo one
      - name: two
        run: echo two
`)
	stub := &stubExecutor{}
	r := newTestRunner(t, stub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := r.RunJob(ctx, pl, pl.Jobs["build"], "run-1")

	assert.Empty(t, stub.ran)
	require.Len(t, res.Steps, 2)
	for _, s := range res.Steps {
		assert.Equal(t, executor.StatusSkipped, s.Status)
		assert.Equal(t, "run stopped", s.SkipReason)
	}
	// Nothing failed; skipped steps pass.
	assert.Equal(t, StatusSuccess, res.Status)
}

func TestRunJobTimeoutResolution(t *testing.T) {
	pl := mustPipeline(t, `
jobs:
  build:
    steps:
      - name: quick
        run: make quick
        timeout: 90
      - name: slow
        run: make slow
`)
	stub := &stubExecutor{}
	r := newTestRunner(t, stub, func(cfg *Config) { cfg.StepTimeout = 5 * time.Minute })

	r.RunJob(context.Background(), pl, pl.Jobs["build"], "run-1")

	require.Len(t, stub.calls, 2)
	assert.Equal(t, 90*time.Second, stub.calls[0].Timeout)
	assert.Equal(t, 5*time.Minute, stub.calls[1].Timeout)
}

func TestRunJobTimedOutStepFailsJob(t *testing.T) {
	pl := mustPipeline(t, `
jobs:
  deploy:
    steps:
      - name: push
        run: make push
`)
	stub := &stubExecutor{statuses: map[string]executor.Status{"push": executor.StatusTimedOut}}
	r := newTestRunner(t, stub, nil)

	res := r.RunJob(context.Background(), pl, pl.Jobs["deploy"], "run-1")

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "push", res.FailedStep)
}

func TestRunJobPassesResolvedOptions(t *testing.T) {
	pl := mustPipeline(t, `
env:
  CI: "true"
jobs:
  build:
    runs_on: go-1.24
    env:
      GOFLAGS: -mod=readonly
    steps:
      - name: compile
        run: go build ./...
        env:
          CGO_ENABLED: "0"
`)
	stub := &stubExecutor{}
	r := newTestRunner(t, stub, nil)

	r.RunJob(context.Background(), pl, pl.Jobs["build"], "run-42")

	require.Len(t, stub.calls, 1)
	opts := stub.calls[0]
	assert.Equal(t, "run-42", opts.RunID)
	assert.Equal(t, "build", opts.Job)
	assert.Equal(t, 0, opts.StepIndex)
	assert.Equal(t, "golang:1.24-bookworm", opts.Image)
	assert.Equal(t, executor.DefaultWorkDir, opts.WorkDir)
	assert.Equal(t, map[string]string{
		"CI":          "true",
		"GOFLAGS":     "-mod=readonly",
		"CGO_ENABLED": "0",
	}, opts.Env)
}
