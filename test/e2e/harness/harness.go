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

// Package harness assembles a complete in-process engine for end-to-end
// pipeline tests: real scheduler, runner, executor, history store, and
// event bus. The container runtime is a stub that runs each step's
// command on the host inside the workspace, unless a test supplies a
// real runtime via WithRuntimeBinary.
package harness

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pipewright/pipewright/internal/engine/events"
	"github.com/pipewright/pipewright/internal/engine/runner"
	"github.com/pipewright/pipewright/internal/engine/scheduler"
	"github.com/pipewright/pipewright/internal/executor"
	"github.com/pipewright/pipewright/internal/history"
	"github.com/pipewright/pipewright/internal/log"
	"github.com/pipewright/pipewright/pkg/pipeline"
)

// Harness wires a real engine for one test. Create with New; every
// resource is released via t.Cleanup.
type Harness struct {
	t *testing.T

	workspace   string
	runtime     string
	timeout     time.Duration
	stepTimeout time.Duration
	maxParallel int

	store *history.Store
	bus   *events.Bus
	sched *scheduler.Scheduler

	mu       sync.Mutex
	captured []events.Event
	drained  chan struct{}
}

// New builds and starts an engine with test-friendly defaults: a stub
// runtime, a fresh workspace and history database, and a 30 second run
// timeout.
func New(t *testing.T, opts ...Option) *Harness {
	t.Helper()

	h := &Harness{
		t:       t,
		timeout: 30 * time.Second,
		drained: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.workspace == "" {
		h.workspace = t.TempDir()
	}
	if h.runtime == "" {
		h.runtime = StubRuntime(t)
	}

	// The engine under test logs through the normal stack; keep it quiet
	// unless a test fails and -v output is wanted.
	logger := log.New(&log.Config{Level: "error", Output: io.Discard})

	store, err := history.New(history.Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	h.store = store

	h.bus = events.NewBus()
	docker := executor.NewDocker(executor.Config{
		Binary: h.runtime,
		Sink:   h.bus.Publish,
		Logger: logger,
	})

	run, err := runner.New(runner.Config{
		Executor:     docker,
		StepTimeout:  h.stepTimeout,
		ShortCircuit: true,
		Workspace:    h.workspace,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("create runner: %v", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		Runner:      run,
		History:     store,
		Bus:         h.bus,
		MaxParallel: h.maxParallel,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("create scheduler: %v", err)
	}
	h.sched = sched

	// Subscribe before Start so the first events cannot be missed.
	ch, _ := h.bus.Subscribe(events.AllJobs)
	go func() {
		defer close(h.drained)
		for ev := range ch {
			h.mu.Lock()
			h.captured = append(h.captured, ev)
			h.mu.Unlock()
		}
	}()

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.sched.Shutdown(ctx); err != nil {
			t.Logf("scheduler shutdown: %v", err)
		}
		h.bus.Close()
		<-h.drained
		if err := h.store.Close(); err != nil {
			t.Logf("history close: %v", err)
		}
	})

	return h
}

// Workspace returns the host directory mounted into every step.
func (h *Harness) Workspace() string {
	return h.workspace
}

// History returns the engine's history store for direct assertions.
func (h *Harness) History() *history.Store {
	return h.store
}

// Scheduler returns the underlying scheduler for operations the harness
// does not wrap.
func (h *Harness) Scheduler() *scheduler.Scheduler {
	return h.sched
}

// LoadFile parses a pipeline definition from a YAML file.
func (h *Harness) LoadFile(path string) *pipeline.Pipeline {
	h.t.Helper()
	p, err := pipeline.ParseFile(path)
	if err != nil {
		h.t.Fatalf("parse pipeline %q: %v", path, err)
	}
	return p
}

// Load parses an inline pipeline definition.
func (h *Harness) Load(content string) *pipeline.Pipeline {
	h.t.Helper()
	p, err := pipeline.Parse([]byte(content))
	if err != nil {
		h.t.Fatalf("parse pipeline: %v", err)
	}
	return p
}

// Run executes the pipeline to completion and returns the final run
// snapshot. Fails the test if the run does not finish within the harness
// timeout.
func (h *Harness) Run(p *pipeline.Pipeline) *scheduler.RunSnapshot {
	h.t.Helper()
	h.Start(p)
	return h.Wait()
}

// Start loads the pipeline and begins dispatching, returning the run ID
// without waiting. Use Wait (or StopRun) afterwards.
func (h *Harness) Start(p *pipeline.Pipeline) string {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	runID, err := h.sched.LoadRun(ctx, p, "e2e")
	if err != nil {
		h.t.Fatalf("load run: %v", err)
	}
	if err := h.sched.StartRun(ctx); err != nil {
		h.t.Fatalf("start run: %v", err)
	}
	return runID
}

// StopRun asks the scheduler to stop the active run.
func (h *Harness) StopRun(reason string) {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.sched.StopRun(ctx, reason); err != nil {
		h.t.Fatalf("stop run: %v", err)
	}
}

// Wait polls until the current run leaves the running state and returns
// the final snapshot.
func (h *Harness) Wait() *scheduler.RunSnapshot {
	h.t.Helper()

	deadline := time.Now().Add(h.timeout)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		snap, err := h.sched.Snapshot(ctx)
		cancel()
		if err != nil {
			h.t.Fatalf("snapshot: %v", err)
		}
		if snap.Status != scheduler.RunRunning {
			return snap
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("run %s still %s after %s", snap.RunID, snap.Status, h.timeout)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// Events returns a copy of every event captured so far.
func (h *Harness) Events() []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.Event, len(h.captured))
	copy(out, h.captured)
	return out
}
