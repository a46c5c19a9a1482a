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

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/pipewright/pipewright/internal/engine/events"
	"github.com/pipewright/pipewright/internal/log"
	"github.com/pipewright/pipewright/pkg/pipeline"
)

const (
	// DefaultBinary is the container runtime invoked for each step.
	DefaultBinary = "docker"

	// DefaultGracePeriod is how long a container gets between SIGTERM and
	// SIGKILL when a step is stopped or times out.
	DefaultGracePeriod = 10 * time.Second

	// labelRun and labelJob mark containers so leaked ones can be found
	// with a label filter.
	labelRun = "io.pipewright.run"
	labelJob = "io.pipewright.job"
)

// Config holds the knobs for a Docker executor. Zero values select the
// defaults above.
type Config struct {
	// Binary is the container runtime executable. Anything with a
	// docker-compatible "run" subcommand works (podman, nerdctl).
	Binary string

	// GracePeriod is the SIGTERM to SIGKILL window.
	GracePeriod time.Duration

	// Sink receives every log line as it is read. Optional.
	Sink Sink

	Logger *slog.Logger
}

// Docker runs each step in a fresh container via the docker CLI. The
// container is removed when the step finishes; nothing persists between
// steps except the mounted workspace.
type Docker struct {
	binary string
	grace  time.Duration
	sink   Sink
	logger *slog.Logger
}

var _ StepExecutor = (*Docker)(nil)

// NewDocker creates a Docker executor.
func NewDocker(cfg Config) *Docker {
	binary := cfg.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithComponent(slog.Default(), "executor")
	}
	return &Docker{
		binary: binary,
		grace:  grace,
		sink:   cfg.Sink,
		logger: logger,
	}
}

// RunStep executes one step in an ephemeral container and returns its
// result. Infrastructure failures (runtime missing, container refused to
// start) are reported as a failed result with exit code -1 and an
// explanatory system line, never as a panic or a silent success.
func (d *Docker) RunStep(ctx context.Context, step pipeline.Step, opts Options) StepResult {
	started := time.Now()
	result := StepResult{
		Name:      step.Name,
		Command:   step.Run,
		StartedAt: started,
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = DefaultWorkDir
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	name := containerName(opts.RunID, opts.Job, opts.StepIndex)
	args := d.buildArgs(name, workDir, step.Run, opts)
	coll := newCollector(step.Name, opts, d.sink)

	d.logger.Debug("starting step container",
		log.String(log.RunIDKey, opts.RunID),
		log.String(log.JobKey, opts.Job),
		log.String(log.StepKey, step.Name),
		log.String("image", opts.Image),
		log.String("container", name))

	cmd := exec.CommandContext(ctx, d.binary, args...)
	// The docker CLI and its children get their own process group so that
	// cancellation signals the whole group, not just the CLI.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = d.grace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return d.spawnFailure(result, coll, started, opts, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return d.spawnFailure(result, coll, started, opts, err)
	}

	if err := cmd.Start(); err != nil {
		return d.spawnFailure(result, coll, started, opts, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		coll.drain(events.StreamStdout, stdout)
	}()
	go func() {
		defer wg.Done()
		coll.drain(events.StreamStderr, stderr)
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	result.FinishedAt = time.Now()
	result.ExitCode = cmd.ProcessState.ExitCode()

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		result.Status = StatusTimedOut
		result.ExitCode = -1
		coll.system(fmt.Sprintf("step timed out after %s, container killed", opts.Timeout))
		d.removeContainer(name)
	case ctx.Err() == context.Canceled:
		result.Status = StatusFailed
		result.ExitCode = -1
		coll.system("step canceled before completion")
		d.removeContainer(name)
	case waitErr != nil && result.ExitCode < 0:
		result.Status = StatusFailed
		coll.system(fmt.Sprintf("container runtime error: %v", waitErr))
	case result.ExitCode == 0:
		result.Status = StatusSuccess
	default:
		result.Status = StatusFailed
	}

	result.Log = coll.transcript()
	recordStep(result.Status, result.FinishedAt.Sub(started))

	d.logger.Debug("step container finished",
		log.String(log.RunIDKey, opts.RunID),
		log.String(log.JobKey, opts.Job),
		log.String(log.StepKey, step.Name),
		log.String("status", string(result.Status)),
		log.Int("exit_code", result.ExitCode),
		log.Duration("duration", result.FinishedAt.Sub(started).Milliseconds()))

	return result
}

// buildArgs assembles the docker run argv for one step. Env keys are
// sorted so the argv is deterministic.
func (d *Docker) buildArgs(name, workDir, command string, opts Options) []string {
	args := []string{
		"run", "--rm",
		"--name", name,
		"--label", labelRun + "=" + opts.RunID,
		"--label", labelJob + "=" + opts.Job,
		"-v", opts.Workspace + ":" + workDir,
		"-w", workDir,
	}

	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+opts.Env[k])
	}

	return append(args, opts.Image, "sh", "-c", command)
}

// spawnFailure finalizes a result for a step whose container never ran.
func (d *Docker) spawnFailure(result StepResult, coll *collector, started time.Time, opts Options, err error) StepResult {
	coll.system(fmt.Sprintf("failed to start container runtime: %v", err))

	result.Status = StatusFailed
	result.ExitCode = -1
	result.FinishedAt = time.Now()
	result.Log = coll.transcript()
	recordStep(result.Status, result.FinishedAt.Sub(started))

	d.logger.Error("step container failed to start",
		log.String(log.RunIDKey, opts.RunID),
		log.String(log.JobKey, opts.Job),
		log.String(log.StepKey, result.Name),
		log.Error(err))

	return result
}

// removeContainer force-removes a container left behind by a kill. The
// --rm flag usually handles cleanup; this covers the SIGKILL path where
// the CLI died before it could. Best effort.
func (d *Docker) removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := exec.CommandContext(ctx, d.binary, "rm", "-f", name).Run(); err != nil {
		d.logger.Debug("container cleanup failed",
			log.String("container", name),
			log.Error(err))
	}
}
