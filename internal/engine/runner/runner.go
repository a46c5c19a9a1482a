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

// Package runner executes one job at a time: its steps strictly in
// sequence, each in its own container, with condition evaluation and the
// short-circuit policy applied between steps.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pipewright/pipewright/internal/engine/events"
	"github.com/pipewright/pipewright/internal/executor"
	"github.com/pipewright/pipewright/internal/log"
	"github.com/pipewright/pipewright/internal/tracing"
	"github.com/pipewright/pipewright/pkg/errors"
	"github.com/pipewright/pipewright/pkg/pipeline"
)

// DefaultStepTimeout bounds steps that declare no timeout of their own.
const DefaultStepTimeout = 10 * time.Minute

// Status is a job's terminal outcome as reported by the runner. Skipped
// and stopped classifications are applied by the scheduler, which knows
// the run-level context.
type Status string

const (
	// StatusSuccess means every counted step passed.
	StatusSuccess Status = "success"
	// StatusFailed means at least one counted step failed or timed out.
	StatusFailed Status = "failed"
)

// JobResult aggregates the step results of one executed job.
type JobResult struct {
	// Job is the job name
	Job string `json:"job"`

	// Status is success or failed
	Status Status `json:"status"`

	// FailedStep names the first step that failed the job
	FailedStep string `json:"failed_step,omitempty"`

	// Steps holds one result per declared step, in declaration order
	Steps []executor.StepResult `json:"steps"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns the job's wall-clock time.
func (r JobResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Config holds runner policy. DefaultConfig supplies the standard values;
// a zero Config is not usable directly.
type Config struct {
	// Executor runs individual steps. Required.
	Executor executor.StepExecutor

	// StepTimeout applies to steps that declare no timeout.
	StepTimeout time.Duration

	// ShortCircuit skips the remaining steps of a job once a step fails.
	// Steps with an explicit condition are still evaluated and may run.
	ShortCircuit bool

	// Workspace is the host directory mounted into every container.
	Workspace string

	// WorkDir is the mount point inside the container.
	WorkDir string

	Logger *slog.Logger
}

// DefaultConfig returns the standard runner policy, without an executor.
func DefaultConfig() Config {
	return Config{
		StepTimeout:  DefaultStepTimeout,
		ShortCircuit: true,
		WorkDir:      executor.DefaultWorkDir,
	}
}

// Runner executes jobs. Safe for concurrent use; the scheduler runs one
// RunJob goroutine per in-flight job.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and creates a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Executor == nil {
		return nil, errors.New("runner requires a step executor")
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = executor.DefaultWorkDir
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithComponent(slog.Default(), "runner")
	}
	return &Runner{cfg: cfg, logger: logger}, nil
}

// RunJob executes every step of job in order and aggregates the results.
// It blocks until the job reaches a terminal state. Cancelling ctx kills
// the in-flight step and records the remaining steps as skipped.
func (r *Runner) RunJob(ctx context.Context, pl *pipeline.Pipeline, job *pipeline.Job, runID string) JobResult {
	started := time.Now()
	result := JobResult{
		Job:       job.Name,
		StartedAt: started,
		Steps:     make([]executor.StepResult, 0, len(job.Steps)),
	}

	ctx, span := tracing.StartJob(ctx, runID, job.Name)
	defer span.End()

	r.logger.Info("job started",
		log.String(log.RunIDKey, runID),
		log.String(log.JobKey, job.Name),
		log.String("runs_on", job.RunsOn),
		log.Int("steps", len(job.Steps)))

	image := executor.ResolveImage(job.RunsOn)
	failed := false

	for i := range job.Steps {
		step := job.Steps[i]
		stepRes := r.runStep(ctx, pl, job, step, i, runID, image, failed)
		result.Steps = append(result.Steps, stepRes)

		if !stepRes.Status.Passing() && !step.ContinueOnError {
			if !failed {
				result.FailedStep = step.Name
			}
			failed = true
		}
	}

	result.FinishedAt = time.Now()
	if failed {
		result.Status = StatusFailed
		span.Fail(fmt.Sprintf("step %s failed", result.FailedStep))
	} else {
		result.Status = StatusSuccess
		span.OK()
	}
	span.SetAttributes(attribute.String("job.status", string(result.Status)))
	recordJob(result.Status, result.Duration())

	r.logger.Info("job finished",
		log.String(log.RunIDKey, runID),
		log.String(log.JobKey, job.Name),
		log.String("status", string(result.Status)),
		log.Duration("duration", result.Duration().Milliseconds()))

	return result
}

// runStep decides whether one step runs, then runs it. failed is the job's
// failure state entering this step.
func (r *Runner) runStep(ctx context.Context, pl *pipeline.Pipeline, job *pipeline.Job, step pipeline.Step, index int, runID, image string, failed bool) executor.StepResult {
	// A stopped run skips everything that has not started.
	if ctx.Err() != nil {
		return r.skipped(runID, job.Name, step, "run stopped")
	}

	// An explicit condition decides on its own, seeing the job's failure
	// state. Without one, the short-circuit policy applies.
	if step.If != "" {
		ok, err := pipeline.EvalCondition(step.If, pipeline.ConditionContext{
			Job:    job.Name,
			Step:   step.Name,
			Failed: failed,
		})
		if err != nil {
			return r.conditionFailure(runID, job.Name, step, err)
		}
		if !ok {
			return r.skipped(runID, job.Name, step, "condition evaluated false")
		}
	} else if failed && r.cfg.ShortCircuit {
		return r.skipped(runID, job.Name, step, "previous step failed")
	}

	// Steps with no command succeed without a container.
	if strings.TrimSpace(step.Run) == "" {
		now := time.Now()
		return executor.StepResult{
			Name:       step.Name,
			Status:     executor.StatusSuccess,
			StartedAt:  now,
			FinishedAt: now,
		}
	}

	timeout := step.Timeout.Std()
	if timeout <= 0 {
		timeout = r.cfg.StepTimeout
	}

	stepCtx, span := tracing.StartStep(ctx, job.Name, step.Name, index)
	defer span.End()

	res := r.cfg.Executor.RunStep(stepCtx, step, executor.Options{
		RunID:     runID,
		Job:       job.Name,
		StepIndex: index,
		Workspace: r.cfg.Workspace,
		WorkDir:   r.cfg.WorkDir,
		Image:     image,
		Env:       pl.StepEnv(job, &step),
		Timeout:   timeout,
	})

	span.SetAttributes(
		attribute.String("step.status", string(res.Status)),
		attribute.Int("step.exit_code", res.ExitCode),
	)
	if !res.Status.Passing() {
		span.Fail(string(res.Status))
	} else {
		span.OK()
	}
	return res
}

// skipped builds the result for a step that never ran.
func (r *Runner) skipped(runID, job string, step pipeline.Step, reason string) executor.StepResult {
	now := time.Now()
	r.logger.Debug("step skipped",
		log.String(log.RunIDKey, runID),
		log.String(log.JobKey, job),
		log.String(log.StepKey, step.Name),
		log.String("reason", reason))
	return executor.StepResult{
		Name:       step.Name,
		Command:    step.Run,
		Status:     executor.StatusSkipped,
		SkipReason: reason,
		StartedAt:  now,
		FinishedAt: now,
	}
}

// conditionFailure builds the result for a step whose condition could not
// be evaluated. The error surfaces on the system stream so it reaches the
// transcript and any live subscribers.
func (r *Runner) conditionFailure(runID, job string, step pipeline.Step, err error) executor.StepResult {
	now := time.Now()
	line := fmt.Sprintf("condition evaluation failed: %v", err)

	r.logger.Error("step condition failed to evaluate",
		log.String(log.RunIDKey, runID),
		log.String(log.JobKey, job),
		log.String(log.StepKey, step.Name),
		log.Error(err))

	return executor.StepResult{
		Name:     step.Name,
		Command:  step.Run,
		Status:   executor.StatusFailed,
		ExitCode: -1,
		Log: []executor.LogLine{
			{Stream: events.StreamSystem, Line: line, Time: now},
		},
		StartedAt:  now,
		FinishedAt: now,
	}
}
