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

// Package executor runs single pipeline steps inside ephemeral containers.
//
// One container is spawned per step and removed on exit; nothing is reused
// across steps. Output is consumed line by line as it arrives and forwarded
// to a sink immediately, while the full transcript is retained in the
// returned StepResult. Infrastructure failures (runtime missing, spawn
// refused) are folded into a failed StepResult rather than returned as a
// separate error, so callers aggregate every outcome the same way.
package executor

import (
	"context"
	"time"

	"github.com/pipewright/pipewright/internal/engine/events"
	"github.com/pipewright/pipewright/pkg/pipeline"
)

// Status classifies a step outcome.
type Status string

const (
	// StatusSuccess means the command exited zero.
	StatusSuccess Status = "success"
	// StatusFailed means the command exited non-zero or never spawned.
	StatusFailed Status = "failed"
	// StatusSkipped means the step did not run (condition false, earlier
	// failure short-circuited the job, or the run was stopped).
	StatusSkipped Status = "skipped"
	// StatusTimedOut means the step exceeded its deadline and was killed.
	StatusTimedOut Status = "timed_out"
)

// Passing reports whether the status counts toward job success: succeeded
// steps pass, skipped steps neither pass nor fail and are treated as
// passing for aggregation.
func (s Status) Passing() bool {
	return s == StatusSuccess || s == StatusSkipped
}

// LogLine is one transcript entry. Seq orders lines within one stream of
// one step; ordering across the two streams is not guaranteed.
type LogLine struct {
	Stream events.Stream `json:"stream"`
	Line   string        `json:"line"`
	Seq    int64         `json:"seq"`
	Time   time.Time     `json:"time"`
}

// StepResult is the full record of one executed step.
type StepResult struct {
	// Name is the step's display name
	Name string `json:"name"`

	// Command is the shell command that ran (empty for no-op steps)
	Command string `json:"command,omitempty"`

	// Status is the outcome classification
	Status Status `json:"status"`

	// ExitCode is the subprocess exit code; -1 when the process never
	// ran or was killed before exiting
	ExitCode int `json:"exit_code"`

	// Log is the complete ordered transcript (stdout and stderr merged
	// by arrival, each stream individually ordered)
	Log []LogLine `json:"log,omitempty"`

	// SkipReason explains a skipped step
	SkipReason string `json:"skip_reason,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns how long the step ran.
func (r StepResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Sink receives log events the moment each output line arrives. A nil sink
// disables forwarding; the transcript is collected either way.
type Sink func(events.Event)

// Options carries the per-step execution parameters resolved by the runner.
type Options struct {
	// RunID tags log events and the container name
	RunID string

	// Job is the owning job name
	Job string

	// StepIndex is the step's position within the job (zero-based)
	StepIndex int

	// Workspace is the host directory mounted read-write into the
	// container
	Workspace string

	// WorkDir is the mount point and working directory inside the
	// container; defaults to /workspace
	WorkDir string

	// Image is the concrete container image (already resolved)
	Image string

	// Env is the effective environment for the step
	Env map[string]string

	// Timeout bounds execution; zero means no deadline is added here
	// (the caller may already have applied one to the context)
	Timeout time.Duration
}

// StepExecutor runs one step to completion and reports its result.
type StepExecutor interface {
	RunStep(ctx context.Context, step pipeline.Step, opts Options) StepResult
}

// DefaultWorkDir is the in-container workspace mount point.
const DefaultWorkDir = "/workspace"
