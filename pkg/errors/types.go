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

package errors

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a pipeline definition that failed structural
// checks. Use this for missing required fields, malformed values, or
// references to jobs that do not exist. Load attempts that produce a
// ValidationError leave the prior run state untouched.
type ValidationError struct {
	// Field identifies the offending location, e.g. "jobs.build.steps[2]"
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// CycleError reports a dependency cycle in the job graph. No job executes
// under a cyclic graph; the load attempt fails and the prior run state is
// left untouched.
type CycleError struct {
	// Jobs are the names involved in (or downstream of) the cycle,
	// in lexical order.
	Jobs []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	if len(e.Jobs) == 0 {
		return "dependency cycle detected"
	}
	return fmt.Sprintf("dependency cycle detected involving jobs: %s", strings.Join(e.Jobs, ", "))
}

// ExecutionError represents a step that could not be run or exited non-zero:
// the container runtime could not be spawned, or the command inside it
// failed. It is recorded as a failed step result and surfaces as the owning
// job's failed terminal state. Steps are not retried.
type ExecutionError struct {
	// Job is the owning job name
	Job string

	// Step is the step name
	Step string

	// ExitCode is the subprocess exit code (-1 when the process never ran)
	ExitCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("step %q in job %q failed", e.Step, e.Job)
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("%s with exit code %d", msg, e.ExitCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents an operation that exceeded its configured timeout,
// typically a step whose container outlived its deadline and was killed.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "step install in job build")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// StalledError reports a run where no job is ready, none is running, and
// non-terminal jobs remain. Skip propagation makes this unreachable for
// well-formed graphs; it is detected and surfaced rather than silently
// leaving jobs pending forever.
type StalledError struct {
	// Pending are the names of the jobs that can never become ready.
	Pending []string
}

// Error implements the error interface.
func (e *StalledError) Error() string {
	return fmt.Sprintf("run stalled: %d job(s) can never become ready: %s",
		len(e.Pending), strings.Join(e.Pending, ", "))
}

// NotFoundError represents a resource not found error.
// Use this when a requested job, run, or pipeline does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "job", "run")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConflictError represents an operation that is invalid in the current run
// state, such as starting a run while one is active or stopping when
// nothing is running.
type ConflictError struct {
	// Op is the rejected operation (e.g., "start", "stop")
	Op string

	// Reason explains why the operation was rejected
	Reason string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot %s: %s", e.Op, e.Reason)
}

// ConfigError represents engine configuration problems: unreadable paths,
// unparseable durations, invalid listen addresses. These are startup-time
// failures, distinct from pipeline ValidationErrors.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "PIPEWRIGHT_STEP_TIMEOUT")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
