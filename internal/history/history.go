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

// Package history persists run, job, and step records plus log transcripts
// to SQLite. It is the durable record of engine activity; the in-memory
// events bus only serves live subscribers.
package history

import "time"

// RunRecord is one pipeline run.
type RunRecord struct {
	// ID is the run UUID
	ID string `json:"id"`

	// Pipeline is the pipeline name
	Pipeline string `json:"pipeline"`

	// Source is the pipeline file path the run was loaded from
	Source string `json:"source,omitempty"`

	// Status is running, success, failed, stopped, or stalled
	Status string `json:"status"`

	// Error carries a terminal error message, if any
	Error string `json:"error,omitempty"`

	StartedAt time.Time `json:"started_at"`

	// FinishedAt is zero while the run is in flight
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// JobRecord is one job's terminal record within a run.
type JobRecord struct {
	RunID      string    `json:"run_id"`
	Job        string    `json:"job"`
	Status     string    `json:"status"`
	RunsOn     string    `json:"runs_on"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// StepRecord is one step's terminal record within a job.
type StepRecord struct {
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

// LogRecord is one persisted log line.
type LogRecord struct {
	RunID     string    `json:"run_id"`
	Job       string    `json:"job"`
	Step      string    `json:"step"`
	Stream    string    `json:"stream"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// JobDetail is a job record with its step records.
type JobDetail struct {
	JobRecord
	Steps []StepRecord `json:"steps"`
}

// RunDetail is a full run record: the run plus every job and step.
type RunDetail struct {
	RunRecord
	Jobs []JobDetail `json:"jobs"`
}
