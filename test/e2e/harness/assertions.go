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

package harness

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pipewright/pipewright/internal/engine/events"
	"github.com/pipewright/pipewright/internal/engine/scheduler"
)

// AssertSuccess asserts the run finished with every job passing.
func (h *Harness) AssertSuccess(t *testing.T, snap *scheduler.RunSnapshot) {
	t.Helper()
	h.AssertRunStatus(t, snap, scheduler.RunSuccess)
}

// AssertRunStatus asserts the run's final status.
func (h *Harness) AssertRunStatus(t *testing.T, snap *scheduler.RunSnapshot, want scheduler.RunStatus) {
	t.Helper()

	if snap == nil {
		t.Fatal("run snapshot is nil")
	}
	if snap.Status != want {
		t.Errorf("run %s finished %s, want %s (jobs: %s)",
			snap.RunID, snap.Status, want, describeJobs(snap))
	}
}

// AssertJobState asserts one job's final state.
func (h *Harness) AssertJobState(t *testing.T, snap *scheduler.RunSnapshot, job string, want scheduler.JobState) {
	t.Helper()

	if snap == nil {
		t.Fatal("run snapshot is nil")
	}
	for _, js := range snap.Jobs {
		if js.Name == job {
			if js.State != want {
				t.Errorf("job %q finished %s (reason %q), want %s", job, js.State, js.Reason, want)
			}
			return
		}
	}
	t.Errorf("job %q not in snapshot (jobs: %s)", job, describeJobs(snap))
}

// AssertJobOrder asserts that `before` reached a terminal state before
// `after` started, using the captured event stream.
func (h *Harness) AssertJobOrder(t *testing.T, before, after string) {
	t.Helper()

	finished, started := -1, -1
	for i, ev := range h.Events() {
		if ev.Kind != events.KindJobState {
			continue
		}
		if ev.Job == before && finished == -1 &&
			(ev.State == string(scheduler.JobSuccess) || ev.State == string(scheduler.JobFailed)) {
			finished = i
		}
		if ev.Job == after && ev.State == string(scheduler.JobRunning) {
			started = i
		}
	}

	switch {
	case finished == -1:
		t.Errorf("no terminal state event for job %q", before)
	case started == -1:
		t.Errorf("no running state event for job %q", after)
	case started < finished:
		t.Errorf("job %q started before %q finished", after, before)
	}
}

// AssertLogContains asserts some captured log line for the job contains
// the substring.
func (h *Harness) AssertLogContains(t *testing.T, job, substr string) {
	t.Helper()

	var lines []string
	for _, ev := range h.Events() {
		if ev.Kind != events.KindLog || ev.Job != job {
			continue
		}
		if strings.Contains(ev.Line, substr) {
			return
		}
		lines = append(lines, ev.Line)
	}
	t.Errorf("no log line for job %q contains %q (got %d lines: %q)", job, substr, len(lines), lines)
}

// AssertNoLogs asserts the job produced no stdout/stderr output, which is
// how a skipped job looks on the bus.
func (h *Harness) AssertNoLogs(t *testing.T, job string) {
	t.Helper()

	for _, ev := range h.Events() {
		if ev.Kind == events.KindLog && ev.Job == job && ev.Stream != events.StreamSystem {
			t.Errorf("job %q unexpectedly produced output: %q", job, ev.Line)
			return
		}
	}
}

// AssertHistoryRun asserts the run was persisted with the given status
// and job count.
func (h *Harness) AssertHistoryRun(t *testing.T, runID, status string, jobs int) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	detail, err := h.store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("history GetRun(%s): %v", runID, err)
	}
	if detail.Status != status {
		t.Errorf("history run %s status %q, want %q", runID, detail.Status, status)
	}
	if len(detail.Jobs) != jobs {
		t.Errorf("history run %s has %d jobs, want %d", runID, len(detail.Jobs), jobs)
	}
}

func describeJobs(snap *scheduler.RunSnapshot) string {
	parts := make([]string, 0, len(snap.Jobs))
	for _, js := range snap.Jobs {
		parts = append(parts, js.Name+"="+string(js.State))
	}
	return strings.Join(parts, " ")
}
