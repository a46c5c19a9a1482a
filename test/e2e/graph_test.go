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

package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pipewright/pipewright/internal/engine/events"
	"github.com/pipewright/pipewright/internal/engine/scheduler"
	"github.com/pipewright/pipewright/pkg/errors"
	"github.com/pipewright/pipewright/test/e2e/harness"
)

func TestDiamondGraphOrdering(t *testing.T) {
	h := harness.New(t)

	snap := h.Run(h.Load(`
name: diamond
jobs:
  base:
    steps:
      - run: echo base
  left:
    needs: [base]
    steps:
      - run: echo left
  right:
    needs: [base]
    steps:
      - run: echo right
  top:
    needs: [left, right]
    steps:
      - run: echo top
`))

	h.AssertSuccess(t, snap)
	h.AssertJobOrder(t, "base", "left")
	h.AssertJobOrder(t, "base", "right")
	h.AssertJobOrder(t, "left", "top")
	h.AssertJobOrder(t, "right", "top")
}

func TestMaxParallelSerializesJobs(t *testing.T) {
	h := harness.New(t, harness.WithMaxParallel(1))

	snap := h.Run(h.Load(`
name: serialized
jobs:
  first:
    steps:
      - run: sleep 0.3
  second:
    steps:
      - run: sleep 0.3
`))
	h.AssertSuccess(t, snap)

	// With a parallelism cap of one, no job may start while another is
	// still running.
	open := ""
	for _, ev := range h.Events() {
		if ev.Kind != events.KindJobState {
			continue
		}
		switch ev.State {
		case string(scheduler.JobRunning):
			if open != "" {
				t.Fatalf("job %q started while %q was running", ev.Job, open)
			}
			open = ev.Job
		case string(scheduler.JobSuccess), string(scheduler.JobFailed):
			if open == ev.Job {
				open = ""
			}
		}
	}
}

func TestCyclicPipelineRejectedAtLoad(t *testing.T) {
	h := harness.New(t)

	p := h.Load(`
name: cyclic
jobs:
  a:
    needs: [b]
    steps:
      - run: echo a
  b:
    needs: [a]
    steps:
      - run: echo b
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := h.Scheduler().LoadRun(ctx, p, "e2e")
	require.Error(t, err)

	var cycleErr *errors.CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.ElementsMatch(t, []string{"a", "b"}, cycleErr.Jobs)
}
