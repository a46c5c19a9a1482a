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

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pwerrors "github.com/pipewright/pipewright/pkg/errors"
	"github.com/pipewright/pipewright/pkg/pipeline"
)

// makeJobs builds a job list from name → needs. Steps are irrelevant to the
// graph and filled with a single placeholder.
func makeJobs(needs map[string][]string) []*pipeline.Job {
	jobs := make([]*pipeline.Job, 0, len(needs))
	for name, deps := range needs {
		jobs = append(jobs, &pipeline.Job{
			Name:  name,
			Needs: deps,
			Steps: []pipeline.Step{{Name: "noop", Run: "true"}},
		})
	}
	return jobs
}

// diamond is the canonical fixture: build fans out to test and lint, which
// join at deploy.
func diamond(t *testing.T) *Graph {
	t.Helper()
	g, err := Build(makeJobs(map[string][]string{
		"build":  nil,
		"test":   {"build"},
		"lint":   {"build"},
		"deploy": {"test", "lint"},
	}))
	require.NoError(t, err)
	return g
}

func TestBuild_Diamond(t *testing.T) {
	g := diamond(t)

	assert.Equal(t, 4, g.Len())
	assert.True(t, g.Has("deploy"))
	assert.False(t, g.Has("publish"))
	assert.Equal(t, []string{"build", "deploy", "lint", "test"}, g.Jobs())
}

func TestBuild_Cycle(t *testing.T) {
	_, err := Build(makeJobs(map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}))
	require.Error(t, err)

	var cycleErr *pwerrors.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.ElementsMatch(t, []string{"a", "b"}, cycleErr.Jobs)
}

func TestBuild_CycleWithDownstream(t *testing.T) {
	// c depends on the a↔b cycle and can never run either.
	_, err := Build(makeJobs(map[string][]string{
		"a": {"b"},
		"b": {"a"},
		"c": {"b"},
	}))

	var cycleErr *pwerrors.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Contains(t, cycleErr.Jobs, "a")
	assert.Contains(t, cycleErr.Jobs, "b")
	assert.Contains(t, cycleErr.Jobs, "c")
}

func TestBuild_SelfCycle(t *testing.T) {
	_, err := Build(makeJobs(map[string][]string{
		"a": {"a"},
	}))

	var cycleErr *pwerrors.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"a"}, cycleErr.Jobs)
}

func TestBuild_UnknownDependency(t *testing.T) {
	_, err := Build(makeJobs(map[string][]string{
		"test": {"build"},
	}))

	var verr *pwerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, `unknown job "build"`)
}

func TestBuild_DuplicateName(t *testing.T) {
	jobs := []*pipeline.Job{
		{Name: "build", Steps: []pipeline.Step{{Run: "true"}}},
		{Name: "build", Steps: []pipeline.Step{{Run: "true"}}},
	}
	_, err := Build(jobs)

	var verr *pwerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "duplicate job name")
}

func TestTopologicalOrder(t *testing.T) {
	g := diamond(t)

	order, err := g.TopologicalOrder()
	require.NoError(t, err)

	// Lexical tie-break makes the order fully deterministic.
	assert.Equal(t, []string{"build", "lint", "test", "deploy"}, order)

	// Every dependency must precede its dependents.
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	for _, job := range g.Jobs() {
		for _, dep := range g.Dependencies(job) {
			assert.Less(t, pos[dep], pos[job], "%s must precede %s", dep, job)
		}
	}
}

func TestReadyJobs_Progression(t *testing.T) {
	g := diamond(t)

	completed := map[string]bool{}
	running := map[string]bool{}

	// Fresh graph: only the root is ready.
	assert.Equal(t, []string{"build"}, g.ReadyJobs(completed, running))

	// build runs: nothing new becomes ready while it is in flight.
	running["build"] = true
	assert.Empty(t, g.ReadyJobs(completed, running))

	// build done: the fan-out becomes ready, as a set.
	delete(running, "build")
	completed["build"] = true
	assert.Equal(t, []string{"lint", "test"}, g.ReadyJobs(completed, running))

	// test and lint dispatched; test finishes first. deploy still blocked
	// on lint.
	running["lint"] = true
	running["test"] = true
	delete(running, "test")
	completed["test"] = true
	assert.Empty(t, g.ReadyJobs(completed, running))

	// lint finishes: the join is ready.
	delete(running, "lint")
	completed["lint"] = true
	assert.Equal(t, []string{"deploy"}, g.ReadyJobs(completed, running))

	// deploy finishes: run fully terminal.
	completed["deploy"] = true
	assert.Empty(t, g.ReadyJobs(completed, running))
}

func TestReadyJobs_Idempotent(t *testing.T) {
	g := diamond(t)
	completed := map[string]bool{"build": true}
	running := map[string]bool{"test": true}

	first := g.ReadyJobs(completed, running)
	second := g.ReadyJobs(completed, running)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"lint"}, first)
}

func TestNeighborQueries(t *testing.T) {
	g := diamond(t)

	assert.Equal(t, []string{"lint", "test"}, g.Dependents("build"))
	assert.Empty(t, g.Dependents("deploy"))
	assert.Equal(t, []string{"lint", "test"}, g.Dependencies("deploy"))
	assert.Empty(t, g.Dependencies("build"))
}

func TestTransitiveDependents(t *testing.T) {
	g := diamond(t)

	assert.Equal(t, []string{"deploy", "lint", "test"}, g.TransitiveDependents("build"))
	assert.Equal(t, []string{"deploy"}, g.TransitiveDependents("test"))
	assert.Empty(t, g.TransitiveDependents("deploy"))
}

func TestInDegrees(t *testing.T) {
	g := diamond(t)

	assert.Equal(t, map[string]int{
		"build":  0,
		"test":   1,
		"lint":   1,
		"deploy": 2,
	}, g.InDegrees())
}

func TestBuild_LinearChain(t *testing.T) {
	g, err := Build(makeJobs(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	}))
	require.NoError(t, err)

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestQueryResultsAreCopies(t *testing.T) {
	g := diamond(t)

	deps := g.Dependents("build")
	deps[0] = "mutated"

	assert.Equal(t, []string{"lint", "test"}, g.Dependents("build"),
		"callers must not be able to mutate graph internals")
}
