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

// Package graph builds and queries the job dependency graph.
//
// Vertices are job names. An edge points from a dependency to its
// dependent: A → B means B needs A. The graph is immutable once built and
// is rebuilt wholesale on every pipeline load. All query results are sorted
// lexically so scheduling decisions are deterministic for identical input.
package graph

import (
	"fmt"
	"sort"

	"github.com/pipewright/pipewright/pkg/errors"
	"github.com/pipewright/pipewright/pkg/pipeline"
)

// Graph is the immutable dependency graph over one loaded pipeline.
type Graph struct {
	// nodes holds every job name
	nodes []string

	// dependents maps a job to the jobs that need it (outgoing edges)
	dependents map[string][]string

	// dependencies maps a job to the jobs it needs (incoming edges)
	dependencies map[string][]string
}

// Build constructs the graph from a job set and verifies it is acyclic.
// Every job name becomes a vertex; every needs entry becomes an edge from
// the dependency to the dependent. Returns a CycleError naming the jobs
// involved when a topological sort cannot consume every vertex, and a
// ValidationError when an edge references an unknown job.
func Build(jobs []*pipeline.Job) (*Graph, error) {
	g := &Graph{
		dependents:   make(map[string][]string, len(jobs)),
		dependencies: make(map[string][]string, len(jobs)),
	}

	seen := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		if seen[job.Name] {
			return nil, &errors.ValidationError{
				Field:      "jobs",
				Message:    fmt.Sprintf("duplicate job name %q", job.Name),
				Suggestion: "job names must be unique within a pipeline",
			}
		}
		seen[job.Name] = true
		g.nodes = append(g.nodes, job.Name)
	}
	sort.Strings(g.nodes)

	for _, job := range jobs {
		for _, dep := range job.Needs {
			if !seen[dep] {
				return nil, &errors.ValidationError{
					Field:      fmt.Sprintf("jobs.%s.needs", job.Name),
					Message:    fmt.Sprintf("unknown job %q in needs", dep),
					Suggestion: "needs entries must name jobs defined in this pipeline",
				}
			}
			g.dependents[dep] = append(g.dependents[dep], job.Name)
			g.dependencies[job.Name] = append(g.dependencies[job.Name], dep)
		}
	}
	for name := range g.dependents {
		sort.Strings(g.dependents[name])
	}
	for name := range g.dependencies {
		sort.Strings(g.dependencies[name])
	}

	// An attempted topological sort proves acyclicity before anything runs.
	if _, err := g.TopologicalOrder(); err != nil {
		return nil, err
	}

	return g, nil
}

// Len returns the number of jobs in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Has reports whether the graph contains the named job.
func (g *Graph) Has(name string) bool {
	i := sort.SearchStrings(g.nodes, name)
	return i < len(g.nodes) && g.nodes[i] == name
}

// Jobs returns every job name in lexical order.
func (g *Graph) Jobs() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Dependencies returns the jobs that name directly needs, sorted.
func (g *Graph) Dependencies(name string) []string {
	deps := g.dependencies[name]
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// Dependents returns the jobs that directly need name, sorted.
func (g *Graph) Dependents(name string) []string {
	deps := g.dependents[name]
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// TransitiveDependents returns every job downstream of name, sorted.
// Used for skip propagation when a job fails.
func (g *Graph) TransitiveDependents(name string) []string {
	visited := make(map[string]bool)
	queue := append([]string(nil), g.dependents[name]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if visited[next] {
			continue
		}
		visited[next] = true
		queue = append(queue, g.dependents[next]...)
	}

	out := make([]string, 0, len(visited))
	for job := range visited {
		out = append(out, job)
	}
	sort.Strings(out)
	return out
}

// InDegrees returns each job's dependency count. The scheduler seeds its
// live readiness counters from this snapshot and decrements them as
// dependencies complete, instead of rescanning the graph per query.
func (g *Graph) InDegrees() map[string]int {
	degrees := make(map[string]int, len(g.nodes))
	for _, name := range g.nodes {
		degrees[name] = len(g.dependencies[name])
	}
	return degrees
}

// ReadyJobs returns, in lexical order, every job whose dependencies are all
// in completed and which is itself in neither completed nor running. Jobs
// with no dependencies are ready immediately.
func (g *Graph) ReadyJobs(completed, running map[string]bool) []string {
	var ready []string
	for _, name := range g.nodes {
		if completed[name] || running[name] {
			continue
		}
		ok := true
		for _, dep := range g.dependencies[name] {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, name)
		}
	}
	return ready
}

// TopologicalOrder returns a total execution order respecting every edge,
// with lexical tie-breaks for determinism. Dispatch is readiness-driven,
// not order-driven; this is for diagnostics and tests. Returns a CycleError
// when the sort cannot consume every vertex.
func (g *Graph) TopologicalOrder() ([]string, error) {
	inDegree := g.InDegrees()

	// ready is kept sorted; the smallest name is consumed first.
	var ready []string
	for _, name := range g.nodes {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, dep := range g.dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = insertSorted(ready, dep)
			}
		}
	}

	if len(order) != len(g.nodes) {
		var cycle []string
		for _, name := range g.nodes {
			if inDegree[name] > 0 {
				cycle = append(cycle, name)
			}
		}
		return nil, &errors.CycleError{Jobs: cycle}
	}

	return order, nil
}

// insertSorted inserts name into a sorted slice, keeping it sorted.
func insertSorted(sorted []string, name string) []string {
	i := sort.SearchStrings(sorted, name)
	sorted = append(sorted, "")
	copy(sorted[i+1:], sorted[i:])
	sorted[i] = name
	return sorted
}
