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

// Package pipeline defines the YAML pipeline format and its loader.
//
// A pipeline file declares a set of named jobs, each with an ordered list of
// shell steps, optional dependencies on other jobs (needs), and an execution
// environment (runs_on). The loader parses, defaults, and validates a file
// into the job shapes consumed by the engine. Most fields are optional: the
// minimal pipeline is a single job with a single run command.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pipewright/pipewright/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultRunsOn is the execution environment used when a job does not
// declare one.
const DefaultRunsOn = "ubuntu-latest"

// DefaultVersion is the schema version assumed when the file omits one.
const DefaultVersion = "1"

// Pipeline is a parsed pipeline definition.
//
// The Version field is optional and defaults to "1". Name defaults to the
// basename of the source file (without extension) when loaded from disk.
type Pipeline struct {
	// Version tracks the pipeline schema version (optional, defaults to "1")
	Version string `yaml:"version" json:"version"`

	// Name is the pipeline identifier
	Name string `yaml:"name" json:"name"`

	// Env is pipeline-level environment, inherited by every job
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Jobs maps job name to its definition
	Jobs map[string]*Job `yaml:"jobs" json:"jobs"`
}

// Job is a unit of work: an ordered sequence of steps run in one execution
// environment. Jobs with no needs are ready immediately; a job with needs
// runs only after every named dependency has succeeded.
type Job struct {
	// Name is the job's key in the jobs map (filled during parsing)
	Name string `yaml:"-" json:"name"`

	// RunsOn selects the execution environment (friendly id or image ref).
	// Defaults to "ubuntu-latest".
	RunsOn string `yaml:"runs_on,omitempty" json:"runs_on"`

	// Needs lists the jobs that must succeed before this one starts
	Needs []string `yaml:"needs,omitempty" json:"needs,omitempty"`

	// Env is job-level environment, merged over the pipeline env
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Steps are the job's commands, executed strictly in order
	Steps []Step `yaml:"steps" json:"steps"`
}

// Step is one shell command within a job.
type Step struct {
	// Name is the display name (defaults to "step-N" when omitted)
	Name string `yaml:"name,omitempty" json:"name"`

	// Run is the command string, executed through a shell in the job's
	// container
	Run string `yaml:"run,omitempty" json:"run"`

	// If is an optional condition expression; the step is skipped when it
	// evaluates false. Supports success(), failure(), always().
	If string `yaml:"if,omitempty" json:"if,omitempty"`

	// Env is step-level environment, merged over the job env
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Timeout bounds the step's execution. Accepts a duration string
	// ("90s", "5m") or a bare integer second count. Zero means the engine
	// default applies.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// ContinueOnError keeps the job going (and passing) when this step
	// fails
	ContinueOnError bool `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`
}

// Duration is a time.Duration that unmarshals from either a Go duration
// string ("30s", "5m") or a bare integer number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		if seconds < 0 {
			return fmt.Errorf("timeout must not be negative: %d", seconds)
		}
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("timeout must be a duration string or seconds: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("timeout must not be negative: %s", s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Parse parses a pipeline definition from YAML bytes, applies defaults, and
// validates it. The returned pipeline is ready for graph construction.
func Parse(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, &errors.ValidationError{
			Message:    fmt.Sprintf("failed to parse pipeline YAML: %v", err),
			Suggestion: "check the file for YAML syntax errors",
		}
	}

	p.applyDefaults()

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

// ParseFile reads and parses a pipeline file. The pipeline name defaults to
// the file's basename when the file does not declare one.
func ParseFile(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading pipeline file %s", path)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if p.Name == "" {
		base := filepath.Base(path)
		p.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	return p, nil
}

// applyDefaults fills version, job names, runs_on, and step names.
func (p *Pipeline) applyDefaults() {
	if p.Version == "" {
		p.Version = DefaultVersion
	}

	for name, job := range p.Jobs {
		if job == nil {
			continue
		}
		job.Name = name
		if job.RunsOn == "" {
			job.RunsOn = DefaultRunsOn
		}
		// Nameless steps without a command stay nameless so validation
		// can reject them.
		for i := range job.Steps {
			if job.Steps[i].Name == "" && strings.TrimSpace(job.Steps[i].Run) != "" {
				job.Steps[i].Name = fmt.Sprintf("step-%d", i+1)
			}
		}
	}
}

// Validate checks the pipeline's structure. A job must have at least one
// step; a step is rejected only when it has neither a name nor a command;
// needs must reference existing jobs and must not self-reference; condition
// expressions must compile.
func (p *Pipeline) Validate() error {
	if len(p.Jobs) == 0 {
		return &errors.ValidationError{
			Field:      "jobs",
			Message:    "pipeline has no jobs",
			Suggestion: "define at least one job under jobs:",
		}
	}

	for _, name := range p.JobNames() {
		job := p.Jobs[name]
		if job == nil {
			return &errors.ValidationError{
				Field:      "jobs." + name,
				Message:    "job is empty",
				Suggestion: "give the job at least one step",
			}
		}
		if err := job.validate(p); err != nil {
			return err
		}
	}

	return nil
}

func (j *Job) validate(p *Pipeline) error {
	field := "jobs." + j.Name

	if len(j.Steps) == 0 {
		return &errors.ValidationError{
			Field:      field + ".steps",
			Message:    "job has no steps",
			Suggestion: "add at least one step with a run command",
		}
	}

	for i, step := range j.Steps {
		// A step needs an identity: either a display name or a command.
		if step.Name == "" && strings.TrimSpace(step.Run) == "" {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("%s.steps[%d]", field, i),
				Message:    "step has neither a name nor a run command",
				Suggestion: "give the step a run command, or at least a name",
			}
		}
		if step.If != "" {
			if err := CompileCondition(step.If); err != nil {
				return &errors.ValidationError{
					Field:      fmt.Sprintf("%s.steps[%d].if", field, i),
					Message:    fmt.Sprintf("invalid condition: %v", err),
					Suggestion: "conditions support success(), failure(), always() and boolean operators",
				}
			}
		}
	}

	seen := make(map[string]bool, len(j.Needs))
	for _, dep := range j.Needs {
		if dep == j.Name {
			return &errors.ValidationError{
				Field:      field + ".needs",
				Message:    "job depends on itself",
				Suggestion: "remove the self-reference from needs",
			}
		}
		if _, ok := p.Jobs[dep]; !ok {
			return &errors.ValidationError{
				Field:      field + ".needs",
				Message:    fmt.Sprintf("unknown job %q in needs", dep),
				Suggestion: "needs entries must name jobs defined in this pipeline",
			}
		}
		if seen[dep] {
			return &errors.ValidationError{
				Field:      field + ".needs",
				Message:    fmt.Sprintf("duplicate entry %q in needs", dep),
				Suggestion: "list each dependency once",
			}
		}
		seen[dep] = true
	}

	return nil
}

// JobNames returns all job names in lexical order.
func (p *Pipeline) JobNames() []string {
	names := make([]string, 0, len(p.Jobs))
	for name := range p.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JobList returns the jobs in lexical name order. Deterministic ordering
// keeps graph construction and dispatch reproducible across loads.
func (p *Pipeline) JobList() []*Job {
	names := p.JobNames()
	jobs := make([]*Job, 0, len(names))
	for _, name := range names {
		jobs = append(jobs, p.Jobs[name])
	}
	return jobs
}

// StepEnv returns the effective environment for a step: pipeline env,
// overlaid with job env, overlaid with step env.
func (p *Pipeline) StepEnv(job *Job, step *Step) map[string]string {
	merged := make(map[string]string, len(p.Env)+len(job.Env)+len(step.Env))
	for k, v := range p.Env {
		merged[k] = v
	}
	for k, v := range job.Env {
		merged[k] = v
	}
	for k, v := range step.Env {
		merged[k] = v
	}
	return merged
}
