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

package pipeline

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ConditionContext carries the state visible to a step's if expression.
type ConditionContext struct {
	// Job is the owning job name
	Job string

	// Step is the step's display name
	Step string

	// Failed reports whether an earlier step in this job has failed
	Failed bool
}

// conditionCache compiles condition expressions once and reuses the
// programs across evaluations.
type conditionCache struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

var conditions = &conditionCache{programs: make(map[string]*vm.Program)}

// CompileCondition checks that a condition expression is well-formed and
// returns a boolean. Called at validation time so a bad expression fails
// the load, not the run.
func CompileCondition(code string) error {
	if code == "" {
		return nil
	}
	_, err := conditions.compile(code)
	return err
}

// EvalCondition evaluates a step condition. An empty expression is true:
// the step runs unless the job's short-circuit policy says otherwise.
func EvalCondition(code string, ctx ConditionContext) (bool, error) {
	if code == "" {
		return true, nil
	}

	program, err := conditions.compile(code)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, conditionEnv(ctx))
	if err != nil {
		return false, fmt.Errorf("evaluating condition %q: %w", code, err)
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q must return a boolean, got %T", code, result)
	}
	return b, nil
}

func (c *conditionCache) compile(code string) (*vm.Program, error) {
	c.mu.RLock()
	if prog, ok := c.programs[code]; ok {
		c.mu.RUnlock()
		return prog, nil
	}
	c.mu.RUnlock()

	program, err := expr.Compile(code,
		expr.Env(conditionEnv(ConditionContext{})),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compiling condition %q: %w", code, err)
	}

	c.mu.Lock()
	c.programs[code] = program
	c.mu.Unlock()

	return program, nil
}

// conditionEnv builds the expression environment. The helpers mirror the
// familiar CI vocabulary: success() is true while no earlier step in the
// job has failed, failure() is its inverse, always() is unconditional.
func conditionEnv(ctx ConditionContext) map[string]interface{} {
	return map[string]interface{}{
		"success": func() bool { return !ctx.Failed },
		"failure": func() bool { return ctx.Failed },
		"always":  func() bool { return true },
		"job":     ctx.Job,
		"step":    ctx.Step,
	}
}
