// Copyright 2025 The CSA Authors
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

package workflow

import (
	"sync"
)

// StepStatus is one step's terminal disposition within a run.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult is what one step produced.
type StepResult struct {
	StepID   int
	Status   StepStatus
	Output   string
	ExitCode int
	Err      error
}

// ExecutionContext is the mutex-guarded run state shared across steps:
// the variables map, per-step results, and the errors recorded so far.
type ExecutionContext struct {
	mu      sync.RWMutex
	vars    map[string]string
	results map[int]StepResult
	errs    []error
}

// NewExecutionContext seeds a run from the workflow's declared defaults
// overlaid with caller-supplied variables (e.g. `--vars` overrides).
func NewExecutionContext(initial map[string]string) *ExecutionContext {
	vars := make(map[string]string, len(initial))
	for k, v := range initial {
		vars[k] = v
	}
	return &ExecutionContext{vars: vars, results: make(map[int]StepResult)}
}

// Var reads one variable.
func (ec *ExecutionContext) Var(name string) string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.vars[name]
}

// Vars returns a snapshot copy of the current variables map, safe for a
// caller to pass into Substitute/EvaluateCondition without holding a lock.
func (ec *ExecutionContext) Vars() map[string]string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]string, len(ec.vars))
	for k, v := range ec.vars {
		out[k] = v
	}
	return out
}

// SetVar writes one variable, e.g. a loop rebinding its loop variable or
// a step forwarding STEP_<N>_OUTPUT.
func (ec *ExecutionContext) SetVar(name, value string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.vars[name] = value
}

// SetResult records a step's outcome and forwards its output under
// STEP_<N>_OUTPUT for subsequent steps, using "" when the step was
// skipped.
func (ec *ExecutionContext) SetResult(r StepResult) {
	ec.mu.Lock()
	ec.results[r.StepID] = r
	output := r.Output
	if r.Status == StepSkipped {
		output = ""
	}
	ec.vars[OutputVar(r.StepID)] = output
	if r.Err != nil {
		ec.errs = append(ec.errs, r.Err)
	}
	ec.mu.Unlock()
}

// Result retrieves a step's recorded outcome.
func (ec *ExecutionContext) Result(stepID int) (StepResult, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	r, ok := ec.results[stepID]
	return r, ok
}

// Errors returns every step error recorded so far, in step-completion
// order.
func (ec *ExecutionContext) Errors() []error {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make([]error, len(ec.errs))
	copy(out, ec.errs)
	return out
}
