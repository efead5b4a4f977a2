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
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToolRunner struct {
	calls []Step
	fn    func(step Step, prompt string) (string, int, error)
}

func (f *fakeToolRunner) RunStep(ctx context.Context, step Step, prompt string, vars map[string]string) (string, int, error) {
	f.calls = append(f.calls, step)
	if f.fn != nil {
		return f.fn(step, prompt)
	}
	return "ok:" + prompt, 0, nil
}

type fakeBashRunner struct{}

func (fakeBashRunner) RunBash(ctx context.Context, script string, vars map[string]string) (string, int, error) {
	return "bash:" + script, 0, nil
}

func TestEngine_VariableForwardingAcrossSteps(t *testing.T) {
	tools := &fakeToolRunner{}
	wf := &Workflow{
		Steps: []Step{
			{ID: 1, Tool: "claude-code", Prompt: "first"},
			{ID: 2, Tool: "claude-code", Prompt: "use ${STEP_1_OUTPUT}"},
		},
	}
	e := &Engine{Tools: tools}
	ec := NewExecutionContext(nil)
	require.NoError(t, e.Run(context.Background(), wf, ec))

	r2, ok := ec.Result(2)
	require.True(t, ok)
	assert.Equal(t, "ok:use ok:first", r2.Output)
}

func TestEngine_SkipsStepOnFalseCondition(t *testing.T) {
	tools := &fakeToolRunner{}
	wf := &Workflow{
		Steps: []Step{
			{ID: 1, Tool: "claude-code", Prompt: "p", Condition: "${RUN_IT}"},
		},
	}
	e := &Engine{Tools: tools}
	ec := NewExecutionContext(map[string]string{"RUN_IT": ""})
	require.NoError(t, e.Run(context.Background(), wf, ec))

	r, ok := ec.Result(1)
	require.True(t, ok)
	assert.Equal(t, StepSkipped, r.Status)
	assert.Empty(t, tools.calls)
	assert.Equal(t, "", ec.Var(OutputVar(1)))
}

func TestEngine_BashStep(t *testing.T) {
	wf := &Workflow{Steps: []Step{{ID: 1, Tool: ToolBash, Prompt: "echo hi"}}}
	e := &Engine{Bash: fakeBashRunner{}}
	ec := NewExecutionContext(nil)
	require.NoError(t, e.Run(context.Background(), wf, ec))
	r, _ := ec.Result(1)
	assert.Equal(t, "bash:echo hi", r.Output)
}

func TestEngine_OnFailSkipContinuesWorkflow(t *testing.T) {
	attempt := 0
	tools := &fakeToolRunner{fn: func(step Step, prompt string) (string, int, error) {
		attempt++
		if step.ID == 1 {
			return "", 1, errors.New("boom")
		}
		return "ok", 0, nil
	}}
	wf := &Workflow{
		Steps: []Step{
			{ID: 1, Tool: "claude-code", Prompt: "p", OnFail: OnFail{Kind: OnFailSkip}},
			{ID: 2, Tool: "claude-code", Prompt: "q"},
		},
	}
	e := &Engine{Tools: tools}
	ec := NewExecutionContext(nil)
	require.NoError(t, e.Run(context.Background(), wf, ec))

	r1, _ := ec.Result(1)
	assert.Equal(t, StepSkipped, r1.Status)
	r2, _ := ec.Result(2)
	assert.Equal(t, StepCompleted, r2.Status)
	assert.Equal(t, 2, attempt)
}

func TestEngine_OnFailAbortStopsWorkflow(t *testing.T) {
	tools := &fakeToolRunner{fn: func(step Step, prompt string) (string, int, error) {
		return "", 1, errors.New("boom")
	}}
	wf := &Workflow{
		Steps: []Step{
			{ID: 1, Tool: "claude-code", Prompt: "p"},
			{ID: 2, Tool: "claude-code", Prompt: "q"},
		},
	}
	e := &Engine{Tools: tools}
	ec := NewExecutionContext(nil)
	err := e.Run(context.Background(), wf, ec)
	require.Error(t, err)
	var aborted *ErrAborted
	require.ErrorAs(t, err, &aborted)
	assert.Equal(t, 1, aborted.StepID)
	_, ok := ec.Result(2)
	assert.False(t, ok, "step 2 must not run after abort")
}

func TestEngine_OnFailRetryRecoversOnLaterAttempt(t *testing.T) {
	attempts := 0
	tools := &fakeToolRunner{fn: func(step Step, prompt string) (string, int, error) {
		attempts++
		if attempts < 3 {
			return "", 1, fmt.Errorf("attempt %d failed", attempts)
		}
		return "recovered", 0, nil
	}}
	wf := &Workflow{
		Steps: []Step{
			{ID: 1, Tool: "claude-code", Prompt: "p", OnFail: OnFail{Kind: OnFailRetry, Retry: 3}},
		},
	}
	e := &Engine{Tools: tools}
	ec := NewExecutionContext(nil)
	require.NoError(t, e.Run(context.Background(), wf, ec))
	r, _ := ec.Result(1)
	assert.Equal(t, StepCompleted, r.Status)
	assert.Equal(t, "recovered", r.Output)
	assert.Equal(t, 3, attempts)
}

func TestEngine_OnFailDelegateInvokesFailoverHandoff(t *testing.T) {
	tools := &fakeToolRunner{fn: func(step Step, prompt string) (string, int, error) {
		return "", 1, errors.New("rate limited")
	}}
	var delegated string
	failover := delegateFunc(func(ctx context.Context, step Step, target string, vars map[string]string) (string, int, error) {
		delegated = target
		return "delegated-output", 0, nil
	})
	wf := &Workflow{
		Steps: []Step{
			{ID: 1, Tool: "claude-code", Prompt: "p", OnFail: OnFail{Kind: OnFailDelegate, Target: "codex"}},
		},
	}
	e := &Engine{Tools: tools, Failover: failover}
	ec := NewExecutionContext(nil)
	require.NoError(t, e.Run(context.Background(), wf, ec))
	assert.Equal(t, "codex", delegated)
	r, _ := ec.Result(1)
	assert.Equal(t, "delegated-output", r.Output)
}

func TestEngine_LoopExpandsBodyPerItem(t *testing.T) {
	tools := &fakeToolRunner{}
	wf := &Workflow{
		Steps: []Step{
			{
				ID: 1,
				Loop: &Loop{
					Var:        "ITEM",
					Collection: "a,b,c",
					Body: []Step{
						{ID: 2, Tool: "claude-code", Prompt: "handle ${ITEM}"},
					},
				},
			},
		},
	}
	e := &Engine{Tools: tools}
	ec := NewExecutionContext(nil)
	require.NoError(t, e.Run(context.Background(), wf, ec))
	require.Len(t, tools.calls, 3)
	assert.Equal(t, "c", ec.Var("ITEM"))
}

type delegateFunc func(ctx context.Context, step Step, target string, vars map[string]string) (string, int, error)

func (f delegateFunc) Delegate(ctx context.Context, step Step, target string, vars map[string]string) (string, int, error) {
	return f(ctx, step, target, vars)
}

func TestWorkflow_TOMLRoundTrip(t *testing.T) {
	wf := &Workflow{
		Name:        "review",
		Description: "multi-tool review",
		Variables:   []Variable{{Name: "TARGET", Default: "main"}},
		Steps: []Step{
			{ID: 1, Title: "scan", Tool: "claude-code", Prompt: "scan ${TARGET}", OnFail: OnFail{Kind: OnFailAbort}},
			{ID: 2, Title: "retry-me", Tool: "codex", Prompt: "retry", OnFail: OnFail{Kind: OnFailRetry, Retry: 2}, DependsOn: []int{1}},
		},
	}
	text, err := Encode(wf)
	require.NoError(t, err)

	decoded, err := Decode(text)
	require.NoError(t, err)
	assert.Equal(t, wf.Name, decoded.Name)
	assert.Equal(t, wf.Variables, decoded.Variables)
	require.Len(t, decoded.Steps, 2)
	assert.Equal(t, wf.Steps[1].OnFail, decoded.Steps[1].OnFail)
	assert.Equal(t, wf.Steps[1].DependsOn, decoded.Steps[1].DependsOn)
}

func TestParseOnFail(t *testing.T) {
	cases := []struct {
		in   string
		want OnFail
	}{
		{"abort", OnFail{Kind: OnFailAbort}},
		{"", OnFail{Kind: OnFailAbort}},
		{"skip", OnFail{Kind: OnFailSkip}},
		{"retry(3)", OnFail{Kind: OnFailRetry, Retry: 3}},
		{"delegate(codex)", OnFail{Kind: OnFailDelegate, Target: "codex"}},
	}
	for _, c := range cases {
		got, err := ParseOnFail(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}

	_, err := ParseOnFail("bogus")
	assert.Error(t, err)
}
