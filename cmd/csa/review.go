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

package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/csa-project/csa/pkg/workflow"
)

// ReviewCmd is a structured two-tool workflow built on top of run: one
// tool reviews the subject, a second tool cross-examines that review,
// and the cross-examination gates the final verdict step.
type ReviewCmd struct {
	Prompt []string `arg:"" required:"" help:"What to review."`
	Cd     string   `help:"Working directory." type:"existingdir"`
}

func (c *ReviewCmd) Run(cli *CLI) error {
	return runBuiltinWorkflow(cli, c.Cd, buildReviewWorkflow, map[string]string{
		"SUBJECT": strings.Join(c.Prompt, " "),
	})
}

// DebateCmd runs a multi-round debate between two tools over a question,
// each round rebutting the previous one's position.
type DebateCmd struct {
	Prompt []string `arg:"" required:"" help:"The question to debate."`
	Rounds int      `default:"2" help:"Rebuttal rounds per side."`
	Cd     string   `help:"Working directory." type:"existingdir"`
}

func (c *DebateCmd) Run(cli *CLI) error {
	build := func(tools []string) (*workflow.Workflow, error) {
		return buildDebateWorkflow(tools, c.Rounds)
	}
	return runBuiltinWorkflow(cli, c.Cd, build, map[string]string{
		"QUESTION": strings.Join(c.Prompt, " "),
	})
}

// runBuiltinWorkflow picks two distinct enabled tools, builds the plan,
// and executes it through the same engine `workflow run` uses.
func runBuiltinWorkflow(cli *CLI, cd string, build func(tools []string) (*workflow.Workflow, error), vars map[string]string) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	tools := enabledTools(a)
	if len(tools) < 2 {
		return fmt.Errorf("need at least two enabled tools, have %d", len(tools))
	}

	wf, err := build(tools)
	if err != nil {
		return err
	}

	project := cd
	if project == "" {
		if project, err = os.Getwd(); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	engine := &workflow.Engine{
		Tools: &workflowToolRunner{app: a, project: project},
		Bash:  &workflowBashRunner{project: project},
	}
	ec := workflow.NewExecutionContext(vars)
	if err := engine.Run(ctx, wf, ec); err != nil {
		return err
	}

	last := wf.Steps[len(wf.Steps)-1]
	if r, ok := ec.Result(last.ID); ok {
		fmt.Println(r.Output)
	}
	return nil
}

func enabledTools(a *app) []string {
	var tools []string
	for name, tc := range a.resolver.Tools {
		if tc.Enabled {
			tools = append(tools, name)
		}
	}
	sort.Strings(tools)
	return tools
}

func buildReviewWorkflow(tools []string) (*workflow.Workflow, error) {
	return &workflow.Workflow{
		Name: "review",
		Steps: []workflow.Step{
			{
				ID:     1,
				Title:  "Review",
				Tool:   tools[0],
				Prompt: "Review the following and list concrete issues, most severe first:\n\n${SUBJECT}",
			},
			{
				ID:        2,
				Title:     "Cross-examine",
				Tool:      tools[1],
				DependsOn: []int{1},
				Prompt:    "Another reviewer produced the findings below. Refute any that are wrong, confirm the rest.\n\nSubject:\n${SUBJECT}\n\nFindings:\n${STEP_1_OUTPUT}",
			},
			{
				ID:        3,
				Title:     "Verdict",
				Tool:      tools[0],
				DependsOn: []int{2},
				Condition: "${STEP_2_OUTPUT}",
				Prompt:    "Produce the final review verdict, keeping only findings that survived cross-examination:\n\n${STEP_2_OUTPUT}",
			},
		},
	}, nil
}

func buildDebateWorkflow(tools []string, rounds int) (*workflow.Workflow, error) {
	if rounds < 1 {
		return nil, fmt.Errorf("debate needs at least one round, got %d", rounds)
	}
	wf := &workflow.Workflow{Name: "debate"}
	id := 0
	addStep := func(tool, title, prompt string) {
		id++
		step := workflow.Step{ID: id, Title: title, Tool: tool, Prompt: prompt}
		if id > 1 {
			step.DependsOn = []int{id - 1}
		}
		wf.Steps = append(wf.Steps, step)
	}

	addStep(tools[0], "Opening position", "Take a position on the following question and argue it:\n\n${QUESTION}")
	for round := 1; round <= rounds; round++ {
		addStep(tools[1], fmt.Sprintf("Rebuttal %d", round),
			fmt.Sprintf("Rebut the strongest points of this argument:\n\n${STEP_%d_OUTPUT}", id))
		addStep(tools[0], fmt.Sprintf("Counter %d", round),
			fmt.Sprintf("Respond to this rebuttal, conceding what is right:\n\n${STEP_%d_OUTPUT}", id))
	}
	addStep(tools[1], "Synthesis",
		fmt.Sprintf("Summarize where the debate landed and what both sides agreed on:\n\n${STEP_%d_OUTPUT}", id))
	return wf, nil
}
