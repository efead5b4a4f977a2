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
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/csa-project/csa/pkg/resolver"
	"github.com/csa-project/csa/pkg/workflow"
)

// WorkflowCmd groups workflow-plan operations.
type WorkflowCmd struct {
	Run WorkflowRunCmd `cmd:"" help:"Execute a compiled workflow plan."`
}

type WorkflowRunCmd struct {
	File   string            `arg:"" type:"existingfile" help:"Compiled plan (TOML)."`
	Vars   map[string]string `help:"Variable overrides (NAME=VALUE)." mapsep:","`
	DryRun bool              `name:"dry-run" help:"Print the resolved plan without executing."`
	Tool   string            `help:"Replace every CSA-tool step's tool (never bash or weave steps)."`
	Cd     string            `help:"Working directory." type:"existingdir"`
}

func (c *WorkflowRunCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	wf, err := workflow.LoadFile(c.File)
	if err != nil {
		return err
	}

	vars := map[string]string{}
	for k, v := range a.cfg.Workflow.VariableDefaults {
		vars[k] = v
	}
	for k, v := range wf.DefaultVariables() {
		vars[k] = v
	}
	for k, v := range c.Vars {
		vars[k] = v
	}

	if c.DryRun {
		fmt.Printf("workflow %q: %d step(s)\n", wf.Name, len(wf.Steps))
		for _, step := range wf.Steps {
			tool := step.Tool
			if c.Tool != "" && tool != workflow.ToolBash && tool != workflow.ToolWeave {
				tool = c.Tool
			}
			line := fmt.Sprintf("  %2d  %-12s %s", step.ID, tool, step.Title)
			if step.Condition != "" {
				line += fmt.Sprintf("  [if %s]", step.Condition)
			}
			fmt.Println(line)
		}
		return nil
	}

	project := c.Cd
	if project == "" {
		if project, err = os.Getwd(); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	engine := &workflow.Engine{
		Tools:        &workflowToolRunner{app: a, project: project},
		Bash:         &workflowBashRunner{project: project},
		Includes:     &workflowIncludeLoader{baseDir: filepath.Dir(c.File)},
		Failover:     &workflowDelegate{app: a, project: project},
		ToolOverride: c.Tool,
		Heartbeat: func(stepID int, title string, elapsed time.Duration) {
			a.log.Info("workflow step running", "step", stepID, "title", title, "elapsed", elapsed.Round(time.Second).String())
		},
	}

	ec := workflow.NewExecutionContext(vars)
	if err := engine.Run(ctx, wf, ec); err != nil {
		return err
	}

	for _, step := range wf.Steps {
		if r, ok := ec.Result(step.ID); ok {
			fmt.Printf("step %d [%s]\n", step.ID, r.Status)
		}
	}
	return nil
}

// workflowToolRunner runs one CSA-tool step as a full ephemeral turn:
// resolver, slot, sandbox, executor, failover.
type workflowToolRunner struct {
	app     *app
	project string
}

func (r *workflowToolRunner) RunStep(ctx context.Context, step workflow.Step, prompt string, vars map[string]string) (string, int, error) {
	req := resolver.Request{
		ToolOverride: r.app.resolver.ResolveAlias(step.Tool),
		TaskType:     step.Tier,
		NeedsEdit:    inferNeedsEdit(prompt),
	}
	res, err := r.app.runTurn(ctx, turnRequest{
		Prompt:      prompt,
		ResolverReq: req,
		ExtraEnv:    os.Environ(),
	})
	if err != nil {
		return "", 1, err
	}
	if res.ExitCode != 0 {
		return res.Output, res.ExitCode, fmt.Errorf("step %d: %s exited with code %d", step.ID, res.Tool, res.ExitCode)
	}
	return res.Output, 0, nil
}

// workflowBashRunner executes a bash step's fenced script locally,
// exporting the current variables into the child environment.
type workflowBashRunner struct {
	project string
}

func (r *workflowBashRunner) RunBash(ctx context.Context, script string, vars map[string]string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", script)
	cmd.Dir = r.project
	env := os.Environ()
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	output := strings.TrimRight(stdout.String(), "\n")
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return output, exitErr.ExitCode(), fmt.Errorf("bash step failed: %s", lastLine(stderr.String()))
		}
		return "", 1, err
	}
	return output, 0, nil
}

// workflowIncludeLoader resolves a weave include step's pattern path
// relative to the including plan's directory.
type workflowIncludeLoader struct {
	baseDir string
}

func (l *workflowIncludeLoader) Load(pattern string) (*workflow.Workflow, error) {
	path := pattern
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.baseDir, path)
	}
	return workflow.LoadFile(path)
}

// workflowDelegate hands an on_fail = delegate(target) step to the
// failover machinery, with target as the tool hint.
type workflowDelegate struct {
	app     *app
	project string
}

func (d *workflowDelegate) Delegate(ctx context.Context, step workflow.Step, target string, vars map[string]string) (string, int, error) {
	tool := d.app.resolver.ResolveAlias(target)
	if tc, ok := d.app.resolver.Tools[tool]; !ok || !tc.Enabled {
		return "", 1, fmt.Errorf("%w: delegate target %q", failoverTargetErr, target)
	}
	prompt := workflow.Substitute(step.Prompt, vars)
	res, err := d.app.runTurn(ctx, turnRequest{
		Prompt:      prompt,
		ResolverReq: resolver.Request{ToolOverride: tool, TaskType: step.Tier},
		ExtraEnv:    os.Environ(),
	})
	if err != nil {
		return "", 1, err
	}
	return res.Output, res.ExitCode, nil
}

var failoverTargetErr = fmt.Errorf("failover: delegate target is not an enabled tool")
