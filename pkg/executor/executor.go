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

// Package executor implements the executor driver: composing the
// command invocation for a chosen tool, streaming its output, and
// capturing structured telemetry.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/csa-project/csa/pkg/resolver"
	"github.com/csa-project/csa/pkg/sandbox"
)

// StreamMode controls whether a child's stdout/stderr are also tee'd live
// to the operator's stderr while being captured.
type StreamMode string

const (
	StreamBufferOnly  StreamMode = "buffer_only"
	StreamTeeToStderr StreamMode = "tee_to_stderr"
)

// DefaultStreamMode picks TeeToStderr when stderr is a TTY and the output
// format is text, BufferOnly otherwise.
func DefaultStreamMode(stderrIsTTY bool, outputFormat string) StreamMode {
	if stderrIsTTY && outputFormat == "text" {
		return StreamTeeToStderr
	}
	return StreamBufferOnly
}

// StdinThresholdBytes is the fixed boundary above which a prompt is
// delivered via stdin instead of argv.
const StdinThresholdBytes = 4096

// ProgramNames maps a tool name to its well-known executable.
var ProgramNames = map[string]string{
	"claude-code": "claude",
	"gemini-cli":  "gemini",
	"codex":       "codex",
	"aider":       "aider",
}

// ThinkingFlagStyle is fixed per tool: some take a numeric token budget,
// one takes an "effort" string.
type ThinkingFlagStyle string

const (
	ThinkingNumeric ThinkingFlagStyle = "numeric"
	ThinkingEffort  ThinkingFlagStyle = "effort"
)

var thinkingStyles = map[string]ThinkingFlagStyle{
	"claude-code": ThinkingNumeric,
	"codex":       ThinkingEffort,
}

// CommandSpec is the composed invocation, before stdio wiring.
type CommandSpec struct {
	Program string
	Args    []string
	Stdin   string // non-empty when the prompt is delivered via stdin
	Env     []string
}

// BuildCommand assembles argv for a chosen tool: program
// name, model/thinking flags, notify-suppression override, include
// directories, and the argv/stdin prompt-placement boundary.
func BuildCommand(tool string, spec resolver.ModelSpec, prompt string, env []string) (CommandSpec, error) {
	program, ok := ProgramNames[tool]
	if !ok {
		return CommandSpec{}, fmt.Errorf("executor: unknown tool %q", tool)
	}

	var args []string
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	if spec.ThinkingBudget != "" && spec.ThinkingBudget != "0" {
		switch thinkingStyles[tool] {
		case ThinkingEffort:
			args = append(args, "--effort", spec.ThinkingBudget)
		default:
			args = append(args, "--thinking-budget", spec.ThinkingBudget)
		}
	}

	if hasEnv(env, "CSA_SUPPRESS_NOTIFY") {
		args = append(args, "-c", "notify=[]")
	}

	if dirs := envValue(env, "CSA_GEMINI_INCLUDE_DIRECTORIES"); dirs != "" && tool == "gemini-cli" {
		for _, d := range strings.Split(dirs, ",") {
			d = strings.TrimSpace(d)
			if d != "" {
				args = append(args, "--include-directories", d)
			}
		}
	}

	// The child gets a depth one greater than ours; the raw parent value
	// is stripped with the rest of the recursion markers first.
	depth := 0
	if v := envValue(env, "CSA_DEPTH"); v != "" {
		fmt.Sscanf(v, "%d", &depth)
	}
	childEnv := append(sandbox.StripRecursionEnv(env), fmt.Sprintf("CSA_DEPTH=%d", depth+1))

	spec2 := CommandSpec{Program: program, Env: childEnv}
	if len(prompt) > StdinThresholdBytes {
		spec2.Stdin = prompt
	} else {
		args = append(args, prompt)
	}
	spec2.Args = args
	return spec2, nil
}

func hasEnv(env []string, key string) bool { return envValue(env, key) != "" }

func envValue(env []string, key string) string {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return strings.TrimPrefix(kv, prefix)
		}
	}
	return ""
}

// TokenUsage is the telemetry parsed from a tool's output.
type TokenUsage struct {
	InputTokens      int
	OutputTokens     int
	TotalTokens      int
	EstimatedCostUSD float64
}

// Result is what the executor driver returns for one turn.
type Result struct {
	ExitCode     int
	Output       string
	StderrOutput string
	Summary      string
	TokenUsage   TokenUsage
}

// Run executes spec with the given stream mode, acquiring no slot or
// sandbox itself; those are the caller's responsibility via pkg/slot and
// pkg/sandbox, composed around this call. prep, if non-nil, runs against the
// *exec.Cmd before Start — the hook a caller wanting rlimit-based
// sandboxing (pkg/sandbox.ApplySetrlimit) uses, since cgroup-scope
// sandboxing is already baked into spec.Program/Args before this is
// ever called. onStart, if non-nil, receives the child pid once the
// process is running — the hook for a parent-side RSS watcher.
func Run(ctx context.Context, spec CommandSpec, mode StreamMode, logger hclog.Logger, prep func(*exec.Cmd), onStart func(pid int)) (Result, error) {
	cmd := exec.CommandContext(ctx, spec.Program, spec.Args...)
	cmd.Env = spec.Env
	if prep != nil {
		prep(cmd)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutWriters := []io.Writer{&stdoutBuf}
	stderrWriters := []io.Writer{&stderrBuf}
	if mode == StreamTeeToStderr {
		stdoutWriters = append(stdoutWriters, os.Stderr)
		stderrWriters = append(stderrWriters, os.Stderr)
	}
	cmd.Stdout = io.MultiWriter(stdoutWriters...)
	cmd.Stderr = io.MultiWriter(stderrWriters...)

	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	if logger != nil {
		logger.Debug("spawning tool", "program", spec.Program, "args", spec.Args)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("executor: failed to run %s: %w", spec.Program, err)
	}
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}
	err := cmd.Wait()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("executor: failed to run %s: %w", spec.Program, err)
		}
	}

	usage := ParseTelemetry(stdoutBuf.String())
	return Result{
		ExitCode:     exitCode,
		Output:       stdoutBuf.String(),
		StderrOutput: stderrBuf.String(),
		TokenUsage:   usage,
	}, nil
}

// ParseTelemetry tolerantly extracts input_tokens, output_tokens,
// total_tokens, and estimated_cost_usd from line-level tool output. When
// input+output are both present but total is missing, total is their
// sum. Matching is careful never to let "input_tokens:" satisfy a bare
// "tokens:" pattern.
func ParseTelemetry(output string) TokenUsage {
	var usage TokenUsage
	var haveInput, haveOutput, haveTotal bool

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.ToLower(scanner.Text())
		if v, ok := matchIntField(line, "input_tokens"); ok {
			usage.InputTokens = v
			haveInput = true
			continue
		}
		if v, ok := matchIntField(line, "output_tokens"); ok {
			usage.OutputTokens = v
			haveOutput = true
			continue
		}
		if v, ok := matchIntField(line, "total_tokens"); ok {
			usage.TotalTokens = v
			haveTotal = true
			continue
		}
		if v, ok := matchFloatField(line, "estimated_cost_usd"); ok {
			usage.EstimatedCostUSD = v
			continue
		}
	}
	if haveInput && haveOutput && !haveTotal {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return usage
}

// matchIntField finds "<field>: <int>" style lines. It requires the
// field name to be immediately followed by a colon, so "input_tokens:"
// can never be mistaken for a generic "tokens:" match.
func matchIntField(line, field string) (int, bool) {
	idx := strings.Index(line, field+":")
	if idx < 0 {
		return 0, false
	}
	rest := strings.TrimSpace(line[idx+len(field)+1:])
	var n int
	var scanned int
	if _, err := fmt.Sscanf(rest, "%d", &n); err == nil {
		return n, true
	}
	_ = scanned
	return 0, false
}

func matchFloatField(line, field string) (float64, bool) {
	idx := strings.Index(line, field+":")
	if idx < 0 {
		return 0, false
	}
	rest := strings.TrimSpace(line[idx+len(field)+1:])
	var f float64
	if _, err := fmt.Sscanf(rest, "%f", &f); err == nil {
		return f, true
	}
	return 0, false
}
