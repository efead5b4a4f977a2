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

package executor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csa-project/csa/pkg/resolver"
)

func TestBuildCommand_ShortPromptGoesOnArgv(t *testing.T) {
	spec, err := BuildCommand("claude-code", resolver.ModelSpec{}, "fix the tests", nil)
	require.NoError(t, err)
	assert.Equal(t, "claude", spec.Program)
	assert.Contains(t, spec.Args, "fix the tests")
	assert.Empty(t, spec.Stdin)
}

func TestBuildCommand_LongPromptGoesOnStdin(t *testing.T) {
	long := strings.Repeat("x", StdinThresholdBytes+1)
	spec, err := BuildCommand("claude-code", resolver.ModelSpec{}, long, nil)
	require.NoError(t, err)
	assert.Equal(t, long, spec.Stdin)
	assert.NotContains(t, spec.Args, long)
}

func TestBuildCommand_ThinkingFlagStylePerTool(t *testing.T) {
	spec, err := BuildCommand("claude-code", resolver.ModelSpec{ThinkingBudget: "8000"}, "p", nil)
	require.NoError(t, err)
	assert.Contains(t, spec.Args, "--thinking-budget")

	spec, err = BuildCommand("codex", resolver.ModelSpec{ThinkingBudget: "high"}, "p", nil)
	require.NoError(t, err)
	assert.Contains(t, spec.Args, "--effort")
	assert.Contains(t, spec.Args, "high")
}

func TestBuildCommand_NotifySuppressionInjectsOverride(t *testing.T) {
	env := []string{"CSA_SUPPRESS_NOTIFY=1"}
	spec, err := BuildCommand("claude-code", resolver.ModelSpec{}, "p", env)
	require.NoError(t, err)
	joined := strings.Join(spec.Args, " ")
	assert.Contains(t, joined, "-c notify=[]")
}

func TestBuildCommand_GeminiIncludeDirectoriesCSVExpansion(t *testing.T) {
	env := []string{"CSA_GEMINI_INCLUDE_DIRECTORIES=/a, /b ,/c"}
	spec, err := BuildCommand("gemini-cli", resolver.ModelSpec{}, "p", env)
	require.NoError(t, err)

	count := 0
	for i, arg := range spec.Args {
		if arg == "--include-directories" {
			count++
			require.Less(t, i+1, len(spec.Args))
		}
	}
	assert.Equal(t, 3, count)
	assert.Contains(t, spec.Args, "/b")

	// The CSV does not apply to other tools.
	spec, err = BuildCommand("codex", resolver.ModelSpec{}, "p", env)
	require.NoError(t, err)
	assert.NotContains(t, spec.Args, "--include-directories")
}

func TestBuildCommand_StripsRecursionEnv(t *testing.T) {
	env := []string{"CLAUDECODE=1", "CLAUDE_CODE_ENTRYPOINT=cli", "HOME=/home/u"}
	spec, err := BuildCommand("claude-code", resolver.ModelSpec{}, "p", env)
	require.NoError(t, err)
	joined := strings.Join(spec.Env, "\n")
	assert.NotContains(t, joined, "CLAUDECODE=")
	assert.NotContains(t, joined, "CLAUDE_CODE_ENTRYPOINT=")
	assert.Contains(t, joined, "HOME=/home/u")
}

func TestBuildCommand_IncrementsRecursionDepthForChild(t *testing.T) {
	spec, err := BuildCommand("claude-code", resolver.ModelSpec{}, "p", []string{"CSA_DEPTH=2"})
	require.NoError(t, err)
	assert.Contains(t, spec.Env, "CSA_DEPTH=3")
	assert.NotContains(t, spec.Env, "CSA_DEPTH=2")

	spec, err = BuildCommand("claude-code", resolver.ModelSpec{}, "p", nil)
	require.NoError(t, err)
	assert.Contains(t, spec.Env, "CSA_DEPTH=1")
}

func TestBuildCommand_UnknownToolFails(t *testing.T) {
	_, err := BuildCommand("not-a-tool", resolver.ModelSpec{}, "p", nil)
	require.Error(t, err)
}

func TestParseTelemetry_AllFieldsPresent(t *testing.T) {
	out := strings.Join([]string{
		"some banner",
		"input_tokens: 120",
		"output_tokens: 380",
		"total_tokens: 500",
		"estimated_cost_usd: 0.0123",
	}, "\n")
	usage := ParseTelemetry(out)
	assert.Equal(t, 120, usage.InputTokens)
	assert.Equal(t, 380, usage.OutputTokens)
	assert.Equal(t, 500, usage.TotalTokens)
	assert.InDelta(t, 0.0123, usage.EstimatedCostUSD, 1e-9)
}

func TestParseTelemetry_TotalIsSumWhenMissing(t *testing.T) {
	usage := ParseTelemetry("input_tokens: 10\noutput_tokens: 20\n")
	assert.Equal(t, 30, usage.TotalTokens)
}

func TestParseTelemetry_InputTokensNeverMatchesBareTokens(t *testing.T) {
	// A line carrying only input_tokens must not populate anything else.
	usage := ParseTelemetry("input_tokens: 42\n")
	assert.Equal(t, 42, usage.InputTokens)
	assert.Equal(t, 0, usage.OutputTokens)
	assert.Equal(t, 0, usage.TotalTokens)
}

func TestDefaultStreamMode(t *testing.T) {
	assert.Equal(t, StreamTeeToStderr, DefaultStreamMode(true, "text"))
	assert.Equal(t, StreamBufferOnly, DefaultStreamMode(true, "json"))
	assert.Equal(t, StreamBufferOnly, DefaultStreamMode(false, "text"))
}
