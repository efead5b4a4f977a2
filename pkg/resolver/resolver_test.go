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

package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysEligible(ModelSpec) bool { return true }

func TestRotator_CyclesWithPeriodExactlyN(t *testing.T) {
	r := NewRotator(t.TempDir())
	models := []ModelSpec{
		{Tool: "gemini-cli", Provider: "google", Model: "gemini-2.5-pro", ThinkingBudget: "0"},
		{Tool: "codex", Provider: "openai", Model: "o3", ThinkingBudget: "0"},
		{Tool: "claude-code", Provider: "anthropic", Model: "sonnet", ThinkingBudget: "0"},
	}

	var seen []string
	for i := 0; i < 9; i++ {
		spec, err := r.Next("tier1", models, alwaysEligible)
		require.NoError(t, err)
		seen = append(seen, spec.Tool)
	}
	assert.Equal(t, []string{
		"codex", "claude-code", "gemini-cli",
		"codex", "claude-code", "gemini-cli",
		"codex", "claude-code", "gemini-cli",
	}, seen)
}

func TestRotator_NormalizesTier3Variants(t *testing.T) {
	r := NewRotator(t.TempDir())
	models := []ModelSpec{{Tool: "a"}, {Tool: "b"}}

	first, err := r.Next("Tier3", models, alwaysEligible)
	require.NoError(t, err)
	second, err := r.Next("tier-3-fast", models, alwaysEligible)
	require.NoError(t, err)

	assert.NotEqual(t, first.Tool, second.Tool, "tier3 spellings must share one rotation cursor")
}

func TestRotator_SkipsIneligibleEntries(t *testing.T) {
	r := NewRotator(t.TempDir())
	models := []ModelSpec{
		{Tool: "disabled-tool"},
		{Tool: "enabled-tool"},
	}
	onlyEnabled := func(m ModelSpec) bool { return m.Tool == "enabled-tool" }

	spec, err := r.Next("tier1", models, onlyEnabled)
	require.NoError(t, err)
	assert.Equal(t, "enabled-tool", spec.Tool)
}

func TestRotator_NoEligibleReturnsError(t *testing.T) {
	r := NewRotator(t.TempDir())
	models := []ModelSpec{{Tool: "a"}}
	_, err := r.Next("tier1", models, func(ModelSpec) bool { return false })
	assert.ErrorIs(t, err, ErrNoAlternatives)
}

func TestResolve_ExplicitToolMustBeWhitelistedByATier(t *testing.T) {
	cfg := Config{
		Tools: map[string]ToolConfig{
			"codex": {Enabled: true},
		},
		Tiers: map[string]Tier{
			"tier1": {Name: "tier1", Models: []ModelSpec{{Tool: "gemini-cli"}}},
		},
	}
	_, err := cfg.Resolve(Request{ToolOverride: "codex"}, NewRotator(t.TempDir()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotWhitelisted)
}

func TestResolve_AliasSubstitutionAppliesBeforeTierCheck(t *testing.T) {
	cfg := Config{
		Aliases: map[string]string{"fast": "codex"},
		Tools:   map[string]ToolConfig{"codex": {Enabled: true}},
		Tiers: map[string]Tier{
			"tier1": {Name: "tier1", Models: []ModelSpec{{Tool: "codex", Model: "o3"}}},
		},
	}
	decision, err := cfg.Resolve(Request{ToolOverride: "fast"}, NewRotator(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, "codex", decision.Tool)
}
