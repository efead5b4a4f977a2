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

package failover

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csa-project/csa/pkg/resolver"
)

func tierConfig() resolver.Config {
	return resolver.Config{
		TierByTask: map[string]string{"code": "tier1"},
		Tiers: map[string]resolver.Tier{
			"tier1": {Name: "tier1", Models: []resolver.ModelSpec{
				{Tool: "gemini-cli", Provider: "google", Model: "gemini-2.5-pro", ThinkingBudget: "0"},
				{Tool: "codex", Provider: "openai", Model: "o3", ThinkingBudget: "0"},
			}},
		},
		Tools: map[string]resolver.ToolConfig{
			"gemini-cli": {Enabled: true, EditCapable: true},
			"codex":      {Enabled: true, EditCapable: true},
		},
	}
}

func TestDecide_FailoverChoosesAlternate(t *testing.T) {
	in := Input{
		FailedTool: "gemini-cli",
		TaskType:   "code",
		TriedTools: nil,
	}
	d := Decide(in, tierConfig(), nil)
	require.Equal(t, KindRetrySiblingSession, d.Kind)
	assert.Equal(t, "codex", d.Tool)
}

func TestDecide_FailoverExhausted(t *testing.T) {
	in := Input{
		FailedTool: "gemini-cli",
		TaskType:   "code",
		TriedTools: []string{"codex"},
	}
	d := Decide(in, tierConfig(), nil)
	require.Equal(t, KindReportError, d.Kind)
	assert.Contains(t, d.Reason, "exhausted")
}

func TestDecide_ValuableContextWithFreeSlotRetriesInSession(t *testing.T) {
	in := Input{
		FailedTool:          "gemini-cli",
		TaskType:            "code",
		HasCurrentSession:   true,
		CurrentSessionID:    "sess-1",
		LastActionSummaries: []string{"performed a deep code review of the auth module"},
		SlotFree:            func(string) bool { return true },
	}
	d := Decide(in, tierConfig(), nil)
	require.Equal(t, KindRetryInSession, d.Kind)
	assert.Equal(t, "sess-1", d.SessionID)
}

func TestDecide_ValuableContextWithOccupiedSlotReportsError(t *testing.T) {
	in := Input{
		FailedTool:          "gemini-cli",
		TaskType:            "code",
		HasCurrentSession:   true,
		LastActionSummaries: []string{"ran a bug investigation"},
		SlotFree:            func(string) bool { return false },
	}
	d := Decide(in, tierConfig(), nil)
	require.Equal(t, KindReportError, d.Kind)
	assert.Contains(t, d.Reason, "occupied")
}

func TestHasValuableContext_CompactedSessionIsNeverValuable(t *testing.T) {
	assert.False(t, HasValuableContext(true, []string{"deep bug investigation"}, nil))
}

func TestHasValuableContext_EmptyKeywordsFallBackToDefaults(t *testing.T) {
	assert.True(t, HasValuableContext(false, []string{"deep bug investigation"}, nil))
	assert.False(t, HasValuableContext(false, []string{"formatted some files"}, nil))
}

func TestHasValuableContext_ConfiguredKeywordsReplaceDefaults(t *testing.T) {
	custom := []string{"migration"}
	assert.True(t, HasValuableContext(false, []string{"schema migration planning"}, custom))
	// With a custom set, the built-in defaults no longer match.
	assert.False(t, HasValuableContext(false, []string{"deep bug investigation"}, custom))
}

func TestDecide_ConfiguredKeywordsDriveTheValuableBranch(t *testing.T) {
	in := Input{
		FailedTool:          "gemini-cli",
		TaskType:            "code",
		HasCurrentSession:   true,
		CurrentSessionID:    "sess-1",
		LastActionSummaries: []string{"schema migration planning"},
		ValuableKeywords:    []string{"migration"},
		SlotFree:            func(string) bool { return false },
	}
	d := Decide(in, tierConfig(), nil)
	require.Equal(t, KindReportError, d.Kind)
	assert.Contains(t, d.Reason, "occupied")
}
