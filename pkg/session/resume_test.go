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

package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csa-project/csa/pkg/protocol"
)

func TestResumeParent_AttachesPacketAndReactivatesParent(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	parent, err := store.Create("/proj", "parent", "", "")
	require.NoError(t, err)
	child, err := store.Create("/proj", "child", parent.MetaSessionID, "")
	require.NoError(t, err)

	packet := protocol.ReturnPacket{
		Status:  protocol.StatusSuccess,
		Summary: "refactored the session store",
		ChangedFiles: []protocol.ChangedFile{
			{Path: "pkg/store/store.go", Action: protocol.ActionModify},
		},
	}
	require.NoError(t, store.WriteReturnPacket(child.MetaSessionID, packet))

	got, err := store.ResumeParent(parent.MetaSessionID, child.MetaSessionID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, got.Status)
	assert.Equal(t, "refactored the session store", got.Summary)

	reloaded, err := store.Load(parent.MetaSessionID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastReturnPacket)
	assert.Equal(t, child.MetaSessionID, reloaded.LastReturnPacket.ChildSessionID)
	assert.Equal(t, PhaseActive, reloaded.Phase, "an Available parent moves back to Active on resume")
}

func TestResumeParent_LeavesRetiredParentPhaseAlone(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	parent, err := store.Create("/proj", "parent", "", "")
	require.NoError(t, err)
	require.NoError(t, store.TransitionPhase(parent.MetaSessionID, EventRetired))

	child, err := store.Create("/proj", "child", parent.MetaSessionID, "")
	require.NoError(t, err)
	require.NoError(t, store.WriteReturnPacket(child.MetaSessionID, protocol.ReturnPacket{Status: protocol.StatusSuccess}))

	_, err = store.ResumeParent(parent.MetaSessionID, child.MetaSessionID)
	require.NoError(t, err)

	reloaded, err := store.Load(parent.MetaSessionID)
	require.NoError(t, err)
	assert.Equal(t, PhaseRetired, reloaded.Phase)
	require.NotNil(t, reloaded.LastReturnPacket, "the packet ref is still recorded")
}

func TestResumeParent_RejectsSectionPathEscape(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	parent, err := store.Create("/proj", "parent", "", "")
	require.NoError(t, err)
	child, err := store.Create("/proj", "child", parent.MetaSessionID, "")
	require.NoError(t, err)

	outputDir := store.ChildOutputDir(child.MetaSessionID)
	require.NoError(t, os.MkdirAll(outputDir, 0o755))
	idx := protocol.OutputIndex{Sections: []protocol.Section{
		{ID: protocol.ReturnPacketSectionID, Title: "Return packet", FilePath: "../../../etc/passwd"},
	}}
	require.NoError(t, protocol.SaveOutputIndex(filepath.Join(outputDir, "index.toml"), idx))

	_, err = store.ResumeParent(parent.MetaSessionID, child.MetaSessionID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}

func TestResumeParent_MissingReturnPacketSection(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	parent, err := store.Create("/proj", "parent", "", "")
	require.NoError(t, err)
	child, err := store.Create("/proj", "child", parent.MetaSessionID, "")
	require.NoError(t, err)

	outputDir := store.ChildOutputDir(child.MetaSessionID)
	require.NoError(t, os.MkdirAll(outputDir, 0o755))
	idx := protocol.OutputIndex{Sections: []protocol.Section{
		{ID: "analysis", Title: "Analysis", FilePath: "analysis.md"},
	}}
	require.NoError(t, protocol.SaveOutputIndex(filepath.Join(outputDir, "index.toml"), idx))

	_, err = store.ResumeParent(parent.MetaSessionID, child.MetaSessionID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "return-packet")
}

func TestRecordTurn_LocksSessionAndAccumulatesTokens(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	st, err := store.Create("/proj", "s", "", "")
	require.NoError(t, err)

	now := time.Now().UTC()
	updated, err := store.RecordTurn(st.MetaSessionID, "claude-code", ToolState{
		LastActionSummary: "reviewed the scheduler",
		LastTokenUsage:    1200,
		UpdatedAt:         now,
	})
	require.NoError(t, err)
	assert.Equal(t, "claude-code", updated.Tool, "first recorded tool locks the session")
	assert.Equal(t, 1200, updated.TotalTokenUsage)

	updated, err = store.RecordTurn(st.MetaSessionID, "claude-code", ToolState{LastTokenUsage: 300, UpdatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, 1500, updated.TotalTokenUsage)

	// metadata.toml appears with the first tool write
	_, err = os.Stat(filepath.Join(store.Dir(st.MetaSessionID), "metadata.toml"))
	require.NoError(t, err)

	err = store.ValidateToolAccess(st.MetaSessionID, "gemini-cli")
	assert.ErrorIs(t, err, ErrToolLocked)
}

func TestContextSummary_BoundedOnRuneBoundary(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	st, err := store.Create("/proj", "emoji-laden 🦀 session", "", "")
	require.NoError(t, err)

	summary, err := store.ContextSummary(st.MetaSessionID, 30)
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(summary)), 30)
	for _, r := range summary {
		assert.NotEqual(t, rune(0xFFFD), r, "truncation must never split a rune")
	}
}

func TestWriteReturnPacket_RejectsInvalidPacket(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	child, err := store.Create("/proj", "child", "", "")
	require.NoError(t, err)

	bad := protocol.ReturnPacket{
		Status:       protocol.StatusSuccess,
		ChangedFiles: []protocol.ChangedFile{{Path: "../secrets.txt", Action: protocol.ActionModify}},
	}
	err = store.WriteReturnPacket(child.MetaSessionID, bad)
	require.Error(t, err)
}
