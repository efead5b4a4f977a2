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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPhaseEvent_LegalTransitions(t *testing.T) {
	st := &State{Phase: PhaseAvailable}
	require.NoError(t, st.ApplyPhaseEvent(EventResumed))
	assert.Equal(t, PhaseActive, st.Phase)

	require.NoError(t, st.ApplyPhaseEvent(EventCompleted))
	assert.Equal(t, PhaseAvailable, st.Phase)

	require.NoError(t, st.ApplyPhaseEvent(EventRetired))
	assert.Equal(t, PhaseRetired, st.Phase)
}

func TestApplyPhaseEvent_RejectsIllegalTransitions(t *testing.T) {
	st := &State{Phase: PhaseRetired}
	err := st.ApplyPhaseEvent(EventResumed)
	assert.ErrorIs(t, err, ErrIllegalPhase)
	assert.Equal(t, PhaseRetired, st.Phase, "illegal transition must not mutate state")
}

func TestLocked_OnlyLockedToolMayWrite(t *testing.T) {
	st := &State{Tool: "claude-code"}
	assert.True(t, st.Locked("gemini-cli"))
	assert.False(t, st.Locked("claude-code"))

	unlocked := &State{}
	assert.False(t, unlocked.Locked("anything"))
}

func TestStore_CreateLoadResolvePrefix(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	st, err := store.Create("/proj", "first session", "", "")
	require.NoError(t, err)
	require.True(t, len(st.MetaSessionID) == 26)

	loaded, err := store.Load(st.MetaSessionID)
	require.NoError(t, err)
	assert.Equal(t, st.MetaSessionID, loaded.MetaSessionID)

	byPrefix, err := store.ResolvePrefix(st.MetaSessionID[:11])
	require.NoError(t, err)
	assert.Equal(t, st.MetaSessionID, byPrefix.MetaSessionID)

	_, err = store.ResolvePrefix("short")
	assert.ErrorIs(t, err, ErrPrefixTooShort)
}

func TestStore_ForkGenealogyDepth(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	parent, err := store.Create("/proj", "parent", "", "")
	require.NoError(t, err)

	child, err := store.Create("/proj", "child", parent.MetaSessionID, "")
	require.NoError(t, err)

	assert.Equal(t, parent.MetaSessionID, child.Genealogy.ParentSessionID)
	assert.Equal(t, parent.Genealogy.Depth+1, child.Genealogy.Depth)
}

func TestStore_ValidateToolAccess_ReportsLocked(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	st, err := store.Create("/proj", "locked session", "", "claude-code")
	require.NoError(t, err)

	err = store.ValidateToolAccess(st.MetaSessionID, "gemini-cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
	assert.ErrorIs(t, err, ErrToolLocked)
}

func TestListTree_OrdersChildrenByCreatedAt(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	root, err := store.Create("/proj", "root", "", "")
	require.NoError(t, err)

	first, err := store.Create("/proj", "first child", root.MetaSessionID, "")
	require.NoError(t, err)
	first.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(first))

	_, err = store.Create("/proj", "second child", root.MetaSessionID, "")
	require.NoError(t, err)

	tree, err := store.ListTree("/proj", "")
	require.NoError(t, err)
	assert.Contains(t, tree, "root")
	assert.Contains(t, tree, "first child")
	assert.Contains(t, tree, "second child")
	assert.Less(t, strings.Index(tree, "first child"), strings.Index(tree, "second child"))
}
