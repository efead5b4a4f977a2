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

package fork

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csa-project/csa/pkg/session"
)

type fakeFinder struct {
	states []*session.State
}

func (f fakeFinder) Find(branch, taskType string, phase session.Phase, tools []string) ([]*session.State, error) {
	return f.states, nil
}

func TestResolveAutoSeed_ReusesWarmSeed(t *testing.T) {
	now := time.Now()
	finder := fakeFinder{states: []*session.State{
		{MetaSessionID: "warm", Phase: session.PhaseAvailable, LastAccessed: now.Add(-time.Minute), IsSeedCandidate: true},
	}}
	res, err := ResolveAutoSeed(finder, "main", "claude-code", time.Hour, now)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "warm", res.Seed.MetaSessionID)
}

func TestResolveAutoSeed_ForkedChildIsNotASeed(t *testing.T) {
	// A child forked off a seed matches every other filter once it
	// returns to Available, but it never carries the candidate flag.
	now := time.Now()
	finder := fakeFinder{states: []*session.State{
		{MetaSessionID: "forked-child", Phase: session.PhaseAvailable, LastAccessed: now.Add(-time.Minute)},
	}}
	res, err := ResolveAutoSeed(finder, "main", "claude-code", time.Hour, now)
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestResolveAutoSeed_NoSeedMeansColdStart(t *testing.T) {
	now := time.Now()
	finder := fakeFinder{}
	res, err := ResolveAutoSeed(finder, "main", "claude-code", time.Hour, now)
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestResolveAutoSeed_TooOldSeedIsIgnored(t *testing.T) {
	now := time.Now()
	finder := fakeFinder{states: []*session.State{
		{MetaSessionID: "stale", Phase: session.PhaseAvailable, LastAccessed: now.Add(-2 * time.Hour), IsSeedCandidate: true},
	}}
	res, err := ResolveAutoSeed(finder, "main", "claude-code", time.Hour, now)
	require.NoError(t, err)
	assert.False(t, res.Found)
}
