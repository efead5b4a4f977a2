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
	"time"

	"github.com/csa-project/csa/pkg/session"
)

// SeedFinder looks up a recent, non-retired seed session for a tool on a
// branch, for auto-seed reuse.
type SeedFinder interface {
	Find(branch, taskType string, phase session.Phase, tools []string) ([]*session.State, error)
}

// AutoSeedResult describes whether a warm seed was found.
type AutoSeedResult struct {
	Found bool
	Seed  *session.State
}

// ResolveAutoSeed implements auto-seed fork reuse: when the caller
// supplies neither an explicit session nor --ephemeral, look for a
// recent, non-retired, same-branch seed candidate for the target tool
// within maxAge. The newest eligible candidate wins. Only sessions
// flagged IsSeedCandidate qualify — forked children and failover
// siblings never carry the flag, which keeps work forked off a seed
// from becoming a seed itself.
func ResolveAutoSeed(finder SeedFinder, branch, tool string, maxAge time.Duration, now time.Time) (AutoSeedResult, error) {
	candidates, err := finder.Find(branch, "", session.PhaseAvailable, []string{tool})
	if err != nil {
		return AutoSeedResult{}, err
	}
	for _, st := range candidates {
		if !st.IsSeedCandidate || st.Phase == session.PhaseRetired {
			continue
		}
		if now.Sub(st.LastAccessed) > maxAge {
			continue
		}
		return AutoSeedResult{Found: true, Seed: st}, nil
	}
	return AutoSeedResult{Found: false}, nil
}
