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
	"fmt"
	"time"
)

// Dir returns the on-disk directory for id. Callers use it to hand a
// session's subtree to collaborators (fork transport, output readers)
// without teaching them the store's layout.
func (s *Store) Dir(id string) string { return s.sessionDir(id) }

// RecordTurn persists one completed turn's bookkeeping under the
// per-session lock: the tool's state slot, the accumulated token total,
// and last_accessed. The first tool ever recorded locks the session to
// that tool and writes metadata.toml; callers resuming a session are
// expected to have gone through ResolveResumeSession first, which is
// where the tool-lock is enforced (failover's in-session retry with an
// alternate tool legitimately writes a second tool slot).
func (s *Store) RecordTurn(id, tool string, ts ToolState) (*State, error) {
	var out *State
	err := s.withSessionLock(id, func() error {
		st, err := s.Load(id)
		if err != nil {
			return err
		}
		if ts.UpdatedAt.IsZero() {
			ts.UpdatedAt = time.Now().UTC()
		}
		first := st.Tool == ""
		if first {
			st.Tool = tool
		}
		if st.Tools == nil {
			st.Tools = map[string]ToolState{}
		}
		st.Tools[tool] = ts
		st.TotalTokenUsage += ts.LastTokenUsage
		st.LastAccessed = ts.UpdatedAt
		if err := s.Save(st); err != nil {
			return err
		}
		if first {
			if err := s.writeMetadata(id, tool); err != nil {
				return err
			}
		}
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.git.commitSession(id, fmt.Sprintf("turn on %s (%s)", shortID(id), tool)); err != nil && err != ErrNothingToCommit {
		s.log.Warn("record turn: git commit failed", "session", id, "error", err)
	}
	return out, nil
}

// TransitionPhase applies ev to id's phase under the session lock and
// persists the result.
func (s *Store) TransitionPhase(id string, ev PhaseEvent) error {
	return s.withSessionLock(id, func() error {
		st, err := s.Load(id)
		if err != nil {
			return err
		}
		if err := st.ApplyPhaseEvent(ev); err != nil {
			return err
		}
		st.LastAccessed = time.Now().UTC()
		return s.Save(st)
	})
}

// SetForkOrigin records where a fork-created session's context came from.
func (s *Store) SetForkOrigin(id, sourceID, sourceProviderID string) error {
	return s.withSessionLock(id, func() error {
		st, err := s.Load(id)
		if err != nil {
			return err
		}
		st.Genealogy.ForkOfSessionID = sourceID
		st.Genealogy.ForkProviderSessionID = sourceProviderID
		return s.Save(st)
	})
}

// AttachProviderSession pre-creates tool state carrying a provider-level
// session id, so a native fork's first turn can resume the provider
// session immediately.
func (s *Store) AttachProviderSession(id, tool, providerSessionID string) error {
	return s.withSessionLock(id, func() error {
		st, err := s.Load(id)
		if err != nil {
			return err
		}
		if st.Locked(tool) {
			return fmt.Errorf("%w: session %s is locked to tool %q, not %q", ErrToolLocked, shortID(id), st.Tool, tool)
		}
		if st.Tools == nil {
			st.Tools = map[string]ToolState{}
		}
		ts := st.Tools[tool]
		ts.ProviderSessionID = providerSessionID
		ts.UpdatedAt = time.Now().UTC()
		st.Tools[tool] = ts
		if st.Tool == "" {
			st.Tool = tool
			if err := s.writeMetadata(id, tool); err != nil {
				return err
			}
		}
		return s.Save(st)
	})
}
