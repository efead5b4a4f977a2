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
	"os"
	"time"
)

// Compress marks a session's context as compacted, the signal the
// failover controller uses to decide a session's context is no
// longer worth preserving across a sibling-session failover.
func (s *Store) Compress(id string) error {
	st, err := s.Load(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	st.ContextStatus = ContextStatus{IsCompacted: true, LastCompactedAt: now}
	if err := s.Save(st); err != nil {
		return err
	}
	if _, err := s.git.commitSession(id, fmt.Sprintf("compress session %s", shortID(id))); err != nil && err != ErrNothingToCommit {
		s.log.Warn("compress: git commit failed", "session", id, "error", err)
	}
	return nil
}

// Delete removes a session's on-disk subtree. It refuses to delete an
// Active session, since that would yank state out from under a holder
// that still believes it owns the lock.
func (s *Store) Delete(id string) error {
	st, err := s.Load(id)
	if err != nil {
		return err
	}
	if st.Phase == PhaseActive {
		return fmt.Errorf("session %s: refusing to delete an active session", shortID(id))
	}
	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Clean removes Retired sessions last accessed more than maxAge ago,
// returning the ids it removed. A per-session removal error is logged
// and skipped rather than aborting the whole sweep.
func (s *Store) Clean(maxAge time.Duration, now time.Time) ([]string, error) {
	all, err := s.List("", "")
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, st := range all {
		if st.Phase != PhaseRetired {
			continue
		}
		if now.Sub(st.LastAccessed) < maxAge {
			continue
		}
		if err := os.RemoveAll(s.sessionDir(st.MetaSessionID)); err != nil {
			s.log.Warn("clean: failed to remove session", "session", st.MetaSessionID, "error", err)
			continue
		}
		removed = append(removed, st.MetaSessionID)
	}
	return removed, nil
}
