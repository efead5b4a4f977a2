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
	"path/filepath"
	"time"

	"github.com/csa-project/csa/pkg/protocol"
)

// ChildOutputDir is where a child session's structured sections live.
func (s *Store) ChildOutputDir(id string) string {
	return filepath.Join(s.sessionDir(id), "output")
}

// ResumeParent implements the parent side of fork-call-return: it
// locates the child's return-packet section through output/index.toml,
// refuses any section path that escapes the child's output directory,
// parses and validates the packet, and atomically points the parent at
// it — moving the parent back to Active when it was left Available, and
// leaving an already-Active or Retired parent's phase alone.
//
// Slot reacquisition for the parent is the caller's job (it is
// best-effort and not fatal on failure, so it stays out of the store).
func (s *Store) ResumeParent(parentID, childID string) (*protocol.ReturnPacket, error) {
	outputDir := s.ChildOutputDir(childID)
	idx, err := protocol.LoadOutputIndex(filepath.Join(outputDir, "index.toml"))
	if err != nil {
		return nil, fmt.Errorf("resume parent %s: %w", shortID(parentID), err)
	}
	section, ok := idx.ReturnPacketSection()
	if !ok {
		return nil, fmt.Errorf("resume parent %s: child %s emitted no %s section", shortID(parentID), shortID(childID), protocol.ReturnPacketSectionID)
	}
	sectionPath, err := protocol.ResolveSectionPath(outputDir, section)
	if err != nil {
		return nil, fmt.Errorf("resume parent %s: %w", shortID(parentID), err)
	}
	packet, err := protocol.LoadReturnPacket(sectionPath)
	if err != nil {
		return nil, fmt.Errorf("resume parent %s: %w", shortID(parentID), err)
	}

	err = s.withSessionLock(parentID, func() error {
		st, err := s.Load(parentID)
		if err != nil {
			return err
		}
		st.LastReturnPacket = &ReturnPacketRef{ChildSessionID: childID, SectionPath: sectionPath}
		if st.Phase == PhaseAvailable {
			if err := st.ApplyPhaseEvent(EventResumed); err != nil {
				return err
			}
		}
		st.LastAccessed = time.Now().UTC()
		return s.Save(st)
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.git.commitSession(parentID, fmt.Sprintf("return packet from %s", shortID(childID))); err != nil && err != ErrNothingToCommit {
		s.log.Warn("resume parent: git commit failed", "session", parentID, "error", err)
	}
	return &packet, nil
}

// WriteReturnPacket emits a child's return packet into its reserved
// output section and records it in output/index.toml, the shape the
// parent's ResumeParent expects.
func (s *Store) WriteReturnPacket(childID string, packet protocol.ReturnPacket) error {
	if err := packet.Validate(); err != nil {
		return fmt.Errorf("write return packet for %s: %w", shortID(childID), err)
	}
	outputDir := s.ChildOutputDir(childID)

	const fileName = "return-packet.md"
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	if err := protocol.SaveReturnPacket(filepath.Join(outputDir, fileName), packet); err != nil {
		return err
	}

	indexPath := filepath.Join(outputDir, "index.toml")
	idx, err := protocol.LoadOutputIndex(indexPath)
	if err != nil {
		idx = protocol.OutputIndex{}
	}
	replaced := false
	section := protocol.Section{ID: protocol.ReturnPacketSectionID, Title: "Return packet", FilePath: fileName}
	for i, sec := range idx.Sections {
		if sec.ID == protocol.ReturnPacketSectionID {
			idx.Sections[i] = section
			replaced = true
			break
		}
	}
	if !replaced {
		idx.Sections = append(idx.Sections, section)
	}
	if err := protocol.SaveOutputIndex(indexPath, idx); err != nil {
		return err
	}
	if _, err := s.git.commitSession(childID, fmt.Sprintf("return packet for %s", shortID(childID))); err != nil && err != ErrNothingToCommit {
		s.log.Warn("write return packet: git commit failed", "session", childID, "error", err)
	}
	return nil
}
