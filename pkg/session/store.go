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
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"

	"github.com/csa-project/csa/pkg/idgen"
)

// Store is the on-disk session store rooted at <state root>/sessions.
type Store struct {
	root   string // <state root>
	dir    string // <state root>/sessions
	log    *slog.Logger
	git    *gitHistory
	author string
}

// NewStore opens the session store rooted at stateRoot. The sessions/
// directory is created if absent, and its git repository is opened or
// initialized.
func NewStore(stateRoot string, log *slog.Logger) (*Store, error) {
	dir := filepath.Join(stateRoot, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Store{root: stateRoot, dir: dir, log: log, author: "csa-bot <csa@localhost>"}
	g, err := newGitHistory(dir, s.author)
	if err != nil {
		return nil, err
	}
	s.git = g
	return s, nil
}

func (s *Store) sessionDir(id string) string { return filepath.Join(s.dir, id) }
func (s *Store) statePath(id string) string  { return filepath.Join(s.sessionDir(id), "state.toml") }
func (s *Store) metadataPath(id string) string {
	return filepath.Join(s.sessionDir(id), "metadata.toml")
}
func (s *Store) lockPath(id string) string {
	return filepath.Join(s.sessionDir(id), ".lock")
}

// withSessionLock holds an exclusive advisory flock for the duration of fn.
// A process is expected to hold it for at most one turn.
func (s *Store) withSessionLock(id string, fn func() error) error {
	if err := os.MkdirAll(s.sessionDir(id), 0o755); err != nil {
		return err
	}
	fl := flock.New(s.lockPath(id))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("session %s: acquire lock: %w", id, err)
	}
	defer fl.Unlock()
	return fn()
}

// Create allocates a new session, writes state.toml (and metadata.toml
// iff a tool is provided), links genealogy to parent if given, and
// commits the new subtree to the sessions git repo.
func (s *Store) Create(project, description, parent, tool string) (*State, error) {
	id := idgen.New()
	now := time.Now().UTC()

	st := &State{
		MetaSessionID: id,
		ProjectPath:   project,
		CreatedAt:     now,
		LastAccessed:  now,
		Description:   description,
		Phase:         PhaseAvailable,
		Tools:         map[string]ToolState{},
	}

	if parent != "" {
		parentState, err := s.Load(parent)
		if err != nil {
			return nil, fmt.Errorf("create session: resolve parent: %w", err)
		}
		st.Genealogy = Genealogy{ParentSessionID: parentState.MetaSessionID, Depth: parentState.Genealogy.Depth + 1}
		st.Branch = parentState.Branch
	}

	if tool != "" {
		st.Tool = tool
		st.Tools[tool] = ToolState{UpdatedAt: now}
	}

	if err := os.MkdirAll(s.sessionDir(id), 0o755); err != nil {
		return nil, err
	}
	if err := s.Save(st); err != nil {
		return nil, err
	}
	if tool != "" {
		if err := s.writeMetadata(id, tool); err != nil {
			return nil, err
		}
	}

	if _, err := s.git.commitSession(id, fmt.Sprintf("create session %s", shortID(id))); err != nil && err != ErrNothingToCommit {
		s.log.Warn("session create: git commit failed", "session", id, "error", err)
	}

	return st, nil
}

func (s *Store) writeMetadata(id, tool string) error {
	data := struct {
		Tool string `toml:"tool"`
	}{Tool: tool}
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(data); err != nil {
		return err
	}
	return atomicWrite(s.metadataPath(id), []byte(buf.String()))
}

// Load reads and parses state.toml for id.
func (s *Store) Load(id string) (*State, error) {
	data, err := os.ReadFile(s.statePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}
	var st State
	if _, err := toml.Decode(string(data), &st); err != nil {
		return nil, fmt.Errorf("session %s: parse state.toml: %w", id, err)
	}
	return &st, nil
}

// Save atomically persists st (temp-file + rename), guaranteeing a crash
// mid-write never leaves a partially-parseable state.toml.
func (s *Store) Save(st *State) error {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(st); err != nil {
		return err
	}
	if err := os.MkdirAll(s.sessionDir(st.MetaSessionID), 0o755); err != nil {
		return err
	}
	return atomicWrite(s.statePath(st.MetaSessionID), []byte(buf.String()))
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ResolvePrefix returns the unique session whose id begins with partial.
// Fails on ambiguity, no match, or a prefix shorter than idgen.MinPrefixLen.
func (s *Store) ResolvePrefix(partial string) (*State, error) {
	if len(partial) < idgen.MinPrefixLen {
		return nil, ErrPrefixTooShort
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), partial) {
			matches = append(matches, e.Name())
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: no session matches prefix %q", ErrSessionNotFound, partial)
	case 1:
		return s.Load(matches[0])
	default:
		return nil, fmt.Errorf("%w: %q matches %d sessions", ErrAmbiguousPrefix, partial, len(matches))
	}
}

// List returns all sessions under project, optionally filtered to those
// with a ToolState for toolFilter.
func (s *Store) List(project, toolFilter string) ([]*State, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*State
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st, err := s.Load(e.Name())
		if err != nil {
			continue
		}
		if project != "" && st.ProjectPath != project {
			continue
		}
		if toolFilter != "" && !st.HasTool(toolFilter) {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// Find returns up to the 10 most recently-accessed sessions matching the
// given filters (any empty/nil filter is ignored).
func (s *Store) Find(branch, taskType string, phase Phase, tools []string) ([]*State, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*State
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st, err := s.Load(e.Name())
		if err != nil {
			continue
		}
		if branch != "" && st.Branch != branch {
			continue
		}
		if taskType != "" && st.TaskContext.TaskType != taskType {
			continue
		}
		if phase != "" && st.Phase != phase {
			continue
		}
		if len(tools) > 0 {
			ok := false
			for _, t := range tools {
				if st.HasTool(t) {
					ok = true
					break
				}
			}
			if !ok {
				continue
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessed.After(out[j].LastAccessed) })
	if len(out) > 10 {
		out = out[:10]
	}
	return out, nil
}

// ValidateToolAccess fails with an error containing "locked" when tool
// does not match the session's recorded tool lock.
func (s *Store) ValidateToolAccess(id, tool string) error {
	st, err := s.Load(id)
	if err != nil {
		return err
	}
	if st.Locked(tool) {
		return fmt.Errorf("%w: session %s is locked to tool %q, not %q", ErrToolLocked, shortID(id), st.Tool, tool)
	}
	return nil
}

// ResolveResumeSession enforces the tool lock: resuming a session with a
// different tool than the one it is locked to is rejected.
func (s *Store) ResolveResumeSession(id, tool string) (*State, error) {
	st, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	if st.Locked(tool) {
		return nil, fmt.Errorf("%w: session %s is locked to tool %q, not %q", ErrToolLocked, shortID(id), st.Tool, tool)
	}
	return st, nil
}

// ResolveForkSource bypasses the tool lock entirely: soft forks only read
// context and never write into the source session's tool slot.
func (s *Store) ResolveForkSource(id string) (*State, error) {
	return s.Load(id)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
