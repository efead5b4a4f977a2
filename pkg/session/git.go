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
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// gitHistory wraps an in-process git repository (go-git) rooted at the
// sessions/ directory, used instead of shelling out to git(1).
type gitHistory struct {
	dir    string
	repo   *gogit.Repository
	author string
}

// newGitHistory opens or initializes the sessions/ git repository.
// newGitHistory is idempotent: re-opening an already-initialized repo is a
// no-op, never a re-init.
func newGitHistory(dir, author string) (*gitHistory, error) {
	repo, err := gogit.PlainOpen(dir)
	if err == gogit.ErrRepositoryNotExists {
		repo, err = gogit.PlainInit(dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("sessions git repo: %w", err)
	}
	return &gitHistory{dir: dir, repo: repo, author: author}, nil
}

func (g *gitHistory) signature() *object.Signature {
	name, email := g.author, "csa@localhost"
	if i := strings.Index(g.author, "<"); i >= 0 && strings.HasSuffix(g.author, ">") {
		name = strings.TrimSpace(g.author[:i])
		email = strings.TrimSuffix(g.author[i+1:], ">")
	}
	return &object.Signature{Name: name, Email: email, When: time.Now()}
}

// commitSession stages only sessions/<id>/ and commits it. Returns
// ErrNothingToCommit (not a generic error) when the subtree is clean, so
// callers can distinguish "nothing changed" from a real failure.
func (g *gitHistory) commitSession(id, message string) (string, error) {
	return g.commitPath(filepath.Join(g.dir, id), message)
}

// commitSessionFile commits a single path within a session's subtree.
func (g *gitHistory) commitSessionFile(id, relPath, message string) (string, error) {
	return g.commitPath(filepath.Join(g.dir, id, relPath), message)
}

func (g *gitHistory) commitPath(absPath, message string) (string, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(g.dir, absPath)
	if err != nil {
		return "", err
	}
	if err := wt.AddWithOptions(&gogit.AddOptions{Path: filepath.ToSlash(rel)}); err != nil {
		return "", fmt.Errorf("git add %s: %w", rel, err)
	}

	status, err := wt.Status()
	if err != nil {
		return "", err
	}
	prefix := filepath.ToSlash(rel)
	staged := false
	for p, fst := range status {
		if (p == prefix || strings.HasPrefix(p, prefix+"/")) && fst.Staging != gogit.Unmodified && fst.Staging != gogit.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		return "", ErrNothingToCommit
	}

	hash, err := wt.Commit(message, &gogit.CommitOptions{Author: g.signature()})
	if err != nil {
		return "", fmt.Errorf("git commit: %w", err)
	}
	return shortHash(hash), nil
}

// history returns the commit log touching sessions/<id>/, newest first, or
// an empty string (not an error) when there are no commits yet.
func (g *gitHistory) history(id string) (string, error) {
	head, err := g.repo.Head()
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return "", nil
		}
		return "", err
	}
	commitIter, err := g.repo.Log(&gogit.LogOptions{From: head.Hash(), PathFilter: func(p string) bool {
		return strings.HasPrefix(p, id+"/") || p == id
	}})
	if err != nil {
		return "", err
	}
	var lines []string
	err = commitIter.ForEach(func(c *object.Commit) error {
		lines = append(lines, fmt.Sprintf("%s %s", shortHash(c.Hash), strings.TrimSpace(c.Message)))
		return nil
	})
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func shortHash(h plumbing.Hash) string {
	s := h.String()
	if len(s) > 7 {
		return s[:7]
	}
	return s
}

// CommitSession commits a session's subtree. Exposed on Store for callers
// outside this package.
func (s *Store) CommitSession(id, message string) (string, error) {
	return s.git.commitSession(id, message)
}

// CommitSessionFile commits a single file within a session's subtree.
func (s *Store) CommitSessionFile(id, relPath, message string) (string, error) {
	return s.git.commitSessionFile(id, relPath, message)
}

// SessionHistory returns the git log for a session's subtree.
func (s *Store) SessionHistory(id string) (string, error) {
	return s.git.history(id)
}
