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

package main

import (
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/csa-project/csa/pkg/protocol"
)

// gitBranch returns the checked-out branch name for the project working
// directory, or "" when the directory is not a repository or HEAD is
// detached. Best-effort throughout: session creation must not fail on a
// projects-without-git.
func gitBranch(project string) string {
	repo, err := git.PlainOpenWithOptions(project, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil || !head.Name().IsBranch() {
		return ""
	}
	return head.Name().Short()
}

// gitHead returns the project's current HEAD hash, or "".
func gitHead(project string) string {
	repo, err := git.PlainOpenWithOptions(project, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}

// gitChangedFiles diffs two commits of the project repository into the
// return packet's changed-file shape. Any failure yields nil: the packet
// simply carries no file list, which validates fine.
func gitChangedFiles(project, before, after string) []protocol.ChangedFile {
	if before == "" || after == "" || before == after {
		return nil
	}
	repo, err := git.PlainOpenWithOptions(project, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil
	}
	beforeTree, err := commitTree(repo, before)
	if err != nil {
		return nil
	}
	afterTree, err := commitTree(repo, after)
	if err != nil {
		return nil
	}
	changes, err := beforeTree.Diff(afterTree)
	if err != nil {
		return nil
	}
	var out []protocol.ChangedFile
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			continue
		}
		switch action {
		case merkletrie.Insert:
			out = append(out, protocol.ChangedFile{Path: ch.To.Name, Action: protocol.ActionAdd})
		case merkletrie.Delete:
			out = append(out, protocol.ChangedFile{Path: ch.From.Name, Action: protocol.ActionDelete})
		case merkletrie.Modify:
			out = append(out, protocol.ChangedFile{Path: ch.To.Name, Action: protocol.ActionModify})
		}
	}
	return out
}

func commitTree(repo *git.Repository, hash string) (*object.Tree, error) {
	commit, err := repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, err
	}
	return commit.Tree()
}
