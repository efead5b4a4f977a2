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

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gobwas/glob"
)

// ScanDirectory walks root and returns every regular file's root-relative
// key, skipping any path matching an ignore glob (matched the same way as
// ExpandFileArgs: `/` bounded, `**` crosses directories).
func ScanDirectory(root string, ignores []string) ([]string, error) {
	compiled := make([]glob.Glob, 0, len(ignores))
	for _, pattern := range ignores {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("audit: invalid ignore pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, g)
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		key := PathToKey(rel)
		if d.IsDir() {
			if key != "." && matchesAny(compiled, key) {
				return filepath.SkipDir
			}
			return nil
		}
		if matchesAny(compiled, key) {
			return nil
		}
		files = append(files, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: scan %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func matchesAny(globs []glob.Glob, key string) bool {
	for _, g := range globs {
		if g.Match(key) {
			return true
		}
	}
	return false
}

// HashFile returns the hex sha256 digest of the file at path, prefixed
// "sha256:" to match the manifest's hash format.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("audit: hash %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("audit: hash %s: %w", path, err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// ScanAndHash walks root (honoring ignores) and returns each file's
// current content hash, keyed by its manifest key.
func ScanAndHash(root string, ignores []string) (map[string]string, error) {
	files, err := ScanDirectory(root, ignores)
	if err != nil {
		return nil, err
	}
	current := make(map[string]string, len(files))
	for _, key := range files {
		validated, err := ValidatePath(key, root)
		if err != nil {
			return nil, err
		}
		hash, err := HashFile(validated)
		if err != nil {
			return nil, err
		}
		current[key] = hash
	}
	return current, nil
}

// Gate is the audit / safety gate: it loads the manifest for a project
// root and exposes the approval-aware operations that guard writes a
// fork-call child proposes. It collaborates with the fork controller
// but is independent of it.
type Gate struct {
	Root      string
	MirrorDir string
	Ignores   []string
	Manifest  *Manifest
}

// Open loads (or initializes, if absent) the manifest at
// filepath.Join(root, manifestRelPath).
func Open(root, manifestRelPath, mirrorDir string, ignores []string) (*Gate, error) {
	path := filepath.Join(root, manifestRelPath)
	m, err := Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m = NewManifest(root)
		} else {
			return nil, err
		}
	}
	return &Gate{Root: root, MirrorDir: mirrorDir, Ignores: ignores, Manifest: m}, nil
}

// Refresh rescans the project tree and upserts any new or modified file
// into the manifest as Pending, leaving existing entries' audit_status
// untouched when their hash is unchanged.
func (g *Gate) Refresh() error {
	current, err := ScanAndHash(g.Root, g.Ignores)
	if err != nil {
		return err
	}
	for key, hash := range current {
		existing, ok := g.Manifest.Files[key]
		if ok && existing.Hash == hash {
			continue
		}
		g.Manifest.Files[key] = FileEntry{Hash: hash, AuditStatus: StatusPending}
	}
	return nil
}

// Resolve expands args (which may include glob patterns) against the
// manifest and validates each resulting path resolves inside Root.
func (g *Gate) Resolve(args []string) ([]string, error) {
	expanded, err := ExpandFileArgs(args, g.Manifest)
	if err != nil {
		return nil, err
	}
	for _, key := range expanded {
		if _, err := ValidatePath(key, g.Root); err != nil {
			return nil, err
		}
	}
	return expanded, nil
}

// Approve marks key Approved, recording the approver and blog mirror
// path. It fails if key is not present in the manifest.
func (g *Gate) Approve(key, approvedBy string, approvedAt time.Time) error {
	entry, ok := g.Manifest.Files[key]
	if !ok {
		return fmt.Errorf("audit: %q is not in the manifest", key)
	}
	entry.AuditStatus = StatusApproved
	entry.ApprovedBy = approvedBy
	entry.ApprovedAt = &approvedAt
	if entry.BlogPath == "" {
		entry.BlogPath = ComputeMirrorBlogPath(g.MirrorDir, key)
	}
	g.Manifest.Files[key] = entry
	return nil
}

// Ordered returns the manifest's files in topological review order.
func (g *Gate) Ordered() []string {
	return TopoSort(g.Manifest.Keys(), g.Root)
}
