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

// Package audit implements the manifest-driven approval gate: a
// repo-relative path index with per-file audit status, glob expansion over
// that index, symlink-safe path containment checks, mirror-path
// computation for paired review artifacts, and a dependency-aware
// topological ordering for presenting files to an auditor.
package audit

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Status is a file's position in the audit lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusGenerated Status = "generated"
	StatusApproved  Status = "approved"
)

// ParseStatus normalizes a user-supplied status string.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "pending":
		return StatusPending, nil
	case "generated":
		return StatusGenerated, nil
	case "approved":
		return StatusApproved, nil
	default:
		return "", fmt.Errorf("audit: invalid status %q (valid: pending, generated, approved)", s)
	}
}

// FileEntry is one manifest row.
type FileEntry struct {
	Hash        string     `toml:"hash"`
	AuditStatus Status     `toml:"audit_status"`
	BlogPath    string     `toml:"blog_path,omitempty"`
	Auditor     string     `toml:"auditor,omitempty"`
	ApprovedBy  string     `toml:"approved_by,omitempty"`
	ApprovedAt  *time.Time `toml:"approved_at,omitempty"`
}

// Manifest maps repo-relative, forward-slash paths to their FileEntry.
type Manifest struct {
	Root  string               `toml:"root"`
	Files map[string]FileEntry `toml:"files"`
}

// NewManifest returns an empty manifest rooted at root.
func NewManifest(root string) *Manifest {
	return &Manifest{Root: root, Files: make(map[string]FileEntry)}
}

// DefaultManifestPath is the manifest's conventional location relative to
// the project root.
const DefaultManifestPath = ".csa/audit-manifest.toml"

// Load reads and parses a manifest from path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audit: load manifest: %w", err)
	}
	m := &Manifest{Files: make(map[string]FileEntry)}
	if _, err := toml.Decode(string(data), m); err != nil {
		return nil, fmt.Errorf("audit: parse manifest %s: %w", path, err)
	}
	if m.Files == nil {
		m.Files = make(map[string]FileEntry)
	}
	return m, nil
}

// Save atomically persists m to path (temp-file + rename).
func (m *Manifest) Save(path string) error {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("audit: encode manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(buf.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Keys returns the manifest's file keys in sorted order.
func (m *Manifest) Keys() []string {
	keys := make([]string, 0, len(m.Files))
	for k := range m.Files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PathToKey normalizes a filesystem path into a manifest key (forward
// slashes, independent of the host path separator).
func PathToKey(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}
