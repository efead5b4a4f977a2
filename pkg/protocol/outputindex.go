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

package protocol

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ReturnPacketSectionID is the reserved OutputIndex section id that names
// the return packet file.
const ReturnPacketSectionID = "return-packet"

// Section describes one structured block of a child session's output.
type Section struct {
	ID            string `toml:"id"`
	Title         string `toml:"title"`
	LineStart     int    `toml:"line_start"`
	LineEnd       int    `toml:"line_end"`
	TokenEstimate int    `toml:"token_estimate"`
	FilePath      string `toml:"file_path"`
}

// OutputIndex is the manifest of sections a child session emitted.
type OutputIndex struct {
	Sections    []Section `toml:"sections"`
	TotalTokens int       `toml:"total_tokens"`
	TotalLines  int       `toml:"total_lines"`
}

// ReturnPacketSection finds the reserved return-packet section, if present.
func (idx OutputIndex) ReturnPacketSection() (Section, bool) {
	for _, s := range idx.Sections {
		if s.ID == ReturnPacketSectionID {
			return s, true
		}
	}
	return Section{}, false
}

// LoadOutputIndex reads output/index.toml for a session.
func LoadOutputIndex(path string) (OutputIndex, error) {
	var idx OutputIndex
	data, err := os.ReadFile(path)
	if err != nil {
		return idx, fmt.Errorf("read output index: %w", err)
	}
	if _, err := toml.Decode(string(data), &idx); err != nil {
		return idx, fmt.Errorf("parse output index: %w", err)
	}
	return idx, nil
}

// SaveOutputIndex atomically writes idx as a session's output/index.toml.
func SaveOutputIndex(path string, idx OutputIndex) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(idx); err != nil {
		return fmt.Errorf("encode output index: %w", err)
	}
	return atomicWrite(path, buf.Bytes())
}

// ResolveSectionPath joins outputDir with the section's declared file path
// and verifies the result does not escape outputDir, even via a crafted
// "../" component or a symlink. It returns the canonical, safe path.
func ResolveSectionPath(outputDir string, section Section) (string, error) {
	canonicalOutputDir, err := filepath.EvalSymlinks(outputDir)
	if err != nil {
		return "", fmt.Errorf("resolve output dir: %w", err)
	}
	joined := filepath.Join(outputDir, section.FilePath)
	// The file itself may not exist yet on the parent's first read; resolve
	// symlinks on its existing ancestor instead of failing outright.
	canonicalSection, err := resolveExistingAncestor(joined)
	if err != nil {
		return "", fmt.Errorf("resolve section path: %w", err)
	}
	rel, err := filepath.Rel(canonicalOutputDir, canonicalSection)
	if err != nil || rel == ".." || len(rel) >= 2 && rel[:2] == ".." {
		return "", fmt.Errorf("section path %q escapes output directory", section.FilePath)
	}
	return filepath.Join(canonicalOutputDir, rel), nil
}

// resolveExistingAncestor canonicalizes path by resolving symlinks on the
// deepest existing ancestor and rejoining the remaining, not-yet-existing
// suffix unresolved.
func resolveExistingAncestor(path string) (string, error) {
	if _, err := os.Lstat(path); err == nil {
		return filepath.EvalSymlinks(path)
	}
	dir, base := filepath.Split(filepath.Clean(path))
	if dir == "" || dir == string(filepath.Separator) {
		return path, nil
	}
	resolvedDir, err := resolveExistingAncestor(filepath.Clean(dir))
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}
