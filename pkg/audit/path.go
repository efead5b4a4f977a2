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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidatePath resolves arg (relative or absolute) against root and
// verifies it lands inside root, ascending to the deepest existing
// ancestor and canonicalizing it so a symlink cannot be used to escape
// the project root even before the final path component exists.
func ValidatePath(arg, root string) (string, error) {
	canonicalRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize root: %w", err)
	}
	joined := arg
	if !filepath.IsAbs(arg) {
		joined = filepath.Join(root, arg)
	}
	canonical, err := resolveExistingAncestor(filepath.Clean(joined))
	if err != nil {
		return "", fmt.Errorf("audit: resolve %q: %w", arg, err)
	}
	rel, err := filepath.Rel(canonicalRoot, canonical)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("audit: path %q escapes project root", arg)
	}
	return canonical, nil
}

// ResolveManifestKey validates arg against root and returns its manifest
// key (the root-relative, forward-slash path).
func ResolveManifestKey(arg, root string) (string, error) {
	canonicalRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize root: %w", err)
	}
	validated, err := ValidatePath(arg, root)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(canonicalRoot, validated)
	if err != nil {
		return "", fmt.Errorf("audit: relativize %q: %w", arg, err)
	}
	if rel == "." {
		return "", fmt.Errorf("audit: %q resolves to the root directory, expected a file", arg)
	}
	return PathToKey(rel), nil
}

// ValidateMirrorDir validates a user-supplied mirror directory: it must
// be relative, contain no ".." component, and (if it or its deepest
// existing ancestor exists) resolve inside project root even through a
// symlink.
func ValidateMirrorDir(mirrorDir, projectRoot string) (string, error) {
	if filepath.IsAbs(mirrorDir) {
		return "", fmt.Errorf("audit: mirror directory must be a relative path, got absolute: %s", mirrorDir)
	}
	for _, part := range strings.Split(filepath.ToSlash(mirrorDir), "/") {
		if part == ".." {
			return "", fmt.Errorf("audit: mirror directory must not contain '..': %s", mirrorDir)
		}
	}

	resolved := filepath.Join(projectRoot, mirrorDir)
	canonicalRoot, err := filepath.EvalSymlinks(projectRoot)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize project root: %w", err)
	}

	ancestor := resolved
	for {
		if _, err := os.Lstat(ancestor); err == nil {
			break
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			break
		}
		ancestor = parent
	}
	if _, err := os.Lstat(ancestor); err == nil {
		canonicalAncestor, err := filepath.EvalSymlinks(ancestor)
		if err != nil {
			return "", fmt.Errorf("audit: canonicalize ancestor %q: %w", ancestor, err)
		}
		rel, err := filepath.Rel(canonicalRoot, canonicalAncestor)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("audit: mirror directory %q escapes project root (ancestor %s resolved to %s)", mirrorDir, ancestor, canonicalAncestor)
		}
	}

	if _, err := os.Lstat(resolved); err == nil {
		return filepath.EvalSymlinks(resolved)
	}
	return resolved, nil
}

// ComputeMirrorBlogPath mirrors sourceKey under mirrorDir, appending
// ".md". mirrorDir "." places the mirror alongside the source.
func ComputeMirrorBlogPath(mirrorDir, sourceKey string) string {
	mirrored := filepath.ToSlash(filepath.Join(mirrorDir, sourceKey+".md"))
	return strings.TrimPrefix(mirrored, "./")
}

// resolveExistingAncestor canonicalizes path by resolving symlinks on the
// deepest existing ancestor and rejoining the remaining, not-yet-existing
// suffix unresolved (shared shape with pkg/protocol's section-path check).
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
