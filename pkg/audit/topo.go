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
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	modDeclRe  = regexp.MustCompile(`(?m)^\s*(?:pub(?:\(crate\))?\s+)?mod\s+(\w+)\s*;`)
	useCrateRe = regexp.MustCompile(`(?m)^\s*use\s+crate::(\w+)`)
)

// TopoSort orders files so that files with no dependencies on other files
// in the set come first, letting an auditor review foundational modules
// before what depends on them. Ordering is derived from `mod foo;` and
// `use crate::foo` edges between the .rs files under projectRoot; a .rs
// file that cannot be read is ranked as having no dependencies. Non-Rust
// files take no part in the dependency order: they are sorted by
// directory depth (deepest first, then alphabetical) and appended after
// the dependency-ordered files.
func TopoSort(files []string, projectRoot string) []string {
	var ranked []string
	var unranked []string
	for _, f := range files {
		if strings.HasSuffix(f, ".rs") {
			ranked = append(ranked, f)
		} else {
			unranked = append(unranked, f)
		}
	}

	modToFile := make(map[string]string, len(ranked))
	for _, f := range ranked {
		for _, name := range inferModuleNames(f) {
			modToFile[name] = f
		}
	}

	deps := make(map[string]map[string]bool, len(ranked))
	for _, f := range ranked {
		deps[f] = make(map[string]bool)
	}
	for _, f := range ranked {
		content, err := os.ReadFile(filepath.Join(projectRoot, f))
		if err != nil {
			continue
		}
		for name := range parseDependencies(string(content)) {
			if depFile, ok := modToFile[name]; ok && depFile != f {
				deps[f][depFile] = true
			}
		}
	}

	sortedRanked := kahnSort(deps)
	sortedUnranked := sortByDepthThenName(unranked)

	result := make([]string, 0, len(files))
	result = append(result, sortedRanked...)
	result = append(result, sortedUnranked...)
	return result
}

// inferModuleNames returns the module name(s) a file path represents:
// "src/foo.rs" -> ["foo"], "src/foo/mod.rs" -> ["foo"].
func inferModuleNames(path string) []string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "mod" {
		parent := filepath.Dir(path)
		if parent != "." && parent != "/" {
			return []string{filepath.Base(parent)}
		}
		return nil
	}
	return []string{stem}
}

func parseDependencies(content string) map[string]bool {
	deps := make(map[string]bool)
	for _, m := range modDeclRe.FindAllStringSubmatch(content, -1) {
		deps[m[1]] = true
	}
	for _, m := range useCrateRe.FindAllStringSubmatch(content, -1) {
		deps[m[1]] = true
	}
	return deps
}

// kahnSort runs Kahn's algorithm on the *out-degree* of deps (number of
// unresolved dependencies each file still has) so that files with zero
// dependencies are emitted first. Cycles are detected when nodes remain
// unemitted after the queue drains; those are appended, depth-descending.
func kahnSort(deps map[string]map[string]bool) []string {
	dependents := make(map[string][]string, len(deps))
	outDegree := make(map[string]int, len(deps))
	for node, nodeDeps := range deps {
		count := 0
		for dep := range nodeDeps {
			if _, ok := deps[dep]; ok {
				count++
				dependents[dep] = append(dependents[dep], node)
			}
		}
		outDegree[node] = count
	}

	var queue []string
	for node, deg := range outDegree {
		if deg == 0 {
			queue = append(queue, node)
		}
	}
	sort.Strings(queue)

	var result []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		var nextReady []string
		users := append([]string(nil), dependents[node]...)
		sort.Strings(users)
		for _, user := range users {
			outDegree[user]--
			if outDegree[user] == 0 {
				nextReady = append(nextReady, user)
			}
		}
		sort.Strings(nextReady)
		queue = append(queue, nextReady...)
	}

	if len(result) < len(deps) {
		seen := make(map[string]bool, len(result))
		for _, r := range result {
			seen[r] = true
		}
		var cyclic []string
		for node := range deps {
			if !seen[node] {
				cyclic = append(cyclic, node)
			}
		}
		result = append(result, sortByDepthThenName(cyclic)...)
	}
	return result
}

func sortByDepthThenName(files []string) []string {
	out := append([]string(nil), files...)
	sort.Slice(out, func(i, j int) bool {
		di, dj := pathDepth(out[i]), pathDepth(out[j])
		if di != dj {
			return di > dj
		}
		return out[i] < out[j]
	})
	return out
}

func pathDepth(path string) int {
	depth := 0
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}
