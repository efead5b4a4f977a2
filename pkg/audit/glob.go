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
	"strings"

	"github.com/gobwas/glob"
)

// IsGlobPattern reports whether s contains glob metacharacters.
func IsGlobPattern(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// ExpandFileArgs expands any glob-patterned argument against m's file
// keys; non-glob arguments pass through unchanged, in their original
// position. `/` is treated as a path separator, so a bare `*` does not
// cross directory boundaries while `**` does (matching the file-set
// intent, not a generic shell glob). A pattern matching zero manifest
// entries is an error.
func ExpandFileArgs(args []string, m *Manifest) ([]string, error) {
	expanded := make([]string, 0, len(args))
	for _, arg := range args {
		if !IsGlobPattern(arg) {
			expanded = append(expanded, arg)
			continue
		}
		g, err := glob.Compile(arg, '/')
		if err != nil {
			return nil, fmt.Errorf("audit: invalid glob pattern %q: %w", arg, err)
		}
		var matched []string
		for _, key := range m.Keys() {
			if g.Match(key) {
				matched = append(matched, key)
			}
		}
		if len(matched) == 0 {
			return nil, fmt.Errorf("audit: glob pattern %q matched zero files in the audit manifest", arg)
		}
		expanded = append(expanded, matched...)
	}
	return expanded, nil
}
