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
	"sort"
	"strings"
)

// ContextSummary extracts a bounded context summary from a session's
// on-disk state, for injection as a soft fork's first-prompt prefix:
// the session description, the last recorded result summary, and the
// most recent output sections, newest first, until maxChars runs out.
// Truncation happens on character boundaries, never mid-rune.
func (s *Store) ContextSummary(id string, maxChars int) (string, error) {
	st, err := s.Load(id)
	if err != nil {
		return "", err
	}

	var parts []string
	if st.Description != "" {
		parts = append(parts, fmt.Sprintf("Continuing from session %s: %s", shortID(id), st.Description))
	} else {
		parts = append(parts, fmt.Sprintf("Continuing from session %s.", shortID(id)))
	}

	if r, err := s.LoadResult(id); err == nil && r.Summary != "" {
		parts = append(parts, "Last result:\n"+r.Summary)
	}

	outputDir := filepath.Join(s.sessionDir(id), "output")
	entries, err := os.ReadDir(outputDir)
	if err == nil {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || e.Name() == "index.toml" {
				continue
			}
			names = append(names, e.Name())
		}
		// Section files carry no ordering of their own; mtime descending
		// approximates recency.
		sort.Slice(names, func(i, j int) bool {
			fi, _ := os.Stat(filepath.Join(outputDir, names[i]))
			fj, _ := os.Stat(filepath.Join(outputDir, names[j]))
			if fi == nil || fj == nil {
				return names[i] < names[j]
			}
			return fi.ModTime().After(fj.ModTime())
		})
		for _, name := range names {
			data, err := os.ReadFile(filepath.Join(outputDir, name))
			if err != nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("Section %s:\n%s", name, strings.TrimSpace(string(data))))
		}
	}

	summary := strings.Join(parts, "\n\n")
	runes := []rune(summary)
	if maxChars > 0 && len(runes) > maxChars {
		summary = string(runes[:maxChars])
	}
	return summary, nil
}

// Summarizer adapts the store to the fork controller's ContextSummarizer
// contract, which addresses sessions by their on-disk directory.
type Summarizer struct {
	Store *Store
}

func (s Summarizer) Summarize(sessionDir string, maxChars int) (string, error) {
	return s.Store.ContextSummary(filepath.Base(sessionDir), maxChars)
}
