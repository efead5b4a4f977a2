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
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Result is the durable outcome of a session's most recent turn,
// persisted as result.toml alongside state.toml.
type Result struct {
	ExitCode     int       `toml:"exit_code"`
	Status       string    `toml:"status"`
	Summary      string    `toml:"summary"`
	TokenUsage   int       `toml:"token_usage"`
	CompletedAt  time.Time `toml:"completed_at"`
	ErrorContext string    `toml:"error_context,omitempty"`
}

func (s *Store) resultPath(id string) string {
	return filepath.Join(s.sessionDir(id), "result.toml")
}

// SaveResult atomically writes r as id's result.toml and commits it.
func (s *Store) SaveResult(id string, r Result) error {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(r); err != nil {
		return err
	}
	if err := atomicWrite(s.resultPath(id), []byte(buf.String())); err != nil {
		return err
	}
	if _, err := s.git.commitSessionFile(id, "result.toml", fmt.Sprintf("result for %s", shortID(id))); err != nil && err != ErrNothingToCommit {
		s.log.Warn("save result: git commit failed", "session", id, "error", err)
	}
	return nil
}

// LoadResult reads id's result.toml.
func (s *Store) LoadResult(id string) (Result, error) {
	var r Result
	data, err := os.ReadFile(s.resultPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return r, fmt.Errorf("session %s: no result recorded yet", shortID(id))
		}
		return r, err
	}
	if _, err := toml.Decode(string(data), &r); err != nil {
		return r, fmt.Errorf("session %s: parse result.toml: %w", id, err)
	}
	return r, nil
}

// Artifacts lists the output section files recorded for id (the basenames
// under output/, not including index.toml itself).
func (s *Store) Artifacts(id string) ([]string, error) {
	dir := filepath.Join(s.sessionDir(id), "output")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == "index.toml" {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

// Logs returns the last maxLines lines of logs/<tool>.log for id. An
// absent log file is not an error: it returns an empty string.
func (s *Store) Logs(id, tool string, maxLines int) (string, error) {
	path := filepath.Join(s.sessionDir(id), "logs", tool+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n"), nil
}
