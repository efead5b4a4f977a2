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

// Package protocol implements the fork-call-return protocol: the
// structured packet a child session emits and the validation/resume logic
// a parent session applies before trusting it.
package protocol

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

// MaxSummaryChars bounds ReturnPacket.Summary.
const MaxSummaryChars = 8000

// Status is the terminal disposition of a forked child session.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
)

// normalizeStatus accepts both snake_case and PascalCase spellings on
// deserialization, and always re-emits the canonical lower-case form.
func normalizeStatus(raw string) (Status, error) {
	switch strings.ToLower(raw) {
	case "success":
		return StatusSuccess, nil
	case "failure":
		return StatusFailure, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("return packet: unrecognized status %q", raw)
	}
}

// FileAction describes what a fork child did to one file.
type FileAction string

const (
	ActionAdd    FileAction = "add"
	ActionModify FileAction = "modify"
	ActionDelete FileAction = "delete"
)

func normalizeAction(raw string) (FileAction, error) {
	switch strings.ToLower(raw) {
	case "add":
		return ActionAdd, nil
	case "modify":
		return ActionModify, nil
	case "delete":
		return ActionDelete, nil
	default:
		return "", fmt.Errorf("return packet: unrecognized file action %q", raw)
	}
}

// ChangedFile is one entry in ReturnPacket.ChangedFiles.
type ChangedFile struct {
	Path   string     `toml:"path"`
	Action FileAction `toml:"action"`
}

// ReturnPacket is the structured artifact a forked child writes for its
// parent to consume. It is untrusted input until Validate succeeds.
type ReturnPacket struct {
	Status        Status        `toml:"status"`
	ExitCode      int           `toml:"exit_code"`
	Summary       string        `toml:"summary"`
	Artifacts     []string      `toml:"artifacts"`
	ChangedFiles  []ChangedFile `toml:"changed_files"`
	GitHeadBefore string        `toml:"git_head_before,omitempty"`
	GitHeadAfter  string        `toml:"git_head_after,omitempty"`
	NextActions   []string      `toml:"next_actions,omitempty"`
	ErrorContext  string        `toml:"error_context,omitempty"`
}

// rawReturnPacket mirrors ReturnPacket but keeps Status/Action as strings
// so the TOML decoder doesn't reject case variants before normalization
// gets a chance to run.
type rawReturnPacket struct {
	Status       string   `toml:"status"`
	ExitCode     int      `toml:"exit_code"`
	Summary      string   `toml:"summary"`
	Artifacts    []string `toml:"artifacts"`
	ChangedFiles []struct {
		Path   string `toml:"path"`
		Action string `toml:"action"`
	} `toml:"changed_files"`
	GitHeadBefore string   `toml:"git_head_before"`
	GitHeadAfter  string   `toml:"git_head_after"`
	NextActions   []string `toml:"next_actions"`
	ErrorContext  string   `toml:"error_context"`
}

// DecodeReturnPacket normalizes a raw TOML decode into a ReturnPacket,
// accepting either snake_case or PascalCase enum spellings.
func DecodeReturnPacket(raw rawReturnPacket) (ReturnPacket, error) {
	status, err := normalizeStatus(raw.Status)
	if err != nil {
		return ReturnPacket{}, err
	}
	rp := ReturnPacket{
		Status:        status,
		ExitCode:      raw.ExitCode,
		Summary:       raw.Summary,
		Artifacts:     raw.Artifacts,
		GitHeadBefore: raw.GitHeadBefore,
		GitHeadAfter:  raw.GitHeadAfter,
		NextActions:   raw.NextActions,
		ErrorContext:  raw.ErrorContext,
	}
	for _, cf := range raw.ChangedFiles {
		action, err := normalizeAction(cf.Action)
		if err != nil {
			return ReturnPacket{}, err
		}
		rp.ChangedFiles = append(rp.ChangedFiles, ChangedFile{Path: cf.Path, Action: action})
	}
	return rp, nil
}

// Validate checks the packet against the fork-call-return protocol's
// acceptance rules: summary length, non-empty artifacts, and repo-relative,
// traversal-free changed-file paths.
func (rp ReturnPacket) Validate() error {
	if n := utf8.RuneCountInString(rp.Summary); n > MaxSummaryChars {
		return fmt.Errorf("return packet: summary exceeds %d characters (got %d)", MaxSummaryChars, n)
	}
	for i, a := range rp.Artifacts {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("return packet: artifact[%d] is empty", i)
		}
	}
	for _, cf := range rp.ChangedFiles {
		if err := validateRelativePath(cf.Path); err != nil {
			return fmt.Errorf("return packet: changed_files path %q: %w", cf.Path, err)
		}
	}
	return nil
}

// validateRelativePath enforces: non-empty, repo-relative, no "..", no
// absolute prefix (POSIX or Windows drive-letter / UNC), no null bytes.
// "./x" is accepted and treated as normalized to "x" by the caller.
func validateRelativePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("contains a null byte")
	}
	if path.IsAbs(p) || strings.HasPrefix(p, "/") {
		return fmt.Errorf("must be repo-relative, not absolute")
	}
	if len(p) >= 2 && p[1] == ':' {
		return fmt.Errorf("must be repo-relative, not a Windows drive path")
	}
	if strings.HasPrefix(p, `\\`) {
		return fmt.Errorf("must be repo-relative, not a UNC path")
	}
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return fmt.Errorf("contains path traversal")
		}
	}
	return nil
}

// NormalizePath strips a leading "./" the way the protocol's acceptance
// rule for ReturnPacket.ChangedFiles requires.
func NormalizePath(p string) string {
	return path.Clean(p)
}

// SanitizeSummary escapes '<' and '>' to neutralize injected markers before
// the summary is surfaced as prompt context for the parent, then truncates
// to max characters (on a rune boundary, never splitting a multibyte rune).
func SanitizeSummary(summary string, max int) string {
	escaped := strings.NewReplacer("<", "&lt;", ">", "&gt;").Replace(summary)
	runes := []rune(escaped)
	if len(runes) <= max {
		return escaped
	}
	return string(runes[:max])
}
