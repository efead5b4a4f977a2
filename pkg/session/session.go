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

// Package session implements the session store: on-disk session
// identity, state, genealogy, results, artifacts, and output sections,
// with git-backed history for auditability.
package session

import (
	"errors"
	"time"
)

// Phase is the finite-state lifecycle of a session.
type Phase string

const (
	PhaseAvailable Phase = "available"
	PhaseActive    Phase = "active"
	PhaseRetired   Phase = "retired"
)

// PhaseEvent drives Phase transitions.
type PhaseEvent string

const (
	EventResumed   PhaseEvent = "resumed"
	EventCompleted PhaseEvent = "completed"
	EventRetired   PhaseEvent = "retired"
)

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrAmbiguousPrefix = errors.New("session: ambiguous id prefix")
	ErrPrefixTooShort  = errors.New("session: id prefix too short")
	ErrToolLocked      = errors.New("session: locked to a different tool")
	ErrIllegalPhase    = errors.New("session: illegal phase transition")
	ErrNothingToCommit = errors.New("session: nothing to commit")
)

// ToolState is the per-tool slot in a session: the provider-level session
// id opaque to us, plus bookkeeping from the last turn that tool ran.
type ToolState struct {
	ProviderSessionID string    `toml:"provider_session_id"`
	LastActionSummary string    `toml:"last_action_summary"`
	LastExitCode      int       `toml:"last_exit_code"`
	LastTokenUsage    int       `toml:"last_token_usage"`
	UpdatedAt         time.Time `toml:"updated_at"`
}

// Genealogy records a session's place in the fork/workflow graph.
type Genealogy struct {
	ParentSessionID       string `toml:"parent_session_id,omitempty"`
	ForkOfSessionID       string `toml:"fork_of_session_id,omitempty"`
	ForkProviderSessionID string `toml:"fork_provider_session_id,omitempty"`
	Depth                 int    `toml:"depth"`
}

// TaskContext carries the task-type hint the resolver uses for tier
// selection.
type TaskContext struct {
	TaskType string `toml:"task_type,omitempty"`
}

// ContextStatus tracks whether a session's context has been compacted.
type ContextStatus struct {
	IsCompacted     bool      `toml:"is_compacted"`
	LastCompactedAt time.Time `toml:"last_compacted_at,omitempty"`
}

// ReturnPacketRef points a parent session at a completed child's return
// packet section, set atomically by the fork-call-return protocol.
type ReturnPacketRef struct {
	ChildSessionID string `toml:"child_session_id"`
	SectionPath    string `toml:"section_path"`
}

// State is the durable representation of one session, serialized as
// state.toml.
type State struct {
	MetaSessionID    string               `toml:"meta_session_id"`
	ProjectPath      string               `toml:"project_path"`
	CreatedAt        time.Time            `toml:"created_at"`
	LastAccessed     time.Time            `toml:"last_accessed"`
	Description      string               `toml:"description,omitempty"`
	Branch           string               `toml:"branch,omitempty"`
	Tool             string               `toml:"tool,omitempty"`
	Tools            map[string]ToolState `toml:"tools,omitempty"`
	Genealogy        Genealogy            `toml:"genealogy"`
	Phase            Phase                `toml:"phase"`
	TaskContext      TaskContext          `toml:"task_context"`
	ContextStatus    ContextStatus        `toml:"context_status"`
	TotalTokenUsage  int                  `toml:"total_token_usage"`
	IsSeedCandidate  bool                 `toml:"is_seed_candidate"`
	LastReturnPacket *ReturnPacketRef     `toml:"last_return_packet,omitempty"`
}

// HasTool reports whether the session has ever written state for tool.
func (s *State) HasTool(tool string) bool {
	_, ok := s.Tools[tool]
	return ok
}

// Locked reports whether the session is tool-locked to a tool other than
// the given one. Once Tool is set, only that tool may write to the
// session; soft forks bypass this check entirely (they only read).
func (s *State) Locked(forTool string) bool {
	return s.Tool != "" && s.Tool != forTool
}

// applyPhaseEvent is the session phase state machine. Illegal transitions
// are rejected rather than silently coerced, since they indicate a
// programming error upstream.
func applyPhaseEvent(current Phase, ev PhaseEvent) (Phase, error) {
	switch {
	case current == PhaseAvailable && ev == EventResumed:
		return PhaseActive, nil
	case current == PhaseActive && ev == EventCompleted:
		return PhaseAvailable, nil
	case current == PhaseAvailable && ev == EventRetired:
		return PhaseRetired, nil
	case current == PhaseActive && ev == EventRetired:
		return PhaseRetired, nil
	default:
		return current, ErrIllegalPhase
	}
}

// ApplyPhaseEvent mutates s.Phase in place per the FSM, or returns
// ErrIllegalPhase leaving s unchanged.
func (s *State) ApplyPhaseEvent(ev PhaseEvent) error {
	next, err := applyPhaseEvent(s.Phase, ev)
	if err != nil {
		return err
	}
	s.Phase = next
	return nil
}
