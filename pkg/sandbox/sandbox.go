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

// Package sandbox implements the sandbox launcher: wrapping a child
// process in a cgroup v2 scope or rlimits before exec, with orphan scope
// cleanup and a fixed set of recursion-triggering environment variables
// stripped from every spawned tool.
package sandbox

import (
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// Mode is the capability-detected isolation strategy.
type Mode string

const (
	ModeCgroupV2  Mode = "cgroupv2"
	ModeSetrlimit Mode = "setrlimit"
	ModeNone      Mode = "none"
)

// Profile is a tool's declared resource envelope.
type Profile string

const (
	ProfileLightweight Profile = "lightweight"
	ProfileHeavyweight Profile = "heavyweight"
	ProfileCustom      Profile = "custom"
)

// Limits is the concrete resource envelope applied for a launch, derived
// from a Profile and any user overrides. Heavyweight's defaults: 2048 MB
// memory, 0 MB swap, a modest task cap.
type Limits struct {
	Profile     Profile
	MemoryMaxMB int64
	SwapMaxMB   int64
	TasksMax    int64
	VMHeapMB    int64 // process-internal JS/VM heap limit, if applicable
}

// DefaultHeavyweight returns the heavyweight profile's inherent limits.
// A custom override on a heavyweight tool still inherits this
// best-effort enforcement baseline.
func DefaultHeavyweight() Limits {
	return Limits{Profile: ProfileHeavyweight, MemoryMaxMB: 2048, SwapMaxMB: 0, TasksMax: 512}
}

func DefaultLightweight() Limits {
	return Limits{Profile: ProfileLightweight}
}

// Setsid makes the child the leader of a new session before exec,
// whatever the isolation mode, so the supervisor can signal the whole
// subtree by process group.
func Setsid(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
}

// StrippedEnvVars are removed from every spawned tool's environment to
// prevent a nested agent CLI from detecting recursion and aborting.
var StrippedEnvVars = []string{
	"CLAUDECODE",
	"CLAUDE_CODE_ENTRYPOINT",
	"CSA_DEPTH",
	"ACP_PARENT_SESSION",
}

// StripRecursionEnv removes StrippedEnvVars (and bumps nothing else) from
// a copy of env (in "KEY=VALUE" form), returning the filtered slice.
func StripRecursionEnv(env []string) []string {
	strip := make(map[string]bool, len(StrippedEnvVars))
	for _, k := range StrippedEnvVars {
		strip[k] = true
	}
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if strip[key] {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// ScopeUnitName builds the systemd scope unit name for a (tool, session)
// pair, truncated to fit within 256 bytes while preserving the required
// ".scope" suffix.
func ScopeUnitName(tool, sessionID string) string {
	const maxBytes = 256
	const suffix = ".scope"
	name := fmt.Sprintf("csa-%s-%s", tool, sessionID)
	if len(name)+len(suffix) <= maxBytes {
		return name + suffix
	}
	budget := maxBytes - len(suffix)
	return name[:budget] + suffix
}

// DetectMode probes the host for cgroup v2 + systemd --user support,
// falling back to rlimits otherwise. It never returns ModeNone.
func DetectMode() Mode {
	if _, err := exec.LookPath("systemd-run"); err == nil {
		if isCgroupV2Mounted() {
			return ModeCgroupV2
		}
	}
	return ModeSetrlimit
}
