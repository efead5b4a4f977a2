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

package config

import "fmt"

// Config is the complete, unified configuration for one csa installation.
// It is the single entry point unmarshaled from koanf: global settings,
// per-tool declarations, tiers, and the resource/workflow/audit policies
// every component consults.
type Config struct {
	Version string `yaml:"version,omitempty"`

	Global GlobalSettings `yaml:"global,omitempty"`

	Tools map[string]ToolConfig `yaml:"tools,omitempty"`

	Tiers      map[string]TierConfig `yaml:"tiers,omitempty"`
	TierByTask map[string]string     `yaml:"tier_by_task,omitempty"`
	Aliases    map[string]string     `yaml:"aliases,omitempty"`

	DefaultTool  string `yaml:"default_tool,omitempty"`
	FallbackTool string `yaml:"fallback_tool,omitempty"`

	Slots    SlotsConfig    `yaml:"slots,omitempty"`
	Sandbox  SandboxConfig  `yaml:"sandbox,omitempty"`
	Failover FailoverConfig `yaml:"failover,omitempty"`
	Fork     ForkConfig     `yaml:"fork,omitempty"`
	Workflow WorkflowConfig `yaml:"workflow,omitempty"`
	Audit    AuditConfig    `yaml:"audit,omitempty"`
}

// GlobalSettings are the CLI-wide defaults; each has a `--flag` override in
// cmd/csa.
type GlobalSettings struct {
	StateRoot   string `yaml:"state_root,omitempty"`
	LogLevel    string `yaml:"log_level,omitempty"`
	LogFormat   string `yaml:"log_format,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// ToolConfig declares one external coding-assistant CLI's enablement and
// capabilities, consumed by the resolver, failover, and fork
// controllers.
type ToolConfig struct {
	Enabled           bool   `yaml:"enabled"`
	EditCapable       bool   `yaml:"edit_capable"`
	DefaultForkMethod string `yaml:"default_fork_method,omitempty"` // "native" or "soft"
	SandboxProfile    string `yaml:"sandbox_profile,omitempty"`     // "lightweight", "heavyweight", "custom"
}

// Validate implements Interface for ToolConfig.
func (c ToolConfig) Validate() error {
	switch c.DefaultForkMethod {
	case "", "native", "soft":
	default:
		return fmt.Errorf("default_fork_method must be native or soft, got %q", c.DefaultForkMethod)
	}
	return nil
}

// TierConfig is a named whitelist of "tool/provider/model/budget" specs,
// in priority order for rotation.
type TierConfig struct {
	Models []string `yaml:"models,omitempty"`
}

// SlotsConfig bounds per-tool concurrency.
type SlotsConfig struct {
	Max        map[string]int `yaml:"max,omitempty"`
	DefaultMax int            `yaml:"default_max,omitempty"`
}

// MaxFor returns the configured slot ceiling for tool, or DefaultMax (or
// 1, absent any configuration at all) when tool has no explicit entry.
func (s SlotsConfig) MaxFor(tool string) int {
	if n, ok := s.Max[tool]; ok {
		return n
	}
	if s.DefaultMax > 0 {
		return s.DefaultMax
	}
	return 1
}

// SandboxProfileConfig is the resource envelope for one tool's sandbox
// launch.
type SandboxProfileConfig struct {
	Profile     string `yaml:"profile,omitempty"` // "lightweight", "heavyweight", "custom"
	MemoryMaxMB int64  `yaml:"memory_max_mb,omitempty"`
	SwapMaxMB   int64  `yaml:"swap_max_mb,omitempty"`
	TasksMax    int64  `yaml:"tasks_max,omitempty"`
	VMHeapMB    int64  `yaml:"vm_heap_mb,omitempty"`
}

// SandboxConfig maps tool name to its sandbox profile.
type SandboxConfig struct {
	Profiles map[string]SandboxProfileConfig `yaml:"profiles,omitempty"`
}

// FailoverConfig tunes the failover controller. ValuableKeywords is
// kept configurable rather than hard-coded.
type FailoverConfig struct {
	MaxAttempts      int      `yaml:"max_failover_attempts,omitempty"`
	ValuableKeywords []string `yaml:"valuable_keywords,omitempty"`
}

// ForkConfig tunes the fork controller's auto-seed reuse.
type ForkConfig struct {
	SeedMaxAgeSecs int `yaml:"seed_max_age_secs,omitempty"`
}

// WorkflowConfig carries default variable values merged under any
// per-invocation `--vars` overrides.
type WorkflowConfig struct {
	VariableDefaults map[string]string `yaml:"variable_defaults,omitempty"`
}

// AuditConfig locates the audit manifest and its mirror directory.
type AuditConfig struct {
	ManifestPath string   `yaml:"manifest_path,omitempty"`
	MirrorDir    string   `yaml:"mirror_dir,omitempty"`
	Ignores      []string `yaml:"ignores,omitempty"`
}

// Validate checks the whole configuration for internal consistency:
// every tier's models parse, TierByTask points at a real tier, and each
// tool's fork method is well-formed. Aliases are not checked.
func (c *Config) Validate() error {
	for name, tool := range c.Tools {
		if err := tool.Validate(); err != nil {
			return fmt.Errorf("tool %q: %w", name, err)
		}
	}
	for name, tier := range c.Tiers {
		for _, spec := range tier.Models {
			if _, err := parseModelSpecShape(spec); err != nil {
				return fmt.Errorf("tier %q: %w", name, err)
			}
		}
	}
	for taskType, tierName := range c.TierByTask {
		if _, ok := c.Tiers[tierName]; !ok {
			return fmt.Errorf("tier_by_task[%q] references unknown tier %q", taskType, tierName)
		}
	}
	return nil
}

func parseModelSpecShape(s string) (int, error) {
	n := 1
	for _, r := range s {
		if r == '/' {
			n++
		}
	}
	if n != 4 {
		return 0, fmt.Errorf("malformed model spec %q, want tool/provider/model/budget", s)
	}
	return n, nil
}

// SetDefaults fills unset fields across the whole configuration tree.
func (c *Config) SetDefaults() {
	if c.Global.StateRoot == "" {
		c.Global.StateRoot = defaultStateRoot()
	}
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = "info"
	}
	if c.Global.LogFormat == "" {
		c.Global.LogFormat = "simple"
	}
	if c.FallbackTool == "" {
		c.FallbackTool = "claude-code"
	}
	if c.Slots.DefaultMax == 0 {
		c.Slots.DefaultMax = 1
	}
	if c.Failover.MaxAttempts == 0 {
		c.Failover.MaxAttempts = 3
	}
	if len(c.Failover.ValuableKeywords) == 0 {
		c.Failover.ValuableKeywords = []string{"review", "analysis", "audit", "investigation", "bug", "debug"}
	}
	if c.Fork.SeedMaxAgeSecs == 0 {
		c.Fork.SeedMaxAgeSecs = 3600
	}
	if c.Audit.ManifestPath == "" {
		c.Audit.ManifestPath = ".csa/audit-manifest.toml"
	}
	if c.Audit.MirrorDir == "" {
		c.Audit.MirrorDir = "."
	}
}
