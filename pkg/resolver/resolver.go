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

// Package resolver implements the tool/model resolver: turning a
// request into a concrete (tool, model spec, thinking budget), honoring
// tier whitelists, enablement, rotation, and aliases.
package resolver

import (
	"fmt"
	"strings"
)

// ModelSpec is a fully-qualified "tool/provider/model/budget" entry in a
// tier's whitelist.
type ModelSpec struct {
	Tool           string
	Provider       string
	Model          string
	ThinkingBudget string
}

func (m ModelSpec) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", m.Tool, m.Provider, m.Model, m.ThinkingBudget)
}

// ParseModelSpec parses a full 4-part "tool/provider/model/budget" string.
func ParseModelSpec(s string) (ModelSpec, error) {
	parts := strings.SplitN(s, "/", 4)
	if len(parts) != 4 {
		return ModelSpec{}, fmt.Errorf("resolver: malformed model spec %q, want tool/provider/model/budget", s)
	}
	return ModelSpec{Tool: parts[0], Provider: parts[1], Model: parts[2], ThinkingBudget: parts[3]}, nil
}

// ToolConfig is a tool's enablement and capability declaration.
type ToolConfig struct {
	Enabled           bool
	EditCapable       bool
	DefaultForkMethod string // "native" or "soft"
}

// Tier is a named, ordered whitelist of model specs.
type Tier struct {
	Name   string
	Models []ModelSpec
}

// Config is the resolver's full configuration surface, loaded via koanf.
type Config struct {
	Tools        map[string]ToolConfig
	Tiers        map[string]Tier
	TierByTask   map[string]string // task_type -> tier name
	Aliases      map[string]string
	DefaultTool  string
	FallbackTool string
}

// ResolveAlias returns the aliased value if name is a defined alias,
// otherwise name unchanged.
func (c Config) ResolveAlias(name string) string {
	if v, ok := c.Aliases[name]; ok {
		return v
	}
	return name
}

// Request is the resolver's input: explicit overrides plus task context.
type Request struct {
	ModelSpecOverride string // full "--model-spec"
	ToolOverride      string
	ModelOverride     string
	ThinkingOverride  string
	Force             bool
	TaskType          string
	NeedsEdit         bool
}

// Decision is the resolver's output.
type Decision struct {
	Tool           string
	Spec           ModelSpec
	ThinkingBudget string
}

var (
	ErrNotWhitelisted = fmt.Errorf("resolver: not whitelisted by any tier")
	ErrToolMismatch   = fmt.Errorf("resolver: model spec tool does not match selected tool")
	ErrDisabledTool   = fmt.Errorf("resolver: tool is disabled")
	ErrNoAlternatives = fmt.Errorf("resolver: no eligible tool/model alternatives")
)

// Resolve applies the resolution decision order: full spec
// override, then explicit tool/model, then tier-based rotation, then
// config/ built-in default.
func (c Config) Resolve(req Request, rotator *Rotator) (Decision, error) {
	if req.ModelSpecOverride != "" {
		return c.resolveFullSpec(req)
	}
	if req.ToolOverride != "" || req.ModelOverride != "" {
		return c.resolveExplicit(req)
	}
	if tierName, ok := c.TierByTask[req.TaskType]; ok {
		return c.resolveTier(tierName, req, rotator)
	}
	if c.DefaultTool != "" {
		return c.resolveDefaultTool(c.DefaultTool, req)
	}
	return c.resolveDefaultTool(c.FallbackTool, req)
}

func (c Config) resolveFullSpec(req Request) (Decision, error) {
	spec, err := ParseModelSpec(req.ModelSpecOverride)
	if err != nil {
		return Decision{}, err
	}
	if !req.Force && !c.whitelistedSpec(spec) {
		return Decision{}, ErrNotWhitelisted
	}
	return Decision{Tool: spec.Tool, Spec: spec, ThinkingBudget: spec.ThinkingBudget}, nil
}

func (c Config) resolveExplicit(req Request) (Decision, error) {
	tool := c.ResolveAlias(req.ToolOverride)
	if tool == "" {
		return Decision{}, fmt.Errorf("resolver: --model requires a --tool")
	}
	if tc, ok := c.Tools[tool]; !ok || !tc.Enabled {
		return Decision{}, fmt.Errorf("%w: %s", ErrDisabledTool, tool)
	}
	if len(c.Tiers) > 0 && !c.toolInAnyTier(tool) {
		return Decision{}, fmt.Errorf("%w: tool %q", ErrNotWhitelisted, tool)
	}

	model := req.ModelOverride
	if strings.Contains(model, "/") && strings.Count(model, "/") >= 3 {
		return c.resolveFullSpec(Request{ModelSpecOverride: model, Force: req.Force})
	}

	spec, err := c.findSpecForToolModel(tool, model)
	if err != nil {
		return Decision{}, err
	}
	if req.ThinkingOverride != "" && !c.thinkingWhitelisted(tool, req.ThinkingOverride) {
		return Decision{}, fmt.Errorf("%w: thinking budget %q for tool %q", ErrNotWhitelisted, req.ThinkingOverride, tool)
	}
	if req.ThinkingOverride != "" {
		spec.ThinkingBudget = req.ThinkingOverride
	}
	return Decision{Tool: tool, Spec: spec, ThinkingBudget: spec.ThinkingBudget}, nil
}

func (c Config) resolveTier(tierName string, req Request, rotator *Rotator) (Decision, error) {
	tier, ok := c.Tiers[tierName]
	if !ok {
		return Decision{}, fmt.Errorf("resolver: unknown tier %q", tierName)
	}
	eligible := func(m ModelSpec) bool {
		tc, ok := c.Tools[m.Tool]
		if !ok || !tc.Enabled {
			return false
		}
		if req.NeedsEdit && !tc.EditCapable {
			return false
		}
		return true
	}
	spec, err := rotator.Next(tierName, tier.Models, eligible)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Tool: spec.Tool, Spec: spec, ThinkingBudget: spec.ThinkingBudget}, nil
}

func (c Config) resolveDefaultTool(tool string, req Request) (Decision, error) {
	if tool == "" {
		return Decision{}, fmt.Errorf("resolver: no default tool configured")
	}
	return Decision{Tool: tool, Spec: ModelSpec{Tool: tool}}, nil
}

func (c Config) whitelistedSpec(spec ModelSpec) bool {
	for _, tier := range c.Tiers {
		for _, m := range tier.Models {
			if m == spec {
				return true
			}
		}
	}
	return len(c.Tiers) == 0
}

func (c Config) toolInAnyTier(tool string) bool {
	for _, tier := range c.Tiers {
		for _, m := range tier.Models {
			if m.Tool == tool {
				return true
			}
		}
	}
	return false
}

func (c Config) findSpecForToolModel(tool, model string) (ModelSpec, error) {
	provider, bareModel, hasProvider := strings.Cut(model, "/")
	for _, tier := range c.Tiers {
		for _, m := range tier.Models {
			if m.Tool != tool {
				continue
			}
			if model == "" {
				return m, nil
			}
			if hasProvider && m.Provider == provider && m.Model == bareModel {
				return m, nil
			}
			if !hasProvider && m.Model == model {
				return m, nil
			}
		}
	}
	if len(c.Tiers) == 0 {
		return ModelSpec{Tool: tool, Model: model}, nil
	}
	return ModelSpec{}, fmt.Errorf("%w: model %q for tool %q", ErrNotWhitelisted, model, tool)
}

func (c Config) thinkingWhitelisted(tool, budget string) bool {
	for _, tier := range c.Tiers {
		for _, m := range tier.Models {
			if m.Tool == tool && strings.EqualFold(m.ThinkingBudget, budget) {
				return true
			}
		}
	}
	return false
}
