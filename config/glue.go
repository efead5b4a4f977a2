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

import (
	"github.com/csa-project/csa/pkg/resolver"
	"github.com/csa-project/csa/pkg/sandbox"
)

// ResolverConfig projects Config into the shape pkg/resolver consumes,
// parsing each tier's "tool/provider/model/budget" strings into
// resolver.ModelSpec values.
func (c *Config) ResolverConfig() (resolver.Config, error) {
	out := resolver.Config{
		Tools:        make(map[string]resolver.ToolConfig, len(c.Tools)),
		Tiers:        make(map[string]resolver.Tier, len(c.Tiers)),
		TierByTask:   c.TierByTask,
		Aliases:      c.Aliases,
		DefaultTool:  c.DefaultTool,
		FallbackTool: c.FallbackTool,
	}
	for name, t := range c.Tools {
		out.Tools[name] = resolver.ToolConfig{
			Enabled:           t.Enabled,
			EditCapable:       t.EditCapable,
			DefaultForkMethod: t.DefaultForkMethod,
		}
	}
	for name, tier := range c.Tiers {
		models := make([]resolver.ModelSpec, 0, len(tier.Models))
		for _, raw := range tier.Models {
			spec, err := resolver.ParseModelSpec(raw)
			if err != nil {
				return resolver.Config{}, err
			}
			models = append(models, spec)
		}
		out.Tiers[name] = resolver.Tier{Name: name, Models: models}
	}
	return out, nil
}

// SandboxLimitsFor resolves the sandbox.Limits a tool's launch should
// apply: an explicit profile entry if configured, otherwise the
// lightweight default. A custom override still carries the inherent
// enforcement of the profile it overrides: a memory override
// on an otherwise-heavyweight tool still gets best-effort enforcement
// rather than silently becoming unenforced.
func (c *Config) SandboxLimitsFor(tool string) sandbox.Limits {
	p, ok := c.Sandbox.Profiles[tool]
	if !ok {
		return sandbox.DefaultLightweight()
	}
	base := sandbox.DefaultLightweight()
	if p.Profile == string(sandbox.ProfileHeavyweight) || p.Profile == "" {
		base = sandbox.DefaultHeavyweight()
	}
	limits := sandbox.Limits{
		Profile:     sandbox.Profile(p.Profile),
		MemoryMaxMB: base.MemoryMaxMB,
		SwapMaxMB:   base.SwapMaxMB,
		TasksMax:    base.TasksMax,
		VMHeapMB:    base.VMHeapMB,
	}
	if p.Profile == "" {
		limits.Profile = base.Profile
	}
	if p.MemoryMaxMB != 0 {
		limits.MemoryMaxMB = p.MemoryMaxMB
	}
	if p.SwapMaxMB != 0 {
		limits.SwapMaxMB = p.SwapMaxMB
	}
	if p.TasksMax != 0 {
		limits.TasksMax = p.TasksMax
	}
	if p.VMHeapMB != 0 {
		limits.VMHeapMB = p.VMHeapMB
	}
	return limits
}
