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

// Package failover implements the failover controller: detecting
// rate limits in a tool's output and deciding whether to retry within the
// current session, start a sibling session, or give up.
package failover

import (
	"regexp"
	"strings"

	"github.com/csa-project/csa/pkg/resolver"
)

// DefaultValuableKeywords are the substrings of a tool's last action
// summary that mark a session's context as worth preserving, used when
// the caller supplies no keyword set of its own (deployments override
// via failover.valuable_keywords in config).
var DefaultValuableKeywords = []string{"review", "analysis", "audit", "investigation", "bug", "debug"}

// patterns are the textual markers that indicate a rate limit. One set is
// shared by every tool: there is no per-tool pattern set. Present-day
// patterns include generic 429/"rate limit" strings plus provider-specific
// phrasing.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b429\b`),
	regexp.MustCompile(`(?i)rate.?limit`),
	regexp.MustCompile(`(?i)quota exceeded`),
	regexp.MustCompile(`(?i)resource_exhausted`),
	regexp.MustCompile(`(?i)too many requests`),
}

// Detect inspects stderr, then stdout, and returns the matched pattern
// text, if any. exitCode is accepted but not consulted.
func Detect(stdout, stderr string, exitCode int) (string, bool) {
	for _, p := range patterns {
		if m := p.FindString(stderr); m != "" {
			return m, true
		}
		if m := p.FindString(stdout); m != "" {
			return m, true
		}
	}
	return "", false
}

// HasValuableContext reports whether the session's context is not
// compacted and at least one tool's last action summary contains any of
// the given keywords (case-insensitive substring). A nil or empty
// keyword set falls back to DefaultValuableKeywords.
func HasValuableContext(isCompacted bool, lastActionSummaries, keywords []string) bool {
	if isCompacted {
		return false
	}
	if len(keywords) == 0 {
		keywords = DefaultValuableKeywords
	}
	for _, summary := range lastActionSummaries {
		lower := strings.ToLower(summary)
		for _, kw := range keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

// Decision is the failover controller's output.
type Decision struct {
	Kind      Kind
	Tool      string
	Spec      resolver.ModelSpec
	SessionID string
	Reason    string
}

type Kind string

const (
	KindRetryInSession      Kind = "retry_in_session"
	KindRetrySiblingSession Kind = "retry_sibling_session"
	KindReportError         Kind = "report_error"
)

// Input bundles everything Decide needs.
type Input struct {
	FailedTool          string
	TaskType            string
	NeedsEdit           bool
	HasCurrentSession   bool
	CurrentSessionID    string
	IsCompacted         bool
	LastActionSummaries []string
	// ValuableKeywords is the deployment's valuable-context keyword set
	// (failover.valuable_keywords); empty means DefaultValuableKeywords.
	ValuableKeywords []string
	TriedTools       []string
	SlotFree         func(tool string) bool
}

// Decide implements the failover decision ladder.
func Decide(in Input, cfg resolver.Config, rotator *resolver.Rotator) Decision {
	tierName, ok := cfg.TierByTask[in.TaskType]
	if !ok {
		tierName = cfg.FallbackTool
	}
	tier, ok := cfg.Tiers[tierName]
	if !ok {
		return Decision{Kind: KindReportError, Reason: "all tools in tier exhausted: unknown tier"}
	}

	tried := make(map[string]bool, len(in.TriedTools)+1)
	for _, t := range in.TriedTools {
		tried[t] = true
	}
	tried[in.FailedTool] = true

	var alternatives []resolver.ModelSpec
	for _, m := range tier.Models {
		tc, ok := cfg.Tools[m.Tool]
		if !ok || !tc.Enabled || tried[m.Tool] {
			continue
		}
		if in.NeedsEdit && !tc.EditCapable {
			continue
		}
		alternatives = append(alternatives, m)
	}

	if len(alternatives) == 0 {
		return Decision{Kind: KindReportError, Reason: "all tools in tier exhausted"}
	}

	chosen := alternatives[0]
	valuable := in.HasCurrentSession && HasValuableContext(in.IsCompacted, in.LastActionSummaries, in.ValuableKeywords)
	slotFree := in.SlotFree == nil || in.SlotFree(chosen.Tool)

	if valuable {
		if slotFree {
			return Decision{Kind: KindRetryInSession, Tool: chosen.Tool, Spec: chosen, SessionID: in.CurrentSessionID}
		}
		return Decision{Kind: KindReportError, Reason: "context valuable, tool slot occupied"}
	}

	if slotFree && in.HasCurrentSession {
		return Decision{Kind: KindRetryInSession, Tool: chosen.Tool, Spec: chosen, SessionID: in.CurrentSessionID}
	}
	return Decision{Kind: KindRetrySiblingSession, Tool: chosen.Tool, Spec: chosen}
}
