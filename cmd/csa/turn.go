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

package main

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/csa-project/csa/pkg/executor"
	"github.com/csa-project/csa/pkg/failover"
	"github.com/csa-project/csa/pkg/resolver"
	"github.com/csa-project/csa/pkg/sandbox"
)

// sessionInfo is what the failover controller needs to know about the
// session a turn is running in, when there is one.
type sessionInfo struct {
	ID          string
	IsCompacted bool
	Summaries   []string
	ToolFree    func(tool string) bool
}

// turnRequest is one request to run a tool turn: resolve a tool/model,
// acquire its slot, wrap it in a sandbox, execute it, and apply failover
// on a detected rate limit by rotating to an alternate tool.
type turnRequest struct {
	Prompt      string
	ResolverReq resolver.Request
	ExtraEnv    []string
	NoFailover  bool
	Session     *sessionInfo
	StreamMode  executor.StreamMode
	ScopeID     string // session id (or other stable token) for the sandbox scope unit name
}

type turnResult struct {
	Tool     string
	Output   string
	Stderr   string
	ExitCode int
	Usage    executor.TokenUsage
	// Sibling is true when the tool that finally answered was chosen by
	// a RetrySiblingSession failover decision, meaning the caller must
	// record the turn into a fresh session rather than the original one.
	Sibling bool
}

type rateLimitError struct {
	tool  string
	match string
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited (%s)", e.tool, e.match)
}

// runTurn drives the request control flow from the resolver through the
// executor, looping back into failover's alternate-tool choice on a
// detected rate limit until alternatives are exhausted or the configured
// attempt ceiling is reached.
func (a *app) runTurn(ctx context.Context, req turnRequest) (turnResult, error) {
	decision, err := a.resolver.Resolve(req.ResolverReq, a.rotator)
	if err != nil {
		return turnResult{}, fmt.Errorf("resolve tool: %w", err)
	}
	return a.runTurnWith(ctx, decision, req)
}

// runTurnWith runs the failover loop for an already-resolved decision,
// so callers that needed the decision earlier (e.g. for session
// selection) don't advance the rotation cursor a second time.
func (a *app) runTurnWith(ctx context.Context, decision resolver.Decision, req turnRequest) (turnResult, error) {
	maxAttempts := a.cfg.Failover.MaxAttempts
	var tried []string
	sibling := false
	for {
		res, turnErr := a.attemptTurn(ctx, decision, req)
		if turnErr == nil {
			res.Sibling = sibling
			return res, nil
		}

		rlErr, ok := turnErr.(*rateLimitError)
		if !ok || req.NoFailover {
			return turnResult{}, turnErr
		}
		a.metrics.RateLimitsTotal.WithLabelValues(decision.Tool).Inc()

		if len(tried) >= maxAttempts {
			return turnResult{}, fmt.Errorf("failover: attempt ceiling (%d) reached: %w", maxAttempts, turnErr)
		}
		tried = append(tried, decision.Tool)

		in := failover.Input{
			FailedTool: decision.Tool,
			TaskType:   req.ResolverReq.TaskType,
			NeedsEdit:  req.ResolverReq.NeedsEdit,
			TriedTools: tried,
		}
		if req.Session != nil {
			in.HasCurrentSession = true
			in.CurrentSessionID = req.Session.ID
			in.IsCompacted = req.Session.IsCompacted
			in.LastActionSummaries = req.Session.Summaries
			in.ValuableKeywords = a.cfg.Failover.ValuableKeywords
			in.SlotFree = req.Session.ToolFree
		}
		fdec := failover.Decide(in, a.resolver, a.rotator)

		switch fdec.Kind {
		case failover.KindRetryInSession, failover.KindRetrySiblingSession:
			a.metrics.FailoversTotal.WithLabelValues(decision.Tool, fdec.Tool).Inc()
			if fdec.Kind == failover.KindRetrySiblingSession {
				sibling = true
			}
			decision = resolver.Decision{Tool: fdec.Tool, Spec: fdec.Spec, ThinkingBudget: fdec.Spec.ThinkingBudget}
			a.log.Warn("failover: retrying with alternate tool",
				"failed_tool", rlErr.tool, "next_tool", decision.Tool, "kind", string(fdec.Kind), "reason", rlErr.match)
			continue
		default:
			return turnResult{}, fmt.Errorf("failover exhausted: %s (last error: %w)", fdec.Reason, turnErr)
		}
	}
}

// attemptTurn acquires the chosen tool's slot, wraps the child process in
// whatever sandbox the host supports, and runs one invocation.
func (a *app) attemptTurn(ctx context.Context, decision resolver.Decision, req turnRequest) (turnResult, error) {
	lease, err := a.slots.Acquire(ctx, decision.Tool, a.cfg.Slots.MaxFor(decision.Tool), fmt.Sprintf("pid-%d", pid()))
	if err != nil {
		return turnResult{}, fmt.Errorf("acquire slot for %s: %w", decision.Tool, err)
	}
	a.metrics.SlotsHeld.WithLabelValues(decision.Tool).Inc()
	defer func() {
		lease.Release()
		a.metrics.SlotsHeld.WithLabelValues(decision.Tool).Dec()
	}()

	spec, err := executor.BuildCommand(decision.Tool, decision.Spec, req.Prompt, req.ExtraEnv)
	if err != nil {
		return turnResult{}, err
	}

	limits := a.cfg.SandboxLimitsFor(decision.Tool)
	mode := sandbox.DetectMode()

	scopeID := req.ScopeID
	if scopeID == "" {
		scopeID = fmt.Sprintf("slot%d", lease.Index())
	}

	prep := sandbox.Setsid
	var rlimitGuard *sandbox.RlimitGuard
	switch mode {
	case sandbox.ModeCgroupV2:
		unit := sandbox.ScopeUnitName(decision.Tool, scopeID)
		wrapped := sandbox.BuildScopeCommand(unit, limits, append([]string{spec.Program}, spec.Args...))
		spec.Program = wrapped[0]
		spec.Args = wrapped[1:]
		guard := sandbox.NewScopeGuard(unit)
		defer guard.Stop()
	case sandbox.ModeSetrlimit:
		prep = func(cmd *exec.Cmd) { rlimitGuard = sandbox.ApplySetrlimit(cmd, limits) }
	}
	// The rlimit drop applies to this process until the child has forked;
	// the deferred Restore covers the Start-failure path, onStart the
	// normal one.
	defer func() { rlimitGuard.Restore() }()

	mode2 := req.StreamMode
	if mode2 == "" {
		mode2 = executor.StreamBufferOnly
	}

	// In rlimit mode, RLIMIT_AS alone can lag real memory pressure; the
	// parent-side RSS watcher kills the child if it blows past the
	// profile's ceiling between polls.
	var watcher *sandbox.RSSWatcher
	onStart := func(childPID int) {
		rlimitGuard.Restore()
		if mode == sandbox.ModeSetrlimit && limits.MemoryMaxMB > 0 {
			watcher = sandbox.NewRSSWatcher(childPID, limits.MemoryMaxMB, 3*time.Second)
			watcher.Start()
		}
	}
	defer func() {
		if watcher != nil {
			watcher.Stop()
		}
	}()

	result, err := executor.Run(ctx, spec, mode2, hclog.NewNullLogger(), prep, onStart)
	if err != nil {
		a.metrics.TurnsTotal.WithLabelValues(decision.Tool, "error").Inc()
		return turnResult{}, err
	}

	if match, ok := failover.Detect(result.Output, result.StderrOutput, result.ExitCode); ok {
		a.metrics.TurnsTotal.WithLabelValues(decision.Tool, "rate_limited").Inc()
		return turnResult{}, &rateLimitError{tool: decision.Tool, match: match}
	}

	status := "ok"
	if result.ExitCode != 0 {
		status = "failed"
	}
	a.metrics.TurnsTotal.WithLabelValues(decision.Tool, status).Inc()

	return turnResult{
		Tool:     decision.Tool,
		Output:   result.Output,
		Stderr:   result.StderrOutput,
		ExitCode: result.ExitCode,
		Usage:    result.TokenUsage,
	}, nil
}
