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
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/csa-project/csa/pkg/executor"
	"github.com/csa-project/csa/pkg/fork"
	"github.com/csa-project/csa/pkg/protocol"
	"github.com/csa-project/csa/pkg/resolver"
	"github.com/csa-project/csa/pkg/session"
)

// RunCmd launches a tool on a prompt in a session.
type RunCmd struct {
	Prompt []string `arg:"" required:"" help:"Prompt to execute."`

	Tool        string `help:"Tool to use (overrides tier selection)."`
	Skill       string `help:"Skill to invoke before the prompt."`
	Session     string `help:"Resume an existing session by id or unique prefix."`
	Last        bool   `help:"Resume the most recently accessed session for this project."`
	Description string `help:"Short label for a newly-created session."`
	Parent      string `help:"Run as a fork-call child of this parent session and deliver a return packet."`
	Ephemeral   bool   `help:"Never reuse a warm seed session."`
	Cd          string `help:"Working directory." type:"existingdir"`
	ModelSpec   string `name:"model-spec" help:"Full tool/provider/model/budget override."`
	Model       string `help:"Model name override (bare or provider/model)."`
	Thinking    string `help:"Thinking budget override."`
	Force       bool   `help:"Bypass tier whitelisting for --model-spec."`
	NoFailover  bool   `name:"no-failover" help:"Fail immediately on a rate limit instead of failing over."`
	TaskType    string `name:"task-type" help:"Task type used for tier selection."`

	Wait           time.Duration `help:"Overall execution timeout (0 = none)."`
	IdleTimeout    time.Duration `name:"idle-timeout" help:"Kill the tool after this long without completing (0 = none)."`
	StreamStdout   bool          `name:"stream-stdout" help:"Tee tool output live to stderr."`
	NoStreamStdout bool          `name:"no-stream-stdout" help:"Never tee tool output."`
	Output         string        `help:"Output format." enum:"text,json" default:"text"`
}

// runOutcome is the JSON-mode result object.
type runOutcome struct {
	Status       string `json:"status"`
	ExitCode     int    `json:"exit_code"`
	Summary      string `json:"summary"`
	SessionID    string `json:"session_id"`
	Tool         string `json:"tool"`
	ErrorContext string `json:"error_context,omitempty"`
}

func (c *RunCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()
	if c.Wait > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, c.Wait)
		defer tcancel()
	}
	if c.IdleTimeout > 0 {
		var icancel context.CancelFunc
		ctx, icancel = context.WithTimeout(ctx, c.IdleTimeout)
		defer icancel()
	}

	project := c.Cd
	if project == "" {
		if project, err = os.Getwd(); err != nil {
			return err
		}
	}
	branch := gitBranch(project)

	if c.Parent != "" {
		parent, err := a.store.ResolvePrefix(c.Parent)
		if err != nil {
			return fmt.Errorf("resolve --parent: %w", err)
		}
		c.Parent = parent.MetaSessionID
	}

	req := resolver.Request{
		ModelSpecOverride: c.ModelSpec,
		ToolOverride:      a.resolver.ResolveAlias(c.Tool),
		ModelOverride:     c.Model,
		ThinkingOverride:  c.Thinking,
		Force:             c.Force,
		TaskType:          c.TaskType,
		NeedsEdit:         inferNeedsEdit(strings.Join(c.Prompt, " ")),
	}
	decision, err := a.resolver.Resolve(req, a.rotator)
	if err != nil {
		return err
	}

	st, contextPrefix, preCreatedID, err := a.establishSession(ctx, c, project, branch, decision.Tool)
	if err != nil {
		return err
	}

	if err := a.store.TransitionPhase(st.MetaSessionID, session.EventResumed); err != nil {
		return err
	}

	prompt := strings.Join(c.Prompt, " ")
	if c.Skill != "" {
		prompt = fmt.Sprintf("Use the %q skill.\n\n%s", c.Skill, prompt)
	}
	if contextPrefix != "" {
		prompt = contextPrefix + "\n\n" + prompt
	}

	headBefore := gitHead(project)
	turn, turnErr := a.runTurnWith(ctx, decision, turnRequest{
		Prompt:      prompt,
		ResolverReq: req,
		ExtraEnv:    os.Environ(),
		NoFailover:  c.NoFailover,
		Session: &sessionInfo{
			ID:          st.MetaSessionID,
			IsCompacted: st.ContextStatus.IsCompacted,
			Summaries:   lastActionSummaries(st),
			ToolFree:    func(tool string) bool { return !st.HasTool(tool) },
		},
		StreamMode: c.streamMode(),
		ScopeID:    st.MetaSessionID,
	})
	if turnErr != nil {
		if preCreatedID != "" {
			_ = a.store.TransitionPhase(preCreatedID, session.EventCompleted)
			if derr := a.store.Delete(preCreatedID); derr != nil {
				a.log.Warn("failed to delete pre-created fork session", "session", preCreatedID, "error", derr)
			}
		} else {
			_ = a.store.TransitionPhase(st.MetaSessionID, session.EventCompleted)
		}
		return c.report(runOutcome{
			Status:       "failure",
			ExitCode:     1,
			Summary:      "tool execution failed",
			SessionID:    st.MetaSessionID,
			ErrorContext: turnErr.Error(),
		}, turnErr)
	}

	// A sibling-session failover decision means the answering tool must
	// not write into the original session: its output lands in a fresh
	// sibling, and any pre-created native-fork child is cleaned up.
	if turn.Sibling {
		_ = a.store.TransitionPhase(st.MetaSessionID, session.EventCompleted)
		if preCreatedID != "" {
			if derr := a.store.Delete(preCreatedID); derr != nil {
				a.log.Warn("failed to delete pre-created fork session", "session", preCreatedID, "error", derr)
			}
		}
		sibling, err := a.store.Create(project, siblingDescription(c.Description), c.Parent, turn.Tool)
		if err != nil {
			return err
		}
		sibling.Branch = branch
		if err := a.store.Save(sibling); err != nil {
			return err
		}
		if err := a.store.TransitionPhase(sibling.MetaSessionID, session.EventResumed); err != nil {
			return err
		}
		st = sibling
	}

	now := time.Now().UTC()
	if _, err := a.store.RecordTurn(st.MetaSessionID, turn.Tool, session.ToolState{
		LastActionSummary: summarizeOutput(turn.Output, 400),
		LastExitCode:      turn.ExitCode,
		LastTokenUsage:    turn.Usage.TotalTokens,
		UpdatedAt:         now,
	}); err != nil {
		return err
	}

	status := "success"
	if turn.ExitCode != 0 {
		status = "failure"
	}
	if err := a.store.SaveResult(st.MetaSessionID, session.Result{
		ExitCode:    turn.ExitCode,
		Status:      status,
		Summary:     summarizeOutput(turn.Output, 2000),
		TokenUsage:  turn.Usage.TotalTokens,
		CompletedAt: now,
	}); err != nil {
		return err
	}
	if err := a.store.TransitionPhase(st.MetaSessionID, session.EventCompleted); err != nil {
		return err
	}

	if c.Parent != "" {
		if err := a.deliverReturnPacket(ctx, c.Parent, st.MetaSessionID, project, headBefore, turn, status); err != nil {
			return err
		}
	}

	outcome := runOutcome{
		Status:    status,
		ExitCode:  turn.ExitCode,
		Summary:   summarizeOutput(turn.Output, 2000),
		SessionID: st.MetaSessionID,
		Tool:      turn.Tool,
	}
	if status == "failure" {
		outcome.ErrorContext = lastLine(turn.Stderr)
	}
	return c.report(outcome, nil)
}

// establishSession implements the session-selection ladder: explicit
// --session (resume, or soft-fork when tool-locked elsewhere), --last,
// auto-seed fork reuse, and finally a cold start. It returns the session
// to run in, an optional soft-fork context prefix, and the id of a
// pre-created native-fork child (to be deleted if execution fails).
func (a *app) establishSession(ctx context.Context, c *RunCmd, project, branch, tool string) (*session.State, string, string, error) {
	switch {
	case c.Session != "":
		source, err := a.store.ResolvePrefix(c.Session)
		if err != nil {
			return nil, "", "", err
		}
		if !source.Locked(tool) {
			st, err := a.store.ResolveResumeSession(source.MetaSessionID, tool)
			return st, "", "", err
		}
		// Locked to another tool: continue its work in a cross-tool soft
		// fork rather than rejecting the request outright.
		return a.forkFrom(ctx, source, tool, project, c.Description, c.Parent)

	case c.Last:
		all, err := a.store.List(project, "")
		if err != nil {
			return nil, "", "", err
		}
		var latest *session.State
		for _, st := range all {
			if st.Phase == session.PhaseRetired {
				continue
			}
			if latest == nil || st.LastAccessed.After(latest.LastAccessed) {
				latest = st
			}
		}
		if latest == nil {
			return nil, "", "", fmt.Errorf("no session to resume in %s", project)
		}
		if latest.Locked(tool) {
			return a.forkFrom(ctx, latest, tool, project, c.Description, c.Parent)
		}
		return latest, "", "", nil

	case !c.Ephemeral:
		maxAge := time.Duration(a.cfg.Fork.SeedMaxAgeSecs) * time.Second
		seed, err := fork.ResolveAutoSeed(a.store, branch, tool, maxAge, time.Now().UTC())
		if err != nil {
			return nil, "", "", err
		}
		if seed.Found {
			a.log.Info("auto-seed: forking from warm session", "seed", seed.Seed.MetaSessionID)
			return a.forkFrom(ctx, seed.Seed, tool, project, c.Description, c.Parent)
		}
	}

	st, err := a.store.Create(project, c.Description, c.Parent, "")
	if err != nil {
		return nil, "", "", err
	}
	if branch != "" {
		st.Branch = branch
		st.IsSeedCandidate = true
		if err := a.store.Save(st); err != nil {
			return nil, "", "", err
		}
	}
	return st, "", "", nil
}

// forkFrom creates a child session continuing source's context with the
// requested tool, choosing native vs soft by the fork-method rules. For a native
// fork the child is pre-created with the new provider session id already
// attached; the returned third value is its id so the caller can delete
// it if execution later fails or failover switches tools.
func (a *app) forkFrom(ctx context.Context, source *session.State, tool, project, description, parent string) (*session.State, string, string, error) {
	method := fork.ChooseMethod(source.Tool, tool, a.defaultForkMethod(tool))
	controller := &fork.Controller{
		Transport:  cliForkTransport{},
		Summarizer: session.Summarizer{Store: a.store},
	}
	req := fork.Request{
		Tool:               tool,
		Method:             method,
		ProviderSessionID:  source.Tools[source.Tool].ProviderSessionID,
		ParentCSASessionID: source.MetaSessionID,
		ParentSessionDir:   a.store.Dir(source.MetaSessionID),
		WorkingDir:         project,
		Timeout:            60 * time.Second,
	}
	if method == fork.MethodNative {
		// Native forks resume the provider session; the tool lock applies.
		if _, err := a.store.ResolveResumeSession(source.MetaSessionID, tool); err != nil {
			return nil, "", "", err
		}
	}
	res, err := controller.Resolve(ctx, req, source.MetaSessionID, source.Tools[source.Tool].ProviderSessionID)
	if err != nil {
		return nil, "", "", err
	}

	child, err := a.store.Create(project, description, parent, "")
	if err != nil {
		return nil, "", "", err
	}
	if err := a.store.SetForkOrigin(child.MetaSessionID, source.MetaSessionID, res.SourceProviderSessionID); err != nil {
		return nil, "", "", err
	}
	child.Branch = source.Branch
	child.Genealogy.ForkOfSessionID = source.MetaSessionID
	child.Genealogy.ForkProviderSessionID = res.SourceProviderSessionID
	child.Genealogy.Depth = source.Genealogy.Depth + 1
	if err := a.store.Save(child); err != nil {
		return nil, "", "", err
	}

	preCreated := ""
	if method == fork.MethodNative {
		if err := a.store.AttachProviderSession(child.MetaSessionID, tool, res.ProviderSessionID); err != nil {
			return nil, "", "", err
		}
		preCreated = child.MetaSessionID
	}
	// Re-load so the returned state reflects everything written above.
	child, err = a.store.Load(child.MetaSessionID)
	if err != nil {
		return nil, "", "", err
	}
	return child, res.ContextPrefix, preCreated, nil
}

func (a *app) defaultForkMethod(tool string) fork.Method {
	if tc, ok := a.cfg.Tools[tool]; ok && tc.DefaultForkMethod != "" {
		return fork.Method(tc.DefaultForkMethod)
	}
	return ""
}

// cliForkTransport performs native forks through the tool's own CLI in a
// bounded subprocess.
type cliForkTransport struct{}

func (cliForkTransport) ForkSession(ctx context.Context, req fork.Request) (fork.Resolution, error) {
	res, err := fork.ForkSessionViaCLI(ctx, req.ProviderSessionID, req.WorkingDir, os.Environ())
	if err != nil {
		return fork.Resolution{}, err
	}
	return fork.Resolution{ProviderSessionID: res.SessionID}, nil
}

// deliverReturnPacket implements the child half plus parent resume of the
// fork-call-return protocol when --parent was given.
func (a *app) deliverReturnPacket(ctx context.Context, parentPrefix, childID, project, headBefore string, turn turnResult, status string) error {
	parent, err := a.store.ResolvePrefix(parentPrefix)
	if err != nil {
		return fmt.Errorf("fork-call return: %w", err)
	}

	headAfter := gitHead(project)
	packet := protocol.ReturnPacket{
		Status:        packetStatus(status),
		ExitCode:      turn.ExitCode,
		Summary:       protocol.SanitizeSummary(turn.Output, protocol.MaxSummaryChars),
		ChangedFiles:  gitChangedFiles(project, headBefore, headAfter),
		GitHeadBefore: headBefore,
		GitHeadAfter:  headAfter,
	}
	if status == "failure" {
		packet.ErrorContext = lastLine(turn.Stderr)
	}
	if err := a.store.WriteReturnPacket(childID, packet); err != nil {
		return err
	}

	if _, err := a.store.ResumeParent(parent.MetaSessionID, childID); err != nil {
		return err
	}

	// Best-effort parent slot reacquisition: losing the race is not fatal.
	if parent.Tool != "" {
		sctx, scancel := context.WithTimeout(ctx, 2*time.Second)
		lease, err := a.slots.Acquire(sctx, parent.Tool, a.cfg.Slots.MaxFor(parent.Tool), "parent-"+parent.MetaSessionID)
		scancel()
		if err != nil {
			a.log.Warn("parent slot reacquisition failed", "parent", parent.MetaSessionID, "error", err)
		} else {
			lease.Release()
		}
	}
	return nil
}

func packetStatus(status string) protocol.Status {
	if status == "success" {
		return protocol.StatusSuccess
	}
	return protocol.StatusFailure
}

func (c *RunCmd) streamMode() executor.StreamMode {
	switch {
	case c.NoStreamStdout:
		return executor.StreamBufferOnly
	case c.StreamStdout:
		return executor.StreamTeeToStderr
	default:
		return executor.DefaultStreamMode(stderrIsTTY(), c.Output)
	}
}

func (c *RunCmd) report(outcome runOutcome, underlying error) error {
	if c.Output == "json" {
		data, err := json.MarshalIndent(outcome, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		if underlying != nil {
			os.Exit(outcome.ExitCode)
		}
		return nil
	}
	if underlying != nil {
		return fmt.Errorf("%s: %w", outcome.Summary, underlying)
	}
	fmt.Printf("[%s] %s: %s\n", outcome.Status, outcome.Tool, firstLine(outcome.Summary))
	return nil
}

func stderrIsTTY() bool {
	fi, err := os.Stderr.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// inferNeedsEdit guesses whether a prompt asks for file modification,
// used to filter tier alternatives to edit-capable tools.
func inferNeedsEdit(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range []string{"edit", "fix", "implement", "refactor", "apply", "patch", "rewrite", "update the"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func lastActionSummaries(st *session.State) []string {
	out := make([]string, 0, len(st.Tools))
	for _, ts := range st.Tools {
		if ts.LastActionSummary != "" {
			out = append(out, ts.LastActionSummary)
		}
	}
	return out
}

func siblingDescription(desc string) string {
	if desc == "" {
		return "failover sibling"
	}
	return desc + " (failover sibling)"
}

// summarizeOutput bounds s to maxChars on a rune boundary.
func summarizeOutput(s string, maxChars int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > maxChars {
		return string(runes[:maxChars])
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
