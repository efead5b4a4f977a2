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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/csa-project/csa/pkg/session"
)

// SessionCmd groups the session-store operations.
type SessionCmd struct {
	List        SessionListCmd        `cmd:"" help:"List sessions, flat or as a genealogy tree."`
	Compress    SessionCompressCmd    `cmd:"" help:"Mark a session's context as compacted."`
	Delete      SessionDeleteCmd      `cmd:"" help:"Delete a session's on-disk subtree."`
	Clean       SessionCleanCmd       `cmd:"" help:"Remove retired sessions older than a threshold."`
	Logs        SessionLogsCmd        `cmd:"" help:"Print the tail of a session's tool log."`
	Result      SessionResultCmd      `cmd:"" help:"Print a session's last recorded result."`
	Artifacts   SessionArtifactsCmd   `cmd:"" help:"List a session's output section files."`
	Log         SessionLogCmd         `cmd:"" help:"Print a session's git-backed history."`
	Checkpoint  SessionCheckpointCmd  `cmd:"" help:"Commit a session's current subtree as a checkpoint."`
	Checkpoints SessionCheckpointsCmd `cmd:"" help:"List a session's checkpoints."`
}

type SessionListCmd struct {
	Tree    bool   `help:"Render the genealogy as an indented tree."`
	Tool    string `help:"Only sessions with state for this tool."`
	Project string `help:"Project path filter (default: current directory)."`
	All     bool   `help:"List sessions across all projects."`
}

func (c *SessionListCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	project := c.Project
	if project == "" && !c.All {
		if project, err = os.Getwd(); err != nil {
			return err
		}
	}

	if c.Tree {
		tree, err := a.store.ListTree(project, c.Tool)
		if err != nil {
			return err
		}
		fmt.Print(tree)
		return nil
	}

	states, err := a.store.List(project, c.Tool)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	for _, st := range states {
		tools := make([]string, 0, len(st.Tools))
		for t := range st.Tools {
			tools = append(tools, t)
		}
		fmt.Printf("%s  %-9s  [%s]  %s\n",
			st.MetaSessionID[:8], st.Phase, strings.Join(tools, ","), st.Description)
	}
	return nil
}

type SessionCompressCmd struct {
	ID string `arg:"" help:"Session id or unique prefix."`
}

func (c *SessionCompressCmd) Run(cli *CLI) error {
	return withSession(cli, c.ID, func(a *app, st *session.State) error {
		return a.store.Compress(st.MetaSessionID)
	})
}

type SessionDeleteCmd struct {
	ID string `arg:"" help:"Session id or unique prefix."`
}

func (c *SessionDeleteCmd) Run(cli *CLI) error {
	return withSession(cli, c.ID, func(a *app, st *session.State) error {
		return a.store.Delete(st.MetaSessionID)
	})
}

type SessionCleanCmd struct {
	MaxAgeDays int `name:"max-age-days" default:"30" help:"Remove retired sessions older than this."`
}

func (c *SessionCleanCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.store.Clean(time.Duration(c.MaxAgeDays)*24*time.Hour, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Printf("removed %d session(s)\n", len(removed))
	return nil
}

type SessionLogsCmd struct {
	ID    string `arg:"" help:"Session id or unique prefix."`
	Tool  string `help:"Tool whose log to print (default: the session's locked tool)."`
	Lines int    `default:"50" help:"Number of trailing lines."`
}

func (c *SessionLogsCmd) Run(cli *CLI) error {
	return withSession(cli, c.ID, func(a *app, st *session.State) error {
		tool := c.Tool
		if tool == "" {
			tool = st.Tool
		}
		if tool == "" {
			return fmt.Errorf("session %s has no tool yet; pass --tool", st.MetaSessionID[:8])
		}
		out, err := a.store.Logs(st.MetaSessionID, tool, c.Lines)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	})
}

type SessionResultCmd struct {
	ID string `arg:"" help:"Session id or unique prefix."`
}

func (c *SessionResultCmd) Run(cli *CLI) error {
	return withSession(cli, c.ID, func(a *app, st *session.State) error {
		r, err := a.store.LoadResult(st.MetaSessionID)
		if err != nil {
			return err
		}
		fmt.Printf("status:       %s\nexit code:    %d\ntokens:       %d\ncompleted at: %s\n\n%s\n",
			r.Status, r.ExitCode, r.TokenUsage, r.CompletedAt.Format(time.RFC3339), r.Summary)
		return nil
	})
}

type SessionArtifactsCmd struct {
	ID string `arg:"" help:"Session id or unique prefix."`
}

func (c *SessionArtifactsCmd) Run(cli *CLI) error {
	return withSession(cli, c.ID, func(a *app, st *session.State) error {
		names, err := a.store.Artifacts(st.MetaSessionID)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	})
}

type SessionLogCmd struct {
	ID string `arg:"" help:"Session id or unique prefix."`
}

func (c *SessionLogCmd) Run(cli *CLI) error {
	return withSession(cli, c.ID, func(a *app, st *session.State) error {
		history, err := a.store.SessionHistory(st.MetaSessionID)
		if err != nil {
			return err
		}
		fmt.Print(history)
		return nil
	})
}

type SessionCheckpointCmd struct {
	ID      string `arg:"" help:"Session id or unique prefix."`
	Message string `short:"m" default:"checkpoint" help:"Checkpoint message."`
}

func (c *SessionCheckpointCmd) Run(cli *CLI) error {
	return withSession(cli, c.ID, func(a *app, st *session.State) error {
		hash, err := a.store.CommitSession(st.MetaSessionID, c.Message)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	})
}

type SessionCheckpointsCmd struct {
	ID string `arg:"" help:"Session id or unique prefix."`
}

func (c *SessionCheckpointsCmd) Run(cli *CLI) error {
	return withSession(cli, c.ID, func(a *app, st *session.State) error {
		history, err := a.store.SessionHistory(st.MetaSessionID)
		if err != nil {
			return err
		}
		if history == "" {
			fmt.Println("no checkpoints")
			return nil
		}
		fmt.Print(history)
		return nil
	})
}

// withSession resolves a session by prefix and hands it to fn with a
// ready app, closing everything on the way out.
func withSession(cli *CLI, prefix string, fn func(*app, *session.State) error) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()
	st, err := a.store.ResolvePrefix(prefix)
	if err != nil {
		return err
	}
	return fn(a, st)
}
