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

// Command csa is a meta-orchestrator for heterogeneous coding-assistant
// CLI tools: it takes a prompt and executes it through one of the
// configured tools under a persistent session identity, an enforced
// resource sandbox, tier-based tool/model selection, and rate-limit
// failover.
//
// Usage:
//
//	csa run --tool claude-code "fix the failing tests"
//	csa session list --tree
//	csa workflow run plan.toml --vars TARGET=pkg/server
//	csa gc --dry-run --max-age-days 30
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Launch a tool on a prompt in a session."`
	Session  SessionCmd  `cmd:"" help:"Session-store operations."`
	Workflow WorkflowCmd `cmd:"" help:"Execute compiled workflow plans."`
	Review   ReviewCmd   `cmd:"" help:"Two-tool structured review of a prompt's subject."`
	Debate   DebateCmd   `cmd:"" help:"Multi-round two-tool debate over a question."`
	GC       GCCmd       `cmd:"" name:"gc" help:"Reclaim stale sessions and orphan sandbox scopes."`
	Doctor   DoctorCmd   `cmd:"" help:"Environment diagnostics."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config          string   `short:"c" help:"Path to config file." type:"path"`
	ConfigSource    string   `help:"Config source (file, consul, etcd, zookeeper)." default:"file"`
	ConfigEndpoints []string `help:"Endpoints for clustered config sources."`
	StateRoot       string   `help:"State root directory (sessions, slots, rotation)." type:"path"`
	LogLevel        string   `help:"Log level (debug, info, warn, error)."`
	LogFile         string   `help:"Log file path (empty = stderr)."`
	LogFormat       string   `help:"Log format (simple, verbose, or json)."`
	MetricsAddr     string   `help:"Serve Prometheus metrics on this address (empty = disabled)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("csa version %s\n", version)
	return nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, so a
// cancelled run can terminate the child process group and release its
// slot and sandbox guards on the way out.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("csa"),
		kong.Description("Meta-orchestrator for coding-assistant CLI tools."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "csa: %v\n", err)
		os.Exit(1)
	}
}
