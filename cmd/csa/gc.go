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
	"time"

	"github.com/csa-project/csa/pkg/sandbox"
	"github.com/csa-project/csa/pkg/session"
)

// GCCmd reclaims retired sessions past the age threshold and stops
// orphan sandbox scopes left behind by crashed runs.
type GCCmd struct {
	DryRun     bool `name:"dry-run" help:"Report what would be removed without removing anything."`
	MaxAgeDays int  `name:"max-age-days" default:"30" help:"Remove retired sessions older than this."`
	Global     bool `help:"Sweep sessions across all projects (default: current project only)."`
}

func (c *GCCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	project := ""
	if !c.Global {
		if project, err = os.Getwd(); err != nil {
			return err
		}
	}

	maxAge := time.Duration(c.MaxAgeDays) * 24 * time.Hour
	now := time.Now().UTC()

	if c.DryRun {
		all, err := a.store.List(project, "")
		if err != nil {
			return err
		}
		count := 0
		for _, st := range all {
			if st.Phase == session.PhaseRetired && now.Sub(st.LastAccessed) >= maxAge {
				fmt.Printf("would remove %s  (retired %s ago)\n",
					st.MetaSessionID[:8], now.Sub(st.LastAccessed).Round(time.Hour))
				count++
			}
		}
		fmt.Printf("dry run: %d session(s) eligible\n", count)
		return nil
	}

	removed, err := a.store.Clean(maxAge, now)
	if err != nil {
		return err
	}

	stopped, err := sandbox.CleanupOrphanScopes()
	if err != nil {
		// Transient systemd errors must not kill running work or fail the
		// sweep; the next gc pass will retry.
		a.log.Warn("orphan scope cleanup incomplete", "error", err)
	}

	fmt.Printf("removed %d session(s), stopped %d orphan scope(s)\n", len(removed), len(stopped))
	return nil
}
