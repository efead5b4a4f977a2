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

package sandbox

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

func isCgroupV2Mounted() bool {
	_, err := os.Stat("/sys/fs/cgroup/cgroup.controllers")
	return err == nil
}

// BuildScopeCommand constructs the systemd-run invocation that wraps argv
// in a transient, resource-limited user scope. The trailing "--" is
// required so systemd-run stops parsing its own flags.
func BuildScopeCommand(unitName string, limits Limits, argv []string) []string {
	cmd := []string{"systemd-run", "--user", "--scope", "--unit", unitName}
	if limits.MemoryMaxMB > 0 {
		cmd = append(cmd, "--property", fmt.Sprintf("MemoryMax=%dM", limits.MemoryMaxMB))
	}
	cmd = append(cmd, "--property", fmt.Sprintf("MemorySwapMax=%dM", limits.SwapMaxMB))
	if limits.TasksMax > 0 {
		cmd = append(cmd, "--property", fmt.Sprintf("TasksMax=%d", limits.TasksMax))
	}
	cmd = append(cmd, "--")
	cmd = append(cmd, argv...)
	return cmd
}

// ScopeGuard is an RAII handle over a running cgroup scope: Stop is
// best-effort and safe to call more than once.
type ScopeGuard struct {
	unitName string
	stopped  bool
}

func NewScopeGuard(unitName string) *ScopeGuard {
	return &ScopeGuard{unitName: unitName}
}

// Stop issues a best-effort `systemctl --user stop <unit>`, swallowing
// errors: by the time this runs the child may already be gone, and a
// failure here must never surface as a user-visible error.
func (g *ScopeGuard) Stop() {
	if g == nil || g.stopped {
		return
	}
	g.stopped = true
	_ = exec.Command("systemctl", "--user", "stop", g.unitName).Run()
}

// ListCSAScopes enumerates csa-*.scope units currently known to the user
// systemd manager.
func ListCSAScopes() ([]string, error) {
	out, err := exec.Command("systemctl", "--user", "list-units", "--type=scope", "--no-legend", "--plain").Output()
	if err != nil {
		return nil, fmt.Errorf("list-units: %w", err)
	}
	var names []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if strings.HasPrefix(fields[0], "csa-") && strings.HasSuffix(fields[0], ".scope") {
			names = append(names, fields[0])
		}
	}
	return names, nil
}

// ScopeActivePIDs returns the TasksCurrent count for a scope unit.
// A nil result distinguishes "the query itself failed" (unknown) from a
// successfully observed "0" (truly empty); cleanup treats these very
// differently, so a transient systemd error never kills running work.
func ScopeActivePIDs(unitName string) (*int, error) {
	out, err := exec.Command("systemctl", "--user", "show", unitName, "--property=TasksCurrent", "--value").Output()
	if err != nil {
		return nil, fmt.Errorf("show %s: %w", unitName, err)
	}
	text := strings.TrimSpace(string(out))
	if text == "" || text == "[not set]" {
		return nil, fmt.Errorf("TasksCurrent unavailable for %s", unitName)
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return nil, fmt.Errorf("parse TasksCurrent for %s: %w", unitName, err)
	}
	return &n, nil
}

// CleanupOrphanScopes stops any csa-*.scope unit whose task count queries
// as exactly zero. Units whose query fails are left alone untouched.
func CleanupOrphanScopes() (stopped []string, err error) {
	names, err := ListCSAScopes()
	if err != nil {
		return nil, err
	}
	for _, unit := range names {
		count, qerr := ScopeActivePIDs(unit)
		if qerr != nil || count == nil {
			continue // unknown: leave it alone
		}
		if *count == 0 {
			if serr := exec.Command("systemctl", "--user", "stop", unit).Run(); serr == nil {
				stopped = append(stopped, unit)
			}
		}
	}
	return stopped, nil
}
