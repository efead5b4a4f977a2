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
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// RlimitGuard remembers the orchestrator's own RLIMIT_AS from before a
// child launch, so it can be put back once the child has forked.
type RlimitGuard struct {
	prev    unix.Rlimit
	applied bool
}

// ApplySetrlimit configures cmd so the child becomes the leader of a new
// session (setsid, so the full tree can be killed by PGID) and inherits
// a lowered RLIMIT_AS. os/exec exposes no post-fork pre-exec hook, so
// the limit is lowered on the calling process itself and inherited at
// fork; the caller MUST invoke Restore on the returned guard as soon as
// Start returns, or the orchestrator keeps running under the child's
// limit. Only the soft limit is touched (the hard limit stays), so
// Restore needs no privilege.
func ApplySetrlimit(cmd *exec.Cmd, limits Limits) *RlimitGuard {
	Setsid(cmd)

	g := &RlimitGuard{}
	if limits.MemoryMaxMB <= 0 {
		return g
	}
	cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL

	if err := unix.Getrlimit(unix.RLIMIT_AS, &g.prev); err != nil {
		return g
	}
	asBytes := uint64(limits.MemoryMaxMB) * 1024 * 1024
	if asBytes > g.prev.Max {
		asBytes = g.prev.Max
	}
	if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: asBytes, Max: g.prev.Max}); err != nil {
		return g
	}
	g.applied = true
	return g
}

// Restore puts the pre-launch RLIMIT_AS back. Idempotent and nil-safe.
func (g *RlimitGuard) Restore() {
	if g == nil || !g.applied {
		return
	}
	g.applied = false
	_ = unix.Setrlimit(unix.RLIMIT_AS, &g.prev)
}

// RSSWatcher polls a running child's RSS and kills it if it exceeds
// limitMB. This lags actual OOM by the poll interval; that lag is
// documented, not hidden.
type RSSWatcher struct {
	PID      int
	LimitMB  int64
	Interval time.Duration
	stop     chan struct{}
}

func NewRSSWatcher(pid int, limitMB int64, interval time.Duration) *RSSWatcher {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &RSSWatcher{PID: pid, LimitMB: limitMB, Interval: interval, stop: make(chan struct{})}
}

// Start runs the poll loop in a goroutine until Stop is called.
func (w *RSSWatcher) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				rssMB, err := readRSSMB(w.PID)
				if err == nil && rssMB > w.LimitMB {
					_ = syscall.Kill(w.PID, syscall.SIGKILL)
					return
				}
			}
		}
	}()
}

func (w *RSSWatcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}
