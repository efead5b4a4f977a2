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

// Package slot implements the slot manager: a per-tool,
// bounded-concurrency lease backed by advisory file locks, so that
// co-located csa processes never exceed a tool's configured concurrency.
package slot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// DefaultMax is used for tools with no explicit configured maximum.
const DefaultMax = 1

var ErrCancelled = errors.New("slot: acquisition cancelled before a slot was held")

// sidecar is the informative (never authoritative) per-slot JSON record.
type sidecar struct {
	LeaseID    string    `json:"lease_id"`
	PID        int       `json:"pid"`
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Manager arbitrates slots under root/slots/<tool>/<N>.lock.
type Manager struct {
	root string
}

func NewManager(stateRoot string) *Manager {
	return &Manager{root: filepath.Join(stateRoot, "slots")}
}

// Lease is the RAII-style guard returned by Acquire. Release is idempotent.
type Lease struct {
	tool     string
	index    int
	lockPath string
	sidePath string
	fl       *flock.Flock
	released bool
}

func (l *Lease) Index() int { return l.index }

// Release drops the lock and removes the sidecar. Safe to call more than
// once or on a nil-holding Lease.
func (l *Lease) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	_ = os.Remove(l.sidePath)
	return l.fl.Unlock()
}

// Acquire blocks (with capped exponential backoff) until a slot for tool
// is available or ctx is done. max is the configured concurrency ceiling
// (DefaultMax if <= 0). holderID identifies the acquiring process/session.
func (m *Manager) Acquire(ctx context.Context, tool string, max int, holderID string) (*Lease, error) {
	if max <= 0 {
		max = DefaultMax
	}
	dir := filepath.Join(m.root, tool)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("slot manager: %w", err)
	}

	backoff := 25 * time.Millisecond
	const backoffCap = 2 * time.Second

	for {
		for i := 0; i < max; i++ {
			lockPath := filepath.Join(dir, fmt.Sprintf("%d.lock", i))
			sidePath := filepath.Join(dir, fmt.Sprintf("%d.pid.json", i))
			fl := flock.New(lockPath)

			ok, err := fl.TryLock()
			if err != nil {
				continue
			}
			if ok {
				if err := writeSidecar(sidePath, holderID); err != nil {
					fl.Unlock()
					return nil, err
				}
				return &Lease{tool: tool, index: i, lockPath: lockPath, sidePath: sidePath, fl: fl}, nil
			}

			// Occupied: check whether the recorded holder PID is still
			// alive. A dead holder's slot is reclaimable even though the
			// OS lock itself would be released automatically on process
			// exit — this only covers the window before that happens.
			if side, err := readSidecar(sidePath); err == nil && !pidAlive(side.PID) {
				_ = os.Remove(sidePath)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ErrCancelled
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

func writeSidecar(path, holderID string) error {
	side := sidecar{
		LeaseID:    uuid.NewString(),
		PID:        os.Getpid(),
		HolderID:   holderID,
		AcquiredAt: time.Now().UTC(),
	}
	data, err := json.Marshal(side)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readSidecar(path string) (sidecar, error) {
	var side sidecar
	data, err := os.ReadFile(path)
	if err != nil {
		return side, err
	}
	err = json.Unmarshal(data, &side)
	return side, err
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 performs no-op existence/permission check without killing.
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
