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

package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"
)

// TierCursor is the persisted round-robin position for one tier.
type TierCursor struct {
	LastIndex  int       `toml:"last_index"`
	LastUsedAt time.Time `toml:"last_used_at"`
}

// rotationFile is the on-disk shape of rotation.toml.
type rotationFile struct {
	Tiers map[string]TierCursor `toml:"tiers"`
}

// Rotator persists rotation cursors under a single exclusive flock held
// for the duration of each read-modify-write, so no two rotation
// decisions can ever observe a stale cursor.
type Rotator struct {
	path string
	lock string
}

func NewRotator(stateRoot string) *Rotator {
	return &Rotator{
		path: filepath.Join(stateRoot, "rotation.toml"),
		lock: filepath.Join(stateRoot, "rotation.toml.lock"),
	}
}

var tier3Prefix = regexp.MustCompile(`(?i)^tier-?3-?`)

// normalizeTierKey folds tier name variants that all address the same
// rotation bucket: "Tier3", "tier3", and "tier-3-fast" share one cursor.
func normalizeTierKey(name string) string {
	lower := strings.ToLower(name)
	if tier3Prefix.MatchString(lower) {
		return "tier3"
	}
	return lower
}

// Next returns the next eligible model spec for tierName, scanning
// forward from (last_index+1) mod N over the *full* tier list (not just
// the eligible subset) and returning the first entry that satisfies
// eligible. It wraps at most once; if nothing is eligible it returns
// ErrNoAlternatives. A tier with no persisted cursor counts as
// last_index 0, so its first-ever call starts scanning at index 1; the
// cursor is persisted on every successful pick.
func (r *Rotator) Next(tierName string, models []ModelSpec, eligible func(ModelSpec) bool) (ModelSpec, error) {
	if len(models) == 0 {
		return ModelSpec{}, fmt.Errorf("resolver: tier %q has no models", tierName)
	}

	fl := flock.New(r.lock)
	if err := fl.Lock(); err != nil {
		return ModelSpec{}, fmt.Errorf("resolver: rotation lock: %w", err)
	}
	defer fl.Unlock()

	state, err := r.load()
	if err != nil {
		return ModelSpec{}, err
	}

	key := normalizeTierKey(tierName)
	cursor := state.Tiers[key]
	n := len(models)
	start := (cursor.LastIndex + 1) % n

	for offset := 0; offset < n; offset++ {
		idx := (start + offset) % n
		if eligible(models[idx]) {
			state.Tiers[key] = TierCursor{LastIndex: idx, LastUsedAt: time.Now().UTC()}
			if err := r.save(state); err != nil {
				return ModelSpec{}, err
			}
			return models[idx], nil
		}
	}
	return ModelSpec{}, ErrNoAlternatives
}

func (r *Rotator) load() (rotationFile, error) {
	state := rotationFile{Tiers: map[string]TierCursor{}}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, err
	}
	if _, err := toml.Decode(string(data), &state); err != nil {
		return state, fmt.Errorf("resolver: parse rotation.toml: %w", err)
	}
	if state.Tiers == nil {
		state.Tiers = map[string]TierCursor{}
	}
	return state, nil
}

func (r *Rotator) save(state rotationFile) error {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(state); err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(buf.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}
