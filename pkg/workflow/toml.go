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

package workflow

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Encode renders wf as TOML text.
func Encode(wf *Workflow) (string, error) {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(wf); err != nil {
		return "", fmt.Errorf("workflow: encode %q: %w", wf.Name, err)
	}
	return buf.String(), nil
}

// Decode parses TOML text into a Workflow. Round-tripping a Workflow
// through Encode then Decode yields an equal plan.
func Decode(data string) (*Workflow, error) {
	var wf Workflow
	if _, err := toml.Decode(data, &wf); err != nil {
		return nil, fmt.Errorf("workflow: decode: %w", err)
	}
	return &wf, nil
}

// LoadFile reads and parses a compiled plan from path.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(string(data))
}

// SaveFile atomically writes wf's TOML encoding to path.
func SaveFile(path string, wf *Workflow) error {
	text, err := Encode(wf)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
