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

package fork

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/csa-project/csa/pkg/sandbox"
)

// CLIResult is the outcome of a successful CLI-based session fork.
type CLIResult struct {
	SessionID string
}

// ForkSessionViaCLI spawns `claude --resume <id> --fork-session -p "."
// --output-format json` and parses its stdout for the new session id.
// It is a blocking CLI operation (not the ACP protocol) used to create a
// provider-level fork before attaching via the provider's normal
// resume/load path.
func ForkSessionViaCLI(ctx context.Context, providerSessionID, workingDir string, env []string) (CLIResult, error) {
	cmd := exec.CommandContext(ctx, "claude",
		"--resume", providerSessionID,
		"--fork-session",
		"-p", ".",
		"--output-format", "json",
	)
	cmd.Dir = workingDir
	cmd.Env = sandbox.StripRecursionEnv(env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return CLIResult{}, fmt.Errorf("fork: failed to spawn `claude --fork-session`: %w", err)
	}

	// exec.CommandContext kills the child process on ctx cancellation;
	// Wait still returns (with an error) once the kill takes effect, so
	// stdout/stderr captured so far survive even a timeout-driven kill.
	err := cmd.Wait()

	if ctx.Err() != nil {
		return CLIResult{}, fmt.Errorf("fork: claude --fork-session timed out; child process killed")
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return CLIResult{}, fmt.Errorf("fork: claude --fork-session exited with code %d: %s", exitErr.ExitCode(), stderr.String())
		}
		return CLIResult{}, fmt.Errorf("fork: claude --fork-session I/O error: %w", err)
	}

	return parseForkJSONOutput(stdout.String())
}

// parseForkJSONOutput parses the JSON stdout of `--fork-session
// --output-format json`, tolerating both snake_case and camelCase field
// names and values nested under "result" or "data", for resilience
// against provider API changes.
func parseForkJSONOutput(raw string) (CLIResult, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CLIResult{}, fmt.Errorf("fork: claude --fork-session produced empty output")
	}

	var value map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return CLIResult{}, fmt.Errorf("fork: failed to parse claude --fork-session JSON output: %w; raw: %s", err, trimmed)
	}

	id, ok := extractSessionID(value)
	if !ok {
		return CLIResult{}, fmt.Errorf("fork: claude --fork-session JSON missing session ID field; got: %s", trimmed)
	}
	if id == "" {
		return CLIResult{}, fmt.Errorf("fork: claude --fork-session returned empty session ID")
	}
	return CLIResult{SessionID: id}, nil
}

// extractSessionID tries, in priority order: top-level snake_case,
// top-level camelCase, then the same two spellings nested under "result"
// then "data".
func extractSessionID(value map[string]interface{}) (string, bool) {
	if id, ok := stringField(value, "session_id"); ok {
		return id, true
	}
	if id, ok := stringField(value, "sessionId"); ok {
		return id, true
	}
	for _, wrapper := range []string{"result", "data"} {
		inner, ok := value[wrapper].(map[string]interface{})
		if !ok {
			continue
		}
		if id, ok := stringField(inner, "session_id"); ok {
			return id, true
		}
		if id, ok := stringField(inner, "sessionId"); ok {
			return id, true
		}
	}
	return "", false
}

func stringField(m map[string]interface{}, key string) (string, bool) {
	v, present := m[key]
	if !present {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
