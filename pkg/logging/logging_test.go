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

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for input, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
}

func TestHandler_SimpleFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, slog.LevelInfo, "simple"))

	log.Info("slot acquired", "tool", "codex", "index", 2)

	line := buf.String()
	assert.Equal(t, "INFO slot acquired tool=codex index=2\n", line)
}

func TestHandler_VerboseFormatCarriesTimestamp(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, slog.LevelInfo, "verbose"))

	log.Warn("scope stop failed")

	line := buf.String()
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z WARN scope stop failed\n$`, line)
}

func TestHandler_LevelGate(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, slog.LevelWarn, "simple"))

	log.Info("below the gate")
	log.Warn("at the gate")

	assert.NotContains(t, buf.String(), "below the gate")
	assert.Contains(t, buf.String(), "at the gate")
}

func TestHandler_SuppressesForeignRecordsAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	h := newHandler(&buf, slog.LevelInfo, "simple")

	// A record with no call-site PC models a dependency-built record.
	foreign := slog.NewRecord(time.Time{}, slog.LevelInfo, "dependency chatter", 0)
	require.NoError(t, h.Handle(nil, foreign))
	assert.Empty(t, buf.String())

	// At debug level the same record passes through.
	hd := newHandler(&buf, slog.LevelDebug, "simple")
	require.NoError(t, hd.Handle(nil, foreign))
	assert.Contains(t, buf.String(), "dependency chatter")
}

func TestHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, slog.LevelInfo, "simple"))

	log.WithGroup("slot").With("tool", "aider").Info("released", "index", 0)

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "INFO released "), line)
	assert.Contains(t, line, "slot.tool=aider")
	assert.Contains(t, line, "slot.index=0")
}

func TestHandler_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, slog.LevelInfo, "json"))

	log.Info("turn done", "tool", "gemini-cli")

	assert.Contains(t, buf.String(), `"msg":"turn done"`)
	assert.Contains(t, buf.String(), `"tool":"gemini-cli"`)
}
