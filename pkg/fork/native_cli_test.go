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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseForkJSONOutput_SnakeCase(t *testing.T) {
	r, err := parseForkJSONOutput(`{"session_id": "abc-123-def"}`)
	require.NoError(t, err)
	assert.Equal(t, "abc-123-def", r.SessionID)
}

func TestParseForkJSONOutput_CamelCase(t *testing.T) {
	r, err := parseForkJSONOutput(`{"sessionId": "camel-456"}`)
	require.NoError(t, err)
	assert.Equal(t, "camel-456", r.SessionID)
}

func TestParseForkJSONOutput_NestedUnderResult(t *testing.T) {
	r, err := parseForkJSONOutput(`{"result": {"session_id": "nested-789"}}`)
	require.NoError(t, err)
	assert.Equal(t, "nested-789", r.SessionID)
}

func TestParseForkJSONOutput_NestedUnderDataCamelCase(t *testing.T) {
	r, err := parseForkJSONOutput(`{"data": {"sessionId": "data-camel-101"}}`)
	require.NoError(t, err)
	assert.Equal(t, "data-camel-101", r.SessionID)
}

func TestParseForkJSONOutput_SnakeCaseTakesPriorityOverCamelCase(t *testing.T) {
	r, err := parseForkJSONOutput(`{"session_id": "snake-wins", "sessionId": "camel-loses"}`)
	require.NoError(t, err)
	assert.Equal(t, "snake-wins", r.SessionID)
}

func TestParseForkJSONOutput_TopLevelBeatsNested(t *testing.T) {
	r, err := parseForkJSONOutput(`{"session_id": "top-level", "result": {"session_id": "nested"}}`)
	require.NoError(t, err)
	assert.Equal(t, "top-level", r.SessionID)
}

func TestParseForkJSONOutput_EmptyInput(t *testing.T) {
	_, err := parseForkJSONOutput("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty output")
}

func TestParseForkJSONOutput_WhitespaceOnly(t *testing.T) {
	_, err := parseForkJSONOutput("   \n  ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty output")
}

func TestParseForkJSONOutput_InvalidJSON(t *testing.T) {
	_, err := parseForkJSONOutput("not json at all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestParseForkJSONOutput_MissingSessionIDField(t *testing.T) {
	_, err := parseForkJSONOutput(`{"status": "ok", "message": "forked"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing session ID")
}

func TestParseForkJSONOutput_EmptySessionID(t *testing.T) {
	_, err := parseForkJSONOutput(`{"session_id": ""}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty session ID")
}

func TestParseForkJSONOutput_SessionIDNotString(t *testing.T) {
	_, err := parseForkJSONOutput(`{"session_id": 12345}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing session ID")
}

func TestChooseMethod_CrossToolForcesSoft(t *testing.T) {
	assert.Equal(t, MethodSoft, ChooseMethod("claude-code", "gemini-cli", MethodNative))
}

func TestChooseMethod_SameToolUsesDefault(t *testing.T) {
	assert.Equal(t, MethodSoft, ChooseMethod("claude-code", "claude-code", MethodSoft))
	assert.Equal(t, MethodNative, ChooseMethod("claude-code", "claude-code", ""))
}
