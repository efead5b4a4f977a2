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

package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RejectsPathTraversal(t *testing.T) {
	rp := ReturnPacket{
		Status: StatusSuccess,
		ChangedFiles: []ChangedFile{
			{Path: "../secrets.txt", Action: ActionModify},
		},
	}
	err := rp.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "traversal")
}

func TestValidate_AcceptsRepoRelativePaths(t *testing.T) {
	rp := ReturnPacket{
		Status:    StatusSuccess,
		Artifacts: []string{"notes.md"},
		ChangedFiles: []ChangedFile{
			{Path: "src/main.go", Action: ActionModify},
			{Path: "./README.md", Action: ActionAdd},
		},
	}
	assert.NoError(t, rp.Validate())
}

func TestValidate_RejectsOversizedSummary(t *testing.T) {
	rp := ReturnPacket{Status: StatusSuccess, Summary: strings.Repeat("x", MaxSummaryChars+1)}
	err := rp.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestValidate_RejectsEmptyArtifact(t *testing.T) {
	rp := ReturnPacket{Status: StatusSuccess, Artifacts: []string{""}}
	err := rp.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestDecodeReturnPacket_AcceptsPascalCaseEnums(t *testing.T) {
	raw := rawReturnPacket{
		Status: "Success",
		ChangedFiles: []struct {
			Path   string `toml:"path"`
			Action string `toml:"action"`
		}{{Path: "a.go", Action: "Modify"}},
	}
	rp, err := DecodeReturnPacket(raw)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rp.Status)
	assert.Equal(t, ActionModify, rp.ChangedFiles[0].Action)
}

func TestSanitizeSummary_EscapesAndTruncatesOnRuneBoundary(t *testing.T) {
	out := SanitizeSummary("<script>hi</script>", 100)
	assert.Equal(t, "&lt;script&gt;hi&lt;/script&gt;", out)

	// Multibyte runes must never be split mid-byte-sequence.
	multibyte := strings.Repeat("é", 10)
	truncated := SanitizeSummary(multibyte, 3)
	assert.Equal(t, "ééé", truncated)
}

func TestValidateRelativePath_RejectsAbsoluteAndWindowsPaths(t *testing.T) {
	assert.Error(t, validateRelativePath("/etc/passwd"))
	assert.Error(t, validateRelativePath(`C:\Windows\System32`))
	assert.Error(t, validateRelativePath(`\\server\share`))
	assert.Error(t, validateRelativePath(""))
	assert.NoError(t, validateRelativePath("a/b/c"))
}
