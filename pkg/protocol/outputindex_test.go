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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputIndex_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.toml")
	idx := OutputIndex{
		Sections: []Section{
			{ID: "analysis", Title: "Analysis", LineStart: 1, LineEnd: 40, TokenEstimate: 900, FilePath: "analysis.md"},
			{ID: ReturnPacketSectionID, Title: "Return packet", FilePath: "return-packet.md"},
		},
		TotalTokens: 1200,
		TotalLines:  55,
	}
	require.NoError(t, SaveOutputIndex(path, idx))

	loaded, err := LoadOutputIndex(path)
	require.NoError(t, err)
	assert.Equal(t, idx, loaded)
}

func TestReturnPacketSection_FindsReservedID(t *testing.T) {
	idx := OutputIndex{Sections: []Section{
		{ID: "analysis", FilePath: "a.md"},
		{ID: ReturnPacketSectionID, FilePath: "rp.md"},
	}}
	sec, ok := idx.ReturnPacketSection()
	require.True(t, ok)
	assert.Equal(t, "rp.md", sec.FilePath)

	_, ok = OutputIndex{}.ReturnPacketSection()
	assert.False(t, ok)
}

func TestResolveSectionPath_AcceptsContainedPath(t *testing.T) {
	outputDir := t.TempDir()
	got, err := ResolveSectionPath(outputDir, Section{FilePath: "return-packet.md"})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, "return-packet.md", filepath.Base(got))
}

func TestResolveSectionPath_RejectsDotDotEscape(t *testing.T) {
	outputDir := t.TempDir()
	_, err := ResolveSectionPath(outputDir, Section{FilePath: "../outside.md"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}

func TestResolveSectionPath_RejectsSymlinkEscape(t *testing.T) {
	base := t.TempDir()
	outputDir := filepath.Join(base, "output")
	outside := filepath.Join(base, "outside")
	require.NoError(t, os.MkdirAll(outputDir, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(outputDir, "link")))

	_, err := ResolveSectionPath(outputDir, Section{FilePath: "link/file.md"})
	require.Error(t, err)
}
