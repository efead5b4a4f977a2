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

package idgen

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ShapeAndValidity(t *testing.T) {
	id := New()
	assert.Len(t, id, Length)
	assert.True(t, Valid(id))
}

func TestNew_TimeOrderedPrefixSorts(t *testing.T) {
	first := New()
	time.Sleep(2 * time.Millisecond)
	second := New()

	ids := []string{second, first}
	sort.Strings(ids)
	require.Equal(t, first, ids[0], "ids created later must sort later")
}

func TestValid_RejectsMalformed(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("tooshort"))
	assert.False(t, Valid("!!!!!!!!!!!!!!!!!!!!!!!!!!"))
}

func TestValidPrefix(t *testing.T) {
	id := New()
	assert.True(t, ValidPrefix(id[:MinPrefixLen]))
	assert.True(t, ValidPrefix(id[:11]))
	assert.False(t, ValidPrefix(id[:MinPrefixLen-1]), "below the minimum length")
	assert.False(t, ValidPrefix("!!!!!!!!"), "outside the Crockford alphabet")
}
