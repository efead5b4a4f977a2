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

// Package idgen generates session identifiers.
//
// Session ids are ULIDs: 26-character, Base-32-ish, lexicographically
// sortable strings with a millisecond time-ordered prefix. They double as
// the primary key for sessions and as the directory name under
// sessions/<id>/.
package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Length is the fixed textual length of a session id.
const Length = 26

// MinPrefixLen is the shortest prefix the session store will accept for
// prefix resolution; shorter prefixes are rejected outright rather than
// risking a silent ambiguous match.
const MinPrefixLen = 8

// New returns a fresh, time-ordered session id.
func New() string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return id.String()
}

// Valid reports whether s is a syntactically well-formed session id.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// ValidPrefix reports whether prefix is long enough and looks like the
// start of a session id (uppercase Crockford base32 alphabet).
func ValidPrefix(prefix string) bool {
	if len(prefix) < MinPrefixLen || len(prefix) > Length {
		return false
	}
	upper := strings.ToUpper(prefix)
	for _, r := range upper {
		if !strings.ContainsRune("0123456789ABCDEFGHJKMNPQRSTVWXYZ", r) {
			return false
		}
	}
	return true
}

// ErrPrefixTooShort reports a candidate prefix below MinPrefixLen.
// pkg/session's ResolvePrefix returns its own session.ErrPrefixTooShort
// instead of this value.
var ErrPrefixTooShort = fmt.Errorf("session id prefix must be at least %d characters", MinPrefixLen)
