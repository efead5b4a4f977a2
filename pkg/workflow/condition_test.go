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

import "testing"

func TestEvaluateCondition_SimpleTruthy(t *testing.T) {
	vars := map[string]string{"FOUND_ISSUES": "true", "EMPTY": "", "ZERO": "0"}
	cases := []struct {
		expr string
		want bool
	}{
		{"${FOUND_ISSUES}", true},
		{"${EMPTY}", false},
		{"${ZERO}", false},
		{"${MISSING}", false},
	}
	for _, c := range cases {
		if got := EvaluateCondition(c.expr, vars); got != c.want {
			t.Errorf("EvaluateCondition(%q) = %v, want %v", c.expr, got, c.want)
		}
	}
}

func TestEvaluateCondition_AndAndNegation(t *testing.T) {
	varsAllTrue := map[string]string{"A": "1", "B": "1", "C": ""}
	varsOneFalse := map[string]string{"A": "1", "B": "", "C": ""}

	expr := "${A} && ${B} && !(${C})"
	if !EvaluateCondition(expr, varsAllTrue) {
		t.Errorf("expected true for all-true inputs")
	}
	if EvaluateCondition(expr, varsOneFalse) {
		t.Errorf("expected false when B is falsy")
	}
}

func TestEvaluateCondition_ParenGroupingNotStrippedAcrossAnd(t *testing.T) {
	vars := map[string]string{"A": "1", "B": ""}
	// "(a)&&(b)" must not be treated as one wrapping-paren group.
	if EvaluateCondition("(${A})&&(${B})", vars) {
		t.Errorf("expected false: B is falsy")
	}
}

func TestEvaluateCondition_FailsClosedOnUnresolvedOrMalformed(t *testing.T) {
	vars := map[string]string{}
	bad := []string{
		"",
		"${A} &&",
		"&& ${A}",
		"${A} && ${",
		"(${A}",
	}
	for _, expr := range bad {
		if EvaluateCondition(expr, vars) {
			t.Errorf("EvaluateCondition(%q) = true, want false (fail closed)", expr)
		}
	}
}

func TestSubstitute(t *testing.T) {
	vars := map[string]string{"NAME": "csa"}
	got := Substitute("hello ${NAME}, unset=${MISSING}", vars)
	want := "hello csa, unset="
	if got != want {
		t.Errorf("Substitute = %q, want %q", got, want)
	}
}
