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

import "strings"

// EvaluateCondition implements the step-condition grammar via small
// recursive descent: ${VAR} truthy tests, !(...) negation, top-level &&
// (split at paren-depth 0, handling 3+ conjuncts), and ( ... ) grouping
// only when the outer parens span the whole trimmed expression. A
// general expression library is deliberately not used here: the
// fail-closed semantics on malformed substitution are specific to this
// grammar.
//
// The evaluator fails closed (returns false, never an error) on: an
// empty expression, unbalanced parens, a trailing operator, or any
// "${...}" left unresolved after substitution.
func EvaluateCondition(expr string, vars map[string]string) bool {
	ok, rest := evalExpr(strings.TrimSpace(expr), vars)
	return ok && rest == ""
}

// evalExpr evaluates the full expression, returning its truth value and
// "" on success or a non-empty diagnostic "rest" signaling malformed
// input (never panics; the zero-value false is always safe to return).
func evalExpr(expr string, vars map[string]string) (bool, string) {
	if expr == "" {
		return false, ""
	}
	if !balancedParens(expr) {
		return false, ""
	}

	conjuncts := splitTopLevel(expr, "&&")
	if len(conjuncts) == 0 {
		return false, ""
	}
	if len(conjuncts) > 1 {
		for _, c := range conjuncts {
			c = strings.TrimSpace(c)
			if c == "" {
				return false, ""
			}
			v, bad := evalExpr(c, vars)
			if bad != "" || !v {
				return false, bad
			}
		}
		return true, ""
	}

	term := strings.TrimSpace(conjuncts[0])
	if term == "" || endsWithOperator(term) {
		return false, ""
	}

	if strings.HasPrefix(term, "!(") && strings.HasSuffix(term, ")") {
		inner := term[2 : len(term)-1]
		v, bad := evalExpr(inner, vars)
		if bad != "" {
			return false, bad
		}
		return !v, ""
	}

	if isWrappingParen(term) {
		return evalExpr(term[1:len(term)-1], vars)
	}

	return evalTruthy(term, vars)
}

// evalTruthy substitutes ${VAR} -> value (or "" if unset) and evaluates
// the result for truthiness. Any "${" left after substitution (a
// malformed or nested reference) fails the expression closed.
func evalTruthy(term string, vars map[string]string) (bool, string) {
	substituted := Substitute(term, vars)
	if strings.Contains(substituted, "${") {
		return false, "unresolved"
	}
	lower := strings.ToLower(strings.TrimSpace(substituted))
	if lower == "" || lower == "false" || lower == "0" {
		return false, ""
	}
	return true, ""
}

func endsWithOperator(s string) bool {
	return strings.HasSuffix(s, "&&") || strings.HasSuffix(s, "!")
}

// isWrappingParen reports whether s's first '(' and last ')' form a
// matching pair that spans the entire string (not just that s starts
// with '(' and ends with ')': "(a)&&(b)" must NOT be stripped).
func isWrappingParen(s string) bool {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return false
	}
	depth := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(s)-1 {
				return false
			}
		}
	}
	return depth == 0
}

func balancedParens(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// splitTopLevel splits s on sep at paren-depth 0 only, so sep occurring
// inside a parenthesized subexpression never splits it.
func splitTopLevel(s, sep string) []string {
	var parts []string
	depth := 0
	last := 0
	for i := 0; i+len(sep) <= len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && s[i:i+len(sep)] == sep {
			parts = append(parts, s[last:i])
			last = i + len(sep)
			i = last - 1
		}
	}
	parts = append(parts, s[last:])
	return parts
}

// Substitute replaces every "${NAME}" occurrence in s with vars[NAME]
// (empty string if NAME is unset).
func Substitute(s string, vars map[string]string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "${")
		if start < 0 {
			b.WriteString(s[i:])
			break
		}
		start += i
		end := strings.IndexByte(s[start+2:], '}')
		if end < 0 {
			b.WriteString(s[i:])
			break
		}
		end += start + 2
		b.WriteString(s[i:start])
		name := s[start+2 : end]
		b.WriteString(vars[name])
		i = end + 1
	}
	return b.String()
}
