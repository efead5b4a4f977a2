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

package session

import (
	"sort"
	"strings"
)

// treeNode is one row of a rendered genealogy tree.
type treeNode struct {
	state    *State
	children []*treeNode
}

// ListTree renders the genealogy of project's sessions (optionally
// filtered to toolFilter) as an indented tree, each node annotated with
// its short id, tool set, and description. Children are ordered by
// creation time ascending under their parent; roots are likewise ordered.
func (s *Store) ListTree(project, toolFilter string) (string, error) {
	states, err := s.List(project, "")
	if err != nil {
		return "", err
	}

	byID := make(map[string]*treeNode, len(states))
	for _, st := range states {
		byID[st.MetaSessionID] = &treeNode{state: st}
	}

	var roots []*treeNode
	for _, st := range states {
		node := byID[st.MetaSessionID]
		if parent, ok := byID[st.Genealogy.ParentSessionID]; ok {
			parent.children = append(parent.children, node)
		} else {
			roots = append(roots, node)
		}
	}

	sortByCreatedAt(roots)
	for _, n := range byID {
		sortByCreatedAt(n.children)
	}

	var b strings.Builder
	for _, r := range roots {
		renderNode(&b, r, 0, toolFilter)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func sortByCreatedAt(nodes []*treeNode) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].state.CreatedAt.Before(nodes[j].state.CreatedAt)
	})
}

func renderNode(b *strings.Builder, n *treeNode, depth int, toolFilter string) {
	include := toolFilter == "" || n.state.HasTool(toolFilter)
	if include {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(shortID(n.state.MetaSessionID))
		b.WriteString(" [")
		b.WriteString(toolList(n.state))
		b.WriteString("] ")
		b.WriteString(n.state.Description)
		b.WriteString("\n")
	}
	childDepth := depth
	if include {
		childDepth = depth + 1
	}
	for _, c := range n.children {
		renderNode(b, c, childDepth, toolFilter)
	}
}

func toolList(st *State) string {
	names := make([]string, 0, len(st.Tools))
	for t := range st.Tools {
		names = append(names, t)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// FindChildren returns the direct children of id among the given states.
func FindChildren(states []*State, id string) []*State {
	return findChildrenIn(states, id)
}

func findChildrenIn(states []*State, id string) []*State {
	var out []*State
	for _, st := range states {
		if st.Genealogy.ParentSessionID == id {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
