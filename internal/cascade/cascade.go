// Package cascade orders table deletions so that no row is removed while
// another table still references it.
package cascade

import (
	"errors"
	"fmt"
	"strings"
)

var ErrCycle = errors.New("cascade: reference cycle")

// Node is one table in the erasure graph. Where is a SQL predicate scoped by
// $1; References lists the tables this one points at through a foreign key.
type Node struct {
	Table      string
	Where      string
	References []string
}

// Graph holds nodes in declaration order. Order is stable for a given graph.
type Graph struct {
	nodes []Node
	index map[string]int
}

func New(nodes ...Node) (*Graph, error) {
	g := &Graph{index: make(map[string]int, len(nodes))}
	for _, n := range nodes {
		if n.Table == "" {
			return nil, errors.New("cascade: empty table name")
		}
		if _, dup := g.index[n.Table]; dup {
			return nil, fmt.Errorf("cascade: duplicate table %q", n.Table)
		}
		g.index[n.Table] = len(g.nodes)
		g.nodes = append(g.nodes, n)
	}
	for _, n := range g.nodes {
		for _, ref := range n.References {
			if _, ok := g.index[ref]; !ok {
				return nil, fmt.Errorf("cascade: %q references unknown table %q", n.Table, ref)
			}
		}
	}
	return g, nil
}

// Order returns the nodes so that every table comes before each table it
// references. Among ready nodes the earliest declared wins.
func (g *Graph) Order() ([]Node, error) {
	// pending[i] = number of not yet emitted tables that reference node i
	pending := make([]int, len(g.nodes))
	for _, n := range g.nodes {
		for _, ref := range uniq(n.References, n.Table) {
			pending[g.index[ref]]++
		}
	}

	emitted := make([]bool, len(g.nodes))
	out := make([]Node, 0, len(g.nodes))
	for len(out) < len(g.nodes) {
		next := -1
		for i := range g.nodes {
			if !emitted[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(g.remaining(emitted), ", "))
		}
		emitted[next] = true
		out = append(out, g.nodes[next])
		for _, ref := range uniq(g.nodes[next].References, g.nodes[next].Table) {
			pending[g.index[ref]]--
		}
	}
	return out, nil
}

func (g *Graph) Tables() []string {
	names := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		names[i] = n.Table
	}
	return names
}

func (g *Graph) remaining(emitted []bool) []string {
	var names []string
	for i, n := range g.nodes {
		if !emitted[i] {
			names = append(names, n.Table)
		}
	}
	return names
}

// uniq drops duplicates and self references, which a single DELETE handles.
func uniq(refs []string, self string) []string {
	seen := make(map[string]bool, len(refs))
	out := refs[:0:0]
	for _, r := range refs {
		if r == self || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
