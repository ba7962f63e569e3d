// SPDX-License-Identifier: MPL-2.0

// Package dag orders components by their declared dependencies and finds
// the components caught in dependency cycles.
package dag

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrCycle is the sentinel wrapped by CycleError.
var ErrCycle = errors.New("dependency cycle")

type (
	// CycleError lists the members of one dependency cycle in
	// declaration order.
	CycleError struct {
		Members []string
	}

	// Graph maps each node to the nodes it depends on. Edges to nodes that
	// were never added are ignored.
	Graph struct {
		nodes []string
		deps  map[string][]string
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Members, " -> "))
}

// Unwrap returns ErrCycle.
func (e *CycleError) Unwrap() error { return ErrCycle }

// New creates an empty Graph.
func New() *Graph {
	return &Graph{deps: make(map[string][]string)}
}

// Add registers node and the nodes it depends on. Adding a node twice
// appends to its dependencies.
func (g *Graph) Add(node string, deps ...string) {
	if _, ok := g.deps[node]; !ok {
		g.nodes = append(g.nodes, node)
		g.deps[node] = nil
	}
	g.deps[node] = append(g.deps[node], deps...)
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Cycles returns every dependency cycle, each as a *CycleError. Cycles are
// ordered by the first declared member; a node depending on itself is a
// cycle of one.
func (g *Graph) Cycles() []*CycleError {
	t := tarjan{g: g, index: make(map[string]int), low: make(map[string]int), onStack: make(map[string]bool)}
	for _, n := range g.nodes {
		if _, seen := t.index[n]; !seen {
			t.visit(n)
		}
	}

	pos := make(map[string]int, len(g.nodes))
	for i, n := range g.nodes {
		pos[n] = i
	}
	var cycles []*CycleError
	for _, scc := range t.components {
		if len(scc) == 1 && !slices.Contains(g.deps[scc[0]], scc[0]) {
			continue
		}
		slices.SortFunc(scc, func(a, b string) int { return pos[a] - pos[b] })
		cycles = append(cycles, &CycleError{Members: scc})
	}
	slices.SortFunc(cycles, func(a, b *CycleError) int { return pos[a.Members[0]] - pos[b.Members[0]] })
	return cycles
}

// Order returns the nodes with every node after its dependencies. Among
// independent nodes declaration order is kept. A cyclic graph returns the
// first cycle.
func (g *Graph) Order() ([]string, error) {
	if cycles := g.Cycles(); len(cycles) > 0 {
		return nil, cycles[0]
	}
	order := make([]string, 0, len(g.nodes))
	done := make(map[string]bool, len(g.nodes))
	var place func(n string)
	place = func(n string) {
		if done[n] {
			return
		}
		done[n] = true
		for _, d := range g.deps[n] {
			if _, ok := g.deps[d]; ok {
				place(d)
			}
		}
		order = append(order, n)
	}
	for _, n := range g.nodes {
		place(n)
	}
	return order, nil
}

// tarjan finds strongly connected components.
type tarjan struct {
	g          *Graph
	counter    int
	index      map[string]int
	low        map[string]int
	stack      []string
	onStack    map[string]bool
	components [][]string
}

func (t *tarjan) visit(n string) {
	t.index[n] = t.counter
	t.low[n] = t.counter
	t.counter++
	t.stack = append(t.stack, n)
	t.onStack[n] = true

	for _, d := range t.g.deps[n] {
		if _, ok := t.g.deps[d]; !ok {
			continue
		}
		if _, seen := t.index[d]; !seen {
			t.visit(d)
			t.low[n] = min(t.low[n], t.low[d])
		} else if t.onStack[d] {
			t.low[n] = min(t.low[n], t.index[d])
		}
	}

	if t.low[n] != t.index[n] {
		return
	}
	var scc []string
	for {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[top] = false
		scc = append(scc, top)
		if top == n {
			break
		}
	}
	t.components = append(t.components, scc)
}
