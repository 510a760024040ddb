// Package dag provides a dependency graph with cycle detection, ordering
// and transitive dependent lookups.
package dag

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// ErrCycle is returned when an ordering is requested on a cyclic graph.
var ErrCycle = errors.New("cycle detected")

// Graph is a directed graph of dependencies. An edge from source to
// dependent means dependent is built from source.
type Graph[K cmp.Ordered] struct {
	dependents map[K][]K // source -> dependents
	sources    map[K][]K // dependent -> sources
}

// NewGraph creates a new empty graph.
func NewGraph[K cmp.Ordered]() *Graph[K] {
	return &Graph[K]{
		dependents: make(map[K][]K),
		sources:    make(map[K][]K),
	}
}

// AddNode adds id if it is not present yet.
func (g *Graph[K]) AddNode(id K) {
	if _, ok := g.sources[id]; !ok {
		g.sources[id] = nil
		g.dependents[id] = nil
	}
}

// Has reports whether id is a node.
func (g *Graph[K]) Has(id K) bool {
	_, ok := g.sources[id]
	return ok
}

// AddEdge records that dependent depends on source. Both nodes are added
// when missing. A self-loop is a one-node cycle and is rejected.
func (g *Graph[K]) AddEdge(source, dependent K) error {
	if source == dependent {
		return fmt.Errorf("%w: %v depends on itself", ErrCycle, source)
	}
	g.AddNode(source)
	g.AddNode(dependent)
	if !slices.Contains(g.dependents[source], dependent) {
		g.dependents[source] = append(g.dependents[source], dependent)
	}
	if !slices.Contains(g.sources[dependent], source) {
		g.sources[dependent] = append(g.sources[dependent], source)
	}
	return nil
}

// SetSources replaces the sources of id.
func (g *Graph[K]) SetSources(id K, sources []K) error {
	g.AddNode(id)
	for _, s := range g.sources[id] {
		g.dependents[s] = slices.DeleteFunc(g.dependents[s], func(d K) bool { return d == id })
	}
	g.sources[id] = nil
	for _, s := range sources {
		if err := g.AddEdge(s, id); err != nil {
			return err
		}
	}
	return nil
}

// Sources returns the direct sources of id.
func (g *Graph[K]) Sources(id K) []K {
	return sorted(g.sources[id])
}

// Dependents returns the direct dependents of id.
func (g *Graph[K]) Dependents(id K) []K {
	return sorted(g.dependents[id])
}

// Nodes returns every node in ascending order.
func (g *Graph[K]) Nodes() []K {
	ids := make([]K, 0, len(g.sources))
	for id := range g.sources {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph[K]) NodeCount() int {
	return len(g.sources)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph[K]) EdgeCount() int {
	count := 0
	for _, deps := range g.dependents {
		count += len(deps)
	}
	return count
}

// FindCycle returns a cycle as a path whose first and last elements are
// the same node, or nil when the graph is acyclic.
func (g *Graph[K]) FindCycle() []K {
	visited := make(map[K]bool)
	onStack := make(map[K]bool)
	parent := make(map[K]K)

	var cycle []K
	var dfs func(id K) bool
	dfs = func(id K) bool {
		visited[id] = true
		onStack[id] = true
		for _, next := range g.Dependents(id) {
			if !visited[next] {
				parent[next] = id
				if dfs(next) {
					return true
				}
			} else if onStack[next] {
				cycle = []K{next}
				for cur := id; cur != next; cur = parent[cur] {
					cycle = append([]K{cur}, cycle...)
				}
				cycle = append([]K{next}, cycle...)
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for _, id := range g.Nodes() {
		if !visited[id] && dfs(id) {
			return cycle
		}
	}
	return nil
}

// TopologicalSort returns the nodes with every source before its
// dependents. Ties break by ascending id.
func (g *Graph[K]) TopologicalSort() ([]K, error) {
	if cycle := g.FindCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycle, cycle)
	}

	visited := make(map[K]bool)
	result := make([]K, 0, len(g.sources))
	var visit func(id K)
	visit = func(id K) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, s := range g.Sources(id) {
			visit(s)
		}
		result = append(result, id)
	}
	for _, id := range g.Nodes() {
		visit(id)
	}
	return result, nil
}

// Downstream returns every node built directly or transitively from id,
// excluding id itself.
func (g *Graph[K]) Downstream(id K) []K {
	return g.walk(id, g.dependents)
}

// Upstream returns every node id is built from, directly or transitively.
func (g *Graph[K]) Upstream(id K) []K {
	return g.walk(id, g.sources)
}

func (g *Graph[K]) walk(id K, next map[K][]K) []K {
	seen := make(map[K]bool)
	var mark func(K)
	mark = func(n K) {
		for _, m := range next[n] {
			if !seen[m] {
				seen[m] = true
				mark(m)
			}
		}
	}
	mark(id)
	delete(seen, id)

	out := make([]K, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func sorted[K cmp.Ordered](in []K) []K {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}
