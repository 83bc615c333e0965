package watch

import (
	"sort"
	"sync"
)

// Graph maps a source file to the files that depend on it. It only grows.
// Cycles are allowed; callers walking it must not assume a DAG.
type Graph struct {
	mu    sync.RWMutex
	edges map[string]map[string]struct{}
}

// NewGraph returns an empty graph
func NewGraph() *Graph {
	return &Graph{edges: make(map[string]map[string]struct{})}
}

// AddDependency records that dependent depends on source. Adding an
// existing edge is a no-op and self-loops are dropped. It reports whether
// the edge was new.
func (g *Graph) AddDependency(source, dependent string) bool {
	if source == dependent || source == "" || dependent == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	deps, ok := g.edges[source]
	if !ok {
		deps = make(map[string]struct{})
		g.edges[source] = deps
	}
	if _, exists := deps[dependent]; exists {
		return false
	}
	deps[dependent] = struct{}{}
	return true
}

// DependentsOf returns the direct dependents of source, sorted. Unknown
// sources yield an empty slice.
func (g *Graph) DependentsOf(source string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	deps := g.edges[source]
	out := make([]string, 0, len(deps))
	for d := range deps {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of edges
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, deps := range g.edges {
		n += len(deps)
	}
	return n
}
