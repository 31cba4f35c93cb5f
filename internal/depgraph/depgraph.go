// Package depgraph orders assembly loads by their declared dependencies.
// Assemblies form a directed acyclic graph; a load plan is a topological
// order of that graph, so every assembly is linked after the assemblies it
// depends on.
package depgraph

import (
	"fmt"
	"sort"
)

// Graph accumulates assemblies and their dependency edges and produces a
// load order. The zero value is not usable; call New.
type Graph struct {
	// deps maps an assembly name to the set of assemblies it depends on.
	deps map[string]map[string]bool
}

// New creates an empty dependency graph.
func New() *Graph {
	return &Graph{deps: make(map[string]map[string]bool)}
}

// Add registers an assembly and the names it depends on. Dependencies on
// assemblies never added to the graph are kept; Order reports them as
// unresolved. Adding the same name twice merges the dependency sets.
func (g *Graph) Add(name string, dependencies []string) {
	set := g.deps[name]
	if set == nil {
		set = make(map[string]bool)
		g.deps[name] = set
	}
	for _, dep := range dependencies {
		set[dep] = true
	}
}

// Order returns the assembly names in a valid load order: dependencies
// first, ties broken alphabetically so the plan is deterministic. It fails
// if an assembly depends on a name that was never added, or if the
// dependencies form a cycle.
func (g *Graph) Order() ([]string, error) {
	pending := make(map[string]int, len(g.deps))
	for name, set := range g.deps {
		for dep := range set {
			if _, ok := g.deps[dep]; !ok {
				return nil, fmt.Errorf("assembly %q depends on unknown assembly %q", name, dep)
			}
		}
		pending[name] = len(set)
	}

	dependents := make(map[string][]string, len(g.deps))
	for name, set := range g.deps {
		for dep := range set {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, n := range pending {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.deps))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		var released []string
		for _, dependent := range dependents[name] {
			pending[dependent]--
			if pending[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		sort.Strings(released)
		ready = mergeSorted(ready, released)
	}

	if len(order) != len(g.deps) {
		var stuck []string
		for name, n := range pending {
			if n > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("dependency cycle involving assemblies %v", stuck)
	}
	return order, nil
}

// mergeSorted merges two sorted string slices into one sorted slice.
func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
