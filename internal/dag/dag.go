// Package dag provides the directed acyclic graph behind the stage
// scheduler: cycle detection, topological ordering, execution levels and
// downstream closures.
package dag

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// CycleError reports a dependency cycle.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Path, " -> ")
}

// Graph is a directed graph of named nodes carrying data of type T.
// An edge parent -> child means child depends on parent.
type Graph[T any] struct {
	nodes    map[string]T
	children map[string][]string
	parents  map[string][]string
}

// NewGraph creates a new empty graph.
func NewGraph[T any]() *Graph[T] {
	return &Graph[T]{
		nodes:    make(map[string]T),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// AddNode adds a node. Node IDs are unique.
func (g *Graph[T]) AddNode(id string, data T) error {
	if id == "" {
		return fmt.Errorf("node id must not be empty")
	}
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("duplicate node %q", id)
	}
	g.nodes[id] = data
	g.children[id] = []string{}
	g.parents[id] = []string{}
	return nil
}

// AddEdge adds a directed edge from parent to child (child depends on parent).
func (g *Graph[T]) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}
	if parentID == childID {
		return fmt.Errorf("self-loop detected: %s", parentID)
	}

	if !slices.Contains(g.children[parentID], childID) {
		g.children[parentID] = append(g.children[parentID], childID)
	}
	if !slices.Contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// Node returns the data of a node.
func (g *Graph[T]) Node(id string) (T, bool) {
	data, exists := g.nodes[id]
	return data, exists
}

// Parents returns the direct dependencies of a node.
func (g *Graph[T]) Parents(id string) []string {
	return g.parents[id]
}

// Children returns the direct dependents of a node.
func (g *Graph[T]) Children(id string) []string {
	return g.children[id]
}

// IDs returns all node IDs in sorted order.
func (g *Graph[T]) IDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of nodes.
func (g *Graph[T]) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph[T]) EdgeCount() int {
	count := 0
	for _, children := range g.children {
		count += len(children)
	}
	return count
}

// HasCycle returns true if the graph contains a cycle, along with the cycle path.
func (g *Graph[T]) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	via := make(map[string]string)

	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true

		for _, childID := range g.children[id] {
			if !visited[childID] {
				via[childID] = id
				if dfs(childID) {
					return true
				}
			} else if onStack[childID] {
				cyclePath = []string{childID}
				for curr := id; curr != childID; curr = via[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{childID}, cyclePath...)
				return true
			}
		}

		onStack[id] = false
		return false
	}

	for _, id := range g.IDs() {
		if !visited[id] && dfs(id) {
			return true, cyclePath
		}
	}
	return false, nil
}

// Validate returns a *CycleError if the graph is not acyclic.
func (g *Graph[T]) Validate() error {
	if hasCycle, path := g.HasCycle(); hasCycle {
		return &CycleError{Path: path}
	}
	return nil
}

// TopologicalSort returns node IDs with dependencies before dependents.
// Ties are broken by ID for deterministic output.
func (g *Graph[T]) TopologicalSort() ([]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	visited := make(map[string]bool)
	result := make([]string, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true

		parents := slices.Clone(g.parents[id])
		sort.Strings(parents)
		for _, parentID := range parents {
			visit(parentID)
		}
		result = append(result, id)
	}

	for _, id := range g.IDs() {
		visit(id)
	}
	return result, nil
}

// GetExecutionLevels returns node IDs grouped by depth.
// Nodes at level N only depend on nodes at levels below N, so each level
// can run in parallel once the previous one has finished.
func (g *Graph[T]) GetExecutionLevels() ([][]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	assigned := make(map[string]int)

	var levelOf func(id string) int
	levelOf = func(id string) int {
		if level, ok := assigned[id]; ok {
			return level
		}
		level := 0
		for _, parentID := range g.parents[id] {
			if l := levelOf(parentID) + 1; l > level {
				level = l
			}
		}
		assigned[id] = level
		return level
	}

	maxLevel := -1
	for id := range g.nodes {
		if level := levelOf(id); level > maxLevel {
			maxLevel = level
		}
	}

	levels := make([][]string, maxLevel+1)
	for id, level := range assigned {
		levels[level] = append(levels[level], id)
	}
	for i := range levels {
		sort.Strings(levels[i])
	}
	return levels, nil
}

// Downstream returns the given nodes and every node that transitively
// depends on them. Unknown IDs are ignored.
func (g *Graph[T]) Downstream(ids ...string) []string {
	reached := make(map[string]bool)

	var mark func(id string)
	mark = func(id string) {
		if reached[id] {
			return
		}
		reached[id] = true
		for _, childID := range g.children[id] {
			mark(childID)
		}
	}

	for _, id := range ids {
		if _, exists := g.nodes[id]; exists {
			mark(id)
		}
	}
	return sortedKeys(reached)
}

// Upstream returns every node the given node transitively depends on,
// excluding the node itself.
func (g *Graph[T]) Upstream(id string) []string {
	reached := make(map[string]bool)

	var mark func(nodeID string)
	mark = func(nodeID string) {
		for _, parentID := range g.parents[nodeID] {
			if !reached[parentID] {
				reached[parentID] = true
				mark(parentID)
			}
		}
	}

	mark(id)
	return sortedKeys(reached)
}

// GetRoots returns nodes with no dependencies.
func (g *Graph[T]) GetRoots() []string {
	var roots []string
	for _, id := range g.IDs() {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Subgraph returns a new graph containing only the given nodes and the
// edges between them.
func (g *Graph[T]) Subgraph(ids []string) *Graph[T] {
	sub := NewGraph[T]()
	keep := make(map[string]bool, len(ids))

	for _, id := range ids {
		if data, exists := g.nodes[id]; exists && !keep[id] {
			keep[id] = true
			_ = sub.AddNode(id, data)
		}
	}

	for id := range keep {
		for _, childID := range g.children[id] {
			if keep[childID] {
				_ = sub.AddEdge(id, childID)
			}
		}
	}
	return sub
}

func sortedKeys(set map[string]bool) []string {
	result := make([]string, 0, len(set))
	for id := range set {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}
