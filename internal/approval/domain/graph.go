package domain

import (
	"github.com/smallbiznis/needflow/internal/authorization"
)

// Edge is one legal move in a Graph and the minimum role that may make it.
type Edge[S ~string, A ~string] struct {
	From     S
	Action   A
	To       S
	Requires authorization.Role
}

type edgeKey[S ~string, A ~string] struct {
	from   S
	action A
}

// Graph is an immutable transition table keyed by (from, action).
type Graph[S ~string, A ~string] struct {
	name    string
	edges   []Edge[S, A]
	index   map[edgeKey[S, A]]Edge[S, A]
	aliases map[S]S
	known   map[S]struct{}
}

// NewGraph builds a graph. Later edges with a duplicate (from, action) pair
// are ignored.
func NewGraph[S ~string, A ~string](name string, edges ...Edge[S, A]) *Graph[S, A] {
	g := &Graph[S, A]{
		name:    name,
		index:   make(map[edgeKey[S, A]]Edge[S, A], len(edges)),
		aliases: map[S]S{},
		known:   map[S]struct{}{},
	}
	for _, edge := range edges {
		key := edgeKey[S, A]{from: edge.From, action: edge.Action}
		if _, exists := g.index[key]; exists {
			continue
		}
		g.index[key] = edge
		g.edges = append(g.edges, edge)
		g.known[edge.From] = struct{}{}
		g.known[edge.To] = struct{}{}
	}
	return g
}

// WithAlias makes alias behave exactly like canonical.
func (g *Graph[S, A]) WithAlias(alias, canonical S) *Graph[S, A] {
	g.aliases[alias] = canonical
	g.known[alias] = struct{}{}
	return g
}

func (g *Graph[S, A]) Name() string {
	return g.name
}

func (g *Graph[S, A]) Normalize(status S) S {
	if canonical, ok := g.aliases[status]; ok {
		return canonical
	}
	return status
}

// Knows reports whether status appears in the graph, directly or as an alias.
func (g *Graph[S, A]) Knows(status S) bool {
	_, ok := g.known[status]
	return ok
}

func (g *Graph[S, A]) Lookup(from S, action A) (Edge[S, A], bool) {
	edge, ok := g.index[edgeKey[S, A]{from: g.Normalize(from), action: action}]
	return edge, ok
}

// Replay finds an edge for action that already lands on current. A hit means
// the action was applied before and repeating it changes nothing.
func (g *Graph[S, A]) Replay(current S, action A) (Edge[S, A], bool) {
	current = g.Normalize(current)
	for _, edge := range g.edges {
		if edge.Action == action && edge.To == current {
			return edge, true
		}
	}
	return Edge[S, A]{}, false
}

// IsTerminal is true for known statuses with no outgoing edge.
func (g *Graph[S, A]) IsTerminal(status S) bool {
	status = g.Normalize(status)
	if !g.Knows(status) {
		return false
	}
	for _, edge := range g.edges {
		if edge.From == status {
			return false
		}
	}
	return true
}

func (g *Graph[S, A]) Edges() []Edge[S, A] {
	out := make([]Edge[S, A], len(g.edges))
	copy(out, g.edges)
	return out
}
