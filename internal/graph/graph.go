// ABOUTME: Generic state machine that sequences node functions over shared state
// ABOUTME: Supports fixed and conditional edges, compile-time validation, and step limits

package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// End is the terminal pseudo-node. Routing to End finishes a run.
const End = "__end__"

// DefaultStepLimit bounds the number of node executions in one run.
const DefaultStepLimit = 25

var (
	ErrNoEntryPoint    = errors.New("graph has no entry point")
	ErrUnknownNode     = errors.New("unknown node")
	ErrDuplicateNode   = errors.New("duplicate node")
	ErrReservedName    = errors.New("reserved node name")
	ErrDanglingNode    = errors.New("node has no outgoing edge")
	ErrConflictingEdge = errors.New("node already has an outgoing edge")
	ErrEmptyRoutes     = errors.New("conditional edge has no routes")
	ErrRouteMissing    = errors.New("router returned an unmapped route")
	ErrStepLimit       = errors.New("step limit exceeded")
)

// Update mutates the accumulated state. A nil Update leaves it unchanged.
type Update[S any] func(*S)

// NodeFunc does one unit of work. It reads the current state and returns
// the changes to apply.
type NodeFunc[S any] func(ctx context.Context, state S) (Update[S], error)

// Router picks a route key from the state after a node finishes.
type Router[S any] func(state S) string

type edge[S any] struct {
	to     string
	router Router[S]
	routes map[string]string
}

// StateGraph is a builder. Call Compile to get something runnable.
type StateGraph[S any] struct {
	nodes map[string]NodeFunc[S]
	order []string
	edges map[string]edge[S]
	entry string
	errs  []error
}

// New creates an empty graph.
func New[S any]() *StateGraph[S] {
	return &StateGraph[S]{
		nodes: make(map[string]NodeFunc[S]),
		edges: make(map[string]edge[S]),
	}
}

// AddNode registers a node. Errors are collected and reported by Compile.
func (g *StateGraph[S]) AddNode(name string, fn NodeFunc[S]) *StateGraph[S] {
	switch {
	case name == "" || name == End:
		g.errs = append(g.errs, fmt.Errorf("%w: %q", ErrReservedName, name))
	case g.nodes[name] != nil:
		g.errs = append(g.errs, fmt.Errorf("%w: %s", ErrDuplicateNode, name))
	case fn == nil:
		g.errs = append(g.errs, fmt.Errorf("node %s: nil function", name))
	default:
		g.nodes[name] = fn
		g.order = append(g.order, name)
	}
	return g
}

// AddEdge routes from one node to another unconditionally.
func (g *StateGraph[S]) AddEdge(from, to string) *StateGraph[S] {
	if _, ok := g.edges[from]; ok {
		g.errs = append(g.errs, fmt.Errorf("%w: %s", ErrConflictingEdge, from))
		return g
	}
	g.edges[from] = edge[S]{to: to}
	return g
}

// AddConditionalEdges routes from a node through router. The router's
// return value is looked up in routes to find the next node.
func (g *StateGraph[S]) AddConditionalEdges(from string, router Router[S], routes map[string]string) *StateGraph[S] {
	if _, ok := g.edges[from]; ok {
		g.errs = append(g.errs, fmt.Errorf("%w: %s", ErrConflictingEdge, from))
		return g
	}
	copied := make(map[string]string, len(routes))
	for k, v := range routes {
		copied[k] = v
	}
	g.edges[from] = edge[S]{router: router, routes: copied}
	return g
}

// SetEntryPoint names the first node to run.
func (g *StateGraph[S]) SetEntryPoint(name string) *StateGraph[S] {
	g.entry = name
	return g
}

// Compile validates the graph and freezes it.
func (g *StateGraph[S]) Compile(opts ...Option) (*Runnable[S], error) {
	if len(g.errs) > 0 {
		return nil, errors.Join(g.errs...)
	}
	if g.entry == "" {
		return nil, ErrNoEntryPoint
	}
	if g.nodes[g.entry] == nil {
		return nil, fmt.Errorf("entry point %s: %w", g.entry, ErrUnknownNode)
	}

	known := func(name string) bool { return name == End || g.nodes[name] != nil }

	for from, e := range g.edges {
		if g.nodes[from] == nil {
			return nil, fmt.Errorf("edge from %s: %w", from, ErrUnknownNode)
		}
		if e.router == nil {
			if !known(e.to) {
				return nil, fmt.Errorf("edge %s -> %s: %w", from, e.to, ErrUnknownNode)
			}
			continue
		}
		if len(e.routes) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyRoutes, from)
		}
		for key, to := range e.routes {
			if !known(to) {
				return nil, fmt.Errorf("route %s[%s] -> %s: %w", from, key, to, ErrUnknownNode)
			}
		}
	}

	var dangling []string
	for _, name := range g.order {
		if _, ok := g.edges[name]; !ok {
			dangling = append(dangling, name)
		}
	}
	if len(dangling) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDanglingNode, strings.Join(dangling, ", "))
	}

	o := options{stepLimit: DefaultStepLimit}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Runnable[S]{
		nodes:     make(map[string]NodeFunc[S], len(g.nodes)),
		edges:     make(map[string]edge[S], len(g.edges)),
		entry:     g.entry,
		order:     slices.Clone(g.order),
		stepLimit: o.stepLimit,
	}
	for k, v := range g.nodes {
		r.nodes[k] = v
	}
	for k, v := range g.edges {
		r.edges[k] = v
	}
	return r, nil
}

type options struct {
	stepLimit int
}

// Option configures a compiled graph.
type Option func(*options)

// WithStepLimit overrides DefaultStepLimit. Non-positive values are ignored.
func WithStepLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.stepLimit = n
		}
	}
}
