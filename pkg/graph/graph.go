// Package graph provides a small directed-graph executor for turn
// pipelines: named nodes over a shared state, static edges, and
// conditional edges with a closed label set. Nodes return typed updates
// that a reducer folds into the state; they never mutate state directly.
package graph

import (
	"context"
	"fmt"
	"log/slog"
)

// End is the terminal target. Routing to End stops execution.
const End = "__end__"

// DefaultMaxSteps bounds a single run. The bound exists to turn a wiring
// mistake (a cycle that never routes to End) into an error instead of a
// hung request.
const DefaultMaxSteps = 50

// NodeFunc computes an update from the current state. Returning an error
// aborts the run; nodes that should degrade gracefully handle their own
// failures and return a neutral update instead.
type NodeFunc[S, U any] func(ctx context.Context, state S) (U, error)

// RouteFunc picks a label after a node has run. The label must be one of
// the keys declared for that node's conditional edges.
type RouteFunc[S any] func(state S) string

// Reducer folds a node's update into the state.
type Reducer[S, U any] func(state S, update U) S

type conditional[S any] struct {
	route   RouteFunc[S]
	targets map[string]string
}

// Builder assembles a graph. Call Compile to validate the wiring.
type Builder[S, U any] struct {
	reducer      Reducer[S, U]
	nodes        map[string]NodeFunc[S, U]
	edges        map[string]string
	conditionals map[string]conditional[S]
	entry        string
	maxSteps     int
	errs         []error
}

// NewBuilder creates a builder with the given reducer.
func NewBuilder[S, U any](reducer Reducer[S, U]) *Builder[S, U] {
	return &Builder[S, U]{
		reducer:      reducer,
		nodes:        map[string]NodeFunc[S, U]{},
		edges:        map[string]string{},
		conditionals: map[string]conditional[S]{},
		maxSteps:     DefaultMaxSteps,
	}
}

func (b *Builder[S, U]) AddNode(name string, fn NodeFunc[S, U]) *Builder[S, U] {
	if name == "" || name == End {
		b.errs = append(b.errs, fmt.Errorf("invalid node name %q", name))
		return b
	}
	if _, exists := b.nodes[name]; exists {
		b.errs = append(b.errs, fmt.Errorf("node %s already added", name))
		return b
	}
	b.nodes[name] = fn
	return b
}

// AddEdge wires a static successor for a node.
func (b *Builder[S, U]) AddEdge(from, to string) *Builder[S, U] {
	if _, exists := b.edges[from]; exists {
		b.errs = append(b.errs, fmt.Errorf("node %s already has an edge", from))
		return b
	}
	b.edges[from] = to
	return b
}

// AddConditionalEdges wires a router for a node. The targets map is the
// closed set of labels the router may return.
func (b *Builder[S, U]) AddConditionalEdges(from string, route RouteFunc[S], targets map[string]string) *Builder[S, U] {
	if _, exists := b.conditionals[from]; exists {
		b.errs = append(b.errs, fmt.Errorf("node %s already has conditional edges", from))
		return b
	}
	if len(targets) == 0 {
		b.errs = append(b.errs, fmt.Errorf("node %s conditional edges need at least one target", from))
		return b
	}
	b.conditionals[from] = conditional[S]{route: route, targets: targets}
	return b
}

func (b *Builder[S, U]) SetEntry(name string) *Builder[S, U] {
	b.entry = name
	return b
}

func (b *Builder[S, U]) SetMaxSteps(n int) *Builder[S, U] {
	b.maxSteps = n
	return b
}

// Compile validates the wiring and returns an executable graph: the entry
// exists, every node has exactly one outgoing route, and every edge and
// conditional target names a known node or End.
func (b *Builder[S, U]) Compile() (*Graph[S, U], error) {
	errs := b.errs
	if b.entry == "" {
		errs = append(errs, fmt.Errorf("entry node not set"))
	} else if _, ok := b.nodes[b.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry node %s not found", b.entry))
	}

	for from, to := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("edge from unknown node %s", from))
		}
		if _, ok := b.conditionals[from]; ok {
			errs = append(errs, fmt.Errorf("node %s has both an edge and conditional edges", from))
		}
		if to != End {
			if _, ok := b.nodes[to]; !ok {
				errs = append(errs, fmt.Errorf("edge %s -> %s targets unknown node", from, to))
			}
		}
	}

	for from, cond := range b.conditionals {
		if _, ok := b.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("conditional edges from unknown node %s", from))
		}
		for label, to := range cond.targets {
			if to == End {
				continue
			}
			if _, ok := b.nodes[to]; !ok {
				errs = append(errs, fmt.Errorf("conditional %s[%s] -> %s targets unknown node", from, label, to))
			}
		}
	}

	for name := range b.nodes {
		_, hasEdge := b.edges[name]
		_, hasCond := b.conditionals[name]
		if !hasEdge && !hasCond {
			errs = append(errs, fmt.Errorf("node %s has no outgoing route", name))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid graph: %w", joinErrors(errs))
	}

	return &Graph[S, U]{
		reducer:      b.reducer,
		nodes:        b.nodes,
		edges:        b.edges,
		conditionals: b.conditionals,
		entry:        b.entry,
		maxSteps:     b.maxSteps,
	}, nil
}

func joinErrors(errs []error) error {
	err := errs[0]
	for _, e := range errs[1:] {
		err = fmt.Errorf("%w; %w", err, e)
	}
	return err
}

// Graph is a compiled, immutable pipeline. Safe for concurrent Run calls.
type Graph[S, U any] struct {
	reducer      Reducer[S, U]
	nodes        map[string]NodeFunc[S, U]
	edges        map[string]string
	conditionals map[string]conditional[S]
	entry        string
	maxSteps     int
}

// Run executes the graph from the entry node and returns the final state.
func (g *Graph[S, U]) Run(ctx context.Context, state S) (S, error) {
	current := g.entry
	for step := 0; ; step++ {
		if step >= g.maxSteps {
			return state, fmt.Errorf("graph exceeded %d steps at node %s", g.maxSteps, current)
		}
		if err := ctx.Err(); err != nil {
			return state, err
		}

		slog.Debug("running graph node", "node", current, "step", step)
		update, err := g.nodes[current](ctx, state)
		if err != nil {
			return state, fmt.Errorf("node %s: %w", current, err)
		}
		state = g.reducer(state, update)

		next, err := g.next(current, state)
		if err != nil {
			return state, err
		}
		if next == End {
			return state, nil
		}
		current = next
	}
}

func (g *Graph[S, U]) next(current string, state S) (string, error) {
	if cond, ok := g.conditionals[current]; ok {
		label := cond.route(state)
		target, ok := cond.targets[label]
		if !ok {
			return "", fmt.Errorf("node %s routed to undeclared label %q", current, label)
		}
		return target, nil
	}
	return g.edges[current], nil
}
