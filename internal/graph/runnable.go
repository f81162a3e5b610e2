// ABOUTME: Execution of a compiled graph: Invoke runs to End, Stream reports each step
// ABOUTME: Applies node updates to the accumulated state and follows edges

package graph

import (
	"context"
	"fmt"
	"slices"
)

// StepEvent describes one finished node.
type StepEvent[S any] struct {
	// Step is 1-based.
	Step int
	Node string
	// Messages holds the log entries this node appended, when S is a MessageLogger.
	Messages []string
	// State is the accumulated state after the node's update was applied.
	State S
	// Next is the node that will run next, or End.
	Next string
}

// MessageLogger is implemented by states that keep an append-only message log.
type MessageLogger interface {
	MessageLog() []string
}

func messageLog[S any](state S) []string {
	if l, ok := any(state).(MessageLogger); ok {
		return l.MessageLog()
	}
	return nil
}

// Runnable is a compiled graph. It is safe for concurrent use; each call
// carries its own state.
type Runnable[S any] struct {
	nodes     map[string]NodeFunc[S]
	edges     map[string]edge[S]
	entry     string
	order     []string
	stepLimit int
}

// Nodes returns node names in registration order.
func (r *Runnable[S]) Nodes() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Invoke runs the graph from the entry point to End and returns the final state.
func (r *Runnable[S]) Invoke(ctx context.Context, state S) (S, error) {
	return r.Stream(ctx, state, nil)
}

// Stream runs the graph like Invoke, calling onStep after every node. On
// error the state accumulated so far is returned alongside it.
func (r *Runnable[S]) Stream(ctx context.Context, state S, onStep func(StepEvent[S])) (S, error) {
	current := r.entry
	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("before node %s: %w", current, err)
		}
		if step > r.stepLimit {
			return state, fmt.Errorf("%w: %d steps, next node %s", ErrStepLimit, r.stepLimit, current)
		}

		update, err := r.nodes[current](withNode(ctx, current), state)
		if err != nil {
			return state, fmt.Errorf("node %s: %w", current, err)
		}
		logged := len(messageLog(state))
		if update != nil {
			update(&state)
		}

		next, err := r.next(current, state)
		if err != nil {
			return state, err
		}

		if onStep != nil {
			var msgs []string
			if log := messageLog(state); len(log) > logged {
				msgs = slices.Clone(log[logged:])
			}
			onStep(StepEvent[S]{Step: step, Node: current, Messages: msgs, State: state, Next: next})
		}

		if next == End {
			return state, nil
		}
		current = next
	}
}

func (r *Runnable[S]) next(from string, state S) (string, error) {
	e := r.edges[from]
	if e.router == nil {
		return e.to, nil
	}
	key := e.router(state)
	to, ok := e.routes[key]
	if !ok {
		return "", fmt.Errorf("%w: node %s routed to %q", ErrRouteMissing, from, key)
	}
	return to, nil
}
