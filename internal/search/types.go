// Package search implements the parallel greedy best-first search engine
// (spec section 4.7): a concurrent worker pool that explores the overlay
// toward a destination coordinate, driven entirely by caller-supplied
// termination callbacks.
package search

import (
	"context"

	"github.com/frebib/kipa/internal/model"
)

// Decision is a termination callback's verdict for one event (spec
// section 4.7 inputs: "two callbacks ... {Continue, Finish(result),
// Fail(reason)}").
type Decision int

const (
	// Continue lets the search keep exploring.
	Continue Decision = iota
	// Finish ends the search successfully with Outcome.Result (which may
	// itself be nil, e.g. Search's on_explored closure condition).
	Finish
	// Fail ends the search with Outcome.Err.
	Fail
)

// Outcome is what a termination callback returns for one node event.
type Outcome struct {
	Decision Decision
	Result   *model.Node
	Err      error
}

// ContinueOutcome is the common case, spelled out for callers.
func ContinueOutcome() Outcome { return Outcome{Decision: Continue} }

// FinishOutcome ends the search successfully with result (nil allowed).
func FinishOutcome(result *model.Node) Outcome {
	return Outcome{Decision: Finish, Result: result}
}

// FailOutcome ends the search with err.
func FailOutcome(err error) Outcome {
	return Outcome{Decision: Fail, Err: err}
}

// Callback is invoked once per node event — either "this node was added to
// the found set" (on_found) or "this node was fully explored"
// (on_explored) — and decides whether the search should keep going.
type Callback func(node model.Node) Outcome

// ProbeFunc sends a single Query(target=...) probe to node via the
// outgoing pipeline in the caller-selected wire mode and returns the
// nodes it reported as close neighbours. A non-nil error with
// kerr.KindExternal is absorbed (the node is marked explored with no
// reported neighbours); any other error kind is treated as a fatal
// search failure (spec section 4.7 failure semantics, case (c)).
type ProbeFunc func(ctx context.Context, node model.Node) ([]model.Node, error)
