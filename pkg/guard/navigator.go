package guard

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is returned for a decision whose attempt was overtaken by a
// newer one. The decision must not be applied. Any session write it caused
// has already happened.
var ErrSuperseded = errors.New("guard: navigation superseded")

// ErrAbandoned is returned for an attempt whose context ended before the guard
// could decide. The decision is empty and must not be applied.
var ErrAbandoned = errors.New("guard: navigation abandoned")

// Attempt identifies one dispatched navigation.
type Attempt struct {
	Seq    uint64
	Target string
}

// Navigator serializes the effects of navigation attempts for one tab.
// Attempts are numbered in dispatch order; only the decision for the most
// recently dispatched attempt may change the current location.
type Navigator struct {
	guard Evaluator

	mu      sync.Mutex
	seq     uint64
	current string
}

// NewNavigator creates a Navigator starting at location "/".
func NewNavigator(g Evaluator) *Navigator {
	return &Navigator{guard: g, current: "/"}
}

// Dispatch numbers a new attempt. Every attempt dispatched earlier is
// superseded from now on.
func (n *Navigator) Dispatch(target string) Attempt {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	return Attempt{Seq: n.seq, Target: target}
}

// Resolve evaluates a dispatched attempt. It returns ErrSuperseded if a newer
// attempt was dispatched before the decision was reached, and ErrAbandoned if
// ctx ended first.
func (n *Navigator) Resolve(ctx context.Context, a Attempt) (Decision, error) {
	d := n.guard.Evaluate(ctx, a.Target)
	if d.Abandoned {
		return d, ErrAbandoned
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if a.Seq != n.seq {
		return d, ErrSuperseded
	}
	n.current = d.Location
	return d, nil
}

// Navigate dispatches and resolves target in one call.
func (n *Navigator) Navigate(ctx context.Context, target string) (Decision, error) {
	return n.Resolve(ctx, n.Dispatch(target))
}

// Current returns the location of the last applied decision.
func (n *Navigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Seq returns the number of the latest dispatched attempt.
func (n *Navigator) Seq() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq
}
