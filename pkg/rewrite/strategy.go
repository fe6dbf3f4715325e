package rewrite

import (
	"sort"

	"github.com/rewritedb/rewritedb/pkg/graph"
	"github.com/rewritedb/rewritedb/pkg/rule"
)

// Order is a match-selection heuristic, not a semantic guarantee: different
// orders can yield different final graphs for non-confluent rule sets.
type Order uint8

const (
	// TopDown selects the first match under the canonical match key.
	TopDown Order = iota
	// BottomUp selects the last match under the canonical match key.
	BottomUp
	// Fair rotates through the match list across applications.
	Fair
)

// Measure is a user-supplied termination check evaluated after each Exhaust
// application. Returning false stops the run with ErrNonTerminating. It is a
// best-effort safety valve, not a termination proof.
type Measure func(before, after *graph.Snapshot) (bool, error)

// Predicate gates While iterations; it sees the current committed snapshot
// before each attempt.
type Predicate func(snap *graph.Snapshot) (bool, error)

// Strategy is a node in the rewrite control tree.
type Strategy interface {
	strategyOp()
}

// Once applies the rule at most once. Absence of a match is a no-op, not an
// error; the applied/not-applied outcome propagates to parent combinators.
type Once struct {
	Rule  *rule.Rule
	Order Order
}

// Exhaust applies the rule until no match remains.
type Exhaust struct {
	Rule    *rule.Rule
	Order   Order
	Measure Measure
}

// While applies the rule as long as Pred holds on the current snapshot,
// checked before each attempt.
type While struct {
	Rule  *rule.Rule
	Order Order
	Pred  Predicate
}

// Seq runs children in order; any child failure aborts the remaining
// children. Successes compound snapshot over snapshot.
type Seq struct {
	Strategies []Strategy
}

// Choice returns the first child that applies at least one rewrite; it fails
// when all children fail.
type Choice struct {
	Strategies []Strategy
}

// PriorityEntry pairs a strategy with its priority.
type PriorityEntry struct {
	Strategy Strategy
	Priority int
}

// Priority is Choice ordered by descending priority, ties broken by list
// order.
type Priority struct {
	Entries []PriorityEntry
}

func (Once) strategyOp()     {}
func (Exhaust) strategyOp()  {}
func (While) strategyOp()    {}
func (Seq) strategyOp()      {}
func (Choice) strategyOp()   {}
func (Priority) strategyOp() {}

// byPriority returns the entries' strategies in descending priority order,
// preserving list order for equal priorities.
func byPriority(entries []PriorityEntry) []Strategy {
	sorted := append([]PriorityEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	out := make([]Strategy, len(sorted))
	for i, e := range sorted {
		out[i] = e.Strategy
	}
	return out
}
