package rewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rewritedb/rewritedb/pkg/cid"
	"github.com/rewritedb/rewritedb/pkg/graph"
	"github.com/rewritedb/rewritedb/pkg/guard"
	"github.com/rewritedb/rewritedb/pkg/match"
	"github.com/rewritedb/rewritedb/pkg/model"
	"github.com/rewritedb/rewritedb/pkg/mvcc"
	"github.com/rewritedb/rewritedb/pkg/rule"
)

var (
	// ErrNonTerminating is raised when an Exhaust measure returns false,
	// surfaced distinctly so callers can choose how to stop.
	ErrNonTerminating = errors.New("rewrite: exhaust measure failed, run may not terminate")

	// ErrRetryLimit is raised when commit conflicts exhaust the bounded
	// retry budget of a single rule application.
	ErrRetryLimit = errors.New("rewrite: commit retry limit exceeded")
)

// DefaultMaxRetries bounds conflict retries per rule application.
const DefaultMaxRetries = 8

// Executor interprets strategies against the MVCC manager. Each rule
// application runs match -> select-by-order -> begin -> apply -> stage ->
// commit; a ConflictError restarts the application from the matcher against
// the refreshed snapshot.
type Executor struct {
	mgr    *mvcc.Manager
	guards *guard.Registry
	log    *slog.Logger

	// MaxRetries bounds conflict retries per application; zero selects
	// DefaultMaxRetries.
	MaxRetries int
	// Parallelism > 1 fans the match search out across that many workers.
	Parallelism int

	fair atomic.Uint64
}

// NewExecutor creates an executor over the manager and guard registry.
func NewExecutor(mgr *mvcc.Manager, guards *guard.Registry, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{mgr: mgr, guards: guards, log: log}
}

// Result summarizes a strategy run.
type Result struct {
	// Applied counts successful rule applications.
	Applied int
	// Ok reports whether the strategy as a whole succeeded.
	Ok bool
	// Root is the committed root after the run.
	Root cid.Cid
}

// Run interprets a strategy tree. Cancellation is checked between
// iterations; a single rule application is atomic and either commits fully
// or not at all.
func (e *Executor) Run(ctx context.Context, s Strategy) (Result, error) {
	applied, ok, err := e.run(ctx, s)
	res := Result{Applied: applied, Ok: ok, Root: e.mgr.CurrentRoot()}
	if err != nil {
		return res, err
	}
	return res, nil
}

func (e *Executor) run(ctx context.Context, s Strategy) (int, bool, error) {
	switch op := s.(type) {
	case Once:
		did, err := e.applyOnce(ctx, op.Rule, op.Order)
		if err != nil {
			return 0, false, err
		}
		if did {
			return 1, true, nil
		}
		return 0, false, nil

	case Exhaust:
		return e.runExhaust(ctx, op)

	case While:
		return e.runWhile(ctx, op)

	case Seq:
		total := 0
		for _, child := range op.Strategies {
			applied, ok, err := e.run(ctx, child)
			total += applied
			if err != nil {
				return total, false, err
			}
			if !ok {
				return total, false, nil
			}
		}
		return total, true, nil

	case Choice:
		return e.runChoice(ctx, op.Strategies)

	case Priority:
		return e.runChoice(ctx, byPriority(op.Entries))
	}
	return 0, false, rule.Configf("unknown strategy %T", s)
}

func (e *Executor) runExhaust(ctx context.Context, op Exhaust) (int, bool, error) {
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, false, err
		}
		before := e.mgr.Snapshot()
		did, err := e.applyOnce(ctx, op.Rule, op.Order)
		if err != nil {
			return count, false, err
		}
		if !did {
			return count, true, nil
		}
		count++
		if op.Measure != nil {
			after := e.mgr.Snapshot()
			ok, err := op.Measure(before, after)
			if err != nil {
				return count, false, fmt.Errorf("rewrite: measure for %s: %w", op.Rule.Name, err)
			}
			if !ok {
				return count, false, fmt.Errorf("%w: rule %s after %d applications",
					ErrNonTerminating, op.Rule.Name, count)
			}
		}
	}
}

func (e *Executor) runWhile(ctx context.Context, op While) (int, bool, error) {
	if op.Pred == nil {
		return 0, false, rule.Configf("while strategy for %s has no predicate", op.Rule.Name)
	}
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, false, err
		}
		cont, err := op.Pred(e.mgr.Snapshot())
		if err != nil {
			return count, false, fmt.Errorf("rewrite: predicate for %s: %w", op.Rule.Name, err)
		}
		if !cont {
			return count, true, nil
		}
		did, err := e.applyOnce(ctx, op.Rule, op.Order)
		if err != nil {
			return count, false, err
		}
		if !did {
			return count, true, nil
		}
		count++
	}
}

// runChoice returns the first child that applies at least one rewrite. When
// every child fails, the most specific child error is preserved.
func (e *Executor) runChoice(ctx context.Context, children []Strategy) (int, bool, error) {
	var errs []error
	for _, child := range children {
		applied, ok, err := e.run(ctx, child)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return 0, false, err
			}
			errs = append(errs, err)
			continue
		}
		if ok && applied > 0 {
			return applied, true, nil
		}
	}
	if len(errs) > 0 {
		return 0, false, mostSpecific(errs)
	}
	return 0, false, nil
}

// mostSpecific picks the error that tells the caller the most: broken
// configuration first, then gluing violations, then non-termination, then
// whatever came first.
func mostSpecific(errs []error) error {
	for _, err := range errs {
		if errors.Is(err, rule.ErrConfiguration) {
			return err
		}
	}
	for _, err := range errs {
		if errors.Is(err, ErrGluingViolation) {
			return err
		}
	}
	for _, err := range errs {
		if errors.Is(err, ErrNonTerminating) {
			return err
		}
	}
	return errs[0]
}

// applyOnce performs one full rule application cycle with bounded conflict
// retries. It reports whether a rewrite was committed.
func (e *Executor) applyOnce(ctx context.Context, r *rule.Rule, order Order) (bool, error) {
	if r == nil {
		return false, rule.Configf("strategy references a nil rule")
	}
	maxRetries := e.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		tx := e.mgr.Begin()
		snap := tx.Snapshot()

		matches, err := e.findMatches(snap, r)
		if err != nil {
			return false, err
		}
		if len(matches) == 0 {
			return false, nil
		}

		// A match violating the gluing condition is not a valid DPO
		// application; fall through to the next candidate.
		var patch *model.Patch
		for _, m := range e.candidates(matches, order) {
			p, err := Apply(snap, r, m)
			if errors.Is(err, ErrGluingViolation) {
				e.log.Debug("skipping non-applicable match", "rule", r.Name, "reason", err)
				continue
			}
			if err != nil {
				return false, err
			}
			patch = p
			break
		}
		if patch == nil {
			return false, nil
		}

		if err := e.mgr.Stage(tx, patch); err != nil {
			return false, err
		}
		_, err = e.mgr.Commit(ctx, tx)
		if errors.Is(err, mvcc.ErrConflict) {
			e.log.Debug("rebasing after conflict", "rule", r.Name, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, fmt.Errorf("%w: rule %s", ErrRetryLimit, r.Name)
}

func (e *Executor) findMatches(snap *graph.Snapshot, r *rule.Rule) ([]rule.Match, error) {
	if e.Parallelism > 1 {
		return match.FindMatchesParallel(snap, r, e.guards, e.Parallelism)
	}
	return match.FindMatches(snap, r, e.guards)
}

// candidates sequences the matches per Order. Matches arrive sorted by their
// canonical key; TopDown keeps that order, BottomUp reverses it, and Fair
// rotates the start point across applications.
func (e *Executor) candidates(matches []rule.Match, order Order) []rule.Match {
	n := len(matches)
	out := make([]rule.Match, 0, n)
	switch order {
	case BottomUp:
		for i := n - 1; i >= 0; i-- {
			out = append(out, matches[i])
		}
	case Fair:
		start := int(e.fair.Add(1)-1) % n
		for i := 0; i < n; i++ {
			out = append(out, matches[(start+i)%n])
		}
	default:
		out = append(out, matches...)
	}
	return out
}
