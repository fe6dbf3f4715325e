// Package guard implements the string-keyed predicate registry consumed by
// the matcher. Guards are resolved once per match; an unknown name is a
// configuration error, never a silent no-op.
package guard

import (
	"fmt"
	"sync"

	"github.com/rewritedb/rewritedb/pkg/graph"
	"github.com/rewritedb/rewritedb/pkg/model"
	"github.com/rewritedb/rewritedb/pkg/rule"
)

// Func evaluates one predicate against a candidate match. Implementations
// must be pure with respect to the snapshot.
type Func func(snap *graph.Snapshot, m rule.Match, args []model.Value) (bool, error)

// Registry maps predicate names to implementations. The zero value is not
// usable; construct with NewRegistry.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns a registry pre-populated with the builtin predicates.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	r.Register("deg_ge", DegreeAtLeast)
	return r
}

// Register installs or replaces a predicate.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Resolve looks up a predicate by name.
func (r *Registry) Resolve(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, rule.Configf("unknown guard %q", name)
	}
	return fn, nil
}

// Eval resolves and evaluates a guard against a match.
func (r *Registry) Eval(g rule.Guard, snap *graph.Snapshot, m rule.Match) (bool, error) {
	fn, err := r.Resolve(g.Name)
	if err != nil {
		return false, err
	}
	ok, err := fn(snap, m, g.Args)
	if err != nil {
		return false, fmt.Errorf("guard %q: %w", g.Name, err)
	}
	return ok, nil
}

// DegreeAtLeast is the builtin deg_ge(var, k) predicate: the vertex bound to
// var has at least k incident edges.
func DegreeAtLeast(snap *graph.Snapshot, m rule.Match, args []model.Value) (bool, error) {
	if len(args) != 2 {
		return false, rule.Configf("deg_ge expects 2 args, got %d", len(args))
	}
	if args[0].Kind != model.KindString {
		return false, rule.Configf("deg_ge arg 0 must be a variable name")
	}
	if args[1].Kind != model.KindInt {
		return false, rule.Configf("deg_ge arg 1 must be an integer")
	}
	id, ok := m.Nodes[args[0].Str]
	if !ok {
		return false, rule.Configf("deg_ge references unbound variable %q", args[0].Str)
	}
	deg, err := snap.Degree(id)
	if err != nil {
		return false, err
	}
	return int64(deg) >= args[1].Int, nil
}
