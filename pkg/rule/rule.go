// Package rule defines declarative DPO rewrite rules: an L <- K -> R span of
// patterns plus negative application conditions and guards. Rules arrive as
// already-built values; any authoring language lives outside this module.
package rule

import (
	"errors"
	"fmt"

	"github.com/rewritedb/rewritedb/pkg/model"
)

// ErrConfiguration marks malformed rules, patterns, and unknown guard names.
// Configuration errors are fatal and must never be retried.
var ErrConfiguration = errors.New("configuration error")

// Configf builds a wrapped configuration error.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// PatternNode matches a vertex. Labels and Props are conjunctive
// constraints: every listed label must be present and every listed property
// must be structurally equal.
type PatternNode struct {
	Var    string
	Labels []string
	Props  map[string]model.Value
}

// PatternEdge matches a directed edge between two bound node variables. An
// empty Label matches any label.
type PatternEdge struct {
	Var   string
	Src   string
	Dst   string
	Label string
}

// Pattern is a graph shape keyed by variable id.
type Pattern struct {
	Nodes []PatternNode
	Edges []PatternEdge
}

// Node returns the pattern node with the given variable, if declared.
func (p *Pattern) Node(v string) (PatternNode, bool) {
	for _, n := range p.Nodes {
		if n.Var == v {
			return n, true
		}
	}
	return PatternNode{}, false
}

// Edge returns the pattern edge with the given variable, if declared.
func (p *Pattern) Edge(v string) (PatternEdge, bool) {
	for _, e := range p.Edges {
		if e.Var == v {
			return e, true
		}
	}
	return PatternEdge{}, false
}

// validate checks internal pattern consistency.
func (p *Pattern) validate(name string) error {
	nodeVars := make(map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.Var == "" {
			return Configf("%s: pattern node with empty variable", name)
		}
		if nodeVars[n.Var] {
			return Configf("%s: duplicate node variable %q", name, n.Var)
		}
		nodeVars[n.Var] = true
	}
	edgeVars := make(map[string]bool, len(p.Edges))
	for _, e := range p.Edges {
		if e.Var == "" {
			return Configf("%s: pattern edge with empty variable", name)
		}
		if edgeVars[e.Var] || nodeVars[e.Var] {
			return Configf("%s: duplicate variable %q", name, e.Var)
		}
		edgeVars[e.Var] = true
		if !nodeVars[e.Src] {
			return Configf("%s: edge %q references undeclared variable %q", name, e.Var, e.Src)
		}
		if !nodeVars[e.Dst] {
			return Configf("%s: edge %q references undeclared variable %q", name, e.Var, e.Dst)
		}
	}
	return nil
}

// Guard is a named predicate resolved against the host's registry at match
// time. Args typically name pattern variables and literal operands.
type Guard struct {
	Name string
	Args []model.Value
}

// Rule is one DPO rule. Context is K: the part preserved by the rewrite.
// Every variable in Context must appear, with the same identity, in both
// LHS and RHS.
type Rule struct {
	Name    string
	LHS     Pattern
	Context Pattern
	RHS     Pattern
	NACs    []Pattern
	Guards  []Guard
}

// Validate checks the structural invariants of the rule. Violations are
// configuration errors: fatal, reported immediately, never retried.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return Configf("rule with empty name")
	}
	if err := r.LHS.validate(r.Name + "/lhs"); err != nil {
		return err
	}
	if err := r.Context.validate(r.Name + "/context"); err != nil {
		return err
	}
	if err := r.RHS.validate(r.Name + "/rhs"); err != nil {
		return err
	}
	for _, n := range r.Context.Nodes {
		if _, ok := r.LHS.Node(n.Var); !ok {
			return Configf("%s: context variable %q missing from lhs", r.Name, n.Var)
		}
		if _, ok := r.RHS.Node(n.Var); !ok {
			return Configf("%s: context variable %q missing from rhs", r.Name, n.Var)
		}
	}
	for _, e := range r.Context.Edges {
		if _, ok := r.LHS.Edge(e.Var); !ok {
			return Configf("%s: context edge %q missing from lhs", r.Name, e.Var)
		}
		if _, ok := r.RHS.Edge(e.Var); !ok {
			return Configf("%s: context edge %q missing from rhs", r.Name, e.Var)
		}
	}
	for i, nac := range r.NACs {
		// NAC node vars may reuse LHS vars (pre-bound at evaluation time),
		// so only internal consistency is checked here.
		if err := nac.validate(fmt.Sprintf("%s/nac[%d]", r.Name, i)); err != nil {
			return err
		}
	}
	for _, g := range r.Guards {
		if g.Name == "" {
			return Configf("%s: guard with empty name", r.Name)
		}
	}
	return nil
}

// Match is one valid embedding of a rule's LHS: variable to graph id.
type Match struct {
	Nodes map[string]string
	Edges map[string]string
}

// Clone returns an independent copy of the match.
func (m Match) Clone() Match {
	out := Match{
		Nodes: make(map[string]string, len(m.Nodes)),
		Edges: make(map[string]string, len(m.Edges)),
	}
	for k, v := range m.Nodes {
		out.Nodes[k] = v
	}
	for k, v := range m.Edges {
		out.Edges[k] = v
	}
	return out
}
