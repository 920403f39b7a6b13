package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog/log"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

// Gate evaluates plans against built-in and file-loaded Rego policies.
// It implements the engine.PolicyGate interface.
type Gate struct {
	mu       sync.RWMutex
	builtins map[string]*compiledPolicy
	custom   map[string]*compiledPolicy
	store    storage.Store
}

// compiledPolicy pairs a policy with its prepared deny query.
type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewGate creates a gate with the built-in rules compiled and the
// limits installed as base data.
func NewGate(limits Limits) (*Gate, error) {
	g := &Gate{
		builtins: make(map[string]*compiledPolicy),
		custom:   make(map[string]*compiledPolicy),
		store:    inmem.NewFromObject(limits.document()),
	}

	ctx := context.Background()
	policies := BuiltinPolicies()
	for i := range policies {
		cp, err := g.compile(ctx, &policies[i])
		if err != nil {
			return nil, fmt.Errorf("built-in policy %s: %w", policies[i].Name, err)
		}
		g.builtins[policies[i].Name] = cp
	}

	return g, nil
}

// Evaluate runs every policy's deny query against the plan and returns
// the violations, in policy name order (built-ins first). An error
// from any policy aborts the evaluation; callers treat that as a
// blocked plan.
func (g *Gate) Evaluate(ctx context.Context, plan *engine.Plan) ([]engine.PolicyViolation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	start := time.Now()
	input := planDocument(plan)

	var violations []engine.PolicyViolation
	for _, cp := range g.ordered() {
		results, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", cp.policy.Name, err)
		}
		for _, result := range results {
			for _, expr := range result.Expressions {
				denials, ok := expr.Value.([]interface{})
				if !ok {
					continue
				}
				for _, d := range denials {
					violations = append(violations, violationFrom(cp.policy.Name, d))
				}
			}
		}
	}

	log.Debug().
		Str("action", string(plan.Action)).
		Int("steps", len(plan.Steps)).
		Int("policies", len(g.builtins)+len(g.custom)).
		Int("violations", len(violations)).
		Dur("duration", time.Since(start)).
		Msg("plan evaluated")

	return violations, nil
}

// LoadPolicies loads custom policies from the given files and
// directories and swaps them in as the gate's custom set. Deleted
// files drop their rules on the next load; a load or compile error
// leaves the previous set untouched.
func (g *Gate) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader().LoadFromPaths(paths)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}

	fresh := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		cp, err := g.compile(ctx, &policies[i])
		if err != nil {
			return fmt.Errorf("policy %s: %w", policies[i].Source, err)
		}
		if prev, ok := fresh[policies[i].Name]; ok {
			log.Warn().
				Str("policy", policies[i].Name).
				Str("kept", policies[i].Source).
				Str("dropped", prev.policy.Source).
				Msg("duplicate policy name, keeping the last one loaded")
		}
		fresh[policies[i].Name] = cp
	}

	g.mu.Lock()
	g.custom = fresh
	g.mu.Unlock()

	log.Info().Int("count", len(fresh)).Msg("custom policies loaded")
	return nil
}

// Policies returns every policy the gate holds, built-ins first, each
// group in name order.
func (g *Gate) Policies() []Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	compiled := g.ordered()
	out := make([]Policy, len(compiled))
	for i, cp := range compiled {
		out[i] = *cp.policy
	}
	return out
}

// compile parses a policy, derives its deny query from the package
// declaration and prepares the query against the gate's store.
func (g *Gate) compile(ctx context.Context, p *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	query := module.Package.Path.String() + ".deny"
	prepared, err := rego.New(
		rego.ParsedModule(module),
		rego.Store(g.store),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	return &compiledPolicy{policy: p, query: prepared}, nil
}

// ordered returns the compiled policies in evaluation order. Callers
// must hold at least a read lock.
func (g *Gate) ordered() []*compiledPolicy {
	out := make([]*compiledPolicy, 0, len(g.builtins)+len(g.custom))
	for _, m := range []map[string]*compiledPolicy{g.builtins, g.custom} {
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, m[name])
		}
	}
	return out
}
