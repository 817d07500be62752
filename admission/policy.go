package admission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
)

// DefaultRule admits every check while the limit is unset (non-positive)
// and otherwise bounds the number of recorded checks.
const DefaultRule = "limit <= 0 || checks < limit"

// ErrNotBool is returned when a configured rule does not evaluate to a
// boolean.
var ErrNotBool = errors.New("admission: rule must evaluate to a boolean")

// Policy is a compiled admission rule. Safe for concurrent use.
type Policy struct {
	rule  string
	limit int64
	prg   cel.Program
}

// NewPolicy compiles the rule with the variables checks and limit in
// scope. An empty rule selects DefaultRule. Compilation errors are
// reported at startup, never per call.
func NewPolicy(rule string, limit int64) (*Policy, error) {
	if rule == "" {
		rule = DefaultRule
	}

	env, err := cel.NewEnv(
		cel.Variable("checks", cel.IntType),
		cel.Variable("limit", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("admission: failed to create environment: %w", err)
	}

	ast, issues := env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("admission: failed to compile rule %q: %w", rule, issues.Err())
	}
	if ast.OutputType().String() != "bool" {
		return nil, fmt.Errorf("%w: %q yields %s", ErrNotBool, rule, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("admission: failed to build program: %w", err)
	}

	return &Policy{rule: rule, limit: limit, prg: prg}, nil
}

// Rule returns the source expression of the policy.
func (p *Policy) Rule() string {
	return p.rule
}

// Limit returns the configured check ceiling.
func (p *Policy) Limit() int64 {
	return p.limit
}

// Allow evaluates the rule for the given number of already-recorded
// checks.
func (p *Policy) Allow(ctx context.Context, checks int64) (bool, error) {
	out, _, err := p.prg.ContextEval(ctx, map[string]any{
		"checks": checks,
		"limit":  p.limit,
	})
	if err != nil {
		return false, fmt.Errorf("admission: rule evaluation failed: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, ErrNotBool
	}
	return allowed, nil
}
