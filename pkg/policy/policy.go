// Package policy evaluates deterministic CEL admission rules against
// governance requests before a campaign opens. Rules see only the
// request itself (action, window, requester and its level, arguments);
// evaluation is fail-closed: an evaluation error denies the request.
package policy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/caldera-labs/tally/pkg/campaign"
)

var (
	// ErrRuleDenied is returned when a rule evaluates to false.
	ErrRuleDenied = errors.New("admission rule denied request")
	// ErrRuleNotBool is returned at compile time when a rule's output
	// type is not boolean.
	ErrRuleNotBool = errors.New("admission rule must evaluate to bool")
)

// LevelSource resolves a requester's access level for rule input.
type LevelSource interface {
	LevelOf(account campaign.Account) uint8
}

type rule struct {
	name    string
	expr    string
	program cel.Program
}

// Set is an ordered collection of compiled admission rules. A request
// is admitted only if every rule evaluates to true.
type Set struct {
	mu     sync.RWMutex
	env    *cel.Env
	rules  []rule
	levels LevelSource
}

// NewSet creates an empty rule set.
func NewSet() (*Set, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("window", cel.IntType),
		cel.Variable("requester", cel.StringType),
		cel.Variable("requester_level", cel.IntType),
		cel.Variable("args", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create CEL environment: %w", err)
	}
	return &Set{env: env}, nil
}

// WithLevels attaches a level source so rules can reference
// requester_level. Without one, requester_level is always zero.
func (s *Set) WithLevels(levels LevelSource) *Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels = levels
	return s
}

// Add compiles and appends a named rule. The expression must type-check
// to bool.
func (s *Set) Add(name, expr string) error {
	ast, issues := s.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("policy: compile rule %q: %w", name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("policy: rule %q has output type %s: %w", name, ast.OutputType(), ErrRuleNotBool)
	}
	program, err := s.env.Program(ast)
	if err != nil {
		return fmt.Errorf("policy: build program for rule %q: %w", name, err)
	}

	s.mu.Lock()
	s.rules = append(s.rules, rule{name: name, expr: expr, program: program})
	s.mu.Unlock()
	return nil
}

// Len returns the number of installed rules.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Admit evaluates every rule against the request. Satisfies the
// request registry's Guard interface.
func (s *Set) Admit(requester campaign.Account, name string, window campaign.Tick, args []any) error {
	s.mu.RLock()
	rules := s.rules
	levels := s.levels
	s.mu.RUnlock()

	var level uint8
	if levels != nil {
		level = levels.LevelOf(requester)
	}
	input := map[string]any{
		"action":          name,
		"window":          int64(window),
		"requester":       string(requester),
		"requester_level": int64(level),
		"args":            args,
	}

	for _, r := range rules {
		out, _, err := r.program.Eval(input)
		if err != nil {
			return fmt.Errorf("policy: rule %q evaluation failed (denying): %w", r.name, err)
		}
		allowed, ok := out.Value().(bool)
		if !ok {
			return fmt.Errorf("policy: rule %q returned non-bool: %w", r.name, ErrRuleNotBool)
		}
		if !allowed {
			return fmt.Errorf("policy: rule %q: %w", r.name, ErrRuleDenied)
		}
	}
	return nil
}
