// ABOUTME: Default Evaluator backed by compiled expr rules
// ABOUTME: Ships the built-in "consent" policy; rules can be replaced at runtime

package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// defaultConsentRule is the built-in consent policy: users may grant access
// to their own data, and may revoke a grant they can name. Everything else
// is denied.
const defaultConsentRule = `(action == "grant" && user != "") ||
(action == "revoke" && user != "" && grant_id != "")`

// RuleSet evaluates named policies compiled from expr source. It is safe
// for concurrent use; rule replacement takes a write lock, evaluation a
// read lock.
type RuleSet struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
	logger   *slog.Logger
}

// NewRuleSet creates a RuleSet with the built-in "consent" policy registered.
func NewRuleSet() (*RuleSet, error) {
	rs := &RuleSet{
		programs: make(map[string]*vm.Program),
		logger:   slog.Default().With("component", "policy"),
	}
	if err := rs.SetPolicy("consent", defaultConsentRule); err != nil {
		return nil, fmt.Errorf("compiling built-in consent policy: %w", err)
	}
	return rs, nil
}

// SetPolicy compiles source and registers it under name, replacing any
// existing rule with that name.
func (rs *RuleSet) SetPolicy(name, source string) error {
	program, err := expr.Compile(source, expr.Env(map[string]any{}), expr.AsBool())
	if err != nil {
		return fmt.Errorf("compiling policy %q: %w", name, err)
	}

	rs.mu.Lock()
	rs.programs[name] = program
	rs.mu.Unlock()

	rs.logger.Info("registered policy", "name", name)
	return nil
}

// Evaluate runs the named policy over the request environment.
// Returns ErrPolicyNotFound if no policy is registered under policyName.
func (rs *RuleSet) Evaluate(_ context.Context, policyName string, req Request) (bool, error) {
	rs.mu.RLock()
	program, ok := rs.programs[policyName]
	rs.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrPolicyNotFound, policyName)
	}

	result, err := expr.Run(program, req.env())
	if err != nil {
		return false, fmt.Errorf("evaluating policy %q: %w", policyName, err)
	}

	allowed, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("policy %q returned non-boolean result", policyName)
	}

	rs.logger.Debug("evaluated policy",
		"name", policyName,
		"action", req.Action(),
		"allowed", allowed,
	)
	return allowed, nil
}

// Ensure RuleSet implements Evaluator.
var _ Evaluator = (*RuleSet)(nil)
