// ABOUTME: Policy evaluation contract and typed consent request variants
// ABOUTME: Decides whether a consent action is permitted; pure boolean predicate, no side effects

package policy

import (
	"context"
	"errors"
)

// ErrPolicyNotFound is returned when evaluating against an unregistered policy name.
var ErrPolicyNotFound = errors.New("policy not found")

// Request is a closed set of consent actions submitted for evaluation.
// Each variant carries exactly the fields its action needs, so rules never
// dispatch on loosely typed input documents.
type Request interface {
	// Action returns the action tag ("grant" or "revoke").
	Action() string

	// env flattens the request into the evaluation environment.
	env() map[string]any
}

// GrantRequest asks whether a user may grant a client access to a set of
// domains with a set of scopes.
type GrantRequest struct {
	UserID  string
	Client  string
	Domains []string
	Scopes  []string
}

// Action implements Request.
func (r GrantRequest) Action() string { return "grant" }

func (r GrantRequest) env() map[string]any {
	return map[string]any{
		"action":   "grant",
		"user":     r.UserID,
		"client":   r.Client,
		"domains":  emptyIfNil(r.Domains),
		"scopes":   emptyIfNil(r.Scopes),
		"grant_id": "",
	}
}

// RevokeRequest asks whether a user may revoke an existing grant.
type RevokeRequest struct {
	UserID  string
	Client  string
	GrantID string
}

// Action implements Request.
func (r RevokeRequest) Action() string { return "revoke" }

func (r RevokeRequest) env() map[string]any {
	return map[string]any{
		"action":   "revoke",
		"user":     r.UserID,
		"client":   r.Client,
		"domains":  []string{},
		"scopes":   []string{},
		"grant_id": r.GrantID,
	}
}

// Evaluator decides whether a consent action is permitted under a named
// policy. Implementations must be pure: same input, same answer, no side
// effects. Any rule engine satisfying this signature can replace the
// default RuleSet.
type Evaluator interface {
	Evaluate(ctx context.Context, policyName string, req Request) (bool, error)
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
