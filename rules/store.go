// Package rules stores and loads validation rule sets. Rule documents live
// in a NATS KV bucket keyed by rule-set id; the bucket's stream sequence is
// the freshness token, so loaders only re-read and re-compile rules after a
// write actually happened.
package rules

import (
	"context"

	"github.com/c360/dcvalidate/types"
)

// Store persists rule sets. LastModified returns an opaque freshness token
// that changes on every mutation; callers compare tokens instead of polling
// full documents.
type Store interface {
	// GetRuleSet returns the rule set with the given id. Wraps
	// errors.ErrRuleNotFound if it does not exist.
	GetRuleSet(ctx context.Context, id string) (*types.RuleSet, error)

	// PutRuleSet creates or replaces a rule set.
	PutRuleSet(ctx context.Context, set *types.RuleSet) error

	// PutRule upserts one rule into the named set, creating the set if
	// needed.
	PutRule(ctx context.Context, setID string, rule types.ValidationRule) error

	// GetRule returns one rule from the named set. Wraps
	// errors.ErrRuleNotFound when the set or the rule is missing.
	GetRule(ctx context.Context, setID, ruleID string) (*types.ValidationRule, error)

	// LastModified returns the store's current freshness token.
	LastModified(ctx context.Context) (string, error)
}
