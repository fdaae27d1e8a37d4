package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/types"
)

// MemoryStore is an in-memory Store for tests and local development. Its
// freshness token is a mutation counter.
type MemoryStore struct {
	mu   sync.RWMutex
	sets map[string]*types.RuleSet
	mods uint64
}

// NewMemoryStore creates an empty in-memory rule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: make(map[string]*types.RuleSet)}
}

// GetRuleSet returns a copy of the stored set.
func (s *MemoryStore) GetRuleSet(_ context.Context, id string) (*types.RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.sets[id]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: rule set %s", errors.ErrRuleNotFound, id),
			"rules", "GetRuleSet", "memory lookup")
	}

	out := &types.RuleSet{ID: set.ID, Type: set.Type, Rules: make([]types.ValidationRule, len(set.Rules))}
	copy(out.Rules, set.Rules)
	return out, nil
}

// PutRuleSet stores the set and advances the modification counter.
func (s *MemoryStore) PutRuleSet(_ context.Context, set *types.RuleSet) error {
	if set == nil || set.ID == "" {
		return errors.WrapInvalid(nil, "rules", "PutRuleSet", "rule set id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := &types.RuleSet{ID: set.ID, Type: set.Type, Rules: make([]types.ValidationRule, len(set.Rules))}
	copy(stored.Rules, set.Rules)
	s.sets[set.ID] = stored
	s.mods++
	return nil
}

// PutRule upserts one rule, creating the set if needed.
func (s *MemoryStore) PutRule(_ context.Context, setID string, rule types.ValidationRule) error {
	if rule.ID == "" {
		return errors.WrapInvalid(nil, "rules", "PutRule", "rule id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[setID]
	if !ok {
		set = &types.RuleSet{ID: setID, Type: rule.Type}
		s.sets[setID] = set
	}

	replaced := false
	for i := range set.Rules {
		if set.Rules[i].ID == rule.ID {
			set.Rules[i] = rule
			replaced = true
			break
		}
	}
	if !replaced {
		set.Rules = append(set.Rules, rule)
	}
	s.mods++
	return nil
}

// GetRule returns one rule from the named set.
func (s *MemoryStore) GetRule(ctx context.Context, setID, ruleID string) (*types.ValidationRule, error) {
	set, err := s.GetRuleSet(ctx, setID)
	if err != nil {
		return nil, err
	}
	for i := range set.Rules {
		if set.Rules[i].ID == ruleID {
			return &set.Rules[i], nil
		}
	}
	return nil, errors.WrapInvalid(
		fmt.Errorf("%w: rule %s in set %s", errors.ErrRuleNotFound, ruleID, setID),
		"rules", "GetRule", "memory lookup")
}

// LastModified returns the mutation counter as a token.
func (s *MemoryStore) LastModified(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("%d", s.mods), nil
}
