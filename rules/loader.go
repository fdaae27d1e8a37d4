package rules

import (
	"context"
	"log/slog"

	"github.com/c360/dcvalidate/pkg/cache"
	"github.com/c360/dcvalidate/expression"
	"github.com/c360/dcvalidate/schema"
	"github.com/c360/dcvalidate/types"
)

// CompiledRule is a stored rule with its condition trees parsed and
// compiled. When is nil for rules that apply to every entity.
type CompiledRule struct {
	Rule types.ValidationRule
	When *expression.ConditionExpression
	If   *expression.ConditionExpression
}

// WhenKey and IfKey name the compiled expressions in the predicate cache.
func (r CompiledRule) WhenKey() string { return r.Rule.ID + ".when" }

// IfKey returns the predicate cache key of the rule's assertion.
func (r CompiledRule) IfKey() string { return r.Rule.ID + ".if" }

// CompiledRuleSet is a loaded rule set ready for evaluation.
type CompiledRuleSet struct {
	ID    string
	Type  types.RuleType
	Rules []CompiledRule
}

// Loader loads rule sets, compiles their conditions against an entity
// descriptor and caches the result until the store's freshness token moves.
// A rule that fails structural validation or compilation is skipped with a
// logged error; the rest of the set still loads.
type Loader struct {
	store   Store
	builder *expression.Builder
	cache   *cache.Fresh[*CompiledRuleSet]
	logger  *slog.Logger
}

// NewLoader creates a Loader over the given store.
func NewLoader(store Store, builder *expression.Builder) *Loader {
	return &Loader{
		store:   store,
		builder: builder,
		cache:   cache.NewFresh[*CompiledRuleSet](),
		logger:  slog.Default().With("component", "rules.Loader"),
	}
}

// Builder exposes the shared predicate cache for evidence extraction.
func (l *Loader) Builder() *expression.Builder { return l.builder }

// Load returns the compiled rule set for the descriptor, recompiling only
// when the store reports a modification.
func (l *Loader) Load(ctx context.Context, setID string, desc *schema.Descriptor) (*CompiledRuleSet, error) {
	key := setID + "|" + desc.Name
	return l.cache.GetOrUpdate(ctx, key, l.store.LastModified, func(ctx context.Context) (*CompiledRuleSet, error) {
		return l.compileSet(ctx, setID, desc)
	})
}

func (l *Loader) compileSet(ctx context.Context, setID string, desc *schema.Descriptor) (*CompiledRuleSet, error) {
	set, err := l.store.GetRuleSet(ctx, setID)
	if err != nil {
		return nil, err
	}

	compiled := &CompiledRuleSet{ID: set.ID, Type: set.Type}
	for _, rule := range set.Rules {
		if !rule.Enabled {
			l.logger.Debug("Skipping disabled rule", "rule_id", rule.ID)
			continue
		}
		if rule.Type != types.RuleTypeJSON {
			compiled.Rules = append(compiled.Rules, CompiledRule{Rule: rule})
			continue
		}

		cr, err := l.compileRule(rule, desc)
		if err != nil {
			// Skip-and-continue: one bad rule must not take the set down.
			l.logger.Error("Failed to compile rule, skipping",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"error", err)
			continue
		}
		compiled.Rules = append(compiled.Rules, cr)
	}

	if len(compiled.Rules) == 0 {
		l.logger.Warn("Rule set compiled to zero usable rules", "rule_set", setID)
	}
	return compiled, nil
}

func (l *Loader) compileRule(rule types.ValidationRule, desc *schema.Descriptor) (CompiledRule, error) {
	if err := ValidateRule(rule); err != nil {
		return CompiledRule{}, err
	}

	cr := CompiledRule{Rule: rule}

	// The rule document may have changed under the same id; stale compiled
	// predicates must not survive a reload.
	l.builder.Invalidate(rule.ID)

	if rule.WhenExpression != "" {
		when, err := expression.ParseString(rule.WhenExpression)
		if err != nil {
			return CompiledRule{}, err
		}
		if _, err := l.builder.BuildCached(cr.WhenKey(), desc, when); err != nil {
			return CompiledRule{}, err
		}
		cr.When = when
	}

	ifExpr, err := expression.ParseString(rule.IfExpression)
	if err != nil {
		return CompiledRule{}, err
	}
	if _, err := l.builder.BuildCached(cr.IfKey(), desc, ifExpr); err != nil {
		return CompiledRule{}, err
	}
	cr.If = ifExpr

	return cr, nil
}
