package rules

import (
	"context"
	goerrors "errors"
	"log/slog"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/types"
)

// CodeRule is the slice of a code-rule evaluator the registry needs: a
// stable name and error code.
type CodeRule interface {
	RuleName() string
	ErrorCode() string
}

// RegisterCodeRules ensures every evaluator has a persisted rule record in
// the named set. Registration runs once at startup; existing records are
// left untouched so operator edits (disabling a rule, changing severity)
// survive restarts.
func RegisterCodeRules(ctx context.Context, store Store, setID string, evaluators []CodeRule) error {
	logger := slog.Default().With("component", "rules.RegisterCodeRules")

	for _, ev := range evaluators {
		existing, err := store.GetRule(ctx, setID, ev.ErrorCode())
		if err == nil {
			logger.Debug("Code rule already registered",
				"rule_id", existing.ID, "error_code", ev.ErrorCode())
			continue
		}
		if !goerrors.Is(err, errors.ErrRuleNotFound) {
			return errors.Wrap(err, "rules", "RegisterCodeRules", "rule lookup")
		}

		rule := types.ValidationRule{
			ID:        ev.ErrorCode(),
			Name:      ev.RuleName(),
			Type:      types.RuleTypeCode,
			ErrorCode: ev.ErrorCode(),
			Enabled:   true,
		}
		if err := store.PutRule(ctx, setID, rule); err != nil {
			return errors.Wrap(err, "rules", "RegisterCodeRules", "rule registration")
		}
		logger.Info("Registered code rule",
			"rule_id", rule.ID, "rule_name", rule.Name, "rule_set", setID)
	}
	return nil
}
