package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/dcvalidate/expression"
	"github.com/c360/dcvalidate/schema"
	"github.com/c360/dcvalidate/types"
)

// RuleTransformer evaluates JSON rules: the payload's when-expression gates
// applicability, the if-expression produces the asserted result with
// per-leaf evidence.
type RuleTransformer struct {
	builder *expression.Builder
	desc    *schema.Descriptor
	logger  *slog.Logger
}

// NewRuleTransformer creates the JSON-rule transformer. The builder must be
// the one the rule loader compiled against, so predicates are shared.
func NewRuleTransformer(builder *expression.Builder, desc *schema.Descriptor) *RuleTransformer {
	return &RuleTransformer{
		builder: builder,
		desc:    desc,
		logger:  slog.Default().With("component", "pipeline.RuleTransformer"),
	}
}

// Transform evaluates one (entity, rule) payload. Filtered payloads return
// (nil, nil); evaluation failures return a result carrying the error.
func (t *RuleTransformer) Transform(_ context.Context, ec *ExecutionContext, payload Payload) (*types.ValidationResult, error) {
	cr := payload.Rule
	start := time.Now()

	if cr.When != nil {
		pred, err := t.builder.BuildCached(cr.WhenKey(), t.desc, cr.When)
		if err != nil {
			return t.failed(ec, payload, start, err), nil
		}
		applies, err := pred(payload.Entity)
		if err != nil {
			return t.failed(ec, payload, start, err), nil
		}
		if !applies {
			ec.IncFiltered()
			return nil, nil
		}
	}

	// Assert comes from the compiled predicate, which honors anyOf/not
	// branching. The evidence walk records every leaf for scoring and
	// audit, so "all leaves passed" is not the same thing: one true anyOf
	// branch asserts the rule even while its siblings fail.
	pred, err := t.builder.BuildCached(cr.IfKey(), t.desc, cr.If)
	if err != nil {
		return t.failed(ec, payload, start, err), nil
	}
	passed, err := pred(payload.Entity)
	if err != nil {
		return t.failed(ec, payload, start, err), nil
	}

	evidences, err := t.builder.Evidence(cr.IfKey(), t.desc, cr.If, payload.Entity)
	if err != nil {
		return t.failed(ec, payload, start, err), nil
	}
	for i := range evidences {
		evidences[i].ErrorCode = cr.Rule.ErrorCode
	}
	score := expression.MeanScore(evidences)

	ec.IncEvaluated()
	ec.RecordScore(payload.EntityID, cr.Rule.ID, score)

	return &types.ValidationResult{
		EntityID:      payload.EntityID,
		RuleID:        cr.Rule.ID,
		RunID:         ec.RunID,
		JobID:         ec.JobID,
		Assert:        &passed,
		Score:         score,
		ExecutionTime: time.Since(start),
		Evidences:     evidences,
	}, nil
}

func (t *RuleTransformer) failed(ec *ExecutionContext, payload Payload, start time.Time, err error) *types.ValidationResult {
	ec.IncFailed()
	t.logger.Warn("Rule evaluation failed",
		"entity", payload.EntityID,
		"rule_id", payload.Rule.Rule.ID,
		"error", err)
	return &types.ValidationResult{
		EntityID:      payload.EntityID,
		RuleID:        payload.Rule.Rule.ID,
		RunID:         ec.RunID,
		JobID:         ec.JobID,
		Error:         err.Error(),
		ExecutionTime: time.Since(start),
	}
}
