// Package coderule holds the hand-written validation checks that JSON
// condition trees cannot express: topology walks, cross-device telemetry
// comparison, staleness windows. Each evaluator carries a stable error code;
// its rule record is registered at startup and the pipeline routes payloads
// to evaluators by that code.
package coderule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/dcvalidate/device"
	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/pipeline"
	"github.com/c360/dcvalidate/types"
)

// Evaluator is one compiled check. EvaluateDevice returns the evidence for
// a single device; the transformer turns it into a result.
type Evaluator interface {
	RuleName() string
	ErrorCode() string
	EvaluateDevice(ctx context.Context, ec *pipeline.ExecutionContext, d *device.Device) ([]types.Evidence, error)
}

// Transformer adapts the evaluator family to the pipeline's transform
// contract. Assert is true when every evidence passed; the score is the mean
// evidence score. A panicking evaluator fails that one entity, not the run.
type Transformer struct {
	evaluators map[string]Evaluator
	logger     *slog.Logger
}

// NewTransformer indexes the evaluators by error code.
func NewTransformer(evaluators []Evaluator) *Transformer {
	byCode := make(map[string]Evaluator, len(evaluators))
	for _, ev := range evaluators {
		byCode[ev.ErrorCode()] = ev
	}
	return &Transformer{
		evaluators: byCode,
		logger:     slog.Default().With("component", "coderule.Transformer"),
	}
}

// Transform evaluates one (device, code rule) payload.
func (t *Transformer) Transform(ctx context.Context, ec *pipeline.ExecutionContext, payload pipeline.Payload) (result *types.ValidationResult, _ error) {
	start := time.Now()
	code := payload.Rule.Rule.ErrorCode

	defer func() {
		if r := recover(); r != nil {
			ec.IncFailed()
			t.logger.Error("Evaluator panicked",
				"error_code", code, "entity", payload.EntityID, "panic", r)
			result = &types.ValidationResult{
				EntityID:      payload.EntityID,
				RuleID:        payload.Rule.Rule.ID,
				RunID:         ec.RunID,
				JobID:         ec.JobID,
				Error:         fmt.Sprintf("evaluator %s panicked: %v", code, r),
				ExecutionTime: time.Since(start),
			}
		}
	}()

	ev, ok := t.evaluators[code]
	if !ok {
		ec.IncFailed()
		return &types.ValidationResult{
			EntityID:      payload.EntityID,
			RuleID:        payload.Rule.Rule.ID,
			RunID:         ec.RunID,
			JobID:         ec.JobID,
			Error:         errors.Wrap(errors.ErrRuleNotFound, "coderule", "Transform", "evaluator lookup for "+code).Error(),
			ExecutionTime: time.Since(start),
		}, nil
	}

	d, ok := payload.Entity.(*device.Device)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("payload entity is %T, want *device.Device", payload.Entity),
			"coderule", "Transform", "entity typing")
	}

	evidences, err := ev.EvaluateDevice(ctx, ec, d)
	if err != nil {
		ec.IncFailed()
		return &types.ValidationResult{
			EntityID:      payload.EntityID,
			RuleID:        payload.Rule.Rule.ID,
			RunID:         ec.RunID,
			JobID:         ec.JobID,
			Error:         err.Error(),
			ExecutionTime: time.Since(start),
		}, nil
	}
	if len(evidences) == 0 {
		// The check does not apply to this device.
		ec.IncFiltered()
		return nil, nil
	}

	passed := true
	var sum float64
	for i := range evidences {
		evidences[i].ErrorCode = code
		sum += evidences[i].Score
		if !evidences[i].Passed {
			passed = false
		}
	}
	score := sum / float64(len(evidences))

	ec.IncEvaluated()
	ec.RecordScore(payload.EntityID, payload.Rule.Rule.ID, score)

	return &types.ValidationResult{
		EntityID:      payload.EntityID,
		RuleID:        payload.Rule.Rule.ID,
		RunID:         ec.RunID,
		JobID:         ec.JobID,
		Assert:        &passed,
		Score:         score,
		ExecutionTime: time.Since(start),
		Evidences:     evidences,
	}, nil
}
