package pipeline

import (
	"context"

	"github.com/c360/dcvalidate/rules"
	"github.com/c360/dcvalidate/types"
)

// Payload is one unit of transform work: an entity paired with the rule to
// evaluate it against. Rule is nil for code-rule jobs, where the evaluator
// set is implicit in the transformer.
type Payload struct {
	EntityID string
	Entity   any
	Rule     *rules.CompiledRule
}

// Producer loads entities and fans out payloads. Emit blocks when the
// downstream stage is saturated; producers must stop when it returns an
// error. A producer updates TotalDevices, TotalRules and TotalPayloads on
// the execution context exactly once per run.
type Producer interface {
	Produce(ctx context.Context, ec *ExecutionContext, emit func(Payload) error) error
}

// Enricher populates one slice of the execution context's shared lookup
// state. Warm runs once per run under the context's once-guard; Refresh runs
// per entity after the static state is warm, for data that must be live.
// Enrichers are applied in ascending ApplyOrder.
type Enricher interface {
	Name() string
	ApplyOrder() int
	Warm(ctx context.Context, ec *ExecutionContext) error
	Refresh(ctx context.Context, ec *ExecutionContext, payload *Payload) error
}

// Transformer evaluates one payload. A nil result with nil error means the
// payload was filtered out. Evaluation failures are returned as results with
// a non-empty Error, not as errors: one bad entity must not stop the run.
type Transformer interface {
	Transform(ctx context.Context, ec *ExecutionContext, payload Payload) (*types.ValidationResult, error)
}

// Sink persists result batches. The engine treats its first sink as primary:
// a primary persist failure fails the run, secondary failures are logged.
type Sink interface {
	Name() string
	Persist(ctx context.Context, ec *ExecutionContext, batch []types.ValidationResult) error
}
