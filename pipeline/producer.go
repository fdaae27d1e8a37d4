package pipeline

import (
	"context"

	"github.com/c360/dcvalidate/rules"
	"github.com/c360/dcvalidate/schema"
	"github.com/c360/dcvalidate/types"
)

// EntityRuleProducer fans out the full (device × JSON rule) cross product.
// With N devices and M rules it emits exactly N×M payloads.
type EntityRuleProducer struct {
	loader *rules.Loader
	desc   *schema.Descriptor
}

// NewEntityRuleProducer creates a producer over the given rule loader and
// entity descriptor.
func NewEntityRuleProducer(loader *rules.Loader, desc *schema.Descriptor) *EntityRuleProducer {
	return &EntityRuleProducer{loader: loader, desc: desc}
}

// Produce loads the job's rule set and emits every (device, rule) pair. The
// devices come from the execution context's arena, which the topology
// enricher has warmed before production starts.
func (p *EntityRuleProducer) Produce(ctx context.Context, ec *ExecutionContext, emit func(Payload) error) error {
	set, err := p.loader.Load(ctx, ec.RuleSetID, p.desc)
	if err != nil {
		return err
	}

	jsonRules := make([]*rules.CompiledRule, 0, len(set.Rules))
	for i := range set.Rules {
		if set.Rules[i].Rule.Type == types.RuleTypeJSON {
			jsonRules = append(jsonRules, &set.Rules[i])
		}
	}

	devices := ec.Arena.All()
	ec.AddDevices(int64(len(devices)))
	ec.AddRules(int64(len(jsonRules)))
	ec.AddPayloads(int64(len(devices) * len(jsonRules)))

	for _, d := range devices {
		for _, rule := range jsonRules {
			payload := Payload{EntityID: d.Name, Entity: d, Rule: rule}
			if err := emit(payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// CodeRuleProducer fans out (device × code rule) pairs. The rule records
// come from the job's rule set; the transformer maps each record to its
// registered evaluator by error code.
type CodeRuleProducer struct {
	loader *rules.Loader
	desc   *schema.Descriptor
}

// NewCodeRuleProducer creates a producer over the given rule loader and
// entity descriptor.
func NewCodeRuleProducer(loader *rules.Loader, desc *schema.Descriptor) *CodeRuleProducer {
	return &CodeRuleProducer{loader: loader, desc: desc}
}

// Produce loads the job's rule set and emits every (device, code rule) pair.
func (p *CodeRuleProducer) Produce(ctx context.Context, ec *ExecutionContext, emit func(Payload) error) error {
	set, err := p.loader.Load(ctx, ec.RuleSetID, p.desc)
	if err != nil {
		return err
	}

	codeRules := make([]*rules.CompiledRule, 0, len(set.Rules))
	for i := range set.Rules {
		if set.Rules[i].Rule.Type == types.RuleTypeCode {
			codeRules = append(codeRules, &set.Rules[i])
		}
	}

	devices := ec.Arena.All()
	ec.AddDevices(int64(len(devices)))
	ec.AddRules(int64(len(codeRules)))
	ec.AddPayloads(int64(len(devices) * len(codeRules)))

	for _, d := range devices {
		for _, rule := range codeRules {
			if err := emit(Payload{EntityID: d.Name, Entity: d, Rule: rule}); err != nil {
				return err
			}
		}
	}
	return nil
}
