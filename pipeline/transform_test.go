package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dcvalidate/device"
	"github.com/c360/dcvalidate/expression"
	"github.com/c360/dcvalidate/rules"
	"github.com/c360/dcvalidate/types"
)

func compiledJSONRule(t *testing.T, rule types.ValidationRule) *rules.CompiledRule {
	t.Helper()
	cr := &rules.CompiledRule{Rule: rule}
	if rule.WhenExpression != "" {
		when, err := expression.ParseString(rule.WhenExpression)
		require.NoError(t, err)
		cr.When = when
	}
	ifExpr, err := expression.ParseString(rule.IfExpression)
	require.NoError(t, err)
	cr.If = ifExpr
	return cr
}

func transformDevice(t *testing.T, cr *rules.CompiledRule, d *device.Device) *types.ValidationResult {
	t.Helper()
	ec := NewExecutionContext("run-1", types.ValidationJob{ID: "job-1", DcName: "dc-east"})
	ec.Arena.Add(d)

	transformer := NewRuleTransformer(expression.NewBuilder(), device.Schema())
	result, err := transformer.Transform(context.Background(), ec, Payload{
		EntityID: d.Name,
		Entity:   d,
		Rule:     cr,
	})
	require.NoError(t, err)
	return result
}

// A true anyOf branch asserts the rule even when sibling branches fail; the
// failed siblings still count against the score.
func TestTransform_AnyOfAssertsOnSingleBranch(t *testing.T) {
	cr := compiledJSONRule(t, types.ValidationRule{
		ID: "r-type", Name: "known device type", Type: types.RuleTypeJSON,
		Enabled: true, ErrorCode: "E-TYPE",
		IfExpression: `{"anyOf":[
			{"left":"DeviceType","operator":"Equals","right":"PDU"},
			{"left":"DeviceType","operator":"Equals","right":"UPS"}]}`,
	})

	result := transformDevice(t, cr, &device.Device{
		Name: "pdu-01", DeviceType: "PDU", DcName: "dc-east",
	})

	require.NotNil(t, result)
	require.NotNil(t, result.Assert)
	assert.True(t, *result.Assert)
	assert.Equal(t, 0.5, result.Score)
	require.Len(t, result.Evidences, 2)
	for _, ev := range result.Evidences {
		assert.Equal(t, "E-TYPE", ev.ErrorCode)
	}
}

func TestTransform_AnyOfFailsWhenNoBranchMatches(t *testing.T) {
	cr := compiledJSONRule(t, types.ValidationRule{
		ID: "r-type", Name: "known device type", Type: types.RuleTypeJSON,
		Enabled: true, ErrorCode: "E-TYPE",
		IfExpression: `{"anyOf":[
			{"left":"DeviceType","operator":"Equals","right":"PDU"},
			{"left":"DeviceType","operator":"Equals","right":"UPS"}]}`,
	})

	result := transformDevice(t, cr, &device.Device{
		Name: "brk-01", DeviceType: "BREAKER", DcName: "dc-east",
	})

	require.NotNil(t, result)
	require.NotNil(t, result.Assert)
	assert.False(t, *result.Assert)
	assert.Equal(t, 0.0, result.Score)
}

func TestTransform_WhenFilterReturnsNil(t *testing.T) {
	cr := compiledJSONRule(t, types.ValidationRule{
		ID: "r-ups", Name: "ups only", Type: types.RuleTypeJSON, Enabled: true,
		WhenExpression: `{"left":"DeviceType","operator":"Equals","right":"UPS"}`,
		IfExpression:   `{"left":"KwRating","operator":"GreaterThan","right":0}`,
	})

	ec := NewExecutionContext("run-1", types.ValidationJob{ID: "job-1", DcName: "dc-east"})
	d := &device.Device{Name: "pdu-01", DeviceType: "PDU", DcName: "dc-east"}
	ec.Arena.Add(d)

	transformer := NewRuleTransformer(expression.NewBuilder(), device.Schema())
	result, err := transformer.Transform(context.Background(), ec, Payload{
		EntityID: d.Name, Entity: d, Rule: cr,
	})
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, int64(1), ec.Snapshot().TotalFiltered)
}
