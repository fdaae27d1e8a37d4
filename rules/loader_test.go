package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dcvalidate/device"
	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/expression"
	"github.com/c360/dcvalidate/types"
)

func kwRule(id string) types.ValidationRule {
	return types.ValidationRule{
		ID:             id,
		Name:           "pdu kw within rating",
		Type:           types.RuleTypeJSON,
		Enabled:        true,
		WhenExpression: `{"left":"DeviceType","operator":"Equals","right":"PDU"}`,
		IfExpression:   `{"left":"ReadingStats.Where(DataPoint,Equals,'kW').Sum(Avg)","operator":"LessThanOrEqual","right":"KwRating","rightSideIsExpression":true}`,
	}
}

func TestLoader_CompilesEnabledRules(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.PutRule(ctx, "json-rules", kwRule("r-kw")))

	disabled := kwRule("r-off")
	disabled.Enabled = false
	require.NoError(t, store.PutRule(ctx, "json-rules", disabled))

	loader := NewLoader(store, expression.NewBuilder())
	set, err := loader.Load(ctx, "json-rules", device.Schema())
	require.NoError(t, err)

	require.Len(t, set.Rules, 1)
	assert.Equal(t, "r-kw", set.Rules[0].Rule.ID)
	assert.NotNil(t, set.Rules[0].When)
	assert.NotNil(t, set.Rules[0].If)
}

func TestLoader_SkipsUncompilableRule(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.PutRule(ctx, "json-rules", kwRule("r-good")))

	bad := kwRule("r-bad")
	bad.IfExpression = `{"left":"NoSuchField","operator":"Equals","right":1}`
	require.NoError(t, store.PutRule(ctx, "json-rules", bad))

	loader := NewLoader(store, expression.NewBuilder())
	set, err := loader.Load(ctx, "json-rules", device.Schema())
	require.NoError(t, err)

	require.Len(t, set.Rules, 1)
	assert.Equal(t, "r-good", set.Rules[0].Rule.ID)
}

func TestLoader_CachesUntilStoreChanges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.PutRule(ctx, "json-rules", kwRule("r-kw")))

	loader := NewLoader(store, expression.NewBuilder())

	first, err := loader.Load(ctx, "json-rules", device.Schema())
	require.NoError(t, err)
	second, err := loader.Load(ctx, "json-rules", device.Schema())
	require.NoError(t, err)
	assert.Same(t, first, second)

	// A write moves the freshness token; the next load recompiles.
	require.NoError(t, store.PutRule(ctx, "json-rules", kwRule("r-kw-2")))
	third, err := loader.Load(ctx, "json-rules", device.Schema())
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Len(t, third.Rules, 2)
}

func TestLoader_MissingSet(t *testing.T) {
	loader := NewLoader(NewMemoryStore(), expression.NewBuilder())

	_, err := loader.Load(context.Background(), "absent", device.Schema())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRuleNotFound)
}

func TestLoader_PassesCodeRulesThrough(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.PutRule(ctx, "code-rules", types.ValidationRule{
		ID: "E1001", Name: "circular path", Type: types.RuleTypeCode,
		ErrorCode: "E1001", Enabled: true,
	}))

	loader := NewLoader(store, expression.NewBuilder())
	set, err := loader.Load(ctx, "code-rules", device.Schema())
	require.NoError(t, err)

	require.Len(t, set.Rules, 1)
	assert.Nil(t, set.Rules[0].If)
	assert.Equal(t, "E1001", set.Rules[0].Rule.ErrorCode)
}
