package coderule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dcvalidate/device"
	"github.com/c360/dcvalidate/pipeline"
	"github.com/c360/dcvalidate/rules"
	"github.com/c360/dcvalidate/types"
)

func execContext(devices ...*device.Device) *pipeline.ExecutionContext {
	ec := pipeline.NewExecutionContext("run-t", types.ValidationJob{
		ID: "job-t", Type: types.ValidationCodeRule, DcName: "dc-east", RuleSetID: "code-rules",
	})
	for _, d := range devices {
		ec.Arena.Add(d)
	}
	return ec
}

func TestCircularPath_DetectsLoop(t *testing.T) {
	ec := execContext(
		&device.Device{Name: "leaf", Parent: "mid"},
		&device.Device{Name: "mid", Parent: "top", Children: []string{"leaf"}},
		&device.Device{Name: "top", Parent: "mid", Children: []string{"mid"}},
	)
	leaf, _ := ec.Arena.Get("leaf")

	evidences, err := NewCircularPath().EvaluateDevice(context.Background(), ec, leaf)
	require.NoError(t, err)
	require.Len(t, evidences, 1)

	assert.False(t, evidences[0].Passed)
	assert.Equal(t, 0.0, evidences[0].Score)
	assert.Contains(t, evidences[0].Actual, "device in loop")
}

func TestCircularPath_CleanChainPasses(t *testing.T) {
	ec := execContext(
		&device.Device{Name: "leaf", Parent: "top"},
		&device.Device{Name: "top", Children: []string{"leaf"}},
	)
	leaf, _ := ec.Arena.Get("leaf")

	evidences, err := NewCircularPath().EvaluateDevice(context.Background(), ec, leaf)
	require.NoError(t, err)
	require.Len(t, evidences, 1)

	assert.True(t, evidences[0].Passed)
	assert.Equal(t, 1.0, evidences[0].Score)
}

func TestCircularPath_SkipsNonLeafDevices(t *testing.T) {
	ec := execContext(
		&device.Device{Name: "top", Children: []string{"leaf"}},
		&device.Device{Name: "leaf", Parent: "top"},
	)
	top, _ := ec.Arena.Get("top")

	evidences, err := NewCircularPath().EvaluateDevice(context.Background(), ec, top)
	require.NoError(t, err)
	assert.Empty(t, evidences)
}

func TestKwMatch(t *testing.T) {
	kw := func(avg float64) []*device.ReadingStat {
		return []*device.ReadingStat{{DataPoint: "kW", Avg: avg}}
	}

	tests := []struct {
		name     string
		parentKw float64
		childKw  []float64
		wantPass bool
	}{
		{"children match parent", 750, []float64{400, 350}, true},
		{"within tolerance", 750, []float64{400, 329.2}, true},
		{"outside tolerance", 750, []float64{200, 100}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			children := make([]string, 0, len(tt.childKw))
			devices := []*device.Device{}
			for i, c := range tt.childKw {
				name := string(rune('a' + i))
				children = append(children, name)
				devices = append(devices, &device.Device{
					Name: name, Parent: "parent", ReadingStats: kw(c),
				})
			}
			devices = append(devices, &device.Device{
				Name: "parent", Children: children, ReadingStats: kw(tt.parentKw),
			})
			ec := execContext(devices...)
			parent, _ := ec.Arena.Get("parent")

			evidences, err := NewKwMatch().EvaluateDevice(context.Background(), ec, parent)
			require.NoError(t, err)
			require.Len(t, evidences, 1)
			assert.Equal(t, tt.wantPass, evidences[0].Passed)
			assert.NotEmpty(t, evidences[0].Remarks)
		})
	}
}

func TestKwMatch_SkipsDevicesWithoutReadings(t *testing.T) {
	ec := execContext(
		&device.Device{Name: "parent", Children: []string{"child"}},
		&device.Device{Name: "child", Parent: "parent"},
	)
	parent, _ := ec.Arena.Get("parent")

	evidences, err := NewKwMatch().EvaluateDevice(context.Background(), ec, parent)
	require.NoError(t, err)
	assert.Empty(t, evidences)
}

func TestHierarchy(t *testing.T) {
	ec := execContext(
		&device.Device{Name: "ups", Hierarchy: 1, Children: []string{"pdu", "skipped"}},
		&device.Device{Name: "pdu", Hierarchy: 2, Parent: "ups"},
		&device.Device{Name: "skipped", Hierarchy: 4, Parent: "ups"},
	)

	pdu, _ := ec.Arena.Get("pdu")
	evidences, err := NewHierarchy().EvaluateDevice(context.Background(), ec, pdu)
	require.NoError(t, err)
	require.Len(t, evidences, 1)
	assert.True(t, evidences[0].Passed)

	skipped, _ := ec.Arena.Get("skipped")
	evidences, err = NewHierarchy().EvaluateDevice(context.Background(), ec, skipped)
	require.NoError(t, err)
	require.Len(t, evidences, 1)
	assert.False(t, evidences[0].Passed)
	assert.Equal(t, 2.0, evidences[0].Expected)
}

func TestHierarchy_UnresolvedParentFails(t *testing.T) {
	ec := execContext(&device.Device{Name: "orphan", Hierarchy: 2, Parent: "ghost"})
	orphan, _ := ec.Arena.Get("orphan")

	evidences, err := NewHierarchy().EvaluateDevice(context.Background(), ec, orphan)
	require.NoError(t, err)
	require.Len(t, evidences, 1)
	assert.False(t, evidences[0].Passed)
}

func TestStaleness(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	ev := NewStaleness()
	ev.now = func() time.Time { return now }

	fresh := &device.Device{Name: "fresh", IsMonitorable: true, LastSeen: now.Add(-time.Hour)}
	stale := &device.Device{Name: "stale", IsMonitorable: true, LastSeen: now.Add(-48 * time.Hour)}
	never := &device.Device{Name: "never", IsMonitorable: true}
	unmonitored := &device.Device{Name: "passive"}

	ec := execContext(fresh, stale, never, unmonitored)

	evidences, err := ev.EvaluateDevice(context.Background(), ec, fresh)
	require.NoError(t, err)
	require.Len(t, evidences, 1)
	assert.True(t, evidences[0].Passed)

	evidences, err = ev.EvaluateDevice(context.Background(), ec, stale)
	require.NoError(t, err)
	require.Len(t, evidences, 1)
	assert.False(t, evidences[0].Passed)

	evidences, err = ev.EvaluateDevice(context.Background(), ec, never)
	require.NoError(t, err)
	require.Len(t, evidences, 1)
	assert.False(t, evidences[0].Passed)
	assert.Equal(t, "never reported", evidences[0].Actual)

	evidences, err = ev.EvaluateDevice(context.Background(), ec, unmonitored)
	require.NoError(t, err)
	assert.Empty(t, evidences)
}

func TestCompleteness_ProportionalScore(t *testing.T) {
	full := &device.Device{
		Name: "full", DeviceType: "PDU", DcName: "dc-east",
		KwRating: 400, AmpRating: 100, VoltageRating: 480,
		OnboardingStatus: "onboarded",
	}
	half := &device.Device{Name: "half", DeviceType: "PDU", DcName: "dc-east", KwRating: 400}

	ec := execContext(full, half)
	ev := NewCompleteness()

	evidences, err := ev.EvaluateDevice(context.Background(), ec, full)
	require.NoError(t, err)
	require.Len(t, evidences, 6)
	for _, e := range evidences {
		assert.True(t, e.Passed, e.PropertyPath)
	}

	evidences, err = ev.EvaluateDevice(context.Background(), ec, half)
	require.NoError(t, err)
	passed := 0
	for _, e := range evidences {
		if e.Passed {
			passed++
		}
	}
	assert.Equal(t, 3, passed)
}

func codePayload(d *device.Device, code string) pipeline.Payload {
	return pipeline.Payload{
		EntityID: d.Name,
		Entity:   d,
		Rule: &rules.CompiledRule{Rule: types.ValidationRule{
			ID: code, Type: types.RuleTypeCode, ErrorCode: code, Enabled: true,
		}},
	}
}

func TestTransformer_ConvertsEvidenceToResult(t *testing.T) {
	ec := execContext(
		&device.Device{Name: "leaf", Parent: "mid"},
		&device.Device{Name: "mid", Parent: "leaf", Children: []string{"leaf"}},
	)
	leaf, _ := ec.Arena.Get("leaf")

	tr := NewTransformer(DefaultEvaluators())
	result, err := tr.Transform(context.Background(), ec, codePayload(leaf, CodeCircularPath))
	require.NoError(t, err)
	require.NotNil(t, result)

	require.NotNil(t, result.Assert)
	assert.False(t, *result.Assert)
	assert.Equal(t, 0.0, result.Score)
	require.Len(t, result.Evidences, 1)
	assert.Equal(t, CodeCircularPath, result.Evidences[0].ErrorCode)
}

func TestTransformer_MeanScoreAcrossEvidence(t *testing.T) {
	half := &device.Device{Name: "half", DeviceType: "PDU", DcName: "dc-east", KwRating: 400}
	ec := execContext(half)

	tr := NewTransformer(DefaultEvaluators())
	result, err := tr.Transform(context.Background(), ec, codePayload(half, CodeCompleteness))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.InDelta(t, 0.5, result.Score, 1e-9)
	require.NotNil(t, result.Assert)
	assert.False(t, *result.Assert)
}

func TestTransformer_InapplicableCheckIsFiltered(t *testing.T) {
	ec := execContext(&device.Device{Name: "passive"})
	d, _ := ec.Arena.Get("passive")

	tr := NewTransformer(DefaultEvaluators())
	result, err := tr.Transform(context.Background(), ec, codePayload(d, CodeStaleness))
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, int64(1), ec.Snapshot().TotalFiltered)
}

func TestTransformer_PanicIsolatedPerEntity(t *testing.T) {
	ec := execContext(&device.Device{Name: "pdu-01"})
	d, _ := ec.Arena.Get("pdu-01")

	tr := NewTransformer([]Evaluator{panicky{}})
	result, err := tr.Transform(context.Background(), ec, codePayload(d, "E9999"))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Nil(t, result.Assert)
	assert.Contains(t, result.Error, "panicked")
	assert.Equal(t, int64(1), ec.Snapshot().TotalFailed)
}

func TestTransformer_UnknownCodeFailsPayload(t *testing.T) {
	ec := execContext(&device.Device{Name: "pdu-01"})
	d, _ := ec.Arena.Get("pdu-01")

	tr := NewTransformer(DefaultEvaluators())
	result, err := tr.Transform(context.Background(), ec, codePayload(d, "E0000"))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Error)
}

type panicky struct{}

func (panicky) RuleName() string  { return "panicky" }
func (panicky) ErrorCode() string { return "E9999" }
func (panicky) EvaluateDevice(context.Context, *pipeline.ExecutionContext, *device.Device) ([]types.Evidence, error) {
	panic("boom")
}
