package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dcvalidate/expression"
	"github.com/c360/dcvalidate/path"
)

func testArena() *Arena {
	a := NewArena()
	a.Add(&Device{Name: "ups-01", DeviceType: "UPS", DcName: "dc-east", Hierarchy: 1,
		KwRating: 800, Children: []string{"pdu-01", "pdu-02"}})
	a.Add(&Device{Name: "pdu-01", DeviceType: "PDU", DcName: "dc-east", Hierarchy: 2,
		Parent: "ups-01", KwRating: 400, RedundantWith: "pdu-02",
		Children: []string{"rpp-01"},
		ReadingStats: []*ReadingStat{
			{DataPoint: "kW", Avg: 310.5, Max: 350, Min: 280, SampleCount: 12},
			{DataPoint: "Amps", Avg: 120, Max: 130, Min: 110, SampleCount: 12},
		}})
	a.Add(&Device{Name: "pdu-02", DeviceType: "PDU", DcName: "dc-east", Hierarchy: 2,
		Parent: "ups-01", KwRating: 400, RedundantWith: "pdu-01"})
	a.Add(&Device{Name: "rpp-01", DeviceType: "RPP", DcName: "dc-east", Hierarchy: 3,
		Parent: "pdu-01", KwRating: 100})
	return a
}

func TestArena_GetIsCaseInsensitive(t *testing.T) {
	a := testArena()

	d, ok := a.Get("PDU-01")
	require.True(t, ok)
	assert.Equal(t, "pdu-01", d.Name)

	_, ok = a.Get("pdu-99")
	assert.False(t, ok)
}

func TestArena_ChildrenOf(t *testing.T) {
	a := testArena()

	children := a.ChildrenOf("ups-01")
	require.Len(t, children, 2)
	assert.Equal(t, "pdu-01", children[0].Name)
	assert.Equal(t, "pdu-02", children[1].Name)

	assert.Empty(t, a.ChildrenOf("rpp-01"))
}

func TestArena_ChildrenOfDropsDanglingReference(t *testing.T) {
	a := NewArena()
	a.Add(&Device{Name: "ups-01", Children: []string{"pdu-01", "pdu-gone"}})
	a.Add(&Device{Name: "pdu-01", Parent: "ups-01"})

	children := a.ChildrenOf("ups-01")
	require.Len(t, children, 1)
	assert.Equal(t, "pdu-01", children[0].Name)
}

func TestArena_RedundancyPeer(t *testing.T) {
	a := testArena()

	peer := a.RedundancyPeer("pdu-01")
	require.NotNil(t, peer)
	assert.Equal(t, "pdu-02", peer.Name)

	assert.Nil(t, a.RedundancyPeer("ups-01"))
}

func TestArena_AncestorChain(t *testing.T) {
	a := testArena()

	chain, loop := a.AncestorChain("rpp-01")
	require.Len(t, chain, 3)
	assert.Equal(t, "rpp-01", chain[0].Name)
	assert.Equal(t, "pdu-01", chain[1].Name)
	assert.Equal(t, "ups-01", chain[2].Name)
	assert.Empty(t, loop)
}

func TestArena_AncestorChainDetectsLoop(t *testing.T) {
	a := NewArena()
	a.Add(&Device{Name: "leaf", Parent: "mid"})
	a.Add(&Device{Name: "mid", Parent: "top"})
	a.Add(&Device{Name: "top", Parent: "mid"})

	chain, loop := a.AncestorChain("leaf")
	require.Len(t, chain, 3)
	assert.Equal(t, []string{"mid", "top"}, loop)
}

func TestArena_AncestorChainSelfParent(t *testing.T) {
	a := NewArena()
	a.Add(&Device{Name: "solo", Parent: "solo"})

	chain, loop := a.AncestorChain("solo")
	require.Len(t, chain, 1)
	assert.Equal(t, []string{"solo"}, loop)
}

func TestSchema_TopologyFieldsResolveThroughArena(t *testing.T) {
	a := testArena()
	d, _ := a.Get("pdu-01")

	acc, err := path.Resolve(Schema(), "Parent.KwRating")
	require.NoError(t, err)
	got, err := acc.Eval(d)
	require.NoError(t, err)
	assert.Equal(t, 800.0, got)

	acc, err = path.Resolve(Schema(), "Children.Count()")
	require.NoError(t, err)
	got, err = acc.Eval(d)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	acc, err = path.Resolve(Schema(), "RedundantWith.Name")
	require.NoError(t, err)
	got, err = acc.Eval(d)
	require.NoError(t, err)
	assert.Equal(t, "pdu-02", got)
}

func TestSchema_ReadingStatsWhereSum(t *testing.T) {
	a := testArena()
	d, _ := a.Get("pdu-01")

	acc, err := path.Resolve(Schema(), "ReadingStats.Where(DataPoint,Equals,'kW').Sum(Avg)")
	require.NoError(t, err)
	got, err := acc.Eval(d)
	require.NoError(t, err)
	assert.Equal(t, 310.5, got)
}

func TestSchema_UnboundDeviceTopologyIsNull(t *testing.T) {
	d := &Device{Name: "detached", Parent: "ups-01"}

	acc, err := path.Resolve(Schema(), "Parent.Name")
	require.NoError(t, err)
	got, err := acc.Eval(d)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSchema_PredicateReusableAcrossArenas(t *testing.T) {
	expr, err := expression.ParseString(
		`{"left":"Children.Sum(KwRating)","operator":"DiffWithinPct","right":"KwRating","rightSideIsExpression":true,"operatorArgs":[5]}`)
	require.NoError(t, err)

	b := expression.NewBuilder()
	pred, err := b.BuildCached("kw-match.if", Schema(), expr)
	require.NoError(t, err)

	a1 := testArena()
	ups, _ := a1.Get("ups-01")
	pass, err := pred(ups)
	require.NoError(t, err)
	assert.True(t, pass)

	a2 := NewArena()
	a2.Add(&Device{Name: "ups-01", KwRating: 800, Children: []string{"pdu-01"}})
	a2.Add(&Device{Name: "pdu-01", Parent: "ups-01", KwRating: 300})
	under, _ := a2.Get("ups-01")
	pass, err = pred(under)
	require.NoError(t, err)
	assert.False(t, pass)
}

func TestDevice_Reading(t *testing.T) {
	a := testArena()
	d, _ := a.Get("pdu-01")

	rs := d.Reading("kw")
	require.NotNil(t, rs)
	assert.Equal(t, 310.5, rs.Avg)

	assert.Nil(t, d.Reading("Volts"))
}

func TestDevice_IsLeaf(t *testing.T) {
	a := testArena()

	rpp, _ := a.Get("rpp-01")
	assert.True(t, rpp.IsLeaf())

	ups, _ := a.Get("ups-01")
	assert.False(t, ups.IsLeaf())
}

func TestArena_AllSortedByName(t *testing.T) {
	a := testArena()

	all := a.All()
	require.Len(t, all, 4)
	names := make([]string, 0, len(all))
	for _, d := range all {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"pdu-01", "pdu-02", "rpp-01", "ups-01"}, names)
}

func TestReadingStat_TimeFieldKind(t *testing.T) {
	a := NewArena()
	seen := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	a.Add(&Device{Name: "pdu-01", LastSeen: seen})
	d, _ := a.Get("pdu-01")

	acc, err := path.Resolve(Schema(), "LastSeen")
	require.NoError(t, err)
	got, err := acc.Eval(d)
	require.NoError(t, err)
	assert.Equal(t, seen, got)
}
