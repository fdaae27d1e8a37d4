package device

import (
	"sync"

	"github.com/c360/dcvalidate/schema"
)

var (
	descOnce sync.Once
	desc     *schema.Descriptor
)

// Schema returns the shared device descriptor. It is built once; rule
// predicates compiled against it stay valid across runs because topology
// fields resolve through each instance's own arena, not through captured
// state.
func Schema() *schema.Descriptor {
	descOnce.Do(buildSchema)
	return desc
}

func buildSchema() {
	readingDesc := schema.NewDescriptor("ReadingStat",
		&schema.Field{Name: "DataPoint", JSONName: "dataPoint", Type: schema.Type{Kind: schema.String},
			Get: func(v any) any { return v.(*ReadingStat).DataPoint }},
		&schema.Field{Name: "Avg", JSONName: "avg", Type: schema.Type{Kind: schema.Number},
			Get: func(v any) any { return v.(*ReadingStat).Avg }},
		&schema.Field{Name: "Max", JSONName: "max", Type: schema.Type{Kind: schema.Number},
			Get: func(v any) any { return v.(*ReadingStat).Max }},
		&schema.Field{Name: "Min", JSONName: "min", Type: schema.Type{Kind: schema.Number},
			Get: func(v any) any { return v.(*ReadingStat).Min }},
		&schema.Field{Name: "SampleCount", JSONName: "sampleCount", Type: schema.Type{Kind: schema.Number},
			Get: func(v any) any { return float64(v.(*ReadingStat).SampleCount) }},
		&schema.Field{Name: "LastUpdated", JSONName: "lastUpdated", Type: schema.Type{Kind: schema.Time},
			Get: func(v any) any { return v.(*ReadingStat).LastUpdated }},
	)

	desc = schema.NewDescriptor("Device",
		&schema.Field{Name: "Name", JSONName: "name", Type: schema.Type{Kind: schema.String},
			Get: func(v any) any { return v.(*Device).Name }},
		&schema.Field{Name: "DeviceType", JSONName: "deviceType", Type: schema.Type{Kind: schema.String},
			Get: func(v any) any { return v.(*Device).DeviceType }},
		&schema.Field{Name: "DcName", JSONName: "dcName", Type: schema.Type{Kind: schema.String},
			Get: func(v any) any { return v.(*Device).DcName }},
		&schema.Field{Name: "Hierarchy", JSONName: "hierarchy", Type: schema.Type{Kind: schema.Number},
			Get: func(v any) any { return float64(v.(*Device).Hierarchy) }},
		&schema.Field{Name: "AmpRating", JSONName: "ampRating", Type: schema.Type{Kind: schema.Number},
			Get: func(v any) any { return v.(*Device).AmpRating }},
		&schema.Field{Name: "VoltageRating", JSONName: "voltageRating", Type: schema.Type{Kind: schema.Number},
			Get: func(v any) any { return v.(*Device).VoltageRating }},
		&schema.Field{Name: "KwRating", JSONName: "kwRating", Type: schema.Type{Kind: schema.Number},
			Get: func(v any) any { return v.(*Device).KwRating }},
		&schema.Field{Name: "OnboardingStatus", JSONName: "onboardingStatus", Type: schema.Type{Kind: schema.String},
			Get: func(v any) any { return v.(*Device).OnboardingStatus }},
		&schema.Field{Name: "IsMonitorable", JSONName: "isMonitorable", Type: schema.Type{Kind: schema.Bool},
			Get: func(v any) any { return v.(*Device).IsMonitorable }},
		&schema.Field{Name: "LastSeen", JSONName: "lastSeen", Type: schema.Type{Kind: schema.Time},
			Get: func(v any) any { return v.(*Device).LastSeen }},
		&schema.Field{Name: "ReadingStats", JSONName: "readingStats", Type: schema.Type{Kind: schema.Sequence,
			Elem: &schema.Type{Kind: schema.Object, Desc: readingDesc}},
			Get: func(v any) any {
				d := v.(*Device)
				out := make([]any, 0, len(d.ReadingStats))
				for _, rs := range d.ReadingStats {
					out = append(out, rs)
				}
				return out
			}},
	)

	desc.AddField(&schema.Field{Name: "Parent", JSONName: "parent",
		Type: schema.Type{Kind: schema.Object, Desc: desc},
		Get: func(v any) any {
			d := v.(*Device)
			if d.arena == nil || d.Parent == "" {
				return nil
			}
			p, ok := d.arena.Get(d.Parent)
			if !ok {
				return nil
			}
			return p
		}})
	desc.AddField(&schema.Field{Name: "Children", JSONName: "children",
		Type: schema.Type{Kind: schema.Sequence, Elem: &schema.Type{Kind: schema.Object, Desc: desc}},
		Get: func(v any) any {
			d := v.(*Device)
			if d.arena == nil {
				return []any{}
			}
			children := d.arena.ChildrenOf(d.Name)
			out := make([]any, 0, len(children))
			for _, c := range children {
				out = append(out, c)
			}
			return out
		}})
	desc.AddField(&schema.Field{Name: "RedundantWith", JSONName: "redundantWith",
		Type: schema.Type{Kind: schema.Object, Desc: desc},
		Get: func(v any) any {
			d := v.(*Device)
			if d.arena == nil || d.RedundantWith == "" {
				return nil
			}
			peer := d.arena.RedundancyPeer(d.Name)
			if peer == nil {
				return nil
			}
			return peer
		}})
}
