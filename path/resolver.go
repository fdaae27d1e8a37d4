package path

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/operator"
	"github.com/c360/dcvalidate/schema"
)

// Accessor is a compiled property path: a pure function from an instance of
// the root type to the value at the path, plus the resolved output type.
type Accessor struct {
	Path string
	Type schema.Type
	eval func(instance any) (any, error)
}

// Eval applies the accessor to an instance. A nil anywhere along the chain
// yields nil rather than an error so IsNull conditions can observe it.
func (a *Accessor) Eval(instance any) (any, error) {
	return a.eval(instance)
}

type step func(v any) (any, error)

// Resolve compiles a path string against the root descriptor. Every segment
// is type-checked against the previous segment's output type; any mismatch
// or unknown name fails here with a ResolutionError, not at evaluation time.
func Resolve(root *schema.Descriptor, pathStr string) (*Accessor, error) {
	segs, err := parseSegments(pathStr)
	if err != nil {
		return nil, err
	}

	current := schema.Type{Kind: schema.Object, Desc: root}
	steps := make([]step, 0, len(segs))

	for _, seg := range segs {
		var next schema.Type
		var st step
		var rerr error

		switch seg.kind {
		case segField:
			next, st, rerr = resolveField(pathStr, seg, current)
		case segIndex:
			next, st, rerr = resolveIndex(pathStr, seg, current)
		case segFunc:
			next, st, rerr = resolveFunc(pathStr, seg, current)
		}
		if rerr != nil {
			return nil, rerr
		}
		current = next
		steps = append(steps, st)
	}

	return &Accessor{
		Path: pathStr,
		Type: current,
		eval: func(instance any) (any, error) {
			v := instance
			var err error
			for _, st := range steps {
				if v == nil {
					return nil, nil
				}
				v, err = st(v)
				if err != nil {
					return nil, err
				}
			}
			return v, nil
		},
	}, nil
}

func resolveField(pathStr string, seg segment, current schema.Type) (schema.Type, step, error) {
	if current.Kind != schema.Object || current.Desc == nil {
		return schema.Type{}, nil, &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: fmt.Sprintf("field access on %s", current.Name()),
		}
	}
	f, ok := current.Desc.Field(seg.name)
	if !ok {
		return schema.Type{}, nil, &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: fmt.Sprintf("type %s has no field %q", current.Desc.Name, seg.name),
		}
	}
	get := f.Get
	return f.Type, func(v any) (any, error) { return get(v), nil }, nil
}

func resolveIndex(pathStr string, seg segment, current schema.Type) (schema.Type, step, error) {
	if current.Kind != schema.Sequence || current.Elem == nil {
		return schema.Type{}, nil, &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: fmt.Sprintf("indexer on %s", current.Name()),
		}
	}
	idx := seg.index
	st := func(v any) (any, error) {
		seq, ok := v.([]any)
		if !ok {
			return nil, evalErr(pathStr, seg.raw, "value is not a sequence")
		}
		if idx >= len(seq) {
			return nil, evalErr(pathStr, seg.raw, fmt.Sprintf("index %d out of range (len %d)", idx, len(seq)))
		}
		return seq[idx], nil
	}
	return *current.Elem, st, nil
}

func resolveFunc(pathStr string, seg segment, current schema.Type) (schema.Type, step, error) {
	switch strings.ToLower(seg.name) {
	case "count":
		return resolveCount(pathStr, seg, current, false)
	case "distinctcount":
		return resolveCount(pathStr, seg, current, true)
	case "sum", "average", "max", "min":
		return resolveAggregate(pathStr, seg, current)
	case "select":
		return resolveSelect(pathStr, seg, current)
	case "where":
		return resolveWhere(pathStr, seg, current)
	case "orderbydesc":
		return resolveOrderByDesc(pathStr, seg, current)
	case "first", "last":
		return resolveFirstLast(pathStr, seg, current)
	case "traverse":
		return resolveTraverse(pathStr, seg, current)
	default:
		return schema.Type{}, nil, &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: fmt.Sprintf("unknown function %q", seg.name),
		}
	}
}

func requireSequence(pathStr string, seg segment, current schema.Type) error {
	if current.Kind != schema.Sequence || current.Elem == nil {
		return &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: fmt.Sprintf("%s() needs a sequence, got %s", seg.name, current.Name()),
		}
	}
	return nil
}

func requireArgs(pathStr string, seg segment, want int) error {
	if len(seg.args) != want {
		return &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: fmt.Sprintf("%s() takes %d argument(s), got %d", seg.name, want, len(seg.args)),
		}
	}
	return nil
}

func resolveCount(pathStr string, seg segment, current schema.Type, distinct bool) (schema.Type, step, error) {
	if err := requireSequence(pathStr, seg, current); err != nil {
		return schema.Type{}, nil, err
	}
	if err := requireArgs(pathStr, seg, 0); err != nil {
		return schema.Type{}, nil, err
	}
	if distinct && !current.Elem.Kind.Scalar() {
		return schema.Type{}, nil, &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: "DistinctCount() needs scalar elements",
		}
	}

	st := func(v any) (any, error) {
		seq, ok := v.([]any)
		if !ok {
			return nil, evalErr(pathStr, seg.raw, "value is not a sequence")
		}
		if !distinct {
			return float64(len(seq)), nil
		}
		seen := make(map[string]struct{}, len(seq))
		for _, item := range seq {
			seen[scalarKey(item)] = struct{}{}
		}
		return float64(len(seen)), nil
	}
	return schema.Type{Kind: schema.Number}, st, nil
}

// resolveAggregate handles Sum, Average, Max and Min, with an optional field
// argument projecting object elements to a numeric field first.
func resolveAggregate(pathStr string, seg segment, current schema.Type) (schema.Type, step, error) {
	if err := requireSequence(pathStr, seg, current); err != nil {
		return schema.Type{}, nil, err
	}
	if len(seg.args) > 1 {
		return schema.Type{}, nil, &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: fmt.Sprintf("%s() takes at most one argument", seg.name),
		}
	}

	project, err := numericProjection(pathStr, seg, *current.Elem)
	if err != nil {
		return schema.Type{}, nil, err
	}

	fn := strings.ToLower(seg.name)
	st := func(v any) (any, error) {
		seq, ok := v.([]any)
		if !ok {
			return nil, evalErr(pathStr, seg.raw, "value is not a sequence")
		}
		if len(seq) == 0 {
			if fn == "sum" {
				return 0.0, nil
			}
			return nil, evalErr(pathStr, seg.raw, fmt.Sprintf("%s() of empty sequence", seg.name))
		}

		var acc float64
		for i, item := range seq {
			n, err := project(item)
			if err != nil {
				return nil, err
			}
			switch fn {
			case "sum", "average":
				acc += n
			case "max":
				if i == 0 || n > acc {
					acc = n
				}
			case "min":
				if i == 0 || n < acc {
					acc = n
				}
			}
		}
		if fn == "average" {
			acc /= float64(len(seq))
		}
		return acc, nil
	}
	return schema.Type{Kind: schema.Number}, st, nil
}

// numericProjection builds an element-to-float64 function for aggregates:
// either the element itself (numeric elements, no argument) or a declared
// numeric field of object elements.
func numericProjection(pathStr string, seg segment, elem schema.Type) (func(any) (float64, error), error) {
	if len(seg.args) == 0 {
		if elem.Kind != schema.Number {
			return nil, &ResolutionError{
				Path: pathStr, Segment: seg.raw,
				Reason: fmt.Sprintf("%s() without argument needs numeric elements, got %s", seg.name, elem.Name()),
			}
		}
		return func(item any) (float64, error) {
			n, ok := asFloat(item)
			if !ok {
				return 0, evalErr(pathStr, seg.raw, fmt.Sprintf("element %v is not numeric", item))
			}
			return n, nil
		}, nil
	}

	f, err := objectField(pathStr, seg, elem, seg.args[0])
	if err != nil {
		return nil, err
	}
	if f.Type.Kind != schema.Number {
		return nil, &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: fmt.Sprintf("field %q is %s, %s() needs a number", seg.args[0], f.Type.Name(), seg.name),
		}
	}
	get := f.Get
	return func(item any) (float64, error) {
		n, ok := asFloat(get(item))
		if !ok {
			return 0, evalErr(pathStr, seg.raw, fmt.Sprintf("field %q of element is not numeric", seg.args[0]))
		}
		return n, nil
	}, nil
}

func objectField(pathStr string, seg segment, elem schema.Type, name string) (*schema.Field, error) {
	if elem.Kind != schema.Object || elem.Desc == nil {
		return nil, &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: fmt.Sprintf("%s(%s) needs object elements, got %s", seg.name, name, elem.Name()),
		}
	}
	f, ok := elem.Desc.Field(name)
	if !ok {
		return nil, &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: fmt.Sprintf("element type %s has no field %q", elem.Desc.Name, name),
		}
	}
	return f, nil
}

func resolveSelect(pathStr string, seg segment, current schema.Type) (schema.Type, step, error) {
	if err := requireSequence(pathStr, seg, current); err != nil {
		return schema.Type{}, nil, err
	}
	if err := requireArgs(pathStr, seg, 1); err != nil {
		return schema.Type{}, nil, err
	}
	f, err := objectField(pathStr, seg, *current.Elem, seg.args[0])
	if err != nil {
		return schema.Type{}, nil, err
	}

	get := f.Get
	st := func(v any) (any, error) {
		seq, ok := v.([]any)
		if !ok {
			return nil, evalErr(pathStr, seg.raw, "value is not a sequence")
		}
		out := make([]any, 0, len(seq))
		for _, item := range seq {
			out = append(out, get(item))
		}
		return out, nil
	}
	elem := f.Type
	return schema.Type{Kind: schema.Sequence, Elem: &elem}, st, nil
}

func resolveWhere(pathStr string, seg segment, current schema.Type) (schema.Type, step, error) {
	if err := requireSequence(pathStr, seg, current); err != nil {
		return schema.Type{}, nil, err
	}
	if err := requireArgs(pathStr, seg, 3); err != nil {
		return schema.Type{}, nil, err
	}

	f, err := objectField(pathStr, seg, *current.Elem, seg.args[0])
	if err != nil {
		return schema.Type{}, nil, err
	}

	op, err := operator.Parse(seg.args[1])
	if err != nil {
		return schema.Type{}, nil, &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: fmt.Sprintf("unknown operator %q", seg.args[1]),
		}
	}
	if err := operator.CheckLeftType(op, f.Type); err != nil {
		return schema.Type{}, nil, &ResolutionError{
			Path: pathStr, Segment: seg.raw, Reason: err.Error(),
		}
	}

	var literal any
	if op.WantsList() {
		literal = seg.args[2]
	} else if !op.Unary() {
		literal, err = ParseLiteral(f.Type.Kind, seg.args[2])
		if err != nil {
			return schema.Type{}, nil, &ResolutionError{
				Path: pathStr, Segment: seg.raw,
				Reason: fmt.Sprintf("literal %q is not a valid %s", seg.args[2], f.Type.Kind),
			}
		}
	}

	get := f.Get
	st := func(v any) (any, error) {
		seq, ok := v.([]any)
		if !ok {
			return nil, evalErr(pathStr, seg.raw, "value is not a sequence")
		}
		out := make([]any, 0, len(seq))
		for _, item := range seq {
			match, err := operator.Apply(op, get(item), literal, nil)
			if err != nil {
				return nil, evalErr(pathStr, seg.raw, err.Error())
			}
			if match {
				out = append(out, item)
			}
		}
		return out, nil
	}
	return current, st, nil
}

func resolveOrderByDesc(pathStr string, seg segment, current schema.Type) (schema.Type, step, error) {
	if err := requireSequence(pathStr, seg, current); err != nil {
		return schema.Type{}, nil, err
	}
	if err := requireArgs(pathStr, seg, 1); err != nil {
		return schema.Type{}, nil, err
	}

	f, err := objectField(pathStr, seg, *current.Elem, seg.args[0])
	if err != nil {
		return schema.Type{}, nil, err
	}
	switch f.Type.Kind {
	case schema.Number, schema.String, schema.Time:
	default:
		return schema.Type{}, nil, &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: fmt.Sprintf("OrderByDesc needs an ordered field, %q is %s", seg.args[0], f.Type.Name()),
		}
	}

	get := f.Get
	st := func(v any) (any, error) {
		seq, ok := v.([]any)
		if !ok {
			return nil, evalErr(pathStr, seg.raw, "value is not a sequence")
		}
		out := make([]any, len(seq))
		copy(out, seq)
		sort.SliceStable(out, func(i, j int) bool {
			return descLess(get(out[j]), get(out[i]))
		})
		return out, nil
	}
	return current, st, nil
}

// descLess orders values ascending for use under a reversed comparison.
func descLess(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af < bf
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Before(bt)
		}
	}
	return strings.ToLower(fmt.Sprintf("%v", a)) < strings.ToLower(fmt.Sprintf("%v", b))
}

func resolveFirstLast(pathStr string, seg segment, current schema.Type) (schema.Type, step, error) {
	if err := requireSequence(pathStr, seg, current); err != nil {
		return schema.Type{}, nil, err
	}
	if err := requireArgs(pathStr, seg, 0); err != nil {
		return schema.Type{}, nil, err
	}

	last := strings.EqualFold(seg.name, "last")
	st := func(v any) (any, error) {
		seq, ok := v.([]any)
		if !ok {
			return nil, evalErr(pathStr, seg.raw, "value is not a sequence")
		}
		if len(seq) == 0 {
			return nil, evalErr(pathStr, seg.raw, fmt.Sprintf("%s() of empty sequence", seg.name))
		}
		if last {
			return seq[len(seq)-1], nil
		}
		return seq[0], nil
	}
	return *current.Elem, st, nil
}

// resolveTraverse compiles Traverse(parentField, valueField): follow
// parentField hops from the instance, collecting valueField at each node
// until the relation goes null. The walk tracks visited nodes by their value
// key and stops on the first revisit, so cyclic topologies terminate instead
// of looping.
func resolveTraverse(pathStr string, seg segment, current schema.Type) (schema.Type, step, error) {
	if current.Kind != schema.Object || current.Desc == nil {
		return schema.Type{}, nil, &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: fmt.Sprintf("Traverse on %s", current.Name()),
		}
	}
	if err := requireArgs(pathStr, seg, 2); err != nil {
		return schema.Type{}, nil, err
	}

	parentF, err := objectField(pathStr, seg, current, seg.args[0])
	if err != nil {
		return schema.Type{}, nil, err
	}
	if parentF.Type.Kind != schema.Object || parentF.Type.Desc != current.Desc {
		return schema.Type{}, nil, &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: fmt.Sprintf("Traverse field %q must be a recursive %s relation", seg.args[0], current.Desc.Name),
		}
	}
	valueF, err := objectField(pathStr, seg, current, seg.args[1])
	if err != nil {
		return schema.Type{}, nil, err
	}
	if !valueF.Type.Kind.Scalar() {
		return schema.Type{}, nil, &ResolutionError{
			Path: pathStr, Segment: seg.raw,
			Reason: fmt.Sprintf("Traverse value field %q must be scalar", seg.args[1]),
		}
	}

	getParent := parentF.Get
	getValue := valueF.Get
	st := func(v any) (any, error) {
		var out []any
		visited := make(map[string]struct{})
		for node := v; node != nil; node = getParent(node) {
			key := scalarKey(getValue(node))
			if _, seen := visited[key]; seen {
				break
			}
			visited[key] = struct{}{}
			out = append(out, getValue(node))
		}
		return out, nil
	}
	elem := valueF.Type
	return schema.Type{Kind: schema.Sequence, Elem: &elem}, st, nil
}

func evalErr(pathStr, seg, reason string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: segment %q of %q: %s", errors.ErrEvaluationFailed, seg, pathStr, reason),
		"path", "Eval", "path evaluation")
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func scalarKey(v any) string {
	switch t := v.(type) {
	case string:
		return "s:" + strings.ToLower(t)
	case float64:
		return "n:" + strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return "b:" + strconv.FormatBool(t)
	case time.Time:
		return "t:" + t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("v:%v", t)
	}
}
