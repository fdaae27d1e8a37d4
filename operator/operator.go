// Package operator implements the comparison and collection operators used
// by rule condition leaves and by Where() path segments. Operators are pure:
// they never mutate their operands, and type compatibility is checked by the
// expression builder before any operator runs.
package operator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/c360/dcvalidate/errors"
)

// Operator identifies one comparison or collection operation.
type Operator int

const (
	// Unknown is the zero value; never valid in a parsed expression
	Unknown Operator = iota
	// Equals tests natural equality per the left side's type
	Equals
	// NotEquals is the negation of Equals
	NotEquals
	// GreaterThan orders numbers, strings and times
	GreaterThan
	// GreaterThanOrEqual orders numbers, strings and times
	GreaterThanOrEqual
	// LessThan orders numbers, strings and times
	LessThan
	// LessThanOrEqual orders numbers, strings and times
	LessThanOrEqual
	// Contains is a case-insensitive substring test on strings, membership on sequences
	Contains
	// NotContains is the negation of Contains
	NotContains
	// ContainsAll requires every right-list item to be contained
	ContainsAll
	// NotContainsAll is the negation of ContainsAll
	NotContainsAll
	// StartsWith is a case-insensitive prefix test
	StartsWith
	// NotStartsWith is the negation of StartsWith
	NotStartsWith
	// In tests scalar membership in the right-side comma list
	In
	// NotIn is the negation of In
	NotIn
	// AllIn requires every left-sequence element to be in the right list
	AllIn
	// NotAllIn is the negation of AllIn
	NotAllIn
	// AnyIn requires at least one left-sequence element in the right list
	AnyIn
	// NotAnyIn is the negation of AnyIn
	NotAnyIn
	// IsNull tests for an absent value
	IsNull
	// NotIsNull is the negation of IsNull
	NotIsNull
	// IsEmpty tests for an absent or zero-length string/sequence
	IsEmpty
	// NotIsEmpty is the negation of IsEmpty
	NotIsEmpty
	// DiffWithinPct passes when the relative difference is within a tolerance percentage
	DiffWithinPct
)

var names = map[Operator]string{
	Equals:             "Equals",
	NotEquals:          "NotEquals",
	GreaterThan:        "GreaterThan",
	GreaterThanOrEqual: "GreaterThanOrEqual",
	LessThan:           "LessThan",
	LessThanOrEqual:    "LessThanOrEqual",
	Contains:           "Contains",
	NotContains:        "NotContains",
	ContainsAll:        "ContainsAll",
	NotContainsAll:     "NotContainsAll",
	StartsWith:         "StartsWith",
	NotStartsWith:      "NotStartsWith",
	In:                 "In",
	NotIn:              "NotIn",
	AllIn:              "AllIn",
	NotAllIn:           "NotAllIn",
	AnyIn:              "AnyIn",
	NotAnyIn:           "NotAnyIn",
	IsNull:             "IsNull",
	NotIsNull:          "NotIsNull",
	IsEmpty:            "IsEmpty",
	NotIsEmpty:         "NotIsEmpty",
	DiffWithinPct:      "DiffWithinPct",
}

var byName = func() map[string]Operator {
	m := make(map[string]Operator, len(names))
	for op, n := range names {
		m[strings.ToLower(n)] = op
	}
	return m
}()

func (op Operator) String() string {
	if n, ok := names[op]; ok {
		return n
	}
	return "Unknown"
}

// Parse converts an operator name to its Operator value, case-insensitively.
// An unrecognized name returns an invalid-class error naming the bad token.
func Parse(s string) (Operator, error) {
	if op, ok := byName[strings.ToLower(strings.TrimSpace(s))]; ok {
		return op, nil
	}
	return Unknown, errors.WrapInvalid(
		fmt.Errorf("%w: %q", errors.ErrUnknownOperator, s),
		"operator", "Parse", "operator lookup")
}

// Unary reports whether the operator takes no right side.
func (op Operator) Unary() bool {
	switch op {
	case IsNull, NotIsNull, IsEmpty, NotIsEmpty:
		return true
	default:
		return false
	}
}

// WantsList reports whether the right side is a comma-separated literal list.
func (op Operator) WantsList() bool {
	switch op {
	case In, NotIn, AllIn, NotAllIn, AnyIn, NotAnyIn, ContainsAll, NotContainsAll:
		return true
	default:
		return false
	}
}

// NeedsSequenceLeft reports whether the left side must be a sequence.
func (op Operator) NeedsSequenceLeft() bool {
	switch op {
	case AllIn, NotAllIn, AnyIn, NotAnyIn:
		return true
	default:
		return false
	}
}

// Apply evaluates the operator over the resolved left and right values.
// args carries extra literal arguments, e.g. the tolerance for DiffWithinPct.
func Apply(op Operator, left, right any, args []string) (bool, error) {
	switch op {
	case Equals:
		return looseEqual(left, right), nil
	case NotEquals:
		return !looseEqual(left, right), nil
	case GreaterThan, GreaterThanOrEqual, LessThan, LessThanOrEqual:
		cmp, err := compare(left, right)
		if err != nil {
			return false, err
		}
		switch op {
		case GreaterThan:
			return cmp > 0, nil
		case GreaterThanOrEqual:
			return cmp >= 0, nil
		case LessThan:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case Contains:
		return contains(left, right)
	case NotContains:
		ok, err := contains(left, right)
		return !ok, err
	case ContainsAll:
		return containsAll(left, right)
	case NotContainsAll:
		ok, err := containsAll(left, right)
		return !ok, err
	case StartsWith:
		return startsWith(left, right), nil
	case NotStartsWith:
		return !startsWith(left, right), nil
	case In:
		return inList(left, right), nil
	case NotIn:
		return !inList(left, right), nil
	case AllIn:
		return allIn(left, right)
	case NotAllIn:
		ok, err := allIn(left, right)
		return !ok, err
	case AnyIn:
		return anyIn(left, right)
	case NotAnyIn:
		ok, err := anyIn(left, right)
		return !ok, err
	case IsNull:
		return left == nil, nil
	case NotIsNull:
		return left != nil, nil
	case IsEmpty:
		return isEmpty(left), nil
	case NotIsEmpty:
		return !isEmpty(left), nil
	case DiffWithinPct:
		pass, _, err := diffWithinPct(left, right, args)
		return pass, err
	default:
		return false, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrUnknownOperator, op),
			"operator", "Apply", "operator dispatch")
	}
}

// Score evaluates the operator and returns a score in [0,1]: 1 for pass,
// 0 for a hard fail, and a proportional value for tolerance operators.
func Score(op Operator, left, right any, args []string) (bool, float64, error) {
	if op == DiffWithinPct {
		return diffWithinPct(left, right, args)
	}
	pass, err := Apply(op, left, right, args)
	if err != nil {
		return false, 0, err
	}
	if pass {
		return true, 1.0, nil
	}
	return false, 0, nil
}

// SplitList splits a comma-separated literal list, trimming surrounding
// whitespace and discarding entries that are empty after trimming.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// listFrom accepts either a raw string or an already-split []string.
func listFrom(right any) []string {
	switch v := right.(type) {
	case []string:
		return v
	case string:
		return SplitList(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s := strings.TrimSpace(stringify(item))
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return SplitList(stringify(right))
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// toFloat64 normalizes any numeric representation to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// looseEqual applies the natural equality for the operand types: numeric
// compare for numbers, instant compare for times, ordinal case-insensitive
// compare for everything else.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if at, aok := a.(time.Time); aok {
		if bt, bok := toTime(b); bok {
			return at.Equal(bt)
		}
		return false
	}
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			return af == bf
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := toBool(b); bok {
			return ab == bb
		}
	}
	return strings.EqualFold(stringify(a), stringify(b))
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(b)))
		return parsed, err == nil
	default:
		return false, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(t))
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}

func compare(a, b any) (int, error) {
	if at, aok := a.(time.Time); aok {
		bt, bok := toTime(b)
		if !bok {
			return 0, typeErr("Compare", a, b)
		}
		return at.Compare(bt), nil
	}
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			switch {
			case af < bf:
				return -1, nil
			case af > bf:
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(strings.ToLower(as), strings.ToLower(bs)), nil
	}
	return 0, typeErr("Compare", a, b)
}

func typeErr(op string, a, b any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: cannot apply to %T and %T", errors.ErrOperatorType, a, b),
		"operator", op, "operand typing")
}

func contains(left, right any) (bool, error) {
	switch l := left.(type) {
	case nil:
		return false, nil
	case []any:
		for _, item := range l {
			if looseEqual(item, right) {
				return true, nil
			}
		}
		return false, nil
	case string:
		return strings.Contains(strings.ToLower(l), strings.ToLower(stringify(right))), nil
	default:
		return strings.Contains(strings.ToLower(stringify(left)), strings.ToLower(stringify(right))), nil
	}
}

func containsAll(left, right any) (bool, error) {
	items := listFrom(right)
	for _, item := range items {
		ok, err := contains(left, item)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func startsWith(left, right any) bool {
	return strings.HasPrefix(strings.ToLower(stringify(left)), strings.ToLower(stringify(right)))
}

func inList(left, right any) bool {
	for _, item := range listFrom(right) {
		if looseEqual(left, item) {
			return true
		}
	}
	return false
}

func sequenceOf(left any) ([]any, error) {
	switch l := left.(type) {
	case nil:
		return nil, nil
	case []any:
		return l, nil
	default:
		return nil, typeErr("sequenceOf", left, nil)
	}
}

func allIn(left, right any) (bool, error) {
	seq, err := sequenceOf(left)
	if err != nil {
		return false, err
	}
	for _, item := range seq {
		if !inList(item, right) {
			return false, nil
		}
	}
	return true, nil
}

func anyIn(left, right any) (bool, error) {
	seq, err := sequenceOf(left)
	if err != nil {
		return false, err
	}
	for _, item := range seq {
		if inList(item, right) {
			return true, nil
		}
	}
	return false, nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// diffWithinPct returns pass, a proportional score, and the raw difference
// percentage via the error path when operands are not numeric. A right side
// of zero passes only when the left side is also zero. Differences beyond
// 100% saturate the score at zero; the caller keeps the raw percentage in
// evidence remarks.
func diffWithinPct(left, right any, args []string) (bool, float64, error) {
	if len(args) == 0 {
		return false, 0, errors.WrapInvalid(
			fmt.Errorf("%w: DiffWithinPct requires a tolerance argument", errors.ErrMissingOperatorArg),
			"operator", "DiffWithinPct", "argument check")
	}
	tolerance, err := strconv.ParseFloat(strings.TrimSpace(args[0]), 64)
	if err != nil {
		return false, 0, errors.WrapInvalid(
			fmt.Errorf("%w: tolerance %q is not numeric", errors.ErrMissingOperatorArg, args[0]),
			"operator", "DiffWithinPct", "argument parsing")
	}

	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return false, 0, typeErr("DiffWithinPct", left, right)
	}

	if rf == 0 {
		if lf == 0 {
			return true, 1.0, nil
		}
		return false, 0, nil
	}

	diffPct := abs(lf-rf) / abs(rf) * 100
	score := 1 - diffPct/100
	if score < 0 {
		score = 0
	}
	return diffPct <= tolerance, score, nil
}

// DiffPct exposes the raw difference percentage for evidence remarks.
func DiffPct(left, right any) (float64, bool) {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok || rf == 0 {
		return 0, false
	}
	return abs(lf-rf) / abs(rf) * 100, true
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
