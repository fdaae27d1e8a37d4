package operator

import (
	"fmt"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/schema"
)

// CheckLeftType verifies at resolution time that the operator can be applied
// to a left side of the given type. Incompatibilities are invalid-class
// errors so the rule is skipped rather than evaluated.
func CheckLeftType(op Operator, t schema.Type) error {
	bad := func(reason string) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s cannot apply to %s (%s)", errors.ErrOperatorType, op, t.Name(), reason),
			"operator", "CheckLeftType", "left side typing")
	}

	switch op {
	case Equals, NotEquals:
		if !t.Kind.Scalar() {
			return bad("equality needs a scalar")
		}
	case GreaterThan, GreaterThanOrEqual, LessThan, LessThanOrEqual:
		switch t.Kind {
		case schema.Number, schema.String, schema.Time:
			// ordered kinds
		default:
			return bad("ordering needs number, string or time")
		}
	case Contains, NotContains, ContainsAll, NotContainsAll:
		if t.Kind != schema.String && t.Kind != schema.Sequence {
			return bad("containment needs a string or sequence")
		}
	case StartsWith, NotStartsWith:
		if t.Kind != schema.String {
			return bad("prefix test needs a string")
		}
	case In, NotIn:
		if !t.Kind.Scalar() {
			return bad("membership needs a scalar")
		}
	case AllIn, NotAllIn, AnyIn, NotAnyIn:
		if t.Kind != schema.Sequence {
			return bad("set membership needs a sequence")
		}
	case IsNull, NotIsNull:
		// any type can be null-checked
	case IsEmpty, NotIsEmpty:
		if t.Kind != schema.String && t.Kind != schema.Sequence {
			return bad("emptiness needs a string or sequence")
		}
	case DiffWithinPct:
		if t.Kind != schema.Number {
			return bad("percentage difference needs a number")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrUnknownOperator, op),
			"operator", "CheckLeftType", "operator lookup")
	}
	return nil
}
