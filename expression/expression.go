// Package expression parses JSON condition trees into immutable expression
// ASTs and compiles them, against a schema descriptor, into reusable boolean
// predicates with per-leaf evidence extraction.
//
// A condition tree is either a leaf {left, operator, right} or a combinator:
// {"allOf": [...]}, {"anyOf": [...]}, {"not": {...}}.
package expression

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/operator"
)

// Args is a list of extra operator arguments. JSON may carry them as strings
// or numbers; both decode to strings.
type Args []string

// UnmarshalJSON accepts ["10"] as well as [10].
func (a *Args) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		case bool:
			out = append(out, strconv.FormatBool(v))
		default:
			return fmt.Errorf("unsupported operator argument %v", item)
		}
	}
	*a = out
	return nil
}

// ConditionExpression is one node of a parsed condition tree. Exactly one
// shape is populated: leaf fields, AllOf, AnyOf or Not. Trees are immutable
// once parsed; leaves are the only nodes carrying an operator.
type ConditionExpression struct {
	Left                  string `json:"left,omitempty"`
	Operator              string `json:"operator,omitempty"`
	Right                 any    `json:"right,omitempty"`
	RightSideIsExpression bool   `json:"rightSideIsExpression,omitempty"`
	OperatorArgs          Args   `json:"operatorArgs,omitempty"`

	AllOf []*ConditionExpression `json:"allOf,omitempty"`
	AnyOf []*ConditionExpression `json:"anyOf,omitempty"`
	Not   *ConditionExpression   `json:"not,omitempty"`

	op operator.Operator
}

// IsLeaf reports whether the node is a leaf comparison.
func (c *ConditionExpression) IsLeaf() bool {
	return len(c.AllOf) == 0 && len(c.AnyOf) == 0 && c.Not == nil
}

// Op returns the parsed operator for a leaf node.
func (c *ConditionExpression) Op() operator.Operator {
	return c.op
}

// Parse decodes and validates a JSON condition tree. Missing required leaf
// fields fail with an error wrapping ErrMissingConditionFields; an
// unrecognized operator name fails wrapping ErrUnknownOperator.
func Parse(data []byte) (*ConditionExpression, error) {
	var expr ConditionExpression
	if err := json.Unmarshal(data, &expr); err != nil {
		return nil, errors.WrapInvalid(err, "expression", "Parse", "condition JSON decoding")
	}
	if err := validate(&expr); err != nil {
		return nil, err
	}
	return &expr, nil
}

// ParseString is a convenience wrapper for rule documents that embed
// condition trees as string fields.
func ParseString(s string) (*ConditionExpression, error) {
	return Parse([]byte(s))
}

func validate(c *ConditionExpression) error {
	switch {
	case len(c.AllOf) > 0:
		for _, child := range c.AllOf {
			if err := validate(child); err != nil {
				return err
			}
		}
		return nil
	case len(c.AnyOf) > 0:
		for _, child := range c.AnyOf {
			if err := validate(child); err != nil {
				return err
			}
		}
		return nil
	case c.Not != nil:
		return validate(c.Not)
	default:
		return validateLeaf(c)
	}
}

func validateLeaf(c *ConditionExpression) error {
	if c.Left == "" || c.Operator == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: left and operator are mandatory", errors.ErrMissingConditionFields),
			"expression", "Parse", "leaf validation")
	}

	op, err := operator.Parse(c.Operator)
	if err != nil {
		return err
	}
	c.op = op

	if !op.Unary() && c.Right == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: operator %s requires a right side", errors.ErrMissingConditionFields, op),
			"expression", "Parse", "leaf validation")
	}
	if op == operator.DiffWithinPct && len(c.OperatorArgs) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: DiffWithinPct requires a tolerance in operatorArgs", errors.ErrMissingOperatorArg),
			"expression", "Parse", "leaf validation")
	}
	return nil
}
