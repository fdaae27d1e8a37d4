package expression

import (
	"fmt"
	"sync"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/operator"
	"github.com/c360/dcvalidate/path"
	"github.com/c360/dcvalidate/schema"
	"github.com/c360/dcvalidate/types"
)

// Predicate is a compiled condition tree: a side-effect-free boolean function
// over one entity instance.
type Predicate func(instance any) (bool, error)

// Builder compiles condition trees against schema descriptors. Compiled
// trees are memoized per (cache key, entity type) because compilation cost
// dominates and each rule is evaluated against many entities.
type Builder struct {
	mu    sync.RWMutex
	cache map[string]*compiledNode
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{cache: make(map[string]*compiledNode)}
}

// Build compiles the expression for the given entity type.
func (b *Builder) Build(desc *schema.Descriptor, expr *ConditionExpression) (Predicate, error) {
	node, err := compile(desc, expr)
	if err != nil {
		return nil, err
	}
	return node.predicate, nil
}

// BuildCached compiles with memoization. The key should identify the rule
// and which of its expressions is being compiled, e.g. "rule-7.if".
func (b *Builder) BuildCached(key string, desc *schema.Descriptor, expr *ConditionExpression) (Predicate, error) {
	node, err := b.compiledFor(key, desc, expr)
	if err != nil {
		return nil, err
	}
	return node.predicate, nil
}

// Evidence evaluates every leaf of the expression against the instance and
// records actual/expected/pass/score per leaf. The aggregate score of a
// validation result is the mean of these scores.
func (b *Builder) Evidence(key string, desc *schema.Descriptor, expr *ConditionExpression, instance any) ([]types.Evidence, error) {
	node, err := b.compiledFor(key, desc, expr)
	if err != nil {
		return nil, err
	}
	var out []types.Evidence
	if err := node.evidence(instance, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Invalidate drops all cached compilations whose key has the given prefix,
// typically a rule id whose source document changed.
func (b *Builder) Invalidate(keyPrefix string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.cache {
		if len(k) >= len(keyPrefix) && k[:len(keyPrefix)] == keyPrefix {
			delete(b.cache, k)
		}
	}
}

func (b *Builder) compiledFor(key string, desc *schema.Descriptor, expr *ConditionExpression) (*compiledNode, error) {
	cacheKey := key + "|" + desc.Name

	b.mu.RLock()
	node, ok := b.cache[cacheKey]
	b.mu.RUnlock()
	if ok {
		return node, nil
	}

	node, err := compile(desc, expr)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.cache[cacheKey] = node
	b.mu.Unlock()
	return node, nil
}

type compiledNode struct {
	leaf  *compiledLeaf
	allOf []*compiledNode
	anyOf []*compiledNode
	not   *compiledNode
}

type compiledLeaf struct {
	propertyPath string
	op           operator.Operator
	args         []string
	left         *path.Accessor
	rightPath    *path.Accessor // set when RightSideIsExpression
	literal      any
	expected     any // display value for evidence
}

func compile(desc *schema.Descriptor, expr *ConditionExpression) (*compiledNode, error) {
	switch {
	case len(expr.AllOf) > 0:
		node := &compiledNode{}
		for _, child := range expr.AllOf {
			c, err := compile(desc, child)
			if err != nil {
				return nil, err
			}
			node.allOf = append(node.allOf, c)
		}
		return node, nil
	case len(expr.AnyOf) > 0:
		node := &compiledNode{}
		for _, child := range expr.AnyOf {
			c, err := compile(desc, child)
			if err != nil {
				return nil, err
			}
			node.anyOf = append(node.anyOf, c)
		}
		return node, nil
	case expr.Not != nil:
		child, err := compile(desc, expr.Not)
		if err != nil {
			return nil, err
		}
		return &compiledNode{not: child}, nil
	default:
		leaf, err := compileLeaf(desc, expr)
		if err != nil {
			return nil, err
		}
		return &compiledNode{leaf: leaf}, nil
	}
}

func compileLeaf(desc *schema.Descriptor, expr *ConditionExpression) (*compiledLeaf, error) {
	op := expr.op
	if op == operator.Unknown {
		// Direct Build on an unvalidated tree; parse the operator here.
		parsed, err := operator.Parse(expr.Operator)
		if err != nil {
			return nil, err
		}
		op = parsed
	}

	left, err := path.Resolve(desc, expr.Left)
	if err != nil {
		return nil, err
	}
	if err := operator.CheckLeftType(op, left.Type); err != nil {
		return nil, err
	}

	leaf := &compiledLeaf{
		propertyPath: expr.Left,
		op:           op,
		args:         expr.OperatorArgs,
		left:         left,
	}

	switch {
	case op.Unary():
		// No right side
	case expr.RightSideIsExpression:
		rightStr, ok := expr.Right.(string)
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: right side expression must be a path string", errors.ErrMissingConditionFields),
				"expression", "compileLeaf", "right side resolution")
		}
		rightAcc, err := path.Resolve(desc, rightStr)
		if err != nil {
			return nil, err
		}
		if err := checkSideCompatibility(op, left.Type, rightAcc.Type); err != nil {
			return nil, err
		}
		leaf.rightPath = rightAcc
		leaf.expected = rightStr
	case op.WantsList():
		// The right side stays a comma-separated literal list
		leaf.literal = fmt.Sprintf("%v", expr.Right)
		leaf.expected = leaf.literal
	default:
		literal, err := path.ParseLiteral(literalKind(left.Type), expr.Right)
		if err != nil {
			return nil, err
		}
		leaf.literal = literal
		leaf.expected = literal
	}

	return leaf, nil
}

// literalKind picks the kind the right literal is parsed as: the left side's
// kind for scalars, the element kind for membership tests on sequences.
func literalKind(left schema.Type) schema.Kind {
	if left.Kind == schema.Sequence && left.Elem != nil {
		return left.Elem.Kind
	}
	return left.Kind
}

func checkSideCompatibility(op operator.Operator, left, right schema.Type) error {
	if op == operator.DiffWithinPct {
		if left.Kind != schema.Number || right.Kind != schema.Number {
			return errors.WrapInvalid(
				fmt.Errorf("%w: DiffWithinPct needs numeric sides, got %s and %s",
					errors.ErrOperatorType, left.Name(), right.Name()),
				"expression", "compileLeaf", "side typing")
		}
		return nil
	}
	if left.Kind.Scalar() && right.Kind.Scalar() && left.Kind != right.Kind {
		return errors.WrapInvalid(
			fmt.Errorf("%w: sides have mismatched kinds %s and %s",
				errors.ErrOperatorType, left.Name(), right.Name()),
			"expression", "compileLeaf", "side typing")
	}
	return nil
}

func (n *compiledNode) predicate(instance any) (bool, error) {
	switch {
	case n.leaf != nil:
		pass, _, err := n.leaf.evaluate(instance)
		return pass, err
	case n.not != nil:
		pass, err := n.not.predicate(instance)
		return !pass, err
	case len(n.allOf) > 0:
		for _, child := range n.allOf {
			pass, err := child.predicate(instance)
			if err != nil {
				return false, err
			}
			if !pass {
				return false, nil
			}
		}
		return true, nil
	default:
		for _, child := range n.anyOf {
			pass, err := child.predicate(instance)
			if err != nil {
				return false, err
			}
			if pass {
				return true, nil
			}
		}
		return false, nil
	}
}

// evidence walks all leaves, recording each leaf's outcome. negated tracks
// enclosing Not parity so a leaf under negation reports the effective result.
func (n *compiledNode) evidence(instance any, negated bool, out *[]types.Evidence) error {
	switch {
	case n.leaf != nil:
		ev, err := n.leaf.toEvidence(instance, negated)
		if err != nil {
			return err
		}
		*out = append(*out, ev)
		return nil
	case n.not != nil:
		return n.not.evidence(instance, !negated, out)
	default:
		for _, child := range n.allOf {
			if err := child.evidence(instance, negated, out); err != nil {
				return err
			}
		}
		for _, child := range n.anyOf {
			if err := child.evidence(instance, negated, out); err != nil {
				return err
			}
		}
		return nil
	}
}

func (l *compiledLeaf) evaluate(instance any) (bool, float64, error) {
	leftVal, err := l.left.Eval(instance)
	if err != nil {
		return false, 0, err
	}

	rightVal := l.literal
	if l.rightPath != nil {
		rightVal, err = l.rightPath.Eval(instance)
		if err != nil {
			return false, 0, err
		}
	}

	return operator.Score(l.op, leftVal, rightVal, l.args)
}

func (l *compiledLeaf) toEvidence(instance any, negated bool) (types.Evidence, error) {
	leftVal, err := l.left.Eval(instance)
	if err != nil {
		return types.Evidence{}, err
	}

	rightVal := l.literal
	expected := l.expected
	if l.rightPath != nil {
		rightVal, err = l.rightPath.Eval(instance)
		if err != nil {
			return types.Evidence{}, err
		}
		expected = rightVal
	}

	pass, score, err := operator.Score(l.op, leftVal, rightVal, l.args)
	if err != nil {
		return types.Evidence{}, err
	}
	if negated {
		pass = !pass
		score = 1 - score
	}

	ev := types.Evidence{
		PropertyPath: l.propertyPath,
		Actual:       leftVal,
		Expected:     expected,
		Score:        score,
		Passed:       pass,
	}
	if l.op == operator.DiffWithinPct {
		if pct, ok := operator.DiffPct(leftVal, rightVal); ok {
			ev.Remarks = fmt.Sprintf("difference %.2f%%, tolerance %s%%", pct, l.args[0])
		}
	}
	return ev, nil
}

// MeanScore aggregates evidence scores into a result score. An empty
// evidence list scores 1 (nothing failed).
func MeanScore(evidences []types.Evidence) float64 {
	if len(evidences) == 0 {
		return 1.0
	}
	var sum float64
	for _, ev := range evidences {
		sum += ev.Score
	}
	return sum / float64(len(evidences))
}
