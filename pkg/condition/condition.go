// Package condition compiles boolean expression trees into cached,
// short-circuiting predicates evaluable against single events.
package condition

import (
	"fmt"
	"regexp"

	"github.com/spf13/cast"

	"github.com/logflow/eventpipe/internal/model"
	"github.com/logflow/eventpipe/pkg/errors"
	"github.com/logflow/eventpipe/pkg/graph"
)

// Condition is an immutable predicate over one event. Conditions are built
// once by the Compiler and shared read-only across workers; Evaluate is safe
// for concurrent use.
type Condition interface {
	Evaluate(e *model.Event) (bool, error)
}

// operand resolves one comparison side against an event. found is false when
// a referenced field is absent.
type operand interface {
	resolve(e *model.Event) (value interface{}, found bool)
}

type fieldOperand struct {
	name string
}

func (o fieldOperand) resolve(e *model.Event) (interface{}, bool) {
	v, ok := e.Get(o.name)
	if !ok {
		return nil, false
	}
	return reveal(v), true
}

type literalOperand struct {
	value interface{}
}

func (o literalOperand) resolve(*model.Event) (interface{}, bool) {
	return reveal(o.value), true
}

// reveal resolves secret-typed values before use in comparisons. Error paths
// must never carry the revealed value.
func reveal(v interface{}) interface{} {
	if s, ok := v.(model.Secret); ok {
		return s.Reveal()
	}
	return v
}

// truthyCondition is true when the field is present, non-nil, not false and
// not the empty string.
type truthyCondition struct {
	field string
}

func (c *truthyCondition) Evaluate(e *model.Event) (bool, error) {
	v, ok := e.Get(c.field)
	if !ok {
		return false, nil
	}
	switch t := reveal(v).(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		return t != "", nil
	default:
		return true, nil
	}
}

// comparisonCondition compares two operands with one operator.
type comparisonCondition struct {
	op    graph.CompareOp
	left  operand
	right operand
}

func (c *comparisonCondition) Evaluate(e *model.Event) (bool, error) {
	l, lok := c.left.resolve(e)
	r, rok := c.right.resolve(e)
	if !lok || !rok {
		// An absent field never satisfies a comparison.
		return false, nil
	}
	return compareValues(c.op, l, r)
}

// compareValues implements the comparison table: numeric against numeric
// (with string-to-number coercion when the other side is numeric), string
// against string, and equality for everything else with matching types.
func compareValues(op graph.CompareOp, l, r interface{}) (bool, error) {
	if l == nil || r == nil {
		switch op {
		case graph.OpEq:
			return l == nil && r == nil, nil
		case graph.OpNeq:
			return (l == nil) != (r == nil), nil
		}
		return false, errors.New(errors.CodeConditionEval, "nil operand in ordering comparison")
	}

	lf, lNum := toNumber(l)
	rf, rNum := toNumber(r)

	switch {
	case lNum && rNum:
		return compareOrdered(op, compareFloat(lf, rf))
	case isString(l) && isString(r):
		ls, rs := cast.ToString(l), cast.ToString(r)
		return compareOrdered(op, compareString(ls, rs))
	}

	// Mixed or unordered types: only equality is defined, and only for
	// identical dynamic types.
	lb, lBool := l.(bool)
	rb, rBool := r.(bool)
	if lBool && rBool {
		switch op {
		case graph.OpEq:
			return lb == rb, nil
		case graph.OpNeq:
			return lb != rb, nil
		}
	}

	switch op {
	case graph.OpEq:
		return false, nil
	case graph.OpNeq:
		return true, nil
	}
	return false, errors.New(errors.CodeConditionEval, "operands are not comparable").
		WithContext("left", fmt.Sprintf("%T", l)).
		WithContext("right", fmt.Sprintf("%T", r))
}

// toNumber reports whether v is usable as a number: any numeric type, or a
// string that parses as one.
func toNumber(v interface{}) (float64, bool) {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return cast.ToFloat64(v), true
	case string:
		f, err := cast.ToFloat64E(v)
		return f, err == nil
	}
	return 0, false
}

func isString(v interface{}) bool {
	_, ok := v.(string)
	return ok
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareOrdered(op graph.CompareOp, c int) (bool, error) {
	switch op {
	case graph.OpEq:
		return c == 0, nil
	case graph.OpNeq:
		return c != 0, nil
	case graph.OpLt:
		return c < 0, nil
	case graph.OpLte:
		return c <= 0, nil
	case graph.OpGt:
		return c > 0, nil
	case graph.OpGte:
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown comparison operator %v", op)
}

// regexCondition matches the field's string value against a pattern compiled
// at construction time.
type regexCondition struct {
	field string
	re    *regexp.Regexp
}

func (c *regexCondition) Evaluate(e *model.Event) (bool, error) {
	v, ok := e.Get(c.field)
	if !ok {
		return false, nil
	}
	s, err := cast.ToStringE(reveal(v))
	if err != nil {
		return false, errors.Wrap(err, errors.CodeConditionEval, "field value is not matchable").
			WithContext("field", c.field)
	}
	return c.re.MatchString(s), nil
}

// membershipCondition tests set membership by normalized string form, so
// numeric literals match their string renderings and vice versa.
type membershipCondition struct {
	field string
	set   map[string]struct{}
}

func (c *membershipCondition) Evaluate(e *model.Event) (bool, error) {
	v, ok := e.Get(c.field)
	if !ok {
		return false, nil
	}
	s, err := cast.ToStringE(reveal(v))
	if err != nil {
		return false, errors.Wrap(err, errors.CodeConditionEval, "field value has no set representation").
			WithContext("field", c.field)
	}
	_, member := c.set[s]
	return member, nil
}

// andCondition evaluates its right child only when the left child is true.
type andCondition struct {
	left  Condition
	right Condition
}

func (c *andCondition) Evaluate(e *model.Event) (bool, error) {
	ok, err := c.left.Evaluate(e)
	if err != nil || !ok {
		return false, err
	}
	return c.right.Evaluate(e)
}

// orCondition evaluates its right child only when the left child is false.
type orCondition struct {
	left  Condition
	right Condition
}

func (c *orCondition) Evaluate(e *model.Event) (bool, error) {
	ok, err := c.left.Evaluate(e)
	if err != nil || ok {
		return ok, err
	}
	return c.right.Evaluate(e)
}

// notCondition negates its single child.
type notCondition struct {
	child Condition
}

func (c *notCondition) Evaluate(e *model.Event) (bool, error) {
	ok, err := c.child.Evaluate(e)
	if err != nil {
		return false, err
	}
	return !ok, nil
}
