package graph

import (
	"fmt"
	"sort"
	"strings"
)

// BooleanExpr is one node of a fork condition's expression tree. Canonical
// returns a stable textual form used as the condition cache key: two
// expressions with equal canonical forms compile to the same condition.
type BooleanExpr interface {
	Canonical() string
	Loc() SourceLocation
}

// Operand is a comparison side: a field reference or a literal value.
type Operand interface {
	canonical() string
}

// FieldRef references an event field by name.
type FieldRef struct {
	Name string
}

func (f FieldRef) canonical() string { return "[" + f.Name + "]" }

// Literal is a constant operand.
type Literal struct {
	Value interface{}
}

func (l Literal) canonical() string { return fmt.Sprintf("%#v", l.Value) }

// CompareOp enumerates comparison operators.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
)

func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "=="
	case OpNeq:
		return "!="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	default:
		return "?"
	}
}

// Truthy is true when the field is present, non-nil, not false and not the
// empty string.
type Truthy struct {
	Field    string
	Location SourceLocation
}

func (t *Truthy) Canonical() string   { return "truthy([" + t.Field + "])" }
func (t *Truthy) Loc() SourceLocation { return t.Location }

// Comparison compares two operands with one of the CompareOp operators.
type Comparison struct {
	Op       CompareOp
	Left     Operand
	Right    Operand
	Location SourceLocation
}

func (c *Comparison) Canonical() string {
	return fmt.Sprintf("(%s %s %s)", c.Left.canonical(), c.Op, c.Right.canonical())
}
func (c *Comparison) Loc() SourceLocation { return c.Location }

// RegexMatch is true when the field's string value matches the pattern.
// The pattern compiles once, at condition construction.
type RegexMatch struct {
	Field    string
	Pattern  string
	Location SourceLocation
}

func (r *RegexMatch) Canonical() string {
	return fmt.Sprintf("([%s] =~ /%s/)", r.Field, r.Pattern)
}
func (r *RegexMatch) Loc() SourceLocation { return r.Location }

// Membership is true when the field's value is one of Set.
type Membership struct {
	Field    string
	Set      []interface{}
	Location SourceLocation
}

func (m *Membership) Canonical() string {
	elems := make([]string, len(m.Set))
	for i, v := range m.Set {
		elems[i] = fmt.Sprintf("%#v", v)
	}
	// Set order must not change the cache key.
	sort.Strings(elems)
	return fmt.Sprintf("([%s] in {%s})", m.Field, strings.Join(elems, ","))
}
func (m *Membership) Loc() SourceLocation { return m.Location }

// And is true when both children are true. The right child is evaluated only
// if the left child is true.
type And struct {
	Left     BooleanExpr
	Right    BooleanExpr
	Location SourceLocation
}

func (a *And) Canonical() string {
	return fmt.Sprintf("(%s && %s)", a.Left.Canonical(), a.Right.Canonical())
}
func (a *And) Loc() SourceLocation { return a.Location }

// Or is true when either child is true. The right child is evaluated only if
// the left child is false.
type Or struct {
	Left     BooleanExpr
	Right    BooleanExpr
	Location SourceLocation
}

func (o *Or) Canonical() string {
	return fmt.Sprintf("(%s || %s)", o.Left.Canonical(), o.Right.Canonical())
}
func (o *Or) Loc() SourceLocation { return o.Location }

// Not negates its single child.
type Not struct {
	Child    BooleanExpr
	Location SourceLocation
}

func (n *Not) Canonical() string   { return "!" + n.Child.Canonical() }
func (n *Not) Loc() SourceLocation { return n.Location }
