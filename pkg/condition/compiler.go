package condition

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/spf13/cast"
	"golang.org/x/sync/singleflight"

	"github.com/logflow/eventpipe/pkg/errors"
	"github.com/logflow/eventpipe/pkg/graph"
)

// Compiler turns expression trees into Conditions, memoized by canonical
// expression key. The cache is shared across all workers of a pipeline;
// construction for one key happens at most once (single-flight), so every
// call site holding an equal expression receives the same instance.
//
// The Compiler is an injected service, not a process global: tests and
// pipelines create their own.
type Compiler struct {
	mu    sync.RWMutex
	cache map[string]Condition
	group singleflight.Group
}

// NewCompiler creates a compiler with an empty cache.
func NewCompiler() *Compiler {
	return &Compiler{
		cache: make(map[string]Condition),
	}
}

// Compile returns the Condition for an expression, building it on first use.
func (c *Compiler) Compile(expr graph.BooleanExpr) (Condition, error) {
	key := expr.Canonical()

	c.mu.RLock()
	cond, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cond, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A racing caller may have finished between the read lock and Do.
		c.mu.RLock()
		cond, ok := c.cache[key]
		c.mu.RUnlock()
		if ok {
			return cond, nil
		}

		built, err := c.build(expr)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[key] = built
		c.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Condition), nil
}

// CacheSize returns the number of distinct compiled conditions.
func (c *Compiler) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// build classifies an expression node and constructs the matching variant.
// Boolean combinators compile their children through Compile, so shared
// subexpressions are cached and shared as well.
func (c *Compiler) build(expr graph.BooleanExpr) (Condition, error) {
	switch n := expr.(type) {
	case *graph.Truthy:
		return &truthyCondition{field: n.Field}, nil

	case *graph.Comparison:
		if err := validateComparison(n); err != nil {
			return nil, err
		}
		return &comparisonCondition{
			op:    n.Op,
			left:  buildOperand(n.Left),
			right: buildOperand(n.Right),
		}, nil

	case *graph.RegexMatch:
		re, err := regexp.Compile(n.Pattern)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidPattern, "invalid match pattern").
				WithContext("location", n.Loc().String())
		}
		return &regexCondition{field: n.Field, re: re}, nil

	case *graph.Membership:
		set := make(map[string]struct{}, len(n.Set))
		for _, v := range n.Set {
			s, err := cast.ToStringE(v)
			if err != nil {
				return nil, errors.Wrap(err, errors.CodeInvalidExpression, "set member has no string form").
					WithContext("location", n.Loc().String())
			}
			set[s] = struct{}{}
		}
		return &membershipCondition{field: n.Field, set: set}, nil

	case *graph.And:
		left, right, err := c.compilePair(n.Left, n.Right)
		if err != nil {
			return nil, err
		}
		return &andCondition{left: left, right: right}, nil

	case *graph.Or:
		left, right, err := c.compilePair(n.Left, n.Right)
		if err != nil {
			return nil, err
		}
		return &orCondition{left: left, right: right}, nil

	case *graph.Not:
		child, err := c.Compile(n.Child)
		if err != nil {
			return nil, err
		}
		return &notCondition{child: child}, nil
	}

	return nil, errors.New(errors.CodeInvalidExpression, "unknown expression node").
		WithContext("type", fmt.Sprintf("%T", expr)).
		WithContext("location", expr.Loc().String())
}

func (c *Compiler) compilePair(l, r graph.BooleanExpr) (Condition, Condition, error) {
	left, err := c.Compile(l)
	if err != nil {
		return nil, nil, err
	}
	right, err := c.Compile(r)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func buildOperand(o graph.Operand) operand {
	switch t := o.(type) {
	case graph.FieldRef:
		return fieldOperand{name: t.Name}
	case graph.Literal:
		return literalOperand{value: t.Value}
	}
	// graph.Operand is a closed set; reaching here is a programming error.
	panic(fmt.Sprintf("unknown operand type %T", o))
}

// validateComparison rejects comparisons that can never evaluate: two
// literal operands of incompatible types, or ordering operators applied to
// literals with no ordering. Field operands are typed only at runtime and
// fail per event instead.
func validateComparison(n *graph.Comparison) error {
	ll, lIsLit := n.Left.(graph.Literal)
	rl, rIsLit := n.Right.(graph.Literal)
	if !lIsLit || !rIsLit {
		return nil
	}
	if _, err := compareValues(n.Op, reveal(ll.Value), reveal(rl.Value)); err != nil {
		return errors.TypeMismatch(
			fmt.Sprintf("%T", ll.Value),
			fmt.Sprintf("%T", rl.Value),
			n.Loc().String(),
		)
	}
	return nil
}
