package graph

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/logflow/eventpipe/pkg/errors"
)

// Definition is the YAML shape of a pipeline graph. It is a structured IR
// feed, not a configuration language: conditions are explicit trees, so no
// expression parsing happens here.
type Definition struct {
	Vertices []VertexDef `yaml:"vertices"`
	Edges    []EdgeDef   `yaml:"edges"`
}

// VertexDef declares one vertex.
type VertexDef struct {
	ID      string                 `yaml:"id"`
	Kind    string                 `yaml:"kind"`
	Plugin  string                 `yaml:"plugin,omitempty"`
	Options map[string]interface{} `yaml:"options,omitempty"`
	When    yaml.Node              `yaml:"when,omitempty"`
}

// EdgeDef declares one edge.
type EdgeDef struct {
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Branch string `yaml:"branch,omitempty"`
}

// Decode unmarshals a YAML pipeline definition and builds the Graph.
// The source name is recorded in every location for error reporting.
func Decode(data []byte, source string) (*Graph, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "malformed pipeline definition").
			WithContext("source", source)
	}
	return def.Build(source)
}

// Build converts the definition into a validated Graph.
func (d *Definition) Build(source string) (*Graph, error) {
	vertices := make([]*Vertex, 0, len(d.Vertices))
	for _, vd := range d.Vertices {
		v := &Vertex{
			ID:      vd.ID,
			Plugin:  vd.Plugin,
			Options: vd.Options,
			Location: SourceLocation{
				Source: source,
				Line:   vd.When.Line,
			},
		}
		switch vd.Kind {
		case "stage":
			v.Kind = KindStage
		case "fork":
			v.Kind = KindFork
		case "sink":
			v.Kind = KindSink
		default:
			return nil, errors.New(errors.CodeInvalidConfig, "unknown vertex kind").
				WithContext("vertex", vd.ID).
				WithContext("kind", vd.Kind)
		}
		if v.Kind == KindFork {
			expr, err := exprFromNode(&vd.When, source)
			if err != nil {
				return nil, err
			}
			v.When = expr
		}
		vertices = append(vertices, v)
	}

	edges := make([]Edge, 0, len(d.Edges))
	for _, ed := range d.Edges {
		e := Edge{From: ed.From, To: ed.To}
		switch ed.Branch {
		case "":
			e.Branch = BranchPlain
		case "true":
			e.Branch = BranchTrue
		case "false":
			e.Branch = BranchFalse
		default:
			return nil, errors.New(errors.CodeInvalidConfig, "unknown edge branch").
				WithContext("from", ed.From).
				WithContext("branch", ed.Branch)
		}
		edges = append(edges, e)
	}

	return New(vertices, edges)
}

// exprNode is the YAML shape of one expression tree node. Exactly one member
// must be set.
type exprNode struct {
	Truthy  *truthyNode  `yaml:"truthy,omitempty"`
	Compare *compareNode `yaml:"compare,omitempty"`
	Match   *matchNode   `yaml:"match,omitempty"`
	In      *inNode      `yaml:"in,omitempty"`
	All     []yaml.Node  `yaml:"all,omitempty"`
	Any     []yaml.Node  `yaml:"any,omitempty"`
	Not     yaml.Node    `yaml:"not,omitempty"`
}

type truthyNode struct {
	Field string `yaml:"field"`
}

type compareNode struct {
	Op    string      `yaml:"op"`
	Left  operandNode `yaml:"left"`
	Right operandNode `yaml:"right"`
}

type operandNode struct {
	Field *string     `yaml:"field,omitempty"`
	Value interface{} `yaml:"value,omitempty"`
}

type matchNode struct {
	Field   string `yaml:"field"`
	Pattern string `yaml:"pattern"`
}

type inNode struct {
	Field  string        `yaml:"field"`
	Values []interface{} `yaml:"values"`
}

func exprFromNode(n *yaml.Node, source string) (BooleanExpr, error) {
	loc := SourceLocation{Source: source, Line: n.Line, Column: n.Column}

	var en exprNode
	if err := n.Decode(&en); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidExpression, "malformed condition").
			WithContext("location", loc.String())
	}

	switch {
	case en.Truthy != nil:
		return &Truthy{Field: en.Truthy.Field, Location: loc}, nil

	case en.Compare != nil:
		op, err := parseCompareOp(en.Compare.Op)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidExpression, "bad comparison operator").
				WithContext("location", loc.String())
		}
		return &Comparison{
			Op:       op,
			Left:     en.Compare.Left.operand(),
			Right:    en.Compare.Right.operand(),
			Location: loc,
		}, nil

	case en.Match != nil:
		return &RegexMatch{Field: en.Match.Field, Pattern: en.Match.Pattern, Location: loc}, nil

	case en.In != nil:
		return &Membership{Field: en.In.Field, Set: en.In.Values, Location: loc}, nil

	case len(en.All) > 0:
		return combine(en.All, source, func(l, r BooleanExpr) BooleanExpr {
			return &And{Left: l, Right: r, Location: loc}
		})

	case len(en.Any) > 0:
		return combine(en.Any, source, func(l, r BooleanExpr) BooleanExpr {
			return &Or{Left: l, Right: r, Location: loc}
		})

	case !en.Not.IsZero():
		child, err := exprFromNode(&en.Not, source)
		if err != nil {
			return nil, err
		}
		return &Not{Child: child, Location: loc}, nil
	}

	return nil, errors.New(errors.CodeInvalidExpression, "empty condition node").
		WithContext("location", loc.String())
}

func (o operandNode) operand() Operand {
	if o.Field != nil {
		return FieldRef{Name: *o.Field}
	}
	return Literal{Value: o.Value}
}

func parseCompareOp(s string) (CompareOp, error) {
	switch s {
	case "==":
		return OpEq, nil
	case "!=":
		return OpNeq, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLte, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGte, nil
	}
	return 0, fmt.Errorf("unsupported operator %q", s)
}

// combine left-folds child expressions into a binary tree, so short-circuit
// order matches declaration order.
func combine(nodes []yaml.Node, source string, join func(l, r BooleanExpr) BooleanExpr) (BooleanExpr, error) {
	exprs := make([]BooleanExpr, 0, len(nodes))
	for i := range nodes {
		e, err := exprFromNode(&nodes[i], source)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	root := exprs[0]
	for _, e := range exprs[1:] {
		root = join(root, e)
	}
	return root, nil
}
