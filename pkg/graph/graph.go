// Package graph defines the immutable intermediate representation consumed
// by the execution compiler: a directed acyclic graph of pipeline stages plus
// the boolean expression trees attached to conditional forks.
//
// Graphs are built once by a configuration front end and are read-only
// afterwards; the engine never mutates them.
package graph

import (
	"fmt"

	"github.com/logflow/eventpipe/pkg/errors"
)

// VertexKind classifies a graph vertex.
type VertexKind int

const (
	// KindStage is a transform stage backed by a filter plugin.
	KindStage VertexKind = iota
	// KindFork is a conditional split with true/false branches.
	KindFork
	// KindSink is an output stage backed by a sink plugin.
	KindSink
)

func (k VertexKind) String() string {
	switch k {
	case KindStage:
		return "stage"
	case KindFork:
		return "fork"
	case KindSink:
		return "sink"
	default:
		return "unknown"
	}
}

// SourceLocation points back at the configuration that produced a vertex or
// expression, for error reporting.
type SourceLocation struct {
	Source string
	Line   int
	Column int
}

func (l SourceLocation) String() string {
	if l.Source == "" {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d:%d", l.Source, l.Line, l.Column)
}

// Vertex is one node of the IR graph.
type Vertex struct {
	// ID is unique within the graph.
	ID string
	// Kind determines how the vertex compiles.
	Kind VertexKind
	// Plugin names the transform or sink implementation (stages and sinks).
	Plugin string
	// Options is the plugin configuration block.
	Options map[string]interface{}
	// When is the fork condition (forks only).
	When BooleanExpr
	// Location points at the defining configuration.
	Location SourceLocation
}

// Branch tags an edge leaving a fork.
type Branch int

const (
	// BranchPlain is an untagged edge.
	BranchPlain Branch = iota
	// BranchTrue carries events the fork condition accepted.
	BranchTrue
	// BranchFalse carries events the fork condition rejected.
	BranchFalse
)

func (b Branch) String() string {
	switch b {
	case BranchTrue:
		return "true"
	case BranchFalse:
		return "false"
	default:
		return "plain"
	}
}

// Edge connects two vertices.
type Edge struct {
	From   string
	To     string
	Branch Branch
}

// Graph is the immutable IR DAG. Vertices with no incoming edges read the
// batch directly; sinks and unterminated branches become execution roots.
type Graph struct {
	vertices []*Vertex
	byID     map[string]*Vertex
	in       map[string][]Edge
	out      map[string][]Edge
}

// New validates vertices and edges and assembles a Graph. Duplicate vertex
// ids, edges referencing unknown vertices, branch-tagged edges leaving
// non-forks, and cycles all fail construction.
func New(vertices []*Vertex, edges []Edge) (*Graph, error) {
	g := &Graph{
		vertices: vertices,
		byID:     make(map[string]*Vertex, len(vertices)),
		in:       make(map[string][]Edge),
		out:      make(map[string][]Edge),
	}

	for _, v := range vertices {
		if _, dup := g.byID[v.ID]; dup {
			return nil, errors.New(errors.CodeInvalidConfig, "duplicate vertex id").
				WithContext("vertex", v.ID).
				WithContext("location", v.Location.String())
		}
		if v.Kind == KindFork && v.When == nil {
			return nil, errors.New(errors.CodeInvalidExpression, "fork vertex has no condition").
				WithContext("vertex", v.ID).
				WithContext("location", v.Location.String())
		}
		g.byID[v.ID] = v
	}

	for _, e := range edges {
		from, ok := g.byID[e.From]
		if !ok {
			return nil, errors.UnresolvedVertex(e.From, "<edge>")
		}
		if _, ok := g.byID[e.To]; !ok {
			return nil, errors.UnresolvedVertex(e.To, from.Location.String())
		}
		if e.Branch != BranchPlain && from.Kind != KindFork {
			return nil, errors.New(errors.CodeInvalidConfig, "branch-tagged edge from non-fork vertex").
				WithContext("vertex", e.From).
				WithContext("branch", e.Branch.String())
		}
		if e.Branch == BranchPlain && from.Kind == KindFork {
			return nil, errors.New(errors.CodeInvalidConfig, "untagged edge from fork vertex").
				WithContext("vertex", e.From)
		}
		g.out[e.From] = append(g.out[e.From], e)
		g.in[e.To] = append(g.in[e.To], e)
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkAcyclic runs a DFS three-color walk over the adjacency lists.
func (g *Graph) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.vertices))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, e := range g.out[id] {
			switch color[e.To] {
			case gray:
				return errors.New(errors.CodeInvalidConfig, "pipeline graph contains a cycle").
					WithContext("vertex", e.To)
			case white:
				if err := visit(e.To); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, v := range g.vertices {
		if color[v.ID] == white {
			if err := visit(v.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Vertex returns the vertex with the given id.
func (g *Graph) Vertex(id string) (*Vertex, bool) {
	v, ok := g.byID[id]
	return v, ok
}

// Vertices returns all vertices in definition order.
func (g *Graph) Vertices() []*Vertex {
	return g.vertices
}

// In returns the edges entering a vertex.
func (g *Graph) In(id string) []Edge {
	return g.in[id]
}

// Out returns the edges leaving a vertex.
func (g *Graph) Out(id string) []Edge {
	return g.out[id]
}

// OutBranch returns the edges leaving a fork on one branch.
func (g *Graph) OutBranch(id string, b Branch) []Edge {
	var edges []Edge
	for _, e := range g.out[id] {
		if e.Branch == b {
			edges = append(edges, e)
		}
	}
	return edges
}

// Sinks returns every sink vertex in definition order.
func (g *Graph) Sinks() []*Vertex {
	var sinks []*Vertex
	for _, v := range g.vertices {
		if v.Kind == KindSink {
			sinks = append(sinks, v)
		}
	}
	return sinks
}
