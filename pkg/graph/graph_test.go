package graph

import (
	"strings"
	"testing"

	"github.com/logflow/eventpipe/pkg/errors"
)

func stage(id string) *Vertex {
	return &Vertex{ID: id, Kind: KindStage, Plugin: "noop"}
}

func sink(id string) *Vertex {
	return &Vertex{ID: id, Kind: KindSink, Plugin: "stdout"}
}

func fork(id string, when BooleanExpr) *Vertex {
	return &Vertex{ID: id, Kind: KindFork, When: when}
}

func TestGraphValidation(t *testing.T) {
	when := &Truthy{Field: "x"}

	tests := []struct {
		name     string
		vertices []*Vertex
		edges    []Edge
		wantCode errors.Code
	}{
		{
			name:     "valid linear",
			vertices: []*Vertex{stage("a"), sink("out")},
			edges:    []Edge{{From: "a", To: "out"}},
		},
		{
			name:     "duplicate id",
			vertices: []*Vertex{stage("a"), stage("a")},
			wantCode: errors.CodeInvalidConfig,
		},
		{
			name:     "unresolved edge target",
			vertices: []*Vertex{stage("a")},
			edges:    []Edge{{From: "a", To: "ghost"}},
			wantCode: errors.CodeUnresolvedVertex,
		},
		{
			name:     "branch edge from non-fork",
			vertices: []*Vertex{stage("a"), sink("out")},
			edges:    []Edge{{From: "a", To: "out", Branch: BranchTrue}},
			wantCode: errors.CodeInvalidConfig,
		},
		{
			name:     "untagged edge from fork",
			vertices: []*Vertex{fork("f", when), sink("out")},
			edges:    []Edge{{From: "f", To: "out"}},
			wantCode: errors.CodeInvalidConfig,
		},
		{
			name:     "fork without condition",
			vertices: []*Vertex{fork("f", nil)},
			wantCode: errors.CodeInvalidExpression,
		},
		{
			name:     "cycle",
			vertices: []*Vertex{stage("a"), stage("b")},
			edges:    []Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
			wantCode: errors.CodeInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.vertices, tt.edges)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.IsCode(err, tt.wantCode) {
				t.Fatalf("error = %v; want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestCanonicalForms(t *testing.T) {
	cmp := &Comparison{Op: OpEq, Left: FieldRef{Name: "a"}, Right: Literal{Value: 1}}
	same := &Comparison{Op: OpEq, Left: FieldRef{Name: "a"}, Right: Literal{Value: 1}}
	other := &Comparison{Op: OpEq, Left: FieldRef{Name: "a"}, Right: Literal{Value: 2}}

	if cmp.Canonical() != same.Canonical() {
		t.Errorf("equal expressions differ: %q vs %q", cmp.Canonical(), same.Canonical())
	}
	if cmp.Canonical() == other.Canonical() {
		t.Errorf("distinct expressions collide: %q", cmp.Canonical())
	}

	// Membership keys are order-insensitive.
	m1 := &Membership{Field: "s", Set: []interface{}{1, 2}}
	m2 := &Membership{Field: "s", Set: []interface{}{2, 1}}
	if m1.Canonical() != m2.Canonical() {
		t.Errorf("membership canonical depends on set order: %q vs %q", m1.Canonical(), m2.Canonical())
	}
}

func TestDecodeDefinition(t *testing.T) {
	def := `
vertices:
  - id: parse
    kind: stage
    plugin: mutate
    options: {set: {parsed: true}}
  - id: route
    kind: fork
    when:
      all:
        - compare:
            op: "=="
            left: {field: status}
            right: {value: 200}
        - not:
            truthy: {field: debug}
  - id: ok
    kind: sink
    plugin: stdout
  - id: bad
    kind: sink
    plugin: stdout
edges:
  - {from: parse, to: route}
  - {from: route, to: ok, branch: "true"}
  - {from: route, to: bad, branch: "false"}
`
	g, err := Decode([]byte(def), "pipeline.yaml")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	route, ok := g.Vertex("route")
	if !ok || route.Kind != KindFork {
		t.Fatal("fork vertex not decoded")
	}
	and, ok := route.When.(*And)
	if !ok {
		t.Fatalf("When = %T; want *And", route.When)
	}
	if _, ok := and.Left.(*Comparison); !ok {
		t.Errorf("left child = %T; want *Comparison", and.Left)
	}
	if _, ok := and.Right.(*Not); !ok {
		t.Errorf("right child = %T; want *Not", and.Right)
	}
	if !strings.Contains(route.When.Loc().String(), "pipeline.yaml") {
		t.Errorf("location lost: %s", route.When.Loc())
	}

	if got := len(g.OutBranch("route", BranchTrue)); got != 1 {
		t.Errorf("true-branch edges = %d; want 1", got)
	}
	if got := len(g.Sinks()); got != 2 {
		t.Errorf("sinks = %d; want 2", got)
	}
}

func TestDecodeRejectsBadKind(t *testing.T) {
	_, err := Decode([]byte("vertices:\n  - {id: a, kind: widget}\n"), "p.yaml")
	if !errors.IsCode(err, errors.CodeInvalidConfig) {
		t.Fatalf("error = %v; want invalid config", err)
	}
}
