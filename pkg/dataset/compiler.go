package dataset

import (
	"github.com/logflow/eventpipe/pkg/condition"
	"github.com/logflow/eventpipe/pkg/errors"
	"github.com/logflow/eventpipe/pkg/graph"
	"github.com/logflow/eventpipe/pkg/plugin"
)

// PluginProvider resolves graph vertices to plugin instances. The provider
// decides instance sharing per the plugin's concurrency policy; the compiler
// only asks once per vertex per worker.
type PluginProvider interface {
	Transformer(v *graph.Vertex) (plugin.Transformer, error)
	Deliverer(v *graph.Vertex) (plugin.Deliverer, error)
}

// Compiler turns an IR graph into one worker's dataset arena. Conditions
// come from the shared condition compiler; everything else is built fresh
// per worker.
type Compiler struct {
	graph      *graph.Graph
	conditions *condition.Compiler
	plugins    PluginProvider
	onError    ErrorListener
}

// NewCompiler creates a dataset compiler. onError may be nil.
func NewCompiler(g *graph.Graph, conditions *condition.Compiler, plugins PluginProvider, onError ErrorListener) *Compiler {
	return &Compiler{
		graph:      g,
		conditions: conditions,
		plugins:    plugins,
		onError:    onError,
	}
}

// Compile builds the arena. Every vertex compiles exactly once no matter
// how many consumers reference it, so fan-out shares dataset instances by
// id and the per-cycle memoization holds across the whole DAG.
func (c *Compiler) Compile() (*Arena, error) {
	b := &builder{
		c:      c,
		arena:  &Arena{},
		rootID: -1,
		stages: make(map[string]int),
		forks:  make(map[string][2]int),
	}

	// Sinks drive the graph.
	for _, v := range c.graph.Sinks() {
		id, err := b.vertex(v.ID)
		if err != nil {
			return nil, err
		}
		b.arena.roots = append(b.arena.roots, id)
	}

	// Branches and stages no sink consumes still need forcing, or their
	// plugins would never see events (or flush cycles).
	leftovers, err := b.unconsumed()
	if err != nil {
		return nil, err
	}
	switch len(leftovers) {
	case 0:
	case 1:
		// Pass-through: a single dangling node is its own terminal.
		b.arena.roots = append(b.arena.roots, leftovers[0])
	default:
		term := NewTerminalDataset(b.arena, leftovers)
		b.arena.roots = append(b.arena.roots, b.arena.add(term))
	}

	return b.arena, nil
}

type builder struct {
	c      *Compiler
	arena  *Arena
	rootID int
	stages map[string]int    // stage/sink vertex id -> dataset id
	forks  map[string][2]int // fork vertex id -> [if, else] dataset ids
}

// root lazily registers the batch-feeding dataset.
func (b *builder) root() int {
	if b.rootID < 0 {
		b.rootID = b.arena.add(rootDataset{})
	}
	return b.rootID
}

// parents compiles every upstream dataset of a vertex and returns their ids.
// A vertex with no incoming edges reads the batch itself.
func (b *builder) parents(id string) ([]int, error) {
	in := b.c.graph.In(id)
	if len(in) == 0 {
		return []int{b.root()}, nil
	}

	parents := make([]int, 0, len(in))
	for _, e := range in {
		from, _ := b.c.graph.Vertex(e.From)
		if from.Kind == graph.KindFork {
			ids, err := b.fork(e.From)
			if err != nil {
				return nil, err
			}
			if e.Branch == graph.BranchTrue {
				parents = append(parents, ids[0])
			} else {
				parents = append(parents, ids[1])
			}
			continue
		}
		pid, err := b.vertex(e.From)
		if err != nil {
			return nil, err
		}
		parents = append(parents, pid)
	}
	return parents, nil
}

// vertex compiles a stage or sink vertex, memoized by vertex id.
func (b *builder) vertex(id string) (int, error) {
	if did, ok := b.stages[id]; ok {
		return did, nil
	}

	v, ok := b.c.graph.Vertex(id)
	if !ok {
		return 0, errors.UnresolvedVertex(id, "<compile>")
	}

	parents, err := b.parents(id)
	if err != nil {
		return 0, err
	}

	var d Dataset
	switch v.Kind {
	case graph.KindStage:
		fn, err := b.c.plugins.Transformer(v)
		if err != nil {
			return 0, err
		}
		d = NewFilterDataset(b.arena, parents, fn)

	case graph.KindSink:
		sink, err := b.c.plugins.Deliverer(v)
		if err != nil {
			return 0, err
		}
		terminal := len(b.c.graph.Out(id)) == 0
		d = NewOutputDataset(b.arena, parents, sink, terminal)

	default:
		return 0, errors.New(errors.CodeInvalidConfig, "fork vertex on a plain edge").
			WithContext("vertex", id).
			WithContext("location", v.Location.String())
	}

	did := b.arena.add(d)
	b.stages[id] = did
	return did, nil
}

// fork compiles a conditional vertex into a shared split root with two
// branch views, memoized by vertex id.
func (b *builder) fork(id string) ([2]int, error) {
	if ids, ok := b.forks[id]; ok {
		return ids, nil
	}

	v, _ := b.c.graph.Vertex(id)
	cond, err := b.c.conditions.Compile(v.When)
	if err != nil {
		return [2]int{}, err
	}

	parents, err := b.parents(id)
	if err != nil {
		return [2]int{}, err
	}

	root := &splitRoot{
		arena:   b.arena,
		parents: parents,
		cond:    cond,
		onError: b.c.onError,
	}
	ids := [2]int{
		b.arena.add(&splitBranch{root: root, accepted: true}),
		b.arena.add(&splitBranch{root: root, accepted: false}),
	}
	b.forks[id] = ids
	return ids, nil
}

// unconsumed compiles and collects datasets nothing downstream reads:
// dangling stages and fork branches with no outgoing edge.
func (b *builder) unconsumed() ([]int, error) {
	var ids []int
	for _, v := range b.c.graph.Vertices() {
		switch v.Kind {
		case graph.KindStage:
			if len(b.c.graph.Out(v.ID)) == 0 {
				id, err := b.vertex(v.ID)
				if err != nil {
					return nil, err
				}
				ids = append(ids, id)
			}
		case graph.KindFork:
			for i, branch := range []graph.Branch{graph.BranchTrue, graph.BranchFalse} {
				if len(b.c.graph.OutBranch(v.ID, branch)) == 0 {
					fids, err := b.fork(v.ID)
					if err != nil {
						return nil, err
					}
					ids = append(ids, fids[i])
				}
			}
		}
	}
	return ids, nil
}
