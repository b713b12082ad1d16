package cfg

import (
	"fmt"
	"slices"

	"fortio.org/safecast"

	"cilgpu/internal/cil"
)

// Graph is the arena of basic blocks. Vertices are never removed.
type Graph struct {
	vertices []*Vertex
	succ     [][]VertexID
	pred     [][]VertexID
	hasClone []bool

	changeSets map[int]int
	nextSet    int
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{changeSets: make(map[int]int)}
}

func (g *Graph) nextID() VertexID {
	id, err := safecast.Conv[VertexID](len(g.vertices))
	if err != nil {
		panic(fmt.Errorf("vertex id overflow: %w", err))
	}
	return id
}

func (g *Graph) push(v *Vertex) *Vertex {
	g.vertices = append(g.vertices, v)
	g.succ = append(g.succ, nil)
	g.pred = append(g.pred, nil)
	g.hasClone = append(g.hasClone, false)
	return v
}

// AddVertex allocates a block of method m. Entry is left unset.
func (g *Graph) AddVertex(m *cil.Method, insts []cil.Inst) *Vertex {
	return g.push(&Vertex{
		ID:           g.nextID(),
		Method:       m,
		Instructions: insts,
		Entry:        NoVertex,
		Previous:     NoVertex,
		Original:     NoVertex,
	})
}

// AddClone specialises src with bind. The clone shares instructions and
// method with src; its Entry is resolved later by the caller.
func (g *Graph) AddClone(src VertexID, bind cil.Binding) *Vertex {
	from := g.Vertex(src)
	if from == nil {
		panic(fmt.Errorf("clone of unknown vertex %s", src))
	}
	v := g.push(&Vertex{
		ID:              g.nextID(),
		Method:          from.Method,
		Instructions:    from.Instructions,
		Label:           from.Label,
		Entry:           NoVertex,
		Previous:        src,
		Original:        from.OriginalID(),
		OpFromPrevious:  bind,
		OpsFromOriginal: from.OpsFromOriginal.With(bind),
	})
	g.hasClone[src] = true
	return v
}

// Vertex returns the block with id, or nil.
func (g *Graph) Vertex(id VertexID) *Vertex {
	if id < 0 || int(id) >= len(g.vertices) {
		return nil
	}
	return g.vertices[id]
}

// Len is the number of blocks ever created.
func (g *Graph) Len() int { return len(g.vertices) }

// Vertices returns all blocks in id order. The slice must not be modified.
func (g *Graph) Vertices() []*Vertex { return g.vertices }

// AddEdge records from→to once; successor order is insertion order.
func (g *Graph) AddEdge(from, to VertexID) {
	if g.Vertex(from) == nil || g.Vertex(to) == nil {
		panic(fmt.Errorf("edge %s→%s: unknown vertex", from, to))
	}
	if slices.Contains(g.succ[from], to) {
		return
	}
	g.succ[from] = append(g.succ[from], to)
	g.pred[to] = append(g.pred[to], from)
}

// Successors returns the ordered successors of id.
func (g *Graph) Successors(id VertexID) []VertexID {
	if g.Vertex(id) == nil {
		return nil
	}
	return g.succ[id]
}

// Predecessors returns the predecessors of id in edge insertion order.
func (g *Graph) Predecessors(id VertexID) []VertexID {
	if g.Vertex(id) == nil {
		return nil
	}
	return g.pred[id]
}

// IsFullyInstantiated reports whether no block names id as its Previous and
// id is not Open.
func (g *Graph) IsFullyInstantiated(id VertexID) bool {
	v := g.Vertex(id)
	if v == nil {
		return false
	}
	return !g.hasClone[id] && !v.Open
}

// Entries returns the fully instantiated method entry blocks in id order.
func (g *Graph) Entries() []VertexID {
	var out []VertexID
	for _, v := range g.vertices {
		if v.IsEntry() && g.IsFullyInstantiated(v.ID) {
			out = append(out, v.ID)
		}
	}
	return out
}

// StartChangeSet opens a window recording blocks created from now on.
func (g *Graph) StartChangeSet() int {
	id := g.nextSet
	g.nextSet++
	g.changeSets[id] = len(g.vertices)
	return id
}

// PopChangeSet closes the window id and returns the blocks created since it
// opened. Unknown ids yield nil.
func (g *Graph) PopChangeSet(id int) []VertexID {
	start, ok := g.changeSets[id]
	if !ok {
		return nil
	}
	delete(g.changeSets, id)
	out := make([]VertexID, 0, len(g.vertices)-start)
	for i := start; i < len(g.vertices); i++ {
		out = append(out, g.vertices[i].ID)
	}
	return out
}
