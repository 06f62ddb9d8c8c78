// Package maxflow implements an s-t max-flow/min-cut solver for graphs with
// undirected node-node edges and per-node terminal capacities.
//
// The source and sink are implicit. Each node carries one signed terminal
// residual: a positive value is capacity from the source, a negative value is
// capacity to the sink. Adding terminal weights is reparametrized so that the
// shared part of both capacities is moved straight into the flow value.
//
// Besides the usual whole-graph solve, the graph can be split into labelled
// regions that are solved independently. Region solves only touch the nodes
// and internal edges of their own region, so disjoint regions may be solved
// from different goroutines at the same time.
package maxflow

import (
	"fmt"
	"math"
)

// Epsilon is the residual capacity below which an arc counts as saturated.
const Epsilon = 1e-9

// NoRegion labels nodes excluded from every region solve.
const NoRegion int32 = -1

// Graph is a flow network. Build it with AddNode, AddEdge and AddTermWeights,
// then call MaxFlow and query the cut with InSourceSegment.
type Graph struct {
	// per node
	first []int32
	term  []float64
	edgeW []float64
	level []int32
	iter  []int32

	// per arc; arcs a and a^1 are the two directions of one edge
	next []int32
	to   []int32
	rcap []float64

	pairs map[uint64]int32

	region  []int32
	members [][]int32

	flow   float64
	cut    []bool
	solved bool
}

// New returns an empty graph with room for the given number of nodes and
// undirected edges.
func New(nodeHint, edgeHint int) *Graph {
	return &Graph{
		first: make([]int32, 0, nodeHint),
		term:  make([]float64, 0, nodeHint),
		edgeW: make([]float64, 0, nodeHint),
		level: make([]int32, 0, nodeHint),
		iter:  make([]int32, 0, nodeHint),
		next:  make([]int32, 0, 2*edgeHint),
		to:    make([]int32, 0, 2*edgeHint),
		rcap:  make([]float64, 0, 2*edgeHint),
		pairs: make(map[uint64]int32, edgeHint),
	}
}

// AddNode appends a node without terminal capacity and returns its index.
func (g *Graph) AddNode() int32 {
	v := int32(len(g.first))
	g.first = append(g.first, -1)
	g.term = append(g.term, 0)
	g.edgeW = append(g.edgeW, 0)
	g.level = append(g.level, -1)
	g.iter = append(g.iter, -1)
	g.solved = false
	return v
}

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int { return len(g.first) }

// EdgeCount returns the number of distinct undirected node-node edges
func (g *Graph) EdgeCount() int { return len(g.to) / 2 }

func pairKey(u, v int32) uint64 {
	if u > v {
		u, v = v, u
	}
	return uint64(uint32(u))<<32 | uint64(uint32(v))
}

// AddEdge adds an undirected edge of capacity w between u and v. Adding the
// same pair again increases the existing capacity. Self loops and zero
// weights are ignored.
func (g *Graph) AddEdge(u, v int32, w float64) {
	if w < 0 || math.IsNaN(w) {
		panic(fmt.Sprintf("maxflow: invalid edge weight %v", w))
	}
	if u == v || w == 0 {
		return
	}
	g.edgeW[u] += w
	g.edgeW[v] += w
	g.solved = false

	key := pairKey(u, v)
	if a, ok := g.pairs[key]; ok {
		g.rcap[a] += w
		g.rcap[a^1] += w
		return
	}

	a := int32(len(g.to))
	g.pairs[key] = a
	g.to = append(g.to, v, u)
	g.rcap = append(g.rcap, w, w)
	g.next = append(g.next, g.first[u], g.first[v])
	g.first[u] = a
	g.first[v] = a + 1
}

// AddTermWeights adds capacity from the source and to the sink for node v.
// Either value may be negative; only their difference stays on the node and
// the common part is added to the flow.
func (g *Graph) AddTermWeights(v int32, source, sink float64) {
	if t := g.term[v]; t > 0 {
		source += t
	} else {
		sink -= t
	}
	g.flow += math.Min(source, sink)
	g.term[v] = source - sink
	g.solved = false
}

// Term returns the signed terminal residual of v.
func (g *Graph) Term(v int32) float64 { return g.term[v] }

// SumW returns the total capacity incident to v before solving: the sum of
// its edge weights plus the magnitude of its terminal residual.
func (g *Graph) SumW(v int32) float64 {
	return g.edgeW[v] + math.Abs(g.term[v])
}

// Flow returns the flow accumulated so far, including reparametrization
// constants and credited region flows.
func (g *Graph) Flow() float64 { return g.flow }

// AddFlow credits flow pushed by SolveRegion calls.
func (g *Graph) AddFlow(f float64) { g.flow += f }

// SetRegions assigns every node a region label. Nodes labelled NoRegion take
// no part in region solves.
func (g *Graph) SetRegions(labels []int32) error {
	if len(labels) != len(g.first) {
		return fmt.Errorf("region labels cover %d nodes, graph has %d", len(labels), len(g.first))
	}
	g.region = labels
	g.members = g.members[:0]
	for v, r := range labels {
		if r < 0 {
			continue
		}
		for int(r) >= len(g.members) {
			g.members = append(g.members, nil)
		}
		g.members[r] = append(g.members[r], int32(v))
	}
	return nil
}

// RegionCount returns one past the largest region label set by SetRegions
func (g *Graph) RegionCount() int { return len(g.members) }

// RegionSize returns the number of nodes in region r.
func (g *Graph) RegionSize(r int32) int {
	if r < 0 || int(r) >= len(g.members) {
		return 0
	}
	return len(g.members[r])
}

// SolveRegion pushes as much flow as possible using only the nodes of region
// r and the edges between them. The pushed amount is returned and must be
// credited with AddFlow once all concurrent solves have finished.
func (g *Graph) SolveRegion(r int32) float64 {
	if r < 0 || int(r) >= len(g.members) {
		return 0
	}
	s := solver{g: g, nodes: g.members[r], region: r, restrict: true}
	return s.run()
}

// MaxFlow solves the whole graph and returns the total flow, which equals the
// minimum cut capacity. The cut is cached for InSourceSegment.
func (g *Graph) MaxFlow() float64 {
	all := make([]int32, len(g.first))
	for v := range all {
		all[v] = int32(v)
	}
	s := solver{g: g, nodes: all}
	g.flow += s.run()
	g.markSourceSide()
	g.solved = true
	return g.flow
}

// InSourceSegment reports whether v is on the source side of the minimum cut
// found by the last MaxFlow call: still reachable from the source through
// unsaturated arcs.
func (g *Graph) InSourceSegment(v int32) bool {
	if !g.solved {
		panic("maxflow: InSourceSegment called before MaxFlow")
	}
	return g.cut[v]
}

func (g *Graph) markSourceSide() {
	if cap(g.cut) >= len(g.first) {
		g.cut = g.cut[:len(g.first)]
		clear(g.cut)
	} else {
		g.cut = make([]bool, len(g.first))
	}
	queue := make([]int32, 0, len(g.first))
	for v, t := range g.term {
		if t > Epsilon {
			g.cut[v] = true
			queue = append(queue, int32(v))
		}
	}
	for i := 0; i < len(queue); i++ {
		u := queue[i]
		for a := g.first[u]; a >= 0; a = g.next[a] {
			v := g.to[a]
			if g.rcap[a] > Epsilon && !g.cut[v] {
				g.cut[v] = true
				queue = append(queue, v)
			}
		}
	}
}
