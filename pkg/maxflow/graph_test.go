package maxflow

import (
	"math"
	"math/rand/v2"
	"testing"
)

// network mirrors everything added to a Graph so cut energies can be
// evaluated by brute force.
type network struct {
	n      int
	source []float64
	sink   []float64
	edges  [][3]float64
}

func randomNetwork(seed uint64, n, m int) *network {
	rng := rand.New(rand.NewPCG(seed, 7))
	nw := &network{n: n, source: make([]float64, n), sink: make([]float64, n)}
	for v := 0; v < n; v++ {
		nw.source[v] = rng.Float64()*10 - 2
		nw.sink[v] = rng.Float64()*10 - 2
	}
	for i := 0; i < m; i++ {
		u, v := rng.IntN(n), rng.IntN(n)
		if u == v {
			continue
		}
		nw.edges = append(nw.edges, [3]float64{float64(u), float64(v), rng.Float64() * 6})
	}
	return nw
}

func (nw *network) build() *Graph {
	g := New(nw.n, len(nw.edges))
	for v := 0; v < nw.n; v++ {
		g.AddNode()
	}
	for v := 0; v < nw.n; v++ {
		g.AddTermWeights(int32(v), nw.source[v], nw.sink[v])
	}
	for _, e := range nw.edges {
		g.AddEdge(int32(e[0]), int32(e[1]), e[2])
	}
	return g
}

// energy returns the capacity of the cut whose source side is the bit set s
func (nw *network) energy(inSource func(v int) bool) float64 {
	var e float64
	for v := 0; v < nw.n; v++ {
		if inSource(v) {
			e += nw.sink[v]
		} else {
			e += nw.source[v]
		}
	}
	for _, ed := range nw.edges {
		if inSource(int(ed[0])) != inSource(int(ed[1])) {
			e += ed[2]
		}
	}
	return e
}

func (nw *network) bruteForceMin() float64 {
	best := math.Inf(1)
	for s := 0; s < 1<<nw.n; s++ {
		e := nw.energy(func(v int) bool { return s&(1<<v) != 0 })
		best = math.Min(best, e)
	}
	return best
}

// TestSmallNetworks checks hand-computed flows and cuts
func TestSmallNetworks(t *testing.T) {
	t.Run("single path", func(t *testing.T) {
		g := New(2, 1)
		a, b := g.AddNode(), g.AddNode()
		g.AddTermWeights(a, 5, 0)
		g.AddTermWeights(b, 0, 3)
		g.AddEdge(a, b, 4)
		if f := g.MaxFlow(); math.Abs(f-3) > 1e-9 {
			t.Errorf("Expected flow 3, got %f", f)
		}
		if !g.InSourceSegment(a) || !g.InSourceSegment(b) {
			t.Errorf("Expected both nodes on the source side")
		}
	})

	t.Run("bottleneck edge", func(t *testing.T) {
		g := New(2, 1)
		a, b := g.AddNode(), g.AddNode()
		g.AddTermWeights(a, 5, 0)
		g.AddTermWeights(b, 0, 3)
		g.AddEdge(a, b, 1)
		if f := g.MaxFlow(); math.Abs(f-1) > 1e-9 {
			t.Errorf("Expected flow 1, got %f", f)
		}
		if !g.InSourceSegment(a) || g.InSourceSegment(b) {
			t.Errorf("Expected cut between a and b")
		}
	})

	t.Run("reparametrized terminals", func(t *testing.T) {
		g := New(1, 0)
		v := g.AddNode()
		g.AddTermWeights(v, 5, 2)
		if g.Term(v) != 3 {
			t.Errorf("Expected residual 3, got %f", g.Term(v))
		}
		g.AddTermWeights(v, 0, 4)
		if g.Term(v) != -1 {
			t.Errorf("Expected residual -1, got %f", g.Term(v))
		}
		if f := g.MaxFlow(); math.Abs(f-5) > 1e-9 {
			t.Errorf("Expected flow 5, got %f", f)
		}
		if g.InSourceSegment(v) {
			t.Errorf("Expected node on the sink side")
		}
	})

	t.Run("negative capacities", func(t *testing.T) {
		g := New(1, 0)
		v := g.AddNode()
		g.AddTermWeights(v, -1, 4)
		if f := g.MaxFlow(); math.Abs(f+1) > 1e-9 {
			t.Errorf("Expected flow -1, got %f", f)
		}
		if g.InSourceSegment(v) {
			t.Errorf("Expected node on the sink side")
		}
	})
}

// TestAddEdgeIncrements verifies that repeated pairs share one edge
func TestAddEdgeIncrements(t *testing.T) {
	g := New(2, 2)
	a, b := g.AddNode(), g.AddNode()
	g.AddEdge(a, b, 1.5)
	g.AddEdge(b, a, 2)
	g.AddEdge(a, a, 10)
	g.AddEdge(a, b, 0)
	g.AddTermWeights(a, 0, 1)

	if g.EdgeCount() != 1 {
		t.Errorf("Expected 1 edge, got %d", g.EdgeCount())
	}
	if got := g.SumW(a); math.Abs(got-4.5) > 1e-12 {
		t.Errorf("Expected SumW 4.5, got %f", got)
	}
	if got := g.SumW(b); math.Abs(got-3.5) > 1e-12 {
		t.Errorf("Expected SumW 3.5, got %f", got)
	}
}

// TestMatchesBruteForce compares flows and cuts with exhaustive enumeration
func TestMatchesBruteForce(t *testing.T) {
	for seed := uint64(1); seed <= 40; seed++ {
		nw := randomNetwork(seed, 8, 20)
		g := nw.build()
		want := nw.bruteForceMin()
		got := g.MaxFlow()
		if math.Abs(got-want) > 1e-6 {
			t.Fatalf("seed %d: expected min cut %f, got flow %f", seed, want, got)
		}
		cut := nw.energy(func(v int) bool { return g.InSourceSegment(int32(v)) })
		if math.Abs(cut-want) > 1e-6 {
			t.Fatalf("seed %d: reported cut has capacity %f, want %f", seed, cut, want)
		}
	}
}

// TestRegionSolvesPreserveFlow verifies that partial region solves followed by
// a full solve give the same flow and cut as a single full solve
func TestRegionSolvesPreserveFlow(t *testing.T) {
	for seed := uint64(100); seed < 120; seed++ {
		nw := randomNetwork(seed, 10, 30)
		plain := nw.build()
		want := plain.MaxFlow()

		g := nw.build()
		labels := make([]int32, nw.n)
		for v := range labels {
			labels[v] = int32(v % 3)
		}
		labels[0] = NoRegion
		if err := g.SetRegions(labels); err != nil {
			t.Fatal(err)
		}
		if g.RegionCount() != 3 {
			t.Fatalf("Expected 3 regions, got %d", g.RegionCount())
		}
		for r := int32(0); r < 3; r++ {
			g.AddFlow(g.SolveRegion(r))
		}
		got := g.MaxFlow()
		if math.Abs(got-want) > 1e-6 {
			t.Fatalf("seed %d: expected flow %f, got %f", seed, want, got)
		}
		for v := 0; v < nw.n; v++ {
			if g.InSourceSegment(int32(v)) != plain.InSourceSegment(int32(v)) {
				t.Fatalf("seed %d: node %d changed side", seed, v)
			}
		}
	}
}

// TestSetRegionsLength rejects label slices of the wrong size
func TestSetRegionsLength(t *testing.T) {
	g := New(2, 0)
	g.AddNode()
	g.AddNode()
	if err := g.SetRegions([]int32{0}); err == nil {
		t.Errorf("Expected error for short label slice")
	}
}

func BenchmarkMaxFlowGrid(b *testing.B) {
	const side = 64
	rng := rand.New(rand.NewPCG(3, 3))
	src := make([]float64, side*side)
	snk := make([]float64, side*side)
	for i := range src {
		src[i], snk[i] = rng.Float64()*20, rng.Float64()*20
	}
	for b.Loop() {
		g := New(side*side, 2*side*side)
		for i := 0; i < side*side; i++ {
			v := g.AddNode()
			g.AddTermWeights(v, src[i], snk[i])
		}
		for y := 0; y < side; y++ {
			for x := 0; x < side; x++ {
				v := int32(y*side + x)
				if x > 0 {
					g.AddEdge(v, v-1, 5)
				}
				if y > 0 {
					g.AddEdge(v, v-side, 5)
				}
			}
		}
		g.MaxFlow()
	}
}
