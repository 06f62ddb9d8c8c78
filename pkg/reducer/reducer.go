// Package reducer builds the min-cut graph of one segmentation iteration.
//
// In reduced mode pixels are visited in raster order and merged into an
// already visited neighbor's node, or straight into a terminal, whenever the
// merge provably leaves every minimum cut unchanged. The resulting graph has
// fewer nodes than pixels but the same max-flow value once the source-sink
// correction is added. With reduction disabled every pixel gets its own node.
package reducer

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"grabcut/internal/models"
	"grabcut/pkg/affinity"
	"grabcut/pkg/gmm"
	"grabcut/pkg/grid"
	"grabcut/pkg/maxflow"
)

// noJoin is returned by the join search when p needs a node of its own
const noJoin int32 = -10

var epsilon = math.Nextafter(1, 2) - 1

// Options controls graph construction
type Options struct {
	// Reduce enables node merging. When false the graph has one node per pixel.
	Reduce bool

	// TerminalDualJoin also merges a pixel into a terminal already holding a
	// neighbor when the shared weight exceeds half of the terminal's
	// accumulated weight. This rule does not preserve the flow value and is
	// off unless explicitly requested.
	TerminalDualJoin bool

	// Lambda is the t-link weight of definite pixels
	Lambda float64
}

// DefaultOptions returns reduction enabled with the reference lambda.
func DefaultOptions() Options {
	return Options{
		Reduce: true,
		Lambda: affinity.Lambda(affinity.DefaultGamma),
	}
}

// Stats summarizes one construction pass
type Stats struct {
	Pixels       int
	Probable     int
	Nodes        int
	Edges        int
	JoinedNodes  int
	JoinedSink   int
	JoinedSource int
}

// Ratio returns nodes per pixel, 1 for an unreduced graph.
func (s Stats) Ratio() float64 {
	if s.Pixels == 0 {
		return 0
	}
	return float64(s.Nodes) / float64(s.Pixels)
}

// Result is the output of Build. PixelToNode holds a node index per pixel or
// one of models.JoinedSink and models.JoinedSource.
type Result struct {
	Graph       *maxflow.Graph
	PixelToNode *grid.Grid[int32]

	// Correction is the capacity of cut edges that collapsed into a direct
	// source-sink link. It is never part of the graph.
	Correction float64

	Stats Stats

	seeds []int32
	cols  int
}

// TotalFlow adds the source-sink correction to a flow value of Graph.
func (r *Result) TotalFlow(graphFlow float64) float64 {
	return graphFlow + r.Correction
}

// Seed returns the first pixel merged into node v.
func (r *Result) Seed(v int32) (row, col int) {
	i := int(r.seeds[v])
	return i / r.cols, i % r.cols
}

// Apply relabels every probable pixel of mask from the solved graph and
// returns how many labels changed. Pixels merged into a terminal take that
// terminal's side.
func (r *Result) Apply(mask *grid.Grid[models.Label]) int {
	changed := 0
	for y := 0; y < mask.Rows(); y++ {
		for x := 0; x < mask.Cols(); x++ {
			old := mask.At(y, x)
			if !old.IsProbable() {
				continue
			}
			v := r.PixelToNode.At(y, x)
			fg := v == models.JoinedSource || (v >= 0 && r.Graph.InSourceSegment(v))
			label := models.ProbableBackground
			if fg {
				label = models.ProbableForeground
			}
			if label != old {
				mask.Set(y, x, label)
				changed++
			}
		}
	}
	return changed
}

// builder is the scratch state of one construction call.
type builder struct {
	mask  *grid.Grid[models.Label]
	field *affinity.Field
	opts  Options
	rows  int
	cols  int

	g        *maxflow.Graph
	pxl2node *grid.Grid[int32]

	// raw terminal weights and total normalized incident weight per pixel
	src   []float64
	sink  []float64
	sigma []float64

	// merged pixels: newest member per node, then a chain through prev
	head  []int32
	prev  []int32
	seeds []int32

	// pixels merged into Sink (0) and Source (1), in raster order
	termPixels [2][]int32
	termW      [2]float64

	correction float64
	stats      Stats
}

// Build constructs the graph for the current labels and models. Both models
// must be fitted whenever the mask holds a probable pixel.
func Build(img *grid.Grid[models.Color], mask *grid.Grid[models.Label], fg, bg *gmm.Model, field *affinity.Field, opts Options) *Result {
	rows, cols := img.Rows(), img.Cols()
	n := rows * cols
	b := &builder{
		mask:     mask,
		field:    field,
		opts:     opts,
		rows:     rows,
		cols:     cols,
		g:        maxflow.New(n, 4*n),
		pxl2node: grid.New[int32](rows, cols),
		src:      make([]float64, n),
		sink:     make([]float64, n),
		sigma:    make([]float64, n),
		prev:     make([]int32, n),
	}
	b.stats.Pixels = n
	b.initWeights(img, fg, bg)

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			b.visit(y, x)
		}
	}

	b.stats.Nodes = b.g.NodeCount()
	b.stats.Edges = b.g.EdgeCount()
	return &Result{
		Graph:       b.g,
		PixelToNode: b.pxl2node,
		Correction:  b.correction,
		Stats:       b.stats,
		seeds:       b.seeds,
		cols:        cols,
	}
}

// initWeights computes raw t-links and sigma for every pixel. Sigma uses the
// normalized t-link |src-sink|, which leaves every cut comparison unchanged.
func (b *builder) initWeights(img *grid.Grid[models.Color], fg, bg *gmm.Model) {
	var nlinks [8]float64
	for y := 0; y < b.rows; y++ {
		for x := 0; x < b.cols; x++ {
			i := y*b.cols + x
			switch label := b.mask.At(y, x); {
			case label.IsProbable():
				c := img.At(y, x).Vec()
				b.src[i] = bg.NegLogLikelihood(c)
				b.sink[i] = fg.NegLogLikelihood(c)
				b.stats.Probable++
			case label == models.Background:
				b.sink[i] = b.opts.Lambda
			default:
				b.src[i] = b.opts.Lambda
			}
			for d := range 4 {
				nlinks[d] = b.field.At(affinity.Direction(d), y, x)
			}
			fw, _ := b.field.Forward(y, x)
			copy(nlinks[4:], fw[:])
			b.sigma[i] = floats.Sum(nlinks[:]) + math.Abs(b.src[i]-b.sink[i])
		}
	}
}

func termIndex(v int32) int {
	if v == models.JoinedSink {
		return 0
	}
	return 1
}

func (b *builder) visit(y, x int) {
	i := int32(y*b.cols + x)
	label := b.mask.At(y, x)

	var v int32
	switch {
	case !b.opts.Reduce:
		v = b.newNode(i)
	case label == models.Background:
		v = models.JoinedSink
	case label == models.Foreground:
		v = models.JoinedSource
	default:
		v = b.search(y, x)
		switch {
		case v == noJoin:
			v = b.newNode(i)
		case v >= 0:
			b.prev[i] = b.head[v]
			b.head[v] = i
			b.stats.JoinedNodes++
		case v == models.JoinedSink:
			b.stats.JoinedSink++
		default:
			b.stats.JoinedSource++
		}
	}
	b.pxl2node.Set(y, x, v)

	if v >= 0 {
		b.g.AddTermWeights(v, b.src[i], b.sink[i])
		d := b.src[i] - b.sink[i]
		b.termW[1] += math.Max(d, 0)
		b.termW[0] += math.Max(-d, 0)
	} else {
		// a pixel on the sink side pays its source link and vice versa
		if v == models.JoinedSink {
			b.correction += b.src[i]
		} else {
			b.correction += b.sink[i]
		}
		t := termIndex(v)
		b.termPixels[t] = append(b.termPixels[t], i)
	}

	b.installEdges(y, x, v)
}

func (b *builder) newNode(i int32) int32 {
	v := b.g.AddNode()
	b.head = append(b.head, i)
	b.seeds = append(b.seeds, i)
	b.prev[i] = -1
	return v
}

// search returns the node or terminal p can join, or noJoin.
func (b *builder) search(y, x int) int32 {
	i := y*b.cols + x
	sigma := b.sigma[i]
	if sigma <= epsilon {
		return noJoin
	}
	d := b.src[i] - b.sink[i]
	ws, wt := math.Max(-d, 0), math.Max(d, 0)
	half := 0.5 * sigma
	if ws > half {
		return models.JoinedSink
	}
	if wt > half {
		return models.JoinedSource
	}

	var nb [4]int32
	var w [4]float64
	for k, off := range affinity.Offsets {
		ny, nx := y+off[0], x+off[1]
		if !b.pxl2node.Contains(ny, nx) {
			nb[k] = noJoin
			continue
		}
		nb[k] = b.pxl2node.At(ny, nx)
		w[k] = b.field.At(affinity.Direction(k), y, x)
	}

	for _, n := range nb {
		if n == noJoin {
			continue
		}
		var s float64
		for j := range nb {
			if nb[j] == n {
				s += w[j]
			}
		}
		switch n {
		case models.JoinedSink:
			s += ws
		case models.JoinedSource:
			s += wt
		}

		if s > half {
			return n
		}
		if n >= 0 {
			if s > 0.5*(b.g.SumW(n)+b.nodePending(n, i)) {
				return n
			}
		} else if b.opts.TerminalDualJoin {
			t := termIndex(n)
			if s > 0.5*(b.termW[t]+b.terminalPending(t, i)) {
				return n
			}
		}
	}
	return noJoin
}

// pending sums the forward edges of pixel m whose far end has not been
// visited yet when pixel p is being processed.
func (b *builder) pending(m int32, p int) float64 {
	row, col := int(m)/b.cols, int(m)%b.cols
	w, idx := b.field.Forward(row, col)
	var s float64
	for k := range w {
		if idx[k] >= p {
			s += w[k]
		}
	}
	return s
}

// nodePending walks the members of node n from newest to oldest. Members
// more than one row plus one pixel behind p cannot reach unvisited pixels.
func (b *builder) nodePending(n int32, p int) float64 {
	cutoff := int32(p - b.cols - 1)
	var s float64
	for m := b.head[n]; m >= 0 && m >= cutoff; m = b.prev[m] {
		s += b.pending(m, p)
	}
	return s
}

func (b *builder) terminalPending(t int, p int) float64 {
	cutoff := int32(p - b.cols - 1)
	pixels := b.termPixels[t]
	var s float64
	for k := len(pixels) - 1; k >= 0 && pixels[k] >= cutoff; k-- {
		s += b.pending(pixels[k], p)
	}
	return s
}

// installEdges adds the four backward n-links of p. Edges inside one node or
// one terminal vanish, node-terminal edges become t-links and edges between
// the two terminals go to the correction term.
func (b *builder) installEdges(y, x int, v int32) {
	for k, off := range affinity.Offsets {
		ny, nx := y+off[0], x+off[1]
		if !b.pxl2node.Contains(ny, nx) {
			continue
		}
		w := b.field.At(affinity.Direction(k), y, x)
		n := b.pxl2node.At(ny, nx)
		switch {
		case v >= 0 && n >= 0:
			if v != n {
				b.g.AddEdge(v, n, w)
			}
		case v >= 0:
			b.terminalEdge(v, n, w)
		case n >= 0:
			b.terminalEdge(n, v, w)
		case v != n:
			b.correction += w
			b.termW[0] += w
			b.termW[1] += w
		}
	}
}

func (b *builder) terminalEdge(node, t int32, w float64) {
	if t == models.JoinedSource {
		b.g.AddTermWeights(node, w, 0)
	} else {
		b.g.AddTermWeights(node, 0, w)
	}
	b.termW[termIndex(t)] += w
}
