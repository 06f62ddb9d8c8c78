// Package affinity computes the pairwise n-link weights of the segmentation
// graph from image colors alone.
//
// Every pixel stores the weights to its left, up-left, up and up-right
// neighbors, so each undirected 8-neighborhood edge is stored exactly once,
// at its later endpoint in raster order.
package affinity

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"grabcut/internal/models"
	"grabcut/pkg/grid"
)

// DefaultGamma is the smoothness scale of the reference configuration
const DefaultGamma = 50.0

// LambdaFactor scales gamma into the hard-constraint t-link weight of
// definite pixels.
const LambdaFactor = 9.0

var epsilon = math.Nextafter(1, 2) - 1

// Direction indexes the four stored neighbor directions
type Direction int

const (
	Left Direction = iota
	UpLeft
	Up
	UpRight
)

// Offsets holds (dRow, dCol) for every stored direction.
var Offsets = [4][2]int{
	Left:    {0, -1},
	UpLeft:  {-1, -1},
	Up:      {-1, 0},
	UpRight: {-1, 1},
}

// Field is the set of four per-pixel edge-weight grids
type Field struct {
	// W holds one grid per Direction
	W [4]*grid.Grid[float64]

	Beta  float64
	Gamma float64
}

// Lambda returns the t-link weight used for definite pixels.
func Lambda(gamma float64) float64 {
	return LambdaFactor * gamma
}

// ComputeBeta returns 1 / (2 * mean squared color difference) over every
// 8-neighborhood pair, or 0 for an image whose neighbors all share a color.
func ComputeBeta(img *grid.Grid[models.Color]) float64 {
	var sum float64
	var pairs int
	rows, cols := img.Rows(), img.Cols()
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			c := img.At(y, x)
			for _, off := range Offsets {
				ny, nx := y+off[0], x+off[1]
				if !img.Contains(ny, nx) {
					continue
				}
				sum += c.SqDist(img.At(ny, nx))
				pairs++
			}
		}
	}
	if sum <= epsilon || pairs == 0 {
		return 0
	}
	return 1 / (2 * sum / float64(pairs))
}

// Compute builds the weight grids: gamma*exp(-beta*|dc|^2) for straight
// neighbors and the same divided by sqrt(2) for diagonal ones. Border pixels
// get 0 in directions without a neighbor.
func Compute(img *grid.Grid[models.Color], beta, gamma float64) *Field {
	rows, cols := img.Rows(), img.Cols()
	f := &Field{Beta: beta, Gamma: gamma}
	for d := range f.W {
		f.W[d] = grid.New[float64](rows, cols)
	}

	gammaDivSqrt2 := gamma / math.Sqrt2
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			c := img.At(y, x)
			for d, off := range Offsets {
				ny, nx := y+off[0], x+off[1]
				if !img.Contains(ny, nx) {
					continue
				}
				g := gamma
				if Direction(d) == UpLeft || Direction(d) == UpRight {
					g = gammaDivSqrt2
				}
				f.W[d].Set(y, x, g*math.Exp(-beta*c.SqDist(img.At(ny, nx))))
			}
		}
	}
	return f
}

// New computes beta from img and the weight grids in one call.
func New(img *grid.Grid[models.Color], gamma float64) *Field {
	return Compute(img, ComputeBeta(img), gamma)
}

// Rows returns the image height
func (f *Field) Rows() int { return f.W[Left].Rows() }

// Cols returns the image width
func (f *Field) Cols() int { return f.W[Left].Cols() }

// At returns the stored weight of pixel (row, col) in direction d.
func (f *Field) At(d Direction, row, col int) float64 {
	return f.W[d].At(row, col)
}

// Between returns the undirected weight between two pixels, looked up at
// whichever endpoint stores it. Non-adjacent pairs weigh 0.
func (f *Field) Between(r0, c0, r1, c1 int) float64 {
	// store at the later pixel in raster order
	if r1 < r0 || (r1 == r0 && c1 < c0) {
		r0, c0, r1, c1 = r1, c1, r0, c0
	}
	for d, off := range Offsets {
		if r1+off[0] == r0 && c1+off[1] == c0 {
			if !f.W[d].Contains(r1, c1) {
				return 0
			}
			return f.W[d].At(r1, c1)
		}
	}
	return 0
}

// Forward returns the weights of the edges from (row, col) to its right,
// down-left, down and down-right neighbors, together with the raster index
// of each neighbor. Missing neighbors have weight 0 and index -1.
func (f *Field) Forward(row, col int) (w [4]float64, idx [4]int) {
	rows, cols := f.Rows(), f.Cols()
	for i := range idx {
		idx[i] = -1
	}
	if col+1 < cols {
		w[0] = f.W[Left].At(row, col+1)
		idx[0] = row*cols + col + 1
	}
	if row+1 < rows {
		if col > 0 {
			w[1] = f.W[UpRight].At(row+1, col-1)
			idx[1] = (row+1)*cols + col - 1
		}
		w[2] = f.W[Up].At(row+1, col)
		idx[2] = (row+1)*cols + col
		if col+1 < cols {
			w[3] = f.W[UpLeft].At(row+1, col+1)
			idx[3] = (row+1)*cols + col + 1
		}
	}
	return w, idx
}

// NeighborSum returns the total n-link weight of a pixel over its whole
// 8-neighborhood.
func (f *Field) NeighborSum(row, col int) float64 {
	var s float64
	for d := range f.W {
		s += f.W[d].At(row, col)
	}
	fw, _ := f.Forward(row, col)
	for _, w := range fw {
		s += w
	}
	return s
}

// Summary returns the mean and standard deviation of all stored edge weights
// that connect two pixels.
func (f *Field) Summary() (mean, std float64) {
	var w []float64
	for d, off := range Offsets {
		g := f.W[d]
		for y := 0; y < g.Rows(); y++ {
			for x := 0; x < g.Cols(); x++ {
				if g.Contains(y+off[0], x+off[1]) {
					w = append(w, g.At(y, x))
				}
			}
		}
	}
	if len(w) == 0 {
		return 0, 0
	}
	if len(w) == 1 {
		return w[0], 0
	}
	return stat.MeanStdDev(w, nil)
}
