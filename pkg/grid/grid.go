// Package grid provides the dense row-major 2D container used for images,
// label masks and per-pixel scalar fields.
package grid

import (
	"fmt"
	"image"
	"image/color"

	"grabcut/internal/models"
)

// Grid is a row-major rows x cols array of T. A Grid returned by View shares
// storage with its parent.
type Grid[T any] struct {
	rows   int
	cols   int
	stride int
	offset int
	data   []T
}

// New allocates a zeroed rows x cols grid.
func New[T any](rows, cols int) *Grid[T] {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("grid: negative size %dx%d", rows, cols))
	}
	return &Grid[T]{
		rows:   rows,
		cols:   cols,
		stride: cols,
		data:   make([]T, rows*cols),
	}
}

// Rows returns the number of rows
func (g *Grid[T]) Rows() int { return g.rows }

// Cols returns the number of columns
func (g *Grid[T]) Cols() int { return g.cols }

// Len returns rows*cols
func (g *Grid[T]) Len() int { return g.rows * g.cols }

// Empty reports whether the grid has no cells.
func (g *Grid[T]) Empty() bool { return g == nil || g.rows == 0 || g.cols == 0 }

// At returns the value at (row, col).
func (g *Grid[T]) At(row, col int) T {
	return g.data[g.offset+row*g.stride+col]
}

// Set stores v at (row, col).
func (g *Grid[T]) Set(row, col int, v T) {
	g.data[g.offset+row*g.stride+col] = v
}

// Contains reports whether (row, col) is inside the grid.
func (g *Grid[T]) Contains(row, col int) bool {
	return row >= 0 && col >= 0 && row < g.rows && col < g.cols
}

// SameSize reports whether both grids have identical dimensions.
func SameSize[A, B any](a *Grid[A], b *Grid[B]) bool {
	return a.rows == b.rows && a.cols == b.cols
}

// Fill sets every cell to v.
func (g *Grid[T]) Fill(v T) {
	for r := 0; r < g.rows; r++ {
		row := g.data[g.offset+r*g.stride : g.offset+r*g.stride+g.cols]
		for c := range row {
			row[c] = v
		}
	}
}

// View returns the sub-rectangle starting at (row, col) with the given size.
// Writes through the view modify the parent.
func (g *Grid[T]) View(row, col, rows, cols int) *Grid[T] {
	if row < 0 || col < 0 || rows < 0 || cols < 0 || row+rows > g.rows || col+cols > g.cols {
		panic(fmt.Sprintf("grid: view (%d,%d %dx%d) outside %dx%d", row, col, rows, cols, g.rows, g.cols))
	}
	return &Grid[T]{
		rows:   rows,
		cols:   cols,
		stride: g.stride,
		offset: g.offset + row*g.stride + col,
		data:   g.data,
	}
}

// Clone returns a compact deep copy.
func (g *Grid[T]) Clone() *Grid[T] {
	out := New[T](g.rows, g.cols)
	for r := 0; r < g.rows; r++ {
		copy(out.data[r*out.stride:(r+1)*out.stride], g.data[g.offset+r*g.stride:g.offset+r*g.stride+g.cols])
	}
	return out
}

// Equal reports whether two grids hold the same values.
func Equal[T comparable](a, b *Grid[T]) bool {
	if !SameSize(a, b) {
		return false
	}
	for r := 0; r < a.rows; r++ {
		for c := 0; c < a.cols; c++ {
			if a.At(r, c) != b.At(r, c) {
				return false
			}
		}
	}
	return true
}

// FromImage converts any image into an RGB grid. Alpha is ignored.
func FromImage(img image.Image) *Grid[models.Color] {
	b := img.Bounds()
	g := New[models.Color](b.Dy(), b.Dx())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			g.Set(y, x, models.Color{c.R, c.G, c.B})
		}
	}
	return g
}

// ToImage renders an RGB grid as an opaque RGBA image.
func ToImage(g *Grid[models.Color]) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, g.Cols(), g.Rows()))
	for y := 0; y < g.Rows(); y++ {
		for x := 0; x < g.Cols(); x++ {
			c := g.At(y, x)
			img.SetRGBA(x, y, color.RGBA{R: c[0], G: c[1], B: c[2], A: 255})
		}
	}
	return img
}

// MaskFromImage reads a label mask from the gray levels of img.
// Values are not validated here.
func MaskFromImage(img image.Image) *Grid[models.Label] {
	b := img.Bounds()
	g := New[models.Label](b.Dy(), b.Dx())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			v := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			g.Set(y, x, models.Label(v.Y))
		}
	}
	return g
}

// MaskToImage stores the raw label values in an 8-bit gray image.
func MaskToImage(g *Grid[models.Label]) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, g.Cols(), g.Rows()))
	for y := 0; y < g.Rows(); y++ {
		for x := 0; x < g.Cols(); x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(g.At(y, x))})
		}
	}
	return img
}
