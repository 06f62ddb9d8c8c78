package models

import "gonum.org/v1/gonum/spatial/r3"

// Color is an 8-bit RGB pixel. Colors are immutable once an image is loaded.
type Color [3]uint8

// Vec returns the color as a point in RGB space.
func (c Color) Vec() r3.Vec {
	return r3.Vec{X: float64(c[0]), Y: float64(c[1]), Z: float64(c[2])}
}

// SqDist returns the squared euclidean distance between two colors.
func (c Color) SqDist(o Color) float64 {
	d := r3.Sub(c.Vec(), o.Vec())
	return r3.Dot(d, d)
}

// Node sentinels used by pixel-to-node maps. Non-negative values are node indices.
const (
	// JoinedSink marks a pixel merged directly into the Sink (background) terminal
	JoinedSink int32 = -1

	// JoinedSource marks a pixel merged directly into the Source (foreground) terminal
	JoinedSource int32 = -2
)
