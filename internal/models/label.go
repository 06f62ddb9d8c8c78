package models

import (
	"fmt"
	"image"
)

// Label is the per-pixel segmentation state stored in a mask.
// The numeric values match the usual mask encoding so masks can be
// exchanged as 8-bit gray images.
type Label uint8

const (
	// Background marks a pixel that is definitely background
	Background Label = iota

	// Foreground marks a pixel that is definitely foreground
	Foreground

	// ProbableBackground marks a pixel the solver may relabel, currently background
	ProbableBackground

	// ProbableForeground marks a pixel the solver may relabel, currently foreground
	ProbableForeground
)

// Valid reports whether l is one of the four allowed categories.
func (l Label) Valid() bool {
	return l <= ProbableForeground
}

// IsProbable reports whether the label may change between iterations.
func (l Label) IsProbable() bool {
	return l == ProbableBackground || l == ProbableForeground
}

// IsBackgroundLike reports whether the pixel feeds the background model.
func (l Label) IsBackgroundLike() bool {
	return l == Background || l == ProbableBackground
}

func (l Label) String() string {
	switch l {
	case Background:
		return "BGD"
	case Foreground:
		return "FGD"
	case ProbableBackground:
		return "PR_BGD"
	case ProbableForeground:
		return "PR_FGD"
	default:
		return fmt.Sprintf("Label(%d)", uint8(l))
	}
}

// Mode selects how a segmentation call initializes its state
type Mode int

const (
	// InitWithRect builds the mask from a rectangle and seeds the models
	InitWithRect Mode = iota

	// InitWithMask validates the caller's mask and seeds the models from it
	InitWithMask

	// Eval continues from caller-supplied mask and models without re-seeding
	Eval
)

func (m Mode) String() string {
	switch m {
	case InitWithRect:
		return "rect"
	case InitWithMask:
		return "mask"
	case Eval:
		return "eval"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a CLI/config spelling into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "rect":
		return InitWithRect, nil
	case "mask":
		return InitWithMask, nil
	case "eval":
		return Eval, nil
	}
	return 0, fmt.Errorf("unknown mode %q (must be rect, mask or eval)", s)
}

// Rect is an axis-aligned rectangle in pixel coordinates (X = column, Y = row)
type Rect struct {
	X, Y          int
	Width, Height int
}

// Clip returns the part of r that lies inside a rows x cols image.
// The result may be empty.
func (r Rect) Clip(rows, cols int) Rect {
	ir := image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height).Intersect(image.Rect(0, 0, cols, rows))
	return Rect{X: ir.Min.X, Y: ir.Min.Y, Width: ir.Dx(), Height: ir.Dy()}
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}
