package segmentation

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"grabcut/internal/models"
	"grabcut/pkg/clustering"
	"grabcut/pkg/gmm"
	"grabcut/pkg/grid"
)

// ErrInvalidInput is wrapped by every error caused by bad caller input
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// InitMaskWithRect sets every pixel outside rect to Background and every
// pixel inside the image-clipped rect to ProbableForeground.
func InitMaskWithRect(mask *grid.Grid[models.Label], rect models.Rect) {
	mask.Fill(models.Background)
	r := rect.Clip(mask.Rows(), mask.Cols())
	if r.Empty() {
		return
	}
	mask.View(r.Y, r.X, r.Height, r.Width).Fill(models.ProbableForeground)
}

// CheckMask verifies that mask matches the image size and only holds the
// four allowed labels.
func CheckMask(img *grid.Grid[models.Color], mask *grid.Grid[models.Label]) error {
	if mask == nil || mask.Empty() {
		return invalid("mask is empty")
	}
	if !grid.SameSize(img, mask) {
		return invalid("mask is %dx%d, image is %dx%d", mask.Rows(), mask.Cols(), img.Rows(), img.Cols())
	}
	for y := 0; y < mask.Rows(); y++ {
		for x := 0; x < mask.Cols(); x++ {
			if l := mask.At(y, x); !l.Valid() {
				return invalid("mask value %d at (%d,%d) is not a segmentation label", uint8(l), y, x)
			}
		}
	}
	return nil
}

func countProbable(mask *grid.Grid[models.Label]) int {
	n := 0
	for y := 0; y < mask.Rows(); y++ {
		for x := 0; x < mask.Cols(); x++ {
			if mask.At(y, x).IsProbable() {
				n++
			}
		}
	}
	return n
}

// InitModels seeds both mixtures by k-means over the background-like and
// foreground-like pixels of mask.
func InitModels(img *grid.Grid[models.Color], mask *grid.Grid[models.Label], opts clustering.Options) (fg, bg *gmm.Model, err error) {
	var fgSamples, bgSamples []r3.Vec
	for y := 0; y < img.Rows(); y++ {
		for x := 0; x < img.Cols(); x++ {
			c := img.At(y, x).Vec()
			if mask.At(y, x).IsBackgroundLike() {
				bgSamples = append(bgSamples, c)
			} else {
				fgSamples = append(fgSamples, c)
			}
		}
	}
	if len(bgSamples) == 0 {
		return nil, nil, invalid("mask has no background samples")
	}
	if len(fgSamples) == 0 {
		return nil, nil, invalid("mask has no foreground samples")
	}

	opts.K = gmm.Components
	if fg, err = fitClusters(fgSamples, opts); err != nil {
		return nil, nil, fmt.Errorf("foreground model: %w", err)
	}
	if bg, err = fitClusters(bgSamples, opts); err != nil {
		return nil, nil, fmt.Errorf("background model: %w", err)
	}
	return fg, bg, nil
}

func fitClusters(samples []r3.Vec, opts clustering.Options) (*gmm.Model, error) {
	labels, err := clustering.Cluster(samples, opts)
	if err != nil {
		return nil, err
	}
	m := gmm.New()
	m.BeginAccumulation()
	for i, s := range samples {
		m.AddObservation(labels[i], s)
	}
	m.EndAccumulation()
	return m, nil
}
