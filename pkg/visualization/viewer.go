// Package visualization renders segmentation results: the label mask, a
// tinted overlay of the foreground and a cutout with transparent background.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"

	"grabcut/internal/models"
	"grabcut/pkg/grid"
)

// DefaultTint is the overlay color blended into foreground pixels
const DefaultTint = "#20c040"

// Gray levels used for each label in the rendered mask
var labelGray = [...]uint8{
	models.Background:         0,
	models.Foreground:         255,
	models.ProbableBackground: 85,
	models.ProbableForeground: 170,
}

// Viewer renders one image and its label mask
type Viewer struct {
	img  *grid.Grid[models.Color]
	mask *grid.Grid[models.Label]

	// tint is blended in Lab space into foreground pixels
	tint colorful.Color
}

// NewViewer creates a viewer for an image and a mask of the same size.
func NewViewer(img *grid.Grid[models.Color], mask *grid.Grid[models.Label]) (*Viewer, error) {
	if !grid.SameSize(img, mask) {
		return nil, fmt.Errorf("mask is %dx%d, image is %dx%d", mask.Rows(), mask.Cols(), img.Rows(), img.Cols())
	}
	tint, err := colorful.Hex(DefaultTint)
	if err != nil {
		return nil, err
	}
	return &Viewer{img: img, mask: mask, tint: tint}, nil
}

// SetTint changes the overlay color; hex is "#rrggbb".
func (v *Viewer) SetTint(hex string) error {
	c, err := colorful.Hex(hex)
	if err != nil {
		return fmt.Errorf("invalid tint %q: %w", hex, err)
	}
	v.tint = c
	return nil
}

func isForeground(l models.Label) bool {
	return l == models.Foreground || l == models.ProbableForeground
}

// MaskImage renders the four labels as distinct gray levels.
func (v *Viewer) MaskImage() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, v.mask.Cols(), v.mask.Rows()))
	for y := 0; y < v.mask.Rows(); y++ {
		for x := 0; x < v.mask.Cols(); x++ {
			l := v.mask.At(y, x)
			g := uint8(0)
			if l.Valid() {
				g = labelGray[l]
			}
			out.SetGray(x, y, color.Gray{Y: g})
		}
	}
	return out
}

// Overlay blends the tint into foreground pixels by strength in [0,1] and
// darkens background pixels by the same amount.
func (v *Viewer) Overlay(strength float64) (*image.RGBA, error) {
	if strength < 0 || strength > 1 || math.IsNaN(strength) {
		return nil, fmt.Errorf("strength must be in [0,1], got %v", strength)
	}
	black := colorful.Color{}
	out := image.NewRGBA(image.Rect(0, 0, v.img.Cols(), v.img.Rows()))
	for y := 0; y < v.img.Rows(); y++ {
		for x := 0; x < v.img.Cols(); x++ {
			c := v.img.At(y, x)
			src := colorful.Color{R: float64(c[0]) / 255, G: float64(c[1]) / 255, B: float64(c[2]) / 255}
			var blended colorful.Color
			if isForeground(v.mask.At(y, x)) {
				blended = src.BlendLab(v.tint, strength)
			} else {
				blended = src.BlendRgb(black, strength)
			}
			r, g, b := blended.Clamped().RGB255()
			out.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return out, nil
}

// Cutout keeps foreground pixels opaque and makes the rest transparent.
func (v *Viewer) Cutout() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, v.img.Cols(), v.img.Rows()))
	for y := 0; y < v.img.Rows(); y++ {
		for x := 0; x < v.img.Cols(); x++ {
			if !isForeground(v.mask.At(y, x)) {
				continue
			}
			c := v.img.At(y, x)
			out.SetNRGBA(x, y, color.NRGBA{R: c[0], G: c[1], B: c[2], A: 255})
		}
	}
	return out
}

// ForegroundFraction returns the share of pixels labelled foreground-like.
func (v *Viewer) ForegroundFraction() float64 {
	n := v.mask.Len()
	if n == 0 {
		return 0
	}
	fg := 0
	for y := 0; y < v.mask.Rows(); y++ {
		for x := 0; x < v.mask.Cols(); x++ {
			if isForeground(v.mask.At(y, x)) {
				fg++
			}
		}
	}
	return float64(fg) / float64(n)
}

// DominantForeground returns the dominant color of the foreground pixels.
// The pixels are packed into a dense square image first so the background
// does not take part.
func (v *Viewer) DominantForeground() (color.RGBA, error) {
	var pixels []models.Color
	for y := 0; y < v.img.Rows(); y++ {
		for x := 0; x < v.img.Cols(); x++ {
			if isForeground(v.mask.At(y, x)) {
				pixels = append(pixels, v.img.At(y, x))
			}
		}
	}
	if len(pixels) == 0 {
		return color.RGBA{}, fmt.Errorf("mask has no foreground pixels")
	}

	side := int(math.Ceil(math.Sqrt(float64(len(pixels)))))
	packed := image.NewRGBA(image.Rect(0, 0, side, side))
	for i := 0; i < side*side; i++ {
		c := pixels[i%len(pixels)]
		packed.SetRGBA(i%side, i/side, color.RGBA{R: c[0], G: c[1], B: c[2], A: 255})
	}
	return dominantcolor.Find(packed), nil
}

// SavePNG writes img to filename, creating parent directories.
func SavePNG(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveAll writes the mask, overlay and cutout images into outputDir with the
// given file name prefix.
func (v *Viewer) SaveAll(outputDir, prefix string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	overlay, err := v.Overlay(0.5)
	if err != nil {
		return err
	}
	outputs := []struct {
		suffix string
		img    image.Image
	}{
		{"mask", v.MaskImage()},
		{"overlay", overlay},
		{"cutout", v.Cutout()},
	}
	for _, o := range outputs {
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.png", prefix, o.suffix))
		if err := SavePNG(o.img, filename); err != nil {
			return fmt.Errorf("failed to save %s: %w", o.suffix, err)
		}
	}
	return nil
}
