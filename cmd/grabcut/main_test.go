package main

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"grabcut/internal/models"
	"grabcut/pkg/grid"
	"grabcut/pkg/visualization"
)

// writeBlockImage saves a 10x10 blue image with a red 4x4 block at (3,3)
func writeBlockImage(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			c := color.RGBA{30, 30, 200, 255}
			if y >= 3 && y < 7 && x >= 3 && x < 7 {
				c = color.RGBA{220, 40, 40, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	if err := visualization.SavePNG(img, path); err != nil {
		t.Fatalf("Failed to write test image: %v", err)
	}
}

func readMask(t *testing.T, path string) *grid.Grid[models.Label] {
	t.Helper()
	img, err := loadImage(path)
	if err != nil {
		t.Fatalf("Failed to read mask: %v", err)
	}
	return grid.MaskFromImage(img)
}

func TestRunRectThenEval(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "block.png")
	writeBlockImage(t, input)

	f := flags{
		input:      input,
		rect:       "1,1,8,8",
		mode:       "rect",
		output:     filepath.Join(dir, "mask.png"),
		config:     filepath.Join(dir, "missing.yaml"),
		iterations: -1,
		models:     filepath.Join(dir, "models.yaml"),
		outDir:     filepath.Join(dir, "out"),
	}
	if err := run(f); err != nil {
		t.Fatalf("rect run failed: %v", err)
	}
	mask := readMask(t, f.output)
	if got := mask.At(4, 4); got != models.ProbableForeground {
		t.Errorf("Block pixel labeled %v, want %v", got, models.ProbableForeground)
	}
	if got := mask.At(0, 0); got != models.Background {
		t.Errorf("Corner pixel labeled %v, want %v", got, models.Background)
	}
	for _, name := range []string{"models.yaml", "out/block_overlay.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s to be written: %v", name, err)
		}
	}

	f.mode = "eval"
	f.mask = f.output
	f.output = filepath.Join(dir, "eval.png")
	if err := run(f); err != nil {
		t.Fatalf("eval run failed: %v", err)
	}
	if !grid.Equal(readMask(t, f.output), mask) {
		t.Errorf("Eval run with the saved models changed a settled mask")
	}
}

// TestRunErrors checks that failures come back as errors instead of exiting
func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "block.png")
	writeBlockImage(t, input)
	base := flags{
		input:      input,
		rect:       "1,1,8,8",
		mode:       "rect",
		output:     filepath.Join(dir, "mask.png"),
		config:     filepath.Join(dir, "missing.yaml"),
		iterations: -1,
		outDir:     filepath.Join(dir, "out"),
	}

	tests := []struct {
		name   string
		modify func(f *flags)
	}{
		{"missing input", func(f *flags) { f.input = filepath.Join(dir, "nope.png") }},
		{"bad rectangle", func(f *flags) { f.rect = "1,1,8" }},
		{"unknown mode", func(f *flags) { f.mode = "lasso" }},
		{"mask mode without mask", func(f *flags) { f.mode = "mask" }},
		{"eval without models", func(f *flags) { f.mode = "eval"; f.mask = input }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := base
			tc.modify(&f)
			if err := run(f); err == nil {
				t.Errorf("Expected an error")
			}
		})
	}
}
