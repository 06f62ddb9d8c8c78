package visualization

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"grabcut/internal/models"
	"grabcut/pkg/grid"
)

// testScene returns a 6x6 gray image whose left half is labelled foreground
func testScene() (*grid.Grid[models.Color], *grid.Grid[models.Label]) {
	img := grid.New[models.Color](6, 6)
	img.Fill(models.Color{100, 100, 100})
	img.View(0, 0, 6, 3).Fill(models.Color{200, 40, 40})

	mask := grid.New[models.Label](6, 6)
	mask.Fill(models.ProbableBackground)
	mask.View(0, 0, 6, 3).Fill(models.ProbableForeground)
	mask.Set(0, 0, models.Foreground)
	mask.Set(5, 5, models.Background)
	return img, mask
}

// TestNewViewer verifies size checking
func TestNewViewer(t *testing.T) {
	img, mask := testScene()
	if _, err := NewViewer(img, mask); err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}
	if _, err := NewViewer(img, grid.New[models.Label](3, 3)); err == nil {
		t.Error("Expected error for mismatched mask, got nil")
	}
}

// TestMaskImage checks the gray level of every label
func TestMaskImage(t *testing.T) {
	img, mask := testScene()
	v, _ := NewViewer(img, mask)
	out := v.MaskImage()

	tests := []struct {
		x, y int
		want uint8
	}{
		{0, 0, 255},
		{1, 0, 170},
		{4, 0, 85},
		{5, 5, 0},
	}
	for _, tc := range tests {
		if got := out.GrayAt(tc.x, tc.y).Y; got != tc.want {
			t.Errorf("Expected gray %d at (%d,%d), got %d", tc.want, tc.x, tc.y, got)
		}
	}
}

// TestOverlay verifies that strength 0 keeps the image and 1 applies the
// tint and full darkening
func TestOverlay(t *testing.T) {
	img, mask := testScene()
	v, _ := NewViewer(img, mask)

	same, err := v.Overlay(0)
	if err != nil {
		t.Fatalf("Overlay failed: %v", err)
	}
	if got := same.RGBAAt(4, 2); got != (color.RGBA{R: 100, G: 100, B: 100, A: 255}) {
		t.Errorf("Expected unchanged background pixel, got %v", got)
	}

	if err := v.SetTint("#0000ff"); err != nil {
		t.Fatalf("SetTint failed: %v", err)
	}
	full, err := v.Overlay(1)
	if err != nil {
		t.Fatalf("Overlay failed: %v", err)
	}
	if got := full.RGBAAt(4, 2); got != (color.RGBA{A: 255}) {
		t.Errorf("Expected black background pixel, got %v", got)
	}
	if got := full.RGBAAt(1, 2); got.B < 250 || got.R > 5 {
		t.Errorf("Expected foreground pixel to take the tint, got %v", got)
	}

	if _, err := v.Overlay(1.5); err == nil {
		t.Error("Expected error for strength above 1, got nil")
	}
	if err := v.SetTint("green"); err == nil {
		t.Error("Expected error for invalid tint, got nil")
	}
}

func TestCutoutAndFraction(t *testing.T) {
	img, mask := testScene()
	v, _ := NewViewer(img, mask)
	cut := v.Cutout()
	if a := cut.NRGBAAt(1, 1).A; a != 255 {
		t.Errorf("Expected opaque foreground pixel, got alpha %d", a)
	}
	if a := cut.NRGBAAt(4, 1).A; a != 0 {
		t.Errorf("Expected transparent background pixel, got alpha %d", a)
	}
	if f := v.ForegroundFraction(); f != 0.5 {
		t.Errorf("Expected foreground fraction 0.5, got %f", f)
	}
}

// TestDominantForeground expects the block color back
func TestDominantForeground(t *testing.T) {
	img, mask := testScene()
	v, _ := NewViewer(img, mask)
	c, err := v.DominantForeground()
	if err != nil {
		t.Fatalf("DominantForeground failed: %v", err)
	}
	near := func(a, b uint8) bool { return a+3 >= b && b+3 >= a }
	if !near(c.R, 200) || !near(c.G, 40) || !near(c.B, 40) {
		t.Errorf("Expected dominant color near (200,40,40), got %v", c)
	}

	mask.Fill(models.Background)
	if _, err := v.DominantForeground(); err == nil {
		t.Error("Expected error without foreground pixels, got nil")
	}
}

// TestSaveAll writes the three images
func TestSaveAll(t *testing.T) {
	img, mask := testScene()
	v, _ := NewViewer(img, mask)
	dir := filepath.Join(t.TempDir(), "out")
	if err := v.SaveAll(dir, "scene"); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}
	for _, name := range []string{"scene_mask.png", "scene_overlay.png", "scene_cutout.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s to exist: %v", name, err)
		}
	}
}
