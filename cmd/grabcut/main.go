package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"grabcut/internal/models"
	"grabcut/pkg/config"
	"grabcut/pkg/grid"
	"grabcut/pkg/logging"
	"grabcut/pkg/segmentation"
	"grabcut/pkg/visualization"
)

func main() {
	// Parse command line arguments
	var f flags
	flag.StringVar(&f.input, "input", "", "Input image (png, jpeg, bmp, tiff or webp)")
	flag.StringVar(&f.mask, "mask", "", "Input label mask (8-bit gray, values 0-3); required for mask and eval modes")
	flag.StringVar(&f.rect, "rect", "", "Initial rectangle as x,y,width,height for rect mode")
	flag.StringVar(&f.mode, "mode", "rect", "Initialization mode: rect, mask or eval")
	flag.StringVar(&f.output, "output", "mask.png", "Output label mask")
	flag.StringVar(&f.config, "config", "grabcut.yaml", "YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	flag.IntVar(&f.iterations, "iterations", -1, "Override the configured iteration count")
	flag.StringVar(&f.models, "models", "", "Model file: read in eval mode, written after every run")
	flag.StringVar(&f.outDir, "out-dir", "grabcut_output", "Directory for the overlay and cutout images")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(f.config); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", f.config)
		return
	}

	// Validate inputs
	if f.input == "" {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(f); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// flags holds the command line options
type flags struct {
	input, mask, rect, mode string
	output, config          string
	iterations              int
	models, outDir          string
}

// run executes one segmentation with the parsed flags.
func run(f flags) error {
	cfg, err := config.LoadConfig(f.config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if f.iterations >= 0 {
		cfg.Processing.Iterations = f.iterations
	}
	level, err := logging.ParseLevel(cfg.Output.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger := logging.New(level, cfg.Output.Verbose, os.Stderr)

	mode, err := models.ParseMode(f.mode)
	if err != nil {
		return fmt.Errorf("invalid mode: %w", err)
	}

	fmt.Println("================================")
	fmt.Println("GRABCUT SEGMENTATION WITH GRAPH REDUCTION AND REGION-PARALLEL MIN-CUT")
	fmt.Println("================================")

	img, err := loadImage(f.input)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	pixels := grid.FromImage(img)
	fmt.Printf("Loaded %s (%dx%d)\n", f.input, pixels.Cols(), pixels.Rows())

	var mask *grid.Grid[models.Label]
	var rect models.Rect
	switch mode {
	case models.InitWithRect:
		if rect, err = parseRect(f.rect); err != nil {
			return fmt.Errorf("invalid rectangle: %w", err)
		}
	default:
		if f.mask == "" {
			return fmt.Errorf("mode %s needs -mask", mode)
		}
		m, err := loadImage(f.mask)
		if err != nil {
			return fmt.Errorf("failed to load mask: %w", err)
		}
		mask = grid.MaskFromImage(m)
	}

	var gmms *segmentation.Models
	if mode == models.Eval {
		if f.models == "" {
			return fmt.Errorf("eval mode needs -models")
		}
		if gmms, err = segmentation.LoadModels(f.models); err != nil {
			return fmt.Errorf("failed to load models: %w", err)
		}
	} else {
		gmms = &segmentation.Models{}
	}

	opts, err := segmentation.OptionsFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	segmenter := segmentation.NewSegmenter(opts, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Running %d iteration(s) in %s mode...\n", opts.Iterations, mode)
	startTime := time.Now()
	res, err := segmenter.Run(ctx, pixels, mask, rect, mode, gmms)
	if err != nil {
		return fmt.Errorf("segmentation failed: %w", err)
	}
	processingTime := time.Since(startTime)

	if err := visualization.SavePNG(grid.MaskToImage(res.Mask), f.output); err != nil {
		return fmt.Errorf("failed to save mask: %w", err)
	}
	if f.models != "" && gmms.Foreground != nil {
		if err := segmentation.SaveModels(gmms, f.models); err != nil {
			log.Printf("Warning: Failed to save models: %v", err)
		}
	}

	fmt.Printf("\nSegmentation finished in %.2f seconds (%s)\n", processingTime.Seconds(), res.State)
	fmt.Printf("Output mask saved to: %s\n\n", f.output)

	fmt.Println("Iteration summary:")
	fmt.Println("==================")
	for _, it := range res.Iterations {
		fmt.Printf("#%d: %d nodes for %d pixels (%.1f%%), flow %.3f, %d labels changed, %.3fs\n",
			it.Iteration, it.Graph.Nodes, it.Graph.Pixels, 100*it.Graph.Ratio(), it.Flow, it.Changed, it.Duration.Seconds())
		if opts.Validate {
			fmt.Printf("    full graph flow %.3f\n", it.FullFlow)
		}
	}

	viewer, err := visualization.NewViewer(pixels, res.Mask)
	if err != nil {
		return fmt.Errorf("failed to create viewer: %w", err)
	}
	fmt.Printf("\nForeground covers %.1f%% of the image\n", 100*viewer.ForegroundFraction())
	if c, err := viewer.DominantForeground(); err == nil {
		fmt.Printf("Dominant foreground color: #%02x%02x%02x\n", c.R, c.G, c.B)
	}

	if cfg.Output.SaveOverlay {
		prefix := strings.TrimSuffix(filepath.Base(f.input), filepath.Ext(f.input))
		if err := viewer.SaveAll(f.outDir, prefix); err != nil {
			log.Printf("Warning: Failed to save overlay images: %v", err)
		} else {
			fmt.Printf("Overlay and cutout saved to: %s\n", f.outDir)
		}
	}
	return nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// parseRect reads "x,y,width,height".
func parseRect(s string) (models.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return models.Rect{}, fmt.Errorf("want x,y,width,height, got %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return models.Rect{}, fmt.Errorf("field %d of %q: %w", i+1, s, err)
		}
		v[i] = n
	}
	return models.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}
