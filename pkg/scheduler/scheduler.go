// Package scheduler solves a reduced segmentation graph by first pushing flow
// inside independent rectangular regions in parallel, then finishing with one
// exact max-flow over the whole residual graph.
//
// Regions are assigned by the seed pixel of each node. Round 1 uses a plain
// grid partition; round 2 shifts the grid by half a region so that flow can
// cross the round-1 boundaries. Neither round is needed for correctness: the
// final full solve alone determines the cut.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"grabcut/pkg/reducer"
)

// Options controls the region partition
type Options struct {
	// Enabled turns on the two parallel rounds
	Enabled bool

	// RegionRows and RegionCols give the round-1 grid of regions
	RegionRows int
	RegionCols int

	// Workers bounds concurrent region solves; 0 means GOMAXPROCS
	Workers int
}

// DefaultOptions returns a 2x2 partition using every CPU.
func DefaultOptions() Options {
	return Options{Enabled: true, RegionRows: 2, RegionCols: 2}
}

// Validate checks the partition sizes
func (o Options) Validate() error {
	if o.RegionRows < 1 || o.RegionCols < 1 {
		return fmt.Errorf("region grid must be at least 1x1, got %dx%d", o.RegionRows, o.RegionCols)
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", o.Workers)
	}
	return nil
}

// RoundStats describes one parallel round
type RoundStats struct {
	Regions  int
	Flow     float64
	Duration time.Duration
}

// Stats describes a complete solve
type Stats struct {
	Rounds    []RoundStats
	FinalFlow float64
	Flow      float64
	Duration  time.Duration
}

// Scheduler runs region-parallel solves
type Scheduler struct {
	opts Options
	log  zerolog.Logger
}

// New returns a Scheduler with the given options and logger.
func New(opts Options, log zerolog.Logger) *Scheduler {
	if opts.Workers == 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Scheduler{opts: opts, log: log}
}

// Solve computes the max flow of r.Graph, leaving its cut ready for
// r.Apply. The returned flow includes r.Correction and equals the flow of
// the unreduced graph.
func (s *Scheduler) Solve(ctx context.Context, r *reducer.Result) (float64, Stats, error) {
	start := time.Now()
	var stats Stats
	g := r.Graph
	rows, cols := r.PixelToNode.Rows(), r.PixelToNode.Cols()

	if s.opts.Enabled && g.NodeCount() > 0 {
		if err := s.opts.Validate(); err != nil {
			return 0, stats, err
		}
		h := ceilDiv(rows, s.opts.RegionRows)
		w := ceilDiv(cols, s.opts.RegionCols)

		rounds := []partition{
			{height: h, width: w, gridCols: s.opts.RegionCols},
			{height: h, width: w, gridCols: s.opts.RegionCols + 1, shiftRow: h / 2, shiftCol: w / 2},
		}
		for i, p := range rounds {
			rs, err := s.round(ctx, r, p)
			if err != nil {
				return 0, stats, fmt.Errorf("region round %d: %w", i+1, err)
			}
			stats.Rounds = append(stats.Rounds, rs)
			s.log.Debug().
				Int("round", i+1).
				Int("regions", rs.Regions).
				Float64("flow", rs.Flow).
				Dur("elapsed", rs.Duration).
				Msg("region round finished")
		}
	}

	if err := ctx.Err(); err != nil {
		return 0, stats, err
	}
	before := g.Flow()
	flow := g.MaxFlow()
	stats.FinalFlow = flow - before
	stats.Flow = r.TotalFlow(flow)
	stats.Duration = time.Since(start)

	s.log.Debug().
		Int("nodes", g.NodeCount()).
		Int("edges", g.EdgeCount()).
		Float64("finalPassFlow", stats.FinalFlow).
		Float64("flow", stats.Flow).
		Dur("elapsed", stats.Duration).
		Msg("max flow solved")
	return stats.Flow, stats, nil
}

// partition maps a pixel to a rectangular region, optionally shifted
type partition struct {
	height, width      int
	gridCols           int
	shiftRow, shiftCol int
}

func (p partition) region(row, col int) int32 {
	return int32(((row+p.shiftRow)/p.height)*p.gridCols + (col+p.shiftCol)/p.width)
}

type regionResult struct {
	region int32
	flow   float64
}

// round labels every node by its seed pixel and solves all regions in
// parallel. Wait acts as the barrier before the flows are credited.
func (s *Scheduler) round(ctx context.Context, r *reducer.Result, p partition) (RoundStats, error) {
	start := time.Now()
	g := r.Graph

	labels := make([]int32, g.NodeCount())
	for v := range labels {
		row, col := r.Seed(int32(v))
		labels[v] = p.region(row, col)
	}
	if err := g.SetRegions(labels); err != nil {
		return RoundStats{}, err
	}

	n := g.RegionCount()
	results := make(chan regionResult, n)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.opts.Workers)
	for reg := int32(0); int(reg) < n; reg++ {
		if g.RegionSize(reg) == 0 {
			continue
		}
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			results <- regionResult{region: reg, flow: g.SolveRegion(reg)}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return RoundStats{}, err
	}
	close(results)

	// sum in region order so the flow value does not depend on scheduling
	flows := make([]float64, n)
	solved := 0
	for res := range results {
		flows[res.region] = res.flow
		solved++
	}
	var total float64
	for _, f := range flows {
		total += f
	}
	g.AddFlow(total)

	return RoundStats{Regions: solved, Flow: total, Duration: time.Since(start)}, nil
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 1
	}
	return (a + b - 1) / b
}
