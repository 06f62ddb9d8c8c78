// Package segmentation runs the iterative GrabCut loop: seed the appearance
// models, then repeatedly assign components, refit, build the reduced graph,
// solve the min cut and relabel the probable pixels.
package segmentation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"grabcut/internal/models"
	"grabcut/pkg/affinity"
	"grabcut/pkg/clustering"
	"grabcut/pkg/config"
	"grabcut/pkg/gmm"
	"grabcut/pkg/grid"
	"grabcut/pkg/logging"
	"grabcut/pkg/reducer"
	"grabcut/pkg/scheduler"
)

// State is the position of a Segmenter in its state machine
type State int

const (
	Uninitialized State = iota
	ModelInitialized
	Assigning
	Refitting
	BuildingGraph
	Solving
	UpdatingLabels
	Converged
	IterationLimitReached
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case ModelInitialized:
		return "model-initialized"
	case Assigning:
		return "assign"
	case Refitting:
		return "refit"
	case BuildingGraph:
		return "build-graph"
	case Solving:
		return "solve"
	case UpdatingLabels:
		return "update-labels"
	case Converged:
		return "converged"
	case IterationLimitReached:
		return "iteration-limit"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options holds the segmentation parameters
type Options struct {
	// Iterations is the number of assign/refit/cut rounds. Zero or less
	// returns right after model initialization.
	Iterations int

	// StopWhenStable ends the loop once an iteration changes no label
	StopWhenStable bool

	// Gamma scales the n-links; lambda is LambdaFactor*Gamma
	Gamma float64

	// Reduce and TerminalDualJoin are passed to the graph builder
	Reduce           bool
	TerminalDualJoin bool

	// Validate also solves the unreduced graph every iteration and logs any
	// difference from the reduced flow.
	Validate bool

	Clustering clustering.Options
	Scheduler  scheduler.Options
}

// DefaultOptions returns one iteration of the reduced, region-parallel solve.
func DefaultOptions() Options {
	return Options{
		Iterations: 1,
		Gamma:      affinity.DefaultGamma,
		Reduce:     true,
		Clustering: clustering.DefaultOptions(),
		Scheduler:  scheduler.DefaultOptions(),
	}
}

// OptionsFromConfig maps a loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	seeding, err := clustering.ParseSeeding(cfg.Model.Seeding)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Iterations:       cfg.Processing.Iterations,
		StopWhenStable:   cfg.Processing.StopWhenStable,
		Gamma:            cfg.Graph.Gamma,
		Reduce:           cfg.Graph.Reduce,
		TerminalDualJoin: cfg.Graph.TerminalDualJoin,
		Validate:         cfg.Graph.Validate,
		Clustering: clustering.Options{
			K:          gmm.Components,
			Iterations: cfg.Model.KMeansIterations,
			Seeding:    seeding,
			Seed:       cfg.Model.Seed,
		},
		Scheduler: scheduler.Options{
			Enabled:    cfg.Scheduler.Enabled,
			RegionRows: cfg.Scheduler.RegionRows,
			RegionCols: cfg.Scheduler.RegionCols,
			Workers:    cfg.Processing.NumWorkers,
		},
	}, nil
}

// Models carries the two appearance models between calls. Eval mode needs
// both fitted; the other modes overwrite them.
type Models struct {
	Foreground *gmm.Model
	Background *gmm.Model
}

// IterationStats records one pass of the loop
type IterationStats struct {
	Iteration  int
	Graph      reducer.Stats
	Correction float64
	Flow       float64

	// FullFlow is the unreduced graph flow, set only when validating
	FullFlow float64

	Rounds   []scheduler.RoundStats
	Changed  int
	Duration time.Duration
}

// Result summarizes a Run
type Result struct {
	// Mask is the updated label mask, the caller's own when one was passed
	Mask *grid.Grid[models.Label]

	State      State
	Probable   int
	Beta       float64
	Iterations []IterationStats
}

// Segmenter runs segmentation calls
type Segmenter struct {
	opts  Options
	log   zerolog.Logger
	sched *scheduler.Scheduler
	state State
}

// NewSegmenter creates a Segmenter. Options are checked on every Run.
func NewSegmenter(opts Options, log zerolog.Logger) *Segmenter {
	log = logging.Component(log, "segmentation")
	return &Segmenter{
		opts:  opts,
		log:   log,
		sched: scheduler.New(opts.Scheduler, logging.Component(log, "scheduler")),
	}
}

// State returns the state reached by the last Run
func (s *Segmenter) State() State { return s.state }

func (s *Segmenter) enter(st State) {
	s.state = st
	s.log.Trace().Stringer("state", st).Msg("state change")
}

func (s *Segmenter) validateOptions() error {
	if !(s.opts.Gamma > 0) {
		return invalid("gamma must be positive, got %v", s.opts.Gamma)
	}
	if s.opts.Scheduler.Enabled {
		if err := s.opts.Scheduler.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	return nil
}

// Run segments img. In InitWithRect mode the mask is rebuilt from rect and
// may be nil, in which case a new one is allocated. In InitWithMask and Eval
// modes the mask must match the image. Eval reuses m without reseeding.
// Only probable labels of the mask are ever changed by the loop.
func (s *Segmenter) Run(ctx context.Context, img *grid.Grid[models.Color], mask *grid.Grid[models.Label], rect models.Rect, mode models.Mode, m *Models) (*Result, error) {
	s.enter(Uninitialized)
	if img == nil || img.Empty() {
		return nil, invalid("image is empty")
	}
	if err := s.validateOptions(); err != nil {
		return nil, err
	}

	switch mode {
	case models.InitWithRect:
		if mask == nil {
			mask = grid.New[models.Label](img.Rows(), img.Cols())
		}
		if !grid.SameSize(img, mask) {
			return nil, invalid("mask is %dx%d, image is %dx%d", mask.Rows(), mask.Cols(), img.Rows(), img.Cols())
		}
		InitMaskWithRect(mask, rect)
	case models.InitWithMask, models.Eval:
		if err := CheckMask(img, mask); err != nil {
			return nil, err
		}
	default:
		return nil, invalid("unknown mode %v", mode)
	}

	res := &Result{Mask: mask, Probable: countProbable(mask)}
	if res.Probable == 0 {
		s.log.Info().Msg("mask has no probable pixels, nothing to segment")
		s.enter(Converged)
		res.State = s.state
		return res, nil
	}

	if mode == models.Eval {
		if m == nil || m.Foreground == nil || m.Background == nil || !m.Foreground.Fitted() || !m.Background.Fitted() {
			return nil, invalid("eval mode needs fitted foreground and background models")
		}
	} else {
		start := time.Now()
		fg, bg, err := InitModels(img, mask, s.opts.Clustering)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize models: %w", err)
		}
		if m == nil {
			m = &Models{}
		}
		m.Foreground, m.Background = fg, bg
		s.log.Debug().Dur("elapsed", time.Since(start)).Msg("models initialized")
	}
	s.enter(ModelInitialized)
	res.State = s.state

	if s.opts.Iterations <= 0 {
		return res, nil
	}

	field := affinity.New(img, s.opts.Gamma)
	res.Beta = field.Beta
	mean, std := field.Summary()
	s.log.Debug().
		Float64("beta", field.Beta).
		Float64("meanWeight", mean).
		Float64("stdWeight", std).
		Msg("affinity field computed")

	compIdx := grid.New[int](img.Rows(), img.Cols())
	for it := 0; it < s.opts.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", it+1, err)
		}
		st, err := s.iterate(ctx, it, img, mask, field, m, compIdx)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", it+1, err)
		}
		res.Iterations = append(res.Iterations, st)
		if s.opts.StopWhenStable && st.Changed == 0 {
			s.enter(Converged)
			res.State = s.state
			return res, nil
		}
	}
	s.enter(IterationLimitReached)
	res.State = s.state
	return res, nil
}

func (s *Segmenter) iterate(ctx context.Context, it int, img *grid.Grid[models.Color], mask *grid.Grid[models.Label], field *affinity.Field, m *Models, compIdx *grid.Grid[int]) (IterationStats, error) {
	start := time.Now()
	st := IterationStats{Iteration: it + 1}

	s.enter(Assigning)
	assignComponents(img, mask, m, compIdx)

	s.enter(Refitting)
	fgCount, bgCount := learnModels(img, mask, m, compIdx)
	if fgCount == 0 || bgCount == 0 {
		s.log.Warn().
			Int("foregroundSamples", fgCount).
			Int("backgroundSamples", bgCount).
			Msg("a model had no samples and kept its previous parameters")
	} else {
		s.log.Debug().
			Ints("foregroundComponents", componentSamples(m.Foreground)).
			Ints("backgroundComponents", componentSamples(m.Background)).
			Msg("models refit")
	}

	s.enter(BuildingGraph)
	opts := reducer.Options{
		Reduce:           s.opts.Reduce,
		TerminalDualJoin: s.opts.TerminalDualJoin,
		Lambda:           affinity.Lambda(s.opts.Gamma),
	}
	built := reducer.Build(img, mask, m.Foreground, m.Background, field, opts)
	st.Graph = built.Stats
	st.Correction = built.Correction
	s.log.Debug().
		Int("pixels", built.Stats.Pixels).
		Int("nodes", built.Stats.Nodes).
		Int("edges", built.Stats.Edges).
		Int("joinedNodes", built.Stats.JoinedNodes).
		Int("joinedSink", built.Stats.JoinedSink).
		Int("joinedSource", built.Stats.JoinedSource).
		Float64("correction", built.Correction).
		Msg("graph built")

	s.enter(Solving)
	flow, sst, err := s.sched.Solve(ctx, built)
	if err != nil {
		return st, fmt.Errorf("failed to solve graph: %w", err)
	}
	st.Flow = flow
	st.Rounds = sst.Rounds

	if s.opts.Validate && s.opts.Reduce {
		opts.Reduce = false
		full := reducer.Build(img, mask, m.Foreground, m.Background, field, opts)
		st.FullFlow = full.TotalFlow(full.Graph.MaxFlow())
		if diff := math.Abs(st.FullFlow - flow); diff > 1e-6*math.Max(1, math.Abs(flow)) {
			s.log.Warn().
				Float64("reducedFlow", flow).
				Float64("fullFlow", st.FullFlow).
				Msg("reduced graph flow differs from full graph flow")
		}
	} else if s.opts.Validate {
		st.FullFlow = flow
	}

	s.enter(UpdatingLabels)
	st.Changed = built.Apply(mask)
	st.Duration = time.Since(start)

	s.log.Info().
		Int("iteration", st.Iteration).
		Float64("flow", st.Flow).
		Float64("reduction", built.Stats.Ratio()).
		Int("changed", st.Changed).
		Dur("elapsed", st.Duration).
		Msg("iteration finished")
	return st, nil
}

// assignComponents picks, for every pixel, the best component of the model
// matching its current label.
func assignComponents(img *grid.Grid[models.Color], mask *grid.Grid[models.Label], m *Models, compIdx *grid.Grid[int]) {
	for y := 0; y < img.Rows(); y++ {
		for x := 0; x < img.Cols(); x++ {
			model := m.Foreground
			if mask.At(y, x).IsBackgroundLike() {
				model = m.Background
			}
			compIdx.Set(y, x, model.BestComponent(img.At(y, x).Vec()))
		}
	}
}

func componentSamples(model *gmm.Model) []int {
	counts := make([]int, gmm.Components)
	for k := range counts {
		counts[k] = model.Samples(k)
	}
	return counts
}

// learnModels refits both models from the assignments. A model without any
// sample keeps its parameters. The sample counts are returned.
func learnModels(img *grid.Grid[models.Color], mask *grid.Grid[models.Label], m *Models, compIdx *grid.Grid[int]) (fgCount, bgCount int) {
	for y := 0; y < mask.Rows(); y++ {
		for x := 0; x < mask.Cols(); x++ {
			if mask.At(y, x).IsBackgroundLike() {
				bgCount++
			} else {
				fgCount++
			}
		}
	}
	refit := func(model *gmm.Model, background bool) {
		model.BeginAccumulation()
		for y := 0; y < img.Rows(); y++ {
			for x := 0; x < img.Cols(); x++ {
				if mask.At(y, x).IsBackgroundLike() == background {
					model.AddObservation(compIdx.At(y, x), img.At(y, x).Vec())
				}
			}
		}
		model.EndAccumulation()
	}
	if fgCount > 0 {
		refit(m.Foreground, false)
	}
	if bgCount > 0 {
		refit(m.Background, true)
	}
	return fgCount, bgCount
}
