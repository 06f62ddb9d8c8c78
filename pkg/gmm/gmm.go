// Package gmm implements the RGB appearance model used for foreground and
// background: a mixture of Components full-covariance Gaussians refitted from
// hard component assignments.
package gmm

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Components is the number of mixture components per model
const Components = 5

// ParamsLen is the length of the flat parameter vector:
// weight (1) + mean (3) + covariance (9) per component.
const ParamsLen = 13 * Components

// variance is added to the covariance diagonal when it is singular
const variance = 0.01

// epsilon is the determinant below which a covariance counts as singular
var epsilon = math.Nextafter(1, 2) - 1

// ErrModelUnready is the panic value used when a density is requested from a
// component or mixture that was never fitted.
var ErrModelUnready = errors.New("gmm: density requested from an unfitted model")

type component struct {
	weight float64
	mean   r3.Vec
	cov    [9]float64

	// cached from cov when weight > 0
	inv [9]float64
	det float64
}

// accumulator holds the sufficient statistics gathered between
// BeginAccumulation and EndAccumulation.
type accumulator struct {
	sums   [Components]r3.Vec
	prods  [Components][9]float64
	counts [Components]int
	total  int
}

// Model is a Gaussian mixture over RGB colors.
// A zero Model has every weight at 0 and must be fitted before evaluation.
type Model struct {
	comps [Components]component
	acc   accumulator
}

// New returns an empty, unfitted model
func New() *Model {
	return &Model{}
}

// FromParams restores a model from the vector produced by Params.
func FromParams(p []float64) (*Model, error) {
	if len(p) != ParamsLen {
		return nil, fmt.Errorf("model vector must have %d values, got %d", ParamsLen, len(p))
	}
	m := New()
	for k := 0; k < Components; k++ {
		c := &m.comps[k]
		c.weight = p[k]
		c.mean = r3.Vec{X: p[Components+3*k], Y: p[Components+3*k+1], Z: p[Components+3*k+2]}
		copy(c.cov[:], p[4*Components+9*k:4*Components+9*k+9])
		if c.weight < 0 {
			return nil, fmt.Errorf("component %d has negative weight %g", k, c.weight)
		}
		if c.weight > 0 {
			if err := c.finalize(); err != nil {
				return nil, fmt.Errorf("component %d: %w", k, err)
			}
		}
	}
	return m, nil
}

// Params flattens the model as weights, then means, then covariances.
func (m *Model) Params() []float64 {
	p := make([]float64, ParamsLen)
	for k, c := range m.comps {
		p[k] = c.weight
		p[Components+3*k] = c.mean.X
		p[Components+3*k+1] = c.mean.Y
		p[Components+3*k+2] = c.mean.Z
		copy(p[4*Components+9*k:], c.cov[:])
	}
	return p
}

// Fitted reports whether at least one component carries weight.
func (m *Model) Fitted() bool {
	for _, c := range m.comps {
		if c.weight > 0 {
			return true
		}
	}
	return false
}

// Weight returns the mixing coefficient of component k
func (m *Model) Weight(k int) float64 { return m.comps[k].weight }

// Covariance returns the row-major covariance of component k
func (m *Model) Covariance(k int) [9]float64 { return m.comps[k].cov }

// Determinant returns the cached covariance determinant of component k
func (m *Model) Determinant(k int) float64 { return m.comps[k].det }

// Evaluate returns the mixture density at color. Components with zero weight
// contribute nothing. It panics with ErrModelUnready on an unfitted model.
func (m *Model) Evaluate(color r3.Vec) float64 {
	if !m.Fitted() {
		panic(ErrModelUnready)
	}
	var res float64
	for k := range m.comps {
		res += m.comps[k].weight * m.ComponentDensity(k, color)
	}
	return res
}

// NegLogLikelihood returns -log(Evaluate(color)) computed in log space, so
// colors far from every component give a large finite value instead of +Inf.
func (m *Model) NegLogLikelihood(color r3.Vec) float64 {
	terms := make([]float64, 0, Components)
	for k := range m.comps {
		c := &m.comps[k]
		if c.weight <= 0 {
			continue
		}
		c.mustBeReady()
		terms = append(terms, math.Log(c.weight)+c.logDensity(color))
	}
	if len(terms) == 0 {
		panic(ErrModelUnready)
	}
	return -floats.LogSumExp(terms)
}

// ComponentDensity returns the unweighted Gaussian density of component k.
// A zero-weight component yields 0. A weighted component whose covariance
// was never finalized panics with ErrModelUnready.
func (m *Model) ComponentDensity(k int, color r3.Vec) float64 {
	c := &m.comps[k]
	if c.weight <= 0 {
		return 0
	}
	c.mustBeReady()
	return math.Exp(c.logDensity(color))
}

// BestComponent returns the index of the weighted component with the highest
// density at color. Ties keep the lowest index.
func (m *Model) BestComponent(color r3.Vec) int {
	best := 0
	bestLog := math.Inf(-1)
	for k := range m.comps {
		c := &m.comps[k]
		if c.weight <= 0 {
			continue
		}
		c.mustBeReady()
		if p := c.logDensity(color); p > bestLog {
			best = k
			bestLog = p
		}
	}
	return best
}

// BeginAccumulation clears the sufficient statistics.
func (m *Model) BeginAccumulation() {
	m.acc = accumulator{}
}

// AddObservation records color as a sample of component k.
func (m *Model) AddObservation(k int, color r3.Vec) {
	a := &m.acc
	a.sums[k] = r3.Add(a.sums[k], color)
	v := [3]float64{color.X, color.Y, color.Z}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a.prods[k][3*i+j] += v[i] * v[j]
		}
	}
	a.counts[k]++
	a.total++
}

// Samples returns how many observations component k received since the
// last BeginAccumulation.
func (m *Model) Samples(k int) int { return m.acc.counts[k] }

// EndAccumulation refits every component from the accumulated statistics.
// Components without samples get weight 0 and keep their old parameters.
// Calling it twice without new observations yields the same parameters.
func (m *Model) EndAccumulation() {
	a := &m.acc
	for k := range m.comps {
		c := &m.comps[k]
		n := a.counts[k]
		if n == 0 {
			c.weight = 0
			continue
		}
		fn := float64(n)
		c.weight = fn / float64(a.total)
		c.mean = r3.Scale(1/fn, a.sums[k])
		mu := [3]float64{c.mean.X, c.mean.Y, c.mean.Z}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				c.cov[3*i+j] = a.prods[k][3*i+j]/fn - mu[i]*mu[j]
			}
		}
		if mat.Det(mat.NewDense(3, 3, cloneCov(c.cov))) <= epsilon {
			c.cov[0] += variance
			c.cov[4] += variance
			c.cov[8] += variance
		}
		if err := c.finalize(); err != nil {
			// the diagonal inflation above keeps this unreachable
			panic(fmt.Errorf("gmm: component %d: %w", k, err))
		}
	}
}

// finalize caches the inverse covariance and determinant.
func (c *component) finalize() error {
	cov := mat.NewDense(3, 3, cloneCov(c.cov))
	det := mat.Det(cov)
	if det <= epsilon {
		return fmt.Errorf("covariance determinant %g is not positive", det)
	}
	var inv mat.Dense
	if err := inv.Inverse(cov); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return fmt.Errorf("invert covariance: %w", err)
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			c.inv[3*i+j] = inv.At(i, j)
		}
	}
	c.det = det
	return nil
}

func (c *component) mustBeReady() {
	if c.det <= epsilon {
		panic(ErrModelUnready)
	}
}

// logDensity is log of 1/sqrt(det) * exp(-0.5 * d' inv d).
func (c *component) logDensity(color r3.Vec) float64 {
	d := r3.Sub(color, c.mean)
	v := [3]float64{d.X, d.Y, d.Z}
	var mult float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			mult += v[i] * c.inv[3*i+j] * v[j]
		}
	}
	return -0.5*math.Log(c.det) - 0.5*mult
}

func cloneCov(c [9]float64) []float64 {
	s := make([]float64, 9)
	copy(s, c[:])
	return s
}
