// Package bayesian implements Bayesian optimisation as a strategy: a Gaussian
// Process surrogate is fitted to every observed fitness and the next point
// maximises Expected Improvement over it.
package bayesian

import (
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/acquisition"
	"github.com/copyleftdev/EVOLVR/internal/optimization/core"
	"github.com/copyleftdev/EVOLVR/internal/optimization/decision"
	"github.com/copyleftdev/EVOLVR/internal/optimization/individual"
	"github.com/copyleftdev/EVOLVR/internal/optimization/kernels"
	"github.com/copyleftdev/EVOLVR/internal/optimization/population"
)

const component = "bayesian"

const (
	DefaultInitialPoints  = 10
	DefaultPopulationSize = 10
	DefaultNoise          = 1e-6
	DefaultXi             = 0.01
	DefaultRestarts       = 10
	// DefaultLengthScale applies to inputs scaled to the unit cube.
	DefaultLengthScale = 0.25
)

// Option configures a Strategy.
type Option func(*Strategy)

// WithInitialPoints sets how many Latin hypercube points are evaluated
// before the surrogate is consulted.
func WithInitialPoints(n int) Option { return func(s *Strategy) { s.initialPoints = n } }

// WithPopulationSize sets how many of the best individuals are kept.
func WithPopulationSize(n int) Option { return func(s *Strategy) { s.populationSize = n } }

// WithKernel replaces the default Matern 5/2 kernel. The kernel sees
// inputs scaled to the unit cube.
func WithKernel(k kernels.Kernel) Option { return func(s *Strategy) { s.kernel = k } }

// WithNoise sets the observation noise variance.
func WithNoise(v float64) Option { return func(s *Strategy) { s.noise = v } }

// WithXi sets the Expected Improvement exploration parameter.
func WithXi(xi float64) Option { return func(s *Strategy) { s.xi = xi } }

// WithRestarts sets the number of random starts for acquisition maximisation.
func WithRestarts(n int) Option { return func(s *Strategy) { s.restarts = n } }

// WithFitnessAssessor replaces core.SolutionFitness.
func WithFitnessAssessor(a core.FitnessAssessor) Option {
	return func(s *Strategy) {
		if a != nil {
			s.Assess = a
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Strategy) {
		if l != nil {
			s.Logger = l
		}
	}
}

// Strategy proposes points by maximising Expected Improvement. Points that
// have been handed out but not reinserted are fed to the surrogate with the
// best observed fitness as a placeholder, so concurrent proposals spread out.
type Strategy struct {
	core.Base
	space        *decision.Space
	lower, width []float64
	rng          *rand.Rand

	initialPoints  int
	populationSize int
	kernel         kernels.Kernel
	noise          float64
	xi             float64
	restarts       int

	gp *GP
	ei *acquisition.ExpectedImprovement

	// All points below are in unit cube coordinates.
	initial   [][]float64
	observedX [][]float64
	observedY []float64
	pending   [][]float64
}

// New creates a strategy over a continuous space.
func New(space *decision.Space, rng *rand.Rand, opts ...Option) (*Strategy, error) {
	if space.Len() == 0 {
		return nil, optimization.NewError(optimization.KindArgument, "decision space is empty").
			WithComponent(component).WithOperation("New")
	}
	if rng == nil {
		return nil, optimization.NewError(optimization.KindArgument, "random source is nil").
			WithComponent(component).WithOperation("New")
	}
	lower := make([]float64, space.Len())
	width := make([]float64, space.Len())
	for i, v := range space.Variables() {
		c, ok := v.(*decision.ContinuousVariable)
		if !ok {
			return nil, optimization.NewErrorf(optimization.KindArgument, "dimension %d (%v) is not continuous", i, v).
				WithComponent(component).WithOperation("New")
		}
		lower[i], width[i] = c.Lower(), c.Upper()-c.Lower()
	}

	s := &Strategy{
		Base:           core.NewBase(nil, nil, nil),
		space:          space,
		lower:          lower,
		width:          width,
		rng:            rng,
		initialPoints:  DefaultInitialPoints,
		populationSize: DefaultPopulationSize,
		noise:          DefaultNoise,
		xi:             DefaultXi,
		restarts:       DefaultRestarts,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.initialPoints < 1 || s.restarts < 1 {
		return nil, optimization.NewErrorf(optimization.KindOutOfRange,
			"initial points (%d) and restarts (%d) must be at least 1", s.initialPoints, s.restarts).
			WithComponent(component).WithOperation("New")
	}
	pop, err := population.New(s.populationSize, true)
	if err != nil {
		return nil, err
	}
	s.Pop = pop
	if s.kernel == nil {
		if s.kernel, err = kernels.NewMatern52Kernel(DefaultLengthScale, 1); err != nil {
			return nil, err
		}
	}
	if s.gp, err = NewGP(s.kernel, s.noise, s.Logger); err != nil {
		return nil, err
	}
	if s.ei, err = acquisition.NewExpectedImprovement(math.Inf(1), s.xi); err != nil {
		return nil, err
	}
	s.initial = latinHypercube(s.rng, s.initialPoints, space.Len())
	return s, nil
}

// Observations is the number of finite fitness values the surrogate is
// fitted to.
func (s *Strategy) Observations() int { return len(s.observedY) }

// Outstanding is the number of points handed out and not yet reinserted.
func (s *Strategy) Outstanding() int { return len(s.pending) }

// Model is the surrogate as of the last proposal.
func (s *Strategy) Model() *GP { return s.gp }

// latinHypercube returns n points in [0,1)^dims with exactly one point in
// each of the n equal slices of every axis.
func latinHypercube(rng *rand.Rand, n, dims int) [][]float64 {
	points := make([][]float64, n)
	for j := range points {
		points[j] = make([]float64, dims)
	}
	slots := make([]float64, n)
	for i := 0; i < dims; i++ {
		for j := range slots {
			slots[j] = (float64(j) + rng.Float64()) / float64(n)
		}
		rng.Shuffle(n, func(a, b int) { slots[a], slots[b] = slots[b], slots[a] })
		for j := range points {
			points[j][i] = slots[j]
		}
	}
	return points
}

// NewDecisionVector hands out the initial design, then points maximising
// Expected Improvement. If the surrogate cannot be used a uniformly random
// point is returned instead.
func (s *Strategy) NewDecisionVector() (*decision.Vector, error) {
	if len(s.initial) > 0 {
		u := s.initial[0]
		s.initial = s.initial[1:]
		return s.handOut(u)
	}
	if len(s.observedY) == 0 {
		return s.handOut(s.randomPoint())
	}
	u, err := s.propose()
	if err != nil {
		s.Logger.Debug("Falling back to a random point", zap.Error(err))
		u = s.randomPoint()
	}
	return s.handOut(u)
}

func (s *Strategy) randomPoint() []float64 {
	u := make([]float64, s.space.Len())
	for i := range u {
		u[i] = s.rng.Float64()
	}
	return u
}

func (s *Strategy) handOut(u []float64) (*decision.Vector, error) {
	values := make([]decision.Value, len(u))
	for i, ui := range u {
		values[i] = decision.ContinuousValue(s.lower[i] + ui*s.width[i])
	}
	legal, err := s.space.NearestLegal(values)
	if err != nil {
		return nil, err
	}
	v, err := decision.NewVector(s.space, legal...)
	if err != nil {
		return nil, err
	}
	s.pending = append(s.pending, s.toUnit(v.Floats()))
	return v, nil
}

func (s *Strategy) toUnit(x []float64) []float64 {
	u := make([]float64, len(x))
	floats.SubTo(u, x, s.lower)
	floats.Div(u, s.width)
	return u
}

func clampUnit(u []float64) []float64 {
	out := make([]float64, len(u))
	for i, ui := range u {
		out[i] = math.Min(1, math.Max(0, ui))
	}
	return out
}

// propose fits the surrogate and maximises Expected Improvement from the
// incumbent and from random starts with gonum's Nelder-Mead.
func (s *Strategy) propose() ([]float64, error) {
	best := floats.Min(s.observedY)
	bestAt := floats.MinIdx(s.observedY)

	X := make([][]float64, 0, len(s.observedX)+len(s.pending))
	y := make([]float64, 0, cap(X))
	X = append(X, s.observedX...)
	y = append(y, s.observedY...)
	for _, p := range s.pending {
		X = append(X, p)
		y = append(y, best)
	}
	if err := s.gp.Fit(X, y); err != nil {
		return nil, err
	}
	s.ei.UpdateBest(best)

	score := func(u []float64) float64 {
		mu, variance, err := s.gp.Predict(u)
		if err != nil {
			return 0
		}
		return s.ei.Compute(mu, math.Sqrt(variance))
	}
	problem := optimize.Problem{
		Func: func(u []float64) float64 { return -score(clampUnit(u)) },
	}
	settings := &optimize.Settings{
		FuncEvaluations: 200 * len(s.lower),
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Iterations: 25,
		},
	}

	starts := make([][]float64, 0, s.restarts+1)
	starts = append(starts, s.observedX[bestAt])
	for i := 0; i < s.restarts; i++ {
		starts = append(starts, s.randomPoint())
	}

	var bestU []float64
	bestScore := 0.0
	for _, start := range starts {
		if v := score(start); v > bestScore {
			bestU, bestScore = start, v
		}
		res, err := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
		if res == nil {
			continue
		}
		if err != nil {
			s.Logger.Debug("Acquisition search stopped early", zap.Error(err))
		}
		u := clampUnit(res.X)
		if v := score(u); v > bestScore {
			bestU, bestScore = u, v
		}
	}
	if bestU == nil {
		return nil, optimization.NewError(optimization.KindInvalidState, "expected improvement is zero everywhere searched").
			WithComponent(component).WithOperation("NewDecisionVector")
	}
	return bestU, nil
}

func (s *Strategy) release(u []float64) {
	for i, p := range s.pending {
		if floats.EqualApprox(p, u, 1e-12) {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// AssessFitnessAndDecideFate records each fitness for the surrogate, then
// keeps the individual if the population is filling up or it beats the
// current worst.
func (s *Strategy) AssessFitnessAndDecideFate(inds []*individual.Individual) (int, error) {
	inserted := 0
	for _, ind := range inds {
		u := s.toUnit(ind.Vector().Floats())
		s.release(u)

		if err := s.Assess(ind, s.Pop); err != nil {
			s.Reject(ind, err)
			continue
		}
		if f := ind.Fitness(); !math.IsInf(f, 0) && !math.IsNaN(f) {
			s.observedX = append(s.observedX, u)
			s.observedY = append(s.observedY, f)
		}

		if !s.Pop.IsTargetSizeReached() {
			if err := s.Pop.Add(ind); err != nil {
				s.Reject(ind, err)
				continue
			}
			inserted++
			continue
		}
		worst, err := s.Pop.Worst()
		if err != nil {
			return inserted, err
		}
		if ind.Fitness() >= worst.Fitness() {
			continue
		}
		if err := s.Pop.ReplaceWorst(ind); err != nil {
			s.Reject(ind, err)
			continue
		}
		inserted++
	}
	return inserted, nil
}
