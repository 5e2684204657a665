// Package neldermead implements the Nelder-Mead downhill simplex method as
// an incremental strategy: one vertex is proposed, evaluated and reinserted
// at a time.
package neldermead

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/core"
	"github.com/copyleftdev/EVOLVR/internal/optimization/decision"
	"github.com/copyleftdev/EVOLVR/internal/optimization/individual"
)

const component = "nelder_mead"

// Operation is a simplex transformation.
type Operation byte

const (
	Reflect     Operation = 'R'
	Expand      Operation = 'E'
	ContractOut Operation = 'C'
	ContractIn  Operation = 'K'
	Shrink      Operation = 'S'
)

func (o Operation) String() string {
	switch o {
	case Reflect:
		return "reflect"
	case Expand:
		return "expand"
	case ContractOut:
		return "contract_out"
	case ContractIn:
		return "contract_in"
	case Shrink:
		return "shrink"
	default:
		return fmt.Sprintf("operation(%c)", byte(o))
	}
}

func (o Operation) lower() byte { return byte(o) + ('a' - 'A') }

// Coefficients scale the simplex operations.
type Coefficients struct {
	Reflection  float64 // alpha > 0
	Expansion   float64 // gamma > 1
	Contraction float64 // 0 < rho <= 0.5
	Shrinkage   float64 // 0 < sigma < 1
}

// DefaultCoefficients returns the standard alpha=1, gamma=2, rho=0.5, sigma=0.5.
func DefaultCoefficients() Coefficients {
	return Coefficients{Reflection: 1, Expansion: 2, Contraction: 0.5, Shrinkage: 0.5}
}

func (c Coefficients) validate() error {
	if c.Reflection <= 0 || c.Expansion <= 1 || c.Contraction <= 0 || c.Contraction > 0.5 ||
		c.Shrinkage <= 0 || c.Shrinkage >= 1 {
		return optimization.NewErrorf(optimization.KindArgument, "invalid coefficients %+v", c).
			WithComponent(component)
	}
	return nil
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithCoefficients replaces the default coefficients.
func WithCoefficients(c Coefficients) Option { return func(s *Strategy) { s.coef = c } }

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

// Strategy is the Nelder-Mead state machine. It first collects the
// dimensions+1 initial vertices, then keeps exactly one proposed vertex
// outstanding at a time.
//
// Transitions, where f is the fitness of the returned vertex and best,
// next-to-worst and worst are read from the simplex:
//
//	R: f < best           -> E
//	R: f < next-to-worst  -> accept reflection
//	R: f < worst          -> C
//	R: otherwise          -> K
//	E: f < reflection     -> accept expansion, else accept reflection
//	C: f <= reflection    -> accept outside contraction, else S
//	K: f < worst          -> accept inside contraction, else S
//	S:                    -> accept shrink
//
// Accepting replaces the worst vertex and returns to R.
type Strategy struct {
	core.Base
	simplex *Simplex
	space   *decision.Space
	coef    Coefficients

	toHandOut []*decision.Vector
	awaiting  []*decision.Vector

	state   Operation
	pending *decision.Vector
	reflect *individual.Individual
	trail   []byte
	last    string
}

// New creates a strategy whose initial simplex is built from start with step.
func New(start *decision.Vector, step float64, opts ...Option) (*Strategy, error) {
	vertices, err := InitialSimplex(start, step)
	if err != nil {
		return nil, err
	}
	simplex, err := NewSimplex(start.Len())
	if err != nil {
		return nil, err
	}
	s := &Strategy{
		Base:      core.NewBase(simplex.Population, nil, nil),
		simplex:   simplex,
		space:     start.Space(),
		coef:      DefaultCoefficients(),
		toHandOut: vertices,
		state:     Reflect,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.coef.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Simplex returns the working simplex.
func (s *Strategy) Simplex() *Simplex { return s.simplex }

// State is the operation the next proposed vertex will try.
func (s *Strategy) State() Operation { return s.state }

// LastStep describes the most recently completed iteration: the operations
// tried, in lower case, followed by the accepted one in upper case. For
// example "rR" is a plain reflection and "reR" an expansion that lost to
// its reflection. It is empty until the first iteration completes.
func (s *Strategy) LastStep() string { return s.last }

// IsInitialised reports whether the initial simplex is complete.
func (s *Strategy) IsInitialised() bool {
	return len(s.toHandOut) == 0 && len(s.awaiting) == 0 && s.simplex.Len() == s.simplex.Dimensions()+1
}

// NewDecisionVector hands out the initial vertices, then the vertex for the
// current state. While a vertex is outstanding it returns core.ErrPending.
// A vertex outside the space ends the run by returning decision.Empty.
func (s *Strategy) NewDecisionVector() (*decision.Vector, error) {
	if !s.IsInitialised() {
		if len(s.toHandOut) == 0 {
			return nil, core.ErrPending
		}
		v := s.toHandOut[0]
		s.toHandOut = s.toHandOut[1:]
		s.awaiting = append(s.awaiting, v)
		return v, nil
	}
	if s.pending != nil {
		return nil, core.ErrPending
	}

	point, err := s.propose()
	if err != nil {
		return nil, err
	}
	v, err := decision.NewVectorFromFloats(s.space, point)
	if err != nil {
		s.Logger.Info("Simplex operation left the decision space",
			zap.Stringer("operation", s.state),
			zap.Float64s("point", point),
		)
		return decision.Empty, nil
	}
	s.pending = v
	return v, nil
}

func (s *Strategy) propose() ([]float64, error) {
	c, err := s.simplex.Centroid()
	if err != nil {
		return nil, err
	}
	worst, err := s.simplex.Worst()
	if err != nil {
		return nil, err
	}
	w := worst.Vector().Floats()

	switch s.state {
	case Reflect:
		// c + alpha(c - w)
		return towards(c, w, -s.coef.Reflection), nil
	case Expand:
		// c + gamma(xr - c)
		return towards(c, s.reflect.Vector().Floats(), s.coef.Expansion), nil
	case ContractOut:
		// c + rho(xr - c)
		return towards(c, s.reflect.Vector().Floats(), s.coef.Contraction), nil
	case ContractIn:
		// c + rho(w - c)
		return towards(c, w, s.coef.Contraction), nil
	case Shrink:
		// best + sigma(w - best)
		best, err := s.simplex.Best()
		if err != nil {
			return nil, err
		}
		return towards(best.Vector().Floats(), w, s.coef.Shrinkage), nil
	}
	return nil, optimization.NewErrorf(optimization.KindInvalidState, "unknown state %v", s.state).
		WithComponent(component).WithOperation("NewDecisionVector")
}

// towards returns from + k(to - from).
func towards(from, to []float64, k float64) []float64 {
	out := make([]float64, len(from))
	floats.SubTo(out, to, from)
	floats.Scale(k, out)
	floats.Add(out, from)
	return out
}

// AssessFitnessAndDecideFate reinserts evaluated vertices. During
// initialisation an unexpected vertex is rejected softly. Afterwards a
// vertex other than the outstanding one is an OutOfRange error.
func (s *Strategy) AssessFitnessAndDecideFate(inds []*individual.Individual) (int, error) {
	inserted := 0
	for _, ind := range inds {
		if !s.IsInitialised() {
			if s.addInitial(ind) {
				inserted++
			}
			continue
		}
		accepted, err := s.step(ind)
		if err != nil {
			return inserted, err
		}
		if accepted {
			inserted++
		}
	}
	return inserted, nil
}

func (s *Strategy) addInitial(ind *individual.Individual) bool {
	idx := -1
	for i, v := range s.awaiting {
		if v.Equal(ind.Vector()) {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.Reject(ind, optimization.NewErrorf(optimization.KindArgument,
			"vertex %v is not part of the initial simplex", ind.Vector()).
			WithComponent(component).WithOperation("AssessFitnessAndDecideFate"))
		return false
	}

	v := s.awaiting[idx]
	s.awaiting = append(s.awaiting[:idx], s.awaiting[idx+1:]...)
	if err := s.AssessAndAdd(ind); err != nil {
		// Hand the vertex out again so the simplex can still complete.
		s.toHandOut = append(s.toHandOut, v)
		s.Reject(ind, err)
		return false
	}
	if s.IsInitialised() {
		s.Logger.Debug("Initial simplex complete", zap.Int("vertices", s.simplex.Len()))
	}
	return true
}

func (s *Strategy) step(ind *individual.Individual) (bool, error) {
	if s.pending == nil || !s.pending.Equal(ind.Vector()) {
		return false, optimization.NewErrorf(optimization.KindOutOfRange,
			"reinserted vertex %v is not the outstanding %s vertex %v", ind.Vector(), s.state, s.pending).
			WithComponent(component).WithOperation("AssessFitnessAndDecideFate")
	}
	s.pending = nil

	if err := s.Assess(ind, s.Pop); err != nil {
		return false, optimization.WrapError(err, optimization.KindUnknown, "assessing vertex fitness").
			WithComponent(component).WithOperation("AssessFitnessAndDecideFate")
	}
	f := ind.Fitness()

	best, err := s.simplex.Best()
	if err != nil {
		return false, err
	}
	ntw, err := s.simplex.NextToWorst()
	if err != nil {
		return false, err
	}
	worst, err := s.simplex.Worst()
	if err != nil {
		return false, err
	}

	s.trail = append(s.trail, s.state.lower())

	switch s.state {
	case Reflect:
		switch {
		case f < best.Fitness():
			s.reflect, s.state = ind, Expand
		case f < ntw.Fitness():
			return true, s.accept(ind, Reflect)
		case f < worst.Fitness():
			s.reflect, s.state = ind, ContractOut
		default:
			s.reflect, s.state = ind, ContractIn
		}
	case Expand:
		if f < s.reflect.Fitness() {
			return true, s.accept(ind, Expand)
		}
		return true, s.accept(s.reflect, Reflect)
	case ContractOut:
		if f <= s.reflect.Fitness() {
			return true, s.accept(ind, ContractOut)
		}
		s.state = Shrink
	case ContractIn:
		if f < worst.Fitness() {
			return true, s.accept(ind, ContractIn)
		}
		s.state = Shrink
	case Shrink:
		return true, s.accept(ind, Shrink)
	}
	return false, nil
}

func (s *Strategy) accept(ind *individual.Individual, op Operation) error {
	if err := s.simplex.ReplaceWorst(ind); err != nil {
		return err
	}
	s.trail = append(s.trail, byte(op))
	s.last = string(s.trail)
	s.trail = s.trail[:0]
	s.reflect = nil
	s.state = Reflect
	s.Logger.Debug("Simplex step accepted", zap.String("step", s.last), zap.Float64("fitness", ind.Fitness()))
	return nil
}

// String summarises the simplex state.
func (s *Strategy) String() string {
	return fmt.Sprintf("nelder-mead state=%s last=%q vertices=%d", s.state, s.last, s.simplex.Len())
}
