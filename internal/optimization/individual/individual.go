// Package individual implements a candidate solution and its evaluation lifecycle.
package individual

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/decision"
)

const component = "individual"

// State is a step of the evaluation lifecycle:
//
//	StateNew --SendForEvaluation--> Evaluating --SetSolution/SetIllegal--> Evaluated --SetFitness--> FitnessAssessed
type State int

const (
	StateNew State = iota
	Evaluating
	Evaluated
	FitnessAssessed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case Evaluating:
		return "evaluating"
	case Evaluated:
		return "evaluated"
	case FitnessAssessed:
		return "fitness_assessed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Individual wraps one decision vector with its evaluation state, solution,
// fitness and a free-form property bag for evaluators and models.
//
// An Individual is not safe for concurrent mutation; the runtimes hand it
// from one stage to the next.
type Individual struct {
	vector *decision.Vector
	state  State

	props         map[string]any
	warnedOverlap bool

	solution []float64
	fitness  float64
	legal    bool

	createdAt      time.Time
	reinsertedAt   time.Time
	reinsertionErr error

	logger *zap.Logger
}

// Option configures a new Individual.
type Option func(*Individual)

// WithLogger sets the logger used for property overwrite warnings.
func WithLogger(l *zap.Logger) Option {
	return func(i *Individual) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithCreationTime stamps the individual's creation time.
func WithCreationTime(t time.Time) Option {
	return func(i *Individual) { i.createdAt = t }
}

// New wraps v in a fresh individual in state StateNew.
func New(v *decision.Vector, opts ...Option) *Individual {
	ind := &Individual{
		vector: v,
		state:  StateNew,
		props:  make(map[string]any),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ind)
	}
	return ind
}

// Vector returns the decision vector. It is immutable and may be shared.
func (i *Individual) Vector() *decision.Vector { return i.vector }

// State returns the lifecycle state.
func (i *Individual) State() State { return i.state }

// Legal is true when the evaluator produced a solution, false after SetIllegal.
func (i *Individual) Legal() bool { return i.legal }

// Fitness is the assessed fitness. Lower is better.
func (i *Individual) Fitness() float64 { return i.fitness }

// Solution returns a copy of the solution vector; empty until evaluated.
func (i *Individual) Solution() []float64 {
	return append([]float64(nil), i.solution...)
}

// CreatedAt is when the optimizer generated the individual.
func (i *Individual) CreatedAt() time.Time { return i.createdAt }

// ReinsertedAt is when the individual was handed back to the optimizer.
func (i *Individual) ReinsertedAt() time.Time { return i.reinsertedAt }

// MarkReinserted records the reinsertion time.
func (i *Individual) MarkReinserted(t time.Time) { i.reinsertedAt = t }

// ReinsertionError is the soft failure recorded when the optimizer could not
// place the individual, or nil.
func (i *Individual) ReinsertionError() error { return i.reinsertionErr }

// SetReinsertionError records a soft reinsertion failure.
func (i *Individual) SetReinsertionError(err error) { i.reinsertionErr = err }

func (i *Individual) transitionError(op string, allowed ...State) error {
	return optimization.NewErrorf(optimization.KindInvalidState,
		"%s requires state %v, individual is %s", op, allowed, i.state).
		WithComponent(component).WithOperation(op)
}

// SendForEvaluation moves StateNew to Evaluating.
func (i *Individual) SendForEvaluation() error {
	if i.state != StateNew {
		return i.transitionError("SendForEvaluation", StateNew)
	}
	i.state = Evaluating
	return nil
}

// SetProperty upserts a property. Overwriting is allowed; the first
// overwrite on an individual is logged.
func (i *Individual) SetProperty(key string, value any) {
	if _, exists := i.props[key]; exists && !i.warnedOverlap {
		i.warnedOverlap = true
		i.logger.Warn("Overwriting individual property",
			zap.String("key", key),
			zap.Stringer("vector", i.vector),
		)
	}
	i.props[key] = value
}

// Property returns the value stored under key.
func (i *Individual) Property(key string) (any, error) {
	v, ok := i.props[key]
	if !ok {
		return nil, optimization.NewErrorf(optimization.KindKeyNotFound, "property %q not set", key).
			WithComponent(component).WithOperation("Property")
	}
	return v, nil
}

// HasProperty reports whether key is set.
func (i *Individual) HasProperty(key string) bool {
	_, ok := i.props[key]
	return ok
}

// PropertyNames lists the property keys in sorted order.
func (i *Individual) PropertyNames() []string {
	names := make([]string, 0, len(i.props))
	for k := range i.props {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// PropertyAs returns the property under key converted to T.
func PropertyAs[T any](i *Individual, key string) (T, error) {
	var zero T
	v, err := i.Property(key)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, optimization.NewErrorf(optimization.KindArgument,
			"property %q holds %T, not %T", key, v, zero).
			WithComponent(component).WithOperation("PropertyAs")
	}
	return t, nil
}

// SetSolution builds the solution vector from the named float64 properties,
// in order, and moves Evaluating to Evaluated as a legal individual.
func (i *Individual) SetSolution(keys ...string) error {
	if i.state != Evaluating {
		return i.transitionError("SetSolution", Evaluating)
	}
	solution := make([]float64, len(keys))
	for n, key := range keys {
		v, err := PropertyAs[float64](i, key)
		if err != nil {
			return optimization.WrapError(err, optimization.KindUnknown, "cannot build solution").
				WithComponent(component).WithOperation("SetSolution")
		}
		solution[n] = v
	}
	i.solution = solution
	i.legal = true
	i.state = Evaluated
	return nil
}

// SetIllegal moves Evaluating to Evaluated as an illegal individual.
func (i *Individual) SetIllegal() error {
	if i.state != Evaluating {
		return i.transitionError("SetIllegal", Evaluating)
	}
	i.legal = false
	i.state = Evaluated
	return nil
}

// SetFitness assigns fitness. It may be called again once assessed.
func (i *Individual) SetFitness(f float64) error {
	if i.state != Evaluated && i.state != FitnessAssessed {
		return i.transitionError("SetFitness", Evaluated, FitnessAssessed)
	}
	i.fitness = f
	i.state = FitnessAssessed
	return nil
}

// Clone copies the individual. The decision vector is shared; the property
// bag map and solution are copied. Property values themselves are copied by
// assignment.
func (i *Individual) Clone() *Individual {
	cp := *i
	cp.props = make(map[string]any, len(i.props))
	for k, v := range i.props {
		cp.props[k] = v
	}
	cp.solution = i.Solution()
	return &cp
}

// Equal compares decision vectors and solution vectors. Fitness and
// properties are ignored.
func (i *Individual) Equal(o *Individual) bool {
	if i == o {
		return true
	}
	if o == nil {
		return false
	}
	if !i.vector.Equal(o.vector) {
		return false
	}
	return len(i.solution) == len(o.solution) && floats.Equal(i.solution, o.solution)
}

func (i *Individual) String() string {
	return fmt.Sprintf("%v (%s, fitness=%g, legal=%t)", i.vector, i.state, i.fitness, i.legal)
}
