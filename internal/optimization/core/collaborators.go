package core

import (
	"context"
	"math"
	"math/rand"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/decision"
	"github.com/copyleftdev/EVOLVR/internal/optimization/individual"
	"github.com/copyleftdev/EVOLVR/internal/optimization/population"
)

// ObjectiveProperty is the property ObjectiveEvaluator stores its result under.
const ObjectiveProperty = "objective"

// Evaluator fills in an individual's solution. On return the individual must
// be in the Evaluated state. Implementations used with the parallel runtime
// must be safe for concurrent use.
type Evaluator interface {
	Evaluate(ctx context.Context, ind *individual.Individual) error
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, ind *individual.Individual) error

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, ind *individual.Individual) error {
	return f(ctx, ind)
}

// ObjectiveEvaluator evaluates the decision vector as floats with obj. An
// objective error or a non-finite result marks the individual illegal.
func ObjectiveEvaluator(obj optimization.ObjectiveFunction) Evaluator {
	return EvaluatorFunc(func(ctx context.Context, ind *individual.Individual) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		y, err := obj(ind.Vector().Floats())
		if err != nil || math.IsNaN(y) || math.IsInf(y, 0) {
			return ind.SetIllegal()
		}
		ind.SetProperty(ObjectiveProperty, y)
		return ind.SetSolution(ObjectiveProperty)
	})
}

// Model produces starting decision vectors and may prepare an individual
// before it is sent for evaluation.
type Model interface {
	NewDecisionVector() (*decision.Vector, error)
	PrepareForEvaluation(ind *individual.Individual) error
}

// RandomModel draws uniformly from a space's generation bounds.
type RandomModel struct {
	Space *decision.Space
	Rand  *rand.Rand
}

// NewRandomModel creates a RandomModel over space seeded with rng.
func NewRandomModel(space *decision.Space, rng *rand.Rand) *RandomModel {
	return &RandomModel{Space: space, Rand: rng}
}

// NewDecisionVector returns a random legal vector.
func (m *RandomModel) NewDecisionVector() (*decision.Vector, error) {
	return m.Space.RandomVector(m.Rand)
}

// PrepareForEvaluation does nothing.
func (m *RandomModel) PrepareForEvaluation(*individual.Individual) error { return nil }

// FitnessAssessor assigns fitness to an evaluated individual, typically by
// calling SetFitness based on its legality and solution.
type FitnessAssessor func(ind *individual.Individual, pop *population.Population) error

// SolutionFitness uses the first solution element for legal individuals and
// +Inf for illegal ones.
func SolutionFitness(ind *individual.Individual, _ *population.Population) error {
	if !ind.Legal() {
		return ind.SetFitness(math.Inf(1))
	}
	sol := ind.Solution()
	if len(sol) == 0 {
		return optimization.NewError(optimization.KindArgument, "legal individual has an empty solution").
			WithComponent(component).WithOperation("SolutionFitness")
	}
	return ind.SetFitness(sol[0])
}

// ConvergenceCheck reports whether a full population has converged. It is
// only consulted once the population's target size is reached.
type ConvergenceCheck func(pop *population.Population) bool

// FitnessRangeConvergence converges once worst minus best fitness is at most tol.
func FitnessRangeConvergence(tol float64) ConvergenceCheck {
	return func(pop *population.Population) bool {
		r, err := pop.FitnessRange()
		return err == nil && r <= tol
	}
}

// Reporter receives a point-in-time clone of the population.
type Reporter func(pop *population.Population)
