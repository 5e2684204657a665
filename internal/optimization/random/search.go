// Package random implements random search as a steady-state strategy.
package random

import (
	"math/rand"

	"go.uber.org/zap"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/core"
	"github.com/copyleftdev/EVOLVR/internal/optimization/decision"
	"github.com/copyleftdev/EVOLVR/internal/optimization/individual"
	"github.com/copyleftdev/EVOLVR/internal/optimization/population"
)

// Option configures a Search.
type Option func(*Search)

// WithModel replaces the default uniform model.
func WithModel(m core.Model) Option { return func(s *Search) { s.model = m } }

// WithFitnessAssessor replaces core.SolutionFitness.
func WithFitnessAssessor(a core.FitnessAssessor) Option {
	return func(s *Search) {
		if a != nil {
			s.Assess = a
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Search) {
		if l != nil {
			s.Logger = l
		}
	}
}

// Search fills the population with random points, then replaces the worst
// member whenever a new point beats it.
type Search struct {
	core.Base
	model core.Model
}

// New creates a search over space keeping populationSize members.
func New(space *decision.Space, populationSize int, rng *rand.Rand, opts ...Option) (*Search, error) {
	if space.Len() == 0 {
		return nil, optimization.NewError(optimization.KindArgument, "decision space is empty").
			WithComponent("random_search").WithOperation("New")
	}
	pop, err := population.New(populationSize, true)
	if err != nil {
		return nil, err
	}
	s := &Search{
		Base:  core.NewBase(pop, nil, nil),
		model: core.NewRandomModel(space, rng),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Model is the source of new points.
func (s *Search) Model() core.Model { return s.model }

// NewDecisionVector draws the next point from the model.
func (s *Search) NewDecisionVector() (*decision.Vector, error) {
	return s.model.NewDecisionVector()
}

// AssessFitnessAndDecideFate adds individuals until the target size is
// reached and afterwards keeps only those better than the current worst.
func (s *Search) AssessFitnessAndDecideFate(inds []*individual.Individual) (int, error) {
	inserted := 0
	for _, ind := range inds {
		if !s.Pop.IsTargetSizeReached() {
			if err := s.AssessAndAdd(ind); err != nil {
				s.Reject(ind, err)
				continue
			}
			inserted++
			continue
		}

		if err := s.Assess(ind, s.Pop); err != nil {
			s.Reject(ind, err)
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
