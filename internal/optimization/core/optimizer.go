// Package core implements the generate/reinsert protocol shared by every
// optimisation strategy.
package core

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/decision"
	"github.com/copyleftdev/EVOLVR/internal/optimization/individual"
	"github.com/copyleftdev/EVOLVR/internal/optimization/population"
)

const component = "optimizer"

// extraAttempts is added to the requested count to form the generation retry budget.
const extraAttempts = 20

var (
	// ErrTerminated is returned by NextToEvaluate when the strategy emitted
	// the empty decision vector.
	ErrTerminated = errors.New("optimizer: strategy signalled termination")

	// ErrPending is returned by a strategy that cannot hand out a vector
	// until outstanding individuals are reinserted.
	ErrPending = errors.New("optimizer: waiting for outstanding individuals")
)

// Strategy supplies the decision logic of a concrete optimiser.
type Strategy interface {
	// Population is the working set the strategy maintains.
	Population() *population.Population

	// NewDecisionVector proposes the next point to evaluate. Returning
	// decision.Empty ends the run; returning ErrPending asks the caller to
	// come back after reinsertion.
	NewDecisionVector() (*decision.Vector, error)

	// AssessFitnessAndDecideFate assigns fitness to evaluated individuals
	// and decides which join the population. It returns how many were
	// inserted. Per-individual failures belong on the individual; a returned
	// error is fatal to the run.
	AssessFitnessAndDecideFate(inds []*individual.Individual) (int, error)
}

// Base carries the population, fitness assessor and logger most strategies
// need. Embedding it provides the default insert-everything policy.
type Base struct {
	Pop    *population.Population
	Assess FitnessAssessor
	Logger *zap.Logger
}

// NewBase returns a Base with SolutionFitness and a no-op logger filled in
// where assess or logger are nil.
func NewBase(pop *population.Population, assess FitnessAssessor, logger *zap.Logger) Base {
	if assess == nil {
		assess = SolutionFitness
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Base{Pop: pop, Assess: assess, Logger: logger}
}

// Population returns the working set.
func (b *Base) Population() *population.Population { return b.Pop }

// AssessFitnessAndDecideFate assesses and adds every individual. Failures
// are recorded as the individual's reinsertion error.
func (b *Base) AssessFitnessAndDecideFate(inds []*individual.Individual) (int, error) {
	inserted := 0
	for _, ind := range inds {
		if err := b.AssessAndAdd(ind); err != nil {
			b.Reject(ind, err)
			continue
		}
		inserted++
	}
	return inserted, nil
}

// AssessAndAdd applies the fitness assessor and adds ind to the population.
func (b *Base) AssessAndAdd(ind *individual.Individual) error {
	if err := b.Assess(ind, b.Pop); err != nil {
		return err
	}
	return b.Pop.Add(ind)
}

// Reject records err as ind's soft reinsertion failure.
func (b *Base) Reject(ind *individual.Individual, err error) {
	ind.SetReinsertionError(err)
	b.Logger.Warn("Individual not reinserted",
		zap.Stringer("vector", ind.Vector()),
		zap.Error(err),
	)
}

// Optimizer drives a Strategy through the generate/reinsert protocol,
// enforcing the individual lifecycle at both ends.
type Optimizer struct {
	strategy Strategy
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Optimizer) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) {
		if now != nil {
			o.now = now
		}
	}
}

// New wraps strategy.
func New(strategy Strategy, opts ...Option) *Optimizer {
	o := &Optimizer{
		strategy: strategy,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Strategy returns the wrapped strategy.
func (o *Optimizer) Strategy() Strategy { return o.strategy }

// Population returns the strategy's working set.
func (o *Optimizer) Population() *population.Population { return o.strategy.Population() }

// NextToEvaluate builds up to n new individuals. Hook failures are retried
// within a budget of n+20 attempts, after which it fails with a Timeout
// error. When the strategy emits the empty vector the individuals gathered
// so far are returned with ErrTerminated. When the strategy reports
// ErrPending they are returned with a nil error, possibly fewer than n.
func (o *Optimizer) NextToEvaluate(n int) ([]*individual.Individual, error) {
	if n < 1 {
		return nil, optimization.NewErrorf(optimization.KindOutOfRange, "count must be positive, got %d", n).
			WithComponent(component).WithOperation("NextToEvaluate")
	}

	out := make([]*individual.Individual, 0, n)
	budget := n + extraAttempts
	for attempt := 0; len(out) < n; attempt++ {
		if attempt >= budget {
			return out, optimization.NewErrorf(optimization.KindTimeout,
				"produced %d of %d individuals in %d attempts", len(out), n, budget).
				WithComponent(component).WithOperation("NextToEvaluate")
		}

		v, err := o.strategy.NewDecisionVector()
		switch {
		case errors.Is(err, ErrPending):
			return out, nil
		case err != nil:
			o.logger.Debug("Decision vector generation failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		case v == nil || v.IsEmpty():
			return out, ErrTerminated
		}

		out = append(out, individual.New(v,
			individual.WithLogger(o.logger),
			individual.WithCreationTime(o.now()),
		))
	}
	return out, nil
}

// ReInsert hands evaluated individuals back to the strategy and returns how
// many joined the population. Every individual must be Evaluated; the batch
// is checked before any of it is reinserted.
func (o *Optimizer) ReInsert(inds []*individual.Individual) (int, error) {
	for i, ind := range inds {
		if ind == nil || ind.State() != individual.Evaluated {
			state := "nil"
			if ind != nil {
				state = ind.State().String()
			}
			return 0, optimization.NewErrorf(optimization.KindArgument,
				"individual %d must be evaluated before reinsertion, got %s", i, state).
				WithComponent(component).WithOperation("ReInsert")
		}
	}

	now := o.now()
	for _, ind := range inds {
		ind.MarkReinserted(now)
	}
	return o.strategy.AssessFitnessAndDecideFate(inds)
}
