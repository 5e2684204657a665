// Package runtime drives an optimizer through generate, evaluate and
// reinsert cycles, either synchronously or as a concurrent pipeline.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/core"
	"github.com/copyleftdev/EVOLVR/internal/optimization/individual"
	"github.com/copyleftdev/EVOLVR/internal/optimization/population"
)

// ErrStalled is returned when nothing is left to evaluate but no
// termination condition has been met.
var ErrStalled = errors.New("runtime: pipeline stalled with no individuals in flight")

// TerminationReason says why a run ended.
type TerminationReason int

const (
	ReasonNone TerminationReason = iota
	ReasonMaxEvaluations
	ReasonTimeout
	ReasonConverged
	ReasonCanceled
	ReasonStrategyTerminated
)

func (r TerminationReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMaxEvaluations:
		return "max_evaluations"
	case ReasonTimeout:
		return "timeout"
	case ReasonConverged:
		return "converged"
	case ReasonCanceled:
		return "canceled"
	case ReasonStrategyTerminated:
		return "strategy_terminated"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// MarshalText encodes the reason by name.
func (r TerminationReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Config holds runner settings.
type Config struct {
	// StartCount individuals are seeded into the parallel pipeline, or
	// PerGeneration if that is larger.
	StartCount int
	// PerGeneration individuals are requested after every PerGeneration reinsertions.
	PerGeneration int
	// ReportingFrequency is the number of reinsertions between reports. Zero
	// reports only at the end.
	ReportingFrequency int
	// TimeoutEvaluations and TimeoutDuration bound the run.
	TimeoutEvaluations int64
	TimeoutDuration    time.Duration
	// Workers bounds concurrent evaluations. Zero or less is unbounded.
	Workers int
}

// DefaultConfig returns a single-step configuration with generous limits.
func DefaultConfig() Config {
	return Config{
		StartCount:         1,
		PerGeneration:      1,
		ReportingFrequency: 100,
		TimeoutEvaluations: 10_000,
		TimeoutDuration:    10 * time.Minute,
	}
}

// Validate checks counts and the timeout floors.
func (c Config) Validate() error {
	switch {
	case c.StartCount < 1:
		return optimization.NewErrorf(optimization.KindOutOfRange, "start count must be positive, got %d", c.StartCount)
	case c.PerGeneration < 1:
		return optimization.NewErrorf(optimization.KindOutOfRange, "per-generation count must be positive, got %d", c.PerGeneration)
	case c.ReportingFrequency < 0:
		return optimization.NewErrorf(optimization.KindOutOfRange, "reporting frequency must not be negative, got %d", c.ReportingFrequency)
	}
	_, err := NewTimeOutManager(c.TimeoutEvaluations, c.TimeoutDuration)
	return err
}

// Result summarises a finished run.
type Result struct {
	Reason       TerminationReason
	Evaluations  int64
	Reinsertions int64
	Inserted     int64
	// Best is a clone of the best member, or nil if the population is empty.
	Best    *individual.Individual
	Elapsed time.Duration
}

// BestSolution returns Best as a plain solution, or nil.
func (r *Result) BestSolution() *optimization.Solution {
	if r == nil || r.Best == nil {
		return nil
	}
	return &optimization.Solution{
		Parameters: r.Best.Vector().Floats(),
		Value:      r.Best.Fitness(),
		Legal:      r.Best.Legal(),
	}
}

// Runner runs an optimisation to completion.
type Runner interface {
	Run(ctx context.Context) (*Result, error)
	Cancel()
}

// Metrics observes run progress.
type Metrics interface {
	ObserveEvaluation(elapsed time.Duration, legal bool)
	ObserveReinsertion(inserted bool, softFailure bool)
	ObserveBestFitness(fitness float64)
	ObserveTermination(reason string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveEvaluation(time.Duration, bool) {}
func (nopMetrics) ObserveReinsertion(bool, bool)         {}
func (nopMetrics) ObserveBestFitness(float64)            {}
func (nopMetrics) ObserveTermination(string)             {}

// Option configures a runner.
type Option func(*settings)

// WithModel sets the model whose PrepareForEvaluation runs before each evaluation.
func WithModel(m core.Model) Option { return func(s *settings) { s.model = m } }

// WithConvergence sets the convergence predicate.
func WithConvergence(c core.ConvergenceCheck) Option { return func(s *settings) { s.converged = c } }

// WithReporter sets the population reporter.
func WithReporter(r core.Reporter) Option { return func(s *settings) { s.reporter = r } }

// WithMetrics sets the metrics hook.
func WithMetrics(m Metrics) Option {
	return func(s *settings) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now for the timeout manager.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// settings are the collaborators shared by both runners.
type settings struct {
	opt       *core.Optimizer
	evaluator core.Evaluator
	cfg       Config

	model     core.Model
	converged core.ConvergenceCheck
	reporter  core.Reporter
	metrics   Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func newSettings(opt *core.Optimizer, eval core.Evaluator, cfg Config, opts []Option) (*settings, error) {
	if opt == nil || eval == nil {
		return nil, optimization.NewError(optimization.KindArgument, "optimizer and evaluator are required").
			WithComponent("runtime").WithOperation("NewRunner")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &settings{
		opt:       opt,
		evaluator: eval,
		cfg:       cfg,
		metrics:   nopMetrics{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *settings) newTimeOutManager() *TimeOutManager {
	// Limits were checked by Validate.
	tm, _ := NewTimeOutManager(s.cfg.TimeoutEvaluations, s.cfg.TimeoutDuration)
	tm.now = s.now
	tm.Start()
	return tm
}

// evaluate prepares and evaluates ind. Evaluator failures leave the
// individual illegal rather than aborting the run; only lifecycle misuse is
// returned.
func (s *settings) evaluate(ctx context.Context, ind *individual.Individual) error {
	var prepErr error
	if s.model != nil {
		prepErr = s.model.PrepareForEvaluation(ind)
	}
	if err := ind.SendForEvaluation(); err != nil {
		return err
	}

	start := time.Now()
	if prepErr != nil {
		s.logger.Warn("Preparing individual failed", zap.Stringer("vector", ind.Vector()), zap.Error(prepErr))
	} else if err := s.evaluator.Evaluate(ctx, ind); err != nil {
		s.logger.Warn("Evaluation failed", zap.Stringer("vector", ind.Vector()), zap.Error(err))
	}
	if ind.State() == individual.Evaluating {
		if err := ind.SetIllegal(); err != nil {
			return err
		}
	}
	s.metrics.ObserveEvaluation(time.Since(start), ind.Legal())
	return nil
}

// reinsert hands ind back to the optimizer and records metrics.
func (s *settings) reinsert(ind *individual.Individual) (int, error) {
	n, err := s.opt.ReInsert([]*individual.Individual{ind})
	if err != nil {
		return 0, err
	}
	s.metrics.ObserveReinsertion(n > 0, ind.ReinsertionError() != nil)
	if best, err := s.opt.Population().Best(); err == nil {
		s.metrics.ObserveBestFitness(best.Fitness())
	}
	return n, nil
}

func (s *settings) terminationReason(tm *TimeOutManager, canceled bool) TerminationReason {
	pop := s.opt.Population()
	switch {
	case tm.HasPerformedTooManyEvaluations():
		return ReasonMaxEvaluations
	case tm.HasRunOutOfTime():
		return ReasonTimeout
	case pop.IsTargetSizeReached() && s.converged != nil && s.converged(pop):
		return ReasonConverged
	case canceled:
		return ReasonCanceled
	}
	return ReasonNone
}

func (s *settings) shouldReport(reinsertions int64) bool {
	return s.reporter != nil && s.cfg.ReportingFrequency > 0 && reinsertions%int64(s.cfg.ReportingFrequency) == 0
}

func (s *settings) report(pop *population.Population) {
	if s.reporter != nil {
		s.reporter(pop)
	}
}

func (s *settings) result(reason TerminationReason, tm *TimeOutManager, reinsertions, inserted int64) *Result {
	res := &Result{
		Reason:       reason,
		Evaluations:  tm.Evaluations(),
		Reinsertions: reinsertions,
		Inserted:     inserted,
		Elapsed:      tm.Elapsed(),
	}
	if best, err := s.opt.Population().Best(); err == nil {
		res.Best = best.Clone()
	}
	s.metrics.ObserveTermination(reason.String())
	s.logger.Info("Optimisation finished",
		zap.Stringer("reason", reason),
		zap.Int64("evaluations", res.Evaluations),
		zap.Int64("reinsertions", reinsertions),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res
}
