package runtime

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/copyleftdev/EVOLVR/internal/optimization/core"
)

// BasicRunner evaluates one individual at a time on the calling goroutine.
// Runs are deterministic for a deterministic strategy and evaluator.
type BasicRunner struct {
	*settings
	canceled atomic.Bool
}

// NewBasicRunner creates a synchronous runner. StartCount, PerGeneration and
// Workers are ignored.
func NewBasicRunner(opt *core.Optimizer, eval core.Evaluator, cfg Config, opts ...Option) (*BasicRunner, error) {
	s, err := newSettings(opt, eval, cfg, opts)
	if err != nil {
		return nil, err
	}
	return &BasicRunner{settings: s}, nil
}

// Cancel asks the run to stop after the current individual.
func (r *BasicRunner) Cancel() { r.canceled.Store(true) }

// Run loops generate, evaluate, reinsert until a termination condition
// holds. A reinsertion or generation timeout error ends the run with that
// error; evaluator failures only make the individual illegal.
func (r *BasicRunner) Run(ctx context.Context) (*Result, error) {
	tm := r.newTimeOutManager()
	var reinsertions, inserted int64

	finish := func(reason TerminationReason) (*Result, error) {
		r.report(r.opt.Population().Clone())
		return r.result(reason, tm, reinsertions, inserted), nil
	}

	for {
		if r.canceled.Load() || ctx.Err() != nil {
			return finish(ReasonCanceled)
		}

		inds, err := r.opt.NextToEvaluate(1)
		switch {
		case errors.Is(err, core.ErrTerminated):
			return finish(ReasonStrategyTerminated)
		case err != nil:
			return nil, err
		case len(inds) == 0:
			return nil, ErrStalled
		}
		ind := inds[0]

		if err := r.evaluate(ctx, ind); err != nil {
			return nil, err
		}
		tm.Increment()
		if ctx.Err() != nil {
			return finish(ReasonCanceled)
		}

		n, err := r.reinsert(ind)
		if err != nil {
			return nil, err
		}
		reinsertions++
		inserted += int64(n)

		if r.shouldReport(reinsertions) {
			r.report(r.opt.Population().Clone())
		}
		if reason := r.terminationReason(tm, r.canceled.Load()); reason != ReasonNone {
			return finish(reason)
		}
	}
}
