package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/EVOLVR/internal/optimization/core"
	"github.com/copyleftdev/EVOLVR/internal/optimization/individual"
	"github.com/copyleftdev/EVOLVR/internal/optimization/population"
)

// ParallelRunner evaluates individuals concurrently and reinserts them one
// at a time on a single goroutine, so the population has a single writer.
//
//	seed --> [to evaluate] --> EvaluationAgent --> [evaluated] --> ReinsertionAgent
//	              ^                                                     |
//	              +---------------- new individuals --------------------+
//
// Reinsertion order follows evaluation completion, so runs are not
// reproducible even with a seeded strategy.
type ParallelRunner struct {
	*settings

	mu       sync.Mutex
	cancel   context.CancelFunc
	canceled atomic.Bool
}

// NewParallelRunner creates a pipelined runner.
func NewParallelRunner(opt *core.Optimizer, eval core.Evaluator, cfg Config, opts ...Option) (*ParallelRunner, error) {
	s, err := newSettings(opt, eval, cfg, opts)
	if err != nil {
		return nil, err
	}
	return &ParallelRunner{settings: s}, nil
}

// Cancel stops new work from entering the pipeline. Evaluations already
// running are allowed to finish. It is safe to call from any goroutine and
// more than once.
func (r *ParallelRunner) Cancel() {
	r.canceled.Store(true)
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run seeds the pipeline with max(StartCount, PerGeneration) individuals and
// blocks until every stage has stopped. Errors caused only by the pipeline
// being canceled are not returned.
func (r *ParallelRunner) Run(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	if r.canceled.Load() {
		cancel()
	}

	tm := r.newTimeOutManager()

	seedCount := max(r.cfg.StartCount, r.cfg.PerGeneration)
	seed, err := r.opt.NextToEvaluate(seedCount)
	switch {
	case errors.Is(err, core.ErrTerminated) && len(seed) == 0:
		r.report(r.opt.Population().Clone())
		return r.result(ReasonStrategyTerminated, tm, 0, 0), nil
	case err != nil && !errors.Is(err, core.ErrTerminated):
		return nil, err
	case len(seed) == 0:
		return nil, ErrStalled
	}

	toEvaluate := newMailbox[*individual.Individual]()
	evaluated := newMailbox[*individual.Individual]()
	reports := newMailbox[*population.Population]()

	evalAgent := &EvaluationAgent{
		settings: r.settings,
		in:       toEvaluate,
		out:      evaluated,
		tm:       tm,
	}
	reinsertAgent := &ReinsertionAgent{
		settings: r.settings,
		in:       evaluated,
		out:      toEvaluate,
		reports:  reports,
		tm:       tm,
		canceled: &r.canceled,
		stop:     cancel,
		inFlight: len(seed),
	}
	toEvaluate.Put(seed...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return evalAgent.Run(gctx) })
	g.Go(func() error {
		defer reports.Close()
		return reinsertAgent.Run(gctx)
	})
	g.Go(func() error {
		for {
			pop, err := reports.Take(context.Background())
			if err != nil {
				return nil
			}
			r.report(pop)
		}
	})

	if err := g.Wait(); err != nil {
		if !isCancellation(err) {
			return nil, err
		}
		r.logger.Debug("Pipeline stopped by cancellation", zap.Error(err))
	}

	reason := reinsertAgent.reason
	if reason == ReasonNone {
		reason = ReasonCanceled
	}
	r.report(r.opt.Population().Clone())
	return r.result(reason, tm, reinsertAgent.processed, reinsertAgent.inserted), nil
}

// EvaluationAgent evaluates individuals as they arrive, up to Workers at a
// time, and forwards them once evaluated.
type EvaluationAgent struct {
	*settings
	in  *mailbox[*individual.Individual]
	out *mailbox[*individual.Individual]
	tm  *TimeOutManager

	evaluated atomic.Int64
}

// Evaluated is the number of individuals this agent has evaluated.
func (a *EvaluationAgent) Evaluated() int64 { return a.evaluated.Load() }

// Run consumes until ctx is done. In-flight evaluations are not canceled;
// Run waits for them before returning.
func (a *EvaluationAgent) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Workers > 0 {
		g.SetLimit(a.cfg.Workers)
	}
	evalCtx := context.WithoutCancel(ctx)

	for {
		ind, err := a.in.Take(gctx)
		if err != nil {
			if werr := g.Wait(); werr != nil {
				return werr
			}
			return err
		}
		g.Go(func() error {
			if err := a.evaluate(evalCtx, ind); err != nil {
				return err
			}
			a.evaluated.Add(1)
			a.tm.Increment()
			a.out.Put(ind)
			return nil
		})
	}
}

// ReinsertionAgent is the single writer of the population. After each
// reinsertion it checks for termination and decides how many new
// individuals to emit.
type ReinsertionAgent struct {
	*settings
	in      *mailbox[*individual.Individual]
	out     *mailbox[*individual.Individual]
	reports *mailbox[*population.Population]
	tm      *TimeOutManager

	canceled *atomic.Bool
	stop     context.CancelFunc

	inFlight  int
	processed int64
	inserted  int64
	reason    TerminationReason
}

// Run consumes evaluated individuals until termination or ctx is done.
// On termination it stops the whole pipeline and returns nil.
func (a *ReinsertionAgent) Run(ctx context.Context) error {
	perGen := int64(a.cfg.PerGeneration)
	for {
		ind, err := a.in.Take(ctx)
		if err != nil {
			return err
		}
		a.inFlight--
		a.processed++

		n, err := a.reinsert(ind)
		if err != nil {
			return err
		}
		a.inserted += int64(n)

		if a.shouldReport(a.processed) {
			a.reports.Put(a.opt.Population().Clone())
		}
		if reason := a.terminationReason(a.tm, a.canceled.Load()); reason != ReasonNone {
			a.finish(reason)
			return nil
		}

		// Emit a generation every PerGeneration reinsertions, or whenever the
		// pipeline would otherwise run dry.
		if a.processed%perGen == 0 || a.inFlight == 0 {
			next, err := a.opt.NextToEvaluate(a.cfg.PerGeneration)
			switch {
			case errors.Is(err, core.ErrTerminated):
				a.finish(ReasonStrategyTerminated)
				return nil
			case err != nil:
				return err
			}
			a.inFlight += len(next)
			a.out.Put(next...)
		}
		if a.inFlight == 0 {
			return ErrStalled
		}
	}
}

func (a *ReinsertionAgent) finish(reason TerminationReason) {
	a.reason = reason
	a.stop()
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
