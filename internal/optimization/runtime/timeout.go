package runtime

import (
	"sync/atomic"
	"time"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
)

const (
	// MinTimeoutEvaluations is the lowest accepted evaluation limit.
	MinTimeoutEvaluations = 2
	// MinTimeoutDuration is the lowest accepted wall-clock limit.
	MinTimeoutDuration = 30 * time.Second
)

// TimeOutManager counts evaluations and elapsed time against fixed limits.
// Increment and the queries are safe for concurrent use.
type TimeOutManager struct {
	maxEvaluations int64
	maxDuration    time.Duration

	evaluations atomic.Int64
	start       atomic.Int64 // unix nanoseconds
	now         func() time.Time
}

// NewTimeOutManager creates a manager. The limits are sanity floors: fewer
// than MinTimeoutEvaluations evaluations or less than MinTimeoutDuration is
// rejected with an OutOfRange error.
func NewTimeOutManager(maxEvaluations int64, maxDuration time.Duration) (*TimeOutManager, error) {
	if maxEvaluations < MinTimeoutEvaluations {
		return nil, optimization.NewErrorf(optimization.KindOutOfRange,
			"timeout evaluations must be at least %d, got %d", MinTimeoutEvaluations, maxEvaluations).
			WithComponent("timeout_manager").WithOperation("NewTimeOutManager")
	}
	if maxDuration < MinTimeoutDuration {
		return nil, optimization.NewErrorf(optimization.KindOutOfRange,
			"timeout duration must be at least %s, got %s", MinTimeoutDuration, maxDuration).
			WithComponent("timeout_manager").WithOperation("NewTimeOutManager")
	}
	m := &TimeOutManager{
		maxEvaluations: maxEvaluations,
		maxDuration:    maxDuration,
		now:            time.Now,
	}
	m.Start()
	return m, nil
}

// Start resets the clock.
func (m *TimeOutManager) Start() { m.start.Store(m.now().UnixNano()) }

// Increment records one evaluation and returns the new total.
func (m *TimeOutManager) Increment() int64 { return m.evaluations.Add(1) }

// Evaluations is the number of evaluations recorded.
func (m *TimeOutManager) Evaluations() int64 { return m.evaluations.Load() }

// Elapsed is the time since Start.
func (m *TimeOutManager) Elapsed() time.Duration {
	return m.now().Sub(time.Unix(0, m.start.Load()))
}

// HasRunOutOfTime reports whether the duration limit is reached.
func (m *TimeOutManager) HasRunOutOfTime() bool { return m.Elapsed() >= m.maxDuration }

// HasPerformedTooManyEvaluations reports whether the evaluation limit is reached.
func (m *TimeOutManager) HasPerformedTooManyEvaluations() bool {
	return m.evaluations.Load() >= m.maxEvaluations
}
