package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/population"
	"github.com/copyleftdev/EVOLVR/internal/optimization/runtime"
)

// Status is the lifecycle of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobState is a point-in-time view of an optimisation job.
type JobState struct {
	ID           string                    `json:"optimization_id"`
	Algorithm    string                    `json:"algorithm"`
	Runtime      string                    `json:"runtime"`
	Status       Status                    `json:"status"`
	Reason       runtime.TerminationReason `json:"reason"`
	Progress     float64                   `json:"progress"`
	Evaluations  int64                     `json:"evaluations"`
	StartTime    time.Time                 `json:"start_time"`
	EndTime      *time.Time                `json:"end_time,omitempty"`
	LastUpdated  time.Time                 `json:"last_update"`
	BestSolution *optimization.Solution    `json:"best_solution,omitempty"`
	Error        string                    `json:"error,omitempty"`
}

type job struct {
	mu    sync.RWMutex
	state JobState

	maxEvaluations int64
	evaluations    atomic.Int64

	runner runtime.Runner
	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

func (j *job) snapshot() JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	st := j.state
	if !st.Status.terminal() {
		st.Evaluations = j.evaluations.Load()
		st.Progress = min(1, float64(st.Evaluations)/float64(j.maxEvaluations))
	}
	return st
}

func (j *job) markRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Status == StatusPending {
		j.state.Status = StatusRunning
		j.state.LastUpdated = j.now()
	}
}

// report records the best member of a population snapshot.
func (j *job) report(pop *population.Population) {
	best, err := pop.Best()
	if err != nil {
		return
	}
	sol := &optimization.Solution{
		Parameters: best.Vector().Floats(),
		Value:      best.Fitness(),
		Legal:      best.Legal(),
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state.BestSolution = sol
	j.state.LastUpdated = j.now()
}

// requestCancel moves a live job to cancelled. It reports false if the job
// had already finished.
func (j *job) requestCancel() bool {
	j.mu.Lock()
	if j.state.Status.terminal() {
		j.mu.Unlock()
		return false
	}
	now := j.now()
	j.state.Status = StatusCancelled
	j.state.LastUpdated = now
	j.mu.Unlock()

	j.runner.Cancel()
	j.cancel()
	return true
}

func (j *job) finish(res *runtime.Result, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	j.state.EndTime = &now
	j.state.LastUpdated = now
	j.state.Evaluations = j.evaluations.Load()

	if err != nil {
		j.state.Error = err.Error()
		if j.state.Status != StatusCancelled {
			j.state.Status = StatusFailed
		}
		return
	}
	j.state.Reason = res.Reason
	j.state.Evaluations = res.Evaluations
	if sol := res.BestSolution(); sol != nil {
		j.state.BestSolution = sol
	}
	j.state.Progress = 1
	if j.state.Status != StatusCancelled {
		j.state.Status = StatusCompleted
	}
}

// jobMetrics counts evaluations for progress and forwards to the shared
// collector.
type jobMetrics struct {
	runtime.Metrics
	job *job
}

func (m jobMetrics) ObserveEvaluation(elapsed time.Duration, legal bool) {
	m.job.evaluations.Add(1)
	m.Metrics.ObserveEvaluation(elapsed, legal)
}
