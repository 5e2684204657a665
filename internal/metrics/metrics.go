// Package metrics exposes optimisation run progress as Prometheus metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/copyleftdev/EVOLVR/internal/optimization/runtime"
)

// Reinsertion outcomes.
const (
	OutcomeInserted    = "inserted"
	OutcomeDiscarded   = "discarded"
	OutcomeSoftFailure = "soft_failure"
)

// Collector holds the metric vectors shared by every run. It implements
// prometheus.Collector.
type Collector struct {
	evaluations        *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	reinsertions       *prometheus.CounterVec
	bestFitness        *prometheus.GaugeVec
	terminations       *prometheus.CounterVec
}

var _ prometheus.Collector = (*Collector)(nil)

// New creates the metric vectors under namespace.
func New(namespace string) *Collector {
	return &Collector{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Individuals evaluated, by legality.",
		}, []string{"algorithm", "legal"}),
		evaluationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent evaluating one individual.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"algorithm"}),
		reinsertions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reinsertions_total",
			Help:      "Individuals returned to their strategy, by outcome.",
		}, []string{"algorithm", "outcome"}),
		bestFitness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_fitness",
			Help:      "Best fitness in the population of a run.",
		}, []string{"job_id"}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminations_total",
			Help:      "Finished runs, by termination reason.",
		}, []string{"algorithm", "reason"}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.evaluations.Describe(ch)
	c.evaluationDuration.Describe(ch)
	c.reinsertions.Describe(ch)
	c.bestFitness.Describe(ch)
	c.terminations.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.evaluations.Collect(ch)
	c.evaluationDuration.Collect(ch)
	c.reinsertions.Collect(ch)
	c.bestFitness.Collect(ch)
	c.terminations.Collect(ch)
}

// Run returns the runtime hook for one run.
func (c *Collector) Run(algorithm, jobID string) runtime.Metrics {
	return &runMetrics{c: c, algorithm: algorithm, jobID: jobID}
}

// Forget drops the per-run series of jobID.
func (c *Collector) Forget(jobID string) bool {
	return c.bestFitness.DeleteLabelValues(jobID)
}

type runMetrics struct {
	c         *Collector
	algorithm string
	jobID     string
}

func (m *runMetrics) ObserveEvaluation(elapsed time.Duration, legal bool) {
	m.c.evaluations.WithLabelValues(m.algorithm, strconv.FormatBool(legal)).Inc()
	m.c.evaluationDuration.WithLabelValues(m.algorithm).Observe(elapsed.Seconds())
}

func (m *runMetrics) ObserveReinsertion(inserted, softFailure bool) {
	outcome := OutcomeDiscarded
	switch {
	case softFailure:
		outcome = OutcomeSoftFailure
	case inserted:
		outcome = OutcomeInserted
	}
	m.c.reinsertions.WithLabelValues(m.algorithm, outcome).Inc()
}

func (m *runMetrics) ObserveBestFitness(fitness float64) {
	m.c.bestFitness.WithLabelValues(m.jobID).Set(fitness)
}

func (m *runMetrics) ObserveTermination(reason string) {
	m.c.terminations.WithLabelValues(m.algorithm, reason).Inc()
}
