// Package server runs optimisation jobs behind a REST API and a JSON-RPC 2.0
// endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copyleftdev/EVOLVR/internal/config"
	apperrors "github.com/copyleftdev/EVOLVR/internal/errors"
	"github.com/copyleftdev/EVOLVR/internal/metrics"
	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/bayesian"
	"github.com/copyleftdev/EVOLVR/internal/optimization/core"
	"github.com/copyleftdev/EVOLVR/internal/optimization/decision"
	"github.com/copyleftdev/EVOLVR/internal/optimization/neldermead"
	"github.com/copyleftdev/EVOLVR/internal/optimization/random"
	"github.com/copyleftdev/EVOLVR/internal/optimization/runtime"
)

const component = "server"

// Algorithms and runtimes accepted by StartRequest.
const (
	AlgorithmNelderMead = "neldermead"
	AlgorithmRandom     = "random"
	AlgorithmBayesian   = "bayesian"

	RuntimeBasic    = "basic"
	RuntimeParallel = "parallel"
)

const defaultPopulationSize = 10

// StartRequest describes a new job. Empty fields take their configured
// defaults.
type StartRequest struct {
	// Algorithm is neldermead, random or bayesian.
	Algorithm string `json:"algorithm"`
	// Runtime is basic or parallel.
	Runtime string      `json:"runtime"`
	Bounds  [][]float64 `json:"bounds"`
	// Start is the initial Nelder-Mead vertex. It defaults to the centre of
	// the bounds.
	Start          []float64 `json:"start,omitempty"`
	StepSize       float64   `json:"step_size,omitempty"`
	Seed           int64     `json:"seed,omitempty"`
	MaxEvaluations int64     `json:"max_evaluations,omitempty"`
	PopulationSize int       `json:"population_size,omitempty"`
	// ConvergenceTolerance ends the run once the population's fitness range
	// is at most this value. Zero uses OPT_CONVERGENCE_TOLERANCE.
	ConvergenceTolerance float64 `json:"convergence_tolerance,omitempty"`
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics reports every run to c.
func WithMetrics(c *metrics.Collector) Option { return func(s *Server) { s.metrics = c } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// Server manages optimisation jobs. Every job minimises the sphere function
// over the requested bounds.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	jobsMu sync.RWMutex
	jobs   map[string]*job
	seq    atomic.Int64
	wg     sync.WaitGroup
}

// NewServer creates a server with no jobs.
func NewServer(cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger.Named(component),
		now:    time.Now,
		jobs:   make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
	})

	r.Post("/rpc", s.handleJSONRPC)
}

func sphere(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

// Start validates req, builds the strategy and runner and starts the job in
// the background.
func (s *Server) Start(req StartRequest) (JobState, error) {
	id := fmt.Sprintf("opt_%d_%d", s.now().UnixNano(), s.seq.Add(1))
	logger := s.logger.With(zap.String("optimization_id", id))

	if req.Algorithm == "" {
		req.Algorithm = AlgorithmNelderMead
	}
	if req.Runtime == "" {
		req.Runtime = RuntimeBasic
		if s.cfg.Optimization.Parallel {
			req.Runtime = RuntimeParallel
		}
	}

	space, err := spaceFromBounds(req.Bounds)
	if err != nil {
		return JobState{}, err
	}
	strategy, err := s.newStrategy(req, space, logger)
	if err != nil {
		return JobState{}, err
	}

	rcfg := s.cfg.Runtime()
	if req.MaxEvaluations > 0 {
		rcfg.TimeoutEvaluations = req.MaxEvaluations
	}
	tol := s.cfg.Optimization.ConvergenceTolerance
	switch {
	case req.ConvergenceTolerance < 0:
		return JobState{}, optimization.NewErrorf(optimization.KindArgument,
			"convergence tolerance must not be negative, got %v", req.ConvergenceTolerance).
			WithComponent(component).WithOperation("Start")
	case req.ConvergenceTolerance > 0:
		tol = req.ConvergenceTolerance
	}

	now := s.now()
	j := &job{
		state: JobState{
			ID:          id,
			Algorithm:   req.Algorithm,
			Runtime:     req.Runtime,
			Status:      StatusPending,
			StartTime:   now,
			LastUpdated: now,
		},
		maxEvaluations: rcfg.TimeoutEvaluations,
		done:           make(chan struct{}),
		now:            s.now,
	}

	var m runtime.Metrics = jobMetrics{Metrics: nopMetrics{}, job: j}
	if s.metrics != nil {
		m = jobMetrics{Metrics: s.metrics.Run(req.Algorithm, id), job: j}
	}
	opts := []runtime.Option{
		runtime.WithLogger(logger),
		runtime.WithMetrics(m),
		runtime.WithReporter(j.report),
	}
	if tol > 0 {
		opts = append(opts, runtime.WithConvergence(core.FitnessRangeConvergence(tol)))
	}
	opt := core.New(strategy, core.WithLogger(logger))
	eval := core.ObjectiveEvaluator(sphere)

	var runner runtime.Runner
	switch req.Runtime {
	case RuntimeBasic:
		runner, err = runtime.NewBasicRunner(opt, eval, rcfg, opts...)
	case RuntimeParallel:
		runner, err = runtime.NewParallelRunner(opt, eval, rcfg, opts...)
	default:
		err = optimization.NewErrorf(optimization.KindArgument, "unknown runtime %q", req.Runtime)
	}
	if err != nil {
		return JobState{}, err
	}
	j.runner = runner

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel

	s.jobsMu.Lock()
	s.jobs[id] = j
	s.jobsMu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, id, j, logger)

	logger.Info("Optimization started",
		zap.String("algorithm", req.Algorithm),
		zap.String("runtime", req.Runtime),
		zap.Int("dimensions", space.Len()),
		zap.Int64("max_evaluations", rcfg.TimeoutEvaluations),
	)
	return j.snapshot(), nil
}

func (s *Server) run(ctx context.Context, id string, j *job, logger *zap.Logger) {
	defer s.wg.Done()
	defer close(j.done)
	defer j.cancel()

	j.markRunning()
	res, err := j.runner.Run(ctx)
	if err != nil {
		logger.Error("Optimization failed", zap.Error(err))
	}
	j.finish(res, err)
	if s.metrics != nil {
		s.metrics.Forget(id)
	}
}

func spaceFromBounds(bounds [][]float64) (*decision.Space, error) {
	if len(bounds) == 0 {
		return nil, optimization.NewError(optimization.KindArgument, "bounds are required").
			WithComponent(component)
	}
	vars := make([]decision.Variable, len(bounds))
	for i, b := range bounds {
		if len(b) != 2 {
			return nil, optimization.NewErrorf(optimization.KindArgument,
				"invalid bounds format for dimension %d, expected [min, max]", i).
				WithComponent(component)
		}
		v, err := decision.NewContinuous(fmt.Sprintf("x%d", i), b[0], b[1])
		if err != nil {
			return nil, err
		}
		vars[i] = v
	}
	return decision.NewSpace(vars...)
}

func (s *Server) newStrategy(req StartRequest, space *decision.Space, logger *zap.Logger) (core.Strategy, error) {
	seed := req.Seed
	if seed == 0 {
		seed = s.now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	popSize := req.PopulationSize
	if popSize == 0 {
		popSize = defaultPopulationSize
	}

	switch req.Algorithm {
	case AlgorithmNelderMead:
		start := req.Start
		if start == nil {
			start = make([]float64, space.Len())
			for i, b := range req.Bounds {
				start[i] = (b[0] + b[1]) / 2
			}
		}
		v, err := decision.NewVectorFromFloats(space, start)
		if err != nil {
			return nil, err
		}
		step := req.StepSize
		if step == 0 {
			step = s.cfg.NelderMead.StepSize
		}
		return neldermead.New(v, step, neldermead.WithLogger(logger))
	case AlgorithmRandom:
		return random.New(space, popSize, rng, random.WithLogger(logger))
	case AlgorithmBayesian:
		return bayesian.New(space, rng,
			bayesian.WithInitialPoints(s.cfg.Bayesian.InitialPoints),
			bayesian.WithPopulationSize(popSize),
			bayesian.WithLogger(logger),
		)
	}
	return nil, optimization.NewErrorf(optimization.KindArgument, "unknown algorithm %q", req.Algorithm).
		WithComponent(component)
}

func (s *Server) lookup(id string) (*job, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, optimization.NewErrorf(optimization.KindKeyNotFound, "optimization %q not found", id).
			WithComponent(component).WithOperation("lookup")
	}
	return j, nil
}

// Status returns the current state of job id.
func (s *Server) Status(id string) (JobState, error) {
	j, err := s.lookup(id)
	if err != nil {
		return JobState{}, err
	}
	return j.snapshot(), nil
}

// Cancel stops job id. Cancelling a finished job is an InvalidState error.
func (s *Server) Cancel(id string) (JobState, error) {
	j, err := s.lookup(id)
	if err != nil {
		return JobState{}, err
	}
	if !j.requestCancel() {
		st := j.snapshot()
		return st, optimization.NewErrorf(optimization.KindInvalidState,
			"cannot cancel optimization with status: %s", st.Status).WithComponent(component)
	}
	s.logger.Info("Optimization cancelled", zap.String("optimization_id", id))
	return j.snapshot(), nil
}

// Wait blocks until job id has finished or ctx is done.
func (s *Server) Wait(ctx context.Context, id string) (JobState, error) {
	j, err := s.lookup(id)
	if err != nil {
		return JobState{}, err
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// Close cancels every running job and waits for them to stop.
func (s *Server) Close() error {
	s.jobsMu.RLock()
	for _, j := range s.jobs {
		j.requestCancel()
	}
	s.jobsMu.RUnlock()
	s.wg.Wait()
	return nil
}

type nopMetrics struct{}

func (nopMetrics) ObserveEvaluation(time.Duration, bool) {}
func (nopMetrics) ObserveReinsertion(bool, bool)         {}
func (nopMetrics) ObserveBestFitness(float64)            {}
func (nopMetrics) ObserveTermination(string)             {}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	body := map[string]string{"error": err.Error()}
	if oe, ok := optimization.IsOptimizationError(err); ok {
		if oe.Component != "" {
			body["component"] = oe.Component
		}
		if oe.Op != "" {
			body["operation"] = oe.Op
		}
	}
	writeJSON(w, apperrors.HTTPStatus(err), body)
}

// handleOptimize handles POST /api/v1/optimize.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, optimization.WrapError(err, optimization.KindArgument, "invalid request body"))
		return
	}
	st, err := s.Start(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleCancel handles DELETE /api/v1/optimization/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	st, err := s.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
