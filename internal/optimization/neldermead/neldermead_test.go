package neldermead

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/core"
	"github.com/copyleftdev/EVOLVR/internal/optimization/decision"
	"github.com/copyleftdev/EVOLVR/internal/optimization/individual"
	"github.com/copyleftdev/EVOLVR/internal/optimization/optimtest"
	"github.com/copyleftdev/EVOLVR/internal/optimization/runtime"
)

// initialised builds a strategy around start with step 1 and reinserts the
// initial vertices with the given fitness values, in hand-out order.
func initialised(t *testing.T, start []float64, fitness ...float64) (*Strategy, *core.Optimizer) {
	t.Helper()
	s, err := New(optimtest.Vector(t, -10, 10, start...), 1)
	require.NoError(t, err)
	opt := core.New(s)

	inds, err := opt.NextToEvaluate(len(fitness) + 3)
	require.NoError(t, err)
	require.Len(t, inds, len(fitness), "only the initial vertices are handed out")
	for i, ind := range inds {
		optimtest.Evaluate(t, ind, fitness[i])
	}
	n, err := opt.ReInsert(inds)
	require.NoError(t, err)
	require.Equal(t, len(fitness), n)
	require.True(t, s.IsInitialised())
	return s, opt
}

// next hands out the single outstanding vertex and reinserts it with fitness f.
func next(t *testing.T, opt *core.Optimizer, f float64) *individual.Individual {
	t.Helper()
	inds, err := opt.NextToEvaluate(1)
	require.NoError(t, err)
	require.Len(t, inds, 1)
	optimtest.Evaluate(t, inds[0], f)
	_, err = opt.ReInsert(inds)
	require.NoError(t, err)
	return inds[0]
}

var fourD = []float64{0, 0, 0, 0}

func TestReflectAcceptance(t *testing.T) {
	s, opt := initialised(t, fourD, 3.0, 2.9, 2.8, 2.7, 2.6)
	worst, err := s.Simplex().Worst()
	require.NoError(t, err)
	assert.Equal(t, 3.0, worst.Fitness())

	reflected := next(t, opt, 2.6+0.01)
	optimtest.AssertFloat64SlicesEqual(t, reflected.Vector().Floats(), []float64{0.5, 0.5, 0.5, 0.5}, 1e-12)

	assert.Equal(t, "rR", s.LastStep())
	assert.Equal(t, Reflect, s.State())
	optimtest.AssertFloat64SlicesEqual(t, s.Simplex().FitnessValues(), []float64{2.6, 2.61, 2.7, 2.8, 2.9}, 1e-12)
	for _, m := range s.Simplex().Members() {
		assert.NotSame(t, worst, m, "worst vertex replaced")
	}
}

func TestExpansionChain(t *testing.T) {
	s, opt := initialised(t, fourD, 3.0, 2.9, 2.8, 2.7, 2.6)

	reflected := next(t, opt, 2.6-0.1)
	assert.Equal(t, Expand, s.State())
	assert.Empty(t, s.LastStep())

	expanded := next(t, opt, 2.6-0.05)
	optimtest.AssertFloat64SlicesEqual(t, expanded.Vector().Floats(), []float64{0.75, 0.75, 0.75, 0.75}, 1e-12)
	assert.Equal(t, "reR", s.LastStep())
	assert.Equal(t, Reflect, s.State())

	best, err := s.Simplex().Best()
	require.NoError(t, err)
	assert.Same(t, reflected, best, "the reflection, not the expansion, is kept")
	optimtest.AssertFloat64SlicesEqual(t, s.Simplex().FitnessValues(), []float64{2.5, 2.6, 2.7, 2.8, 2.9}, 1e-12)
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name      string
		fitness   []float64 // reinserted in order after initialisation
		wantLast  string
		wantState Operation
		wantPoint []float64 // last proposed vertex
	}{
		{"reflection tied with best is accepted", []float64{2.6}, "rR", Reflect, []float64{0.5, 0.5, 0.5, 0.5}},
		{"expansion accepted", []float64{2.5, 2.4}, "reE", Reflect, []float64{0.75, 0.75, 0.75, 0.75}},
		{"expansion tied with reflection loses", []float64{2.5, 2.5}, "reR", Reflect, []float64{0.75, 0.75, 0.75, 0.75}},
		{"reflection tied with next-to-worst contracts outside", []float64{2.9}, "", ContractOut, []float64{0.5, 0.5, 0.5, 0.5}},
		{"outside contraction accepted", []float64{2.95, 2.93}, "rcC", Reflect, []float64{0.375, 0.375, 0.375, 0.375}},
		{"outside contraction tied with reflection accepted", []float64{2.95, 2.95}, "rcC", Reflect, []float64{0.375, 0.375, 0.375, 0.375}},
		{"outside contraction rejected", []float64{2.95, 2.96}, "", Shrink, []float64{0.375, 0.375, 0.375, 0.375}},
		{"shrink after outside contraction", []float64{2.95, 2.96, 5}, "rcsS", Reflect, []float64{0, 0, 0, 0.5}},
		{"reflection tied with worst contracts inside", []float64{3.0}, "", ContractIn, []float64{0.5, 0.5, 0.5, 0.5}},
		{"inside contraction accepted", []float64{3.5, 2.99}, "rkK", Reflect, []float64{0.125, 0.125, 0.125, 0.125}},
		{"inside contraction tied with worst rejected", []float64{3.5, 3.0}, "", Shrink, []float64{0.125, 0.125, 0.125, 0.125}},
		{"shrink after inside contraction", []float64{3.5, 3.0, 2.0}, "rksS", Reflect, []float64{0, 0, 0, 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, opt := initialised(t, fourD, 3.0, 2.9, 2.8, 2.7, 2.6)
			var last *individual.Individual
			for _, f := range tt.fitness {
				last = next(t, opt, f)
			}
			assert.Equal(t, tt.wantLast, s.LastStep())
			assert.Equal(t, tt.wantState, s.State())
			optimtest.AssertFloat64SlicesEqual(t, last.Vector().Floats(), tt.wantPoint, 1e-12)
			assert.Equal(t, 5, s.Simplex().Len())
		})
	}
}

// With two vertices next-to-worst is the best vertex, so a reflection tied
// with the best is contracted rather than accepted. This is the documented
// behaviour and is kept as is.
func TestOneDimensionalTieBoundary(t *testing.T) {
	s, opt := initialised(t, []float64{0}, 2.0, 1.0)

	ntw, err := s.Simplex().NextToWorst()
	require.NoError(t, err)
	best, err := s.Simplex().Best()
	require.NoError(t, err)
	require.Same(t, best, ntw)

	reflected := next(t, opt, 1.0)
	optimtest.AssertFloat64SlicesEqual(t, reflected.Vector().Floats(), []float64{2}, 1e-12)
	assert.Equal(t, ContractOut, s.State())

	contracted := next(t, opt, 1.0)
	optimtest.AssertFloat64SlicesEqual(t, contracted.Vector().Floats(), []float64{1.5}, 1e-12)
	assert.Equal(t, "rcC", s.LastStep())
}

func TestMisorderedReinsertionIsFatal(t *testing.T) {
	s, opt := initialised(t, fourD, 3.0, 2.9, 2.8, 2.7, 2.6)

	stray := optimtest.Evaluate(t, individual.New(optimtest.Vector(t, -10, 10, 1, 1, 1, 1)), 0)
	_, err := opt.ReInsert([]*individual.Individual{stray})
	assert.ErrorIs(t, err, optimization.ErrOutOfRange, "nothing outstanding")

	inds, err := opt.NextToEvaluate(1)
	require.NoError(t, err)
	require.Len(t, inds, 1)

	stray = optimtest.Evaluate(t, individual.New(optimtest.Vector(t, -10, 10, 1, 1, 1, 1)), 0)
	_, err = opt.ReInsert([]*individual.Individual{stray})
	assert.ErrorIs(t, err, optimization.ErrOutOfRange, "not the outstanding vertex")
	assert.Equal(t, Reflect, s.State())
}

func TestUnexpectedInitialVertexIsSoft(t *testing.T) {
	s, err := New(optimtest.Vector(t, -10, 10, 0, 0), 1)
	require.NoError(t, err)
	opt := core.New(s)

	inds, err := opt.NextToEvaluate(3)
	require.NoError(t, err)
	require.Len(t, inds, 3)

	stray := optimtest.Evaluate(t, individual.New(optimtest.Vector(t, -10, 10, 5, 5)), 1)
	n, err := opt.ReInsert([]*individual.Individual{stray})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, stray.ReinsertionError(), optimization.ErrArgument)
	assert.False(t, s.IsInitialised())

	for i, ind := range inds {
		optimtest.Evaluate(t, ind, float64(i))
	}
	n, err = opt.ReInsert(inds)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, s.IsInitialised())
}

func TestPendingWhileVerticesOutstanding(t *testing.T) {
	s, err := New(optimtest.Vector(t, -10, 10, 0, 0), 1)
	require.NoError(t, err)
	opt := core.New(s)

	first, err := opt.NextToEvaluate(2)
	require.NoError(t, err)
	assert.Len(t, first, 2)
	rest, err := opt.NextToEvaluate(5)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
	none, err := opt.NextToEvaluate(1)
	require.NoError(t, err)
	assert.Empty(t, none)

	all := append(first, rest...)
	for i, ind := range all {
		optimtest.Evaluate(t, ind, float64(i))
	}
	_, err = opt.ReInsert(all)
	require.NoError(t, err)

	proposed, err := opt.NextToEvaluate(3)
	require.NoError(t, err)
	assert.Len(t, proposed, 1, "one vertex outstanding at a time")
	none, err = opt.NextToEvaluate(1)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOutOfBoundsOperationTerminates(t *testing.T) {
	s, err := New(optimtest.Vector(t, 0, 1, 0.5), 0.25)
	require.NoError(t, err)
	opt := core.New(s)

	inds, err := opt.NextToEvaluate(2)
	require.NoError(t, err)
	optimtest.Evaluate(t, inds[0], 2)
	optimtest.Evaluate(t, inds[1], 1)
	_, err = opt.ReInsert(inds)
	require.NoError(t, err)

	// Reflecting 0.5 through 0.75 lands on the exclusive upper bound.
	out, err := opt.NextToEvaluate(1)
	assert.ErrorIs(t, err, core.ErrTerminated)
	assert.Empty(t, out)
}

func TestInitialSimplex(t *testing.T) {
	start := optimtest.Vector(t, -1, 1, 0.2, 0.9)
	vertices, err := InitialSimplex(start, 0.5)
	require.NoError(t, err)
	require.Len(t, vertices, 3)
	assert.Same(t, start, vertices[0])
	optimtest.AssertFloat64SlicesEqual(t, vertices[1].Floats(), []float64{0.7, 0.9}, 1e-12)
	optimtest.AssertFloat64SlicesEqual(t, vertices[2].Floats(), []float64{0.2, 0.4}, 1e-12)

	_, err = InitialSimplex(start, 0)
	assert.ErrorIs(t, err, optimization.ErrArgument)
	_, err = InitialSimplex(decision.Empty, 1)
	assert.ErrorIs(t, err, optimization.ErrArgument)
	_, err = InitialSimplex(optimtest.Vector(t, -1, 1, 0), 5)
	assert.ErrorIs(t, err, optimization.ErrOutOfRange)

	discrete, err := decision.NewUniformDiscreteSpace(2, 0, 10)
	require.NoError(t, err)
	dv, err := decision.NewVectorFromFloats(discrete, []float64{1, 2})
	require.NoError(t, err)
	_, err = InitialSimplex(dv, 1)
	assert.ErrorIs(t, err, optimization.ErrArgument)
}

func TestSimplexGeometry(t *testing.T) {
	simplex, err := NewSimplex(2)
	require.NoError(t, err)
	_, err = simplex.Centroid()
	assert.ErrorIs(t, err, optimization.ErrInvalidState)
	_, err = simplex.NextToWorst()
	assert.ErrorIs(t, err, optimization.ErrInvalidState)

	require.NoError(t, simplex.Add(optimtest.Assessed(t, optimtest.Vector(t, -5, 5, 0, 0), 1)))
	require.NoError(t, simplex.Add(optimtest.Assessed(t, optimtest.Vector(t, -5, 5, 2, 0), 2)))
	require.NoError(t, simplex.Add(optimtest.Assessed(t, optimtest.Vector(t, -5, 5, 4, 4), 3)))

	c, err := simplex.Centroid()
	require.NoError(t, err)
	optimtest.AssertFloat64SlicesEqual(t, c, []float64{1, 0}, 1e-12)
	ntw, err := simplex.NextToWorst()
	require.NoError(t, err)
	assert.Equal(t, 2.0, ntw.Fitness())
	assert.True(t, simplex.IsTargetSizeReached())

	_, err = NewSimplex(0)
	assert.ErrorIs(t, err, optimization.ErrOutOfRange)
}

func TestInvalidCoefficients(t *testing.T) {
	bad := DefaultCoefficients()
	bad.Expansion = 0.5
	_, err := New(optimtest.Vector(t, -1, 1, 0), 0.1, WithCoefficients(bad))
	assert.ErrorIs(t, err, optimization.ErrArgument)
}

func TestMinimisesSphere(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		name := "basic"
		if parallel {
			name = "parallel"
		}
		t.Run(name, func(t *testing.T) {
			s, err := New(optimtest.Vector(t, -10, 10, 1.5, -2), 0.5)
			require.NoError(t, err)
			opt := core.New(s)

			cfg := runtime.DefaultConfig()
			cfg.TimeoutEvaluations = 400
			cfg.StartCount = 4

			var runner runtime.Runner
			if parallel {
				runner, err = runtime.NewParallelRunner(opt, core.ObjectiveEvaluator(optimtest.Sphere), cfg,
					runtime.WithConvergence(core.FitnessRangeConvergence(1e-10)))
			} else {
				runner, err = runtime.NewBasicRunner(opt, core.ObjectiveEvaluator(optimtest.Sphere), cfg,
					runtime.WithConvergence(core.FitnessRangeConvergence(1e-10)))
			}
			require.NoError(t, err)

			res, err := runner.Run(context.Background())
			require.NoError(t, err)
			assert.Contains(t, []runtime.TerminationReason{runtime.ReasonMaxEvaluations, runtime.ReasonConverged}, res.Reason)
			require.NotNil(t, res.Best)
			assert.Less(t, res.Best.Fitness(), 1e-2)
			assert.NotEmpty(t, s.LastStep())
		})
	}
}
