package random

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/core"
	"github.com/copyleftdev/EVOLVR/internal/optimization/decision"
	"github.com/copyleftdev/EVOLVR/internal/optimization/individual"
	"github.com/copyleftdev/EVOLVR/internal/optimization/optimtest"
	"github.com/copyleftdev/EVOLVR/internal/optimization/population"
	"github.com/copyleftdev/EVOLVR/internal/optimization/runtime"
)

func TestSteadyStateReplacement(t *testing.T) {
	space, err := decision.NewUniformContinuousSpace(2, -1, 1)
	require.NoError(t, err)
	s, err := New(space, 3, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	opt := core.New(s)

	reinsert := func(f float64) int {
		inds, err := opt.NextToEvaluate(1)
		require.NoError(t, err)
		optimtest.Evaluate(t, inds[0], f)
		n, err := opt.ReInsert(inds)
		require.NoError(t, err)
		return n
	}

	assert.Equal(t, 1, reinsert(5))
	assert.Equal(t, 1, reinsert(9))
	assert.Equal(t, 1, reinsert(7))
	assert.Equal(t, []float64{5, 7, 9}, s.Population().FitnessValues())

	assert.Equal(t, 0, reinsert(9), "ties with the worst are discarded")
	assert.Equal(t, 0, reinsert(12))
	assert.Equal(t, 1, reinsert(1))
	assert.Equal(t, []float64{1, 5, 7}, s.Population().FitnessValues())
}

func TestAssessorFailuresAreSoft(t *testing.T) {
	space, err := decision.NewUniformContinuousSpace(1, -1, 1)
	require.NoError(t, err)
	s, err := New(space, 2, rand.New(rand.NewSource(1)), WithFitnessAssessor(
		func(*individual.Individual, *population.Population) error {
			return optimization.NewError(optimization.KindArgument, "no fitness")
		}))
	require.NoError(t, err)
	opt := core.New(s)

	inds, err := opt.NextToEvaluate(2)
	require.NoError(t, err)
	for _, ind := range inds {
		optimtest.Evaluate(t, ind, 1)
	}
	n, err := opt.ReInsert(inds)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	for _, ind := range inds {
		assert.ErrorIs(t, ind.ReinsertionError(), optimization.ErrArgument)
	}
}

func TestRejectsEmptySpace(t *testing.T) {
	space, err := decision.NewSpace()
	require.NoError(t, err)
	_, err = New(space, 2, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, optimization.ErrArgument)
}

func TestImprovesOnSphere(t *testing.T) {
	space, err := decision.NewUniformContinuousSpace(2, -5, 5)
	require.NoError(t, err)
	s, err := New(space, 5, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	cfg := runtime.DefaultConfig()
	cfg.TimeoutEvaluations = 300
	runner, err := runtime.NewBasicRunner(core.New(s), core.ObjectiveEvaluator(optimtest.Sphere), cfg,
		runtime.WithModel(s.Model()))
	require.NoError(t, err)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runtime.ReasonMaxEvaluations, res.Reason)
	assert.Equal(t, 5, s.Population().Len())
	assert.Less(t, res.Best.Fitness(), 2.0)
}
