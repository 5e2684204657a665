package acquisition

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
)

func TestExpectedImprovement(t *testing.T) {
	tests := []struct {
		name          string
		bestObserved  float64
		xi            float64
		mu            float64
		sigma         float64
		expectedValue float64
	}{
		{
			name:          "no improvement",
			bestObserved:  1.0,
			xi:            0.01,
			mu:            1.5,
			sigma:         0.1,
			expectedValue: 0.0,
		},
		{
			name:          "definite improvement",
			bestObserved:  1.0,
			xi:            0.01,
			mu:            0.5,
			sigma:         0.2,
			expectedValue: 0.4905, // 0.49 plus a small PDF contribution
		},
		{
			name:          "zero sigma",
			bestObserved:  1.0,
			xi:            0.0,
			mu:            0.5,
			sigma:         0.0,
			expectedValue: 0.5,
		},
		{
			name:          "zero sigma without improvement",
			bestObserved:  1.0,
			xi:            0.0,
			mu:            2.0,
			sigma:         0.0,
			expectedValue: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ei, err := NewExpectedImprovement(tt.bestObserved, tt.xi)
			require.NoError(t, err)
			result := ei.Compute(tt.mu, tt.sigma)
			assert.InDelta(t, tt.expectedValue, result, 1e-4)
			assert.GreaterOrEqual(t, result, 0.0)
		})
	}
}

func TestExpectedImprovementUncertaintyHelps(t *testing.T) {
	ei, err := NewExpectedImprovement(1.0, 0)
	require.NoError(t, err)
	// Same mean, more spread: more chance of landing below the best.
	assert.Greater(t, ei.Compute(1.2, 1.0), ei.Compute(1.2, 0.1))
	assert.Greater(t, ei.Compute(1.2, 0.1), 0.0)
}

func TestExpectedImprovementUpdate(t *testing.T) {
	ei, err := NewExpectedImprovement(1.0, 0.01)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ei.BestObserved())

	ei.UpdateBest(0.5)
	assert.Equal(t, 0.5, ei.BestObserved())

	require.NoError(t, ei.SetXi(0.01))
	assert.Greater(t, ei.Compute(0.4, 0.1), 0.0)

	assert.ErrorIs(t, ei.SetXi(-1), optimization.ErrArgument)
	assert.ErrorIs(t, ei.SetXi(math.NaN()), optimization.ErrArgument)
}

func TestNewExpectedImprovementRejectsNegativeXi(t *testing.T) {
	_, err := NewExpectedImprovement(0, -0.1)
	assert.ErrorIs(t, err, optimization.ErrArgument)
}

func TestExpectedImprovementMaximize(t *testing.T) {
	ei, err := NewExpectedImprovement(1.0, 0, Maximize())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, ei.Compute(1.5, 0), 1e-12)
	assert.Equal(t, 0.0, ei.Compute(0.5, 0))
}

func TestExpectedImprovementGradient(t *testing.T) {
	tests := []struct {
		name         string
		bestObserved float64
		xi           float64
		mu           float64
		sigma        float64
		dmu          float64
		dsigma       float64
		maximize     bool
	}{
		{"maximize below best", 1.0, 0.01, 0.5, 0.5, 1.0, 1.0, true},
		{"minimize below best", 1.0, 0.01, 0.5, 0.2, 1.0, 0.5, false},
		{"minimize above best", 1.0, 0.0, 1.3, 0.4, -0.5, 1.0, false},
	}

	const h = 1e-6
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.maximize {
				opts = append(opts, Maximize())
			}
			ei, err := NewExpectedImprovement(tt.bestObserved, tt.xi, opts...)
			require.NoError(t, err)

			grad := ei.Gradient(tt.mu, tt.dmu, tt.sigma, tt.dsigma)
			f := func(eps float64) float64 {
				return ei.Compute(tt.mu+eps*tt.dmu, tt.sigma+eps*tt.dsigma)
			}
			numerical := (f(h) - f(-h)) / (2 * h)
			assert.InDelta(t, numerical, grad, 1e-5)
		})
	}
}
