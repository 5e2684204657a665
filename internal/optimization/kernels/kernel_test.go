package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/optimtest"
)

func TestRBFKernel(t *testing.T) {
	tests := []struct {
		name     string
		x1       []float64
		x2       []float64
		ls       float64
		sv       float64
		expected float64
	}{
		{
			name:     "same point",
			x1:       []float64{1.0, 2.0},
			x2:       []float64{1.0, 2.0},
			ls:       1.0,
			sv:       1.0,
			expected: 1.0,
		},
		{
			name:     "different points",
			x1:       []float64{0.0, 0.0},
			x2:       []float64{1.0, 1.0},
			ls:       1.0,
			sv:       1.0,
			expected: math.Exp(-1.0), // exp(-0.5 * (1+1) / 1^2)
		},
		{
			name:     "with different length scale",
			x1:       []float64{0.0, 0.0},
			x2:       []float64{2.0, 2.0},
			ls:       2.0,
			sv:       1.0,
			expected: math.Exp(-1.0), // exp(-0.5 * (2^2 + 2^2) / 2^2)
		},
		{
			name:     "signal variance scales",
			x1:       []float64{0.5},
			x2:       []float64{0.5},
			ls:       0.3,
			sv:       4.0,
			expected: 4.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kernel, err := NewRBFKernel(tt.ls, tt.sv)
			require.NoError(t, err)
			result := kernel.Eval(tt.x1, tt.x2)
			assert.InDelta(t, tt.expected, result, 1e-10)
			assert.InDelta(t, result, kernel.Eval(tt.x2, tt.x1), 1e-10, "kernel is not symmetric")
		})
	}
}

func TestMatern52Kernel(t *testing.T) {
	tests := []struct {
		name           string
		lengthScale    float64
		signalVariance float64
		x1, x2         []float64
		expected       float64
	}{
		{
			name:           "same point",
			lengthScale:    1.0,
			signalVariance: 1.0,
			x1:             []float64{1.0, 2.0},
			x2:             []float64{1.0, 2.0},
			expected:       1.0,
		},
		{
			name:           "different points",
			lengthScale:    1.0,
			signalVariance: 1.0,
			x1:             []float64{0.0, 0.0},
			x2:             []float64{1.0, 1.0},
			expected:       (1.0 + math.Sqrt(5)*math.Sqrt(2) + (5.0/3.0)*2) * math.Exp(-math.Sqrt(5)*math.Sqrt(2)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kernel, err := NewMatern52Kernel(tt.lengthScale, tt.signalVariance)
			require.NoError(t, err)
			result := kernel.Eval(tt.x1, tt.x2)
			assert.InDelta(t, tt.expected, result, 1e-10)
			assert.InDelta(t, result, kernel.Eval(tt.x2, tt.x1), 1e-10, "kernel is not symmetric")
		})
	}
}

func TestConstructorsRejectInvalidParameters(t *testing.T) {
	_, err := NewRBFKernel(0, 1)
	assert.ErrorIs(t, err, optimization.ErrArgument)
	_, err = NewRBFKernel(1, -1)
	assert.ErrorIs(t, err, optimization.ErrArgument)
	_, err = NewMatern52Kernel(math.NaN(), 1)
	assert.ErrorIs(t, err, optimization.ErrArgument)
	_, err = NewMatern52Kernel(1, math.Inf(1))
	assert.ErrorIs(t, err, optimization.ErrArgument)
}

func TestKernelHyperparameters(t *testing.T) {
	rbf := func() Kernel { k, _ := NewRBFKernel(1.0, 1.0); return k }
	matern := func() Kernel { k, _ := NewMatern52Kernel(1.0, 1.0); return k }

	tests := []struct {
		name    string
		kernel  Kernel
		params  []float64
		wantErr bool
	}{
		{"RBF valid params", rbf(), []float64{2.0, 3.0}, false},
		{"RBF invalid params count", rbf(), []float64{1.0}, true},
		{"RBF invalid param value", rbf(), []float64{-1.0, 1.0}, true},
		{"Matern52 valid params", matern(), []float64{2.0, 3.0}, false},
		{"Matern52 zero variance", matern(), []float64{2.0, 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.kernel.Hyperparameters()
			err := tt.kernel.SetHyperparameters(tt.params)
			if tt.wantErr {
				assert.ErrorIs(t, err, optimization.ErrArgument)
				assert.Equal(t, before, tt.kernel.Hyperparameters(), "failed update leaves parameters unchanged")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.params, tt.kernel.Hyperparameters())
		})
	}
}

func TestGramAndCross(t *testing.T) {
	k, err := NewRBFKernel(1.0, 2.0)
	require.NoError(t, err)
	X := [][]float64{{0, 0}, {1, 0}, {0, 2}}

	// Squared distances are 1, 4 and 5.
	e1, e4, e5 := 2*math.Exp(-0.5), 2*math.Exp(-2), 2*math.Exp(-2.5)
	want := mat.NewSymDense(3, []float64{
		2.1, e1, e4,
		e1, 2.1, e5,
		e4, e5, 2.1,
	})
	optimtest.AssertMatEqual(t, Gram(k, X, 0.1), want, 1e-12)

	kx := Cross(k, X, []float64{0, 0})
	assert.Equal(t, 3, kx.Len())
	assert.InDelta(t, 2.0, kx.AtVec(0), 1e-12)
	assert.InDelta(t, 2*math.Exp(-2), kx.AtVec(2), 1e-12)
}
