package bayesian

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/kernels"
)

const componentGP = "gaussian_process"

// Jitter added to the kernel diagonal when the Cholesky factorisation fails,
// growing tenfold per attempt.
const (
	initialJitter = 1e-10
	maxJitter     = 1e-4
)

// GP is a Gaussian Process regression model with a constant mean equal to
// the training mean. Targets are standardised before fitting.
type GP struct {
	kernel   kernels.Kernel
	noiseVar float64

	X      [][]float64
	alpha  *mat.VecDense
	chol   mat.Cholesky
	yMean  float64
	yScale float64
	jitter float64

	logger *zap.Logger
}

// NewGP creates an unfitted model.
func NewGP(kernel kernels.Kernel, noiseVar float64, logger *zap.Logger) (*GP, error) {
	if kernel == nil {
		return nil, optimization.NewError(optimization.KindArgument, "kernel is nil").
			WithComponent(componentGP).WithOperation("NewGP")
	}
	if noiseVar < 0 || math.IsNaN(noiseVar) || math.IsInf(noiseVar, 0) {
		return nil, optimization.NewErrorf(optimization.KindArgument, "noise variance must be finite and non-negative, got %v", noiseVar).
			WithComponent(componentGP).WithOperation("NewGP")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GP{kernel: kernel, noiseVar: noiseVar, logger: logger.Named(componentGP)}, nil
}

// Fitted reports whether Fit has succeeded at least once.
func (gp *GP) Fitted() bool { return gp.alpha != nil }

// Fit conditions the model on X and y.
func (gp *GP) Fit(X [][]float64, y []float64) error {
	const op = "Fit"
	n := len(X)
	if n == 0 {
		return optimization.NewError(optimization.KindArgument, "no training points").
			WithComponent(componentGP).WithOperation(op)
	}
	if n != len(y) {
		return optimization.NewErrorf(optimization.KindArgument,
			"dimension mismatch: X has %d samples but y has length %d", n, len(y)).
			WithComponent(componentGP).WithOperation(op)
	}
	d := len(X[0])
	for i, x := range X {
		if len(x) != d || d == 0 {
			return optimization.NewErrorf(optimization.KindArgument, "sample %d has %d features, want %d", i, len(x), d).
				WithComponent(componentGP).WithOperation(op)
		}
	}

	mean, std := stat.MeanStdDev(y, nil)
	if n < 2 || std == 0 || math.IsNaN(std) {
		std = 1
	}
	z := make([]float64, n)
	for i, v := range y {
		z[i] = (v - mean) / std
	}

	K := kernels.Gram(gp.kernel, X, gp.noiseVar)
	jitter := 0.0
	for !gp.chol.Factorize(K) {
		if jitter == 0 {
			jitter = initialJitter
		} else {
			jitter *= 10
		}
		if jitter > maxJitter {
			return optimization.NewError(optimization.KindInvalidState,
				"kernel matrix is not positive definite").
				WithComponent(componentGP).WithOperation(op)
		}
		for i := 0; i < n; i++ {
			K.SetSym(i, i, K.At(i, i)+jitter)
		}
	}
	if jitter > 0 {
		gp.logger.Debug("Added jitter to kernel diagonal", zap.Float64("jitter", jitter), zap.Int("samples", n))
	}

	alpha := mat.NewVecDense(n, nil)
	if err := gp.chol.SolveVecTo(alpha, mat.NewVecDense(n, z)); err != nil {
		return optimization.WrapError(err, optimization.KindInvalidState, "solving for weights").
			WithComponent(componentGP).WithOperation(op)
	}

	gp.X = X
	gp.alpha = alpha
	gp.yMean, gp.yScale = mean, std
	gp.jitter = jitter
	return nil
}

// Predict returns the posterior mean and variance of the latent function at x.
func (gp *GP) Predict(x []float64) (mu, variance float64, err error) {
	if !gp.Fitted() {
		return 0, 0, optimization.NewError(optimization.KindInvalidState, "model not fitted").
			WithComponent(componentGP).WithOperation("Predict")
	}
	if len(x) != len(gp.X[0]) {
		return 0, 0, optimization.NewErrorf(optimization.KindArgument, "point has %d features, want %d", len(x), len(gp.X[0])).
			WithComponent(componentGP).WithOperation("Predict")
	}

	kx := kernels.Cross(gp.kernel, gp.X, x)
	mu = mat.Dot(kx, gp.alpha)

	v := mat.NewVecDense(len(gp.X), nil)
	if err := gp.chol.SolveVecTo(v, kx); err != nil {
		return 0, 0, optimization.WrapError(err, optimization.KindInvalidState, "solving for variance").
			WithComponent(componentGP).WithOperation("Predict")
	}
	variance = math.Max(0, gp.kernel.Eval(x, x)-mat.Dot(kx, v))

	return gp.yMean + gp.yScale*mu, gp.yScale * gp.yScale * variance, nil
}
