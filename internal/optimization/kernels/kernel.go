// Package kernels provides covariance functions for Gaussian process surrogates.
package kernels

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
)

// Kernel represents a kernel function for Gaussian Processes
type Kernel interface {
	// Eval computes the kernel value between two points x1 and x2
	Eval(x1, x2 []float64) float64

	// Hyperparameters returns the current hyperparameters
	Hyperparameters() []float64

	// SetHyperparameters sets the kernel's hyperparameters
	SetHyperparameters(params []float64) error
}

// params holds the length scale and signal variance shared by the
// stationary kernels below.
type params struct {
	// Length scale parameter (larger = smoother function)
	lengthScale float64
	// Signal variance (controls the amplitude of the function)
	signalVar float64
}

func newParams(kernel string, lengthScale, signalVar float64) (params, error) {
	p := params{}
	if err := p.set(kernel, []float64{lengthScale, signalVar}); err != nil {
		return params{}, err
	}
	return p, nil
}

func (p *params) set(kernel string, hp []float64) error {
	if len(hp) != 2 {
		return optimization.NewErrorf(optimization.KindArgument, "expected 2 hyperparameters, got %d", len(hp)).
			WithComponent(kernel)
	}
	if !(hp[0] > 0) || !(hp[1] > 0) || math.IsInf(hp[0], 0) || math.IsInf(hp[1], 0) {
		return optimization.NewErrorf(optimization.KindArgument, "hyperparameters must be positive and finite, got %v", hp).
			WithComponent(kernel)
	}
	p.lengthScale, p.signalVar = hp[0], hp[1]
	return nil
}

// Hyperparameters returns the length scale and signal variance
func (p *params) Hyperparameters() []float64 {
	return []float64{p.lengthScale, p.signalVar}
}

// RBFKernel implements the Radial Basis Function (squared exponential) kernel
type RBFKernel struct{ params }

// NewRBFKernel creates a new RBF kernel with the given parameters
func NewRBFKernel(lengthScale, signalVar float64) (*RBFKernel, error) {
	p, err := newParams("rbf_kernel", lengthScale, signalVar)
	if err != nil {
		return nil, err
	}
	return &RBFKernel{p}, nil
}

// Eval computes the RBF kernel value between x1 and x2
func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	d := floats.Distance(x1, x2, 2)
	r2 := d * d / (2.0 * k.lengthScale * k.lengthScale)
	return k.signalVar * math.Exp(-r2)
}

// SetHyperparameters sets the kernel's hyperparameters
func (k *RBFKernel) SetHyperparameters(hp []float64) error { return k.set("rbf_kernel", hp) }

// Matern52Kernel implements the Matérn 5/2 kernel
type Matern52Kernel struct{ params }

// NewMatern52Kernel creates a new Matérn 5/2 kernel with the given parameters
func NewMatern52Kernel(lengthScale, signalVar float64) (*Matern52Kernel, error) {
	p, err := newParams("matern52_kernel", lengthScale, signalVar)
	if err != nil {
		return nil, err
	}
	return &Matern52Kernel{p}, nil
}

// Eval computes the Matérn 5/2 kernel value between x1 and x2
func (k *Matern52Kernel) Eval(x1, x2 []float64) float64 {
	r := floats.Distance(x1, x2, 2) / k.lengthScale
	polyTerm := 1.0 + math.Sqrt(5)*r + (5.0/3.0)*r*r
	expTerm := math.Exp(-math.Sqrt(5) * r)
	return k.signalVar * polyTerm * expTerm
}

// SetHyperparameters sets the kernel's hyperparameters
func (k *Matern52Kernel) SetHyperparameters(hp []float64) error {
	return k.set("matern52_kernel", hp)
}

// Gram returns the symmetric matrix K[i][j] = k(X[i], X[j]) with noise
// added to the diagonal.
func Gram(k Kernel, X [][]float64, noise float64) *mat.SymDense {
	n := len(X)
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := k.Eval(X[i], X[j])
			if i == j {
				v += noise
			}
			K.SetSym(i, j, v)
		}
	}
	return K
}

// Cross returns the vector k(X[i], x) for every training point.
func Cross(k Kernel, X [][]float64, x []float64) *mat.VecDense {
	out := mat.NewVecDense(len(X), nil)
	for i, xi := range X {
		out.SetVec(i, k.Eval(xi, x))
	}
	return out
}
