// Package acquisition scores candidate points from a surrogate's predictive
// mean and standard deviation.
package acquisition

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
)

const component = "acquisition"

// sigmaFloor is the standard deviation below which a prediction is treated
// as certain.
const sigmaFloor = 1e-10

// Function is an acquisition function. Higher values are more promising.
type Function interface {
	Compute(mu, sigma float64) float64
	UpdateBest(best float64)
}

// Option configures an ExpectedImprovement.
type Option func(*ExpectedImprovement)

// Maximize scores improvement above the best observed value instead of
// below it.
func Maximize() Option {
	return func(ei *ExpectedImprovement) { ei.minimize = false }
}

// ExpectedImprovement implements the Expected Improvement acquisition function.
type ExpectedImprovement struct {
	bestObserved float64
	// xi trades exploitation for exploration
	xi       float64
	minimize bool
}

// NewExpectedImprovement creates an Expected Improvement function that
// minimizes unless Maximize is given.
func NewExpectedImprovement(bestObserved, xi float64, opts ...Option) (*ExpectedImprovement, error) {
	if err := validateXi(xi); err != nil {
		return nil, err
	}
	ei := &ExpectedImprovement{
		bestObserved: bestObserved,
		xi:           xi,
		minimize:     true,
	}
	for _, opt := range opts {
		opt(ei)
	}
	return ei, nil
}

func validateXi(xi float64) error {
	if xi < 0 || math.IsNaN(xi) || math.IsInf(xi, 0) {
		return optimization.NewErrorf(optimization.KindArgument, "xi must be finite and non-negative, got %v", xi).
			WithComponent(component)
	}
	return nil
}

func (ei *ExpectedImprovement) improvement(mu float64) float64 {
	if ei.minimize {
		return ei.bestObserved - mu - ei.xi
	}
	return mu - ei.bestObserved - ei.xi
}

// Compute returns the expected improvement of a point whose prediction has
// mean mu and standard deviation sigma:
//
//	EI = I*Phi(I/sigma) + sigma*phi(I/sigma)
//
// With sigma at or near zero it is max(I, 0).
func (ei *ExpectedImprovement) Compute(mu, sigma float64) float64 {
	imp := ei.improvement(mu)
	if sigma <= sigmaFloor {
		return math.Max(imp, 0)
	}
	z := imp / sigma
	v := imp*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
	return math.Max(v, 0)
}

// Gradient is the directional derivative of Compute given the derivatives
// dmu and dsigma of the prediction.
func (ei *ExpectedImprovement) Gradient(mu, dmu float64, sigma, dsigma float64) float64 {
	sign := 1.0
	if ei.minimize {
		sign = -1
	}
	imp := ei.improvement(mu)
	if sigma <= sigmaFloor {
		if imp <= 0 {
			return 0
		}
		return sign * dmu
	}
	z := imp / sigma
	return sign*distuv.UnitNormal.CDF(z)*dmu + distuv.UnitNormal.Prob(z)*dsigma
}

// UpdateBest updates the best observed value.
func (ei *ExpectedImprovement) UpdateBest(best float64) {
	ei.bestObserved = best
}

// SetXi sets the exploration-exploitation trade-off parameter.
func (ei *ExpectedImprovement) SetXi(xi float64) error {
	if err := validateXi(xi); err != nil {
		return err
	}
	ei.xi = xi
	return nil
}

func (ei *ExpectedImprovement) BestObserved() float64 {
	return ei.bestObserved
}
