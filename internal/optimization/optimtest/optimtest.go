// Package optimtest provides fixtures shared by the optimisation package tests.
package optimtest

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/decision"
	"github.com/copyleftdev/EVOLVR/internal/optimization/individual"
)

// FitnessProperty is the property Evaluated stores fitness under.
const FitnessProperty = "fitness"

// Sphere is a simple quadratic objective with its minimum at the origin
func Sphere(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

// NoisySphere adds uniform noise of the given scale to Sphere
func NoisySphere(rng *rand.Rand, noiseScale float64) optimization.ObjectiveFunction {
	return func(x []float64) (float64, error) {
		val, _ := Sphere(x)
		return val + noiseScale*(rng.Float64()-0.5), nil
	}
}

// Vector builds a vector in an n-dimensional continuous space on [lower, upper)
func Vector(t testing.TB, lower, upper float64, xs ...float64) *decision.Vector {
	t.Helper()
	s, err := decision.NewUniformContinuousSpace(len(xs), lower, upper)
	if err != nil {
		t.Fatalf("building space: %v", err)
	}
	v, err := decision.NewVectorFromFloats(s, xs)
	if err != nil {
		t.Fatalf("building vector: %v", err)
	}
	return v
}

// Evaluate moves a New individual to Evaluated with fitness as its only
// solution element.
func Evaluate(t testing.TB, ind *individual.Individual, fitness float64) *individual.Individual {
	t.Helper()
	if err := ind.SendForEvaluation(); err != nil {
		t.Fatalf("sending for evaluation: %v", err)
	}
	ind.SetProperty(FitnessProperty, fitness)
	if err := ind.SetSolution(FitnessProperty); err != nil {
		t.Fatalf("setting solution: %v", err)
	}
	return ind
}

// Assessed returns a new fitness-assessed individual wrapping v.
func Assessed(t testing.TB, v *decision.Vector, fitness float64) *individual.Individual {
	t.Helper()
	ind := Evaluate(t, individual.New(v), fitness)
	if err := ind.SetFitness(fitness); err != nil {
		t.Fatalf("setting fitness: %v", err)
	}
	return ind
}

// AssertFloat64SlicesEqual checks if two float64 slices are approximately equal
func AssertFloat64SlicesEqual(t testing.TB, got, want []float64, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}

// AssertMatEqual checks if two matrices are approximately equal
func AssertMatEqual(t testing.TB, got, want mat.Matrix, tol float64) {
	t.Helper()

	rg, cg := got.Dims()
	rw, cw := want.Dims()
	if rg != rw || cg != cw {
		t.Fatalf("matrix dimensions mismatch: got %dx%d, want %dx%d", rg, cg, rw, cw)
	}

	for i := 0; i < rg; i++ {
		for j := 0; j < cg; j++ {
			g := got.At(i, j)
			w := want.At(i, j)
			if math.Abs(g-w) > tol {
				t.Fatalf("at (%d,%d): got %v, want %v (tolerance %v)", i, j, g, w, tol)
			}
		}
	}
}
