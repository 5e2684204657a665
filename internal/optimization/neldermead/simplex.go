package neldermead

import (
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/decision"
	"github.com/copyleftdev/EVOLVR/internal/optimization/individual"
	"github.com/copyleftdev/EVOLVR/internal/optimization/population"
)

// Simplex is a population of dimensions+1 vertices.
type Simplex struct {
	*population.Population
	dims int
}

// NewSimplex creates an empty simplex for a space of the given dimension.
func NewSimplex(dims int) (*Simplex, error) {
	if dims < 1 {
		return nil, optimization.NewErrorf(optimization.KindOutOfRange, "simplex needs at least one dimension, got %d", dims).
			WithComponent(component).WithOperation("NewSimplex")
	}
	pop, err := population.New(dims+1, true)
	if err != nil {
		return nil, err
	}
	return &Simplex{Population: pop, dims: dims}, nil
}

// Dimensions is the dimension of the search space.
func (s *Simplex) Dimensions() int { return s.dims }

// NextToWorst returns the second highest fitness vertex. With two vertices
// this is also the best.
func (s *Simplex) NextToWorst() (*individual.Individual, error) {
	if s.Len() < 2 {
		return nil, optimization.NewErrorf(optimization.KindInvalidState, "simplex has %d vertices", s.Len()).
			WithComponent(component).WithOperation("NextToWorst")
	}
	return s.At(s.Len() - 2), nil
}

// Centroid is the mean of every vertex except the worst.
func (s *Simplex) Centroid() ([]float64, error) {
	if s.Len() < 2 {
		return nil, optimization.NewErrorf(optimization.KindInvalidState, "simplex has %d vertices", s.Len()).
			WithComponent(component).WithOperation("Centroid")
	}
	c := make([]float64, s.dims)
	n := s.Len() - 1
	for i := 0; i < n; i++ {
		floats.Add(c, s.At(i).Vector().Floats())
	}
	floats.Scale(1/float64(n), c)
	return c, nil
}

// InitialSimplex returns start followed by one vertex per dimension, each
// offset from start by step along that axis. An offset that leaves the
// space is tried in the opposite direction.
func InitialSimplex(start *decision.Vector, step float64) ([]*decision.Vector, error) {
	if start == nil || start.IsEmpty() {
		return nil, optimization.NewError(optimization.KindArgument, "start vector is empty").
			WithComponent(component).WithOperation("InitialSimplex")
	}
	if step == 0 {
		return nil, optimization.NewError(optimization.KindArgument, "step size must be non-zero").
			WithComponent(component).WithOperation("InitialSimplex")
	}
	if !start.Space().AllContinuous() {
		return nil, optimization.NewError(optimization.KindArgument, "simplex requires a continuous space").
			WithComponent(component).WithOperation("InitialSimplex")
	}

	dims := start.Len()
	vertices := make([]*decision.Vector, 0, dims+1)
	vertices = append(vertices, start)
	for i := 0; i < dims; i++ {
		delta := make([]float64, dims)
		delta[i] = step
		v, err := start.Shift(delta)
		if err != nil {
			delta[i] = -step
			if v, err = start.Shift(delta); err != nil {
				return nil, optimization.WrapError(err, optimization.KindOutOfRange,
					"step leaves the space in both directions").
					WithComponent(component).WithOperation("InitialSimplex")
			}
		}
		vertices = append(vertices, v)
	}
	return vertices, nil
}
