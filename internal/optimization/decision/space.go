package decision

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
)

const componentSpace = "decision_space"

// Space is an ordered, immutable list of variables.
type Space struct {
	vars []Variable
}

// NewSpace builds a space from the given dimensions, in order.
func NewSpace(vars ...Variable) (*Space, error) {
	for i, v := range vars {
		if v == nil {
			return nil, optimization.NewErrorf(optimization.KindArgument, "variable %d is nil", i).
				WithComponent(componentSpace).WithOperation("NewSpace")
		}
	}
	return &Space{vars: append([]Variable(nil), vars...)}, nil
}

// NewUniformContinuousSpace builds an n-dimensional space where every
// dimension is continuous on [lower, upper).
func NewUniformContinuousSpace(n int, lower, upper float64) (*Space, error) {
	vars := make([]Variable, n)
	for i := range vars {
		v, err := NewContinuous(fmt.Sprintf("x%d", i), lower, upper)
		if err != nil {
			return nil, err
		}
		vars[i] = v
	}
	return NewSpace(vars...)
}

// NewUniformDiscreteSpace builds an n-dimensional space where every
// dimension is discrete on [lower, upper].
func NewUniformDiscreteSpace(n int, lower, upper int64) (*Space, error) {
	vars := make([]Variable, n)
	for i := range vars {
		v, err := NewDiscrete(fmt.Sprintf("x%d", i), lower, upper)
		if err != nil {
			return nil, err
		}
		vars[i] = v
	}
	return NewSpace(vars...)
}

// Len is the number of dimensions.
func (s *Space) Len() int {
	if s == nil {
		return 0
	}
	return len(s.vars)
}

// At returns the i-th variable.
func (s *Space) At(i int) Variable { return s.vars[i] }

// Variables returns a copy of the dimension list.
func (s *Space) Variables() []Variable {
	return append([]Variable(nil), s.vars...)
}

// Equal compares spaces element-wise.
func (s *Space) Equal(o *Space) bool {
	if s == o {
		return true
	}
	if s.Len() != o.Len() {
		return false
	}
	if s.Len() == 0 {
		return true
	}
	for i := range s.vars {
		if !s.vars[i].Equal(o.vars[i]) {
			return false
		}
	}
	return true
}

// IsAcceptable reports whether values would form a legal vector in this
// space. Kind mismatches are treated as unacceptable rather than returned.
func (s *Space) IsAcceptable(values []Value) bool {
	if len(values) != s.Len() {
		return false
	}
	for i, v := range values {
		ok, err := s.vars[i].IsInBounds(v)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// NearestLegal projects every element onto its variable's legal domain.
func (s *Space) NearestLegal(values []Value) ([]Value, error) {
	if len(values) != s.Len() {
		return nil, optimization.NewErrorf(optimization.KindArgument,
			"expected %d values, got %d", s.Len(), len(values)).
			WithComponent(componentSpace).WithOperation("NearestLegal")
	}
	out := make([]Value, len(values))
	for i, v := range values {
		legal, err := s.vars[i].NearestLegal(v)
		if err != nil {
			return nil, err
		}
		out[i] = legal
	}
	return out, nil
}

// RandomVector draws each element from its variable's generation bounds
// and projects it onto the legal domain.
func (s *Space) RandomVector(rng *rand.Rand) (*Vector, error) {
	values := make([]Value, s.Len())
	for i, v := range s.vars {
		values[i] = v.NextRandom(rng)
	}
	legal, err := s.NearestLegal(values)
	if err != nil {
		return nil, err
	}
	return NewVector(s, legal...)
}

// AllContinuous reports whether every dimension is continuous.
func (s *Space) AllContinuous() bool {
	for _, v := range s.vars {
		if v.Kind() != Continuous {
			return false
		}
	}
	return true
}

func (s *Space) String() string {
	parts := make([]string, len(s.vars))
	for i, v := range s.vars {
		parts[i] = fmt.Sprint(v)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
