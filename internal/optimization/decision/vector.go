package decision

import (
	"math"
	"strings"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
)

const componentVector = "decision_vector"

// Vector is an immutable point in a Space. Construction is the single point
// of validation: every Vector that exists is legal in its space.
type Vector struct {
	space  *Space
	values []Value
}

// Empty is the zero-length vector. Strategies return it to signal that they
// have nothing further to propose.
var Empty = &Vector{space: &Space{}}

// NewVector validates values against space and builds a vector.
func NewVector(space *Space, values ...Value) (*Vector, error) {
	if space == nil {
		return nil, optimization.NewError(optimization.KindArgument, "decision space is nil").
			WithComponent(componentVector).WithOperation("NewVector")
	}
	if len(values) != space.Len() {
		return nil, optimization.NewErrorf(optimization.KindOutOfRange,
			"vector has %d elements but the space has %d dimensions", len(values), space.Len()).
			WithComponent(componentVector).WithOperation("NewVector")
	}
	for i, v := range values {
		ok, err := space.vars[i].IsInBounds(v)
		if err != nil {
			return nil, optimization.WrapError(err, optimization.KindOutOfRange,
				"element "+space.vars[i].Name()+" rejected").
				WithComponent(componentVector).WithOperation("NewVector")
		}
		if !ok {
			return nil, optimization.NewErrorf(optimization.KindOutOfRange,
				"element %d (%s = %v) is outside %v", i, space.vars[i].Name(), v, space.vars[i]).
				WithComponent(componentVector).WithOperation("NewVector")
		}
	}
	return &Vector{space: space, values: append([]Value(nil), values...)}, nil
}

// NewVectorFromFloats converts each float to its variable's kind and builds
// a vector. A non-integral float for a discrete dimension is an argument error.
func NewVectorFromFloats(space *Space, fs []float64) (*Vector, error) {
	if space == nil {
		return nil, optimization.NewError(optimization.KindArgument, "decision space is nil").
			WithComponent(componentVector).WithOperation("NewVectorFromFloats")
	}
	if len(fs) != space.Len() {
		return nil, optimization.NewErrorf(optimization.KindOutOfRange,
			"vector has %d elements but the space has %d dimensions", len(fs), space.Len()).
			WithComponent(componentVector).WithOperation("NewVectorFromFloats")
	}
	values := make([]Value, len(fs))
	for i, f := range fs {
		if space.vars[i].Kind() == Discrete {
			if !isIntegral(f) {
				return nil, optimization.NewErrorf(optimization.KindArgument,
					"element %d (%v) is not an integer", i, f).
					WithComponent(componentVector).WithOperation("NewVectorFromFloats")
			}
			if f < math.MinInt64 || f >= -math.MinInt64 {
				return nil, optimization.NewErrorf(optimization.KindOutOfRange,
					"element %d (%v) does not fit in an int64", i, f).
					WithComponent(componentVector).WithOperation("NewVectorFromFloats")
			}
			values[i] = DiscreteValue(int64(f))
			continue
		}
		values[i] = ContinuousValue(f)
	}
	return NewVector(space, values...)
}

// Space returns the space the vector belongs to.
func (v *Vector) Space() *Space { return v.space }

// Len is the number of elements.
func (v *Vector) Len() int {
	if v == nil {
		return 0
	}
	return len(v.values)
}

// IsEmpty reports whether v is nil or has no elements.
func (v *Vector) IsEmpty() bool { return v.Len() == 0 }

// At returns the i-th element.
func (v *Vector) At(i int) Value { return v.values[i] }

// Values returns a copy of the elements.
func (v *Vector) Values() []Value {
	return append([]Value(nil), v.values...)
}

// Floats returns every element as a float64.
func (v *Vector) Floats() []float64 {
	out := make([]float64, len(v.values))
	for i, x := range v.values {
		out[i] = x.Float()
	}
	return out
}

// ContinuousElements returns the continuous elements, in order.
func (v *Vector) ContinuousElements() []float64 {
	var out []float64
	for _, x := range v.values {
		if x.Kind() == Continuous {
			out = append(out, x.f)
		}
	}
	return out
}

// DiscreteElements returns the discrete elements, in order.
func (v *Vector) DiscreteElements() []int64 {
	var out []int64
	for _, x := range v.values {
		if x.Kind() == Discrete {
			out = append(out, x.i)
		}
	}
	return out
}

func (v *Vector) sameSpace(op string, o *Vector) error {
	if o == nil || !v.space.Equal(o.space) {
		return optimization.NewError(optimization.KindArgument, "vectors belong to different decision spaces").
			WithComponent(componentVector).WithOperation(op)
	}
	return nil
}

// Sub returns the element-wise difference v - o.
func (v *Vector) Sub(o *Vector) ([]float64, error) {
	if err := v.sameSpace("Sub", o); err != nil {
		return nil, err
	}
	out := make([]float64, len(v.values))
	for i := range v.values {
		out[i] = v.values[i].Float() - o.values[i].Float()
	}
	return out, nil
}

// Add returns the element-wise sum v + o.
func (v *Vector) Add(o *Vector) ([]float64, error) {
	if err := v.sameSpace("Add", o); err != nil {
		return nil, err
	}
	out := make([]float64, len(v.values))
	for i := range v.values {
		out[i] = v.values[i].Float() + o.values[i].Float()
	}
	return out, nil
}

// Shift builds a new vector in the same space displaced by delta.
func (v *Vector) Shift(delta []float64) (*Vector, error) {
	if len(delta) != len(v.values) {
		return nil, optimization.NewErrorf(optimization.KindArgument,
			"delta has %d elements, vector has %d", len(delta), len(v.values)).
			WithComponent(componentVector).WithOperation("Shift")
	}
	fs := v.Floats()
	for i := range fs {
		fs[i] += delta[i]
	}
	return NewVectorFromFloats(v.space, fs)
}

// Equal reports whether both vectors live in equal spaces and hold equal elements.
func (v *Vector) Equal(o *Vector) bool {
	if v == o {
		return true
	}
	if v.Len() != o.Len() {
		return false
	}
	if v.IsEmpty() {
		return true
	}
	if !v.space.Equal(o.space) {
		return false
	}
	for i := range v.values {
		if !v.values[i].Equal(o.values[i]) {
			return false
		}
	}
	return true
}

func (v *Vector) String() string {
	if v.IsEmpty() {
		return "[]"
	}
	parts := make([]string, len(v.values))
	for i, x := range v.values {
		parts[i] = v.space.vars[i].Format(x)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
