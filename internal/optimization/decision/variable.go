package decision

import (
	"fmt"
	"math"
	"math/bits"
	"math/rand"
	"strconv"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
)

const componentVariable = "decision_variable"

// Variable describes a single dimension of a decision space: the legal
// domain of its values and the range new random values are drawn from.
type Variable interface {
	// Name identifies the dimension.
	Name() string
	// Kind is the numeric domain of the values this variable accepts.
	Kind() Kind
	// IsInBounds reports whether v is legal. A value of the wrong kind or a
	// NaN is an argument error, not a false result.
	IsInBounds(v Value) (bool, error)
	// NearestLegal projects v onto the legal domain.
	NearestLegal(v Value) (Value, error)
	// AddOrWrap adds delta to v, wrapping around the legal domain when the
	// result falls outside it.
	AddOrWrap(v, delta Value) (Value, error)
	// NextRandom draws a value uniformly from the generation bounds.
	NextRandom(rng *rand.Rand) Value
	// SpacedArray returns n evenly spaced legal values, lowest first.
	SpacedArray(n int) ([]Value, error)
	// Format renders v for display.
	Format(v Value) string
	// Equal reports whether other describes the same dimension.
	Equal(other Variable) bool
}

// ContinuousVariable is a real-valued dimension with half-open legal bounds [Lower, Upper).
type ContinuousVariable struct {
	name          string
	lower, upper  float64
	genLow, genUp float64
}

var _ Variable = (*ContinuousVariable)(nil)

// NewContinuous creates a real-valued variable on [lower, upper). Random
// values are drawn from the same range unless WithGenerationBounds is applied.
func NewContinuous(name string, lower, upper float64) (*ContinuousVariable, error) {
	if math.IsNaN(lower) || math.IsNaN(upper) || !(lower < upper) {
		return nil, optimization.NewErrorf(optimization.KindArgument,
			"lower bound %v must be strictly less than upper bound %v", lower, upper).
			WithComponent(componentVariable).WithOperation("NewContinuous")
	}
	return &ContinuousVariable{name: name, lower: lower, upper: upper, genLow: lower, genUp: upper}, nil
}

// WithGenerationBounds returns a copy of the variable that draws random values from [lower, upper).
// The generation range may be wider or narrower than the legal range.
func (c *ContinuousVariable) WithGenerationBounds(lower, upper float64) (*ContinuousVariable, error) {
	if math.IsNaN(lower) || math.IsNaN(upper) || !(lower < upper) {
		return nil, optimization.NewErrorf(optimization.KindArgument,
			"generation lower bound %v must be strictly less than %v", lower, upper).
			WithComponent(componentVariable).WithOperation("WithGenerationBounds")
	}
	cp := *c
	cp.genLow, cp.genUp = lower, upper
	return &cp, nil
}

func (c *ContinuousVariable) Name() string { return c.name }

func (c *ContinuousVariable) Kind() Kind { return Continuous }

// Lower is the inclusive lower legal bound.
func (c *ContinuousVariable) Lower() float64 { return c.lower }

// Upper is the exclusive upper legal bound.
func (c *ContinuousVariable) Upper() float64 { return c.upper }

func (c *ContinuousVariable) check(op string, v Value) error {
	if v.Kind() != Continuous {
		return optimization.NewErrorf(optimization.KindArgument,
			"variable %q expects a continuous value, got %s %v", c.name, v.Kind(), v).
			WithComponent(componentVariable).WithOperation(op)
	}
	if math.IsNaN(v.f) {
		return optimization.NewErrorf(optimization.KindArgument, "variable %q cannot hold NaN", c.name).
			WithComponent(componentVariable).WithOperation(op)
	}
	return nil
}

func (c *ContinuousVariable) IsInBounds(v Value) (bool, error) {
	if err := c.check("IsInBounds", v); err != nil {
		return false, err
	}
	return v.f >= c.lower && v.f < c.upper, nil
}

func (c *ContinuousVariable) NearestLegal(v Value) (Value, error) {
	if err := c.check("NearestLegal", v); err != nil {
		return Value{}, err
	}
	switch {
	case v.f >= c.upper:
		return ContinuousValue(math.Nextafter(c.upper, math.Inf(-1))), nil
	case v.f < c.lower:
		return ContinuousValue(c.lower), nil
	default:
		return v, nil
	}
}

func (c *ContinuousVariable) AddOrWrap(v, delta Value) (Value, error) {
	if err := c.check("AddOrWrap", v); err != nil {
		return Value{}, err
	}
	if err := c.check("AddOrWrap", delta); err != nil {
		return Value{}, err
	}
	x := v.f + delta.f
	if x >= c.lower && x < c.upper {
		return ContinuousValue(x), nil
	}
	span := c.upper - c.lower
	offset := math.Mod(x-c.lower, span)
	if offset < 0 {
		offset += span
	}
	return ContinuousValue(c.lower + offset), nil
}

func (c *ContinuousVariable) NextRandom(rng *rand.Rand) Value {
	return ContinuousValue(c.genLow + rng.Float64()*(c.genUp-c.genLow))
}

func (c *ContinuousVariable) SpacedArray(n int) ([]Value, error) {
	if n < 1 {
		return nil, optimization.NewErrorf(optimization.KindArgument, "spaced array needs at least one element, got %d", n).
			WithComponent(componentVariable).WithOperation("SpacedArray")
	}
	step := (c.upper - c.lower) / float64(n)
	out := make([]Value, n)
	for i := range out {
		out[i] = ContinuousValue(c.lower + float64(i)*step)
	}
	return out, nil
}

func (c *ContinuousVariable) Format(v Value) string {
	return strconv.FormatFloat(v.Float(), 'f', -1, 64)
}

func (c *ContinuousVariable) Equal(other Variable) bool {
	o, ok := other.(*ContinuousVariable)
	if !ok {
		return false
	}
	return *c == *o
}

func (c *ContinuousVariable) String() string {
	return fmt.Sprintf("%s ∈ [%v, %v)", c.name, c.lower, c.upper)
}

// DiscreteVariable is an integer-valued dimension with closed legal bounds [Lower, Upper].
type DiscreteVariable struct {
	name          string
	lower, upper  int64
	genLow, genUp int64
}

var _ Variable = (*DiscreteVariable)(nil)

// NewDiscrete creates an integer variable on [lower, upper].
func NewDiscrete(name string, lower, upper int64) (*DiscreteVariable, error) {
	if lower > upper {
		return nil, optimization.NewErrorf(optimization.KindArgument,
			"lower bound %d must not exceed upper bound %d", lower, upper).
			WithComponent(componentVariable).WithOperation("NewDiscrete")
	}
	return &DiscreteVariable{name: name, lower: lower, upper: upper, genLow: lower, genUp: upper}, nil
}

// WithGenerationBounds returns a copy of the variable that draws random values from [lower, upper].
func (d *DiscreteVariable) WithGenerationBounds(lower, upper int64) (*DiscreteVariable, error) {
	if lower > upper {
		return nil, optimization.NewErrorf(optimization.KindArgument,
			"generation lower bound %d must not exceed %d", lower, upper).
			WithComponent(componentVariable).WithOperation("WithGenerationBounds")
	}
	cp := *d
	cp.genLow, cp.genUp = lower, upper
	return &cp, nil
}

func (d *DiscreteVariable) Name() string { return d.name }

func (d *DiscreteVariable) Kind() Kind { return Discrete }

// Lower is the inclusive lower legal bound.
func (d *DiscreteVariable) Lower() int64 { return d.lower }

// Upper is the inclusive upper legal bound.
func (d *DiscreteVariable) Upper() int64 { return d.upper }

func (d *DiscreteVariable) check(op string, v Value) error {
	if v.Kind() != Discrete {
		return optimization.NewErrorf(optimization.KindArgument,
			"variable %q expects a discrete value, got %s %v", d.name, v.Kind(), v).
			WithComponent(componentVariable).WithOperation(op)
	}
	return nil
}

func (d *DiscreteVariable) IsInBounds(v Value) (bool, error) {
	if err := d.check("IsInBounds", v); err != nil {
		return false, err
	}
	return v.i >= d.lower && v.i <= d.upper, nil
}

func (d *DiscreteVariable) NearestLegal(v Value) (Value, error) {
	if err := d.check("NearestLegal", v); err != nil {
		return Value{}, err
	}
	switch {
	case v.i > d.upper:
		return DiscreteValue(d.upper), nil
	case v.i < d.lower:
		return DiscreteValue(d.lower), nil
	default:
		return v, nil
	}
}

// AddOrWrap adds delta to v, wrapping around the closed bounds. The
// arithmetic is exact for any int64 operands.
func (d *DiscreteVariable) AddOrWrap(v, delta Value) (Value, error) {
	if err := d.check("AddOrWrap", v); err != nil {
		return Value{}, err
	}
	if err := d.check("AddOrWrap", delta); err != nil {
		return Value{}, err
	}
	n := span(d.lower, d.upper)
	if n == 0 {
		// The variable covers every int64, so wrapping is two's complement.
		return DiscreteValue(v.i + delta.i), nil
	}
	offset := subMod(addMod(modSpan(v.i, n), modSpan(delta.i, n), n), modSpan(d.lower, n), n)
	return DiscreteValue(int64(uint64(d.lower) + offset)), nil
}

// NextRandom draws uniformly from the generation bounds.
func (d *DiscreteVariable) NextRandom(rng *rand.Rand) Value {
	n := span(d.genLow, d.genUp)
	switch {
	case n == 0:
		return DiscreteValue(int64(rng.Uint64()))
	case n <= math.MaxInt64:
		return DiscreteValue(int64(uint64(d.genLow) + uint64(rng.Int63n(int64(n)))))
	}
	// More than half of all uint64 values are accepted.
	for {
		if r := rng.Uint64(); r < n {
			return DiscreteValue(int64(uint64(d.genLow) + r))
		}
	}
}

// span is the number of integers in [lower, upper]. Zero means 2^64.
func span(lower, upper int64) uint64 {
	return uint64(upper) - uint64(lower) + 1
}

// modSpan returns x mod n in [0, n) for a non-zero n.
func modSpan(x int64, n uint64) uint64 {
	if x >= 0 {
		return uint64(x) % n
	}
	// -(x+1) cannot overflow, even for math.MinInt64.
	return n - 1 - uint64(-(x+1))%n
}

// addMod returns (a + b) mod n for a, b < n.
func addMod(a, b, n uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 || sum >= n {
		sum -= n
	}
	return sum
}

// subMod returns (a - b) mod n for a, b < n.
func subMod(a, b, n uint64) uint64 {
	if b == 0 {
		return a
	}
	return addMod(a, n-b, n)
}

func (d *DiscreteVariable) SpacedArray(n int) ([]Value, error) {
	if n < 1 {
		return nil, optimization.NewErrorf(optimization.KindArgument, "spaced array needs at least one element, got %d", n).
			WithComponent(componentVariable).WithOperation("SpacedArray")
	}
	out := make([]Value, n)
	if n == 1 {
		out[0] = DiscreteValue(d.lower)
		return out, nil
	}
	step := (float64(d.upper) - float64(d.lower)) / float64(n-1)
	for i := range out {
		out[i] = DiscreteValue(d.clamp(float64(d.lower) + math.Round(float64(i)*step)))
	}
	out[n-1] = DiscreteValue(d.upper)
	return out, nil
}

// clamp converts f to the nearest legal integer.
func (d *DiscreteVariable) clamp(f float64) int64 {
	switch {
	case f <= float64(d.lower):
		return d.lower
	case f >= float64(d.upper):
		return d.upper
	}
	return int64(f)
}

func (d *DiscreteVariable) Format(v Value) string {
	return strconv.FormatInt(v.Int(), 10)
}

func (d *DiscreteVariable) Equal(other Variable) bool {
	o, ok := other.(*DiscreteVariable)
	if !ok {
		return false
	}
	return *d == *o
}

func (d *DiscreteVariable) String() string {
	return fmt.Sprintf("%s ∈ [%d, %d]", d.name, d.lower, d.upper)
}
