// Package decision defines decision spaces and the immutable decision vectors that live in them.
package decision

import (
	"math"
	"strconv"
)

// Kind is the numeric domain of a decision variable.
type Kind int

const (
	// Continuous values are real numbers.
	Continuous Kind = iota
	// Discrete values are integers.
	Discrete
)

func (k Kind) String() string {
	if k == Discrete {
		return "discrete"
	}
	return "continuous"
}

// Value is a single decision vector element, either continuous or discrete.
type Value struct {
	kind Kind
	f    float64
	i    int64
}

// ContinuousValue wraps a real value.
func ContinuousValue(f float64) Value {
	return Value{kind: Continuous, f: f}
}

// DiscreteValue wraps an integer value.
func DiscreteValue(i int64) Value {
	return Value{kind: Discrete, i: i}
}

// Kind reports which domain the value belongs to.
func (v Value) Kind() Kind { return v.kind }

// Float returns the value as a float64, converting discrete values.
func (v Value) Float() float64 {
	if v.kind == Discrete {
		return float64(v.i)
	}
	return v.f
}

// Int returns the integer payload of a discrete value, or the truncated
// real payload of a continuous one.
func (v Value) Int() int64 {
	if v.kind == Discrete {
		return v.i
	}
	return int64(v.f)
}

// Equal compares kind and payload. NaN is never equal to anything.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind == Discrete {
		return v.i == o.i
	}
	return v.f == o.f
}

func (v Value) String() string {
	if v.kind == Discrete {
		return strconv.FormatInt(v.i, 10)
	}
	return strconv.FormatFloat(v.f, 'g', -1, 64)
}

// isIntegral reports whether f can be represented as a discrete value without loss.
func isIntegral(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f)
}
