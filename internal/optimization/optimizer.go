package optimization

// ObjectiveFunction defines the function to be minimised
type ObjectiveFunction func([]float64) (float64, error)

// Solution is a plain summary of an evaluated point, detached from the
// individual it came from.
type Solution struct {
	Parameters []float64 `json:"parameters"`
	Value      float64   `json:"value"`
	Legal      bool      `json:"legal"`
}
