// Package population implements the fitness-sorted working set an optimizer draws conclusions from.
package population

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/individual"
)

const component = "population"

// Population is an ordered collection of fitness-assessed individuals kept
// sorted by ascending fitness, best first.
//
// A Population is not safe for concurrent use. The parallel runtime
// confines mutation to its single reinsertion goroutine and hands out clones.
type Population struct {
	members        []*individual.Individual
	targetSize     int
	constantLength bool
}

// New creates an empty population. When constantLength is set every member
// must have a decision vector as long as the first member's.
func New(targetSize int, constantLength bool) (*Population, error) {
	if targetSize < 1 {
		return nil, optimization.NewErrorf(optimization.KindOutOfRange, "target size must be positive, got %d", targetSize).
			WithComponent(component).WithOperation("New")
	}
	return &Population{
		members:        make([]*individual.Individual, 0, targetSize),
		targetSize:     targetSize,
		constantLength: constantLength,
	}, nil
}

// TargetSize is the intended number of members.
func (p *Population) TargetSize() int { return p.targetSize }

// ConstantLengthDecisionVector reports whether vector lengths are enforced.
func (p *Population) ConstantLengthDecisionVector() bool { return p.constantLength }

// Len is the current number of members.
func (p *Population) Len() int { return len(p.members) }

// IsTargetSizeReached reports whether the population holds at least TargetSize members.
func (p *Population) IsTargetSizeReached() bool { return len(p.members) >= p.targetSize }

// At returns the member at index i; 0 is the best.
func (p *Population) At(i int) *individual.Individual { return p.members[i] }

// Members returns the members in fitness order. The slice is a copy; the
// individuals are not.
func (p *Population) Members() []*individual.Individual {
	return append([]*individual.Individual(nil), p.members...)
}

// FitnessValues returns the members' fitness in ascending order.
func (p *Population) FitnessValues() []float64 {
	out := make([]float64, len(p.members))
	for i, m := range p.members {
		out[i] = m.Fitness()
	}
	return out
}

func (p *Population) validate(op string, ind *individual.Individual) error {
	if ind == nil {
		return optimization.NewError(optimization.KindArgument, "individual is nil").
			WithComponent(component).WithOperation(op)
	}
	if ind.State() != individual.FitnessAssessed {
		return optimization.NewErrorf(optimization.KindArgument,
			"only fitness-assessed individuals may join, got %s", ind.State()).
			WithComponent(component).WithOperation(op)
	}
	if p.constantLength && len(p.members) > 0 && p.members[0].Vector().Len() != ind.Vector().Len() {
		return optimization.NewErrorf(optimization.KindArgument,
			"decision vector length %d differs from population length %d",
			ind.Vector().Len(), p.members[0].Vector().Len()).
			WithComponent(component).WithOperation(op)
	}
	return nil
}

func (p *Population) insert(ind *individual.Individual) {
	p.members = append(p.members, ind)
	sort.SliceStable(p.members, func(a, b int) bool {
		return p.members[a].Fitness() < p.members[b].Fitness()
	})
}

func (p *Population) removeAt(i int) {
	copy(p.members[i:], p.members[i+1:])
	p.members[len(p.members)-1] = nil
	p.members = p.members[:len(p.members)-1]
}

// Add validates and inserts ind, keeping fitness order.
func (p *Population) Add(ind *individual.Individual) error {
	if err := p.validate("Add", ind); err != nil {
		return err
	}
	p.insert(ind)
	return nil
}

// ReplaceWorst swaps the worst member for ind.
func (p *Population) ReplaceWorst(ind *individual.Individual) error {
	if len(p.members) == 0 {
		return p.emptyError("ReplaceWorst")
	}
	return p.ReplaceAt(len(p.members)-1, ind)
}

// ReplaceAt swaps the member at index i for ind.
func (p *Population) ReplaceAt(i int, ind *individual.Individual) error {
	if i < 0 || i >= len(p.members) {
		return optimization.NewErrorf(optimization.KindOutOfRange, "index %d outside [0, %d)", i, len(p.members)).
			WithComponent(component).WithOperation("ReplaceAt")
	}
	if err := p.validate("ReplaceAt", ind); err != nil {
		return err
	}
	p.removeAt(i)
	p.insert(ind)
	return nil
}

// Replace swaps the member old (matched by identity) for ind.
func (p *Population) Replace(old, ind *individual.Individual) error {
	for i, m := range p.members {
		if m == old {
			return p.ReplaceAt(i, ind)
		}
	}
	return optimization.NewError(optimization.KindArgument, "individual to replace is not a member").
		WithComponent(component).WithOperation("Replace")
}

// Clear removes every member.
func (p *Population) Clear() {
	for i := range p.members {
		p.members[i] = nil
	}
	p.members = p.members[:0]
}

func (p *Population) emptyError(op string) error {
	return optimization.NewError(optimization.KindInvalidState, "population is empty").
		WithComponent(component).WithOperation(op)
}

// Best returns the member with the lowest fitness.
func (p *Population) Best() (*individual.Individual, error) {
	if len(p.members) == 0 {
		return nil, p.emptyError("Best")
	}
	return p.members[0], nil
}

// Worst returns the member with the highest fitness.
func (p *Population) Worst() (*individual.Individual, error) {
	if len(p.members) == 0 {
		return nil, p.emptyError("Worst")
	}
	return p.members[len(p.members)-1], nil
}

// FitnessRange is worst minus best fitness.
func (p *Population) FitnessRange() (float64, error) {
	if len(p.members) == 0 {
		return 0, p.emptyError("FitnessRange")
	}
	return p.members[len(p.members)-1].Fitness() - p.members[0].Fitness(), nil
}

// FitnessAverage is the mean member fitness.
func (p *Population) FitnessAverage() (float64, error) {
	if len(p.members) == 0 {
		return 0, p.emptyError("FitnessAverage")
	}
	return stat.Mean(p.FitnessValues(), nil), nil
}

// DecisionVectorRangeByFitness is the element-wise difference between the
// worst and the best member's decision vectors.
func (p *Population) DecisionVectorRangeByFitness() ([]float64, error) {
	if len(p.members) == 0 {
		return nil, p.emptyError("DecisionVectorRangeByFitness")
	}
	best, worst := p.members[0], p.members[len(p.members)-1]
	diff, err := worst.Vector().Sub(best.Vector())
	if err != nil {
		return nil, optimization.WrapError(err, optimization.KindArgument, "best and worst are not comparable").
			WithComponent(component).WithOperation("DecisionVectorRangeByFitness")
	}
	return diff, nil
}

// Clone copies the population and every member. Clones are safe to read
// while the original keeps changing.
func (p *Population) Clone() *Population {
	cp := &Population{
		members:        make([]*individual.Individual, len(p.members), cap(p.members)),
		targetSize:     p.targetSize,
		constantLength: p.constantLength,
	}
	for i, m := range p.members {
		cp.members[i] = m.Clone()
	}
	return cp
}
