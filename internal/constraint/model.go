// Package constraint compiles logical dependency rules between binary
// conditions into a linear-inequality system over outcome indicators. The
// compiled model is the only representation of the (exponentially large)
// outcome polytope the rest of the system ever sees.
package constraint

import (
	"fmt"
	"math"
	"sort"

	"github.com/quantale/polyarb/internal/domain"
)

// LinearConstraint is one normalized row of the compiled system. Inequality
// rows read Coeffs·z >= RHS; equality rows read Coeffs·z == RHS. The binary
// box z in {0,1}^n is implicit and never emitted as rows.
type LinearConstraint struct {
	Coeffs   []float64
	RHS      float64
	Equality bool
}

// dot returns Coeffs·x.
func (c LinearConstraint) dot(x []float64) float64 {
	var s float64
	for i, a := range c.Coeffs {
		if a != 0 {
			s += a * x[i]
		}
	}
	return s
}

// Satisfied reports whether x satisfies the row within tol.
func (c LinearConstraint) Satisfied(x []float64, tol float64) bool {
	v := c.dot(x)
	if c.Equality {
		return math.Abs(v-c.RHS) <= tol
	}
	return v >= c.RHS-tol
}

// Builder accumulates dependency rules for a fixed condition count and
// compiles them into an immutable Model. Rule order never affects the
// compiled semantics; duplicate rules are idempotent.
type Builder struct {
	n            int
	implications [][2]int // [parent, child]: child true implies parent true
	exclusive    [][]int
	exhaustive   [][]int
}

// NewBuilder creates a Builder over n conditions indexed 0..n-1.
func NewBuilder(n int) *Builder {
	return &Builder{n: n}
}

// AddImplication declares "child true implies parent true", encoded as
// z_parent - z_child >= 0.
func (b *Builder) AddImplication(parent, child int) error {
	if err := b.checkIndex(parent); err != nil {
		return err
	}
	if err := b.checkIndex(child); err != nil {
		return err
	}
	if parent == child {
		return fmt.Errorf("constraint: implication %d => %d is self-referential", child, parent)
	}
	b.implications = append(b.implications, [2]int{parent, child})
	return nil
}

// AddMutualExclusivity declares that exactly one condition in set is true:
// sum z_i = 1 over the set.
func (b *Builder) AddMutualExclusivity(set []int) error {
	cleaned, err := b.checkSet(set)
	if err != nil {
		return fmt.Errorf("constraint: mutual exclusivity: %w", err)
	}
	b.exclusive = append(b.exclusive, cleaned)
	return nil
}

// AddExhaustiveness declares that at least one condition in set is true:
// sum z_i >= 1 over the set.
func (b *Builder) AddExhaustiveness(set []int) error {
	cleaned, err := b.checkSet(set)
	if err != nil {
		return fmt.Errorf("constraint: exhaustiveness: %w", err)
	}
	b.exhaustive = append(b.exhaustive, cleaned)
	return nil
}

// AddRule applies a domain rule declaration to the builder.
func (b *Builder) AddRule(r domain.DependencyRule) error {
	switch r.Type {
	case domain.RuleImplies:
		if len(r.Conditions) != 2 {
			return fmt.Errorf("constraint: implies rule needs exactly 2 conditions, got %d", len(r.Conditions))
		}
		return b.AddImplication(r.Conditions[0], r.Conditions[1])
	case domain.RuleExclusive:
		return b.AddMutualExclusivity(r.Conditions)
	case domain.RuleExhaustive:
		return b.AddExhaustiveness(r.Conditions)
	default:
		return fmt.Errorf("constraint: unknown rule type %q", r.Type)
	}
}

// Compile normalizes the accumulated rules into an immutable Model. It fails
// with domain.ErrInconsistentConstraints only on syntactic contradictions
// detectable without search: an implication pair whose two conditions also
// appear together in a mutual-exclusivity set (the set forbids co-occurrence,
// which is the negation of the implication for a true child). Deeper
// infeasibility is detected lazily by the vertex oracle.
func (b *Builder) Compile() (*Model, error) {
	exclMember := make(map[[2]int]bool)
	for _, set := range b.exclusive {
		for i := 0; i < len(set); i++ {
			for j := i + 1; j < len(set); j++ {
				a, c := set[i], set[j]
				if a > c {
					a, c = c, a
				}
				exclMember[[2]int{a, c}] = true
			}
		}
	}
	for _, imp := range b.implications {
		a, c := imp[0], imp[1]
		if a > c {
			a, c = c, a
		}
		if exclMember[[2]int{a, c}] {
			return nil, fmt.Errorf("constraint: conditions %d and %d declared both implication and mutual exclusivity: %w",
				imp[1], imp[0], domain.ErrInconsistentConstraints)
		}
	}

	rows := make([]LinearConstraint, 0, len(b.implications)+len(b.exclusive)+len(b.exhaustive))
	for _, imp := range dedupPairs(b.implications) {
		co := make([]float64, b.n)
		co[imp[0]] = 1
		co[imp[1]] = -1
		rows = append(rows, LinearConstraint{Coeffs: co, RHS: 0})
	}
	for _, set := range dedupSets(b.exclusive) {
		rows = append(rows, sumRow(b.n, set, 1, true))
	}
	for _, set := range dedupSets(b.exhaustive) {
		rows = append(rows, sumRow(b.n, set, 1, false))
	}

	return &Model{n: b.n, rows: rows}, nil
}

func sumRow(n int, set []int, rhs float64, equality bool) LinearConstraint {
	co := make([]float64, n)
	for _, i := range set {
		co[i] = 1
	}
	return LinearConstraint{Coeffs: co, RHS: rhs, Equality: equality}
}

func (b *Builder) checkIndex(i int) error {
	if i < 0 || i >= b.n {
		return fmt.Errorf("constraint: condition index %d out of range [0,%d)", i, b.n)
	}
	return nil
}

func (b *Builder) checkSet(set []int) ([]int, error) {
	if len(set) < 2 {
		return nil, fmt.Errorf("set needs at least 2 conditions, got %d", len(set))
	}
	seen := make(map[int]bool, len(set))
	cleaned := make([]int, 0, len(set))
	for _, i := range set {
		if err := b.checkIndex(i); err != nil {
			return nil, err
		}
		if seen[i] {
			return nil, fmt.Errorf("condition %d repeated in set", i)
		}
		seen[i] = true
		cleaned = append(cleaned, i)
	}
	sort.Ints(cleaned)
	return cleaned, nil
}

// dedupPairs sorts and deduplicates implication pairs so the compiled model
// is a pure function of the rule set, not of insertion order.
func dedupPairs(pairs [][2]int) [][2]int {
	out := make([][2]int, len(pairs))
	copy(out, pairs)
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	dedup := out[:0]
	for i, p := range out {
		if i > 0 && p == out[i-1] {
			continue
		}
		dedup = append(dedup, p)
	}
	return dedup
}

func dedupSets(sets [][]int) [][]int {
	keyed := make(map[string][]int, len(sets))
	keys := make([]string, 0, len(sets))
	for _, set := range sets {
		k := fmt.Sprint(set)
		if _, ok := keyed[k]; !ok {
			keyed[k] = set
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([][]int, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyed[k])
	}
	return out
}

// Model is the compiled, immutable linear system A·z >= b (with optional
// equality rows) over n binary outcome indicators. A compiled model is safe
// to share read-only across concurrent projection runs.
type Model struct {
	n    int
	rows []LinearConstraint
}

// N returns the number of conditions.
func (m *Model) N() int { return m.n }

// Rows returns the normalized constraint rows. The returned slice and its
// rows must be treated as read-only.
func (m *Model) Rows() []LinearConstraint { return m.rows }

// Feasible reports whether a real-valued vector satisfies the relaxed system
// (all rows plus the [0,1] box) within tol.
func (m *Model) Feasible(x []float64, tol float64) bool {
	if len(x) != m.n {
		return false
	}
	for _, v := range x {
		if v < -tol || v > 1+tol {
			return false
		}
	}
	for _, row := range m.rows {
		if !row.Satisfied(x, tol) {
			return false
		}
	}
	return true
}

// SatisfiedBy reports whether a binary vertex satisfies the system exactly.
func (m *Model) SatisfiedBy(v domain.Vertex) bool {
	return m.Feasible(v, 1e-9)
}
