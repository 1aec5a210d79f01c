// Package oracle solves the vertex subproblem of the projection loop: given a
// linear objective and a compiled constraint model, return the binary outcome
// vector extremizing the objective. The outcome space is never enumerated;
// the solver is a deterministic branch-and-bound over the condition indices.
package oracle

import (
	"context"

	"github.com/quantale/polyarb/internal/constraint"
	"github.com/quantale/polyarb/internal/domain"
)

// Sense selects the optimization direction.
type Sense int

const (
	Minimize Sense = iota
	Maximize
)

// Oracle returns the vertex of the constraint set extremizing a linear
// objective. Implementations must be deterministic: identical inputs return
// identical vertices, with ties broken by the lexicographically smallest
// vertex in index order.
type Oracle interface {
	Solve(ctx context.Context, objective []float64, m *constraint.Model, sense Sense) (domain.Vertex, error)
}
