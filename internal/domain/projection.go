package domain

import "time"

// Vertex is a binary price vector satisfying a group's compiled constraints
// exactly: one logically valid state of the world projected onto the
// tradable conditions. Vertices are produced only by the vertex oracle.
type Vertex []float64

// Clone returns an independent copy of the vertex.
func (v Vertex) Clone() Vertex {
	out := make(Vertex, len(v))
	copy(out, v)
	return out
}

// ProjectionStatus is the terminal state of one projection run.
type ProjectionStatus string

const (
	StatusConverged         ProjectionStatus = "converged"
	StatusMaxIterations     ProjectionStatus = "max_iterations"
	StatusInfeasible        ProjectionStatus = "infeasible"
	StatusNumericDivergence ProjectionStatus = "numeric_divergence"
)

// Actionable reports whether a result with this status carries a usable
// projected price vector. Infeasible and diverged runs carry diagnostics
// only; callers must treat them as "no arbitrage signal this cycle".
func (s ProjectionStatus) Actionable() bool {
	return s == StatusConverged || s == StatusMaxIterations
}

// ProjectionResult is the output of one Bregman projection run. It is
// immutable once returned and owned by the caller.
type ProjectionResult struct {
	Mu         []float64 // projected arbitrage-free price vector
	Iterations int
	Gap        float64   // final duality gap
	GapHistory []float64 // per-iteration gap trace, for diagnostics
	Status     ProjectionStatus
	ActiveSet  []Vertex // accepted vertices, indexed by accepting iteration
	// MissedIterations counts oracle calls that timed out and were skipped
	// after the single relaxed-budget retry.
	MissedIterations int
}

// ProjectionRun is the persisted record of one evaluation cycle, consumed by
// the API, the archiver, and downstream execution collaborators.
type ProjectionRun struct {
	ID         string
	GroupID    string
	Theta      []float64
	Mu         []float64
	Profit     float64
	Gap        float64
	Iterations int
	Status     ProjectionStatus
	Directions []TradeDirection
	CreatedAt  time.Time
}
