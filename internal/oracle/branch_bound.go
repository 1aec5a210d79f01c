package oracle

import (
	"context"
	"fmt"
	"math"

	"github.com/quantale/polyarb/internal/constraint"
	"github.com/quantale/polyarb/internal/domain"
)

const (
	// ctxCheckInterval is the node count between context-deadline checks.
	ctxCheckInterval = 256

	feasTol = 1e-9
)

// BranchBound is a deterministic 0/1 branch-and-bound solver. Variables are
// branched in index order with value 0 explored before 1, so vertices are
// visited in lexicographic order and the first optimum found is the
// lexicographically smallest one.
type BranchBound struct{}

// NewBranchBound creates a BranchBound solver.
func NewBranchBound() *BranchBound {
	return &BranchBound{}
}

// Solve returns the vertex extremizing objective·z subject to the compiled
// rows and z in {0,1}^n. It returns domain.ErrInfeasibleConstraints when no
// vertex satisfies the rows and domain.ErrOracleTimeout when the context
// deadline expires before the search completes; it never returns an
// approximate vertex.
func (bb *BranchBound) Solve(ctx context.Context, objective []float64, m *constraint.Model, sense Sense) (domain.Vertex, error) {
	n := m.N()
	if len(objective) != n {
		return nil, fmt.Errorf("oracle: objective length %d does not match model size %d", len(objective), n)
	}

	obj := make([]float64, n)
	copy(obj, objective)
	if sense == Maximize {
		for i := range obj {
			obj[i] = -obj[i]
		}
	}

	s := newSearch(ctx, obj, m)
	if err := s.run(); err != nil {
		return nil, err
	}
	if !s.found {
		return nil, fmt.Errorf("oracle: no vertex satisfies the compiled constraints: %w", domain.ErrInfeasibleConstraints)
	}
	return s.best, nil
}

// rowState tracks one constraint row incrementally during the search.
type rowState struct {
	coeffs []float64
	rhs    float64
	eq     bool

	sum    float64 // contribution of assigned variables
	maxRem float64 // largest achievable contribution of unassigned variables
	minRem float64 // smallest achievable contribution of unassigned variables
}

// violatedPartial reports whether the row can no longer be satisfied by any
// completion of the current partial assignment.
func (r *rowState) violatedPartial() bool {
	if r.sum+r.maxRem < r.rhs-feasTol {
		return true
	}
	if r.eq && r.sum+r.minRem > r.rhs+feasTol {
		return true
	}
	return false
}

type search struct {
	ctx     context.Context
	obj     []float64
	rows    []*rowState
	byVar   [][]*rowState // rows touching each variable
	cur     domain.Vertex
	partial float64 // objective value of assigned variables

	best     domain.Vertex
	bestCost float64
	found    bool

	nodes int
}

func newSearch(ctx context.Context, obj []float64, m *constraint.Model) *search {
	n := len(obj)
	mrows := m.Rows()
	rows := make([]*rowState, len(mrows))
	byVar := make([][]*rowState, n)
	for i, row := range mrows {
		rs := &rowState{coeffs: row.Coeffs, rhs: row.RHS, eq: row.Equality}
		for j, c := range row.Coeffs {
			if c == 0 {
				continue
			}
			if c > 0 {
				rs.maxRem += c
			} else {
				rs.minRem += c
			}
			byVar[j] = append(byVar[j], rs)
		}
		rows[i] = rs
	}
	return &search{
		ctx:   ctx,
		obj:   obj,
		rows:  rows,
		byVar: byVar,
		cur:   make(domain.Vertex, n),
	}
}

func (s *search) run() error {
	// Checked once up front so a context that is already dead returns
	// before any node is expanded; mid-search expiry is caught by the
	// interval check in dfs.
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("oracle: solve aborted before search: %w", domain.ErrOracleTimeout)
	}
	return s.dfs(0)
}

// dfs assigns variable i and recurses. Value 0 is explored before 1 so the
// first optimum found is lexicographically smallest; later equal-cost
// branches are pruned, never adopted.
func (s *search) dfs(i int) error {
	s.nodes++
	if s.nodes%ctxCheckInterval == 0 {
		if err := s.ctx.Err(); err != nil {
			return fmt.Errorf("oracle: solve aborted after %d nodes: %w", s.nodes, domain.ErrOracleTimeout)
		}
	}

	if i == len(s.obj) {
		for _, r := range s.rows {
			if r.eq {
				if math.Abs(r.sum-r.rhs) > feasTol {
					return nil
				}
			} else if r.sum < r.rhs-feasTol {
				return nil
			}
		}
		if !s.found || s.partial < s.bestCost-feasTol {
			s.best = s.cur.Clone()
			s.bestCost = s.partial
			s.found = true
		}
		return nil
	}

	// Objective bound: the best any completion can reach from here.
	if s.found {
		bound := s.partial
		for j := i; j < len(s.obj); j++ {
			if s.obj[j] < 0 {
				bound += s.obj[j]
			}
		}
		if bound > s.bestCost-feasTol {
			return nil
		}
	}

	for _, val := range [2]float64{0, 1} {
		if !s.assign(i, val) {
			s.unassign(i, val)
			continue
		}
		if err := s.dfs(i + 1); err != nil {
			s.unassign(i, val)
			return err
		}
		s.unassign(i, val)
	}
	return nil
}

// assign fixes variable i to val, updates the touched rows, and reports
// whether every row remains satisfiable.
func (s *search) assign(i int, val float64) bool {
	s.cur[i] = val
	s.partial += s.obj[i] * val
	ok := true
	for _, r := range s.byVar[i] {
		c := r.coeffs[i]
		if c > 0 {
			r.maxRem -= c
		} else {
			r.minRem -= c
		}
		r.sum += c * val
		if r.violatedPartial() {
			ok = false
		}
	}
	return ok
}

func (s *search) unassign(i int, val float64) {
	s.partial -= s.obj[i] * val
	for _, r := range s.byVar[i] {
		c := r.coeffs[i]
		r.sum -= c * val
		if c > 0 {
			r.maxRem += c
		} else {
			r.minRem += c
		}
	}
	s.cur[i] = 0
}

var _ Oracle = (*BranchBound)(nil)
