package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/quantale/polyarb/internal/barrier"
	"github.com/quantale/polyarb/internal/constraint"
	"github.com/quantale/polyarb/internal/domain"
	"github.com/quantale/polyarb/internal/oracle"
)

// Config holds the tunable parameters of one Projector.
type Config struct {
	// EpsGap is the duality-gap convergence threshold.
	EpsGap float64
	// MaxIterations bounds the Frank-Wolfe loop.
	MaxIterations int
	// OracleTimeout is the per-vertex-solve time budget, distinct from the
	// caller's overall deadline. A timed-out solve is retried once with the
	// budget doubled before the iteration is recorded as missed.
	OracleTimeout time.Duration
	// DivergenceRetries bounds barrier re-tightening attempts when the
	// gradient norm exceeds the stabilizer ceiling.
	DivergenceRetries int
	// LineSearchIters bounds the bisection line search.
	LineSearchIters int
	// Barrier configures the stabilizer for this projector's runs.
	Barrier barrier.Config
	// Generator selects the divergence generator; NegEntropy when nil.
	Generator Generator

	// FeasTol is the tolerance for the warm-start feasibility check.
	FeasTol float64
}

// Defaults returns the stock projector configuration.
func Defaults() Config {
	return Config{
		EpsGap:            1e-6,
		MaxIterations:     150,
		OracleTimeout:     30 * time.Second,
		DivergenceRetries: 3,
		LineSearchIters:   48,
		Barrier:           barrier.Defaults(),
		Generator:         NegEntropy{},
		FeasTol:           1e-9,
	}
}

func (c Config) withDefaults() Config {
	def := Defaults()
	if c.EpsGap <= 0 {
		c.EpsGap = def.EpsGap
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = def.OracleTimeout
	}
	if c.DivergenceRetries <= 0 {
		c.DivergenceRetries = def.DivergenceRetries
	}
	if c.LineSearchIters <= 0 {
		c.LineSearchIters = def.LineSearchIters
	}
	if c.Generator == nil {
		c.Generator = def.Generator
	}
	if c.FeasTol <= 0 {
		c.FeasTol = def.FeasTol
	}
	return c
}

// Projector runs the Frank-Wolfe Bregman projection. It is stateless across
// runs and safe for concurrent use; each run owns its own stabilizer and
// active set, so independent market groups can be projected in parallel.
type Projector struct {
	oracle oracle.Oracle
	cfg    Config
	logger *slog.Logger
}

// New creates a Projector over the given vertex oracle.
func New(o oracle.Oracle, cfg Config, logger *slog.Logger) *Projector {
	return &Projector{
		oracle: o,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "projector")),
	}
}

// Project computes the Bregman projection of theta onto the outcome polytope
// of m. Cancellation of ctx mid-loop aborts the in-flight oracle call and
// returns the best iterate so far with StatusMaxIterations, never an error,
// so a live caller can always fall back to its last good projection. An error
// is returned only for invalid input or an infeasible constraint set (with
// the partial iteration trace attached to the result for diagnostics).
func (p *Projector) Project(ctx context.Context, theta []float64, m *constraint.Model) (domain.ProjectionResult, error) {
	n := m.N()
	if len(theta) != n {
		return domain.ProjectionResult{}, fmt.Errorf("projector: price vector length %d does not match model size %d", len(theta), n)
	}
	for i, v := range theta {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return domain.ProjectionResult{}, fmt.Errorf("projector: price %g at condition %d outside [0,1]", v, i)
		}
	}

	r := &run{
		p:     p,
		model: m,
		gen:   p.cfg.Generator,
		stab:  barrier.New(n, p.cfg.Barrier),
		theta: theta,
		start: time.Now(),
	}
	return r.execute(ctx)
}

// run is the per-projection state: one stabilizer, one iterate, one active
// set. Nothing in it is shared between concurrent projections.
type run struct {
	p     *Projector
	model *constraint.Model
	gen   Generator
	stab  *barrier.Stabilizer
	theta []float64
	start time.Time

	mu         []float64
	best       []float64
	bestDiv    float64
	active     []domain.Vertex
	gapHistory []float64
	missed     int
}

func (r *run) execute(ctx context.Context) (domain.ProjectionResult, error) {
	cfg := r.p.cfg

	if err := r.initIterate(ctx); err != nil {
		if ctx.Err() != nil || errors.Is(err, domain.ErrOracleTimeout) {
			return r.partial(domain.StatusMaxIterations), nil
		}
		return r.partial(domain.StatusInfeasible), err
	}
	r.best = cloneVec(r.mu)
	r.bestDiv = r.divergence(r.mu)

	for k := 0; k < cfg.MaxIterations; k++ {
		grad, gradNorm, ok := r.gradient()
		if !ok {
			// Gradient blew past the ceiling: tighten the barrier a bounded
			// number of times before declaring divergence.
			retries := 0
			for ; retries < cfg.DivergenceRetries; retries++ {
				r.stab.Tighten()
				grad, gradNorm, ok = r.gradient()
				if ok {
					break
				}
			}
			if !ok {
				r.p.logger.WarnContext(ctx, "projection diverged",
					slog.Int("iteration", k),
					slog.Float64("grad_norm", gradNorm),
				)
				return r.partial(domain.StatusNumericDivergence), nil
			}
		}

		v, err := r.solveVertex(ctx, grad)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrInfeasibleConstraints):
				res := r.partial(domain.StatusInfeasible)
				return res, fmt.Errorf("projector: iteration %d: %w", k, err)
			case ctx.Err() != nil:
				// Caller deadline: hand back the best iterate so far.
				return r.partial(domain.StatusMaxIterations), nil
			case errors.Is(err, domain.ErrOracleTimeout):
				r.missed++
				return r.partial(domain.StatusMaxIterations), nil
			default:
				return r.partial(domain.StatusInfeasible), fmt.Errorf("projector: iteration %d: %w", k, err)
			}
		}

		gap := dot(grad, r.mu) - dot(grad, v)
		r.gapHistory = append(r.gapHistory, gap)

		if gap < cfg.EpsGap {
			r.trackBest()
			return r.result(domain.StatusConverged, k+1, gap), nil
		}

		gamma := r.lineSearch(r.mu, v, k)
		for i := range r.mu {
			r.mu[i] = (1-gamma)*r.mu[i] + gamma*v[i]
		}
		r.active = append(r.active, v)
		r.trackBest()
		r.stab.Anneal(gradNorm)
	}

	return r.partial(domain.StatusMaxIterations), nil
}

// initIterate seeds mu. A theta already feasible in the relaxed model starts
// the loop at theta itself, so an arbitrage-free input converges in one
// iteration with mu* = theta. Otherwise the most probable vertex under theta
// seeds the active set.
func (r *run) initIterate(ctx context.Context) error {
	if r.model.Feasible(r.theta, r.p.cfg.FeasTol) {
		r.mu = cloneVec(r.theta)
		return nil
	}
	thetaC := r.stab.Contract(r.theta)
	obj := make([]float64, len(thetaC))
	for i, v := range thetaC {
		obj[i] = -math.Log(v)
	}
	v, err := r.solveVertex(ctx, obj)
	if err != nil {
		return fmt.Errorf("projector: initial vertex: %w", err)
	}
	r.mu = cloneVec(v)
	r.active = append(r.active, v)
	return nil
}

// gradient returns grad R(mu') - grad R(theta') on barrier-contracted
// vectors, its infinity norm, and whether the norm is finite and below the
// stabilizer ceiling.
func (r *run) gradient() ([]float64, float64, bool) {
	muGrad := r.gen.Grad(r.stab.Contract(r.mu))
	thGrad := r.gen.Grad(r.stab.Contract(r.theta))
	var norm float64
	for i := range muGrad {
		muGrad[i] -= thGrad[i]
		if a := math.Abs(muGrad[i]); a > norm {
			norm = a
		}
	}
	ok := !math.IsNaN(norm) && !math.IsInf(norm, 0) && norm <= r.stab.GradCeiling()
	return muGrad, norm, ok
}

// solveVertex runs one oracle call under the per-call budget, retrying once
// with the budget doubled on timeout.
func (r *run) solveVertex(ctx context.Context, objective []float64) (domain.Vertex, error) {
	budget := r.p.cfg.OracleTimeout
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, budget)
		v, err := r.p.oracle.Solve(callCtx, objective, r.model, oracle.Minimize)
		cancel()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, domain.ErrOracleTimeout) && ctx.Err() == nil && attempt == 0 {
			budget *= 2
			continue
		}
		return nil, err
	}
}

// lineSearch minimizes D(mu + gamma·(v-mu) || theta) over gamma in [0,1] by
// bisection on the one-dimensional derivative. The derivative at 0 is minus
// the duality gap, so it is non-positive; a non-positive derivative at 1
// means the full step is optimal. Falls back to the 2/(k+2) schedule if the
// derivative is not finite.
func (r *run) lineSearch(mu []float64, v domain.Vertex, k int) float64 {
	thGrad := r.gen.Grad(r.stab.Contract(r.theta))
	d := make([]float64, len(mu))
	for i := range mu {
		d[i] = v[i] - mu[i]
	}

	deriv := func(gamma float64) float64 {
		point := make([]float64, len(mu))
		for i := range mu {
			point[i] = mu[i] + gamma*d[i]
		}
		g := r.gen.Grad(r.stab.Contract(point))
		var s float64
		for i := range g {
			s += d[i] * (g[i] - thGrad[i])
		}
		return s
	}

	hi := deriv(1)
	if math.IsNaN(hi) {
		return 2 / float64(k+2)
	}
	if hi <= 0 {
		return 1
	}

	lo, up := 0.0, 1.0
	for i := 0; i < r.p.cfg.LineSearchIters; i++ {
		mid := (lo + up) / 2
		dm := deriv(mid)
		if math.IsNaN(dm) {
			return 2 / float64(k+2)
		}
		if dm > 0 {
			up = mid
		} else {
			lo = mid
		}
	}
	return (lo + up) / 2
}

func (r *run) divergence(x []float64) float64 {
	return r.gen.Divergence(r.stab.Contract(x), r.stab.Contract(r.theta))
}

// trackBest keeps the lowest-divergence iterate seen, so partial results
// after cancellation or iteration exhaustion are never worse than an earlier
// iterate.
func (r *run) trackBest() {
	div := r.divergence(r.mu)
	if div < r.bestDiv {
		r.bestDiv = div
		r.best = cloneVec(r.mu)
	}
}

func (r *run) result(status domain.ProjectionStatus, iterations int, gap float64) domain.ProjectionResult {
	history := make([]float64, len(r.gapHistory))
	copy(history, r.gapHistory)
	mu := r.best
	if status == domain.StatusConverged {
		mu = r.mu
	}
	r.p.logger.Debug("projection finished",
		slog.String("status", string(status)),
		slog.Int("iterations", iterations),
		slog.Float64("gap", gap),
		slog.Int("missed", r.missed),
		slog.Duration("elapsed", time.Since(r.start)),
	)
	return domain.ProjectionResult{
		Mu:               cloneVec(mu),
		Iterations:       iterations,
		Gap:              gap,
		GapHistory:       history,
		Status:           status,
		ActiveSet:        r.active,
		MissedIterations: r.missed,
	}
}

// partial builds a result for a non-converged exit using the best iterate
// and last recorded gap.
func (r *run) partial(status domain.ProjectionStatus) domain.ProjectionResult {
	gap := math.Inf(1)
	if len(r.gapHistory) > 0 {
		gap = r.gapHistory[len(r.gapHistory)-1]
	}
	if r.best == nil {
		r.best = cloneVec(r.theta)
	}
	return r.result(status, len(r.gapHistory), gap)
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func cloneVec(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	return out
}
