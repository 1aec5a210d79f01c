package projector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantale/polyarb/internal/barrier"
	"github.com/quantale/polyarb/internal/constraint"
	"github.com/quantale/polyarb/internal/domain"
	"github.com/quantale/polyarb/internal/oracle"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newProjector(cfg Config) *Projector {
	return New(oracle.NewBranchBound(), cfg, testLogger())
}

func compileModel(t *testing.T, n int, build func(b *constraint.Builder)) *constraint.Model {
	t.Helper()
	b := constraint.NewBuilder(n)
	if build != nil {
		build(b)
	}
	m, err := b.Compile()
	require.NoError(t, err)
	return m
}

func TestProject_FeasibleInputIsFixedPoint(t *testing.T) {
	m := compileModel(t, 2, func(b *constraint.Builder) {
		require.NoError(t, b.AddImplication(0, 1))
	})
	p := newProjector(Config{})

	// 0.70 >= 0.30 already satisfies the implication, so the projection is
	// the identity and converges without moving.
	theta := []float64{0.70, 0.30}
	res, err := p.Project(context.Background(), theta, m)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusConverged, res.Status)
	assert.True(t, res.Status.Actionable())
	assert.InDelta(t, theta[0], res.Mu[0], 1e-6)
	assert.InDelta(t, theta[1], res.Mu[1], 1e-6)
}

func TestProject_SimplexClosedForm(t *testing.T) {
	// Exactly-one over the full set makes the polytope the probability
	// simplex, where the KL projection has the closed form theta/sum(theta).
	m := compileModel(t, 3, func(b *constraint.Builder) {
		require.NoError(t, b.AddMutualExclusivity([]int{0, 1, 2}))
	})
	p := newProjector(Config{EpsGap: 1e-5, MaxIterations: 2000})

	theta := []float64{0.5, 0.3, 0.4} // sums to 1.2
	res, err := p.Project(context.Background(), theta, m)
	require.NoError(t, err)
	require.True(t, res.Status.Actionable())

	sum := theta[0] + theta[1] + theta[2]
	for i := range theta {
		assert.InDelta(t, theta[i]/sum, res.Mu[i], 0.01, "component %d", i)
	}
	// The iterate is a convex combination of exactly-one vertices, so it
	// sums to 1 exactly regardless of how far the loop ran.
	assert.InDelta(t, 1.0, res.Mu[0]+res.Mu[1]+res.Mu[2], 1e-9)
}

func TestProject_ImplicationBoundary(t *testing.T) {
	// Child priced above parent violates the implication; the KL projection
	// lands on the active face mu0 = mu1 = sqrt(theta0*theta1).
	m := compileModel(t, 2, func(b *constraint.Builder) {
		require.NoError(t, b.AddImplication(0, 1))
	})
	p := newProjector(Config{EpsGap: 1e-5, MaxIterations: 2000})

	theta := []float64{0.40, 0.70}
	res, err := p.Project(context.Background(), theta, m)
	require.NoError(t, err)
	require.True(t, res.Status.Actionable())

	want := math.Sqrt(theta[0] * theta[1]) // ~0.529
	assert.InDelta(t, want, res.Mu[0], 0.02)
	assert.InDelta(t, want, res.Mu[1], 0.02)
	assert.GreaterOrEqual(t, res.Mu[0], res.Mu[1]-1e-9)
}

func TestProject_SquaredEuclideanGenerator(t *testing.T) {
	// Euclidean projection onto the simplex shifts every component by the
	// same amount when none hits the box.
	m := compileModel(t, 3, func(b *constraint.Builder) {
		require.NoError(t, b.AddMutualExclusivity([]int{0, 1, 2}))
	})
	p := newProjector(Config{EpsGap: 1e-6, MaxIterations: 2000, Generator: SquaredEuclidean{}})

	theta := []float64{0.5, 0.3, 0.4}
	res, err := p.Project(context.Background(), theta, m)
	require.NoError(t, err)
	require.True(t, res.Status.Actionable())

	shift := (1.0 - (theta[0] + theta[1] + theta[2])) / 3
	for i := range theta {
		assert.InDelta(t, theta[i]+shift, res.Mu[i], 0.01, "component %d", i)
	}
}

func TestProject_GapHistoryNonNegative(t *testing.T) {
	m := compileModel(t, 3, func(b *constraint.Builder) {
		require.NoError(t, b.AddMutualExclusivity([]int{0, 1, 2}))
	})
	p := newProjector(Config{EpsGap: 1e-5, MaxIterations: 500})

	res, err := p.Project(context.Background(), []float64{0.6, 0.6, 0.3}, m)
	require.NoError(t, err)

	require.NotEmpty(t, res.GapHistory)
	for i, g := range res.GapHistory {
		assert.GreaterOrEqual(t, g, -1e-9, "iteration %d", i)
	}
	assert.Equal(t, len(res.GapHistory), res.Iterations)
}

// tracingGenerator records every divergence evaluation; the projector
// evaluates it once per iterate, so the recorded sequence is the divergence
// trajectory of the run.
type tracingGenerator struct {
	NegEntropy
	divs []float64
}

func (g *tracingGenerator) Divergence(mu, theta []float64) float64 {
	d := g.NegEntropy.Divergence(mu, theta)
	g.divs = append(g.divs, d)
	return d
}

func TestProject_DivergenceNonIncreasing(t *testing.T) {
	m := compileModel(t, 3, func(b *constraint.Builder) {
		require.NoError(t, b.AddMutualExclusivity([]int{0, 1, 2}))
	})
	gen := &tracingGenerator{}
	// Epsilon pinned at the floor freezes the contraction, so divergence
	// values from different iterations are directly comparable.
	p := newProjector(Config{
		EpsGap:        1e-5,
		MaxIterations: 2000,
		Generator:     gen,
		Barrier:       barrier.Config{Epsilon: 1e-6, Floor: 1e-6},
	})

	res, err := p.Project(context.Background(), []float64{0.5, 0.3, 0.4}, m)
	require.NoError(t, err)
	require.True(t, res.Status.Actionable())

	// The exact line search never overshoots the segment minimum, so each
	// iterate's divergence is no worse than its predecessor's.
	require.Greater(t, len(gen.divs), 2)
	for i := 1; i < len(gen.divs); i++ {
		assert.LessOrEqual(t, gen.divs[i], gen.divs[i-1]+1e-9, "iteration %d", i)
	}
}

func TestProject_Deterministic(t *testing.T) {
	m := compileModel(t, 4, func(b *constraint.Builder) {
		require.NoError(t, b.AddMutualExclusivity([]int{0, 1, 2}))
		require.NoError(t, b.AddImplication(3, 1))
	})
	p := newProjector(Config{EpsGap: 1e-5, MaxIterations: 500})
	theta := []float64{0.2, 0.5, 0.45, 0.35}

	first, err := p.Project(context.Background(), theta, m)
	require.NoError(t, err)
	second, err := p.Project(context.Background(), theta, m)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Iterations, second.Iterations)
	assert.Equal(t, first.Mu, second.Mu)
}

func TestProject_BoundaryPricesSurvive(t *testing.T) {
	// Exact 0/1 prices would blow up the entropy gradient without the
	// barrier contraction.
	m := compileModel(t, 2, func(b *constraint.Builder) {
		require.NoError(t, b.AddImplication(0, 1))
	})
	p := newProjector(Config{EpsGap: 1e-4, MaxIterations: 1000})

	res, err := p.Project(context.Background(), []float64{0, 1}, m)
	require.NoError(t, err)
	require.True(t, res.Status.Actionable())

	for i, v := range res.Mu {
		assert.False(t, math.IsNaN(v), "component %d", i)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.GreaterOrEqual(t, res.Mu[0], res.Mu[1]-1e-9)
}

func TestProject_MaxIterationsStillActionable(t *testing.T) {
	m := compileModel(t, 3, func(b *constraint.Builder) {
		require.NoError(t, b.AddMutualExclusivity([]int{0, 1, 2}))
	})
	// One iteration is never enough for an infeasible input under a tight
	// gap threshold.
	p := newProjector(Config{EpsGap: 1e-12, MaxIterations: 1})

	res, err := p.Project(context.Background(), []float64{0.5, 0.3, 0.4}, m)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusMaxIterations, res.Status)
	assert.True(t, res.Status.Actionable())
	assert.Len(t, res.Mu, 3)
}

// flakyOracle wraps a real oracle but honors context cancellation eagerly and
// can be made to time out after a fixed number of calls, which small models
// solved by branch-and-bound never do on their own.
type flakyOracle struct {
	inner     oracle.Oracle
	calls     int
	failAfter int // 0 disables injected timeouts
}

func (f *flakyOracle) Solve(ctx context.Context, objective []float64, m *constraint.Model, sense oracle.Sense) (domain.Vertex, error) {
	f.calls++
	if ctx.Err() != nil {
		return nil, fmt.Errorf("oracle: aborted: %w", domain.ErrOracleTimeout)
	}
	if f.failAfter > 0 && f.calls > f.failAfter {
		return nil, fmt.Errorf("oracle: budget exhausted: %w", domain.ErrOracleTimeout)
	}
	return f.inner.Solve(ctx, objective, m, sense)
}

func TestProject_CancelledContext(t *testing.T) {
	m := compileModel(t, 3, func(b *constraint.Builder) {
		require.NoError(t, b.AddMutualExclusivity([]int{0, 1, 2}))
	})
	p := New(&flakyOracle{inner: oracle.NewBranchBound()}, Config{MaxIterations: 500}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A dead caller context is an aborted run, not a failure: the caller
	// keeps the best iterate seen so far.
	res, err := p.Project(ctx, []float64{0.5, 0.3, 0.4}, m)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMaxIterations, res.Status)
	assert.Len(t, res.Mu, 3)
}

func TestProject_OracleTimeoutMidLoop(t *testing.T) {
	m := compileModel(t, 3, func(b *constraint.Builder) {
		require.NoError(t, b.AddMutualExclusivity([]int{0, 1, 2}))
	})
	// First call seeds the active set, second feeds iteration 0, then every
	// solve times out; the retry with a doubled budget fails the same way.
	f := &flakyOracle{inner: oracle.NewBranchBound(), failAfter: 2}
	p := New(f, Config{EpsGap: 1e-12, MaxIterations: 500, OracleTimeout: time.Second}, testLogger())

	res, err := p.Project(context.Background(), []float64{0.5, 0.3, 0.4}, m)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMaxIterations, res.Status)
	assert.Equal(t, 1, res.MissedIterations)
	assert.Len(t, res.Mu, 3)
}

func TestProject_InfeasibleModel(t *testing.T) {
	// Pairwise exactly-one over three conditions has fractional relaxed
	// points but no binary vertex, so the oracle reports infeasibility
	// mid-loop.
	m := compileModel(t, 3, func(b *constraint.Builder) {
		require.NoError(t, b.AddMutualExclusivity([]int{0, 1}))
		require.NoError(t, b.AddMutualExclusivity([]int{1, 2}))
		require.NoError(t, b.AddMutualExclusivity([]int{0, 2}))
	})
	p := newProjector(Config{})

	res, err := p.Project(context.Background(), []float64{0.9, 0.2, 0.3}, m)
	assert.ErrorIs(t, err, domain.ErrInfeasibleConstraints)
	assert.Equal(t, domain.StatusInfeasible, res.Status)
	assert.False(t, res.Status.Actionable())
}

func TestProject_InputValidation(t *testing.T) {
	m := compileModel(t, 2, nil)
	p := newProjector(Config{})
	ctx := context.Background()

	_, err := p.Project(ctx, []float64{0.5}, m)
	assert.Error(t, err) // length mismatch

	_, err = p.Project(ctx, []float64{0.5, 1.2}, m)
	assert.Error(t, err) // above 1

	_, err = p.Project(ctx, []float64{-0.1, 0.5}, m)
	assert.Error(t, err) // below 0

	_, err = p.Project(ctx, []float64{math.NaN(), 0.5}, m)
	assert.Error(t, err)
}

func TestRegistry_GetAndList(t *testing.T) {
	r := NewRegistry()

	g, err := r.Get("neg_entropy")
	require.NoError(t, err)
	assert.Equal(t, "neg_entropy", g.Name())

	g, err = r.Get("squared_euclidean")
	require.NoError(t, err)
	assert.Equal(t, "squared_euclidean", g.Name())

	_, err = r.Get("mahalanobis")
	assert.Error(t, err)

	assert.Equal(t, []string{"neg_entropy", "squared_euclidean"}, r.List())
}

func TestNegEntropy_Divergence(t *testing.T) {
	g := NegEntropy{}

	// Identical vectors have zero divergence.
	assert.InDelta(t, 0, g.Divergence([]float64{0.3, 0.7}, []float64{0.3, 0.7}), 1e-12)

	// Generalized KL is asymmetric and positive off the diagonal.
	d := g.Divergence([]float64{0.6, 0.4}, []float64{0.3, 0.7})
	assert.Greater(t, d, 0.0)
	assert.NotEqual(t, d, g.Divergence([]float64{0.3, 0.7}, []float64{0.6, 0.4}))

	// 0 ln 0 = 0 convention: zero components contribute theta only.
	assert.InDelta(t, 0.5, g.Divergence([]float64{0, 0.5}, []float64{0.5, 0.5}), 1e-12)
}
