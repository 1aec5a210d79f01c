package arbitrage

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantale/polyarb/internal/domain"
)

func newEvaluator(cfg Config) *Evaluator {
	return NewEvaluator(cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func testGroup(n int) domain.ConditionGroup {
	g := domain.ConditionGroup{ID: "grp-1", Title: "test group"}
	for i := 0; i < n; i++ {
		g.Conditions = append(g.Conditions, domain.Condition{Index: i, Label: "c", TokenID: "tok"})
	}
	return g
}

func converged(mu []float64) domain.ProjectionResult {
	return domain.ProjectionResult{Mu: mu, Status: domain.StatusConverged, Iterations: 5, Gap: 1e-8}
}

func TestEvaluate_Directions(t *testing.T) {
	ev := newEvaluator(Config{})

	theta := []float64{0.40, 0.70, 0.50}
	mu := []float64{0.53, 0.53, 0.50}
	report, err := ev.Evaluate(testGroup(3), theta, converged(mu))
	require.NoError(t, err)

	// Projected above market means underpriced, below means overpriced.
	assert.Equal(t, []domain.TradeDirection{
		domain.DirectionBuy,
		domain.DirectionSell,
		domain.DirectionHold,
	}, report.Directions())

	assert.InDelta(t, math.Log(0.53/0.40), report.Signals[0].Magnitude, 1e-12)
	assert.InDelta(t, math.Log(0.70/0.53), report.Signals[1].Magnitude, 1e-12)
}

func TestEvaluate_ProfitIsThetaWeightedLogRatio(t *testing.T) {
	ev := newEvaluator(Config{})

	theta := []float64{0.40, 0.70}
	mu := []float64{0.529, 0.529}
	report, err := ev.Evaluate(testGroup(2), theta, converged(mu))
	require.NoError(t, err)

	want := 0.40*math.Log(0.40/0.529) + 0.70*math.Log(0.70/0.529)
	assert.InDelta(t, want, report.Profit, 1e-12)
	assert.True(t, report.HasEdge)
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "grp-1", report.GroupID)
}

func TestEvaluate_NoEdgeFlattensDirections(t *testing.T) {
	ev := newEvaluator(Config{})

	// Identical vectors have zero profit: clean run, nothing to extract.
	theta := []float64{0.30, 0.70}
	report, err := ev.Evaluate(testGroup(2), theta, converged([]float64{0.30, 0.70}))
	require.NoError(t, err)

	assert.False(t, report.HasEdge)
	assert.InDelta(t, 0, report.Profit, 1e-12)
	for _, s := range report.Signals {
		assert.Equal(t, domain.DirectionHold, s.Direction)
	}
}

func TestEvaluate_HoldToleranceBand(t *testing.T) {
	// A wide band turns small log-ratios into HOLD even with an edge.
	ev := newEvaluator(Config{HoldTolerance: 0.5, ProfitTolerance: 1e-15})

	theta := []float64{0.40, 0.70}
	report, err := ev.Evaluate(testGroup(2), theta, converged([]float64{0.45, 0.50}))
	require.NoError(t, err)
	require.True(t, report.HasEdge)

	// ln(0.45/0.40) ~ 0.12 stays inside the band; ln(0.50/0.70) ~ -0.34 too.
	assert.Equal(t, domain.DirectionHold, report.Signals[0].Direction)
	assert.Equal(t, domain.DirectionHold, report.Signals[1].Direction)
}

func TestEvaluate_NonActionableStatus(t *testing.T) {
	ev := newEvaluator(Config{})
	group := testGroup(2)
	theta := []float64{0.5, 0.5}

	for _, status := range []domain.ProjectionStatus{
		domain.StatusInfeasible,
		domain.StatusNumericDivergence,
	} {
		_, err := ev.Evaluate(group, theta, domain.ProjectionResult{
			Mu:     []float64{0.5, 0.5},
			Status: status,
		})
		assert.Error(t, err, string(status))
	}
}

func TestEvaluate_LengthMismatch(t *testing.T) {
	ev := newEvaluator(Config{})

	_, err := ev.Evaluate(testGroup(2), []float64{0.5, 0.5}, converged([]float64{0.5}))
	assert.Error(t, err)
}

func TestEvaluate_ZeroPricesClamped(t *testing.T) {
	ev := newEvaluator(Config{})

	// Exact zeros never produce NaN or Inf thanks to the price floor.
	theta := []float64{0, 0.6}
	report, err := ev.Evaluate(testGroup(2), theta, converged([]float64{0.2, 0.6}))
	require.NoError(t, err)

	assert.False(t, math.IsNaN(report.Profit))
	assert.False(t, math.IsInf(report.Profit, 0))
	for _, s := range report.Signals {
		assert.False(t, math.IsNaN(s.Magnitude))
	}
}

func TestEvaluate_MoreConditionsThanMetadata(t *testing.T) {
	ev := newEvaluator(Config{})

	// Price vectors longer than the group's condition roster still evaluate;
	// the extra slots carry index-only placeholders.
	group := testGroup(1)
	report, err := ev.Evaluate(group, []float64{0.5, 0.4}, converged([]float64{0.5, 0.45}))
	require.NoError(t, err)

	require.Len(t, report.Signals, 2)
	assert.Equal(t, 1, report.Signals[1].Condition.Index)
	assert.Empty(t, report.Signals[1].Condition.TokenID)
}
