package notify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantale/polyarb/internal/domain"
)

func TestFormatReport(t *testing.T) {
	report := domain.ArbitrageReport{
		GroupID:    "election-2028",
		Profit:     0.0821,
		Gap:        3.2e-6,
		Iterations: 41,
		Status:     domain.StatusConverged,
		Signals: []domain.ConditionSignal{
			{
				Condition: domain.Condition{Index: 0, Label: "dem_wins"},
				Theta:     0.40, Mu: 0.529,
				Direction: domain.DirectionBuy,
				Magnitude: 0.2794,
			},
			{
				Condition: domain.Condition{Index: 1, Label: "dem_wins_pa"},
				Theta:     0.70, Mu: 0.529,
				Direction: domain.DirectionSell,
				Magnitude: 0.2802,
			},
			{
				Condition: domain.Condition{Index: 2, Label: "turnout_high"},
				Theta:     0.50, Mu: 0.50,
				Direction: domain.DirectionHold,
			},
		},
	}

	title, message := FormatReport(report)
	assert.Equal(t, "Arbitrage detected: election-2028", title)

	assert.Contains(t, message, "profit 0.0821")
	assert.Contains(t, message, "41 iterations (converged)")
	assert.Contains(t, message, "BUY dem_wins: market 0.4000 -> fair 0.5290")
	assert.Contains(t, message, "SELL dem_wins_pa")
	// HOLD legs stay out of the alert.
	assert.NotContains(t, message, "turnout_high")
	assert.False(t, strings.HasSuffix(message, "\n"))
}

func TestFormatReport_UnlabeledCondition(t *testing.T) {
	report := domain.ArbitrageReport{
		GroupID: "g1",
		Signals: []domain.ConditionSignal{
			{
				Condition: domain.Condition{Index: 3},
				Theta:     0.2, Mu: 0.3,
				Direction: domain.DirectionBuy,
				Magnitude: 0.405,
			},
		},
	}

	_, message := FormatReport(report)
	assert.Contains(t, message, "BUY condition 3:")
}
