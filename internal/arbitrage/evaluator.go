// Package arbitrage derives actionable trade information from a finished
// projection: the maximum extractable profit and a per-condition trade
// direction.
package arbitrage

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/quantale/polyarb/internal/domain"
)

// Config holds the evaluator's numeric tolerances.
type Config struct {
	// HoldTolerance is the band around zero within which a per-condition
	// log-ratio is classified HOLD.
	HoldTolerance float64
	// ProfitTolerance is the threshold below which the profit estimate is
	// treated as "no exploitable arbitrage".
	ProfitTolerance float64
	// PriceFloor clamps prices before taking logarithms so exact-zero
	// components never produce infinities.
	PriceFloor float64
}

// Defaults returns the stock evaluator configuration.
func Defaults() Config {
	return Config{
		HoldTolerance:   1e-4,
		ProfitTolerance: 1e-6,
		PriceFloor:      1e-12,
	}
}

// Evaluator turns projection results into arbitrage reports. It is stateless
// and safe for concurrent use.
type Evaluator struct {
	cfg    Config
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator. Zero config fields fall back to
// Defaults.
func NewEvaluator(cfg Config, logger *slog.Logger) *Evaluator {
	def := Defaults()
	if cfg.HoldTolerance <= 0 {
		cfg.HoldTolerance = def.HoldTolerance
	}
	if cfg.ProfitTolerance <= 0 {
		cfg.ProfitTolerance = def.ProfitTolerance
	}
	if cfg.PriceFloor <= 0 {
		cfg.PriceFloor = def.PriceFloor
	}
	return &Evaluator{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "arb_evaluator")),
	}
}

// Evaluate derives the profit estimate and per-condition directions from the
// original market prices theta and a converged (or best-effort) projection.
// A projection whose status is not actionable is a solver failure and
// returns an error; a clean projection with no extractable profit returns a
// report with HasEdge=false, which is a distinct, non-error outcome.
func (e *Evaluator) Evaluate(group domain.ConditionGroup, theta []float64, res domain.ProjectionResult) (domain.ArbitrageReport, error) {
	if !res.Status.Actionable() {
		return domain.ArbitrageReport{}, fmt.Errorf("arbitrage: projection status %s carries no usable prices", res.Status)
	}
	if len(theta) != len(res.Mu) {
		return domain.ArbitrageReport{}, fmt.Errorf("arbitrage: price vector length %d does not match projection length %d", len(theta), len(res.Mu))
	}

	signals := make([]domain.ConditionSignal, len(theta))
	var profit float64
	for i := range theta {
		th, mu := theta[i], res.Mu[i]
		logRatio := math.Log(e.clamp(mu)) - math.Log(e.clamp(th))
		if th > 0 {
			profit += th * math.Log(e.clamp(th)/e.clamp(mu))
		}

		dir := domain.DirectionHold
		switch {
		case logRatio > e.cfg.HoldTolerance:
			dir = domain.DirectionBuy
		case logRatio < -e.cfg.HoldTolerance:
			dir = domain.DirectionSell
		}

		var cond domain.Condition
		if i < len(group.Conditions) {
			cond = group.Conditions[i]
		} else {
			cond = domain.Condition{Index: i}
		}
		signals[i] = domain.ConditionSignal{
			Condition: cond,
			Theta:     th,
			Mu:        mu,
			Direction: dir,
			Magnitude: math.Abs(logRatio),
		}
	}

	report := domain.ArbitrageReport{
		ID:         uuid.New().String(),
		GroupID:    group.ID,
		Profit:     profit,
		HasEdge:    profit > e.cfg.ProfitTolerance,
		Signals:    signals,
		Gap:        res.Gap,
		Iterations: res.Iterations,
		Status:     res.Status,
		CreatedAt:  time.Now().UTC(),
	}

	if !report.HasEdge {
		// Flatten directions: without extractable profit the per-condition
		// log-ratios are noise, not signals.
		for i := range report.Signals {
			report.Signals[i].Direction = domain.DirectionHold
		}
		e.logger.Debug("no exploitable arbitrage",
			slog.String("group_id", group.ID),
			slog.Float64("profit", profit),
		)
	}
	return report, nil
}

func (e *Evaluator) clamp(v float64) float64 {
	if v < e.cfg.PriceFloor {
		return e.cfg.PriceFloor
	}
	return v
}
