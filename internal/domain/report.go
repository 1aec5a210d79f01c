package domain

import "time"

// TradeDirection classifies the per-condition action implied by a projection.
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "BUY"
	DirectionSell TradeDirection = "SELL"
	DirectionHold TradeDirection = "HOLD"
)

// ConditionSignal is the per-condition slice of an arbitrage report.
type ConditionSignal struct {
	Condition Condition
	Theta     float64 // market price
	Mu        float64 // projected arbitrage-free price
	Direction TradeDirection
	Magnitude float64 // |ln(mu/theta)|
}

// ArbitrageReport is a read-only view derived from a ProjectionResult and the
// original market prices. Created, consumed, and discarded per cycle.
type ArbitrageReport struct {
	ID         string
	GroupID    string
	Profit     float64 // maximum extractable value under the KL generator
	HasEdge    bool    // profit above tolerance
	Signals    []ConditionSignal
	Gap        float64
	Iterations int
	Status     ProjectionStatus
	CreatedAt  time.Time
}

// Directions returns the per-condition directions in index order.
func (r ArbitrageReport) Directions() []TradeDirection {
	out := make([]TradeDirection, len(r.Signals))
	for i, s := range r.Signals {
		out[i] = s.Direction
	}
	return out
}
