package barrier

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStabilizer_ContractPullsInterior(t *testing.T) {
	s := New(2, Config{Epsilon: 0.1})

	out := s.Contract([]float64{0, 1})
	// (1-0.1)*0 + 0.1*0.5 and (1-0.1)*1 + 0.1*0.5
	assert.InDelta(t, 0.05, out[0], 1e-12)
	assert.InDelta(t, 0.95, out[1], 1e-12)

	// Boundary prices become strictly interior, so their logs are finite.
	for _, v := range out {
		assert.Greater(t, v, 0.0)
		assert.Less(t, v, 1.0)
		assert.False(t, math.IsInf(math.Log(v), 0))
	}
}

func TestStabilizer_ContractCustomReference(t *testing.T) {
	s := New(2, Config{Epsilon: 0.5, Reference: []float64{0.2, 0.8}})

	out := s.Contract([]float64{1, 0})
	assert.InDelta(t, 0.6, out[0], 1e-12) // 0.5*1 + 0.5*0.2
	assert.InDelta(t, 0.4, out[1], 1e-12) // 0.5*0 + 0.5*0.8
}

func TestStabilizer_AnnealShrinksToFloor(t *testing.T) {
	s := New(3, Config{Epsilon: 1e-2, Floor: 1e-3, Factor: 0.5})

	assert.InDelta(t, 5e-3, s.Anneal(1.0), 1e-15)
	assert.InDelta(t, 2.5e-3, s.Anneal(1.0), 1e-15)
	assert.InDelta(t, 1.25e-3, s.Anneal(1.0), 1e-15)
	// Next step would undershoot; epsilon clamps at the floor and stays.
	assert.InDelta(t, 1e-3, s.Anneal(1.0), 1e-15)
	assert.InDelta(t, 1e-3, s.Anneal(1.0), 1e-15)
	assert.True(t, s.Done())
}

func TestStabilizer_AnnealReversesOnGradientBlowup(t *testing.T) {
	s := New(3, Config{Epsilon: 1e-2, Floor: 1e-6, Factor: 0.5, GradCeiling: 100})

	s.Anneal(1.0) // 5e-3
	s.Anneal(1.0) // 2.5e-3

	// A gradient above the ceiling undoes the last reduction.
	assert.InDelta(t, 5e-3, s.Anneal(1e3), 1e-15)
	// NaN and Inf norms count as blowups too, capped at the initial value.
	assert.InDelta(t, 1e-2, s.Anneal(math.NaN()), 1e-15)
	assert.InDelta(t, 1e-2, s.Anneal(math.Inf(1)), 1e-15)
}

func TestStabilizer_Tighten(t *testing.T) {
	s := New(2, Config{Epsilon: 1e-2, Floor: 1e-6, Factor: 0.5})

	s.Anneal(1.0)
	assert.InDelta(t, 1e-2, s.Tighten(), 1e-15)
	// Tighten never exceeds the initial epsilon.
	assert.InDelta(t, 1e-2, s.Tighten(), 1e-15)
	assert.False(t, s.Done())
}

func TestStabilizer_ConfigFallbacks(t *testing.T) {
	// Out-of-range values fall back to the stock configuration.
	s := New(4, Config{Epsilon: 3, Factor: -1, Floor: 0, GradCeiling: 0})
	def := Defaults()

	assert.InDelta(t, def.Epsilon, s.Epsilon(), 1e-15)
	assert.InDelta(t, def.GradCeiling, s.GradCeiling(), 1e-15)
}
