// Package barrier keeps the projection loop away from the boundary of the
// feasible region, where the entropy gradient is unbounded. Price vectors are
// contracted toward a fixed interior reference point, and the contraction is
// annealed between outer passes under a gradient-norm guard.
package barrier

import "math"

// Config holds the tunable parameters of a Stabilizer.
type Config struct {
	// Epsilon is the initial contraction parameter in (0,1).
	Epsilon float64
	// Floor terminates annealing once epsilon falls below it.
	Floor float64
	// Factor is the geometric annealing factor in (0,1).
	Factor float64
	// GradCeiling is the gradient-norm threshold above which annealing is
	// reversed instead of continued.
	GradCeiling float64
	// Reference overrides the interior reference point; when nil the uniform
	// distribution over conditions (1/n per component) is used.
	Reference []float64
}

// Defaults returns the stock stabilizer configuration.
func Defaults() Config {
	return Config{
		Epsilon:     1e-2,
		Floor:       1e-6,
		Factor:      0.9,
		GradCeiling: 1e6,
	}
}

// Stabilizer contracts price vectors into the interior of the feasible
// region and manages the annealing schedule of the contraction parameter.
// One Stabilizer belongs to one projection run; it is not safe for
// concurrent use.
type Stabilizer struct {
	epsilon   float64
	initial   float64
	floor     float64
	factor    float64
	ceiling   float64
	reference []float64
}

// New creates a Stabilizer for vectors of length n. Out-of-range config
// values fall back to Defaults.
func New(n int, cfg Config) *Stabilizer {
	def := Defaults()
	if cfg.Epsilon <= 0 || cfg.Epsilon >= 1 {
		cfg.Epsilon = def.Epsilon
	}
	if cfg.Floor <= 0 {
		cfg.Floor = def.Floor
	}
	if cfg.Factor <= 0 || cfg.Factor >= 1 {
		cfg.Factor = def.Factor
	}
	if cfg.GradCeiling <= 0 {
		cfg.GradCeiling = def.GradCeiling
	}
	ref := cfg.Reference
	if ref == nil {
		ref = make([]float64, n)
		for i := range ref {
			ref[i] = 1 / float64(n)
		}
	}
	return &Stabilizer{
		epsilon:   cfg.Epsilon,
		initial:   cfg.Epsilon,
		floor:     cfg.Floor,
		factor:    cfg.Factor,
		ceiling:   cfg.GradCeiling,
		reference: ref,
	}
}

// Epsilon returns the current contraction parameter.
func (s *Stabilizer) Epsilon() float64 { return s.epsilon }

// GradCeiling returns the configured gradient-norm threshold.
func (s *Stabilizer) GradCeiling() float64 { return s.ceiling }

// Contract nudges x away from exact 0/1 boundaries toward the interior
// reference point: x' = (1-eps)·x + eps·u. Components of the result are
// strictly positive whenever the reference point is, so logarithms of the
// contracted vector are always finite.
func (s *Stabilizer) Contract(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (1-s.epsilon)*v + s.epsilon*s.reference[i]
	}
	return out
}

// Anneal advances the schedule given the gradient norm observed since the
// last call. When the norm exceeds the ceiling the previous reduction is
// reversed (epsilon grows back, capped at its initial value); otherwise
// epsilon shrinks geometrically until it reaches the floor. It returns the
// new epsilon.
func (s *Stabilizer) Anneal(gradNorm float64) float64 {
	if gradNorm > s.ceiling || math.IsNaN(gradNorm) || math.IsInf(gradNorm, 0) {
		s.epsilon = math.Min(s.epsilon/s.factor, s.initial)
		return s.epsilon
	}
	if s.epsilon > s.floor {
		s.epsilon *= s.factor
		if s.epsilon < s.floor {
			s.epsilon = s.floor
		}
	}
	return s.epsilon
}

// Tighten unconditionally reverses one annealing step, used when the
// projector detects divergence and retries. Returns the new epsilon.
func (s *Stabilizer) Tighten() float64 {
	s.epsilon = math.Min(s.epsilon/s.factor, s.initial)
	return s.epsilon
}

// Done reports whether the schedule has reached its floor.
func (s *Stabilizer) Done() bool { return s.epsilon <= s.floor }
