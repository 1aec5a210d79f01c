// Package projector computes the Bregman projection of a market price vector
// onto the outcome polytope of a compiled constraint model, using the
// Frank-Wolfe conditional-gradient method driven by a vertex oracle.
package projector

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Generator is a strictly convex divergence generator R. The projector only
// needs its gradient and the induced Bregman divergence
// D_R(mu||theta) = R(mu) - R(theta) - grad R(theta)·(mu-theta).
type Generator interface {
	Name() string
	// Grad returns grad R(x) component-wise. Callers pass barrier-contracted
	// vectors, so implementations may assume strictly positive input.
	Grad(x []float64) []float64
	// Divergence returns D_R(mu||theta).
	Divergence(mu, theta []float64) float64
}

// NegEntropy is the negative-entropy generator R(x) = sum x_i ln x_i - x_i,
// whose Bregman divergence is the generalized KL divergence. It is the
// default generator.
type NegEntropy struct{}

// Name returns the generator identifier.
func (NegEntropy) Name() string { return "neg_entropy" }

// Grad returns ln(x) component-wise.
func (NegEntropy) Grad(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Log(v)
	}
	return out
}

// Divergence returns the generalized KL divergence
// sum mu ln(mu/theta) - mu + theta, with the 0 ln 0 = 0 convention.
func (NegEntropy) Divergence(mu, theta []float64) float64 {
	var d float64
	for i := range mu {
		if mu[i] > 0 {
			d += mu[i]*math.Log(mu[i]/theta[i]) - mu[i] + theta[i]
		} else {
			d += theta[i]
		}
	}
	return d
}

// SquaredEuclidean is the half-squared-norm generator R(x) = ||x||^2 / 2,
// yielding the ordinary Euclidean projection. Useful as a debugging
// alternative: its gradient is bounded so the barrier never intervenes.
type SquaredEuclidean struct{}

// Name returns the generator identifier.
func (SquaredEuclidean) Name() string { return "squared_euclidean" }

// Grad returns x.
func (SquaredEuclidean) Grad(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	return out
}

// Divergence returns ||mu - theta||^2 / 2.
func (SquaredEuclidean) Divergence(mu, theta []float64) float64 {
	var d float64
	for i := range mu {
		diff := mu[i] - theta[i]
		d += diff * diff / 2
	}
	return d
}

// Registry holds named generators for selection by config.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
}

// NewRegistry returns a registry pre-populated with the built-in generators.
func NewRegistry() *Registry {
	r := &Registry{generators: make(map[string]Generator)}
	r.Register(NegEntropy{})
	r.Register(SquaredEuclidean{})
	return r
}

// Register adds a generator under its own name.
func (r *Registry) Register(g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[g.Name()] = g
}

// Get returns the generator by name, or an error if not found.
func (r *Registry) Get(name string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[name]
	if !ok {
		return nil, fmt.Errorf("projector: generator %q not found", name)
	}
	return g, nil
}

// List returns all registered generator names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.generators))
	for n := range r.generators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
