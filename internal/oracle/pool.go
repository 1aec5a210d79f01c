package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/quantale/polyarb/internal/constraint"
	"github.com/quantale/polyarb/internal/domain"
)

// Pool bounds the number of concurrently in-flight solver sessions. Each
// Solve call acquires its own session slot and releases it on every exit
// path; sessions are never shared between in-flight calls, so independent
// projection runs can use one Pool concurrently.
type Pool struct {
	inner   Oracle
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger
}

// NewPool wraps inner with a session pool of the given size and a default
// per-call time budget. A non-positive size falls back to 1; a non-positive
// timeout disables the pool-level deadline (callers may still pass their
// own).
func NewPool(inner Oracle, size int64, timeout time.Duration, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		inner:   inner,
		sem:     semaphore.NewWeighted(size),
		timeout: timeout,
		logger:  logger.With(slog.String("component", "oracle_pool")),
	}
}

// Solve acquires a session, applies the per-call budget, and delegates to the
// wrapped solver. Waiting for a session counts against the caller's context,
// not against the per-call budget.
func (p *Pool) Solve(ctx context.Context, objective []float64, m *constraint.Model, sense Sense) (domain.Vertex, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("oracle: acquire solver session: %w", err)
	}
	defer p.sem.Release(1)

	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	v, err := p.inner.Solve(callCtx, objective, m, sense)
	if err != nil {
		return nil, err
	}
	p.logger.DebugContext(ctx, "vertex solve complete",
		slog.Int("n", m.N()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return v, nil
}

var _ Oracle = (*Pool)(nil)
