package oracle

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantale/polyarb/internal/constraint"
	"github.com/quantale/polyarb/internal/domain"
)

func poolLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// gateOracle blocks inside Solve until released, tracking peak concurrency.
type gateOracle struct {
	release chan struct{}
	active  atomic.Int64
	peak    atomic.Int64
}

func (g *gateOracle) Solve(ctx context.Context, objective []float64, _ *constraint.Model, _ Sense) (domain.Vertex, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.release:
	}
	return make(domain.Vertex, len(objective)), nil
}

func TestPool_Delegates(t *testing.T) {
	m := compile(t, 2, nil)
	pool := NewPool(NewBranchBound(), 4, 0, poolLogger())

	v, err := pool.Solve(context.Background(), []float64{-1, 1}, m, Minimize)
	require.NoError(t, err)
	assert.Equal(t, domain.Vertex{1, 0}, v)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	m := compile(t, 2, nil)
	gate := &gateOracle{release: make(chan struct{})}
	pool := NewPool(gate, 2, 0, poolLogger())

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Solve(context.Background(), []float64{0, 0}, m, Minimize)
			assert.NoError(t, err)
		}()
	}

	// Let the in-flight calls accumulate, then open the gate for everyone.
	assert.Eventually(t, func() bool {
		return gate.active.Load() == 2
	}, 2*time.Second, time.Millisecond)
	close(gate.release)
	wg.Wait()

	assert.LessOrEqual(t, gate.peak.Load(), int64(2))
}

func TestPool_CancelledWhileWaiting(t *testing.T) {
	m := compile(t, 2, nil)
	gate := &gateOracle{release: make(chan struct{})}
	defer close(gate.release)
	pool := NewPool(gate, 1, 0, poolLogger())

	// Occupy the single session.
	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = pool.Solve(context.Background(), []float64{0, 0}, m, Minimize)
	}()
	<-started
	assert.Eventually(t, func() bool {
		return gate.active.Load() == 1
	}, 2*time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pool.Solve(ctx, []float64{0, 0}, m, Minimize)
	assert.ErrorIs(t, err, context.Canceled)
}
