package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantale/polyarb/internal/domain"
)

type channelBus struct {
	ch chan []byte
}

func (b *channelBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *channelBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *channelBus) StreamAppend(_ context.Context, _ string, _ []byte) error { return nil }

func (b *channelBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type tokenGroupCache struct {
	byToken map[string]domain.ConditionGroup
}

func (c *tokenGroupCache) Set(_ context.Context, _ domain.ConditionGroup) error { return nil }

func (c *tokenGroupCache) Get(_ context.Context, _ string) (domain.ConditionGroup, error) {
	return domain.ConditionGroup{}, domain.ErrNotFound
}

func (c *tokenGroupCache) GetByTokenID(_ context.Context, tokenID string) (domain.ConditionGroup, error) {
	g, ok := c.byToken[tokenID]
	if !ok {
		return domain.ConditionGroup{}, domain.ErrNotFound
	}
	return g, nil
}

func (c *tokenGroupCache) Invalidate(_ context.Context, _ string) error { return nil }

type recordingScanner struct {
	mu    sync.Mutex
	scans []string
}

func (r *recordingScanner) ScanGroup(_ context.Context, groupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans = append(r.scans, groupID)
	return nil
}

func (r *recordingScanner) scanned() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.scans))
	copy(out, r.scans)
	return out
}

func newTriggerFixture(debounce time.Duration) (*ScanTrigger, *channelBus, *recordingScanner) {
	bus := &channelBus{ch: make(chan []byte, 16)}
	cache := &tokenGroupCache{byToken: map[string]domain.ConditionGroup{
		"tok-1": {ID: "g1"},
		"tok-2": {ID: "g1"},
		"tok-9": {ID: "g2"},
	}}
	scanner := &recordingScanner{}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewScanTrigger(bus, cache, scanner, debounce, logger), bus, scanner
}

func publishPrice(t *testing.T, bus *channelBus, tokenID string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"event":    "price",
		"token_id": tokenID,
		"price":    0.5,
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), "prices", payload))
}

func TestScanTrigger_DebouncesBursts(t *testing.T) {
	trigger, bus, scanner := newTriggerFixture(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- trigger.Run(ctx) }()

	// A burst of updates across both tokens of the same group collapses
	// into one scan once the group goes quiet.
	for i := 0; i < 5; i++ {
		publishPrice(t, bus, "tok-1")
		publishPrice(t, bus, "tok-2")
	}

	require.Eventually(t, func() bool {
		return len(scanner.scanned()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"g1"}, scanner.scanned())

	// And a later quiet period triggers again.
	publishPrice(t, bus, "tok-1")
	require.Eventually(t, func() bool {
		return len(scanner.scanned()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not stop")
	}
}

func TestScanTrigger_IndependentGroups(t *testing.T) {
	trigger, bus, scanner := newTriggerFixture(30 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = trigger.Run(ctx) }()

	publishPrice(t, bus, "tok-1")
	publishPrice(t, bus, "tok-9")

	require.Eventually(t, func() bool {
		return len(scanner.scanned()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"g1", "g2"}, scanner.scanned())
}

func TestScanTrigger_IgnoresUnknownAndMalformed(t *testing.T) {
	trigger, bus, scanner := newTriggerFixture(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = trigger.Run(ctx) }()

	bus.ch <- []byte("not json")
	publishPrice(t, bus, "tok-unknown") // no owning group
	publishPrice(t, bus, "")            // empty token
	publishPrice(t, bus, "tok-1")

	require.Eventually(t, func() bool {
		return len(scanner.scanned()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"g1"}, scanner.scanned())
}

func TestScanTrigger_ClosedChannelStops(t *testing.T) {
	trigger, bus, _ := newTriggerFixture(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- trigger.Run(context.Background()) }()
	close(bus.ch)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not stop on channel close")
	}
}
