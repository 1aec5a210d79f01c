// Package feed connects live Polymarket price data to the projection
// pipeline: it mirrors WebSocket price updates into the price cache and
// publishes them on the signal bus, where the event-driven scan trigger picks
// them up.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/quantale/polyarb/internal/domain"
	"github.com/quantale/polyarb/internal/platform/polymarket"
)

// priceEvent is the JSON shape published to the "prices" channel.
type priceEvent struct {
	Event     string  `json:"event"`
	TokenID   string  `json:"token_id"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Timestamp string  `json:"timestamp"`
}

// PriceFeed connects to the Polymarket CLOB WebSocket, subscribes to price
// channels for the given token IDs, writes each update into the price cache,
// and publishes it on the signal bus. It reconnects on disconnect.
type PriceFeed struct {
	wsURL    string
	tokenIDs []string
	prices   domain.PriceCache
	bus      domain.SignalBus
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewPriceFeed creates a feed that will subscribe to the given token IDs.
func NewPriceFeed(wsURL string, tokenIDs []string, prices domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		wsURL:    wsURL,
		tokenIDs: tokenIDs,
		prices:   prices,
		bus:      bus,
		logger:   logger.With(slog.String("component", "price_feed")),
		done:     make(chan struct{}),
	}
}

// Run connects, subscribes to price_change and last_trade_price for the
// configured tokens, and runs until ctx is cancelled. Reconnects with a fixed
// delay on disconnect.
func (f *PriceFeed) Run(ctx context.Context) error {
	if len(f.tokenIDs) == 0 {
		f.logger.Info("no token IDs to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("price feed disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *PriceFeed) runConnection(ctx context.Context) error {
	client := polymarket.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnPriceUpdate(func(u polymarket.PriceUpdate) {
		f.handleUpdate(u)
	})

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}

	channels := []string{"price_change", "last_trade_price"}
	if err := client.Subscribe(ctx, channels, f.tokenIDs); err != nil {
		return err
	}
	f.logger.Info("price feed subscribed", slog.Int("tokens", len(f.tokenIDs)))

	<-ctx.Done()
	return ctx.Err()
}

func (f *PriceFeed) handleUpdate(u polymarket.PriceUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := f.prices.SetPrice(ctx, u.TokenID, u.Price, u.Timestamp); err != nil {
		f.logger.Warn("set price failed",
			slog.String("token_id", u.TokenID),
			slog.String("error", err.Error()),
		)
		return
	}

	payload, err := json.Marshal(priceEvent{
		Event:     "price",
		TokenID:   u.TokenID,
		Price:     u.Price,
		Size:      u.Size,
		Timestamp: u.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	if err := f.bus.Publish(ctx, "prices", payload); err != nil {
		f.logger.Debug("publish price failed",
			slog.String("token_id", u.TokenID),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops the feed.
func (f *PriceFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
