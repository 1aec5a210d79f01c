package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quantale/polyarb/internal/domain"
)

// GroupScanner is the narrow scanning interface the trigger drives.
type GroupScanner interface {
	ScanGroup(ctx context.Context, groupID string) error
}

// ScanTrigger subscribes to the "prices" channel and schedules a projection
// scan for the condition group that owns each moved token. Per-group
// debouncing collapses bursts of updates into a single scan.
type ScanTrigger struct {
	bus      domain.SignalBus
	groups   domain.GroupCache
	scanner  GroupScanner
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewScanTrigger creates a ScanTrigger.
func NewScanTrigger(bus domain.SignalBus, groups domain.GroupCache, scanner GroupScanner, debounce time.Duration, logger *slog.Logger) *ScanTrigger {
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	return &ScanTrigger{
		bus:      bus,
		groups:   groups,
		scanner:  scanner,
		debounce: debounce,
		logger:   logger.With(slog.String("component", "scan_trigger")),
		pending:  make(map[string]*time.Timer),
	}
}

// Run subscribes to "prices" and processes events until ctx is cancelled.
func (t *ScanTrigger) Run(ctx context.Context) error {
	ch, err := t.bus.Subscribe(ctx, "prices")
	if err != nil {
		return err
	}
	t.logger.Info("scan trigger started", slog.Duration("debounce", t.debounce))
	defer t.logger.Info("scan trigger stopped")
	defer t.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := t.handleMessage(ctx, data); err != nil {
				t.logger.Debug("scan trigger handle message failed",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

func (t *ScanTrigger) handleMessage(ctx context.Context, data []byte) error {
	var ev priceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	tokenID := strings.TrimSpace(ev.TokenID)
	if tokenID == "" {
		return nil
	}

	group, err := t.groups.GetByTokenID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil // token not in any tracked group
		}
		return err
	}

	t.schedule(ctx, group.ID)
	return nil
}

// schedule arms (or re-arms) the debounce timer for a group. The scan fires
// once the group has been quiet for the debounce window.
func (t *ScanTrigger) schedule(ctx context.Context, groupID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.pending[groupID]; ok {
		timer.Reset(t.debounce)
		return
	}

	t.pending[groupID] = time.AfterFunc(t.debounce, func() {
		t.mu.Lock()
		delete(t.pending, groupID)
		t.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err := t.scanner.ScanGroup(ctx, groupID); err != nil {
			// Lock contention means another scanner already has the group.
			if errors.Is(err, domain.ErrLockHeld) {
				return
			}
			t.logger.Warn("triggered scan failed",
				slog.String("group_id", groupID),
				slog.String("error", err.Error()),
			)
		}
	})
}

func (t *ScanTrigger) stopTimers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.pending {
		timer.Stop()
		delete(t.pending, id)
	}
}
