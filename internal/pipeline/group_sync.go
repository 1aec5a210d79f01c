// Package pipeline runs the background maintenance loops: Gamma group
// discovery and cold-storage archival of old projection runs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantale/polyarb/internal/service"
)

// syncMaxPages bounds one discovery pass through the Gamma event listing.
const syncMaxPages = 10

// GroupSync periodically refreshes the condition group roster from the
// Polymarket Gamma API.
type GroupSync struct {
	groups   *service.GroupService
	interval time.Duration
	logger   *slog.Logger
}

// NewGroupSync creates a GroupSync.
func NewGroupSync(groups *service.GroupService, interval time.Duration, logger *slog.Logger) *GroupSync {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &GroupSync{
		groups:   groups,
		interval: interval,
		logger:   logger.With(slog.String("component", "group_sync")),
	}
}

// Run executes a single discovery pass.
func (s *GroupSync) Run(ctx context.Context) error {
	synced, err := s.groups.SyncFromGamma(ctx, syncMaxPages)
	if err != nil {
		return fmt.Errorf("pipeline: group sync: %w", err)
	}
	s.logger.Info("group sync pass complete", slog.Int("synced", synced))
	return nil
}

// RunLoop runs discovery on the configured interval until the context is
// cancelled. One pass runs immediately on startup; failed passes are logged
// and retried on the next tick.
func (s *GroupSync) RunLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("group sync failed", slog.String("error", err.Error()))
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("group sync failed", slog.String("error", err.Error()))
			}
		}
	}
}
