package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantale/polyarb/internal/domain"
)

// Archiver moves projection runs past their retention window from the
// database to S3 cold storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, interval time.Duration, logger *slog.Logger) *Archiver {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive pass: every run older than the retention
// cutoff is uploaded and deleted.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive pass",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	archived, err := a.blobArchiver.ArchiveRuns(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive runs before %v: %w", cutoff, err)
	}

	a.logger.Info("archive pass complete", slog.Int("runs_archived", archived))
	return nil
}

// RunLoop runs archival on the configured interval until the context is
// cancelled. The first pass waits a full interval so a crash-looping process
// does not hammer S3 on startup.
func (a *Archiver) RunLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}
