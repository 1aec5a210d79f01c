package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the pipeline goroutines: group discovery and archival.
// Either component may be nil, in which case its loop is skipped.
type Orchestrator struct {
	groupSync *GroupSync
	archiver  *Archiver
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(groupSync *GroupSync, archiver *Archiver, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		groupSync: groupSync,
		archiver:  archiver,
		logger:    logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts the configured loops as concurrent goroutines under an
// errgroup. Context cancellation is a clean shutdown; any other loop error
// cancels the shared context and is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline starting",
		slog.Bool("group_sync", o.groupSync != nil),
		slog.Bool("archiver", o.archiver != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.groupSync != nil {
		g.Go(func() error {
			err := o.groupSync.RunLoop(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("group sync loop: %w", err)
		})
	}

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunLoop(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver loop: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped")
	return nil
}
