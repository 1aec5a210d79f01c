package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantale/polyarb/internal/arbitrage"
	"github.com/quantale/polyarb/internal/barrier"
	"github.com/quantale/polyarb/internal/feed"
	"github.com/quantale/polyarb/internal/oracle"
	"github.com/quantale/polyarb/internal/pipeline"
	"github.com/quantale/polyarb/internal/platform/polymarket"
	"github.com/quantale/polyarb/internal/projector"
	"github.com/quantale/polyarb/internal/server"
	"github.com/quantale/polyarb/internal/server/handler"
	"github.com/quantale/polyarb/internal/server/ws"
	"github.com/quantale/polyarb/internal/service"
)

const (
	// marketWSPath is the CLOB WebSocket market channel path.
	marketWSPath = "/ws/market"

	// serverShutdownTimeout bounds the graceful HTTP shutdown.
	serverShutdownTimeout = 10 * time.Second

	// reportLimit is the number of runs shown by the one-shot report mode.
	reportLimit = 50
)

// services bundles the application services built on top of the wired
// dependencies.
type services struct {
	scan   *service.ScanService
	groups *service.GroupService
	report *service.ReportService
	gamma  *polymarket.GammaClient
}

// buildServices constructs the solver stack and the services around it.
func (a *App) buildServices(deps *Dependencies) (*services, error) {
	pcfg := a.cfg.Projector

	gen, err := projector.NewRegistry().Get(strings.ToLower(pcfg.Generator))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	pool := oracle.NewPool(
		oracle.NewBranchBound(),
		int64(pcfg.OracleParallelism),
		pcfg.OracleTimeout.Duration,
		a.logger,
	)
	proj := projector.New(pool, projector.Config{
		EpsGap:        pcfg.EpsGap,
		MaxIterations: pcfg.MaxIterations,
		OracleTimeout: pcfg.OracleTimeout.Duration,
		Barrier: barrier.Config{
			Epsilon:     pcfg.BarrierEpsilon,
			Floor:       pcfg.BarrierFloor,
			Factor:      pcfg.BarrierFactor,
			GradCeiling: pcfg.GradCeiling,
		},
		Generator: gen,
	}, a.logger)

	eval := arbitrage.NewEvaluator(arbitrage.Config{
		HoldTolerance: a.cfg.Scan.HoldTolerance,
	}, a.logger)

	var gamma *polymarket.GammaClient
	if a.cfg.Polymarket.GammaHost != "" {
		gamma = polymarket.NewGammaClient(
			a.cfg.Polymarket.GammaHost,
			a.cfg.Polymarket.RateLimitRPS,
			a.cfg.Polymarket.HTTPTimeout.Duration,
		)
	}

	scanSvc := service.NewScanService(
		deps.GroupStore,
		deps.RuleStore,
		deps.RunStore,
		deps.AuditStore,
		deps.PriceCache,
		deps.GroupCache,
		deps.LockManager,
		deps.SignalBus,
		proj,
		eval,
		deps.Notifier,
		service.ScanConfig{
			Interval:  a.cfg.Scan.Interval.Duration,
			Deadline:  a.cfg.Scan.Deadline.Duration,
			MinProfit: a.cfg.Scan.MinProfit,
		},
		a.logger,
	)

	groupSvc := service.NewGroupService(
		deps.GroupStore,
		deps.RuleStore,
		deps.GroupCache,
		deps.AuditStore,
		gamma,
		scanSvc,
		a.cfg.Polymarket.CTFOracle,
		a.logger,
	)

	reportSvc := service.NewReportService(deps.RunStore, deps.GroupStore, a.logger)

	return &services{
		scan:   scanSvc,
		groups: groupSvc,
		report: reportSvc,
		gamma:  gamma,
	}, nil
}

// importRules loads the configured rules directory, if any.
func (a *App) importRules(ctx context.Context, svcs *services) error {
	if a.cfg.RulesDir == "" {
		return nil
	}
	applied, err := svcs.groups.ImportDir(ctx, a.cfg.RulesDir)
	if err != nil {
		return fmt.Errorf("app: import rules: %w", err)
	}
	a.logger.InfoContext(ctx, "rule files applied",
		slog.String("dir", a.cfg.RulesDir),
		slog.Int("groups", applied),
	)
	return nil
}

// startScanLoops launches the price feed, the price-triggered scan path, and
// the periodic scan loop on the errgroup.
func (a *App) startScanLoops(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) error {
	groups, err := deps.GroupStore.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("app: list active groups: %w", err)
	}
	var tokenIDs []string
	seen := make(map[string]bool)
	for _, grp := range groups {
		for _, id := range grp.TokenIDs() {
			if id != "" && !seen[id] {
				seen[id] = true
				tokenIDs = append(tokenIDs, id)
			}
		}
	}

	if a.cfg.Polymarket.WsHost != "" && len(tokenIDs) > 0 {
		priceFeed := feed.NewPriceFeed(
			a.cfg.Polymarket.WsHost+marketWSPath,
			tokenIDs,
			deps.PriceCache,
			deps.SignalBus,
			a.logger,
		)
		g.Go(func() error {
			defer priceFeed.Close()
			return priceFeed.Run(ctx)
		})

		trigger := feed.NewScanTrigger(
			deps.SignalBus,
			deps.GroupCache,
			svcs.scan,
			a.cfg.Scan.Debounce.Duration,
			a.logger,
		)
		g.Go(func() error {
			return trigger.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "price feed disabled",
			slog.Bool("ws_host_set", a.cfg.Polymarket.WsHost != ""),
			slog.Int("token_ids", len(tokenIDs)),
		)
	}

	g.Go(func() error {
		return svcs.scan.Run(ctx)
	})
	return nil
}

// startHTTPServer launches the API server and its WebSocket hub on the
// errgroup, shutting the server down when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKeyHash:  a.cfg.Server.APIKeyHash,
			RateLimit:   a.cfg.Server.RateLimit,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(),
			Status: handler.NewStatusHandler(svcs.groups, a.cfg.Mode, a.logger),
			Groups: handler.NewGroupHandler(svcs.groups, a.logger),
			Runs:   handler.NewRunHandler(svcs.report, a.logger),
			Scan:   handler.NewScanHandler(svcs.scan, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startPipeline launches the background maintenance loops.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	var groupSync *pipeline.GroupSync
	if svcs.gamma != nil {
		groupSync = pipeline.NewGroupSync(svcs.groups, a.cfg.Pipeline.SyncInterval.Duration, a.logger)
	}
	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(
			deps.Archiver,
			a.cfg.Pipeline.ArchiveRetentionDays,
			a.cfg.Pipeline.ArchiveInterval.Duration,
			a.logger,
		)
	}
	if groupSync == nil && archiver == nil {
		a.logger.InfoContext(ctx, "pipeline has nothing to run")
		return
	}

	orch := pipeline.NewOrchestrator(groupSync, archiver, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})
}

// ScanMode runs the projection engine headless: price feed, price-triggered
// scans, and the periodic scan loop.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}
	if err := a.importRules(ctx, svcs); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startScanLoops(ctx, g, deps, svcs); err != nil {
		return err
	}
	return waitGroup(g)
}

// ServeMode runs the HTTP + WebSocket API without the scan loops. Scans can
// still be triggered manually over the API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}
	if err := a.importRules(ctx, svcs); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	return waitGroup(g)
}

// ReportMode prints the most recent projection runs to stdout and exits.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	reportSvc := service.NewReportService(deps.RunStore, deps.GroupStore, a.logger)
	return reportSvc.PrintRecent(ctx, os.Stdout, reportLimit)
}

// FullMode runs everything: scan loops, the API server, and the background
// pipeline.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}
	if err := a.importRules(ctx, svcs); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startScanLoops(ctx, g, deps, svcs); err != nil {
		return err
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	if a.cfg.Pipeline.Enabled {
		a.startPipeline(ctx, g, deps, svcs)
	}
	return waitGroup(g)
}

// waitGroup waits for the errgroup, treating context cancellation as a clean
// shutdown.
func waitGroup(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
