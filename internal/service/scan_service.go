package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantale/polyarb/internal/arbitrage"
	"github.com/quantale/polyarb/internal/constraint"
	"github.com/quantale/polyarb/internal/domain"
	"github.com/quantale/polyarb/internal/notify"
	"github.com/quantale/polyarb/internal/projector"
)

// ScanConfig holds the tunable parameters of the scan loop.
type ScanConfig struct {
	// Interval is the period of the full-universe scan loop.
	Interval time.Duration
	// Deadline bounds a single group's projection wall time.
	Deadline time.Duration
	// MinProfit is the profit threshold below which a detected edge is
	// recorded but not announced.
	MinProfit float64
}

// ScanService runs the projection cycle for condition groups: it reads live
// prices, projects them onto the group's dependency polytope, evaluates the
// result for arbitrage, persists the run, and fans the report out to the
// signal bus and notifiers.
//
// A distributed lock per group keeps concurrent scanners (the periodic loop
// and the price-triggered path) from projecting the same group twice.
type ScanService struct {
	groups     domain.GroupStore
	rules      domain.RuleStore
	runs       domain.RunStore
	audit      domain.AuditStore
	prices     domain.PriceCache
	groupCache domain.GroupCache
	locks      domain.LockManager
	bus        domain.SignalBus
	proj       *projector.Projector
	eval       *arbitrage.Evaluator
	notifier   *notify.Notifier
	cfg        ScanConfig
	logger     *slog.Logger

	mu     sync.Mutex
	models map[string]compiledModel
}

// compiledModel caches a compiled constraint model together with a
// fingerprint of the rules it was built from, so rule edits invalidate it.
type compiledModel struct {
	fingerprint string
	model       *constraint.Model
}

// NewScanService creates a ScanService with all required dependencies. The
// notifier may be nil when no notification channels are configured.
func NewScanService(
	groups domain.GroupStore,
	rules domain.RuleStore,
	runs domain.RunStore,
	audit domain.AuditStore,
	prices domain.PriceCache,
	groupCache domain.GroupCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	proj *projector.Projector,
	eval *arbitrage.Evaluator,
	notifier *notify.Notifier,
	cfg ScanConfig,
	logger *slog.Logger,
) *ScanService {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 45 * time.Second
	}
	return &ScanService{
		groups:     groups,
		rules:      rules,
		runs:       runs,
		audit:      audit,
		prices:     prices,
		groupCache: groupCache,
		locks:      locks,
		bus:        bus,
		proj:       proj,
		eval:       eval,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "scan_service")),
		models:     make(map[string]compiledModel),
	}
}

// Run executes the periodic scan loop until the context is cancelled. One
// full pass runs immediately on startup.
func (s *ScanService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.scanAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.scanAll(ctx)
		}
	}
}

func (s *ScanService) scanAll(ctx context.Context) {
	groups, err := s.groups.ListActive(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "scan_service: list active groups",
			slog.String("error", err.Error()),
		)
		return
	}

	scanned, failed := 0, 0
	for _, g := range groups {
		if ctx.Err() != nil {
			return
		}
		if err := s.ScanGroup(ctx, g.ID); err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				continue
			}
			failed++
			s.logger.WarnContext(ctx, "scan_service: group scan failed",
				slog.String("group_id", g.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		scanned++
	}

	s.logger.InfoContext(ctx, "scan_service: pass complete",
		slog.Int("groups", len(groups)),
		slog.Int("scanned", scanned),
		slog.Int("failed", failed),
	)
}

// ScanGroup runs one projection cycle for a single group. It returns
// domain.ErrLockHeld (wrapped) when another scanner already holds the group,
// which callers should treat as a benign skip.
func (s *ScanService) ScanGroup(ctx context.Context, groupID string) error {
	unlock, err := s.locks.Acquire(ctx, "scan:"+groupID, s.cfg.Deadline)
	if err != nil {
		return fmt.Errorf("scan_service: acquire %s: %w", groupID, err)
	}
	defer unlock()

	group, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return err
	}
	n := len(group.Conditions)
	if n == 0 {
		return fmt.Errorf("scan_service: group %s has no conditions", groupID)
	}

	theta, err := s.loadPrices(ctx, group)
	if err != nil {
		return err
	}

	model, err := s.compileModel(ctx, group)
	if err != nil {
		if errors.Is(err, domain.ErrInconsistentConstraints) {
			s.auditEvent(ctx, "scan.inconsistent_rules", map[string]any{
				"group_id": groupID,
			})
		}
		return err
	}

	projCtx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	res, projErr := s.proj.Project(projCtx, theta, model)
	if res.Status == "" {
		// Input validation failure: nothing to persist.
		return fmt.Errorf("scan_service: project %s: %w", groupID, projErr)
	}

	run := domain.ProjectionRun{
		ID:         uuid.New().String(),
		GroupID:    groupID,
		Theta:      theta,
		Mu:         res.Mu,
		Gap:        res.Gap,
		Iterations: res.Iterations,
		Status:     res.Status,
		CreatedAt:  time.Now().UTC(),
	}

	var report domain.ArbitrageReport
	if res.Status.Actionable() {
		report, err = s.eval.Evaluate(group, theta, res)
		if err != nil {
			return fmt.Errorf("scan_service: evaluate %s: %w", groupID, err)
		}
		report.ID = run.ID
		run.Profit = report.Profit
		run.Directions = report.Directions()
	}

	if err := s.runs.Insert(ctx, run); err != nil {
		return fmt.Errorf("scan_service: insert run: %w", err)
	}

	if projErr != nil {
		s.auditEvent(ctx, "scan.failed", map[string]any{
			"group_id": groupID,
			"run_id":   run.ID,
			"status":   string(res.Status),
			"error":    projErr.Error(),
		})
		s.notify(ctx, "scan_failed",
			"Scan failed: "+group.Title,
			fmt.Sprintf("group %s: %s (%s)", groupID, projErr.Error(), res.Status),
		)
		return fmt.Errorf("scan_service: project %s: %w", groupID, projErr)
	}

	if res.Status.Actionable() {
		s.publishReport(ctx, report)
		if report.HasEdge && report.Profit >= s.cfg.MinProfit {
			s.announceEdge(ctx, report)
		}
	}

	s.logger.InfoContext(ctx, "scan_service: group scanned",
		slog.String("group_id", groupID),
		slog.String("run_id", run.ID),
		slog.String("status", string(run.Status)),
		slog.Int("iterations", run.Iterations),
		slog.Float64("gap", run.Gap),
		slog.Float64("profit", run.Profit),
	)
	return nil
}

// loadGroup reads a group from the cache, falling back to the store and
// repopulating the cache on a miss.
func (s *ScanService) loadGroup(ctx context.Context, groupID string) (domain.ConditionGroup, error) {
	group, err := s.groupCache.Get(ctx, groupID)
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "scan_service: group cache read failed",
			slog.String("group_id", groupID),
			slog.String("error", err.Error()),
		)
	}

	group, err = s.groups.GetByID(ctx, groupID)
	if err != nil {
		return domain.ConditionGroup{}, fmt.Errorf("scan_service: load group %s: %w", groupID, err)
	}
	if cacheErr := s.groupCache.Set(ctx, group); cacheErr != nil {
		s.logger.WarnContext(ctx, "scan_service: group cache write failed",
			slog.String("group_id", groupID),
			slog.String("error", cacheErr.Error()),
		)
	}
	return group, nil
}

// loadPrices assembles the price vector in condition index order. Every
// condition must have a live price; a partial vector cannot be projected.
func (s *ScanService) loadPrices(ctx context.Context, group domain.ConditionGroup) ([]float64, error) {
	tokenIDs := group.TokenIDs()
	prices, err := s.prices.GetPrices(ctx, tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("scan_service: load prices %s: %w", group.ID, err)
	}

	theta := make([]float64, len(tokenIDs))
	var missing []string
	for i, id := range tokenIDs {
		p, ok := prices[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		theta[i] = p
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("scan_service: group %s missing prices for tokens [%s]: %w",
			group.ID, strings.Join(missing, ", "), domain.ErrNotFound)
	}
	return theta, nil
}

// compileModel compiles the group's rules into a constraint model, reusing a
// cached compile while the rule set is unchanged.
func (s *ScanService) compileModel(ctx context.Context, group domain.ConditionGroup) (*constraint.Model, error) {
	list, err := s.rules.ListByGroup(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("scan_service: list rules %s: %w", group.ID, err)
	}

	fp := rulesFingerprint(len(group.Conditions), list)
	s.mu.Lock()
	if entry, ok := s.models[group.ID]; ok && entry.fingerprint == fp {
		s.mu.Unlock()
		return entry.model, nil
	}
	s.mu.Unlock()

	b := constraint.NewBuilder(len(group.Conditions))
	for _, r := range list {
		if err := b.AddRule(r); err != nil {
			return nil, fmt.Errorf("scan_service: rule %s: %w", r.ID, err)
		}
	}
	model, err := b.Compile()
	if err != nil {
		return nil, fmt.Errorf("scan_service: compile %s: %w", group.ID, err)
	}

	s.mu.Lock()
	s.models[group.ID] = compiledModel{fingerprint: fp, model: model}
	s.mu.Unlock()
	return model, nil
}

// InvalidateModel drops the cached compile for a group. Call after the
// group's rules or condition set change.
func (s *ScanService) InvalidateModel(groupID string) {
	s.mu.Lock()
	delete(s.models, groupID)
	s.mu.Unlock()
}

// rulesFingerprint folds the rule identities into a cache key so a changed
// rule set forces a recompile.
func rulesFingerprint(n int, list []domain.DependencyRule) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d", n)
	for _, r := range list {
		sb.WriteByte('|')
		sb.WriteString(r.ID)
	}
	return sb.String()
}

// publishReport fans the report out on the live channel and the durable
// stream. Delivery failures are logged, not fatal: the run is already
// persisted.
func (s *ScanService) publishReport(ctx context.Context, report domain.ArbitrageReport) {
	payload, err := json.Marshal(report)
	if err != nil {
		s.logger.WarnContext(ctx, "scan_service: marshal report",
			slog.String("run_id", report.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, "reports", payload); err != nil {
		s.logger.WarnContext(ctx, "scan_service: publish report failed",
			slog.String("run_id", report.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, "reports", payload); err != nil {
		s.logger.WarnContext(ctx, "scan_service: append report failed",
			slog.String("run_id", report.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ScanService) announceEdge(ctx context.Context, report domain.ArbitrageReport) {
	s.auditEvent(ctx, "scan.edge", map[string]any{
		"group_id": report.GroupID,
		"run_id":   report.ID,
		"profit":   report.Profit,
		"gap":      report.Gap,
	})
	title, message := notify.FormatReport(report)
	s.notify(ctx, "arb_detected", title, message)

	s.logger.InfoContext(ctx, "scan_service: arbitrage detected",
		slog.String("group_id", report.GroupID),
		slog.String("run_id", report.ID),
		slog.Float64("profit", report.Profit),
	)
}

func (s *ScanService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "scan_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ScanService) auditEvent(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "scan_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
