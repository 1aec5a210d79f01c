package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantale/polyarb/internal/domain"
	"github.com/quantale/polyarb/internal/platform/polymarket"
	"github.com/quantale/polyarb/internal/rules"
)

// gammaPageSize is the number of events fetched per Gamma API page.
const gammaPageSize = 100

// ModelInvalidator drops a cached constraint compile for a group. The scan
// service implements it; group edits must call it so the next scan recompiles.
type ModelInvalidator interface {
	InvalidateModel(groupID string)
}

// GroupService manages condition groups and their dependency rules: rule-file
// import, CRUD access, and discovery of new groups from the Polymarket Gamma
// API.
type GroupService struct {
	groups      domain.GroupStore
	ruleStore   domain.RuleStore
	cache       domain.GroupCache
	audit       domain.AuditStore
	gamma       *polymarket.GammaClient
	invalidator ModelInvalidator
	ctfOracle   string
	logger      *slog.Logger
}

// NewGroupService creates a GroupService. The gamma client may be nil when
// API discovery is disabled; invalidator may be nil when no scan service is
// running in this process. An empty ctfOracle disables condition ID
// verification during sync.
func NewGroupService(
	groups domain.GroupStore,
	ruleStore domain.RuleStore,
	cache domain.GroupCache,
	audit domain.AuditStore,
	gamma *polymarket.GammaClient,
	invalidator ModelInvalidator,
	ctfOracle string,
	logger *slog.Logger,
) *GroupService {
	return &GroupService{
		groups:      groups,
		ruleStore:   ruleStore,
		cache:       cache,
		audit:       audit,
		gamma:       gamma,
		invalidator: invalidator,
		ctfOracle:   ctfOracle,
		logger:      logger.With(slog.String("component", "group_service")),
	}
}

// Get returns a group by ID, preferring the cache.
func (s *GroupService) Get(ctx context.Context, id string) (domain.ConditionGroup, error) {
	g, err := s.cache.Get(ctx, id)
	if err == nil {
		return g, nil
	}
	g, err = s.groups.GetByID(ctx, id)
	if err != nil {
		return domain.ConditionGroup{}, fmt.Errorf("group_service: get %s: %w", id, err)
	}
	if cacheErr := s.cache.Set(ctx, g); cacheErr != nil {
		s.logger.Warn("group_service: cache write failed",
			slog.String("group_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}
	return g, nil
}

// List returns groups ordered by last update, newest first.
func (s *GroupService) List(ctx context.Context, opts domain.ListOpts) ([]domain.ConditionGroup, error) {
	groups, err := s.groups.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("group_service: list: %w", err)
	}
	return groups, nil
}

// Count returns the total number of stored groups.
func (s *GroupService) Count(ctx context.Context) (int64, error) {
	n, err := s.groups.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("group_service: count: %w", err)
	}
	return n, nil
}

// Rules returns a group's dependency rules.
func (s *GroupService) Rules(ctx context.Context, groupID string) ([]domain.DependencyRule, error) {
	list, err := s.ruleStore.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("group_service: list rules %s: %w", groupID, err)
	}
	return list, nil
}

// ReplaceRules swaps a group's entire rule set after validating it against
// the group's condition count.
func (s *GroupService) ReplaceRules(ctx context.Context, groupID string, list []domain.DependencyRule) error {
	g, err := s.Get(ctx, groupID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range list {
		list[i].GroupID = groupID
		if list[i].ID == "" {
			list[i].ID = uuid.New().String()
		}
		if list[i].Confidence == 0 {
			list[i].Confidence = 1.0
		}
		if list[i].CreatedAt.IsZero() {
			list[i].CreatedAt = now
		}
	}
	if err := rules.Validate(len(g.Conditions), list); err != nil {
		return fmt.Errorf("group_service: replace rules %s: %w", groupID, err)
	}
	if err := s.ruleStore.ReplaceForGroup(ctx, groupID, list); err != nil {
		return fmt.Errorf("group_service: replace rules %s: %w", groupID, err)
	}
	s.invalidate(groupID)
	s.auditEvent(ctx, "group.rules_replaced", map[string]any{
		"group_id": groupID,
		"rules":    len(list),
	})
	return nil
}

// ImportFile applies one parsed rule file: the group is upserted and its
// rule set replaced atomically from the file's view.
func (s *GroupService) ImportFile(ctx context.Context, data []byte) (domain.ConditionGroup, error) {
	loaded, err := rules.Parse(data)
	if err != nil {
		return domain.ConditionGroup{}, fmt.Errorf("group_service: parse rule file: %w", err)
	}
	if err := s.apply(ctx, loaded); err != nil {
		return domain.ConditionGroup{}, err
	}
	return loaded.Group, nil
}

// ImportDir loads every rule file in dir and applies each one. Files that
// fail are logged and skipped; the import continues. Returns the number of
// groups applied.
func (s *GroupService) ImportDir(ctx context.Context, dir string) (int, error) {
	loadedAll, err := rules.LoadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("group_service: load rules dir %s: %w", dir, err)
	}

	applied := 0
	for _, loaded := range loadedAll {
		if err := s.apply(ctx, loaded); err != nil {
			s.logger.Warn("group_service: import failed",
				slog.String("group_id", loaded.Group.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		applied++
	}

	s.logger.Info("group_service: rules dir imported",
		slog.String("dir", dir),
		slog.Int("files", len(loadedAll)),
		slog.Int("applied", applied),
	)
	return applied, nil
}

func (s *GroupService) apply(ctx context.Context, loaded rules.Loaded) error {
	g := loaded.Group
	if err := s.groups.Upsert(ctx, g); err != nil {
		return fmt.Errorf("group_service: upsert group %s: %w", g.ID, err)
	}
	if err := s.ruleStore.ReplaceForGroup(ctx, g.ID, loaded.Rules); err != nil {
		return fmt.Errorf("group_service: replace rules %s: %w", g.ID, err)
	}
	if err := s.cache.Set(ctx, g); err != nil {
		s.logger.Warn("group_service: cache write failed",
			slog.String("group_id", g.ID),
			slog.String("error", err.Error()),
		)
	}
	s.invalidate(g.ID)
	s.auditEvent(ctx, "group.imported", map[string]any{
		"group_id":   g.ID,
		"title":      g.Title,
		"conditions": len(g.Conditions),
		"rules":      len(loaded.Rules),
	})
	return nil
}

// SyncFromGamma pages through Gamma API events and upserts each as a
// condition group. Events whose markets fail condition ID verification are
// skipped. Returns the number of groups upserted.
//
// Discovery only maintains the group roster; dependency rules still come
// from rule files or the API, since the Gamma payload does not carry
// cross-market logic.
func (s *GroupService) SyncFromGamma(ctx context.Context, maxPages int) (int, error) {
	if s.gamma == nil {
		return 0, errors.New("group_service: gamma client not configured")
	}
	if maxPages <= 0 {
		maxPages = 1
	}

	synced, skipped := 0, 0
	for page := 0; page < maxPages; page++ {
		events, err := s.gamma.GetEvents(ctx, gammaPageSize, page*gammaPageSize)
		if err != nil {
			return synced, fmt.Errorf("group_service: gamma page %d: %w", page, err)
		}
		if len(events) == 0 {
			break
		}

		for i := range events {
			ev := &events[i]
			if !s.verifyEvent(ctx, ev) {
				skipped++
				continue
			}
			g := ev.ToConditionGroup()
			if len(g.Conditions) == 0 {
				skipped++
				continue
			}
			if err := s.groups.Upsert(ctx, g); err != nil {
				s.logger.Warn("group_service: upsert synced group failed",
					slog.String("group_id", g.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := s.cache.Invalidate(ctx, g.ID); err != nil {
				s.logger.Warn("group_service: cache invalidate failed",
					slog.String("group_id", g.ID),
					slog.String("error", err.Error()),
				)
			}
			s.invalidate(g.ID)
			synced++
		}

		if len(events) < gammaPageSize {
			break
		}
	}

	s.logger.Info("group_service: gamma sync complete",
		slog.Int("synced", synced),
		slog.Int("skipped", skipped),
	)
	s.auditEvent(ctx, "group.gamma_sync", map[string]any{
		"synced":  synced,
		"skipped": skipped,
	})
	return synced, nil
}

// verifyEvent recomputes each market's condition ID against its question ID.
// Verification is best effort: markets without on-chain identifiers pass, a
// genuine mismatch rejects the whole event.
func (s *GroupService) verifyEvent(ctx context.Context, ev *polymarket.APIEvent) bool {
	if s.ctfOracle == "" {
		return true
	}
	for i := range ev.Markets {
		m := &ev.Markets[i]
		if m.QuestionID == "" || m.ConditionID == "" {
			continue
		}
		ok, err := polymarket.VerifyConditionID(s.ctfOracle, m)
		if err != nil {
			s.logger.Debug("group_service: condition ID check errored",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			s.logger.Warn("group_service: condition ID mismatch, skipping event",
				slog.String("event_id", ev.ID),
				slog.String("market_id", m.ID),
				slog.String("condition_id", m.ConditionID),
			)
			return false
		}
	}
	return true
}

func (s *GroupService) invalidate(groupID string) {
	if s.invalidator != nil {
		s.invalidator.InvalidateModel(groupID)
	}
}

func (s *GroupService) auditEvent(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.Warn("group_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
