package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantale/polyarb/internal/domain"
)

// RuleStore implements domain.RuleStore using PostgreSQL.
type RuleStore struct {
	pool *pgxpool.Pool
}

// NewRuleStore creates a new RuleStore backed by the given connection pool.
func NewRuleStore(pool *pgxpool.Pool) *RuleStore {
	return &RuleStore{pool: pool}
}

var _ domain.RuleStore = (*RuleStore)(nil)

const insertRule = `
	INSERT INTO dependency_rules (id, group_id, rule_type, conditions, confidence, source, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Create inserts a single dependency rule.
func (s *RuleStore) Create(ctx context.Context, r domain.DependencyRule) error {
	_, err := s.pool.Exec(ctx, insertRule,
		r.ID, r.GroupID, string(r.Type), r.Conditions, r.Confidence, r.Source, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create rule %s: %w", r.ID, err)
	}
	return nil
}

// ReplaceForGroup atomically swaps the rule set of a group.
func (s *RuleStore) ReplaceForGroup(ctx context.Context, groupID string, rules []domain.DependencyRule) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin replace rules for group %s: %w", groupID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM dependency_rules WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("postgres: clear rules for group %s: %w", groupID, err)
	}
	for _, r := range rules {
		if _, err := tx.Exec(ctx, insertRule,
			r.ID, groupID, string(r.Type), r.Conditions, r.Confidence, r.Source, r.CreatedAt); err != nil {
			return fmt.Errorf("postgres: insert rule %s for group %s: %w", r.ID, groupID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit replace rules for group %s: %w", groupID, err)
	}
	return nil
}

// ListByGroup returns a group's rules in creation order.
func (s *RuleStore) ListByGroup(ctx context.Context, groupID string) ([]domain.DependencyRule, error) {
	const query = `
		SELECT id, group_id, rule_type, conditions, confidence, source, created_at
		FROM dependency_rules WHERE group_id = $1 ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rules for group %s: %w", groupID, err)
	}
	defer rows.Close()

	var rules []domain.DependencyRule
	for rows.Next() {
		var r domain.DependencyRule
		var ruleType string
		if err := rows.Scan(&r.ID, &r.GroupID, &ruleType, &r.Conditions, &r.Confidence, &r.Source, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan rule: %w", err)
		}
		r.Type = domain.RuleType(ruleType)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list rules rows: %w", err)
	}
	return rules, nil
}

// DeleteByGroup removes all rules of a group.
func (s *RuleStore) DeleteByGroup(ctx context.Context, groupID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM dependency_rules WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("postgres: delete rules for group %s: %w", groupID, err)
	}
	return nil
}
