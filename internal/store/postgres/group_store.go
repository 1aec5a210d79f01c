package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantale/polyarb/internal/domain"
)

// GroupStore implements domain.GroupStore using PostgreSQL.
type GroupStore struct {
	pool *pgxpool.Pool
}

// NewGroupStore creates a new GroupStore backed by the given connection pool.
func NewGroupStore(pool *pgxpool.Pool) *GroupStore {
	return &GroupStore{pool: pool}
}

var _ domain.GroupStore = (*GroupStore)(nil)

// Upsert inserts or updates a condition group and replaces its member
// conditions atomically.
func (s *GroupStore) Upsert(ctx context.Context, g domain.ConditionGroup) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin upsert group %s: %w", g.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsertGroup = `
		INSERT INTO condition_groups (id, title, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			updated_at = NOW()`
	if _, err := tx.Exec(ctx, upsertGroup, g.ID, g.Title, g.Status, g.CreatedAt, g.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: upsert condition_group %s: %w", g.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM group_conditions WHERE group_id = $1`, g.ID); err != nil {
		return fmt.Errorf("postgres: clear conditions for group %s: %w", g.ID, err)
	}
	const insertCond = `
		INSERT INTO group_conditions (group_id, idx, label, token_id)
		VALUES ($1, $2, $3, $4)`
	for _, c := range g.Conditions {
		if _, err := tx.Exec(ctx, insertCond, g.ID, c.Index, c.Label, c.TokenID); err != nil {
			return fmt.Errorf("postgres: insert condition %d for group %s: %w", c.Index, g.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit upsert group %s: %w", g.ID, err)
	}
	return nil
}

// GetByID returns a condition group with its member conditions.
func (s *GroupStore) GetByID(ctx context.Context, id string) (domain.ConditionGroup, error) {
	const query = `SELECT id, title, status, created_at, updated_at FROM condition_groups WHERE id = $1`
	var g domain.ConditionGroup
	err := s.pool.QueryRow(ctx, query, id).Scan(&g.ID, &g.Title, &g.Status, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ConditionGroup{}, domain.ErrNotFound
		}
		return domain.ConditionGroup{}, fmt.Errorf("postgres: get condition_group %s: %w", id, err)
	}

	conds, err := s.loadConditions(ctx, id)
	if err != nil {
		return domain.ConditionGroup{}, err
	}
	g.Conditions = conds
	return g, nil
}

// List returns condition groups with pagination and optional time filtering.
// Member conditions are loaded per group.
func (s *GroupStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ConditionGroup, error) {
	query := `SELECT id, title, status, created_at, updated_at FROM condition_groups WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND updated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND updated_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryGroups(ctx, query, args...)
}

// ListActive returns all groups with status "active".
func (s *GroupStore) ListActive(ctx context.Context) ([]domain.ConditionGroup, error) {
	const query = `SELECT id, title, status, created_at, updated_at FROM condition_groups WHERE status = 'active' ORDER BY id`
	return s.queryGroups(ctx, query)
}

// Count returns the total number of condition groups.
func (s *GroupStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM condition_groups`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count condition_groups: %w", err)
	}
	return n, nil
}

func (s *GroupStore) queryGroups(ctx context.Context, query string, args ...any) ([]domain.ConditionGroup, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list condition_groups: %w", err)
	}
	defer rows.Close()

	var list []domain.ConditionGroup
	for rows.Next() {
		var g domain.ConditionGroup
		if err := rows.Scan(&g.ID, &g.Title, &g.Status, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan condition_group: %w", err)
		}
		list = append(list, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list condition_groups rows: %w", err)
	}

	for i := range list {
		conds, err := s.loadConditions(ctx, list[i].ID)
		if err != nil {
			return nil, err
		}
		list[i].Conditions = conds
	}
	return list, nil
}

func (s *GroupStore) loadConditions(ctx context.Context, groupID string) ([]domain.Condition, error) {
	const query = `SELECT idx, label, token_id FROM group_conditions WHERE group_id = $1 ORDER BY idx`
	rows, err := s.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list conditions for group %s: %w", groupID, err)
	}
	defer rows.Close()

	var conds []domain.Condition
	for rows.Next() {
		var c domain.Condition
		if err := rows.Scan(&c.Index, &c.Label, &c.TokenID); err != nil {
			return nil, fmt.Errorf("postgres: scan condition: %w", err)
		}
		conds = append(conds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list conditions rows: %w", err)
	}
	return conds, nil
}
