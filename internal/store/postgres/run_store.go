package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantale/polyarb/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

var _ domain.RunStore = (*RunStore)(nil)

const runColumns = `id, group_id, theta, mu, profit, gap, iterations, status, directions, created_at`

// Insert persists one projection run.
func (s *RunStore) Insert(ctx context.Context, run domain.ProjectionRun) error {
	const query = `
		INSERT INTO projection_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	directions := make([]string, len(run.Directions))
	for i, d := range run.Directions {
		directions[i] = string(d)
	}
	_, err := s.pool.Exec(ctx, query,
		run.ID, run.GroupID, run.Theta, run.Mu, run.Profit, run.Gap,
		run.Iterations, string(run.Status), directions, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert projection_run %s: %w", run.ID, err)
	}
	return nil
}

// GetByID returns a projection run by id.
func (s *RunStore) GetByID(ctx context.Context, id string) (domain.ProjectionRun, error) {
	const query = `SELECT ` + runColumns + ` FROM projection_runs WHERE id = $1`
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ProjectionRun{}, domain.ErrNotFound
		}
		return domain.ProjectionRun{}, fmt.Errorf("postgres: get projection_run %s: %w", id, err)
	}
	return run, nil
}

// ListRecent returns the newest runs across all groups.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]domain.ProjectionRun, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ` + runColumns + ` FROM projection_runs ORDER BY created_at DESC LIMIT $1`
	return s.queryRuns(ctx, query, limit)
}

// ListByGroup returns a group's runs, newest first.
func (s *RunStore) ListByGroup(ctx context.Context, groupID string, opts domain.ListOpts) ([]domain.ProjectionRun, error) {
	query := `SELECT ` + runColumns + ` FROM projection_runs WHERE group_id = $1`
	args := []any{groupID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryRuns(ctx, query, args...)
}

// ListBefore returns up to limit runs created before cutoff, oldest first.
// The archiver pages through history with it.
func (s *RunStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ProjectionRun, error) {
	if limit <= 0 {
		limit = 1000
	}
	const query = `SELECT ` + runColumns + ` FROM projection_runs WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2`
	return s.queryRuns(ctx, query, cutoff, limit)
}

// DeleteBefore removes runs created before cutoff and reports how many rows
// were deleted.
func (s *RunStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projection_runs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete projection_runs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *RunStore) queryRuns(ctx context.Context, query string, args ...any) ([]domain.ProjectionRun, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list projection_runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.ProjectionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan projection_run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list projection_runs rows: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (domain.ProjectionRun, error) {
	var run domain.ProjectionRun
	var status string
	var directions []string
	err := row.Scan(&run.ID, &run.GroupID, &run.Theta, &run.Mu, &run.Profit, &run.Gap,
		&run.Iterations, &status, &directions, &run.CreatedAt)
	if err != nil {
		return domain.ProjectionRun{}, err
	}
	run.Status = domain.ProjectionStatus(status)
	run.Directions = make([]domain.TradeDirection, len(directions))
	for i, d := range directions {
		run.Directions[i] = domain.TradeDirection(d)
	}
	return run, nil
}
