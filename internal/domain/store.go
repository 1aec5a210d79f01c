package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// GroupStore persists condition groups and their member conditions.
type GroupStore interface {
	Upsert(ctx context.Context, g ConditionGroup) error
	GetByID(ctx context.Context, id string) (ConditionGroup, error)
	List(ctx context.Context, opts ListOpts) ([]ConditionGroup, error)
	ListActive(ctx context.Context) ([]ConditionGroup, error)
	Count(ctx context.Context) (int64, error)
}

// RuleStore persists dependency rules per group.
type RuleStore interface {
	Create(ctx context.Context, r DependencyRule) error
	ReplaceForGroup(ctx context.Context, groupID string, rules []DependencyRule) error
	ListByGroup(ctx context.Context, groupID string) ([]DependencyRule, error)
	DeleteByGroup(ctx context.Context, groupID string) error
}

// RunStore persists projection runs.
type RunStore interface {
	Insert(ctx context.Context, run ProjectionRun) error
	GetByID(ctx context.Context, id string) (ProjectionRun, error)
	ListRecent(ctx context.Context, limit int) ([]ProjectionRun, error)
	ListByGroup(ctx context.Context, groupID string, opts ListOpts) ([]ProjectionRun, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]ProjectionRun, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
