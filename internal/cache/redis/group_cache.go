package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantale/polyarb/internal/domain"
)

// GroupCache implements domain.GroupCache using Redis hashes with
// JSON-serialized ConditionGroup data and a secondary token-to-group index.
//
// Key schema:
//
//	grp:{id}          - hash with field "data" containing JSON
//	grp:tok:{tokenID} - string value of the group ID
type GroupCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewGroupCache creates a GroupCache backed by the given Client.
func NewGroupCache(c *Client, ttl time.Duration) *GroupCache {
	return &GroupCache{rdb: c.Underlying(), ttl: ttl}
}

func grpKey(id string) string       { return "grp:" + id }
func grpTokenKey(tok string) string { return "grp:tok:" + tok }

// Set stores a ConditionGroup and refreshes the token index for each member
// condition that carries a token ID.
func (c *GroupCache) Set(ctx context.Context, g domain.ConditionGroup) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("redis: marshal group %s: %w", g.ID, err)
	}

	key := grpKey(g.ID)

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, c.ttl)
	for _, cond := range g.Conditions {
		if cond.TokenID == "" {
			continue
		}
		pipe.Set(ctx, grpTokenKey(cond.TokenID), g.ID, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set group %s: %w", g.ID, err)
	}
	return nil
}

// Get retrieves a ConditionGroup by its ID.
// It returns domain.ErrNotFound when the key does not exist.
func (c *GroupCache) Get(ctx context.Context, id string) (domain.ConditionGroup, error) {
	data, err := c.rdb.HGet(ctx, grpKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ConditionGroup{}, domain.ErrNotFound
		}
		return domain.ConditionGroup{}, fmt.Errorf("redis: get group %s: %w", id, err)
	}

	var g domain.ConditionGroup
	if err := json.Unmarshal(data, &g); err != nil {
		return domain.ConditionGroup{}, fmt.Errorf("redis: unmarshal group %s: %w", id, err)
	}
	return g, nil
}

// GetByTokenID looks up a ConditionGroup by one of its member token IDs.
// It returns domain.ErrNotFound if the mapping or group does not exist.
func (c *GroupCache) GetByTokenID(ctx context.Context, tokenID string) (domain.ConditionGroup, error) {
	groupID, err := c.rdb.Get(ctx, grpTokenKey(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ConditionGroup{}, domain.ErrNotFound
		}
		return domain.ConditionGroup{}, fmt.Errorf("redis: get group by token %s: %w", tokenID, err)
	}

	return c.Get(ctx, groupID)
}

// Invalidate removes a ConditionGroup and its token index entries.
func (c *GroupCache) Invalidate(ctx context.Context, id string) error {
	g, err := c.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, grpKey(id))
	for _, cond := range g.Conditions {
		if cond.TokenID != "" {
			pipe.Del(ctx, grpTokenKey(cond.TokenID))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate group %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.GroupCache = (*GroupCache)(nil)
