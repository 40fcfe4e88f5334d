package vectorstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// CachedStore memoizes HasIndex probes. Every other call goes straight to
// the wrapped store; EnsureIndex and DropIndex keep the cache in step.
type CachedStore struct {
	Store
	cache *cache.Cache
}

func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedStore{
		Store: inner,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *CachedStore) HasIndex(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	name := IndexName(sessionID)
	if v, found := c.cache.Get(name); found {
		return v.(bool), nil
	}

	ok, err := c.Store.HasIndex(ctx, sessionID)
	if err != nil {
		return false, err
	}
	c.cache.SetDefault(name, ok)
	return ok, nil
}

func (c *CachedStore) EnsureIndex(ctx context.Context, sessionID uuid.UUID) error {
	if err := c.Store.EnsureIndex(ctx, sessionID); err != nil {
		c.cache.Delete(IndexName(sessionID))
		return err
	}
	c.cache.SetDefault(IndexName(sessionID), true)
	return nil
}

func (c *CachedStore) DropIndex(ctx context.Context, sessionID uuid.UUID) error {
	err := c.Store.DropIndex(ctx, sessionID)
	switch {
	case err == nil, errors.Is(err, ErrIndexNotFound):
		c.cache.SetDefault(IndexName(sessionID), false)
	default:
		c.cache.Delete(IndexName(sessionID))
	}
	return err
}
