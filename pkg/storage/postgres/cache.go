package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/observability"
)

const (
	catalogListKey  = "lectern:catalog:list"
	storagePlanKey  = "lectern:catalog:storage-plan"
	defaultCacheTTL = 5 * time.Minute
)

func catalogEntryKey(id int64) string {
	return fmt.Sprintf("lectern:catalog:entry:%d", id)
}

// CatalogCache is a Redis read-through cache over the operator catalog and
// storage plan. Every other ledger method goes straight to the wrapped store.
// Redis failures fall back to the store.
type CatalogCache struct {
	licensing.Store
	redis  *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewCatalogCache wraps store. A non-positive ttl uses five minutes.
func NewCatalogCache(store licensing.Store, client *redis.Client, ttl time.Duration, logger *observability.Logger) *CatalogCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &CatalogCache{Store: store, redis: client, ttl: ttl, logger: logger}
}

// get decodes key into dst and reports a hit. Corrupt entries are dropped.
func (c *CatalogCache) get(ctx context.Context, key string, dst interface{}) bool {
	data, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("catalog cache read failed")
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.redis.Del(ctx, key)
		return false
	}
	return true
}

func (c *CatalogCache) set(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("catalog cache write failed")
	}
}

func (c *CatalogCache) invalidate(ctx context.Context, keys ...string) {
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithError(err).Warn("catalog cache invalidation failed")
	}
}

func (c *CatalogCache) ListCatalogEntries(ctx context.Context) ([]*licensing.CatalogEntry, error) {
	var entries []*licensing.CatalogEntry
	if c.get(ctx, catalogListKey, &entries) {
		return entries, nil
	}
	entries, err := c.Store.ListCatalogEntries(ctx)
	if err != nil {
		return nil, err
	}
	c.set(ctx, catalogListKey, entries)
	return entries, nil
}

func (c *CatalogCache) GetCatalogEntry(ctx context.Context, id int64) (*licensing.CatalogEntry, error) {
	var entry licensing.CatalogEntry
	if c.get(ctx, catalogEntryKey(id), &entry) {
		return &entry, nil
	}
	e, err := c.Store.GetCatalogEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, catalogEntryKey(id), e)
	return e, nil
}

func (c *CatalogCache) UpsertCatalogEntry(ctx context.Context, entry *licensing.CatalogEntry) error {
	if err := c.Store.UpsertCatalogEntry(ctx, entry); err != nil {
		return err
	}
	c.invalidate(ctx, catalogListKey, catalogEntryKey(entry.ID))
	return nil
}

func (c *CatalogCache) GetStoragePlan(ctx context.Context) (*licensing.StoragePlan, error) {
	var plan licensing.StoragePlan
	if c.get(ctx, storagePlanKey, &plan) {
		return &plan, nil
	}
	p, err := c.Store.GetStoragePlan(ctx)
	if err != nil {
		return nil, err
	}
	c.set(ctx, storagePlanKey, p)
	return p, nil
}

func (c *CatalogCache) UpsertStoragePlan(ctx context.Context, plan *licensing.StoragePlan) error {
	if err := c.Store.UpsertStoragePlan(ctx, plan); err != nil {
		return err
	}
	c.invalidate(ctx, storagePlanKey)
	return nil
}
