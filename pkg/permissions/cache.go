package permissions

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/observability"
)

// CacheConfig sizes the permission lookup cache
type CacheConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// DefaultCacheConfig returns defaults suited to a single API process
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{MaxEntries: 10000, TTL: 30 * time.Second}
}

// cachedInstitute is a lookup result; a nil perm records a miss in the store
type cachedInstitute struct {
	perm *InstitutePermission
}

type cachedScope struct {
	perm *ScopePermission
}

// CachedStore caches the two lookups made on every authorization. Writes
// through this store invalidate the affected entries; writes made by other
// processes become visible after the TTL.
//
// Every write bumps a generation counter. A lookup only fills the cache if no
// write completed while it was reading the backing store, so a read that
// raced a revoke can never re-insert the revoked row.
type CachedStore struct {
	Store
	institutes *lru.LRU[string, cachedInstitute]
	scopes     *lru.LRU[string, cachedScope]
	metrics    *observability.Metrics

	mu           sync.Mutex
	instituteGen uint64
	scopeGen     uint64
}

// NewCachedStore wraps store with an expiring LRU
func NewCachedStore(store Store, cfg CacheConfig, metrics *observability.Metrics) *CachedStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig().MaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}
	return &CachedStore{
		Store:      store,
		institutes: lru.NewLRU[string, cachedInstitute](cfg.MaxEntries, nil, cfg.TTL),
		scopes:     lru.NewLRU[string, cachedScope](cfg.MaxEntries, nil, cfg.TTL),
		metrics:    metrics,
	}
}

func instituteKey(instituteID int64, inviteeID string) string {
	return fmt.Sprintf("%d:%s", instituteID, inviteeID)
}

func scopeKey(kind ScopeKind, entityID int64, inviteeID string) string {
	return fmt.Sprintf("%s:%d:%s", kind, entityID, inviteeID)
}

func (c *CachedStore) instituteGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instituteGen
}

func (c *CachedStore) scopeGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scopeGen
}

// fillInstitute caches entry unless a write happened since gen was read
func (c *CachedStore) fillInstitute(gen uint64, key string, entry cachedInstitute) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.instituteGen {
		c.institutes.Add(key, entry)
	}
}

func (c *CachedStore) fillScope(gen uint64, key string, entry cachedScope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.scopeGen {
		c.scopes.Add(key, entry)
	}
}

func (c *CachedStore) invalidateInstitute(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instituteGen++
	c.institutes.Remove(key)
}

func (c *CachedStore) invalidateScope(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopeGen++
	c.scopes.Remove(key)
}

func (c *CachedStore) invalidateAllScopes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopeGen++
	c.scopes.Purge()
}

// GetInstitutePermission serves from cache when possible
func (c *CachedStore) GetInstitutePermission(ctx context.Context, instituteID int64, inviteeID string) (*InstitutePermission, error) {
	key := instituteKey(instituteID, inviteeID)
	if entry, ok := c.institutes.Get(key); ok {
		c.metrics.RecordPermissionCache(true)
		if entry.perm == nil {
			return nil, apperr.NotFound("institute permission")
		}
		cp := *entry.perm
		return &cp, nil
	}
	c.metrics.RecordPermissionCache(false)

	gen := c.instituteGeneration()
	perm, err := c.Store.GetInstitutePermission(ctx, instituteID, inviteeID)
	if err != nil {
		if apperr.IsNotFound(err) {
			c.fillInstitute(gen, key, cachedInstitute{})
		}
		return nil, err
	}
	cp := *perm
	c.fillInstitute(gen, key, cachedInstitute{perm: &cp})
	return perm, nil
}

// CreateInstitutePermission invalidates the invitee's entry
func (c *CachedStore) CreateInstitutePermission(ctx context.Context, perm *InstitutePermission) error {
	defer c.invalidateInstitute(instituteKey(perm.InstituteID, perm.InviteeID))
	return c.Store.CreateInstitutePermission(ctx, perm)
}

// ActivateInstitutePermission invalidates the invitee's entry
func (c *CachedStore) ActivateInstitutePermission(ctx context.Context, instituteID int64, inviteeID string, acceptedOn int64) (bool, error) {
	defer c.invalidateInstitute(instituteKey(instituteID, inviteeID))
	return c.Store.ActivateInstitutePermission(ctx, instituteID, inviteeID, acceptedOn)
}

// DeleteInstitutePermission invalidates the invitee's entry
func (c *CachedStore) DeleteInstitutePermission(ctx context.Context, instituteID int64, inviteeID string) (bool, error) {
	defer c.invalidateInstitute(instituteKey(instituteID, inviteeID))
	return c.Store.DeleteInstitutePermission(ctx, instituteID, inviteeID)
}

// FindScopePermission serves from cache when possible
func (c *CachedStore) FindScopePermission(ctx context.Context, kind ScopeKind, entityID int64, inviteeID string) (*ScopePermission, error) {
	key := scopeKey(kind, entityID, inviteeID)
	if entry, ok := c.scopes.Get(key); ok {
		c.metrics.RecordPermissionCache(true)
		if entry.perm == nil {
			return nil, nil
		}
		cp := *entry.perm
		return &cp, nil
	}
	c.metrics.RecordPermissionCache(false)

	gen := c.scopeGeneration()
	perm, err := c.Store.FindScopePermission(ctx, kind, entityID, inviteeID)
	if err != nil {
		return nil, err
	}
	if perm == nil {
		c.fillScope(gen, key, cachedScope{})
		return nil, nil
	}
	cp := *perm
	c.fillScope(gen, key, cachedScope{perm: &cp})
	return perm, nil
}

// CreateScopePermission invalidates the grant's entry
func (c *CachedStore) CreateScopePermission(ctx context.Context, perm *ScopePermission) error {
	defer c.invalidateScope(scopeKey(perm.Kind, perm.EntityID, perm.InviteeID))
	return c.Store.CreateScopePermission(ctx, perm)
}

// DeleteScopePermission invalidates the grant's entry
func (c *CachedStore) DeleteScopePermission(ctx context.Context, kind ScopeKind, entityID int64, inviteeID string) (bool, error) {
	defer c.invalidateScope(scopeKey(kind, entityID, inviteeID))
	return c.Store.DeleteScopePermission(ctx, kind, entityID, inviteeID)
}

// DeleteScopePermissionsForInvitee drops every cached scope entry since the
// affected keys are not known up front.
func (c *CachedStore) DeleteScopePermissionsForInvitee(ctx context.Context, instituteID int64, inviteeID string) (int64, error) {
	defer c.invalidateAllScopes()
	return c.Store.DeleteScopePermissionsForInvitee(ctx, instituteID, inviteeID)
}
