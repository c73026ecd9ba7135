// Package memory implements every lectern store in process memory. It backs
// tests and single-process development servers; nothing survives a restart.
package memory

import (
	"context"
	"sync"

	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/content"
	"github.com/platinummonkey/lectern/pkg/institutes"
	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/payments"
	"github.com/platinummonkey/lectern/pkg/permissions"
	"github.com/platinummonkey/lectern/pkg/quota"
)

// Store holds all state behind a single mutex, so every method is atomic
type Store struct {
	mu     sync.Mutex
	nextID int64

	catalog      map[int64]*licensing.CatalogEntry
	storagePlan  *licensing.StoragePlan
	coupons      map[int64]*licensing.Coupon
	selections   map[int64]*licensing.SelectedLicense
	orders       map[int64]*licensing.Order
	licenseStats map[int64]*licensing.LicenseStatistics

	instituteStats map[int64]*quota.InstituteStatistics
	subjectStorage map[int64]float64

	institutePerms map[string]*permissions.InstitutePermission
	scopePerms     map[string]*permissions.ScopePermission

	institutes map[int64]*institutes.Institute
	classes    map[int64]*institutes.Class
	subjects   map[int64]*institutes.Subject
	sections   map[int64]*institutes.Section

	materials map[int64]*content.Material
	callbacks []*payments.CallbackRecord

	principals map[string]*auth.Principal
	tokens     map[string]string
}

// New creates an empty store
func New() *Store {
	return &Store{
		catalog:        make(map[int64]*licensing.CatalogEntry),
		coupons:        make(map[int64]*licensing.Coupon),
		selections:     make(map[int64]*licensing.SelectedLicense),
		orders:         make(map[int64]*licensing.Order),
		licenseStats:   make(map[int64]*licensing.LicenseStatistics),
		instituteStats: make(map[int64]*quota.InstituteStatistics),
		subjectStorage: make(map[int64]float64),
		institutePerms: make(map[string]*permissions.InstitutePermission),
		scopePerms:     make(map[string]*permissions.ScopePermission),
		institutes:     make(map[int64]*institutes.Institute),
		classes:        make(map[int64]*institutes.Class),
		subjects:       make(map[int64]*institutes.Subject),
		sections:       make(map[int64]*institutes.Section),
		materials:      make(map[int64]*content.Material),
		principals:     make(map[string]*auth.Principal),
		tokens:         make(map[string]string),
	}
}

// id returns the next identifier; callers hold mu
func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// HealthCheck always succeeds
func (s *Store) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}
