package licensing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/lectern/pkg/observability"
)

// CatalogFile is the operator-maintained product definition file
//
//	catalog:
//	  - id: 1
//	    name: Starter
//	    price: 1000
//	    gst_percent: 18
//	    billing_cycle: MONTHLY
//	    no_of_admin: 2
//	    storage: 5
//	    lms: true
//	    active: true
//	storage_plan:
//	  id: 1
//	  price_per_gb: 10
//	  gst_percent: 18
//	coupons:
//	  - code: WELCOME100
//	    discount: 100
//	    expires_at: 2027-01-01T00:00:00Z
type CatalogFile struct {
	Catalog     []*CatalogEntry `yaml:"catalog"`
	StoragePlan *StoragePlan    `yaml:"storage_plan"`
	Coupons     []CouponSeed    `yaml:"coupons"`
}

// CouponSeed is a coupon as written in the catalog file
type CouponSeed struct {
	Code      string    `yaml:"code"`
	Discount  float64   `yaml:"discount"`
	ExpiresAt time.Time `yaml:"expires_at"`
}

// LoadCatalogFile reads and validates a catalog file
func LoadCatalogFile(path string) (*CatalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks the catalog file for operator mistakes
func (f *CatalogFile) Validate() error {
	seen := make(map[int64]bool)
	for _, e := range f.Catalog {
		if e.ID <= 0 {
			return fmt.Errorf("catalog entry %q: id must be positive", e.Name)
		}
		if seen[e.ID] {
			return fmt.Errorf("catalog entry %d: duplicate id", e.ID)
		}
		seen[e.ID] = true
		if e.Price < 0 || e.GSTPercent < 0 || e.DiscountPercent < 0 || e.DiscountPercent > 100 {
			return fmt.Errorf("catalog entry %d: invalid pricing", e.ID)
		}
		if !e.BillingCycle.Valid() {
			return fmt.Errorf("catalog entry %d: unknown billing cycle %q", e.ID, e.BillingCycle)
		}
	}
	for _, c := range f.Coupons {
		if strings.TrimSpace(c.Code) == "" {
			return fmt.Errorf("coupon code is required")
		}
		if c.Discount <= 0 {
			return fmt.Errorf("coupon %s: discount must be positive", c.Code)
		}
	}
	return nil
}

// ApplyCatalog upserts the file's catalog, storage plan and coupons.
// Coupons already present keep their used/unused state.
func (s *Service) ApplyCatalog(ctx context.Context, file *CatalogFile) error {
	now := s.nowMillis()
	for _, e := range file.Catalog {
		entry := *e
		if entry.CreatedOn == 0 {
			entry.CreatedOn = now
		}
		if err := s.store.UpsertCatalogEntry(ctx, &entry); err != nil {
			return fmt.Errorf("failed to upsert catalog entry %d: %w", entry.ID, err)
		}
	}
	if file.StoragePlan != nil {
		if err := s.store.UpsertStoragePlan(ctx, file.StoragePlan); err != nil {
			return fmt.Errorf("failed to upsert storage plan: %w", err)
		}
	}
	for _, c := range file.Coupons {
		coupon := &Coupon{
			Code:       strings.TrimSpace(c.Code),
			Discount:   c.Discount,
			ExpiryDate: Millis(c.ExpiresAt),
			Active:     true,
			CreatedOn:  now,
		}
		if err := s.store.UpsertCoupon(ctx, coupon); err != nil {
			return fmt.Errorf("failed to upsert coupon %s: %w", coupon.Code, err)
		}
	}
	s.logger.WithFields(map[string]interface{}{
		"catalog_entries": len(file.Catalog),
		"coupons":         len(file.Coupons),
	}).Info("license catalog applied")
	return nil
}

// CatalogWatcher re-applies the catalog file whenever it changes on disk
type CatalogWatcher struct {
	service  *Service
	path     string
	debounce time.Duration
	logger   *observability.Logger

	// OnReload, if set, is called after every reload attempt
	OnReload func(err error)
}

// NewCatalogWatcher creates a watcher for path
func NewCatalogWatcher(service *Service, path string, logger *observability.Logger) *CatalogWatcher {
	return &CatalogWatcher{
		service:  service,
		path:     path,
		debounce: 500 * time.Millisecond,
		logger:   logger,
	}
}

// Watch blocks until ctx is done, reloading the catalog on change. The parent
// directory is watched so editors that replace the file are handled.
func (w *CatalogWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	target := filepath.Clean(w.path)
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.After(w.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("catalog watcher error")

		case <-pending:
			pending = nil
			w.reload(ctx)
		}
	}
}

func (w *CatalogWatcher) reload(ctx context.Context) {
	file, err := LoadCatalogFile(w.path)
	if err == nil {
		err = w.service.ApplyCatalog(ctx, file)
	}
	if err != nil {
		w.logger.WithError(err).WithField("path", w.path).Error("failed to reload license catalog")
	}
	if w.OnReload != nil {
		w.OnReload(err)
	}
}
