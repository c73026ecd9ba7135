package memory

import (
	"context"
	"sort"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/quota"
)

var _ licensing.Store = (*Store)(nil)

func copyOrder(o *licensing.Order) *licensing.Order {
	cp := *o
	return &cp
}

// ListCatalogEntries returns every catalog entry by id
func (s *Store) ListCatalogEntries(ctx context.Context) ([]*licensing.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*licensing.CatalogEntry, 0, len(s.catalog))
	for _, e := range s.catalog {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetCatalogEntry(ctx context.Context, id int64) (*licensing.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.catalog[id]
	if !ok {
		return nil, apperr.NotFound("catalog entry")
	}
	cp := *e
	return &cp, nil
}

func (s *Store) UpsertCatalogEntry(ctx context.Context, entry *licensing.CatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == 0 {
		entry.ID = s.id()
	} else if entry.ID > s.nextID {
		s.nextID = entry.ID
	}
	cp := *entry
	s.catalog[entry.ID] = &cp
	return nil
}

func (s *Store) GetStoragePlan(ctx context.Context) (*licensing.StoragePlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storagePlan == nil {
		return nil, apperr.NotFound("storage plan")
	}
	cp := *s.storagePlan
	return &cp, nil
}

func (s *Store) UpsertStoragePlan(ctx context.Context, plan *licensing.StoragePlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if plan.ID == 0 {
		plan.ID = 1
	}
	cp := *plan
	s.storagePlan = &cp
	return nil
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*licensing.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.coupons {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("coupon")
}

func (s *Store) UpsertCoupon(ctx context.Context, coupon *licensing.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.coupons {
		if c.Code == coupon.Code {
			c.Discount = coupon.Discount
			c.ExpiryDate = coupon.ExpiryDate
			coupon.ID = c.ID
			coupon.Active = c.Active
			coupon.CreatedOn = c.CreatedOn
			return nil
		}
	}
	coupon.ID = s.id()
	cp := *coupon
	s.coupons[coupon.ID] = &cp
	return nil
}

func (s *Store) DeleteUnconsumedSelections(ctx context.Context, instituteID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sel := range s.selections {
		if sel.InstituteID == instituteID && !sel.PaymentIDGenerated {
			delete(s.selections, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateSelectedLicense(ctx context.Context, sel *licensing.SelectedLicense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel.ID = s.id()
	cp := *sel
	s.selections[sel.ID] = &cp
	return nil
}

func (s *Store) GetSelectedLicense(ctx context.Context, id int64) (*licensing.SelectedLicense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, ok := s.selections[id]
	if !ok {
		return nil, apperr.NotFound("selected license")
	}
	cp := *sel
	return &cp, nil
}

func (s *Store) MarkSelectionConsumed(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, ok := s.selections[id]
	if !ok {
		return apperr.NotFound("selected license")
	}
	sel.PaymentIDGenerated = true
	return nil
}

func isPending(o *licensing.Order) bool {
	return !o.Paid && !o.Active
}

func (s *Store) CreateOrder(ctx context.Context, order *licensing.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		switch order.Product {
		case licensing.ProductCommon:
			if o.SelectedLicenseID != nil && order.SelectedLicenseID != nil && *o.SelectedLicenseID == *order.SelectedLicenseID {
				return apperr.Conflict("order already exists for selected license")
			}
		case licensing.ProductStorage:
			if o.Product == licensing.ProductStorage && o.InstituteID == order.InstituteID && isPending(o) &&
				o.NoOfGB == order.NoOfGB && o.Months == order.Months {
				return apperr.Conflict("pending storage order already exists")
			}
		}
	}
	order.ID = s.id()
	s.orders[order.ID] = copyOrder(order)
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*licensing.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFound("license order")
	}
	return copyOrder(o), nil
}

func (s *Store) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*licensing.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if gatewayOrderID != "" && o.GatewayOrderID == gatewayOrderID {
			return copyOrder(o), nil
		}
	}
	return nil, apperr.NotFound("license order")
}

func (s *Store) FindOrderBySelection(ctx context.Context, selectedLicenseID int64) (*licensing.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.SelectedLicenseID != nil && *o.SelectedLicenseID == selectedLicenseID {
			return copyOrder(o), nil
		}
	}
	return nil, nil
}

func (s *Store) FindPendingStorageOrder(ctx context.Context, instituteID int64, noOfGB, months int) (*licensing.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.Product == licensing.ProductStorage && o.InstituteID == instituteID && isPending(o) &&
			o.NoOfGB == noOfGB && o.Months == months {
			return copyOrder(o), nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateOrderGateway(ctx context.Context, id int64, gateway licensing.Gateway, gatewayOrderID, receipt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return apperr.NotFound("license order")
	}
	o.Gateway = gateway
	o.GatewayOrderID = gatewayOrderID
	o.Receipt = receipt
	return nil
}

// filterOrders returns copies of matching orders, newest first; callers hold mu
func (s *Store) filterOrders(match func(*licensing.Order) bool) []*licensing.Order {
	var out []*licensing.Order
	for _, o := range s.orders {
		if match(o) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderCreatedOn != out[j].OrderCreatedOn {
			return out[i].OrderCreatedOn > out[j].OrderCreatedOn
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *Store) ListOrders(ctx context.Context, instituteID int64, product licensing.ProductType) ([]*licensing.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterOrders(func(o *licensing.Order) bool {
		return o.InstituteID == instituteID && o.Product == product
	}), nil
}

func (s *Store) LatestCurrentOrder(ctx context.Context, instituteID int64, product licensing.ProductType, nowMillis int64) (*licensing.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := s.filterOrders(func(o *licensing.Order) bool {
		return o.InstituteID == instituteID && o.Product == product && o.IsCurrent(nowMillis)
	})
	if len(orders) == 0 {
		return nil, nil
	}
	return orders[0], nil
}

func (s *Store) LatestPaidOrder(ctx context.Context, instituteID int64, product licensing.ProductType) (*licensing.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := s.filterOrders(func(o *licensing.Order) bool {
		return o.InstituteID == instituteID && o.Product == product && o.Paid
	})
	if len(orders) == 0 {
		return nil, nil
	}
	return orders[0], nil
}

func (s *Store) ListExpiredActiveOrders(ctx context.Context, instituteID int64, product licensing.ProductType, nowMillis int64) ([]*licensing.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterOrders(func(o *licensing.Order) bool {
		return o.InstituteID == instituteID && o.Product == product && o.Paid && o.Active && o.EndDate <= nowMillis
	}), nil
}

func (s *Store) ListStaleUnpaidOrders(ctx context.Context, instituteID int64, product licensing.ProductType, cutoffMillis int64) ([]*licensing.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterOrders(func(o *licensing.Order) bool {
		return o.InstituteID == instituteID && o.Product == product && !o.Paid && o.OrderCreatedOn < cutoffMillis
	}), nil
}

func (s *Store) ListInstitutesWithOrders(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]bool)
	var out []int64
	for _, o := range s.orders {
		if !seen[o.InstituteID] {
			seen[o.InstituteID] = true
			out = append(out, o.InstituteID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) DeleteUnpaidOrder(ctx context.Context, id, instituteID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Paid || o.InstituteID != instituteID {
		return false, nil
	}
	delete(s.orders, id)
	if o.SelectedLicenseID != nil {
		delete(s.selections, *o.SelectedLicenseID)
	}
	return true, nil
}

func (s *Store) ActivateOrder(ctx context.Context, params licensing.ActivateParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[params.OrderID]
	if !ok {
		return false, apperr.NotFound("license order")
	}
	if o.Paid {
		return false, nil
	}

	o.Paid = true
	o.Active = true
	o.GatewayPaymentID = params.PaymentID
	o.PaymentDate = params.PaidOn
	o.StartDate = params.StartDate
	o.EndDate = params.EndDate

	switch o.Product {
	case licensing.ProductCommon:
		if o.SelectedLicenseID != nil {
			if sel, ok := s.selections[*o.SelectedLicenseID]; ok && sel.CouponID != nil {
				if c, ok := s.coupons[*sel.CouponID]; ok {
					c.Active = false
				}
			}
		}
	case licensing.ProductStorage:
		stats := s.licenseStatsFor(o.InstituteID)
		stats.TotalStorage = quota.RoundGB(stats.TotalStorage + float64(o.NoOfGB))
		if o.EndDate > stats.StorageLicenseEndDate {
			stats.StorageLicenseEndDate = o.EndDate
		}
	}
	return true, nil
}

func (s *Store) ExpireOrder(ctx context.Context, id int64, nowMillis int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || !o.Paid || !o.Active || o.EndDate > nowMillis {
		return false, nil
	}
	o.Active = false

	if o.Product == licensing.ProductStorage {
		stats := s.licenseStatsFor(o.InstituteID)
		stats.TotalStorage = quota.RoundGB(stats.TotalStorage - float64(o.NoOfGB))
		if stats.TotalStorage < 0 {
			stats.TotalStorage = 0
		}
		var end int64
		for _, other := range s.orders {
			if other.InstituteID == o.InstituteID && other.Product == licensing.ProductStorage &&
				other.Paid && other.Active && other.EndDate > end {
				end = other.EndDate
			}
		}
		stats.StorageLicenseEndDate = end
	}
	return true, nil
}

// licenseStatsFor returns the live statistics row, creating it; callers hold mu
func (s *Store) licenseStatsFor(instituteID int64) *licensing.LicenseStatistics {
	stats, ok := s.licenseStats[instituteID]
	if !ok {
		stats = &licensing.LicenseStatistics{InstituteID: instituteID}
		s.licenseStats[instituteID] = stats
	}
	return stats
}

func (s *Store) InitLicenseStatistics(ctx context.Context, instituteID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.licenseStatsFor(instituteID)
	return nil
}

func (s *Store) GetLicenseStatistics(ctx context.Context, instituteID int64) (*licensing.LicenseStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.licenseStats[instituteID]
	if !ok {
		return nil, apperr.NotFound("license statistics")
	}
	cp := *stats
	return &cp, nil
}
