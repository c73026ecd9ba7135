package licensing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/observability"
)

// Service is the entitlement ledger
type Service struct {
	store       Store
	access      AccessChecker
	gateways    map[Gateway]GatewayClient
	logger      *observability.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	currency    string
	unpaidGrace time.Duration
	reconciles  singleflight.Group
}

// Option configures a Service
type Option func(*Service)

// WithGateway registers a gateway client
func WithGateway(client GatewayClient) Option {
	return func(s *Service) { s.gateways[client.Name()] = client }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCurrency sets the order currency (default INR)
func WithCurrency(currency string) Option {
	return func(s *Service) { s.currency = currency }
}

// WithUnpaidGrace overrides how long unpaid orders survive reconcile
func WithUnpaidGrace(d time.Duration) Option {
	return func(s *Service) { s.unpaidGrace = d }
}

// NewService creates a ledger service
func NewService(store Store, access AccessChecker, opts ...Option) *Service {
	s := &Service{
		store:       store,
		access:      access,
		gateways:    make(map[Gateway]GatewayClient),
		logger:      observability.NewNopLogger(),
		now:         time.Now,
		currency:    "INR",
		unpaidGrace: DefaultUnpaidGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) nowMillis() int64 {
	return Millis(s.now())
}

// InitInstitute creates the zeroed license statistics row for a new institute
func (s *Service) InitInstitute(ctx context.Context, instituteID int64) error {
	if err := s.store.InitLicenseStatistics(ctx, instituteID); err != nil {
		return fmt.Errorf("failed to init license statistics: %w", err)
	}
	return nil
}

// ListCatalog returns the active common license catalog
func (s *Service) ListCatalog(ctx context.Context) ([]*CatalogEntry, error) {
	entries, err := s.store.ListCatalogEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog: %w", err)
	}
	active := make([]*CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if e.Active {
			active = append(active, e)
		}
	}
	return active, nil
}

// StoragePlan returns the current storage license pricing
func (s *Service) StoragePlan(ctx context.Context) (*StoragePlan, error) {
	plan, err := s.store.GetStoragePlan(ctx)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.Internal("storage plan is not configured", err)
		}
		return nil, fmt.Errorf("failed to get storage plan: %w", err)
	}
	return plan, nil
}

// ValidateCoupon checks that a coupon exists, is unused and has not expired
func (s *Service) ValidateCoupon(ctx context.Context, code string) (*Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.Validation("coupon_code", "Coupon code is required.")
	}
	coupon, err := s.store.GetCouponByCode(ctx, code)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.Validation("coupon_code", "Invalid coupon code.")
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	if !coupon.Active {
		return nil, apperr.Validation("coupon_code", "Coupon has already been used.")
	}
	if coupon.ExpiryDate <= s.nowMillis() {
		return nil, apperr.Validation("coupon_code", "Coupon has expired.")
	}
	return coupon, nil
}

// SelectLicense snapshots a catalog entry into the institute's cart, replacing
// any earlier unconsumed selection.
func (s *Service) SelectLicense(ctx context.Context, principalID string, instituteID, catalogEntryID int64, couponCode string) (*SelectedLicense, error) {
	if err := s.access.RequireAdmin(ctx, instituteID, principalID); err != nil {
		return nil, err
	}

	entry, err := s.store.GetCatalogEntry(ctx, catalogEntryID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("license")
		}
		return nil, fmt.Errorf("failed to get catalog entry: %w", err)
	}
	if !entry.Active {
		return nil, apperr.NotFound("license")
	}

	var coupon *Coupon
	if strings.TrimSpace(couponCode) != "" {
		if coupon, err = s.ValidateCoupon(ctx, couponCode); err != nil {
			return nil, err
		}
	}

	if _, err := s.store.DeleteUnconsumedSelections(ctx, instituteID); err != nil {
		return nil, fmt.Errorf("failed to purge previous selections: %w", err)
	}

	sel := &SelectedLicense{
		InstituteID:     instituteID,
		CatalogEntryID:  entry.ID,
		Name:            entry.Name,
		Price:           entry.Price,
		GSTPercent:      entry.GSTPercent,
		DiscountPercent: entry.DiscountPercent,
		BillingCycle:    entry.BillingCycle,
		Limits:          entry.Limits,
		SelectedBy:      principalID,
		SelectedOn:      s.nowMillis(),
	}
	if coupon != nil {
		id := coupon.ID
		sel.CouponID = &id
		sel.CouponDiscount = coupon.Discount
	}
	sel.NetAmount = NetAmount(sel.Price, sel.DiscountPercent, sel.GSTPercent, sel.CouponDiscount)

	if err := s.store.CreateSelectedLicense(ctx, sel); err != nil {
		return nil, fmt.Errorf("failed to create selected license: %w", err)
	}
	return sel, nil
}

// CreateCommonLicenseOrder creates the order for a selection. Calling it again
// for the same selection returns the existing order's credentials, switching
// gateway if requested.
func (s *Service) CreateCommonLicenseOrder(ctx context.Context, principalID string, instituteID, selectedLicenseID int64, gateway Gateway) (*Order, *PaymentCredentials, error) {
	if err := s.access.RequireAdmin(ctx, instituteID, principalID); err != nil {
		return nil, nil, err
	}
	if !gateway.Valid() {
		return nil, nil, apperr.Validation("payment_gateway", "Unsupported payment gateway.")
	}

	sel, err := s.store.GetSelectedLicense(ctx, selectedLicenseID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, nil, apperr.NotFound("selected license")
		}
		return nil, nil, fmt.Errorf("failed to get selected license: %w", err)
	}
	if sel.InstituteID != instituteID {
		return nil, nil, apperr.NotFound("selected license")
	}

	existing, err := s.store.FindOrderBySelection(ctx, sel.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find order: %w", err)
	}
	if existing != nil {
		return s.resumeOrder(ctx, existing, gateway)
	}

	selID := sel.ID
	order := &Order{
		InstituteID:       instituteID,
		Product:           ProductCommon,
		SelectedLicenseID: &selID,
		Gateway:           gateway,
		Amount:            sel.NetAmount,
		Currency:          s.currency,
		OrderCreatedOn:    s.nowMillis(),
		CreatedBy:         principalID,
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		if apperr.IsConflict(err) {
			// lost a race with a concurrent create for the same selection
			if existing, ferr := s.store.FindOrderBySelection(ctx, sel.ID); ferr == nil && existing != nil {
				return s.resumeOrder(ctx, existing, gateway)
			}
		}
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}
	if err := s.store.MarkSelectionConsumed(ctx, sel.ID); err != nil {
		return nil, nil, fmt.Errorf("failed to mark selection consumed: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"institute_id": instituteID,
		"order_id":     order.ID,
		"amount":       order.Amount,
	}).Info("common license order created")

	creds, err := s.ensureGatewayOrder(ctx, order)
	if err != nil {
		return nil, nil, err
	}
	return order, creds, nil
}

// CreateStorageLicenseOrder creates an order for gb gigabytes over months
// months, reusing a matching pending order when one exists.
func (s *Service) CreateStorageLicenseOrder(ctx context.Context, principalID string, instituteID int64, noOfGB, months int, gateway Gateway) (*Order, *PaymentCredentials, error) {
	if err := s.access.RequireAdmin(ctx, instituteID, principalID); err != nil {
		return nil, nil, err
	}
	if noOfGB <= 0 {
		return nil, nil, apperr.Validation("no_of_gb", "Storage must be at least 1 GB.")
	}
	if months <= 0 {
		return nil, nil, apperr.Validation("months", "Duration must be at least 1 month.")
	}
	if !gateway.Valid() {
		return nil, nil, apperr.Validation("payment_gateway", "Unsupported payment gateway.")
	}

	existing, err := s.store.FindPendingStorageOrder(ctx, instituteID, noOfGB, months)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find pending storage order: %w", err)
	}
	if existing != nil {
		return s.resumeOrder(ctx, existing, gateway)
	}

	plan, err := s.StoragePlan(ctx)
	if err != nil {
		return nil, nil, err
	}

	order := &Order{
		InstituteID:    instituteID,
		Product:        ProductStorage,
		NoOfGB:         noOfGB,
		Months:         months,
		Gateway:        gateway,
		Amount:         StorageAmount(plan, noOfGB, months),
		Currency:       s.currency,
		OrderCreatedOn: s.nowMillis(),
		CreatedBy:      principalID,
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		if apperr.IsConflict(err) {
			if existing, ferr := s.store.FindPendingStorageOrder(ctx, instituteID, noOfGB, months); ferr == nil && existing != nil {
				return s.resumeOrder(ctx, existing, gateway)
			}
		}
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"institute_id": instituteID,
		"order_id":     order.ID,
		"no_of_gb":     noOfGB,
		"months":       months,
	}).Info("storage license order created")

	creds, err := s.ensureGatewayOrder(ctx, order)
	if err != nil {
		return nil, nil, err
	}
	return order, creds, nil
}

// resumeOrder returns credentials for an existing unpaid order
func (s *Service) resumeOrder(ctx context.Context, order *Order, gateway Gateway) (*Order, *PaymentCredentials, error) {
	if order.Paid {
		return nil, nil, apperr.Conflict("Order already paid.")
	}
	if order.Gateway != gateway {
		// a gateway order id belongs to one gateway only
		if err := s.store.UpdateOrderGateway(ctx, order.ID, gateway, "", ""); err != nil {
			return nil, nil, fmt.Errorf("failed to update order gateway: %w", err)
		}
		order.Gateway = gateway
		order.GatewayOrderID = ""
		order.Receipt = ""
	}
	creds, err := s.ensureGatewayOrder(ctx, order)
	if err != nil {
		return nil, nil, err
	}
	return order, creds, nil
}

// ensureGatewayOrder creates the gateway-side order if the gateway needs one
// and it does not exist yet.
func (s *Service) ensureGatewayOrder(ctx context.Context, order *Order) (*PaymentCredentials, error) {
	creds := &PaymentCredentials{
		OrderID:  order.ID,
		Gateway:  order.Gateway,
		Amount:   order.AmountMinor(),
		Currency: order.Currency,
	}

	client, ok := s.gateways[order.Gateway]
	if !ok {
		// gateways without a client need no checkout order
		return creds, nil
	}

	if order.GatewayOrderID == "" {
		ctx, span := observability.Tracer().Start(ctx, "licensing.CreateGatewayOrder")
		span.SetAttributes(
			attribute.Int64("order.id", order.ID),
			attribute.String("order.gateway", string(order.Gateway)),
		)
		defer span.End()

		receipt := uuid.NewString()
		gatewayOrderID, err := client.CreateOrder(ctx, order.AmountMinor(), order.Currency, receipt)
		if err != nil {
			span.RecordError(err)
			return nil, apperr.Internal("failed to create payment order", err)
		}
		if err := s.store.UpdateOrderGateway(ctx, order.ID, order.Gateway, gatewayOrderID, receipt); err != nil {
			return nil, fmt.Errorf("failed to store gateway order: %w", err)
		}
		order.GatewayOrderID = gatewayOrderID
		order.Receipt = receipt
	}

	creds.GatewayOrderID = order.GatewayOrderID
	creds.Receipt = order.Receipt
	creds.KeyID = client.KeyID()
	return creds, nil
}

// RetryPaymentCredentials returns checkout credentials for an unpaid order
func (s *Service) RetryPaymentCredentials(ctx context.Context, principalID string, instituteID, orderID int64) (*PaymentCredentials, error) {
	if err := s.access.RequireAdmin(ctx, instituteID, principalID); err != nil {
		return nil, err
	}
	order, err := s.getInstituteOrder(ctx, instituteID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Paid {
		return nil, apperr.Conflict("Order already paid.")
	}
	return s.ensureGatewayOrder(ctx, order)
}

func (s *Service) getInstituteOrder(ctx context.Context, instituteID, orderID int64) (*Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("license order")
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if order.InstituteID != instituteID {
		return nil, apperr.NotFound("license order")
	}
	return order, nil
}

// GetActiveCommonLicense returns the institute's current common license order,
// or nil when it has none. It never mutates state.
func (s *Service) GetActiveCommonLicense(ctx context.Context, instituteID int64) (*Order, error) {
	order, err := s.store.LatestCurrentOrder(ctx, instituteID, ProductCommon, s.nowMillis())
	if err != nil {
		return nil, fmt.Errorf("failed to get active license: %w", err)
	}
	return order, nil
}

// GetActiveOrExpiredCommonLicense returns the most recent paid common license
// order whether or not it has expired, or nil.
func (s *Service) GetActiveOrExpiredCommonLicense(ctx context.Context, instituteID int64) (*Order, error) {
	order, err := s.store.LatestPaidOrder(ctx, instituteID, ProductCommon)
	if err != nil {
		return nil, fmt.Errorf("failed to get license: %w", err)
	}
	return order, nil
}

// ActiveLimits returns the limits snapshot of the current common license, or
// nil when the institute has no current license.
func (s *Service) ActiveLimits(ctx context.Context, instituteID int64) (*Limits, error) {
	order, err := s.GetActiveCommonLicense(ctx, instituteID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.SelectedLicenseID == nil {
		return nil, nil
	}
	sel, err := s.store.GetSelectedLicense(ctx, *order.SelectedLicenseID)
	if err != nil {
		return nil, apperr.Internal("active license has no selection snapshot", err)
	}
	limits := sel.Limits
	return &limits, nil
}

// LicenseStatistics returns the storage entitlement aggregate
func (s *Service) LicenseStatistics(ctx context.Context, instituteID int64) (*LicenseStatistics, error) {
	stats, err := s.store.GetLicenseStatistics(ctx, instituteID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return &LicenseStatistics{InstituteID: instituteID}, nil
		}
		return nil, fmt.Errorf("failed to get license statistics: %w", err)
	}
	return stats, nil
}

// CheckLicenseExists reports whether the institute has a current common
// license, or an expired one.
func (s *Service) CheckLicenseExists(ctx context.Context, principalID string, instituteID int64) (*LicenseStatus, error) {
	if err := s.access.RequireMember(ctx, instituteID, principalID); err != nil {
		return nil, err
	}
	active, err := s.GetActiveCommonLicense(ctx, instituteID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return &LicenseStatus{Exists: true, Order: active}, nil
	}
	last, err := s.GetActiveOrExpiredCommonLicense(ctx, instituteID)
	if err != nil {
		return nil, err
	}
	return &LicenseStatus{Exists: false, Expired: last != nil, Order: last}, nil
}

// ListOrders reconciles and then lists the institute's orders of one product
func (s *Service) ListOrders(ctx context.Context, principalID string, instituteID int64, product ProductType) ([]*Order, error) {
	if err := s.access.RequireAdmin(ctx, instituteID, principalID); err != nil {
		return nil, err
	}
	if !product.Valid() {
		return nil, apperr.Validation("product_type", "Unknown product type.")
	}
	if _, err := s.ReconcileOrders(ctx, instituteID, product); err != nil {
		return nil, err
	}
	orders, err := s.store.ListOrders(ctx, instituteID, product)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// DeleteUnpaidOrder deletes an unpaid order. Missing or paid orders are ignored.
func (s *Service) DeleteUnpaidOrder(ctx context.Context, principalID string, instituteID, orderID int64) error {
	if err := s.access.RequireAdmin(ctx, instituteID, principalID); err != nil {
		return err
	}
	deleted, err := s.store.DeleteUnpaidOrder(ctx, orderID, instituteID)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	if deleted {
		s.logger.WithField("order_id", orderID).WithField("institute_id", instituteID).Info("unpaid order deleted")
	}
	return nil
}

// GetOrder returns an order by id
func (s *Service) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("license order")
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetOrderByGatewayOrderID returns the order a gateway order id belongs to
func (s *Service) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error) {
	order, err := s.store.GetOrderByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("license order")
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// Activate applies a verified payment to an order. It reports false, with no
// mutation, when the order was already paid.
func (s *Service) Activate(ctx context.Context, orderID int64, paymentID string) (*Order, bool, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	if order.Paid {
		return order, false, nil
	}

	var term time.Duration
	switch order.Product {
	case ProductCommon:
		if order.SelectedLicenseID == nil {
			return nil, false, apperr.Internal("common order has no selection", nil)
		}
		sel, err := s.store.GetSelectedLicense(ctx, *order.SelectedLicenseID)
		if err != nil {
			return nil, false, apperr.Internal("failed to load selection for order", err)
		}
		term = sel.BillingCycle.Term()
	case ProductStorage:
		term = time.Duration(order.Months) * MonthTerm
	default:
		return nil, false, apperr.Internal(fmt.Sprintf("unknown product type %q", order.Product), nil)
	}

	now := s.now()
	params := ActivateParams{
		OrderID:   order.ID,
		PaymentID: paymentID,
		PaidOn:    Millis(now),
		StartDate: Millis(now),
		EndDate:   Millis(now.Add(term)),
	}
	applied, err := s.store.ActivateOrder(ctx, params)
	if err != nil {
		return nil, false, fmt.Errorf("failed to activate order: %w", err)
	}
	if !applied {
		// a concurrent callback won
		current, err := s.GetOrder(ctx, orderID)
		return current, false, err
	}

	order.Paid = true
	order.Active = true
	order.GatewayPaymentID = paymentID
	order.PaymentDate = params.PaidOn
	order.StartDate = params.StartDate
	order.EndDate = params.EndDate

	s.metrics.RecordOrderTransition(string(order.Product), "activated")
	s.logger.WithFields(map[string]interface{}{
		"institute_id": order.InstituteID,
		"order_id":     order.ID,
		"product":      order.Product,
		"end_date":     order.EndDate,
	}).Info("license order activated")
	return order, true, nil
}
