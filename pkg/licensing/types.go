package licensing

import (
	"context"
	"time"
)

// ProductType distinguishes the two license order variants
type ProductType string

const (
	ProductCommon  ProductType = "COMMON"
	ProductStorage ProductType = "STORAGE"
)

// Valid reports whether p is a known product type
func (p ProductType) Valid() bool {
	return p == ProductCommon || p == ProductStorage
}

// BillingCycle is the cadence of a common license
type BillingCycle string

const (
	BillingMonthly  BillingCycle = "MONTHLY"
	BillingAnnually BillingCycle = "ANNUALLY"
)

const (
	// MonthTerm is the length of a monthly billing term
	MonthTerm = 30 * 24 * time.Hour
	// YearTerm is the length of an annual billing term
	YearTerm = 365 * 24 * time.Hour
	// DefaultUnpaidGrace is how long an unpaid order survives before reconcile purges it
	DefaultUnpaidGrace = 14 * 24 * time.Hour
)

// Term returns the entitlement length bought by one cycle
func (b BillingCycle) Term() time.Duration {
	if b == BillingAnnually {
		return YearTerm
	}
	return MonthTerm
}

// Valid reports whether b is a known cycle
func (b BillingCycle) Valid() bool {
	return b == BillingMonthly || b == BillingAnnually
}

// Gateway identifies a payment gateway
type Gateway string

const (
	GatewayRazorpay Gateway = "RAZORPAY"
	// GatewayOffline records orders settled outside any online gateway. Creating
	// such an order performs no gateway call.
	GatewayOffline Gateway = "OFFLINE"
)

// Valid reports whether g is a known gateway
func (g Gateway) Valid() bool {
	return g == GatewayRazorpay || g == GatewayOffline
}

// Limits are the entitlement limits and feature flags of a common license
type Limits struct {
	NoOfAdmin             int     `json:"no_of_admin" yaml:"no_of_admin"`
	NoOfStaff             int     `json:"no_of_staff" yaml:"no_of_staff"`
	NoOfFaculty           int     `json:"no_of_faculty" yaml:"no_of_faculty"`
	NoOfBoardMembers      int     `json:"no_of_board_members" yaml:"no_of_board_members"`
	ClassroomLimit        int     `json:"classroom_limit" yaml:"classroom_limit"`
	DepartmentLimit       int     `json:"department_limit" yaml:"department_limit"`
	SubjectLimit          int     `json:"subject_limit" yaml:"subject_limit"`
	VideoCallMaxAttendees int     `json:"video_call_max_attendees" yaml:"video_call_max_attendees"`
	StorageGB             float64 `json:"storage" yaml:"storage"`
	DigitalTest           bool    `json:"digital_test" yaml:"digital_test"`
	LMS                   bool    `json:"lms" yaml:"lms"`
	CMS                   bool    `json:"cms" yaml:"cms"`
	DiscussionForum       bool    `json:"discussion_forum" yaml:"discussion_forum"`
}

// CatalogEntry is an operator-defined common license product
type CatalogEntry struct {
	ID              int64        `json:"id" yaml:"id"`
	Name            string       `json:"name" yaml:"name"`
	Price           float64      `json:"price" yaml:"price"`
	GSTPercent      float64      `json:"gst_percent" yaml:"gst_percent"`
	DiscountPercent float64      `json:"discount_percent" yaml:"discount_percent"`
	BillingCycle    BillingCycle `json:"type" yaml:"billing_cycle"`
	Limits          `yaml:",inline"`
	Active          bool  `json:"active" yaml:"active"`
	CreatedOn       int64 `json:"created_on" yaml:"-"`
}

// StoragePlan prices storage licenses per GB per month
type StoragePlan struct {
	ID         int64   `json:"id" yaml:"id"`
	PricePerGB float64 `json:"price" yaml:"price_per_gb"`
	GSTPercent float64 `json:"gst_percent" yaml:"gst_percent"`
}

// Coupon is a single-use discount on a common license selection
type Coupon struct {
	ID         int64   `json:"id"`
	Code       string  `json:"code"`
	Discount   float64 `json:"discount"`
	ExpiryDate int64   `json:"expiry_date"`
	Active     bool    `json:"active"`
	CreatedOn  int64   `json:"created_on"`
}

// SelectedLicense is a catalog snapshot placed in an institute's cart
type SelectedLicense struct {
	ID                 int64        `json:"id"`
	InstituteID        int64        `json:"institute_id"`
	CatalogEntryID     int64        `json:"catalog_entry_id"`
	Name               string       `json:"name"`
	Price              float64      `json:"price"`
	GSTPercent         float64      `json:"gst_percent"`
	DiscountPercent    float64      `json:"discount_percent"`
	BillingCycle       BillingCycle `json:"type"`
	Limits             Limits       `json:"limits"`
	CouponID           *int64       `json:"coupon_id,omitempty"`
	CouponDiscount     float64      `json:"coupon_discount"`
	NetAmount          float64      `json:"net_amount"`
	PaymentIDGenerated bool         `json:"payment_id_generated"`
	SelectedBy         string       `json:"selected_by"`
	SelectedOn         int64        `json:"selected_on"`
}

// Order is a purchase attempt for a common or storage license
type Order struct {
	ID                int64       `json:"id"`
	InstituteID       int64       `json:"institute_id"`
	Product           ProductType `json:"product_type"`
	SelectedLicenseID *int64      `json:"selected_license_id,omitempty"`
	NoOfGB            int         `json:"no_of_gb,omitempty"`
	Months            int         `json:"months,omitempty"`
	Gateway           Gateway     `json:"payment_gateway"`
	GatewayOrderID    string      `json:"gateway_order_id,omitempty"`
	GatewayPaymentID  string      `json:"gateway_payment_id,omitempty"`
	Receipt           string      `json:"receipt,omitempty"`
	Amount            float64     `json:"amount"`
	Currency          string      `json:"currency"`
	Paid              bool        `json:"paid"`
	Active            bool        `json:"active"`
	StartDate         int64       `json:"start_date"`
	EndDate           int64       `json:"end_date"`
	PaymentDate       int64       `json:"payment_date"`
	OrderCreatedOn    int64       `json:"order_created_on"`
	CreatedBy         string      `json:"created_by"`
}

// AmountMinor returns the amount in the smallest currency unit
func (o *Order) AmountMinor() int64 {
	return ToMinorUnits(o.Amount)
}

// IsCurrent reports whether the order is paid, active and unexpired at nowMillis
func (o *Order) IsCurrent(nowMillis int64) bool {
	return o.Paid && o.Active && o.EndDate > nowMillis
}

// LicenseStatistics is the per-institute storage entitlement aggregate
type LicenseStatistics struct {
	InstituteID           int64   `json:"institute_id"`
	TotalStorage          float64 `json:"total_storage"`
	StorageLicenseEndDate int64   `json:"storage_license_end_date"`
}

// PaymentCredentials is what a client needs to open the gateway checkout
type PaymentCredentials struct {
	OrderID        int64   `json:"order_details_id"`
	Gateway        Gateway `json:"payment_gateway"`
	GatewayOrderID string  `json:"order_id,omitempty"`
	KeyID          string  `json:"key_id,omitempty"`
	Amount         int64   `json:"amount"`
	Currency       string  `json:"currency"`
	Receipt        string  `json:"receipt,omitempty"`
}

// LicenseStatus answers whether an institute holds a common license
type LicenseStatus struct {
	Exists  bool   `json:"exists"`
	Expired bool   `json:"expired"`
	Order   *Order `json:"order,omitempty"`
}

// ReconcileResult counts the transitions made by one reconcile pass
type ReconcileResult struct {
	Expired int `json:"expired"`
	Purged  int `json:"purged"`
}

// ActivateParams describes a verified payment to apply to an order
type ActivateParams struct {
	OrderID   int64
	PaymentID string
	PaidOn    int64
	StartDate int64
	EndDate   int64
}

// Store persists the entitlement ledger. Transition methods are atomic.
type Store interface {
	ListCatalogEntries(ctx context.Context) ([]*CatalogEntry, error)
	GetCatalogEntry(ctx context.Context, id int64) (*CatalogEntry, error)
	UpsertCatalogEntry(ctx context.Context, entry *CatalogEntry) error
	GetStoragePlan(ctx context.Context) (*StoragePlan, error)
	UpsertStoragePlan(ctx context.Context, plan *StoragePlan) error
	GetCouponByCode(ctx context.Context, code string) (*Coupon, error)
	// UpsertCoupon inserts a coupon by code, or updates the discount and expiry
	// of an existing code without reactivating a used coupon.
	UpsertCoupon(ctx context.Context, coupon *Coupon) error

	DeleteUnconsumedSelections(ctx context.Context, instituteID int64) (int64, error)
	CreateSelectedLicense(ctx context.Context, sel *SelectedLicense) error
	GetSelectedLicense(ctx context.Context, id int64) (*SelectedLicense, error)
	MarkSelectionConsumed(ctx context.Context, id int64) error

	// CreateOrder returns a Conflict error when a pending order with the same
	// selection (common) or the same gb and months (storage) already exists.
	CreateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, id int64) (*Order, error)
	GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error)
	FindOrderBySelection(ctx context.Context, selectedLicenseID int64) (*Order, error)
	FindPendingStorageOrder(ctx context.Context, instituteID int64, noOfGB, months int) (*Order, error)
	UpdateOrderGateway(ctx context.Context, id int64, gateway Gateway, gatewayOrderID, receipt string) error
	ListOrders(ctx context.Context, instituteID int64, product ProductType) ([]*Order, error)
	// LatestCurrentOrder returns the most recently created paid, active order whose
	// end date is after nowMillis, or nil.
	LatestCurrentOrder(ctx context.Context, instituteID int64, product ProductType, nowMillis int64) (*Order, error)
	// LatestPaidOrder returns the most recently created paid order regardless of expiry, or nil.
	LatestPaidOrder(ctx context.Context, instituteID int64, product ProductType) (*Order, error)
	ListExpiredActiveOrders(ctx context.Context, instituteID int64, product ProductType, nowMillis int64) ([]*Order, error)
	ListStaleUnpaidOrders(ctx context.Context, instituteID int64, product ProductType, cutoffMillis int64) ([]*Order, error)
	ListInstitutesWithOrders(ctx context.Context) ([]int64, error)
	// DeleteUnpaidOrder removes an unpaid order and its selection. It reports
	// false when the order is missing, paid, or belongs to another institute.
	DeleteUnpaidOrder(ctx context.Context, id, instituteID int64) (bool, error)

	// ActivateOrder marks an unpaid order paid and active, consumes its coupon and,
	// for storage orders, adds its GB to the license statistics. It reports false
	// when the order was already paid.
	ActivateOrder(ctx context.Context, params ActivateParams) (bool, error)
	// ExpireOrder deactivates a paid order whose end date has passed and, for
	// storage orders, subtracts its GB. It reports false when nothing changed.
	ExpireOrder(ctx context.Context, id int64, nowMillis int64) (bool, error)

	InitLicenseStatistics(ctx context.Context, instituteID int64) error
	GetLicenseStatistics(ctx context.Context, instituteID int64) (*LicenseStatistics, error)
}

// GatewayClient creates checkout orders at a payment gateway
type GatewayClient interface {
	Name() Gateway
	KeyID() string
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error)
}

// AccessChecker enforces institute membership rules for ledger operations
type AccessChecker interface {
	RequireAdmin(ctx context.Context, instituteID int64, principalID string) error
	RequireMember(ctx context.Context, instituteID int64, principalID string) error
}
