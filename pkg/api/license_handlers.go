package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/lectern/pkg/httputil"
	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/middleware"
)

// LicenseHandlers serves the catalog, license selection and orders
type LicenseHandlers struct {
	ledger *licensing.Service
	limit  *middleware.RateLimitMiddleware
}

// NewLicenseHandlers creates a new LicenseHandlers. limit guards order
// creation and may be nil.
func NewLicenseHandlers(ledger *licensing.Service, limit *middleware.RateLimitMiddleware) *LicenseHandlers {
	return &LicenseHandlers{ledger: ledger, limit: limit}
}

// RegisterRoutes registers license routes
func (h *LicenseHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/licenses/catalog", h.ListCatalog).Methods(http.MethodGet)
	router.HandleFunc("/licenses/storage-plan", h.StoragePlan).Methods(http.MethodGet)
	router.HandleFunc("/licenses/coupons/{code}", h.ValidateCoupon).Methods(http.MethodGet)

	base := "/institutes/{institute_id:[0-9]+}"
	router.HandleFunc(base+"/licenses/select", h.SelectLicense).Methods(http.MethodPost)
	router.Handle(base+"/licenses/orders", h.limited(h.CreateCommonOrder)).Methods(http.MethodPost)
	router.Handle(base+"/storage/orders", h.limited(h.CreateStorageOrder)).Methods(http.MethodPost)
	router.HandleFunc(base+"/licenses/orders", h.ListOrders).Methods(http.MethodGet)
	router.Handle(base+"/licenses/orders/{order_id:[0-9]+}/retry", h.limited(h.RetryPayment)).Methods(http.MethodPost)
	router.HandleFunc(base+"/licenses/orders/{order_id:[0-9]+}", h.DeleteOrder).Methods(http.MethodDelete)
	router.HandleFunc(base+"/licenses/status", h.Status).Methods(http.MethodGet)
}

func (h *LicenseHandlers) limited(fn http.HandlerFunc) http.Handler {
	if h.limit == nil {
		return fn
	}
	return h.limit.Handler(fn)
}

// SelectRequest picks a catalog entry, optionally with a coupon
type SelectRequest struct {
	CatalogEntryID int64  `json:"license_id"`
	CouponCode     string `json:"coupon_code,omitempty"`
}

// CommonOrderRequest turns a selection into a payable order
type CommonOrderRequest struct {
	SelectedLicenseID int64             `json:"selected_license_id"`
	Gateway           licensing.Gateway `json:"payment_gateway"`
}

// StorageOrderRequest buys extra storage
type StorageOrderRequest struct {
	NoOfGB  int               `json:"no_of_gb"`
	Months  int               `json:"no_of_months"`
	Gateway licensing.Gateway `json:"payment_gateway"`
}

// OrderResponse is a created order with the credentials the checkout needs
type OrderResponse struct {
	Order       *licensing.Order              `json:"order"`
	Credentials *licensing.PaymentCredentials `json:"payment_credentials,omitempty"`
}

func (h *LicenseHandlers) ListCatalog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.ListCatalog(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, entries)
}

func (h *LicenseHandlers) StoragePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.ledger.StoragePlan(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}

func (h *LicenseHandlers) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	coupon, err := h.ledger.ValidateCoupon(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, coupon)
}

func (h *LicenseHandlers) SelectLicense(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "institute_id")
	if !ok {
		return
	}
	var req SelectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	sel, err := h.ledger.SelectLicense(r.Context(), pid, id, req.CatalogEntryID, req.CouponCode)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, sel)
}

func (h *LicenseHandlers) CreateCommonOrder(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "institute_id")
	if !ok {
		return
	}
	var req CommonOrderRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Gateway == "" {
		req.Gateway = licensing.GatewayRazorpay
	}
	order, creds, err := h.ledger.CreateCommonLicenseOrder(r.Context(), pid, id, req.SelectedLicenseID, req.Gateway)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, OrderResponse{Order: order, Credentials: creds})
}

func (h *LicenseHandlers) CreateStorageOrder(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "institute_id")
	if !ok {
		return
	}
	var req StorageOrderRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Gateway == "" {
		req.Gateway = licensing.GatewayRazorpay
	}
	order, creds, err := h.ledger.CreateStorageLicenseOrder(r.Context(), pid, id, req.NoOfGB, req.Months, req.Gateway)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, OrderResponse{Order: order, Credentials: creds})
}

func (h *LicenseHandlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "institute_id")
	if !ok {
		return
	}
	product := licensing.ProductType(httputil.ParseQueryString(r, "product", string(licensing.ProductCommon)))
	orders, err := h.ledger.ListOrders(r.Context(), pid, id, product)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, orders)
}

func (h *LicenseHandlers) RetryPayment(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "institute_id")
	if !ok {
		return
	}
	orderID, ok := httputil.ParsePathInt64OrError(w, r, "order_id")
	if !ok {
		return
	}
	creds, err := h.ledger.RetryPaymentCredentials(r.Context(), pid, id, orderID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, creds)
}

func (h *LicenseHandlers) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "institute_id")
	if !ok {
		return
	}
	orderID, ok := httputil.ParsePathInt64OrError(w, r, "order_id")
	if !ok {
		return
	}
	if err := h.ledger.DeleteUnpaidOrder(r.Context(), pid, id, orderID); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *LicenseHandlers) Status(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "institute_id")
	if !ok {
		return
	}
	status, err := h.ledger.CheckLicenseExists(r.Context(), pid, id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, status)
}
