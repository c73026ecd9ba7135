package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/httputil"
	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/payments"
)

// WebhookSignatureHeader carries the gateway's webhook HMAC
const WebhookSignatureHeader = "X-Razorpay-Signature"

// PaymentHandlers receives gateway callbacks and webhooks. These routes are
// unauthenticated; every request is checked against the gateway signature.
type PaymentHandlers struct {
	processor *payments.Processor
}

// NewPaymentHandlers creates a new PaymentHandlers
func NewPaymentHandlers(processor *payments.Processor) *PaymentHandlers {
	return &PaymentHandlers{processor: processor}
}

// RegisterRoutes registers payment routes
func (h *PaymentHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/razorpay/callback", h.callback(licensing.ProductCommon)).Methods(http.MethodPost)
	router.HandleFunc("/razorpay/storage-callback", h.callback(licensing.ProductStorage)).Methods(http.MethodPost)
	router.HandleFunc("/razorpay/webhook", h.Webhook).Methods(http.MethodPost)
}

func (h *PaymentHandlers) callback(product licensing.ProductType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			httputil.WriteBadRequest(w, "failed to read request body")
			return
		}
		req, err := decodeCallback(r.Header.Get("Content-Type"), raw)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		res, err := h.processor.HandleCallback(r.Context(), product, req, raw)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		httputil.WriteSuccess(w, res)
	}
}

func (h *PaymentHandlers) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}
	res, err := h.processor.HandleWebhook(r.Context(), body, r.Header.Get(WebhookSignatureHeader))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}

// decodeCallback accepts the checkout's form post as well as JSON
func decodeCallback(contentType string, raw []byte) (payments.CallbackRequest, error) {
	var req payments.CallbackRequest
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return req, apperr.Validation("body", "Malformed form body.")
		}
		req.GatewayOrderID = values.Get("razorpay_order_id")
		req.GatewayPaymentID = values.Get("razorpay_payment_id")
		req.Signature = values.Get("razorpay_signature")
	} else if err := json.Unmarshal(raw, &req); err != nil {
		return req, apperr.Validation("body", "Invalid request body.")
	}
	if req.GatewayOrderID == "" {
		return req, apperr.Validation("razorpay_order_id", "razorpay_order_id is required")
	}
	return req, nil
}
