package payments

import (
	"context"
	"encoding/json"

	"github.com/platinummonkey/lectern/pkg/licensing"
)

// Source is where a payment notification came from
type Source string

const (
	SourceCallback Source = "callback"
	SourceWebhook  Source = "webhook"
)

// Status is what the client is told about a payment
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// CallbackRecord is one received payment notification, stored before the
// order is touched. Records are never updated.
type CallbackRecord struct {
	ID               int64                 `json:"id"`
	Source           Source                `json:"source"`
	Product          licensing.ProductType `json:"product_type,omitempty"`
	Event            string                `json:"event,omitempty"`
	GatewayOrderID   string                `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string                `json:"gateway_payment_id,omitempty"`
	Signature        string                `json:"signature,omitempty"`
	Verified         bool                  `json:"verified"`
	Payload          json.RawMessage       `json:"payload"`
	ReceivedOn       int64                 `json:"received_on"`
}

// CallbackLog is the append-only audit trail of payment notifications
type CallbackLog interface {
	AppendCallback(ctx context.Context, rec *CallbackRecord) error
	ListCallbacks(ctx context.Context, gatewayOrderID string) ([]*CallbackRecord, error)
}

// CallbackRequest is the checkout handler's post-payment submission
type CallbackRequest struct {
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
}

// Result is returned to the client for every well-formed notification
type Result struct {
	Status           Status           `json:"status"`
	AlreadyProcessed bool             `json:"already_processed,omitempty"`
	Order            *licensing.Order `json:"order,omitempty"`
}

// Verifier checks gateway signatures
type Verifier interface {
	VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) error
	VerifyWebhookSignature(body []byte, signature string) error
}

// Ledger is the part of the entitlement ledger payments drive
type Ledger interface {
	GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*licensing.Order, error)
	Activate(ctx context.Context, orderID int64, paymentID string) (*licensing.Order, bool, error)
}
