package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/observability"
)

// Webhook events
const (
	EventPaymentCaptured = "payment.captured"
	EventOrderPaid       = "order.paid"
	EventPaymentFailed   = "payment.failed"
)

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// Processor verifies payment notifications and activates orders
type Processor struct {
	ledger   Ledger
	verifier Verifier
	log      CallbackLog
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// Option configures a Processor
type Option func(*Processor)

// WithLogger sets the processor logger
func WithLogger(logger *observability.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithMetrics enables callback metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Processor) { p.metrics = metrics }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a payment processor
func NewProcessor(ledger Ledger, verifier Verifier, log CallbackLog, opts ...Option) *Processor {
	p := &Processor{
		ledger:   ledger,
		verifier: verifier,
		log:      log,
		logger:   observability.NewNopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleCallback processes a checkout callback for an order of product. raw
// is the request body as received and is what gets logged.
func (p *Processor) HandleCallback(ctx context.Context, product licensing.ProductType, req CallbackRequest, raw []byte) (*Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "payments.HandleCallback")
	defer span.End()
	span.SetAttributes(
		attribute.String("product", string(product)),
		attribute.String("gateway.order_id", req.GatewayOrderID),
	)

	verifyErr := p.verifier.VerifyPaymentSignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature)
	rec := &CallbackRecord{
		Source:           SourceCallback,
		Product:          product,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
		Verified:         verifyErr == nil,
		Payload:          rawPayload(raw),
	}
	if err := p.append(ctx, rec); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if verifyErr != nil {
		return p.rejected(ctx, SourceCallback, req.GatewayOrderID, verifyErr), nil
	}

	order, err := p.ledger.GetOrderByGatewayOrderID(ctx, req.GatewayOrderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if order.Product != product {
		return nil, apperr.Validation("razorpay_order_id", "Order does not match this payment type.")
	}

	res, err := p.settle(ctx, SourceCallback, order, req.GatewayPaymentID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

// HandleWebhook processes a signed gateway event
func (p *Processor) HandleWebhook(ctx context.Context, body []byte, signature string) (*Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "payments.HandleWebhook")
	defer span.End()

	verifyErr := p.verifier.VerifyWebhookSignature(body, signature)

	var event webhookEvent
	parseErr := json.Unmarshal(body, &event)

	gatewayOrderID := event.Payload.Payment.Entity.OrderID
	if gatewayOrderID == "" {
		gatewayOrderID = event.Payload.Order.Entity.ID
	}
	paymentID := event.Payload.Payment.Entity.ID
	span.SetAttributes(
		attribute.String("event", event.Event),
		attribute.String("gateway.order_id", gatewayOrderID),
	)

	rec := &CallbackRecord{
		Source:           SourceWebhook,
		Event:            event.Event,
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        signature,
		Verified:         verifyErr == nil,
		Payload:          rawPayload(body),
	}
	if err := p.append(ctx, rec); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if verifyErr != nil {
		return p.rejected(ctx, SourceWebhook, gatewayOrderID, verifyErr), nil
	}
	if parseErr != nil {
		return nil, apperr.Validation("body", "Malformed webhook payload.")
	}

	logger := observability.FromContextOr(ctx, p.logger).WithFields(map[string]interface{}{
		"event":            event.Event,
		"gateway_order_id": gatewayOrderID,
		"payment_id":       paymentID,
	})

	switch event.Event {
	case EventPaymentCaptured, EventOrderPaid:
	case EventPaymentFailed:
		p.metrics.RecordPaymentCallback(string(SourceWebhook), "payment_failed")
		logger.Warn("gateway reported a failed payment")
		return &Result{Status: StatusFailed}, nil
	default:
		p.metrics.RecordPaymentCallback(string(SourceWebhook), "ignored")
		logger.Debug("ignoring webhook event")
		return &Result{Status: StatusSuccess}, nil
	}

	if gatewayOrderID == "" {
		return nil, apperr.Validation("body", "Webhook payload has no order id.")
	}
	order, err := p.ledger.GetOrderByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		if apperr.IsNotFound(err) {
			// not one of ours; acknowledge so the gateway stops retrying
			p.metrics.RecordPaymentCallback(string(SourceWebhook), "unknown_order")
			logger.Warn("webhook for unknown order")
			return &Result{Status: StatusFailed}, nil
		}
		return nil, err
	}
	return p.settle(ctx, SourceWebhook, order, paymentID)
}

// settle activates order unless it is already paid
func (p *Processor) settle(ctx context.Context, source Source, order *licensing.Order, paymentID string) (*Result, error) {
	if order.Paid {
		p.metrics.RecordPaymentCallback(string(source), "duplicate")
		return &Result{Status: StatusSuccess, AlreadyProcessed: true, Order: order}, nil
	}

	activated, applied, err := p.ledger.Activate(ctx, order.ID, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to activate order %d: %w", order.ID, err)
	}
	if !applied {
		p.metrics.RecordPaymentCallback(string(source), "duplicate")
		return &Result{Status: StatusSuccess, AlreadyProcessed: true, Order: activated}, nil
	}

	p.metrics.RecordPaymentCallback(string(source), "activated")
	return &Result{Status: StatusSuccess, Order: activated}, nil
}

func (p *Processor) rejected(ctx context.Context, source Source, gatewayOrderID string, err error) *Result {
	p.metrics.RecordPaymentCallback(string(source), "signature_mismatch")
	observability.FromContextOr(ctx, p.logger).WithError(err).WithFields(map[string]interface{}{
		"source":           source,
		"gateway_order_id": gatewayOrderID,
	}).Warn("payment signature verification failed")
	return &Result{Status: StatusFailed}
}

func (p *Processor) append(ctx context.Context, rec *CallbackRecord) error {
	rec.ReceivedOn = p.now().UnixMilli()
	if err := p.log.AppendCallback(ctx, rec); err != nil {
		return fmt.Errorf("failed to record payment callback: %w", err)
	}
	return nil
}

// rawPayload keeps non-JSON bodies loggable as a JSON string
func rawPayload(raw []byte) json.RawMessage {
	if json.Valid(raw) {
		return append(json.RawMessage(nil), raw...)
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}
