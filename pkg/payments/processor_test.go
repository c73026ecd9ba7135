package payments_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/payments"
	"github.com/platinummonkey/lectern/pkg/permissions"
	"github.com/platinummonkey/lectern/pkg/storage/memory"
)

const (
	keySecret     = "key-secret"
	webhookSecret = "webhook-secret"
	instituteID   = int64(1)
	adminID       = "admin"
)

type fakeGateway struct {
	n int
}

func (g *fakeGateway) Name() licensing.Gateway { return licensing.GatewayRazorpay }
func (g *fakeGateway) KeyID() string           { return "rzp_test" }
func (g *fakeGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error) {
	g.n++
	return fmt.Sprintf("order_%d", g.n), nil
}

type harness struct {
	ctx       context.Context
	now       time.Time
	store     *memory.Store
	ledger    *licensing.Service
	processor *payments.Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ctx:   context.Background(),
		now:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		store: memory.New(),
	}
	clock := func() time.Time { return h.now }

	authz := permissions.NewAuthorizer(h.store, nil)
	h.ledger = licensing.NewService(h.store, authz,
		licensing.WithGateway(&fakeGateway{}),
		licensing.WithClock(clock),
	)
	rzp := payments.NewRazorpay(payments.RazorpayConfig{KeySecret: keySecret, WebhookSecret: webhookSecret})
	h.processor = payments.NewProcessor(h.ledger, rzp, h.store, payments.WithClock(clock))

	require.NoError(t, h.store.CreateInstitutePermission(h.ctx, &permissions.InstitutePermission{
		InstituteID: instituteID, InviterID: adminID, InviteeID: adminID, Role: auth.RoleAdmin, Active: true,
	}))
	require.NoError(t, h.ledger.InitInstitute(h.ctx, instituteID))
	require.NoError(t, h.store.UpsertCatalogEntry(h.ctx, &licensing.CatalogEntry{
		ID: 10, Name: "Monthly", Price: 1000, GSTPercent: 18, BillingCycle: licensing.BillingMonthly, Active: true,
		Limits: licensing.Limits{NoOfAdmin: 2, StorageGB: 5},
	}))
	require.NoError(t, h.store.UpsertStoragePlan(h.ctx, &licensing.StoragePlan{PricePerGB: 10, GSTPercent: 18}))
	return h
}

func (h *harness) commonOrder(t *testing.T) *licensing.Order {
	t.Helper()
	sel, err := h.ledger.SelectLicense(h.ctx, adminID, instituteID, 10, "")
	require.NoError(t, err)
	order, creds, err := h.ledger.CreateCommonLicenseOrder(h.ctx, adminID, instituteID, sel.ID, licensing.GatewayRazorpay)
	require.NoError(t, err)
	require.NotEmpty(t, creds.GatewayOrderID)
	return order
}

func signedCallback(gatewayOrderID, paymentID string) (payments.CallbackRequest, []byte) {
	req := payments.CallbackRequest{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        payments.Sign([]byte(gatewayOrderID+"|"+paymentID), keySecret),
	}
	raw, _ := json.Marshal(req)
	return req, raw
}

func TestHandleCallback_ActivatesCommonLicense(t *testing.T) {
	h := newHarness(t)
	order := h.commonOrder(t)

	req, raw := signedCallback(order.GatewayOrderID, "pay_1")
	res, err := h.processor.HandleCallback(h.ctx, licensing.ProductCommon, req, raw)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusSuccess, res.Status)
	assert.False(t, res.AlreadyProcessed)

	active, err := h.ledger.GetActiveCommonLicense(h.ctx, instituteID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, order.ID, active.ID)
	assert.Equal(t, "pay_1", active.GatewayPaymentID)
	assert.Equal(t, h.now.Add(30*24*time.Hour).UnixMilli(), active.EndDate)
	assert.Equal(t, 1180.0, active.Amount)
}

func TestHandleCallback_SecondCallbackIsNoop(t *testing.T) {
	h := newHarness(t)
	order := h.commonOrder(t)

	req, raw := signedCallback(order.GatewayOrderID, "pay_1")
	_, err := h.processor.HandleCallback(h.ctx, licensing.ProductCommon, req, raw)
	require.NoError(t, err)
	first, err := h.ledger.GetOrder(h.ctx, order.ID)
	require.NoError(t, err)

	h.now = h.now.Add(time.Hour)
	res, err := h.processor.HandleCallback(h.ctx, licensing.ProductCommon, req, raw)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusSuccess, res.Status)
	assert.True(t, res.AlreadyProcessed)

	second, err := h.ledger.GetOrder(h.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	logged, err := h.store.ListCallbacks(h.ctx, order.GatewayOrderID)
	require.NoError(t, err)
	assert.Len(t, logged, 2)
}

func TestHandleCallback_BadSignatureLeavesOrderAndLogsPayload(t *testing.T) {
	h := newHarness(t)
	order := h.commonOrder(t)

	req, _ := signedCallback(order.GatewayOrderID, "pay_1")
	req.Signature = payments.Sign([]byte(order.GatewayOrderID+"|pay_1"), "wrong")
	raw, _ := json.Marshal(req)

	res, err := h.processor.HandleCallback(h.ctx, licensing.ProductCommon, req, raw)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusFailed, res.Status)
	assert.Nil(t, res.Order)

	got, err := h.ledger.GetOrder(h.ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, got.Paid)
	assert.False(t, got.Active)

	logged, err := h.store.ListCallbacks(h.ctx, order.GatewayOrderID)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.False(t, logged[0].Verified)
	assert.JSONEq(t, string(raw), string(logged[0].Payload))
	assert.Equal(t, h.now.UnixMilli(), logged[0].ReceivedOn)
}

func TestHandleCallback_ProductMismatch(t *testing.T) {
	h := newHarness(t)
	order := h.commonOrder(t)

	req, raw := signedCallback(order.GatewayOrderID, "pay_1")
	_, err := h.processor.HandleCallback(h.ctx, licensing.ProductStorage, req, raw)
	assert.True(t, apperr.IsValidation(err))

	got, err := h.ledger.GetOrder(h.ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, got.Paid)
}

func TestHandleCallback_UnknownOrder(t *testing.T) {
	h := newHarness(t)
	req, raw := signedCallback("order_missing", "pay_1")
	_, err := h.processor.HandleCallback(h.ctx, licensing.ProductCommon, req, raw)
	assert.True(t, apperr.IsNotFound(err))
}

func TestHandleCallback_StorageLicenseAddsCapacity(t *testing.T) {
	h := newHarness(t)
	order, creds, err := h.ledger.CreateStorageLicenseOrder(h.ctx, adminID, instituteID, 20, 3, licensing.GatewayRazorpay)
	require.NoError(t, err)
	assert.Equal(t, int64(70800), creds.Amount)

	req, raw := signedCallback(creds.GatewayOrderID, "pay_s")
	res, err := h.processor.HandleCallback(h.ctx, licensing.ProductStorage, req, raw)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusSuccess, res.Status)

	stats, err := h.ledger.LicenseStatistics(h.ctx, instituteID)
	require.NoError(t, err)
	assert.Equal(t, 20.0, stats.TotalStorage)
	assert.Equal(t, h.now.Add(90*24*time.Hour).UnixMilli(), stats.StorageLicenseEndDate)

	// a replay must not add the capacity twice
	_, err = h.processor.HandleCallback(h.ctx, licensing.ProductStorage, req, raw)
	require.NoError(t, err)
	stats, err = h.ledger.LicenseStatistics(h.ctx, instituteID)
	require.NoError(t, err)
	assert.Equal(t, 20.0, stats.TotalStorage)
	assert.Equal(t, order.ID, res.Order.ID)
}

func webhookBody(event, gatewayOrderID, paymentID string) []byte {
	body := map[string]interface{}{
		"event": event,
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{"id": paymentID, "order_id": gatewayOrderID, "status": "captured"},
			},
		},
	}
	raw, _ := json.Marshal(body)
	return raw
}

func TestHandleWebhook_PaymentCaptured(t *testing.T) {
	h := newHarness(t)
	order := h.commonOrder(t)

	body := webhookBody(payments.EventPaymentCaptured, order.GatewayOrderID, "pay_w")
	res, err := h.processor.HandleWebhook(h.ctx, body, payments.Sign(body, webhookSecret))
	require.NoError(t, err)
	assert.Equal(t, payments.StatusSuccess, res.Status)

	got, err := h.ledger.GetOrder(h.ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, got.Paid)
	assert.Equal(t, "pay_w", got.GatewayPaymentID)

	// the checkout callback arriving after the webhook is a no-op
	req, raw := signedCallback(order.GatewayOrderID, "pay_w")
	res, err = h.processor.HandleCallback(h.ctx, licensing.ProductCommon, req, raw)
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
}

func TestHandleWebhook_OrderPaidUsesOrderEntity(t *testing.T) {
	h := newHarness(t)
	order := h.commonOrder(t)

	body, _ := json.Marshal(map[string]interface{}{
		"event": payments.EventOrderPaid,
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{"entity": map[string]interface{}{"id": "pay_o"}},
			"order":   map[string]interface{}{"entity": map[string]interface{}{"id": order.GatewayOrderID}},
		},
	})
	res, err := h.processor.HandleWebhook(h.ctx, body, payments.Sign(body, webhookSecret))
	require.NoError(t, err)
	assert.Equal(t, payments.StatusSuccess, res.Status)
	require.NotNil(t, res.Order)
	assert.True(t, res.Order.Paid)
}

func TestHandleWebhook_Rejections(t *testing.T) {
	h := newHarness(t)
	order := h.commonOrder(t)

	tests := []struct {
		name      string
		body      []byte
		signature func([]byte) string
	}{
		{
			name:      "bad signature",
			body:      webhookBody(payments.EventPaymentCaptured, order.GatewayOrderID, "pay_x"),
			signature: func(b []byte) string { return payments.Sign(b, keySecret) },
		},
		{
			name:      "payment failed",
			body:      webhookBody(payments.EventPaymentFailed, order.GatewayOrderID, "pay_x"),
			signature: func(b []byte) string { return payments.Sign(b, webhookSecret) },
		},
		{
			name:      "unknown order",
			body:      webhookBody(payments.EventPaymentCaptured, "order_elsewhere", "pay_x"),
			signature: func(b []byte) string { return payments.Sign(b, webhookSecret) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.processor.HandleWebhook(h.ctx, tt.body, tt.signature(tt.body))
			require.NoError(t, err)
			assert.Equal(t, payments.StatusFailed, res.Status)

			got, err := h.ledger.GetOrder(h.ctx, order.ID)
			require.NoError(t, err)
			assert.False(t, got.Paid)
		})
	}

	all, err := h.store.ListCallbacks(h.ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, len(tests))
}

func TestHandleWebhook_IgnoredAndMalformed(t *testing.T) {
	h := newHarness(t)

	body := []byte(`{"event":"refund.created","payload":{}}`)
	res, err := h.processor.HandleWebhook(h.ctx, body, payments.Sign(body, webhookSecret))
	require.NoError(t, err)
	assert.Equal(t, payments.StatusSuccess, res.Status)
	assert.Nil(t, res.Order)

	malformed := []byte(`not json`)
	_, err = h.processor.HandleWebhook(h.ctx, malformed, payments.Sign(malformed, webhookSecret))
	assert.True(t, apperr.IsValidation(err))
}
