package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/lectern/pkg/licensing"
)

// ErrSignatureMismatch is a definitive rejection; it must not be retried
var ErrSignatureMismatch = errors.New("payment signature mismatch")

// DefaultRazorpayBaseURL is the production API root
const DefaultRazorpayBaseURL = "https://api.razorpay.com"

// RazorpayConfig holds gateway credentials
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
}

// Razorpay is a minimal client for the Razorpay orders API and signature
// scheme. It implements licensing.GatewayClient and Verifier.
type Razorpay struct {
	cfg    RazorpayConfig
	client *http.Client
}

var (
	_ licensing.GatewayClient = (*Razorpay)(nil)
	_ Verifier                = (*Razorpay)(nil)
)

// NewRazorpay creates a client whose requests are traced
func NewRazorpay(cfg RazorpayConfig) *Razorpay {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultRazorpayBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Razorpay{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Name identifies the gateway
func (r *Razorpay) Name() licensing.Gateway {
	return licensing.GatewayRazorpay
}

// KeyID is the public key handed to the checkout
func (r *Razorpay) KeyID() string {
	return r.cfg.KeyID
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type createOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateOrder registers a checkout order for amountMinor and returns its id
func (r *Razorpay) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error) {
	body, err := json.Marshal(createOrderRequest{Amount: amountMinor, Currency: currency, Receipt: receipt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal order: %w", err)
	}

	url := strings.TrimRight(r.cfg.BaseURL, "/") + "/v1/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(r.cfg.KeyID, r.cfg.KeySecret)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call razorpay: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read razorpay response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("razorpay returned status %d: %s", resp.StatusCode, truncate(string(data), 256))
	}

	var out createOrderResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode razorpay order: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("razorpay order response has no id")
	}
	return out.ID, nil
}

// VerifyPaymentSignature checks the checkout signature over "order|payment"
func (r *Razorpay) VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) error {
	if gatewayOrderID == "" || paymentID == "" || signature == "" {
		return ErrSignatureMismatch
	}
	return verify([]byte(gatewayOrderID+"|"+paymentID), signature, r.cfg.KeySecret)
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header over the raw body
func (r *Razorpay) VerifyWebhookSignature(body []byte, signature string) error {
	if signature == "" || r.cfg.WebhookSecret == "" {
		return ErrSignatureMismatch
	}
	return verify(body, signature, r.cfg.WebhookSecret)
}

// Sign computes the hex HMAC-SHA256 the gateway would send for payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(payload []byte, signature, secret string) error {
	expected := Sign(payload, secret)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrSignatureMismatch
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// DisabledVerifier rejects every signature. It stands in for the gateway when
// online payments are turned off, so callbacks are still logged.
type DisabledVerifier struct{}

func (DisabledVerifier) VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) error {
	return ErrSignatureMismatch
}

func (DisabledVerifier) VerifyWebhookSignature(body []byte, signature string) error {
	return ErrSignatureMismatch
}
