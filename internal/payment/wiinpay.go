// Package payment implements the WiinPay PIX payment provider client.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the production WiinPay API endpoint.
	DefaultBaseURL = "https://api-v2.wiinpay.com.br"

	// statusMaxRetries bounds GetPaymentStatus retries. CreatePayment is
	// never retried: a lost response could mean a charge already exists.
	statusMaxRetries = 3
)

// paidStatuses are the provider states that count as a settled payment.
var paidStatuses = map[string]bool{
	"paid":      true,
	"approved":  true,
	"completed": true,
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("wiinpay: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// CreatePaymentParams are the inputs for a new PIX charge.
type CreatePaymentParams struct {
	Value       float64           `json:"value"`
	Name        string            `json:"name"`
	Email       string            `json:"email"`
	Description string            `json:"description"`
	WebhookURL  string            `json:"webhook_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PaymentResponse is the provider's view of a charge.
type PaymentResponse struct {
	PaymentID    string `json:"paymentId"`
	QRCode       string `json:"qrCode"`
	PixCopiaCola string `json:"pixCopiaCola"`
	Status       string `json:"status"`
}

// Paid reports whether the provider considers the charge settled.
func (p *PaymentResponse) Paid() bool {
	return paidStatuses[strings.ToLower(p.Status)]
}

// Provider is the payment surface the turn dispatcher depends on.
type Provider interface {
	CreatePayment(ctx context.Context, params CreatePaymentParams) (*PaymentResponse, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentResponse, error)
}

// Client talks to the WiinPay HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Compile-time check that Client implements Provider.
var _ Provider = (*Client)(nil)

type Option func(*Client)

// WithBaseURL overrides the API endpoint. Used in tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a WiinPay client with the given API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("wiinpay: API key must not be empty")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// createEnvelope matches the provider's create endpoint, which takes the API
// key in the body rather than a header.
type createEnvelope struct {
	APIKey string `json:"api_key"`
	CreatePaymentParams
}

// dataEnvelope unwraps responses that nest the payload under "data".
type dataEnvelope struct {
	Data    *PaymentResponse `json:"data"`
	Message string           `json:"message"`
}

// CreatePayment creates a PIX charge. It is deliberately not retried:
// retrying a create whose response was lost can double-charge the lead.
func (c *Client) CreatePayment(ctx context.Context, params CreatePaymentParams) (*PaymentResponse, error) {
	if params.Value <= 0 {
		return nil, fmt.Errorf("wiinpay: invalid charge value %v", params.Value)
	}
	body, err := json.Marshal(createEnvelope{APIKey: c.apiKey, CreatePaymentParams: params})
	if err != nil {
		return nil, fmt.Errorf("wiinpay: encode create request: %w", err)
	}

	url := c.baseURL + "/payment/create"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wiinpay: create payment request failed: %w", err)
	}
	defer resp.Body.Close()

	payment, err := decodePayment(resp, url)
	if err != nil {
		return nil, err
	}
	if payment.PaymentID == "" {
		return nil, errors.New("wiinpay: create response missing payment ID")
	}
	slog.Info("WiinPay.CreatePayment succeeded", "paymentID", payment.PaymentID, "value", params.Value)
	return payment, nil
}

// GetPaymentStatus fetches the current state of a charge, retrying transient
// failures. Status reads are idempotent, so retries are safe here.
func (c *Client) GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentResponse, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, errors.New("wiinpay: payment ID must not be empty")
	}
	url := c.baseURL + "/payment/list/" + paymentID

	var lastErr error
	for attempt := 1; attempt <= statusMaxRetries; attempt++ {
		payment, err := c.fetchStatus(ctx, url)
		if err == nil {
			return payment, nil
		}
		lastErr = err
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
			// Client errors will not heal on retry.
			return nil, err
		}
		if attempt < statusMaxRetries {
			slog.Debug("WiinPay.GetPaymentStatus: retrying", "paymentID", paymentID, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	return nil, fmt.Errorf("wiinpay: status check failed after %d attempts: %w", statusMaxRetries, lastErr)
}

func (c *Client) fetchStatus(ctx context.Context, url string) (*PaymentResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wiinpay: status request failed: %w", err)
	}
	defer resp.Body.Close()

	return decodePayment(resp, url)
}

func decodePayment(resp *http.Response, url string) (*PaymentResponse, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("wiinpay: read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, URL: url, Body: strings.TrimSpace(string(raw))}
	}

	var envelope dataEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Data != nil {
		return envelope.Data, nil
	}
	var payment PaymentResponse
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, fmt.Errorf("wiinpay: decode response: %w", err)
	}
	return &payment, nil
}
