// Package gateway is the thin adapter to the external payment provider.
// Only the contract matters to the rest of the service: create a checkout
// session, retrieve one, verify a webhook signature. No retries happen here;
// failures propagate to the caller.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storefront-service/internal/models"
)

// Sentinel errors surfaced to the webhook endpoint, which maps them to 400s.
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)

// Session is the provider-side checkout session state.
type Session struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	Status          string `json:"status"`
	PaymentStatus   string `json:"payment_status"`
	PaymentIntentID string `json:"payment_intent"`
}

// Session statuses reported by the provider.
const (
	SessionStatusOpen     = "open"
	SessionStatusComplete = "complete"
	SessionStatusExpired  = "expired"

	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

// Event is a verified webhook event envelope.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	Object EventObject `json:"object"`
}

// EventObject is the session object carried inside an event.
type EventObject struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
}

// Event types delivered by the provider.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	EventCheckoutExpired       = "checkout.session.expired"
	EventPaymentIntentFailed   = "payment_intent.payment_failed"
)

// CheckoutGateway is the contract the core depends on.
type CheckoutGateway interface {
	CreateCheckoutSession(ctx context.Context, order *models.Order, items []models.OrderLineItem) (*Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (*Session, error)
	VerifySignature(payload []byte, signatureHeader string) (*Event, error)
}

// Client talks to the provider's HTTP API.
type Client struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
	httpClient    *http.Client
	tolerance     time.Duration
}

// Config holds the provider credentials and redirect URLs.
type Config struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// NewClient creates a new gateway client
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		tolerance:     5 * time.Minute,
	}
}

// CreateCheckoutSession creates a remote checkout session for a pending order.
// The order id and number travel in session metadata so webhook events can be
// mapped back to the local order.
func (c *Client) CreateCheckoutSession(ctx context.Context, order *models.Order, items []models.OrderLineItem) (*Session, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", fmt.Sprintf("%s/%s", strings.TrimRight(c.successURL, "/"), order.OrderNumber))
	form.Set("cancel_url", c.cancelURL)
	form.Set("client_reference_id", order.OrderNumber)
	form.Set("metadata[order_id]", strconv.FormatInt(order.ID, 10))
	form.Set("metadata[order_number]", order.OrderNumber)

	for i, item := range items {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[price_data][currency]", "eur")
		form.Set(prefix+"[price_data][product_data][name]", item.ProductTitle)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(item.ProductPrice, 10))
		form.Set(prefix+"[quantity]", strconv.Itoa(item.Quantity))
	}

	var session Session
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	if session.URL == "" {
		return nil, fmt.Errorf("checkout session %s has no redirect url", session.ID)
	}
	return &session, nil
}

// RetrieveSession fetches the current state of a checkout session
func (c *Client) RetrieveSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	path := "/v1/checkout/sessions/" + url.PathEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &session); err != nil {
		return nil, fmt.Errorf("failed to retrieve session %s: %w", sessionID, err)
	}
	return &session, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return json.Unmarshal(raw, out)
}
