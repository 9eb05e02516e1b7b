package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wudi/pdfstudio/entitlement"
	"github.com/wudi/pdfstudio/observability"
)

const defaultTimeout = 10 * time.Second

// Client is an entitlement.CheckoutProvider backed by the bridge.
type Client struct {
	baseURL string
	http    *http.Client
	logger  observability.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which has a 10s timeout.
func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }
func WithTimeout(d time.Duration) Option   { return func(cl *Client) { cl.http.Timeout = d } }
func WithLogger(l observability.Logger) Option {
	return func(cl *Client) { cl.logger = observability.OrNop(l) }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) VerifySession(ctx context.Context, sessionID string) (entitlement.Verification, error) {
	var out VerifyResponse
	if err := c.post(ctx, PathVerify, VerifyRequest{SessionID: sessionID}, &out, entitlement.ErrSessionNotFound); err != nil {
		return entitlement.Verification{}, err
	}
	return entitlement.Verification{
		SessionID:   sessionID,
		Paid:        out.Paid,
		Email:       out.Email,
		ProductType: out.ProductType,
		PaidAt:      out.PaidAt,
	}, nil
}

func (c *Client) FindPaidSession(ctx context.Context, email, productType string) (entitlement.PaidSession, error) {
	var out RecoverResponse
	req := RecoverRequest{Email: email, ProductType: productType}
	if err := c.post(ctx, PathRecover, req, &out, entitlement.ErrNoPurchaseFound); err != nil {
		return entitlement.PaidSession{}, err
	}
	if !out.Found {
		return entitlement.PaidSession{}, entitlement.ErrNoPurchaseFound
	}
	return entitlement.PaidSession{
		SessionID:   out.SessionID,
		Email:       out.Email,
		ProductType: out.ProductType,
		PaidAt:      out.PaidAt,
	}, nil
}

func (c *Client) CreateCheckout(ctx context.Context, email, productType string) (entitlement.CheckoutSession, error) {
	var out CheckoutResponse
	req := CheckoutRequest{Email: email, ProductType: productType}
	if err := c.post(ctx, PathCheckout, req, &out, nil); err != nil {
		return entitlement.CheckoutSession{}, err
	}
	return entitlement.CheckoutSession{ID: out.SessionID, URL: out.URL}, nil
}

// post sends body as JSON and decodes a 200 response into out. A 404 is
// reported as notFound when it is set.
func (c *Client) post(ctx context.Context, path string, body, out any, notFound error) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", entitlement.ErrProviderUnavailable, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("bridge call",
		observability.String("path", path),
		observability.Int("status", resp.StatusCode),
		observability.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		return statusError(resp, notFound)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", entitlement.ErrProviderUnavailable, path, err)
	}
	return nil
}

// statusError maps a non-200 response to an entitlement error.
func statusError(resp *http.Response, notFound error) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body ErrorBody
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		msg = body.Error.Message
	}
	switch {
	case resp.StatusCode == http.StatusNotFound && notFound != nil:
		return notFound
	case body.Error.Code == CodeUnpaid:
		return fmt.Errorf("%w: %s", entitlement.ErrPaymentNotCompleted, msg)
	case body.Error.Code == CodeInvalidEmail:
		return fmt.Errorf("%w: %s", entitlement.ErrInvalidEmail, msg)
	case body.Error.Code == CodeUnsupported:
		return fmt.Errorf("%w: %s", entitlement.ErrCheckoutUnsupported, msg)
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}

// StatusError is an unexpected bridge status. It matches
// entitlement.ErrProviderUnavailable.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bridge returned %d: %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool { return target == entitlement.ErrProviderUnavailable }

var _ entitlement.CheckoutProvider = (*Client)(nil)
