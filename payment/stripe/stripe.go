// Package stripe is the Stripe Checkout provider implementing
// entitlement.CheckoutProvider. It is used by the verification bridge, which
// is the only place the secret key lives.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/wudi/pdfstudio/entitlement"
	"github.com/wudi/pdfstudio/observability"
)

const (
	DefaultBaseURL = "https://api.stripe.com"
	// MetadataProduct is the session metadata key holding the product type.
	MetadataProduct = "productType"

	listLimit    = 100
	maxListPages = 10
)

var ErrNoKey = errors.New("stripe secret key not configured")

type Config struct {
	SecretKey  string
	BaseURL    string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
}

type Client struct {
	cfg      Config
	sessions session.Client
	logger   observability.Logger
}

func New(cfg Config, logger observability.Logger) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, ErrNoKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger = observability.OrNop(logger)
	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
		URL:               stripeapi.String(cfg.BaseURL),
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripeapi.Int64(0),
		LeveledLogger:     leveledLogger{logger},
	})
	return &Client{
		cfg:      cfg,
		sessions: session.Client{B: backend, Key: cfg.SecretKey},
		logger:   logger,
	}, nil
}

func sessionEmail(s *stripeapi.CheckoutSession) string {
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}

func paid(s *stripeapi.CheckoutSession) bool {
	return s.PaymentStatus == stripeapi.CheckoutSessionPaymentStatusPaid
}

func createdAt(s *stripeapi.CheckoutSession) time.Time {
	if s.Created == 0 {
		return time.Time{}
	}
	return time.Unix(s.Created, 0).UTC()
}

func (c *Client) VerifySession(ctx context.Context, sessionID string) (entitlement.Verification, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, "/?#") {
		return entitlement.Verification{}, entitlement.ErrSessionNotFound
	}
	params := &stripeapi.CheckoutSessionParams{}
	params.Context = ctx
	start := time.Now()
	s, err := c.sessions.Get(sessionID, params)
	c.logCall("retrieve", start, err)
	if err != nil {
		return entitlement.Verification{}, classify(err, entitlement.ErrSessionNotFound)
	}
	return entitlement.Verification{
		SessionID:   s.ID,
		Paid:        paid(s),
		Email:       sessionEmail(s),
		ProductType: s.Metadata[MetadataProduct],
		PaidAt:      createdAt(s),
	}, nil
}

// FindPaidSession walks recent completed sessions, newest first, and
// returns the first paid one for email and productType. At most
// maxListPages pages are read.
func (c *Client) FindPaidSession(ctx context.Context, email, productType string) (entitlement.PaidSession, error) {
	params := &stripeapi.CheckoutSessionListParams{
		Status: stripeapi.String(string(stripeapi.CheckoutSessionStatusComplete)),
	}
	params.Context = ctx
	params.Limit = stripeapi.Int64(listLimit)

	start := time.Now()
	it := c.sessions.List(params)
	for seen := 0; seen < maxListPages*listLimit && it.Next(); seen++ {
		s := it.CheckoutSession()
		if !paid(s) || !strings.EqualFold(sessionEmail(s), email) {
			continue
		}
		if productType != "" && s.Metadata[MetadataProduct] != productType {
			continue
		}
		c.logCall("list", start, nil)
		return entitlement.PaidSession{
			SessionID:   s.ID,
			Email:       sessionEmail(s),
			ProductType: s.Metadata[MetadataProduct],
			PaidAt:      createdAt(s),
		}, nil
	}
	err := it.Err()
	c.logCall("list", start, err)
	if err != nil {
		return entitlement.PaidSession{}, classify(err, nil)
	}
	return entitlement.PaidSession{}, entitlement.ErrNoPurchaseFound
}

func (c *Client) CreateCheckout(ctx context.Context, email, productType string) (entitlement.CheckoutSession, error) {
	if c.cfg.PriceID == "" {
		return entitlement.CheckoutSession{}, fmt.Errorf("%w: no price configured", entitlement.ErrCheckoutUnsupported)
	}
	params := &stripeapi.CheckoutSessionParams{
		Mode: stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{Price: stripeapi.String(c.cfg.PriceID), Quantity: stripeapi.Int64(1)},
		},
		SuccessURL: stripeapi.String(c.cfg.SuccessURL),
		CancelURL:  stripeapi.String(c.cfg.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata(MetadataProduct, productType)
	if email != "" {
		params.CustomerEmail = stripeapi.String(email)
	}
	start := time.Now()
	s, err := c.sessions.New(params)
	c.logCall("create", start, err)
	if err != nil {
		return entitlement.CheckoutSession{}, classify(err, nil)
	}
	return entitlement.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// classify maps a stripe-go error onto the entitlement sentinels. A 404 is
// notFound when that is set; everything else means the provider failed.
func classify(err error, notFound error) error {
	var se *stripeapi.Error
	if errors.As(err, &se) {
		if notFound != nil && (se.HTTPStatusCode == http.StatusNotFound || se.Code == stripeapi.ErrorCodeResourceMissing) {
			return notFound
		}
		return fmt.Errorf("%w: stripe returned %d: %s", entitlement.ErrProviderUnavailable, se.HTTPStatusCode, se.Msg)
	}
	return fmt.Errorf("%w: stripe: %w", entitlement.ErrProviderUnavailable, err)
}

func (c *Client) logCall(call string, start time.Time, err error) {
	fields := []observability.Field{
		observability.String("call", call),
		observability.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		fields = append(fields, observability.Error("error", err))
	}
	c.logger.Debug("stripe call", fields...)
}

// leveledLogger routes stripe-go's own logging into the service logger.
type leveledLogger struct{ l observability.Logger }

func (l leveledLogger) Debugf(format string, v ...interface{}) { l.l.Debug(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Infof(format string, v ...interface{})  { l.l.Debug(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Warnf(format string, v ...interface{})  { l.l.Warn(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Errorf(format string, v ...interface{}) { l.l.Warn(fmt.Sprintf(format, v...)) }

var _ entitlement.CheckoutProvider = (*Client)(nil)
