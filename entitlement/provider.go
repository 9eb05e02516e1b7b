package entitlement

import (
	"context"
	"time"
)

// Verification is the provider's view of one checkout session.
type Verification struct {
	SessionID   string
	Paid        bool
	Email       string
	ProductType string
	PaidAt      time.Time
}

// PaidSession is a completed purchase found in the provider's history.
type PaidSession struct {
	SessionID   string
	Email       string
	ProductType string
	PaidAt      time.Time
}

// CheckoutSession is a checkout started with the provider.
type CheckoutSession struct {
	ID  string
	URL string
}

// Provider is the external source of truth for payments. VerifySession
// returns ErrSessionNotFound for unknown ids and FindPaidSession returns
// ErrNoPurchaseFound when nothing matches. Any other error is treated as the
// provider being unavailable.
type Provider interface {
	VerifySession(ctx context.Context, sessionID string) (Verification, error)
	FindPaidSession(ctx context.Context, email, productType string) (PaidSession, error)
}

// CheckoutProvider is implemented by providers that can start a checkout.
type CheckoutProvider interface {
	Provider
	CreateCheckout(ctx context.Context, email, productType string) (CheckoutSession, error)
}
