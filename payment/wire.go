// Package payment talks to the verification bridge, the small server that
// holds the payment provider's secret key on behalf of clients.
package payment

import "time"

// Bridge routes.
const (
	PathVerify   = "/api/verify-payment"
	PathRecover  = "/api/recover-license"
	PathCheckout = "/api/create-checkout"
)

type VerifyRequest struct {
	SessionID string `json:"sessionId"`
}

type VerifyResponse struct {
	Paid        bool      `json:"paid"`
	Email       string    `json:"email,omitempty"`
	ProductType string    `json:"productType,omitempty"`
	PaidAt      time.Time `json:"paidAt,omitzero"`
}

type RecoverRequest struct {
	Email       string `json:"email"`
	ProductType string `json:"productType,omitempty"`
}

type RecoverResponse struct {
	Found       bool      `json:"found"`
	SessionID   string    `json:"sessionId,omitempty"`
	Email       string    `json:"email,omitempty"`
	ProductType string    `json:"productType,omitempty"`
	PaidAt      time.Time `json:"paidAt,omitzero"`
}

type CheckoutRequest struct {
	Email       string `json:"email"`
	ProductType string `json:"productType,omitempty"`
}

type CheckoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// ErrorBody is the error envelope every non-2xx bridge response carries.
type ErrorBody struct {
	RequestID string      `json:"request_id,omitempty"`
	Error     ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes used in ErrorBody.
const (
	CodeBadRequest   = "bad_request"
	CodeNotFound     = "not_found"
	CodeUnpaid       = "payment_not_completed"
	CodeUnavailable  = "provider_unavailable"
	CodeUnsupported  = "unsupported"
	CodeInternal     = "internal"
	CodeInvalidEmail = "invalid_email"
)
