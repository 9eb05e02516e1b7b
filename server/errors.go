package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/wudi/pdfstudio/entitlement"
	"github.com/wudi/pdfstudio/payment"
)

func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(payment.ErrorBody{
		RequestID: requestID(c),
		Error:     payment.ErrorDetail{Code: code, Message: message},
	})
}

// ErrorHandler renders errors that reach Fiber in the standard envelope.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, payment.CodeBadRequest, "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, payment.CodeNotFound, "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "method_not_allowed", "method not allowed")
		default:
			return writeError(c, status, payment.CodeInternal, "internal server error")
		}
	}
}

// providerFailure maps a provider error to a response. Errors of unknown
// kind count as the provider being unavailable; their text is only logged.
func providerFailure(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, entitlement.ErrSessionNotFound):
		return writeError(c, fiber.StatusNotFound, payment.CodeNotFound, "checkout session not found")
	case errors.Is(err, entitlement.ErrNoPurchaseFound):
		return writeError(c, fiber.StatusNotFound, payment.CodeNotFound, "no purchase found for this email")
	case errors.Is(err, entitlement.ErrInvalidEmail):
		return writeError(c, fiber.StatusBadRequest, payment.CodeInvalidEmail, "invalid email address")
	case errors.Is(err, entitlement.ErrCheckoutUnsupported):
		return writeError(c, fiber.StatusNotImplemented, payment.CodeUnsupported, "checkout is not available")
	}
	return writeError(c, fiber.StatusBadGateway, payment.CodeUnavailable, "payment provider unavailable")
}
