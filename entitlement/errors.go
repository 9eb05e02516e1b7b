package entitlement

import (
	"errors"
	"fmt"
)

var (
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrSessionNotFound     = errors.New("payment session not found")
	ErrNoPurchaseFound     = errors.New("no purchase found")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrSlotLimit           = errors.New("tool slot limit exceeded")
	ErrToolLocked          = errors.New("tool is not active")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrInvalidEmail        = errors.New("invalid email")
	ErrNoLicense           = errors.New("no license")
	ErrAlreadyLicensed     = errors.New("already licensed")
	ErrCheckoutUnsupported = errors.New("provider cannot create checkouts")
	ErrNoState             = errors.New("no stored entitlement state")
	ErrCorruptState        = errors.New("corrupt entitlement state")
)

// SlotLimitError reports a tool selection larger than the current slot max.
type SlotLimitError struct {
	Requested int
	Max       int
}

func (e *SlotLimitError) Error() string {
	return fmt.Sprintf("tool slot limit exceeded: %d tools requested, %d slots available", e.Requested, e.Max)
}

func (e *SlotLimitError) Unwrap() error { return ErrSlotLimit }
