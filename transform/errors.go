package transform

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfstudio/document"
)

var (
	ErrEmptySelection         = errors.New("no pages selected")
	ErrInvalidRange           = errors.New("invalid page range")
	ErrInvalidParams          = errors.New("invalid parameters")
	ErrIncompatibleInput      = errors.New("incompatible input")
	ErrUnsupportedImageFormat = errors.New("unsupported image format")
	ErrInvalidPassword        = document.ErrInvalidPassword
)

// RangeError names the token of a range expression that failed to parse.
type RangeError struct {
	Token  string
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid page range %q: %s", e.Token, e.Reason)
}

func (e *RangeError) Unwrap() error { return ErrInvalidRange }

// OperationError is returned by Engine.Apply. Err carries the cause.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *OperationError) Unwrap() error { return e.Err }
