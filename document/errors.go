package document

import (
	"errors"
	"fmt"
)

var (
	ErrCorruptDocument       = errors.New("corrupt document")
	ErrUnsupportedEncryption = errors.New("unsupported encryption")
	ErrInvalidPassword       = errors.New("invalid password")
	ErrEmptyDocument         = errors.New("document has no pages")
	ErrNoRenderer            = errors.New("no renderer configured")
)

// LoadError carries the detail behind a load failure. Kind is one of the
// sentinel errors above; Err is the underlying cause, if any.
type LoadError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *LoadError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func loadError(kind error, detail string, err error) *LoadError {
	return &LoadError{Kind: kind, Detail: detail, Err: err}
}
