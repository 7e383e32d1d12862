package market

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidSymbol is a caller error: the key can never resolve
	ErrInvalidSymbol = errors.New("invalid symbol")
	// ErrInvalidTimeframe is a caller error for unknown timeframe strings
	ErrInvalidTimeframe = errors.New("invalid timeframe")
)

// ErrorKind classifies upstream failures for retry decisions
type ErrorKind string

const (
	KindNetwork      ErrorKind = "network"
	KindTimeout      ErrorKind = "timeout"
	KindRateLimit    ErrorKind = "rate_limit"
	KindEmptyPayload ErrorKind = "empty_payload"
	KindProvider     ErrorKind = "provider_error"
	KindNotFound     ErrorKind = "not_found"
	KindUnsupported  ErrorKind = "unsupported"
)

// Terminal reports whether retrying this kind of failure is pointless
func (k ErrorKind) Terminal() bool {
	return k == KindNotFound || k == KindUnsupported
}

// Error represents an upstream fetch failure
type Error struct {
	Kind    ErrorKind
	Symbol  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Kind, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Kind, e.Symbol, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Common error constructors
func NewNetworkError(symbol, message string, cause error) *Error {
	return &Error{Kind: KindNetwork, Symbol: symbol, Message: message, Cause: cause}
}

func NewTimeoutError(symbol, message string, cause error) *Error {
	return &Error{Kind: KindTimeout, Symbol: symbol, Message: message, Cause: cause}
}

func NewRateLimitError(symbol, message string) *Error {
	return &Error{Kind: KindRateLimit, Symbol: symbol, Message: message}
}

func NewEmptyPayloadError(symbol, message string) *Error {
	return &Error{Kind: KindEmptyPayload, Symbol: symbol, Message: message}
}

func NewProviderError(symbol, message string, cause error) *Error {
	return &Error{Kind: KindProvider, Symbol: symbol, Message: message, Cause: cause}
}

func NewNotFoundError(symbol, message string) *Error {
	return &Error{Kind: KindNotFound, Symbol: symbol, Message: message}
}

func NewUnsupportedError(symbol, message string) *Error {
	return &Error{Kind: KindUnsupported, Symbol: symbol, Message: message}
}

// KindOf extracts the failure class; unknown errors count as provider errors
func KindOf(err error) ErrorKind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindProvider
}

// IsTerminal reports whether err should skip remaining retries
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Kind.Terminal()
	}
	return false
}

// IsTransient reports whether err is worth another attempt
func IsTransient(err error) bool {
	return err != nil && !IsTerminal(err) && !errors.Is(err, context.Canceled)
}
