package generation

import (
	"fmt"
	"strings"
)

// Kind categorizes a remote generation failure.
type Kind string

const (
	KindNetwork         Kind = "network"
	KindAuth            Kind = "auth"
	KindQuota           Kind = "quota"
	KindRateLimit       Kind = "rate_limit"
	KindTimeout         Kind = "timeout"
	KindServer          Kind = "server"
	KindEmpty           Kind = "empty"
	KindInvalidResponse Kind = "invalid_response"
)

// Error is a typed remote generation failure.
type Error struct {
	Kind       Kind
	Message    string
	Provider   string
	StatusCode int
	Cause      error
}

// NewError creates an Error without a cause.
func NewError(kind Kind, provider, message string) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message}
}

// Wrap creates an Error around cause.
func Wrap(kind Kind, provider, message string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Provider != "" {
		parts = append(parts, fmt.Sprintf("provider=%s", e.Provider))
	}
	parts = append(parts, fmt.Sprintf("kind=%s", e.Kind))
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	parts = append(parts, e.Message)
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%s", e.Cause.Error()))
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Retryable reports whether repeating the request may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindRateLimit, KindServer:
		return true
	}
	return false
}
