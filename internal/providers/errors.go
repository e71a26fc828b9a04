package providers

import (
	"errors"
	"fmt"
	"net/http"
)

// errNoCredential marks a fetch attempted without a usable credential.
var errNoCredential = errors.New("no credential configured")

// ErrorKind classifies a provider failure for the retry policy.
type ErrorKind int

const (
	// KindOther is any failure with no special handling; not retried.
	KindOther ErrorKind = iota
	// KindUnauthorized is a 401-equivalent; escalated to credential refresh.
	KindUnauthorized
	// KindRateLimited is a 429-equivalent; retried with longer backoff.
	KindRateLimited
	// KindNetwork is a timeout, connection loss or DNS failure; retried.
	KindNetwork
	// KindMalformed is an undecodable response body; not retried.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate-limited"
	case KindNetwork:
		return "network"
	case KindMalformed:
		return "malformed-response"
	default:
		return "other"
	}
}

// Error is a typed provider failure.
type Error struct {
	Err      error
	Provider string
	Kind     ErrorKind
	Status   int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind, returning KindOther for untyped errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized
}

// IsRateLimited reports whether err is a rate-limit failure.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// IsRetryable reports whether the fetch policy may retry err locally.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindNetwork || k == KindRateLimited
}

// statusError classifies an unexpected HTTP status into a typed error.
func statusError(provider string, status int) *Error {
	e := &Error{Provider: provider, Status: status}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindUnauthorized
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status >= 500:
		// Upstream 5xx behaves like a transient outage.
		e.Kind = KindNetwork
	default:
		e.Kind = KindOther
	}
	return e
}
