package assistant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrInvalidHandle reports that the assistant service no longer accepts a
// conversation handle. It is the only validation outcome that leads to
// thread recreation.
var ErrInvalidHandle = errors.New("conversation handle rejected")

// ErrorKind classifies assistant API failures.
type ErrorKind string

const (
	KindRateLimit      ErrorKind = "rateLimit"
	KindNetwork        ErrorKind = "network"
	KindAuth           ErrorKind = "auth"
	KindInvalidRequest ErrorKind = "invalidRequest"
	KindUnknown        ErrorKind = "unknown"
)

// APIError is a classified assistant API failure.
type APIError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("assistant %s failed (%s, status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("assistant %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether backing off and trying again may succeed.
func (e *APIError) Retryable() bool {
	return e.Kind == KindRateLimit || e.Kind == KindNetwork
}

// SafeMessage is the user-facing description. It never includes handles,
// upstream messages or credentials.
func (e *APIError) SafeMessage() string {
	switch e.Kind {
	case KindRateLimit:
		return "the assistant service is rate limiting requests, try again shortly"
	case KindNetwork:
		return "the assistant service could not be reached"
	case KindAuth:
		return "the assistant service rejected our credentials"
	case KindInvalidRequest:
		return "the assistant service rejected the request"
	default:
		return "the assistant service failed unexpectedly"
	}
}

// KindForStatus maps an HTTP status code to an ErrorKind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusRequestTimeout || status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return KindNetwork
	case status >= 400 && status < 500:
		return KindInvalidRequest
	default:
		return KindUnknown
	}
}

// Classify wraps err as an *APIError. Errors that are already classified are
// returned unchanged; deadlines and transport failures become KindNetwork.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	kind := KindUnknown
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		kind = KindNetwork
	}
	return &APIError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of an *APIError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}
