package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies provider call failures.
type ErrorCode string

const (
	CodeRateLimited ErrorCode = "rate_limited"
	CodeAuthExpired ErrorCode = "auth_expired"
	CodeNotFound    ErrorCode = "not_found"
	CodeTransient   ErrorCode = "transient_network"
	CodeUnknown     ErrorCode = "unknown"
)

// APIError is a classified failure from the provider API.
type APIError struct {
	Code    ErrorCode
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider %s (http %d): %s", e.Code, e.Status, e.Message)
}

// IsRateLimited reports whether err is a provider rate-limit rejection.
func IsRateLimited(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == CodeRateLimited
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == CodeNotFound
}

func classifyStatus(status int) ErrorCode {
	switch {
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeAuthExpired
	case status == http.StatusNotFound:
		return CodeNotFound
	case status >= 500:
		return CodeTransient
	default:
		return CodeUnknown
	}
}
