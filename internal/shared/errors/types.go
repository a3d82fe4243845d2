package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError represents an error that can be retried.
type TransientError struct {
	Err        error
	StatusCode int // HTTP status code if applicable
	RetryAfter int // seconds, from the Retry-After header
	Message    string
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError represents an error that should not be retried.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewTransientError creates a new transient error with a readable message.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanentError creates a new permanent error with a readable message.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// FromHTTPStatus classifies a non-2xx provider response.
func FromHTTPStatus(status int, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	base := fmt.Errorf("status %d: %s", status, body)
	if isTransientHTTPStatus(status) {
		return &TransientError{Err: base, StatusCode: status}
	}
	return &PermanentError{Err: base, StatusCode: status}
}

// IsTransient checks if an error is retry-able.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	return isNetworkError(err) || isSyscallError(err)
}

// IsPermanent checks if an error is explicitly non-retry-able.
func IsPermanent(err error) bool {
	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}

// StatusCode extracts the HTTP status carried by a classified error, or 0.
func StatusCode(err error) int {
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return transientErr.StatusCode
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return permanentErr.StatusCode
	}
	return 0
}

// FormatForLLM converts technical errors to short actionable messages.
func FormatForLLM(err error) string {
	if err == nil {
		return ""
	}
	switch StatusCode(err) {
	case http.StatusUnauthorized:
		return "Authentication failed. Please check your API key configuration."
	case http.StatusForbidden:
		return "Permission denied. You don't have access to this resource."
	case http.StatusTooManyRequests:
		return "API rate limit reached."
	case http.StatusNotFound:
		return "Resource not found. Please verify the model or endpoint."
	}

	lowerErr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErr, "connection refused"):
		return "Service is not running. Please check if the required service is started."
	case strings.Contains(lowerErr, "timeout") || strings.Contains(lowerErr, "deadline exceeded"):
		return "Request timed out."
	}
	return err.Error()
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "broken pipe", "unexpected eof"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
