package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Common errors returned by the fetch package.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents DNS, connection, and transport errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents a fetch that did not complete in time.
	ErrorClassTimeout ErrorClass = "timeout"
)

// FetchError is a failed network fetch with its classification.
type FetchError struct {
	URL        string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s error (status %d) for %s: %s: %v",
			e.Class, e.StatusCode, e.URL, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch %s error (status %d) for %s: %s",
		e.Class, e.StatusCode, e.URL, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// ClassifyError categorizes a fetch outcome. Returns "" for non-error responses.
func ClassifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrorClassTimeout
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrorClassTimeout
		}
		return ErrorClassNetwork
	}

	switch {
	case resp == nil:
		return ErrorClassNetwork
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// ClassOf returns the class of a fetch error, or "" if err is not a FetchError.
func ClassOf(err error) ErrorClass {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Class
	}
	return ""
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx will not change on retry
		return false
	case ErrorClassServer, ErrorClassNetwork, ErrorClassTimeout:
		return true
	default:
		return false
	}
}
