package fetch

import (
	"errors"
	"fmt"
)

// Common errors returned by fetchers.
var (
	// ErrNotFound is returned when the resource does not exist at the origin.
	ErrNotFound = errors.New("resource not found")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of fetch errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 404.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents bodies that are not valid JSON.
	ErrorClassDecode ErrorClass = "decode"
)

// FetchError represents a failed fetch with additional context.
type FetchError struct {
	Key        string
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s error (status %d): %s: %v",
			e.Key, e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s error (status %d): %s",
		e.Key, e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		// Client and decode errors repeat identically on retry.
		return false
	}
}

