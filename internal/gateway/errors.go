package gateway

import (
	"errors"
	"fmt"
)

// ErrInsufficientCredits is returned when the atomic debit finds a balance
// below the cost of one analysis. Nothing is persisted in that case.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrMissingImage is returned when a request carries no image payload.
var ErrMissingImage = errors.New("image data is required")

// ErrImageTooLarge is returned when the payload exceeds the configured ceiling.
var ErrImageTooLarge = errors.New("image exceeds maximum allowed size")

// ConfigurationError signals missing or invalid provider credentials. Never
// retried and never consumes credits.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// NotChartError means the provider decided the input image is not a trading
// chart. Caller-correctable, never retried, never consumes credits.
type NotChartError struct {
	Reason string
}

func (e *NotChartError) Error() string {
	return "not a chart: " + e.Reason
}

// MalformedResponseError means the provider output could not be repaired and
// parsed into the expected schema.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed provider response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// ProviderError wraps a failure of the external inference call. StatusCode is
// the HTTP-equivalent code when known, zero otherwise.
type ProviderError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
	}
	return "provider error: " + e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
