// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoAvailableModel is returned by selection when no registered model is
// both active and healthy.
var ErrNoAvailableModel = errors.New("no available model")

// Common provider error codes.
const (
	ErrCodeRateLimit      = "rate_limit"
	ErrCodeAuth           = "authentication_error"
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeModelNotFound  = "model_not_found"
	ErrCodeContextLength  = "context_length_exceeded"
	ErrCodeServerError    = "server_error"
	ErrCodeTimeout        = "timeout"
	ErrCodeUnavailable    = "unavailable"
)

// ProviderError represents a transport-level failure raised by a provider
// adapter. It is the error type fallback chaining reacts to.
type ProviderError struct {
	// Provider is the adapter family that produced the error.
	Provider ProviderKind `json:"provider"`

	// ModelID is the model the failed call targeted.
	ModelID string `json:"model_id,omitempty"`

	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// StatusCode is the upstream HTTP status, when applicable.
	StatusCode int `json:"status_code,omitempty"`

	// Retryable indicates the same call may succeed if repeated.
	Retryable bool `json:"retryable"`

	// Cause is the underlying error, if any.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a ProviderError with Retryable derived from the
// error code.
func NewProviderError(provider ProviderKind, modelID, code, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		ModelID:   modelID,
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
	}
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}

// CapabilityError is returned when a request asks a model for something it
// does not support, such as streaming from a non-streaming model.
type CapabilityError struct {
	ModelID    string `json:"model_id"`
	Capability string `json:"capability"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("model %s does not support %s: %s", e.ModelID, e.Capability, e.Message)
	}
	return fmt.Sprintf("model %s does not support %s", e.ModelID, e.Capability)
}

// FallbackError aggregates the failures of a fully exhausted fallback
// chain. Last preserves the final attempt's error for unwrapping.
type FallbackError struct {
	// Attempted lists the model ids tried, in order.
	Attempted []string `json:"attempted"`

	// Last is the error from the final attempt.
	Last error `json:"-"`
}

// Error implements the error interface.
func (e *FallbackError) Error() string {
	return fmt.Sprintf("all models failed (attempted: %s): %v",
		strings.Join(e.Attempted, ", "), e.Last)
}

// Unwrap returns the final attempt's error.
func (e *FallbackError) Unwrap() error {
	return e.Last
}

// PricingError is returned when cost computation encounters a pricing
// policy kind it does not recognize.
type PricingError struct {
	Kind PricingKind
}

// Error implements the error interface.
func (e *PricingError) Error() string {
	return fmt.Sprintf("unknown pricing policy kind %q", e.Kind)
}

// RegistryError represents a registry-level failure such as a duplicate
// model id or an unknown model reference.
type RegistryError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Registry error codes.
const (
	ErrCodeDuplicateModel    = "duplicate_model"
	ErrCodeUnknownModel      = "unknown_model"
	ErrCodeAdapterFailure    = "adapter_failure"
	ErrCodeAlreadyRegistered = "already_registered"
)

// Error implements the error interface.
func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry error (%s): %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *RegistryError) Unwrap() error {
	return e.Cause
}
