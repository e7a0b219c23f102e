// Package errors defines the unified error types for generation operations.
// All provider-specific failures are mapped onto these types so the
// orchestrator can decide whether another provider deserves a try.
package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// ProviderError represents a standardized error reported by a generation
// provider. Retryable mirrors the HTTP semantics the adapter mapped it from;
// the final transient/fatal decision is made by Classify.
type ProviderError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
		e.Type, e.Message, e.Provider, e.Model, e.StatusCode)
}

// Common error types as constants for consistency.
const (
	TypeAuthentication     = "authentication_error"
	TypeRateLimit          = "rate_limit_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeNotFound           = "not_found_error"
	TypeTimeout            = "timeout_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeInternalError      = "internal_error"
	TypeContentPolicy      = "content_policy_violation"
)

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(provider, model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
		Type:       TypeAuthentication,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(provider, model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(provider, model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// NewContentPolicyError creates a content policy rejection (400).
func NewContentPolicyError(provider, model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeContentPolicy,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// NewTimeoutError creates a timeout error (408).
func NewTimeoutError(provider, model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusRequestTimeout,
		Message:    message,
		Type:       TypeTimeout,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(provider, model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeServiceUnavailable,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewInternalError creates an internal server error (500). Upstream 5xx is
// worth trying elsewhere, so it is retryable.
func NewInternalError(provider, model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternalError,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// UnavailableError signals that a provider cannot be instantiated, almost
// always because its credential is absent. It is raised before any network
// activity so a dead provider only burns a fallback slot, not a timeout.
type UnavailableError struct {
	Provider string
	Reason   string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %s", e.Provider, e.Reason)
}

// BudgetError is the budget governor's veto. The request never reached the
// network layer.
type BudgetError struct {
	Window       string
	SpentUSD     float64
	CeilingUSD   float64
	EstimatedUSD float64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("cost limit: %s ceiling $%.4f would be exceeded (spent $%.4f, estimated $%.4f)",
		e.Window, e.CeilingUSD, e.SpentUSD, e.EstimatedUSD)
}

// UnknownTaskError signals a task type missing from the routing table. This
// is a configuration bug, never retried.
type UnknownTaskError struct {
	Task string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task type %q", e.Task)
}

// MalformedResponseError signals that a provider answered a structured
// generation with output that is not valid JSON. Treated as fatal: the same
// malformed-prone prompt would likely fail on every vendor, and retrying it
// burns budget on a content bug, not an infrastructure one.
type MalformedResponseError struct {
	Provider string
	Model    string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// AttemptFailure pairs a tried provider with the reason it failed.
type AttemptFailure struct {
	Provider string
	Reason   string
}

// AllFailedError aggregates every candidate's failure after the fallback
// chain is exhausted, in the order the candidates were tried.
type AllFailedError struct {
	Task     string
	Failures []AttemptFailure
}

func (e *AllFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all %d providers failed for task %q: ", len(e.Failures), e.Task)
	for i, f := range e.Failures {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %s", f.Provider, f.Reason)
	}
	return b.String()
}

// Providers returns the provider names in the order they were tried.
func (e *AllFailedError) Providers() []string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Provider)
	}
	return names
}
