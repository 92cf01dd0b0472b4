// Package providers contains the completion clients the engine plans
// and critiques with. Each provider adapts one vendor SDK to the
// engine.CompletionClient interface and classifies its failures so the
// retry loop can tell a rate limit from a bad API key.
package providers

import (
	"errors"
	"net/http"
	"strings"
)

// Reason categorizes why a provider request failed. The retry loop only
// repeats requests whose reason suggests the next attempt could succeed.
type Reason string

const (
	// ReasonRateLimit indicates throttling (HTTP 429).
	ReasonRateLimit Reason = "rate_limit"

	// ReasonTimeout indicates the request ran out of time.
	ReasonTimeout Reason = "timeout"

	// ReasonServerError indicates a vendor-side failure (HTTP 5xx).
	ReasonServerError Reason = "server_error"

	// ReasonAuth indicates a rejected credential (HTTP 401, 403).
	ReasonAuth Reason = "auth"

	// ReasonBilling indicates exhausted quota (HTTP 402).
	ReasonBilling Reason = "billing"

	// ReasonInvalidRequest indicates a malformed request (HTTP 400).
	ReasonInvalidRequest Reason = "invalid_request"

	// ReasonModelUnavailable indicates the requested model does not
	// exist or is not served (HTTP 404).
	ReasonModelUnavailable Reason = "model_unavailable"

	// ReasonUnknown is the unclassified default.
	ReasonUnknown Reason = "unknown"
)

// IsRetryable reports whether a failure with this reason is worth
// repeating. Credential, quota, and request-shape failures are not:
// they return the same answer every time.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// Error is the structured failure returned by a provider call. It
// keeps the vendor detail (status, code) alongside the classification
// so logs stay diagnosable after the SDK error is long gone.
type Error struct {
	Reason   Reason
	Provider string
	Model    string
	Status   int
	Code     string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	parts := []string{"[" + string(e.Reason) + "]", e.Provider}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// newError classifies cause from its message; WithStatus and WithCode
// refine the classification when the SDK exposes structured detail.
func newError(provider, model string, cause error) *Error {
	e := &Error{
		Reason:   ReasonUnknown,
		Provider: provider,
		Model:    model,
		Cause:    cause,
	}
	if cause != nil {
		e.Reason = Classify(cause)
	}
	return e
}

// WithStatus records the HTTP status and reclassifies from it. The
// status code is authoritative: it overrides the message heuristic.
func (e *Error) WithStatus(status int) *Error {
	if status == 0 {
		return e
	}
	e.Status = status
	e.Reason = classifyStatus(status)
	return e
}

// WithCode records the vendor error code and reclassifies when the
// code is recognized.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	if reason := classifyCode(code); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithMessage sets the human-readable detail.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// IsRetryable reports whether err is a provider failure worth
// repeating. Errors that are not provider errors classify by message.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason.IsRetryable()
	}
	return Classify(err).IsRetryable()
}

// Classify derives a reason from an error's message. It is the
// fallback for SDK errors that carry no structured status.
func Classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "context canceled"):
		return ReasonTimeout
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return ReasonRateLimit
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "permission"):
		return ReasonAuth
	case strings.Contains(msg, "billing"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "insufficient"):
		return ReasonBilling
	case strings.Contains(msg, "model not found"),
		strings.Contains(msg, "model_not_found"),
		strings.Contains(msg, "does not exist"):
		return ReasonModelUnavailable
	case strings.Contains(msg, "internal server"),
		strings.Contains(msg, "server error"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyStatus(status int) Reason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyCode(code string) Reason {
	switch code {
	case "rate_limit_error", "rate_limit_exceeded":
		return ReasonRateLimit
	case "authentication_error", "invalid_api_key", "permission_error":
		return ReasonAuth
	case "insufficient_quota", "billing_error":
		return ReasonBilling
	case "overloaded_error", "api_error":
		return ReasonServerError
	case "invalid_request_error":
		return ReasonInvalidRequest
	case "not_found_error", "model_not_found":
		return ReasonModelUnavailable
	case "timeout_error":
		return ReasonTimeout
	default:
		return ReasonUnknown
	}
}
