package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/glidepush/glidepush/pkg/platform"
)

// ErrorClass represents the classification of a deployment error. The class
// decides how the orchestrator reacts: authentication aborts the whole
// chain, every other class fails only the current strategy.
type ErrorClass string

const (
	// ErrorClassAuthentication indicates rejected credentials (401).
	// Fatal for the whole orchestration; no further strategies run.
	ErrorClassAuthentication ErrorClass = "authentication"

	// ErrorClassForbidden indicates an ACL denied the operation (403).
	// Table ACLs differ per strategy, so the chain proceeds.
	ErrorClassForbidden ErrorClass = "forbidden"

	// ErrorClassValidation indicates the platform rejected the payload
	// (other 4xx) or the request was malformed before any remote call.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassThrottled indicates rate limiting (429).
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassServer indicates a platform-side failure (5xx).
	ErrorClassServer ErrorClass = "server"

	// ErrorClassTransient indicates a transport failure: timeouts,
	// connection resets, DNS errors.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassVerification indicates the artifact could not be proven to
	// exist after a strategy claimed success.
	ErrorClassVerification ErrorClass = "verification"
)

// DeployError represents a classified deployment error with context.
type DeployError struct {
	// Class is the error classification for chain control flow.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Artifact is the artifact name the error relates to, if applicable.
	Artifact string `json:"artifact,omitempty"`

	// Strategy is the strategy in flight when the error occurred.
	Strategy string `json:"strategy,omitempty"`

	// StatusCode is the HTTP status code, when the error came from the
	// platform.
	StatusCode int `json:"status_code,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *DeployError) Error() string {
	if e.Artifact != "" && e.Strategy != "" {
		return fmt.Sprintf("[%s] %s (artifact=%s, strategy=%s): %s",
			e.Class, e.Message, e.Artifact, e.Strategy, e.unwrapMessage())
	}
	if e.Artifact != "" {
		return fmt.Sprintf("[%s] %s (artifact=%s): %s",
			e.Class, e.Message, e.Artifact, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *DeployError) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *DeployError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *DeployError) Is(target error) bool {
	t, ok := target.(*DeployError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewAuthenticationError creates a new authentication error.
func NewAuthenticationError(message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassAuthentication,
		Message: message,
		Code:    ErrCodeAuthFailed,
		Err:     err,
	}
}

// NewForbiddenError creates a new forbidden error.
func NewForbiddenError(message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassForbidden,
		Message: message,
		Code:    ErrCodePermissionDenied,
		Err:     err,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassValidation,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassThrottled,
		Message: message,
		Code:    ErrCodeRateLimited,
		Err:     err,
	}
}

// NewServerError creates a new server error.
func NewServerError(message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassServer,
		Message: message,
		Code:    ErrCodeServerError,
		Err:     err,
	}
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassTransient,
		Message: message,
		Code:    ErrCodeTimeout,
		Err:     err,
	}
}

// NewVerificationError creates a new verification error.
func NewVerificationError(message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassVerification,
		Message: message,
		Code:    ErrCodeVerifyFailed,
		Err:     err,
	}
}

// WithArtifact adds artifact context to an error.
func (e *DeployError) WithArtifact(name string) *DeployError {
	e.Artifact = name
	return e
}

// WithStrategy adds strategy context to an error.
func (e *DeployError) WithStrategy(name string) *DeployError {
	e.Strategy = name
	return e
}

// WithCode sets the error code.
func (e *DeployError) WithCode(code string) *DeployError {
	e.Code = code
	return e
}

// WithStatusCode sets the HTTP status code.
func (e *DeployError) WithStatusCode(code int) *DeployError {
	e.StatusCode = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *DeployError) WithDetail(key string, value interface{}) *DeployError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsAuthentication returns true if the error is classified as an
// authentication failure.
func IsAuthentication(err error) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class == ErrorClassAuthentication
	}
	return false
}

// IsForbidden returns true if the error is classified as forbidden.
func IsForbidden(err error) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class == ErrorClassForbidden
	}
	return false
}

// IsValidation returns true if the error is classified as a validation
// failure.
func IsValidation(err error) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class == ErrorClassValidation
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsVerification returns true if the error is classified as a verification
// failure.
func IsVerification(err error) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class == ErrorClassVerification
	}
	return false
}

// IsChainFatal returns true if the error must abort the whole strategy
// chain. Only authentication failures qualify: every other class can
// legitimately succeed under a different delivery mechanism.
func IsChainFatal(err error) bool {
	return IsAuthentication(err)
}

// ClassifyRemoteError converts an error from the platform client into a
// classified DeployError. Platform API errors map by status code; context
// and transport failures are transient.
func ClassifyRemoteError(err error, operation string) *DeployError {
	if err == nil {
		return nil
	}

	var derr *DeployError
	if errors.As(err, &derr) {
		return derr
	}

	var apiErr *platform.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized:
			return NewAuthenticationError("platform rejected credentials during "+operation, err).
				WithStatusCode(apiErr.StatusCode)
		case apiErr.StatusCode == http.StatusForbidden:
			return NewForbiddenError("platform denied "+operation, err).
				WithStatusCode(apiErr.StatusCode)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return NewThrottledError("platform throttled "+operation, err).
				WithStatusCode(apiErr.StatusCode)
		case apiErr.StatusCode >= 500:
			return NewServerError("platform error during "+operation, err).
				WithStatusCode(apiErr.StatusCode)
		default:
			return NewValidationError("platform rejected "+operation, err).
				WithStatusCode(apiErr.StatusCode)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewTransientError(operation+" cancelled or timed out", err)
	}

	return NewTransientError(operation+" failed", err)
}

// Common error codes.
const (
	ErrCodeAuthFailed       = "AUTH_FAILED"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeServerError      = "SERVER_ERROR"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeVerifyFailed     = "VERIFY_FAILED"
	ErrCodeResolveFailed    = "RESOLVE_FAILED"
	ErrCodePolicyDenied     = "POLICY_DENIED"
	ErrCodeDependencyFailed = "DEPENDENCY_FAILED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
