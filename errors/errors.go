package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/roundup-invest/receipt-review/logger"
)

type ErrorType string

const (
	ValidationError        ErrorType = "VALIDATION_ERROR"
	NotFoundError          ErrorType = "NOT_FOUND"
	AuthError              ErrorType = "AUTHENTICATION_ERROR"
	TransportError         ErrorType = "TRANSPORT_ERROR"
	InvalidResponseError   ErrorType = "INVALID_RESPONSE"
	InvalidTransitionError ErrorType = "INVALID_STATE_TRANSITION"
	ServerError            ErrorType = "SERVER_ERROR"
	ConflictError          ErrorType = "CONFLICT"
	RateLimitError         ErrorType = "RATE_LIMIT_EXCEEDED"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Raw        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying error to errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	return e.Raw
}

// GetHTTPStatus returns the status recorded on the error, falling back to the
// default status of its type.
func (e *AppError) GetHTTPStatus() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return getHTTPStatus(e.Type)
}

// New creates a new AppError
func New(errType ErrorType, message string, detail string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     detail,
		HTTPStatus: getHTTPStatus(errType),
	}
}

// Wrap wraps a raw error with AppError context
func Wrap(err error, errType ErrorType, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     err.Error(),
		HTTPStatus: getHTTPStatus(errType),
		Raw:        err,
	}
}

// Helper functions for common errors
func NotFound(entity string, id interface{}) *AppError {
	return &AppError{
		Type:       NotFoundError,
		Message:    fmt.Sprintf("%s not found", entity),
		Detail:     fmt.Sprintf("ID: %v", id),
		HTTPStatus: http.StatusNotFound,
	}
}

func ValidationFailed(message string, details string) *AppError {
	return &AppError{
		Type:       ValidationError,
		Message:    message,
		Detail:     details,
		HTTPStatus: http.StatusBadRequest,
	}
}

func AuthenticationFailed(message string) *AppError {
	return &AppError{
		Type:       AuthError,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Transport reports a failed call to the receipt backend. status is the HTTP
// status returned by the backend, or 0 when no response was received.
func Transport(endpoint string, status int, err error) *AppError {
	detail := endpoint
	if status != 0 {
		detail = fmt.Sprintf("%s returned status %d", endpoint, status)
	}
	if err != nil {
		detail = fmt.Sprintf("%s: %v", detail, err)
	}
	// Log the backend detail but keep the message generic
	logger.GetLogger().Debugw("Backend call failed", "endpoint", endpoint, "status", status, "error", err)
	return &AppError{
		Type:       TransportError,
		Code:       fmt.Sprintf("%d", status),
		Message:    "Receipt service request failed",
		Detail:     detail,
		HTTPStatus: http.StatusBadGateway,
		Raw:        err,
	}
}

func InvalidResponse(endpoint string, detail string) *AppError {
	return &AppError{
		Type:       InvalidResponseError,
		Message:    "Unexpected response from receipt service",
		Detail:     fmt.Sprintf("%s: %s", endpoint, detail),
		HTTPStatus: http.StatusBadGateway,
	}
}

func InvalidTransition(current, action string) *AppError {
	return &AppError{
		Type:       InvalidTransitionError,
		Message:    "Invalid workflow transition",
		Detail:     fmt.Sprintf("Cannot %s while %s", action, current),
		HTTPStatus: http.StatusConflict,
	}
}

func InternalServerError(message string) *AppError {
	return &AppError{
		Type:       ServerError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

func NewConflictError(message string, detail string) *AppError {
	return &AppError{
		Type:       ConflictError,
		Message:    message,
		Detail:     detail,
		HTTPStatus: http.StatusConflict,
	}
}

// RateLimitExceeded reports a throttled request. retryAfter is in seconds.
func RateLimitExceeded(message string, retryAfter int) *AppError {
	return &AppError{
		Type:       RateLimitError,
		Message:    message,
		Detail:     fmt.Sprintf("retry after %d seconds", retryAfter),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

func Unauthorized(code, message string) error {
	return NewError(AuthError, code, message, http.StatusUnauthorized)
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

func getHTTPStatus(errType ErrorType) int {
	switch errType {
	case ValidationError:
		return http.StatusBadRequest
	case NotFoundError:
		return http.StatusNotFound
	case AuthError:
		return http.StatusUnauthorized
	case TransportError, InvalidResponseError:
		return http.StatusBadGateway
	case InvalidTransitionError, ConflictError:
		return http.StatusConflict
	case RateLimitError:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func NewError(errType ErrorType, code string, message string, status int) error {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		HTTPStatus: status,
	}
}
