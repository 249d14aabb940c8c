package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	// 400 errors
	ErrInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// 401, 403 errors
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"

	// 404 errors
	ErrNotFound ErrorCode = "NOT_FOUND"

	// 409 errors
	ErrConflict ErrorCode = "CONFLICT"

	// 502 errors, provider answered with something we could not classify
	ErrProvider ErrorCode = "ERROR"

	// 500 errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Details:    make(map[string]interface{}),
	}
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(key string, value interface{}) *AppError {
	e.Details[key] = value
	return e
}

// Common error constructors
func InvalidArgument(message string) *AppError {
	return NewAppError(ErrInvalidArgument, message, http.StatusBadRequest)
}

func Unauthorized(message string) *AppError {
	return NewAppError(ErrUnauthorized, message, http.StatusUnauthorized)
}

func Forbidden(message string) *AppError {
	return NewAppError(ErrForbidden, message, http.StatusForbidden)
}

func NewNotFoundError(message string) *AppError {
	return NewAppError(ErrNotFound, message, http.StatusNotFound)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrConflict, message, http.StatusConflict)
}

func ProviderError(message string) *AppError {
	return NewAppError(ErrProvider, message, http.StatusBadGateway)
}

func InternalError(message string) *AppError {
	return NewAppError(ErrInternal, message, http.StatusInternalServerError)
}

// CodeOf returns the code of the first AppError in err's chain, or "" when
// there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// PollingRequiredError signals that an external operation is still running
// and the current job execution must be retried after Wait.
type PollingRequiredError struct {
	Message string
	Wait    time.Duration
}

func (e *PollingRequiredError) Error() string {
	return "polling required: " + e.Message
}

// PollingRequired creates a polling signal
func PollingRequired(format string, args ...interface{}) *PollingRequiredError {
	return &PollingRequiredError{Message: fmt.Sprintf(format, args...)}
}

// IsPollingRequired reports whether err is (or wraps) a polling signal.
func IsPollingRequired(err error) bool {
	var target *PollingRequiredError
	return stderrors.As(err, &target)
}

// DiscardError marks a failure of the transport to the external system.
// Jobs failing with it are dropped without retry.
type DiscardError struct {
	Err error
}

func (e *DiscardError) Error() string {
	return "unrecoverable transport failure: " + e.Err.Error()
}

func (e *DiscardError) Unwrap() error {
	return e.Err
}

// Discard wraps err as a DiscardError. A nil err stays nil.
func Discard(err error) error {
	if err == nil {
		return nil
	}
	return &DiscardError{Err: err}
}

// Transport classifies a failed request made under ctx. A request that
// failed because ctx itself was cancelled or timed out keeps ctx's error
// so the caller can retry it later; any other failure is a Discard.
func Transport(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return Discard(err)
}

// IsDiscard reports whether err is (or wraps) a DiscardError.
func IsDiscard(err error) bool {
	var target *DiscardError
	return stderrors.As(err, &target)
}

// WriteError writes err as a JSON error response
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		appErr = InternalError(err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": appErr,
	})
}
