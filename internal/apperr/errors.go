package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorType int

const (
	ErrValidation ErrorType = iota
	ErrUnsupportedType
	ErrPayloadTooLarge
	ErrNotFound
	ErrAnalysis
	ErrTimeout
	ErrPersistence
	ErrCleanup
	ErrConfig
	ErrUnknown
)

// Error is the application error carried across package boundaries.
type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func New(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(errorType ErrorType, format string, args ...any) *Error {
	return New(errorType, fmt.Sprintf(format, args...))
}

func NewWithCause(errorType ErrorType, message string, cause error) *Error {
	e := New(errorType, message)
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Type.String(), e.Message)}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}
	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrValidation:
		return "Validation"
	case ErrUnsupportedType:
		return "UnsupportedType"
	case ErrPayloadTooLarge:
		return "PayloadTooLarge"
	case ErrNotFound:
		return "NotFound"
	case ErrAnalysis:
		return "Analysis"
	case ErrTimeout:
		return "Timeout"
	case ErrPersistence:
		return "Persistence"
	case ErrCleanup:
		return "Cleanup"
	case ErrConfig:
		return "Config"
	default:
		return "Unknown"
	}
}

// IsValidation reports whether err should be surfaced to a caller as a bad request.
func IsValidation(err error) bool {
	return IsErrorType(err, ErrValidation) ||
		IsErrorType(err, ErrUnsupportedType) ||
		IsErrorType(err, ErrPayloadTooLarge)
}

func IsErrorType(err error, errorType ErrorType) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// MessageOf returns the bare message of an *Error, or err.Error() otherwise.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func WrapError(err error, errorType ErrorType, message string) *Error {
	return NewWithCause(errorType, message, err)
}

// SafeExecute runs fn and converts a panic into an ErrUnknown error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = New(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
