// Package errors defines the coded error taxonomy shared by the ingestion,
// routing and job layers.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Standard error codes for the application.
const (
	CodeUnknown          = "UNKNOWN"
	CodeValidation       = "VALIDATION"
	CodeUpstreamAI       = "UPSTREAM_AI"
	CodeDelivery         = "DELIVERY"
	CodeStorage          = "STORAGE"
	CodeInsufficientData = "INSUFFICIENT_DATA"
	CodeConfig           = "CONFIG"
)

// ErrInsufficientData is returned when a window holds too few messages to
// summarize. It is a business short-circuit, not a fault.
var ErrInsufficientData = &Error{code: CodeInsufficientData, message: "not enough messages to summarize"}

// ApplicationError is the interface that all our custom errors implement.
type ApplicationError interface {
	error
	Code() string
	Unwrap() error
}

// Error represents a coded application error.
type Error struct {
	code    string
	message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches any *Error carrying the same code, so errors.Is(err,
// ErrInsufficientData) holds for wrapped copies too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.err == nil && t.code == e.code && t.message == e.message
}

func newError(code, message string, cause error) error {
	return &Error{code: code, message: message, err: cause}
}

// NewValidationError reports a malformed inbound event or request.
func NewValidationError(message string, cause error) error {
	return newError(CodeValidation, message, cause)
}

// NewUpstreamAIError reports a generation, transcription or embedding failure.
func NewUpstreamAIError(message string, cause error) error {
	return newError(CodeUpstreamAI, message, cause)
}

// NewDeliveryError reports a messaging gateway send failure.
func NewDeliveryError(message string, cause error) error {
	return newError(CodeDelivery, message, cause)
}

// NewStorageError reports a relational store or cache failure.
func NewStorageError(message string, cause error) error {
	return newError(CodeStorage, message, cause)
}

func NewConfigError(message string, cause error) error {
	return newError(CodeConfig, message, cause)
}

// Code returns the code of the first ApplicationError in err's chain,
// or CodeUnknown if it doesn't have one.
func Code(err error) string {
	var appErr ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}

	return CodeUnknown
}

// IsRetryable reports whether err is worth retrying: upstream AI, delivery
// and storage failures, plus deadline expiries.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch Code(err) {
	case CodeUpstreamAI, CodeDelivery, CodeStorage:
		return true
	default:
		return false
	}
}

// IsValidation reports whether err carries CodeValidation.
func IsValidation(err error) bool {
	return Code(err) == CodeValidation
}
