package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Standard error types that can be used throughout the application
var (
	// Standard error sentinel values
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternalError      = errors.New("internal error")
	ErrNotImplemented     = errors.New("not implemented")
	ErrTimeout            = errors.New("operation timed out")
	ErrUnavailable        = errors.New("service unavailable")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrAborted            = errors.New("operation aborted")
	ErrCanceled           = errors.New("operation canceled")

	// Pipeline error sentinel values
	ErrCallNotFound        = errors.New("call not found")
	ErrCallAlreadyExists   = errors.New("call already exists")
	ErrVersionMismatch     = errors.New("version mismatch")
	ErrStaleTransition     = errors.New("stale transition")
	ErrTerminalState       = errors.New("call is in a terminal state")
	ErrIllegalTransition   = errors.New("illegal status transition")
	ErrStoreUnavailable    = errors.New("call record store unavailable")
	ErrQueueUnavailable    = errors.New("task queue unavailable")
	ErrLeaseExpired        = errors.New("message lease expired")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrAnalysisFailed      = errors.New("analysis failed")
	ErrEmbeddingFailed     = errors.New("embedding failed")
)

// Error represents a structured error with call-site capture and context fields
type Error struct {
	// original is the underlying error
	original error

	// message is the error message
	message string

	// fields contains contextual information
	fields map[string]interface{}

	// stackPC is the program counter for the error's creation
	stackPC uintptr

	// file and line record where the error was created
	file string
	line int

	// Code is an optional error code for categorization
	Code string

	// transience marks whether the error should be retried
	transience Transience
}

// Transience classifies an error for the stage retry protocol.
type Transience int

const (
	// TransienceUnknown means the error carries no retry hint; callers fall
	// back to sentinel matching.
	TransienceUnknown Transience = iota

	// TransienceTransient marks failures worth retrying within the attempt
	// budget (timeouts, throttling, connection resets).
	TransienceTransient

	// TransiencePermanent marks failures that retrying cannot fix (bad
	// input, authentication, unsupported media).
	TransiencePermanent
)

// New creates a new structured error with the given message
func New(message string, fields ...map[string]interface{}) *Error {
	pc, file, line, _ := runtime.Caller(1)

	var fieldMap map[string]interface{}
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	} else {
		fieldMap = make(map[string]interface{})
	}

	return &Error{
		original: errors.New(message),
		message:  message,
		fields:   fieldMap,
		stackPC:  pc,
		file:     file,
		line:     line,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}

	pc, file, line, _ := runtime.Caller(1)

	var fieldMap map[string]interface{}
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	} else {
		fieldMap = make(map[string]interface{})
	}

	return &Error{
		original:   err,
		message:    message,
		fields:     fieldMap,
		stackPC:    pc,
		file:       file,
		line:       line,
		transience: transienceOf(err),
	}
}

// Transient creates a structured error marked as retryable.
func Transient(message string, fields ...map[string]interface{}) *Error {
	e := New(message, fields...)
	e.transience = TransienceTransient
	return e
}

// Permanent creates a structured error marked as not retryable.
func Permanent(message string, fields ...map[string]interface{}) *Error {
	e := New(message, fields...)
	e.transience = TransiencePermanent
	return e
}

// WrapTransient wraps an error and marks the result retryable.
func WrapTransient(err error, message string, fields ...map[string]interface{}) *Error {
	e := Wrap(err, message, fields...)
	if e != nil {
		e.transience = TransienceTransient
	}
	return e
}

// WrapPermanent wraps an error and marks the result not retryable.
func WrapPermanent(err error, message string, fields ...map[string]interface{}) *Error {
	e := Wrap(err, message, fields...)
	if e != nil {
		e.transience = TransiencePermanent
	}
	return e
}

// WithField adds a single field to the error context
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}
	if e.fields == nil {
		e.fields = make(map[string]interface{})
	}
	e.fields[key] = value
	return e
}

// WithFields adds multiple fields to the error context
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	if e == nil {
		return nil
	}
	if e.fields == nil {
		e.fields = make(map[string]interface{})
	}
	for k, v := range fields {
		e.fields[k] = v
	}
	return e
}

// WithCode attaches an error code for categorization
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}
	e.Code = code
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.original != nil && e.message != e.original.Error() {
		return fmt.Sprintf("%s: %s", e.message, e.original.Error())
	}
	return e.message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Location returns the file and line where the error was created
func (e *Error) Location() string {
	if e == nil {
		return ""
	}
	if e.file == "" {
		return "unknown"
	}
	parts := strings.Split(e.file, "/")
	short := e.file
	if len(parts) > 2 {
		short = strings.Join(parts[len(parts)-2:], "/")
	}
	return fmt.Sprintf("%s:%d", short, e.line)
}

// GetFields returns the contextual fields attached to the error
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// GetCode returns the error code
func (e *Error) GetCode() string {
	if e == nil {
		return ""
	}
	return e.Code
}

// Is reports whether the error matches the target, following the wrap chain
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if e.original != nil && errors.Is(e.original, target) {
		return true
	}
	return e.message == target.Error()
}

// IsTransient reports whether the error should be retried within the stage
// attempt budget. Context deadline expiry counts as transient: the attempt
// simply took too long and the broker will redeliver.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *Error
	if errors.As(err, &se) {
		switch se.transience {
		case TransienceTransient:
			return true
		case TransiencePermanent:
			return false
		}
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrQueueUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether retrying the error is pointless.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var se *Error
	if errors.As(err, &se) && se.transience == TransiencePermanent {
		return true
	}
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrFailedPrecondition)
}

// IsStale reports whether the error signals a duplicate or out-of-order
// delivery. Stale errors are swallowed: the work already happened.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleTransition) || errors.Is(err, ErrVersionMismatch)
}

// IsNotFound reports whether the error signals a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCallNotFound)
}

// IsStoreUnavailable reports whether the record store could not be reached.
// Workers must not acknowledge the in-flight message in this case.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// transienceOf inherits the transience of a wrapped structured error so a
// Wrap chain keeps the classification of its root cause.
func transienceOf(err error) Transience {
	var se *Error
	if errors.As(err, &se) {
		return se.transience
	}
	return TransienceUnknown
}

// NewCallNotFound creates an error for a missing call record
func NewCallNotFound(callID string, fields ...map[string]interface{}) *Error {
	err := Wrap(ErrCallNotFound, fmt.Sprintf("call %s not found", callID), fields...)
	err.WithField("call_id", callID)
	err.Code = "CALL_NOT_FOUND"
	return err
}

// NewStaleTransition creates an error for a CAS precondition failure
func NewStaleTransition(callID, expected, actual string, fields ...map[string]interface{}) *Error {
	err := Wrap(ErrStaleTransition,
		fmt.Sprintf("call %s is %s, expected %s", callID, actual, expected), fields...)
	err.WithFields(map[string]interface{}{
		"call_id":         callID,
		"expected_status": expected,
		"actual_status":   actual,
	})
	err.Code = "STALE_TRANSITION"
	return err
}

// NewStoreUnavailable creates an error for a record store that could not be
// reached. The driver error lands in the fields so callers can log it
// without matching on it.
func NewStoreUnavailable(cause error, message string, fields ...map[string]interface{}) *Error {
	err := Wrap(ErrStoreUnavailable, message, fields...)
	if cause != nil {
		err.WithField("cause", cause.Error())
	}
	err.Code = "STORE_UNAVAILABLE"
	err.transience = TransienceTransient
	return err
}

// NewQueueUnavailable creates an error for a task queue that could not be
// reached.
func NewQueueUnavailable(cause error, message string, fields ...map[string]interface{}) *Error {
	err := Wrap(ErrQueueUnavailable, message, fields...)
	if cause != nil {
		err.WithField("cause", cause.Error())
	}
	err.Code = "QUEUE_UNAVAILABLE"
	err.transience = TransienceTransient
	return err
}

// NewInvalidInput creates an invalid input error
func NewInvalidInput(message string, fields ...map[string]interface{}) *Error {
	err := Wrap(ErrInvalidInput, message, fields...)
	err.Code = "INVALID_INPUT"
	err.transience = TransiencePermanent
	return err
}

// NewInternalError creates an internal error
func NewInternalError(message string, fields ...map[string]interface{}) *Error {
	err := Wrap(ErrInternalError, message, fields...)
	err.Code = "INTERNAL_ERROR"
	return err
}

// IsErrorType checks if an error matches a specific sentinel
func IsErrorType(err, target error) bool {
	return errors.Is(err, target)
}

// GetErrorCode extracts the error code from a structured error
func GetErrorCode(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.GetCode()
	}
	return ""
}

// GetErrorFields extracts the context fields from a structured error
func GetErrorFields(err error) map[string]interface{} {
	var se *Error
	if errors.As(err, &se) {
		return se.GetFields()
	}
	return nil
}

// GetErrorLocation extracts the creation site from a structured error
func GetErrorLocation(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Location()
	}
	return ""
}
