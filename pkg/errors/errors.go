// Package errors provides structured error handling for lasprep.
//
// Errors carry a type used to decide how a failure propagates: per-file
// types are isolated into run reports, while path and configuration types
// abort a run before any work is dispatched. Every error captures the call
// stack at creation so failures can be logged with a full trace.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeInvalidMode represents an unsupported column-selection mode
	ErrorTypeInvalidMode ErrorType = "invalid_mode"
	// ErrorTypeFileProcessing represents a load, reconcile or write failure for one file
	ErrorTypeFileProcessing ErrorType = "file_processing"
	// ErrorTypePathNotFound represents a missing top-level input path
	ErrorTypePathNotFound ErrorType = "path_not_found"
	// ErrorTypeUnsupportedColumn represents a value the destination schema cannot hold
	ErrorTypeUnsupportedColumn ErrorType = "unsupported_column_type"
	// ErrorTypeExternalTool represents a subprocess that failed to launch or exited non-zero
	ErrorTypeExternalTool ErrorType = "external_tool"
	// ErrorTypeEmptyRecordSet represents a file left with no valid rows after cleaning
	ErrorTypeEmptyRecordSet ErrorType = "empty_record_set"
	// ErrorTypeCapability represents a feature that is not available
	ErrorTypeCapability ErrorType = "capability"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeFormat represents malformed point-cloud data
	ErrorTypeFormat ErrorType = "format"
	// ErrorTypeFile represents file operation errors
	ErrorTypeFile ErrorType = "file"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// StackTrace formats the captured stack one frame per line, innermost first.
func (e *Error) StackTrace() string {
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
	}
	return b.String()
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType checks if the error or any error it wraps is of the given type
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// TypeOf returns the type of the outermost structured error, or ErrorTypeInternal
// for plain errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// RootType returns the type of the innermost structured error in the chain,
// or ErrorTypeInternal when there is none.
func RootType(err error) ErrorType {
	root := ErrorTypeInternal
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			break
		}
		root = e.Type
		err = e.Cause
	}
	return root
}

// StackOf returns the formatted stack of the first structured error in the
// chain. Plain errors get the caller's stack instead.
func StackOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.StackTrace()
	}
	return (&Error{Stack: captureStack(2)}).StackTrace()
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
