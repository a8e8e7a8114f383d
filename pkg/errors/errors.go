// Package errors provides coded errors for starpack.
// Every error that aborts a run carries a code, optional key/value context
// and the stack at the point of creation.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Configuration errors (1xx). Raised before any file is opened.
	CodeInvalidBounds      Code = "E101"
	CodeInvalidNSide       Code = "E102"
	CodeMissingCatalog     Code = "E103"
	CodeInvalidCompression Code = "E104"
	CodeInvalidConfig      Code = "E105"
	CodeConfigFile         Code = "E106"

	// Catalog query errors (2xx)
	CodeCatalogOpen Code = "E201"
	CodeQueryFailed Code = "E202"
	CodeScanFailed  Code = "E203"

	// Container and storage errors (3xx)
	CodeContainerCreate Code = "E301"
	CodeWriteFailed     Code = "E302"
	CodeContainerClose  Code = "E303"
	CodeReadFailed      Code = "E304"
	CodeUploadFailed    Code = "E305"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"

	CodeUnknown Code = "E999"
)

// StarpackError is the base error type for all starpack errors.
type StarpackError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. Context keys are printed sorted.
func (e *StarpackError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *StarpackError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a StarpackError with the same code.
func (e *StarpackError) Is(target error) bool {
	if t, ok := target.(*StarpackError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *StarpackError) WithContext(key string, value interface{}) *StarpackError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new StarpackError.
func New(code Code, message string) *StarpackError {
	return &StarpackError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new StarpackError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *StarpackError {
	return &StarpackError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error. It returns nil when err is nil.
func Wrap(err error, code Code, message string) *StarpackError {
	if err == nil {
		return nil
	}

	return &StarpackError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *StarpackError {
	if err == nil {
		return nil
	}
	return &StarpackError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *StarpackError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// InvalidFlag reports a configuration value that cannot be used.
func InvalidFlag(name string, value interface{}, reason string) *StarpackError {
	return New(CodeInvalidConfig, reason).
		WithContext("flag", name).
		WithContext("value", value)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *StarpackError {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var spErr *StarpackError
	if errors.As(err, &spErr) {
		return spErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var spErr *StarpackError
	if errors.As(err, &spErr) {
		return spErr.Code
	}
	return CodeUnknown
}

// IsConfig reports whether err is a configuration error (E1xx).
func IsConfig(err error) bool {
	return strings.HasPrefix(string(GetCode(err)), "E1")
}

// ExitCode maps an error to a process exit status: 0 for nil, 2 for
// configuration errors, 130 for cancellation and 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case IsConfig(err):
		return 2
	case IsCode(err, CodeContextCanceled):
		return 130
	default:
		return 1
	}
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
