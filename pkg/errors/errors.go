// Package errors provides a structured error system for PageTrace with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for PageTrace operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Recording errors
	ErrCodeOutOfMemory       ErrorCode = "OUT_OF_MEMORY"
	ErrCodeContractViolation ErrorCode = "CONTRACT_VIOLATION"
	ErrCodeResolutionFailed  ErrorCode = "RESOLUTION_FAILED"
	ErrCodePathTooLong       ErrorCode = "PATH_TOO_LONG"
	ErrCodeFileNotFound      ErrorCode = "FILE_NOT_FOUND"

	// State management errors
	ErrCodeAlreadyStarted  ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized  ErrorCode = "NOT_INITIALIZED"
	ErrCodeInvalidState    ErrorCode = "INVALID_STATE"
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// Hook errors
	ErrCodeMountFailed   ErrorCode = "MOUNT_FAILED"
	ErrCodeUnmountFailed ErrorCode = "UNMOUNT_FAILED"

	// Export errors
	ErrCodeUploadFailed     ErrorCode = "UPLOAD_FAILED"
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrCodeOperationTimeout ErrorCode = "OPERATION_TIMEOUT"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryRecording     ErrorCategory = "recording"
	CategoryState         ErrorCategory = "state"
	CategoryHook          ErrorCategory = "hook"
	CategoryExport        ErrorCategory = "export"
	CategoryInternal      ErrorCategory = "internal"
)

// TraceError represents a structured error with context and metadata.
type TraceError struct {
	// Core error information
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	Retryable  bool `json:"retryable"`
	Fatal      bool `json:"fatal"`
	HTTPStatus int  `json:"http_status,omitempty"`

	// Debug information
	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *TraceError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *TraceError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *TraceError) Is(target error) bool {
	if traceErr, ok := target.(*TraceError); ok {
		return e.Code == traceErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *TraceError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}

	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}

	if e.Fatal {
		parts = append(parts, "Fatal=true")
	}

	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("TraceError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *TraceError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new PageTrace error with default values.
func NewError(code ErrorCode, message string) *TraceError {
	return &TraceError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		Fatal:      IsFatalByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeMissingConfig, ErrCodeConfigValidation, ErrCodeConfigLoad:
		return CategoryConfiguration
	case ErrCodeOutOfMemory, ErrCodeContractViolation, ErrCodeResolutionFailed,
		ErrCodePathTooLong, ErrCodeFileNotFound:
		return CategoryRecording
	case ErrCodeAlreadyStarted, ErrCodeNotInitialized, ErrCodeInvalidState, ErrCodeInvalidArgument:
		return CategoryState
	case ErrCodeMountFailed, ErrCodeUnmountFailed:
		return CategoryHook
	case ErrCodeUploadFailed, ErrCodeConnectionFailed, ErrCodeOperationTimeout:
		return CategoryExport
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
//
// Recording errors are deliberately absent: OUT_OF_MEMORY rolls back the
// whole setup, RESOLUTION_FAILED rolls back the whole collect, and
// CONTRACT_VIOLATION is a programming error. Retrying any of them without
// operator intervention repeats the same outcome.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeConnectionFailed: true,
		ErrCodeOperationTimeout: true,
		ErrCodeUploadFailed:     true,
		ErrCodeInternalError:    true,
	}
	return retryableCodes[code]
}

// IsFatalByDefault determines if an error marks a programming-contract
// violation rather than a recoverable runtime condition.
func IsFatalByDefault(code ErrorCode) bool {
	return code == ErrCodeContractViolation
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidConfig:    400, // Bad Request
		ErrCodeMissingConfig:    400,
		ErrCodeConfigValidation: 400,
		ErrCodeConfigLoad:       400,
		ErrCodeInvalidArgument:  400,
		ErrCodeFileNotFound:     404, // Not Found
		ErrCodeAlreadyStarted:   409, // Conflict
		ErrCodeInvalidState:     409,
		ErrCodeNotInitialized:   409,
		ErrCodeOutOfMemory:      507, // Insufficient Storage
		ErrCodeOperationTimeout: 504, // Gateway Timeout
		ErrCodeConnectionFailed: 502, // Bad Gateway
		ErrCodeUploadFailed:     502,
	}

	if status, ok := statusMap[code]; ok {
		return status
	}
	return 500 // Default to Internal Server Error
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:]) // +2 to skip this function and the caller
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") { // Skip frames from this file
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *TraceError) WithContext(key, value string) *TraceError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *TraceError) WithDetail(key string, value interface{}) *TraceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *TraceError) WithComponent(component string) *TraceError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *TraceError) WithOperation(operation string) *TraceError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *TraceError) WithCause(cause error) *TraceError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the code's default retry hint
func (e *TraceError) WithRetryable(retryable bool) *TraceError {
	e.Retryable = retryable
	return e
}

// WithStack captures the current stack trace
func (e *TraceError) WithStack() *TraceError {
	e.Stack = CaptureStack(2)
	return e
}
