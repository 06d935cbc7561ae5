package nfc

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific type of NFC error for programmatic handling.
type ErrorCode int

const (
	// Tag operation errors (100-199)
	ErrCodeNotSupported ErrorCode = iota + 100
	ErrCodeTagRemoved
	ErrCodeAuthFailed
	ErrCodeReadFailed
	ErrCodeConnectFailed
	ErrCodeTimeout
	ErrCodeInvalidData
)

// Sentinel errors for device operations
var (
	// ErrTimeout indicates a timeout occurred during device communication
	ErrTimeout = errors.New("device operation timed out")

	// ErrDeviceClosed indicates the device connection was closed
	ErrDeviceClosed = errors.New("device closed")

	// ErrIO indicates an input/output error with the device
	ErrIO = errors.New("device I/O error")
)

// NFCError provides structured error information for programmatic handling.
type NFCError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "Open", "ReadBlock")
	TagUID  string // Optional: UID of tag involved
	Message string // Human-readable message
	Cause   error  // Underlying error
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewNotSupportedError creates an error for unsupported operations.
func NewNotSupportedError(op string) *NFCError {
	return &NFCError{
		Code:    ErrCodeNotSupported,
		Op:      op,
		Message: "operation not supported",
	}
}

// NewTagRemovedError creates an error for when a tag is removed mid-operation.
func NewTagRemovedError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeTagRemoved,
		Op:      op,
		Message: "tag removed during operation",
		Cause:   cause,
	}
}

// NewAuthError creates an error for authentication failures.
func NewAuthError(op, tagUID string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeAuthFailed,
		Op:      op,
		TagUID:  tagUID,
		Message: "authentication failed",
		Cause:   cause,
	}
}

// NewReadError creates an error for read failures.
func NewReadError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeReadFailed,
		Op:      op,
		Message: "read failed",
		Cause:   cause,
	}
}

// NewConnectError creates an error for a technology connection that could
// not be established.
func NewConnectError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeConnectFailed,
		Op:      op,
		Message: "connect failed",
		Cause:   cause,
	}
}

// NewTimeoutError creates an error for an exchange that timed out.
func NewTimeoutError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeTimeout,
		Op:      op,
		Message: "operation timed out",
		Cause:   cause,
	}
}

// IsNotSupportedError checks if an error indicates an unsupported operation.
func IsNotSupportedError(err error) bool {
	if err == nil {
		return false
	}
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code == ErrCodeNotSupported
	}
	errStr := err.Error()
	return strings.Contains(errStr, "not supported") ||
		strings.Contains(errStr, "operation not supported")
}

// IsTagRemovedError checks if an error indicates the tag was removed.
func IsTagRemovedError(err error) bool {
	if err == nil {
		return false
	}
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code == ErrCodeTagRemoved
	}
	errStr := err.Error()
	return strings.Contains(errStr, "tag removed") ||
		strings.Contains(errStr, "tag lost") ||
		strings.Contains(errStr, "Target was removed")
}

// IsAuthError checks if an error indicates authentication failure.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code == ErrCodeAuthFailed
	}
	return strings.Contains(err.Error(), "authentication")
}

// IsTimeoutError checks if an error is a device timeout or an expired deadline.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) && nfcErr.Code == ErrCodeTimeout {
		return true
	}
	// libnfc reports timeouts as plain strings
	errStr := err.Error()
	return strings.Contains(errStr, "Operation timed out") ||
		strings.Contains(errStr, "operation timed out")
}

// IsDeviceClosedError checks if an error indicates the device went away.
func IsDeviceClosedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeviceClosed) {
		return true
	}
	return strings.Contains(err.Error(), "device closed")
}

// GetErrorCode extracts the ErrorCode from an error if it's an NFCError.
// Returns 0 if the error is not an NFCError.
func GetErrorCode(err error) ErrorCode {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return 0
}

// Errorf creates an NFCError with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...interface{}) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// FailureFromError classifies a transport error into the failure reason
// recorded in a ReadResult. It never yields ReasonAuthenticationFailed: only
// the Mifare Classic reader knows it was authenticating.
func FailureFromError(err error) FailureReason {
	switch {
	case IsTimeoutError(err):
		return ReasonTimeout
	case IsNotSupportedError(err):
		return ReasonUnsupported
	default:
		return ReasonConnectFailed
	}
}
