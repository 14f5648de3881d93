package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents the error kinds a caller can branch on
type ErrorCode int

const (
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidRequest       ErrorCode = 1000
	ErrCodeNotFound             ErrorCode = 1001
	ErrCodeAuthenticationFailed ErrorCode = 1002

	// Transport and timing errors
	ErrCodeConnectionFailed ErrorCode = 1500
	ErrCodeDeadlineExceeded ErrorCode = 1501

	// Server errors
	ErrCodeInternalStorage ErrorCode = 2000
)

// String returns the taxonomy name of the code
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeInvalidRequest:
		return "InvalidRequest"
	case ErrCodeNotFound:
		return "NotFound"
	case ErrCodeAuthenticationFailed:
		return "AuthenticationFailed"
	case ErrCodeConnectionFailed:
		return "ConnectionFailed"
	case ErrCodeDeadlineExceeded:
		return "DeadlineExceeded"
	default:
		return "InternalStorageError"
	}
}

// StorageError represents a structured error with code and context
type StorageError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts StorageError to gRPC status
func (e *StorageError) ToGRPCStatus() *status.Status {
	return status.New(e.Code.GRPCCode(), e.Error())
}

// GRPCCode maps internal error codes to gRPC codes
func (c ErrorCode) GRPCCode() codes.Code {
	switch c {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidRequest:
		return codes.InvalidArgument
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeAuthenticationFailed:
		return codes.Unauthenticated
	case ErrCodeConnectionFailed:
		return codes.Unavailable
	case ErrCodeDeadlineExceeded:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// CodeFromGRPC maps a gRPC code back onto the taxonomy
func CodeFromGRPC(c codes.Code) ErrorCode {
	switch c {
	case codes.OK:
		return ErrCodeOK
	case codes.InvalidArgument:
		return ErrCodeInvalidRequest
	case codes.NotFound:
		return ErrCodeNotFound
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrCodeAuthenticationFailed
	case codes.Unavailable:
		return ErrCodeConnectionFailed
	case codes.DeadlineExceeded, codes.Canceled:
		return ErrCodeDeadlineExceeded
	default:
		return ErrCodeInternalStorage
	}
}

// NewStorageError creates a new StorageError
func NewStorageError(code ErrorCode, message string, cause error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StorageError) WithDetail(key string, value interface{}) *StorageError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidRequest(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInvalidRequest, message, cause)
}

func InvalidTenant(tenant, reason string) *StorageError {
	return NewStorageError(ErrCodeInvalidRequest, fmt.Sprintf("invalid tenant '%s': %s", tenant, reason), nil).
		WithDetail("tenant", tenant).
		WithDetail("reason", reason)
}

func InvalidPrimaryKey(primaryKey, reason string) *StorageError {
	return NewStorageError(ErrCodeInvalidRequest, fmt.Sprintf("invalid primary key '%s': %s", primaryKey, reason), nil).
		WithDetail("primary_key", primaryKey).
		WithDetail("reason", reason)
}

func InvalidAttribute(name, reason string) *StorageError {
	return NewStorageError(ErrCodeInvalidRequest, fmt.Sprintf("invalid attribute '%s': %s", name, reason), nil).
		WithDetail("attribute", name).
		WithDetail("reason", reason)
}

func NotFound(tenant, primaryKey string) *StorageError {
	return NewStorageError(ErrCodeNotFound, fmt.Sprintf("record not found: %s/%s", tenant, primaryKey), nil).
		WithDetail("tenant", tenant).
		WithDetail("primary_key", primaryKey)
}

func AuthenticationFailed(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeAuthenticationFailed, message, cause)
}

func ConnectionFailed(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeConnectionFailed, message, cause)
}

func DeadlineExceeded(operation string, budgetMillis int64) *StorageError {
	return NewStorageError(ErrCodeDeadlineExceeded, fmt.Sprintf("%s: deadline of %dms exceeded", operation, budgetMillis), nil).
		WithDetail("operation", operation).
		WithDetail("timeout_ms", budgetMillis)
}

func InternalStorage(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInternalStorage, message, cause)
}

func ChecksumFailed(expected, actual uint32) *StorageError {
	return NewStorageError(ErrCodeInternalStorage, fmt.Sprintf("checksum validation failed: expected %d, got %d", expected, actual), nil).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

func DiskFull(usagePercent float64, availableBytes uint64) *StorageError {
	return NewStorageError(ErrCodeInternalStorage, fmt.Sprintf("disk full: %.2f%% used, %d bytes available", usagePercent, availableBytes), nil).
		WithDetail("usage_percent", usagePercent).
		WithDetail("available_bytes", availableBytes)
}

// IsStorageError checks if an error is a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return stderrors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *StorageError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternalStorage
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// ToGRPC converts any error to a gRPC status error, leaving status errors untouched
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var se *StorageError
	if stderrors.As(err, &se) {
		return se.ToGRPCStatus().Err()
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
