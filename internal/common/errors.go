package common

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInternal      = errors.New("internal error")

	// intake-time
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")

	// decode-time, whole document
	ErrCorruptDocument   = errors.New("corrupt document")
	ErrEncryptedDocument = errors.New("encrypted document")
	ErrPageLimitExceeded = errors.New("page limit exceeded")
	ErrPayloadMissing    = errors.New("payload missing")

	// infrastructure
	ErrStoreUnavailable = errors.New("job store unavailable")
	ErrQueueUnavailable = errors.New("job queue unavailable")
	ErrTempStorage      = errors.New("temp storage unavailable")
)

// Stable error codes persisted on failed jobs and returned to clients.
const (
	CodeEmptyPayload      = "EMPTY_PAYLOAD"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeUnsupportedType   = "UNSUPPORTED_TYPE"
	CodeCorruptDocument   = "CORRUPT_DOCUMENT"
	CodeEncryptedDocument = "ENCRYPTED_DOCUMENT"
	CodePageLimitExceeded = "PAGE_LIMIT_EXCEEDED"
	CodePayloadMissing    = "PAYLOAD_MISSING"
	CodeNotFound          = "NOT_FOUND"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeQueueUnavailable  = "QUEUE_UNAVAILABLE"
	CodeInternal          = "INTERNAL"
)

var sentinelCodes = []struct {
	err  error
	code string
}{
	{ErrFileTooLarge, CodeFileTooLarge},
	{ErrUnsupportedType, CodeUnsupportedType},
	{ErrCorruptDocument, CodeCorruptDocument},
	{ErrEncryptedDocument, CodeEncryptedDocument},
	{ErrPageLimitExceeded, CodePageLimitExceeded},
	{ErrPayloadMissing, CodePayloadMissing},
	{ErrNotFound, CodeNotFound},
	{ErrStoreUnavailable, CodeStoreUnavailable},
	{ErrQueueUnavailable, CodeQueueUnavailable},
}

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrorCode returns the AppError code carried by err, falling back to the
// code of a known sentinel in its chain.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}
	return CodeInternal
}

// ErrorMessage returns the human readable part of err without the code prefix.
func ErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsDecodeError reports whether err is a whole-document decode failure.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrCorruptDocument) ||
		errors.Is(err, ErrEncryptedDocument) ||
		errors.Is(err, ErrPageLimitExceeded) ||
		errors.Is(err, ErrPayloadMissing)
}

// IsIntakeError reports whether err is a synchronous intake rejection.
func IsIntakeError(err error) bool {
	return errors.Is(err, ErrFileTooLarge) || errors.Is(err, ErrUnsupportedType)
}

// ToStatus converts an application error into a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	msg := ErrorMessage(err)
	switch {
	case IsIntakeError(err), errors.Is(err, ErrInvalidInput):
		return status.Error(codes.InvalidArgument, msg)
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, "job not found or expired")
	case errors.Is(err, ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, msg)
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrQueueUnavailable):
		return status.Error(codes.Unavailable, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, msg)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, msg)
	}
	return status.Error(codes.Internal, msg)
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}
