// Package errors provides error code definitions for the sync engine.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced to the status layer.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Database errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Connectivity errors
	ErrOffline           ErrorCode = "OFFLINE"
	ErrNetworkRestricted ErrorCode = "NETWORK_RESTRICTED"

	// Remote service errors
	ErrAuthFailed   ErrorCode = "AUTH_FAILED"
	ErrRemote       ErrorCode = "REMOTE_ERROR"
	ErrRemotePage   ErrorCode = "REMOTE_PAGE_FAILED"
	ErrUploadFailed ErrorCode = "UPLOAD_FAILED"

	// Sync errors
	ErrSyncFailed       ErrorCode = "SYNC_FAILED"
	ErrSubmissionFailed ErrorCode = "SUBMISSION_FAILED"
	ErrPullFailed       ErrorCode = "PULL_FAILED"
	ErrDraftSyncFailed  ErrorCode = "DRAFT_SYNC_FAILED"

	// Job errors
	ErrJobNotFound    ErrorCode = "JOB_NOT_FOUND"
	ErrJobClaimFailed ErrorCode = "JOB_CLAIM_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of an error, or ErrInternal when the error
// carries no code.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}
