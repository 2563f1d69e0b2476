package crawler

import (
	"context"
	"errors"
)

// Error taxonomy shared by the provider adapter, the gate, the engine and the
// job store. Adapters wrap these with fmt.Errorf so errors.Is keeps working.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrJobNotFound            = errors.New("job not found")
	ErrJobExists              = errors.New("job already exists")
	ErrInvalidTransition      = errors.New("invalid job status transition")
	ErrDuplicateResult        = errors.New("duplicate result")
	ErrAccountNotFound        = errors.New("account not found")
	ErrPrivateAccount         = errors.New("account is private")
	ErrRateLimited            = errors.New("rate limited by provider")
	ErrAuthenticationRequired = errors.New("provider authentication required")
	ErrChallengeRequired      = errors.New("provider challenge required")
	ErrNetwork                = errors.New("provider network error")
	ErrTimeout                = errors.New("provider timeout")
	ErrCanceled               = errors.New("job canceled")
	ErrQueueClosed            = errors.New("queue closed")
)

// Job error codes exposed to pollers.
const (
	CodeRateLimited            = "rate_limited"
	CodeAuthenticationRequired = "authentication_required"
	CodeChallengeRequired      = "challenge_required"
	CodeNetworkError           = "network_error"
	CodeTimeout                = "timeout"
	CodeCanceled               = "canceled"
	CodeEnqueueFailed          = "enqueue_failed"
	CodeInternal               = "internal"
)

// IsRetryable reports whether the gate may retry a call that failed with err.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout)
}

// ErrorCode maps err onto the stable code stored on failed jobs.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrAuthenticationRequired):
		return CodeAuthenticationRequired
	case errors.Is(err, ErrChallengeRequired):
		return CodeChallengeRequired
	case errors.Is(err, ErrNetwork):
		return CodeNetworkError
	default:
		return CodeInternal
	}
}

// NewJobError builds the structured failure payload for err.
func NewJobError(err error) *JobError {
	if err == nil {
		return nil
	}
	return &JobError{Code: ErrorCode(err), Message: err.Error()}
}
