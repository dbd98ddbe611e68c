package generation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lei/readme-gateway/internal/credentials"
	"github.com/lei/readme-gateway/internal/provider"
)

var (
	// ErrAuth indicates the job service rejected our credentials. Polling stops
	// immediately and the user has to sign in again.
	ErrAuth = errors.New("authentication failed")

	// ErrTimedOut indicates the job was still running after the last poll
	ErrTimedOut = errors.New("generation timed out")

	// ErrJobInFlight is returned when a job is submitted while another one is
	// still submitting or running on the same client
	ErrJobInFlight = errors.New("a generation job is already in progress")
)

// SubmissionError is returned when the job service refuses a generate
// request or cannot be reached. StatusCode is 0 for network failures.
type SubmissionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("submit generation: %v", e.Err)
	}
	return fmt.Sprintf("submit generation: status %d: %v", e.StatusCode, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// TransientPollError is returned when status polling kept failing after the
// configured retries
type TransientPollError struct {
	Tries int
	Err   error
}

func (e *TransientPollError) Error() string {
	return fmt.Sprintf("poll status failed after %d tries: %v", e.Tries, e.Err)
}

func (e *TransientPollError) Unwrap() error {
	return e.Err
}

// RemoteExecutionFailed carries the reason the job service reported for a
// failed execution
type RemoteExecutionFailed struct {
	Reason string
}

func (e *RemoteExecutionFailed) Error() string {
	return "generation failed: " + e.Reason
}

// isAuthError reports whether err should end polling without a retry
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) ||
		errors.Is(err, provider.ErrUnauthorized) ||
		errors.Is(err, credentials.ErrAuthentication) {
		return true
	}
	return strings.Contains(err.Error(), "Authentication")
}

// submissionError converts a provider failure at submit time
func submissionError(err error) *SubmissionError {
	var perr *provider.ProviderError
	if errors.As(err, &perr) {
		return &SubmissionError{StatusCode: perr.Code, Body: perr.Body, Err: err}
	}
	return &SubmissionError{Err: err}
}
