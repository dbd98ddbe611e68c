package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrExecutionNotFound indicates the job service has no execution for the handle
	ErrExecutionNotFound = errors.New("execution not found in job service")

	// ErrUnauthorized indicates the job service rejected the bearer token
	ErrUnauthorized = errors.New("job service authentication failed")

	// ErrProviderUnavailable indicates the job service is temporarily unavailable
	ErrProviderUnavailable = errors.New("job service temporarily unavailable")

	// ErrUnknownStatus indicates the job service reported a status outside its vocabulary
	ErrUnknownStatus = errors.New("unknown execution status")
)

// ProviderError represents a non-2xx job service response
type ProviderError struct {
	Code    int
	Message string
	Body    string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job service error %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("job service error %d: %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
