package provider

import (
	"context"

	"github.com/lei/readme-gateway/internal/models"
)

// Provider abstracts the remote README generation service
type Provider interface {
	// Submit starts a generation for a repository. A submission either
	// carries a handle to poll or reports that the work already completed.
	Submit(ctx context.Context, params SubmitParams) (*Submission, error)

	// Status performs one status lookup for an execution handle
	Status(ctx context.Context, handle string) (*models.ExecutionStatus, error)
}

// SubmitParams contains parameters for starting a generation
type SubmitParams struct {
	RepositoryURL string
	UserEmail     string
	Features      map[string]any // Optional feature flags passed through verbatim
}

// Submission is the job service's answer to a generate request
type Submission struct {
	Handle    string
	Completed bool                     // true when the service finished synchronously
	Result    *models.GenerationResult // set when Completed
	Message   string
}
