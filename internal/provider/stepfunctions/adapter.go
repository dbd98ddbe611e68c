// Package stepfunctions implements provider.Provider against the HTTP API
// that fronts the README generation state machine.
package stepfunctions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lei/readme-gateway/internal/credentials"
	"github.com/lei/readme-gateway/internal/models"
	"github.com/lei/readme-gateway/internal/provider"
	"github.com/lei/readme-gateway/pkg/logger"
)

// Adapter implements the Provider interface for the generation API
type Adapter struct {
	client *Client
	logger *logger.Logger
}

// Config contains generation API connection settings
type Config struct {
	URL            string
	RequestTimeout time.Duration
}

// NewAdapter creates a new generation API adapter
func NewAdapter(cfg Config, creds credentials.Provider, log *logger.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("job service url is required")
	}
	if creds == nil {
		return nil, fmt.Errorf("credential provider is required")
	}
	if log == nil {
		log = logger.Discard()
	}

	return &Adapter{
		client: NewClient(cfg.URL, creds, cfg.RequestTimeout, log),
		logger: log,
	}, nil
}

// handleKeys lists the response fields that have carried the execution handle
var handleKeys = []string{"executionArn", "execution_arn", "executionId"}

// Submit implements Provider.Submit
func (a *Adapter) Submit(ctx context.Context, params provider.SubmitParams) (*provider.Submission, error) {
	payload := make(map[string]any, len(params.Features)+2)
	for k, v := range params.Features {
		payload[k] = v
	}
	payload["github_url"] = params.RepositoryURL
	payload["user_email"] = params.UserEmail

	a.logger.Debug("provider: submitting generation",
		"repository_url", params.RepositoryURL,
		"feature_count", len(params.Features))

	fields, err := a.client.Generate(ctx, payload)
	if err != nil {
		a.logger.Error("provider: failed to submit generation",
			"repository_url", params.RepositoryURL,
			"error", err)
		return nil, fmt.Errorf("submit generation: %w", err)
	}

	sub := &provider.Submission{
		Handle:  firstString(fields, handleKeys...),
		Message: firstString(fields, "message"),
	}
	if sub.Handle == "" {
		sub.Completed = true
		sub.Result = parseResult(fields)
	}

	a.logger.Info("provider: generation submitted",
		"repository_url", params.RepositoryURL,
		"handle", sub.Handle,
		"completed", sub.Completed)

	return sub, nil
}

// Status implements Provider.Status
func (a *Adapter) Status(ctx context.Context, handle string) (*models.ExecutionStatus, error) {
	if strings.TrimSpace(handle) == "" {
		return nil, fmt.Errorf("empty execution handle")
	}

	resp, err := a.client.GetStatus(ctx, handle)
	if err != nil {
		a.logger.Warn("provider: failed to get execution status",
			"handle", handle,
			"error", err)
		return nil, err
	}

	status, err := mapStatusResponse(resp)
	if err != nil {
		a.logger.Warn("provider: unmappable execution status",
			"handle", handle,
			"status", resp.Status,
			"error", err)
		return nil, err
	}

	a.logger.Debug("provider: execution status retrieved",
		"handle", handle,
		"status", resp.Status,
		"phase", status.Phase)

	return status, nil
}
