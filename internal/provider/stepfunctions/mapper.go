package stepfunctions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lei/readme-gateway/internal/models"
	"github.com/lei/readme-gateway/internal/provider"
)

// mapStatus converts the generation API status vocabulary to a job phase
func mapStatus(status string) (models.JobPhase, error) {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "RUNNING", "EXECUTING":
		return models.PhaseRunning, nil
	case "SUCCEEDED":
		return models.PhaseSucceeded, nil
	case "FAILED", "TIMED_OUT", "ABORTED":
		return models.PhaseFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", provider.ErrUnknownStatus, status)
	}
}

// mapStatusResponse converts a raw status response to an ExecutionStatus
func mapStatusResponse(resp *statusResponse) (*models.ExecutionStatus, error) {
	phase, err := mapStatus(resp.Status)
	if err != nil {
		return nil, err
	}

	status := &models.ExecutionStatus{Phase: phase}
	switch phase {
	case models.PhaseSucceeded:
		result, err := parseOutput(resp.Output)
		if err != nil {
			return nil, err
		}
		status.Result = result
	case models.PhaseFailed:
		status.Reason = failureReason(resp)
	}
	return status, nil
}

func failureReason(resp *statusResponse) string {
	reason := strings.TrimSpace(resp.Error)
	if cause := strings.TrimSpace(resp.Cause); cause != "" {
		if reason == "" {
			reason = cause
		} else {
			reason = reason + ": " + cause
		}
	}
	if reason == "" {
		reason = fmt.Sprintf("execution %s", strings.ToLower(resp.Status))
	}
	return reason
}

// parseOutput decodes the execution output, which the API returns either as a
// JSON-encoded string or as an object
func parseOutput(raw json.RawMessage) (*models.GenerationResult, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &models.GenerationResult{}, nil
	}

	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("decode output string: %w", err)
		}
		encoded = strings.TrimSpace(encoded)
		if encoded == "" {
			return &models.GenerationResult{}, nil
		}
		raw = json.RawMessage(encoded)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return parseResult(unwrapProxyBody(fields)), nil
}

// parseResult pulls the README fields out of an output or synchronous
// generate response
func parseResult(fields map[string]any) *models.GenerationResult {
	return &models.GenerationResult{
		ReadmeContent: firstString(fields, "readmeContent", "readme_content", "readme", "content"),
		ReadmeURL:     firstString(fields, "readmeUrl", "readmeS3Url", "readme_url", "s3Url"),
		RequestID:     firstString(fields, "requestId", "request_id", "repoId"),
		Raw:           fields,
	}
}

// unwrapProxyBody merges a Lambda proxy {"statusCode","body"} envelope into
// its parent so callers see one flat object
func unwrapProxyBody(fields map[string]any) map[string]any {
	body, ok := fields["body"].(string)
	if !ok {
		return fields
	}
	var inner map[string]any
	if err := json.Unmarshal([]byte(body), &inner); err != nil {
		return fields
	}
	merged := make(map[string]any, len(fields)+len(inner))
	for k, v := range fields {
		if k != "body" {
			merged[k] = v
		}
	}
	for k, v := range inner {
		merged[k] = v
	}
	return merged
}

func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := fields[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// parseError converts HTTP error responses to provider errors
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	perr := &provider.ProviderError{
		Code:    resp.StatusCode,
		Message: http.StatusText(resp.StatusCode),
		Body:    string(body),
	}

	var errResp struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		switch {
		case errResp.Message != "":
			perr.Message = errResp.Message
		case errResp.Error != "":
			perr.Message = errResp.Error
		}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		perr.Err = provider.ErrExecutionNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		perr.Err = provider.ErrUnauthorized
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		perr.Err = provider.ErrProviderUnavailable
	}

	return perr
}
