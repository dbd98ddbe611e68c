package stepfunctions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lei/readme-gateway/internal/credentials"
	"github.com/lei/readme-gateway/pkg/logger"
)

// Client handles HTTP communication with the generation API in front of the
// Step Functions state machine
type Client struct {
	baseURL     string
	credentials credentials.Provider
	httpClient  *http.Client
	logger      *logger.Logger
}

// statusResponse mirrors GET /status/{handle}
type statusResponse struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
	Cause  string          `json:"cause"`
}

// NewClient creates a new generation API client
func NewClient(baseURL string, creds credentials.Provider, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: creds,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      log,
	}
}

// doRequest performs an authenticated HTTP request, refreshing the token once on 401
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	c.logger.Debug("provider: http request",
		"method", method,
		"path", path)

	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	inv, ok := c.credentials.(credentials.Invalidator)
	if resp.StatusCode != http.StatusUnauthorized || !ok {
		return resp, nil
	}

	resp.Body.Close()
	c.logger.Info("provider: received 401, invalidating token and retrying",
		"method", method,
		"path", path)
	inv.Invalidate()

	return c.send(ctx, method, path, body)
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	token, err := c.credentials.Token(ctx)
	if err != nil {
		c.logger.Error("provider: failed to get token", "error", err)
		return nil, fmt.Errorf("get token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("provider: http request failed",
			"method", method,
			"path", path,
			"error", err)
		return nil, err
	}

	c.logger.Debug("provider: http response",
		"method", method,
		"path", path,
		"status", resp.StatusCode)

	return resp, nil
}

// Generate posts a generation request and returns the decoded response body
func (c *Client) Generate(ctx context.Context, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/generate", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read generate response: %w", err)
	}

	out := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	return unwrapProxyBody(out), nil
}

// GetStatus retrieves the raw status of an execution
func (c *Client) GetStatus(ctx context.Context, handle string) (*statusResponse, error) {
	path := "/status/" + url.PathEscape(handle)

	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read status response: %w", err)
	}

	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	flat, err := json.Marshal(unwrapProxyBody(fields))
	if err != nil {
		return nil, fmt.Errorf("re-encode status: %w", err)
	}

	var status statusResponse
	if err := json.Unmarshal(flat, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}

	return &status, nil
}
