// Package client talks to the gateway's same-origin endpoints: history
// listing, per-item lookups, stored README content and the blob-store proxy.
package client

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

	"github.com/lei/readme-gateway/pkg/logger"
)

// maxBody caps how much of a response is read into memory
const maxBody = 8 << 20

// HTTPError is returned for non-2xx gateway responses
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(e.Body)
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(e.Body), &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, msg)
}

// Client is an HTTP client for the gateway API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logger.Logger
}

// New creates a gateway client. apiKey may be empty when the gateway runs
// without authentication.
func New(baseURL, apiKey string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// BaseURL returns the gateway address the client was built with
func (c *Client) BaseURL() string {
	return c.baseURL
}

// History returns the raw history envelope for a user
func (c *Client) History(ctx context.Context, userID string) ([]byte, error) {
	q := url.Values{}
	q.Set("userId", userID)
	return c.get(ctx, "/api/history?"+q.Encode())
}

// HistoryItem returns one raw history item
func (c *Client) HistoryItem(ctx context.Context, id string) (map[string]any, error) {
	data, err := c.get(ctx, "/api/history/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	var item map[string]any
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("decode history item: %w", err)
	}
	// Single items are sometimes wrapped the same way lists are
	if inner, ok := item["data"].(map[string]any); ok {
		return inner, nil
	}
	return item, nil
}

// DeleteHistoryItem deletes a history record upstream
func (c *Client) DeleteHistoryItem(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/history/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

type contentResponse struct {
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
	URL     string `json:"url,omitempty"`
}

// ReadmeContent returns content stored for a history item
func (c *Client) ReadmeContent(ctx context.Context, id string) (string, error) {
	data, err := c.get(ctx, "/api/readme-content/"+url.PathEscape(id))
	if err != nil {
		return "", err
	}
	return decodeContent(data)
}

// PutReadmeContent stores content for a history item
func (c *Client) PutReadmeContent(ctx context.Context, id, content string) error {
	body, err := json.Marshal(contentResponse{Content: content})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPut, "/api/readme-content/"+url.PathEscape(id), bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ProxyFetch fetches target through the gateway's blob-store proxy
func (c *Client) ProxyFetch(ctx context.Context, target string) (string, error) {
	q := url.Values{}
	q.Set("url", target)
	data, err := c.get(ctx, "/api/proxy-s3?"+q.Encode())
	if err != nil {
		return "", err
	}
	return decodeContent(data)
}

func decodeContent(data []byte) (string, error) {
	var resp contentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode content response: %w", err)
	}
	return resp.Content, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

// do sends a request and converts non-2xx responses to *HTTPError. The
// caller closes the body of a successful response.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("client: http request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		c.logger.Debug("client: http error", "method", method, "path", path, "status", resp.StatusCode)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return resp, nil
}
