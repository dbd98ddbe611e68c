// Package upstream is the gateway's client for the remote history store.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lei/readme-gateway/pkg/logger"
)

var (
	// ErrNotFound indicates the history store has no such record
	ErrNotFound = errors.New("history record not found upstream")

	// ErrUnauthorized indicates the history store rejected the gateway token
	ErrUnauthorized = errors.New("history store authentication failed")

	// ErrUnavailable indicates the history store is temporarily unavailable
	ErrUnavailable = errors.New("history store temporarily unavailable")
)

// Error represents a non-2xx history store response
type Error struct {
	Code    int
	Message string
	Body    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("history store error %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("history store error %d: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// maxBody caps history responses read into memory
const maxBody = 16 << 20

// Client handles HTTP communication with the history store
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a history store client. token may be empty.
func NewClient(baseURL, token string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// ListHistory returns the raw history envelope for userID
func (c *Client) ListHistory(ctx context.Context, userID string) ([]byte, error) {
	q := url.Values{}
	q.Set("userId", userID)
	return c.get(ctx, "/history?"+q.Encode())
}

// GetHistoryItem returns one raw history item
func (c *Client) GetHistoryItem(ctx context.Context, id string) ([]byte, error) {
	return c.get(ctx, "/history/"+url.PathEscape(id))
}

// DeleteHistoryItem deletes a history record
func (c *Client) DeleteHistoryItem(ctx context.Context, id string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, "/history/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp)
	}
	return nil
}

// HealthCheck verifies the history store answers. Any non-5xx response
// counts as reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return parseError(resp)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string) (*http.Response, error) {
	c.logger.Debug("upstream: http request",
		"method", method,
		"path", path)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("upstream: http request failed",
			"method", method,
			"path", path,
			"error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.logger.Debug("upstream: http response",
		"method", method,
		"path", path,
		"status", resp.StatusCode)

	return resp, nil
}

// parseError converts HTTP error responses to upstream errors
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	uerr := &Error{
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
			uerr.Message = errResp.Message
		case errResp.Error != "":
			uerr.Message = errResp.Error
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		uerr.Err = ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		uerr.Err = ErrUnauthorized
	case resp.StatusCode >= 500:
		uerr.Err = ErrUnavailable
	}

	return uerr
}
