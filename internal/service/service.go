package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lei/readme-gateway/internal/content"
	"github.com/lei/readme-gateway/internal/history"
	"github.com/lei/readme-gateway/internal/models"
	"github.com/lei/readme-gateway/internal/store"
	"github.com/lei/readme-gateway/internal/upstream"
	"github.com/lei/readme-gateway/pkg/logger"
)

var (
	// ErrInvalidRequest indicates a missing or malformed parameter
	ErrInvalidRequest = errors.New("invalid request")
	// ErrHistoryNotFound indicates the history record doesn't exist
	ErrHistoryNotFound = errors.New("history record not found")
	// ErrContentNotFound indicates no README content could be found for a record
	ErrContentNotFound = errors.New("readme content not found")
	// ErrHostNotAllowed indicates a proxy target outside the blob store allowlist
	ErrHostNotAllowed = errors.New("host not allowed")
	// ErrFetchFailed indicates the blob store could not serve a proxy target
	ErrFetchFailed = errors.New("content fetch failed")
)

// Upstream is the remote history store
type Upstream interface {
	ListHistory(ctx context.Context, userID string) ([]byte, error)
	GetHistoryItem(ctx context.Context, id string) ([]byte, error)
	DeleteHistoryItem(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error
}

// ContentStore caches resolved README content
type ContentStore interface {
	GetContent(ctx context.Context, id string) (*store.Entry, error)
	PutContent(ctx context.Context, e store.Entry) error
	DeleteContent(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Options configures the blob-store proxy
type Options struct {
	AllowedHosts []string
	FetchTimeout time.Duration
	MaxBytes     int64
}

// Service coordinates business logic between the API and the history store,
// content cache and blob store
type Service struct {
	upstream   Upstream
	store      ContentStore
	normalizer *history.Normalizer
	httpClient *http.Client
	allowed    map[string]bool
	opts       Options
	logger     *logger.Logger
}

// ContentResult is the answer of the per-item content endpoint
type ContentResult struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Source  string `json:"source"`
	URL     string `json:"url,omitempty"`
	Cached  bool   `json:"cached"`
}

// ProxyResult is the answer of the blob-store proxy
type ProxyResult struct {
	Content string `json:"content"`
	Source  string `json:"source"`
	URL     string `json:"url"`
}

// NewService creates a new service instance. The proxy allowlist is the
// normalizer's canonical CDN host plus opts.AllowedHosts; legacy CDN hosts
// are accepted and rewritten.
func NewService(up Upstream, st ContentStore, normalizer *history.Normalizer, canonicalHost string, opts Options, log *logger.Logger) *Service {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 5 << 20
	}
	if normalizer == nil {
		normalizer = history.NewNormalizer("", nil)
	}
	if log == nil {
		log = logger.Discard()
	}

	allowed := make(map[string]bool)
	for _, h := range append([]string{canonicalHost}, opts.AllowedHosts...) {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed[h] = true
		}
	}

	s := &Service{
		upstream:   up,
		store:      st,
		normalizer: normalizer,
		allowed:    allowed,
		opts:       opts,
		logger:     log,
	}
	// Redirects must stay on allowlisted hosts too
	s.httpClient = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return s.checkTarget(req.URL)
		},
	}
	return s
}

const maxRedirects = 10

// getLogger retrieves logger from context or falls back to service logger
func (s *Service) getLogger(ctx context.Context) *logger.Logger {
	if ctxLogger := logger.FromContext(ctx); ctxLogger != nil {
		return ctxLogger
	}
	return s.logger
}

// ListHistory returns the history store's envelope for a user unchanged
func (s *Service) ListHistory(ctx context.Context, userID string) ([]byte, error) {
	logger := s.getLogger(ctx)

	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}

	logger.Debug("service: listing history", "user_id", userID)

	body, err := s.upstream.ListHistory(ctx, userID)
	if err != nil {
		logger.Error("service: failed to list history", "user_id", userID, "error", err)
		return nil, fmt.Errorf("list history: %w", err)
	}

	logger.Debug("service: history listed", "bytes", len(body))
	return body, nil
}

// GetHistoryItem returns one raw history item
func (s *Service) GetHistoryItem(ctx context.Context, id string) ([]byte, error) {
	logger := s.getLogger(ctx)

	logger.Debug("service: getting history item", "id", id)

	body, err := s.upstream.GetHistoryItem(ctx, id)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			logger.Debug("service: history item not found", "id", id)
			return nil, ErrHistoryNotFound
		}
		logger.Error("service: failed to get history item", "id", id, "error", err)
		return nil, fmt.Errorf("get history item: %w", err)
	}
	return body, nil
}

// DeleteHistoryItem deletes the record upstream and drops any cached content
func (s *Service) DeleteHistoryItem(ctx context.Context, id string) error {
	logger := s.getLogger(ctx)

	logger.Info("service: deleting history item", "id", id)

	if err := s.upstream.DeleteHistoryItem(ctx, id); err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return ErrHistoryNotFound
		}
		logger.Error("service: failed to delete history item", "id", id, "error", err)
		return fmt.Errorf("delete history item: %w", err)
	}

	if err := s.store.DeleteContent(ctx, id); err != nil {
		logger.Warn("service: failed to drop cached content", "id", id, "error", err)
	}

	logger.Info("service: history item deleted", "id", id)
	return nil
}

// ReadmeContent returns stored content for a history record. On a cache miss
// the record is looked up upstream and its inline content, or the document
// at its content URL, is cached and returned.
func (s *Service) ReadmeContent(ctx context.Context, id string) (*ContentResult, error) {
	logger := s.getLogger(ctx)

	entry, err := s.store.GetContent(ctx, id)
	switch {
	case err == nil:
		logger.Debug("service: content cache hit", "id", id, "source", entry.Source)
		return &ContentResult{ID: id, Content: entry.Content, Source: entry.Source, URL: entry.URL, Cached: true}, nil
	case !errors.Is(err, store.ErrNotFound):
		logger.Warn("service: content cache read failed", "id", id, "error", err)
	}

	body, err := s.upstream.GetHistoryItem(ctx, id)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			logger.Debug("service: no upstream record for content", "id", id)
			return nil, ErrContentNotFound
		}
		logger.Error("service: failed to get history item for content", "id", id, "error", err)
		return nil, fmt.Errorf("get history item: %w", err)
	}

	rec, err := s.decodeItem(body)
	if err != nil {
		logger.Warn("service: undecodable history item", "id", id, "error", err)
		return nil, ErrContentNotFound
	}

	result := &ContentResult{ID: id}
	switch {
	case strings.TrimSpace(rec.InlineContent) != "":
		result.Content = rec.InlineContent
		result.Source = string(models.SourceInline)
	case rec.ContentURL != "":
		fetched, err := s.ProxyFetch(ctx, rec.ContentURL)
		if err != nil {
			logger.Warn("service: content url fetch failed", "id", id, "url", rec.ContentURL, "error", err)
			return nil, ErrContentNotFound
		}
		result.Content = fetched.Content
		result.Source = string(models.SourceBlobStore)
		result.URL = fetched.URL
	default:
		logger.Debug("service: record has no content pointer", "id", id)
		return nil, ErrContentNotFound
	}

	if err := s.store.PutContent(ctx, store.Entry{ID: id, Content: result.Content, Source: result.Source, URL: result.URL}); err != nil {
		logger.Warn("service: failed to cache content", "id", id, "error", err)
	}

	logger.Info("service: content resolved", "id", id, "source", result.Source)
	return result, nil
}

// PutReadmeContent stores content for a history record
func (s *Service) PutReadmeContent(ctx context.Context, id, text string) error {
	logger := s.getLogger(ctx)

	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: content is empty", ErrInvalidRequest)
	}
	if err := s.store.PutContent(ctx, store.Entry{ID: id, Content: text, Source: "stored"}); err != nil {
		logger.Error("service: failed to store content", "id", id, "error", err)
		return err
	}

	logger.Info("service: content stored", "id", id, "bytes", len(text))
	return nil
}

// ProxyFetch fetches a blob-store document server-side. Only http(s) URLs on
// allowlisted hosts are fetched; legacy CDN hosts are rewritten first. With
// an empty allowlist any host is accepted.
func (s *Service) ProxyFetch(ctx context.Context, target string) (*ProxyResult, error) {
	logger := s.getLogger(ctx)

	target = s.normalizer.RewriteURL(strings.TrimSpace(target))
	u, err := url.Parse(target)
	if err != nil || target == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	if err := s.checkTarget(u); err != nil {
		logger.Warn("service: proxy target rejected", "url", target, "error", err)
		return nil, err
	}

	logger.Debug("service: proxy fetch", "url", target)

	text, err := content.FetchURL(ctx, s.httpClient, target, s.opts.FetchTimeout, s.opts.MaxBytes)
	if err != nil {
		if errors.Is(err, ErrHostNotAllowed) || errors.Is(err, ErrInvalidRequest) {
			logger.Warn("service: proxy redirect rejected", "url", target, "error", err)
			return nil, fmt.Errorf("%w: redirect from %s", ErrHostNotAllowed, u.Host)
		}
		logger.Warn("service: proxy fetch failed", "url", target, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	return &ProxyResult{Content: text, Source: string(models.SourceProxy), URL: target}, nil
}

// checkTarget applies the scheme and host allowlist rules to a proxy target
func (s *Service) checkTarget(u *url.URL) error {
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRequest, u.Scheme)
	}
	if len(s.allowed) > 0 && !s.allowed[strings.ToLower(u.Host)] {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Host)
	}
	return nil
}

// decodeItem normalizes a raw item, unwrapping a {"data": {...}} envelope
func (s *Service) decodeItem(body []byte) (models.HistoryRecord, error) {
	var item map[string]any
	if err := json.Unmarshal(body, &item); err != nil {
		return models.HistoryRecord{}, err
	}
	if inner, ok := item["data"].(map[string]any); ok {
		item = inner
	}
	return s.normalizer.Normalize(item), nil
}

// HealthCheck performs health checks on the content cache and history store
func (s *Service) HealthCheck(ctx context.Context) map[string]any {
	logger := s.getLogger(ctx)

	health := map[string]any{
		"status":  "healthy",
		"service": "readme-gateway",
		"checks":  make(map[string]any),
	}
	checks := health["checks"].(map[string]any)

	// Create short timeout context for health check
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.store.Ping(healthCtx); err != nil {
		logger.Warn("content store health check failed", "error", err)
		checks["store"] = map[string]any{"status": "unhealthy", "error": err.Error()}
		health["status"] = "unhealthy"
	} else {
		checks["store"] = map[string]any{"status": "healthy"}
	}

	if err := s.upstream.HealthCheck(healthCtx); err != nil {
		logger.Warn("history store health check failed", "error", err)
		checks["history_store"] = map[string]any{"status": "unhealthy", "error": err.Error()}
		if health["status"] == "healthy" {
			health["status"] = "degraded"
		}
	} else {
		checks["history_store"] = map[string]any{"status": "healthy"}
	}

	checks["proxy"] = map[string]any{
		"status":        "healthy",
		"allowed_hosts": len(s.allowed),
	}

	logger.Debug("health check completed", "status", health["status"])
	return health
}
