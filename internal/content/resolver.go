// Package content resolves the README text of a history record by trying
// each storage tier in turn and degrading to a synthesized document.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/mo"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/lei/readme-gateway/internal/history"
	"github.com/lei/readme-gateway/internal/models"
	"github.com/lei/readme-gateway/internal/retry"
	"github.com/lei/readme-gateway/pkg/logger"
)

// ErrUnavailable is returned inside a resolution when no tier produced text
var ErrUnavailable = errors.New("readme content unavailable")

// maxContent caps a README fetched straight from the blob store
const maxContent = 8 << 20

// API is the same-origin surface the proxy and per-item tiers use
type API interface {
	ProxyFetch(ctx context.Context, target string) (string, error)
	ReadmeContent(ctx context.Context, id string) (string, error)
	HistoryItem(ctx context.Context, id string) (map[string]any, error)
}

// Config controls fetch timeouts and the retry wrapper
type Config struct {
	FetchTimeout      time.Duration
	RetryAttempts     int
	RetryInitialDelay time.Duration
}

// Resolver runs the inline, blob-store, proxy and per-item tiers in order
type Resolver struct {
	api        API
	httpClient *http.Client
	normalizer *history.Normalizer
	cfg        Config
	logger     *logger.Logger

	group singleflight.Group
}

// NewResolver creates a resolver. api may be nil, which disables the proxy
// and per-item tiers.
func NewResolver(api API, normalizer *history.Normalizer, cfg Config, log *logger.Logger) *Resolver {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryInitialDelay <= 0 {
		cfg.RetryInitialDelay = time.Second
	}
	if normalizer == nil {
		normalizer = history.NewNormalizer("", nil)
	}
	if log == nil {
		log = logger.Discard()
	}

	return &Resolver{
		api:        api,
		httpClient: &http.Client{},
		normalizer: normalizer,
		cfg:        cfg,
		logger:     log,
	}
}

// Strategies returns the network-capable tiers in resolution order
func (r *Resolver) Strategies() []Strategy {
	return []Strategy{
		{Source: models.SourceInline, Fetch: r.inline},
		{Source: models.SourceBlobStore, Fetch: r.blobStore},
		{Source: models.SourceProxy, Fetch: r.proxy},
		{Source: models.SourcePerItemAPI, Fetch: r.perItem},
	}
}

// Resolve returns the README text for rec. It never fails: when every tier
// comes up empty the result is the fallback document with Succeeded false.
func (r *Resolver) Resolve(ctx context.Context, rec models.HistoryRecord) models.ContentResolution {
	if res, ok := inlineResolution(rec); ok {
		return res
	}
	return r.shared(ctx, "once", rec, r.chainBudget(), r.resolveOnce)
}

// ResolveWithRetry retries the whole chain with exponential backoff before
// settling on the fallback document
func (r *Resolver) ResolveWithRetry(ctx context.Context, rec models.HistoryRecord) models.ContentResolution {
	if res, ok := inlineResolution(rec); ok {
		return res
	}
	attempts := time.Duration(r.cfg.RetryAttempts)
	budget := attempts*r.chainBudget() + r.cfg.RetryInitialDelay<<r.cfg.RetryAttempts
	return r.shared(ctx, "retry", rec, budget, r.resolveWithRetry)
}

// chainBudget bounds one pass over every tier
func (r *Resolver) chainBudget() time.Duration {
	return time.Duration(len(r.Strategies())) * r.cfg.FetchTimeout
}

func inlineResolution(rec models.HistoryRecord) (models.ContentResolution, bool) {
	if strings.TrimSpace(rec.InlineContent) == "" {
		return models.ContentResolution{}, false
	}
	return models.ContentResolution{Text: rec.InlineContent, Source: models.SourceInline, Succeeded: true}, true
}

// shared collapses concurrent resolutions of the same record. The shared
// chain runs detached from any one caller and is bounded by budget; each
// caller waits only as long as its own ctx allows.
func (r *Resolver) shared(ctx context.Context, kind string, rec models.HistoryRecord, budget time.Duration, fn func(context.Context, models.HistoryRecord) models.ContentResolution) models.ContentResolution {
	id := rec.ID()
	if id == "" {
		return fn(ctx, rec)
	}

	key := strings.Join([]string{kind, id, rec.ContentURL, string(rec.Status)}, "\x00")
	ch := r.group.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), budget)
		defer cancel()
		return fn(runCtx, rec), nil
	})

	select {
	case <-ctx.Done():
		return r.fallback(rec, ctx.Err())
	case res := <-ch:
		return res.Val.(models.ContentResolution)
	}
}

func (r *Resolver) resolveOnce(ctx context.Context, rec models.HistoryRecord) models.ContentResolution {
	text, source, ok, errs := FirstSuccess(ctx, rec, r.Strategies())
	if ok {
		r.logger.Debug("content: resolved", "id", rec.ID(), "source", source)
		return models.ContentResolution{Text: text, Source: source, Succeeded: true, Errors: errs}
	}
	return r.fallback(rec, errs)
}

func (r *Resolver) resolveWithRetry(ctx context.Context, rec models.HistoryRecord) models.ContentResolution {
	policy := retry.Exponential(r.cfg.RetryAttempts, r.cfg.RetryInitialDelay)

	res, err := retry.Do(ctx, policy, func(ctx context.Context) (models.ContentResolution, error) {
		text, source, ok, errs := FirstSuccess(ctx, rec, r.Strategies())
		if !ok {
			if errs == nil {
				errs = ErrUnavailable
			}
			return models.ContentResolution{}, errs
		}
		return models.ContentResolution{Text: text, Source: source, Succeeded: true, Errors: errs}, nil
	}, func(attempt int, err error, wait time.Duration) {
		r.logger.Debug("content: chain failed, retrying",
			"id", rec.ID(),
			"attempt", attempt,
			"wait", wait,
			"error", err)
	})
	if err != nil {
		return r.fallback(rec, err)
	}

	r.logger.Debug("content: resolved", "id", rec.ID(), "source", res.Source)
	return res
}

func (r *Resolver) fallback(rec models.HistoryRecord, errs error) models.ContentResolution {
	if errs == nil {
		errs = ErrUnavailable
	}
	r.logger.Warn("content: falling back to placeholder", "id", rec.ID(), "error", errs)
	return models.ContentResolution{
		Text:      Fallback(rec),
		Source:    models.SourceFallback,
		Succeeded: false,
		Errors:    errs,
	}
}

func (r *Resolver) inline(ctx context.Context, rec models.HistoryRecord) (mo.Option[string], error) {
	return nonBlank(rec.InlineContent), nil
}

func (r *Resolver) blobStore(ctx context.Context, rec models.HistoryRecord) (mo.Option[string], error) {
	if rec.ContentURL == "" || rec.Status != models.RecordCompleted {
		return mo.None[string](), nil
	}
	text, err := FetchURL(ctx, r.httpClient, rec.ContentURL, r.cfg.FetchTimeout, maxContent)
	if err != nil {
		return mo.None[string](), err
	}
	return nonBlank(text), nil
}

func (r *Resolver) proxy(ctx context.Context, rec models.HistoryRecord) (mo.Option[string], error) {
	if r.api == nil || rec.ContentURL == "" {
		return mo.None[string](), nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	text, err := r.api.ProxyFetch(ctx, rec.ContentURL)
	if err != nil {
		return mo.None[string](), err
	}
	return nonBlank(text), nil
}

func (r *Resolver) perItem(ctx context.Context, rec models.HistoryRecord) (mo.Option[string], error) {
	id := rec.ID()
	if r.api == nil || id == "" {
		return mo.None[string](), nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	text, contentErr := r.api.ReadmeContent(ctx, id)
	if contentErr == nil && strings.TrimSpace(text) != "" {
		return mo.Some(text), nil
	}

	item, itemErr := r.api.HistoryItem(ctx, id)
	if itemErr != nil {
		return mo.None[string](), multierr.Combine(contentErr, itemErr)
	}
	return nonBlank(r.normalizer.Normalize(item).InlineContent), nil
}

// FetchURL GETs target as markdown with a bounded timeout and body size
func FetchURL(ctx context.Context, client *http.Client, target string, timeout time.Duration, limit int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/markdown,text/plain,*/*")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("fetch %s: body exceeds %d bytes", target, limit)
	}
	return string(data), nil
}

func nonBlank(s string) mo.Option[string] {
	if strings.TrimSpace(s) == "" {
		return mo.None[string]()
	}
	return mo.Some(s)
}
