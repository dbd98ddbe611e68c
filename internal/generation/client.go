// Package generation submits README generation jobs to the job service and
// drives them to a terminal state.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lei/readme-gateway/internal/credentials"
	"github.com/lei/readme-gateway/internal/models"
	"github.com/lei/readme-gateway/internal/provider"
	"github.com/lei/readme-gateway/internal/repourl"
	"github.com/lei/readme-gateway/internal/retry"
	"github.com/lei/readme-gateway/pkg/logger"
)

// Progress messages shown to the user
const (
	msgSubmitting = "Submitting generation request..."
	msgStarted    = "Generation started, waiting for analysis..."
	msgAnalyzing  = "Analyzing repository... (%d/%d)"
	msgSucceeded  = "README generated successfully"
	msgFailed     = "Generation failed: %s"
	msgAuth       = "Authentication failed. Please sign in again."
	msgTimedOut   = "Generation timed out after %d status checks. The job may still finish; check history later."
	msgCanceled   = "Generation canceled"
)

// Config controls polling cadence and retry behaviour
type Config struct {
	PollInterval time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
	MaxRetries   int

	// Features are passed through verbatim in every generate request
	Features map[string]any
}

// DefaultConfig returns the standard five minute polling budget
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		MaxAttempts:  60,
		RetryDelay:   10 * time.Second,
		MaxRetries:   3,
	}
}

// Client owns at most one generation job at a time
type Client struct {
	provider    provider.Provider
	credentials credentials.Provider
	cfg         Config
	logger      *logger.Logger
	now         func() time.Time

	mu  sync.Mutex
	job models.GenerationJob

	subsMu  sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// New creates a generation client. Zero values in cfg fall back to
// DefaultConfig.
func New(p provider.Provider, creds credentials.Provider, cfg Config, log *logger.Logger) *Client {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if log == nil {
		log = logger.Discard()
	}

	return &Client{
		provider:    p,
		credentials: creds,
		cfg:         cfg,
		logger:      log,
		now:         time.Now,
		job:         models.GenerationJob{Phase: models.PhaseIdle, MaxAttempts: cfg.MaxAttempts},
		subs:        make(map[int]func(Event)),
	}
}

// Snapshot returns a copy of the current job
func (c *Client) Snapshot() models.GenerationJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job
}

// Generate submits repositoryURL on behalf of the credential provider's
// identity and waits for the job to finish
func (c *Client) Generate(ctx context.Context, repositoryURL string) (models.GenerationJob, error) {
	if c.credentials == nil {
		return c.Snapshot(), fmt.Errorf("%w: no credential provider", ErrAuth)
	}
	identity, err := c.credentials.Identity(ctx)
	if err != nil {
		return c.Snapshot(), fmt.Errorf("%w: %v", ErrAuth, err)
	}

	job, err := c.Submit(ctx, repositoryURL, identity)
	if err != nil || job.Terminal() {
		return job, err
	}
	return c.Run(ctx, job.Handle)
}

// Submit sends one generate request. A synchronous completion yields a
// succeeded job; otherwise the returned job is running and Run should be
// called with its handle.
func (c *Client) Submit(ctx context.Context, repositoryURL string, identity credentials.Identity) (models.GenerationJob, error) {
	repo, err := repourl.Parse(repositoryURL)
	if err != nil {
		return c.Snapshot(), &SubmissionError{Err: err}
	}

	c.mu.Lock()
	if c.inFlightLocked() {
		job := c.job
		c.mu.Unlock()
		return job, ErrJobInFlight
	}
	c.job = models.GenerationJob{
		RepositoryURL:   repo.CanonicalURL(),
		Phase:           models.PhaseSubmitting,
		MaxAttempts:     c.cfg.MaxAttempts,
		ProgressMessage: msgSubmitting,
		SubmittedAt:     c.now(),
	}
	started := c.job
	c.mu.Unlock()
	c.emit(Event{Type: EventStarted, Job: started})

	log := c.logger.With("repository", repo.FullName())
	log.Info("generation: submitting")

	sub, err := c.provider.Submit(ctx, provider.SubmitParams{
		RepositoryURL: repo.CanonicalURL(),
		UserEmail:     identity.Key(),
		Features:      c.cfg.Features,
	})
	if err != nil {
		serr := submissionError(err)
		log.Error("generation: submission failed",
			"status_code", serr.StatusCode,
			"error", err)
		return c.finish(models.PhaseFailed, nil, serr.Error(), fmt.Sprintf(msgFailed, serr.Error()), serr)
	}

	if sub.Completed || sub.Handle == "" {
		handle := "sync-" + uuid.NewString()
		c.mu.Lock()
		c.job.Handle = handle
		c.mu.Unlock()
		log.Info("generation: completed synchronously", "handle", handle)
		return c.finish(models.PhaseSucceeded, sub.Result, "", msgSucceeded, nil)
	}

	c.mu.Lock()
	c.job.Handle = sub.Handle
	c.job.Phase = models.PhaseRunning
	c.job.ProgressMessage = msgStarted
	job := c.job
	c.mu.Unlock()
	c.emit(Event{Type: EventProgress, Job: job})

	log.Info("generation: submitted", "handle", sub.Handle)
	return job, nil
}

// Poll performs a single status lookup without touching the job state
func (c *Client) Poll(ctx context.Context, handle string) (*models.ExecutionStatus, error) {
	return c.provider.Status(ctx, handle)
}

// Run polls handle until it reaches a terminal state, the attempt budget is
// spent, or ctx is done. Polls are strictly sequential. The returned error is
// nil only for a succeeded job.
func (c *Client) Run(ctx context.Context, handle string) (models.GenerationJob, error) {
	if err := c.adopt(handle); err != nil {
		return c.Snapshot(), err
	}

	log := c.logger.With("handle", handle)
	maxAttempts := c.cfg.MaxAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, c.cfg.PollInterval); err != nil {
				return c.canceled(err)
			}
		}

		c.mu.Lock()
		c.job.Phase = models.PhaseRunning
		c.job.Attempt = attempt
		c.job.ProgressMessage = fmt.Sprintf(msgAnalyzing, attempt, maxAttempts)
		job := c.job
		c.mu.Unlock()
		c.emit(Event{Type: EventProgress, Job: job})

		status, err := c.pollWithRetry(ctx, handle, log)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return c.canceled(ctx.Err())
			case errors.Is(err, ErrAuth):
				log.Warn("generation: authentication failed, stopping", "attempt", attempt, "error", err)
				return c.finish(models.PhaseFailed, nil, err.Error(), msgAuth, err)
			default:
				log.Error("generation: polling failed", "attempt", attempt, "error", err)
				return c.finish(models.PhaseFailed, nil, err.Error(), fmt.Sprintf(msgFailed, err.Error()), err)
			}
		}

		switch status.Phase {
		case models.PhaseSucceeded:
			log.Info("generation: succeeded", "attempt", attempt)
			return c.finish(models.PhaseSucceeded, status.Result, "", msgSucceeded, nil)
		case models.PhaseFailed:
			ferr := &RemoteExecutionFailed{Reason: status.Reason}
			log.Warn("generation: execution failed", "attempt", attempt, "reason", status.Reason)
			return c.finish(models.PhaseFailed, nil, status.Reason, fmt.Sprintf(msgFailed, status.Reason), ferr)
		}

		log.Debug("generation: still running", "attempt", attempt, "max_attempts", maxAttempts)
	}

	log.Warn("generation: timed out", "attempts", maxAttempts)
	return c.finish(models.PhaseTimedOut, nil, ErrTimedOut.Error(), fmt.Sprintf(msgTimedOut, maxAttempts), ErrTimedOut)
}

// pollWithRetry runs one poll, retrying transient failures. Retries do not
// count against the attempt budget.
func (c *Client) pollWithRetry(ctx context.Context, handle string, log *logger.Logger) (*models.ExecutionStatus, error) {
	policy := retry.Constant(c.cfg.MaxRetries+1, c.cfg.RetryDelay)
	tries := 0

	status, err := retry.Do(ctx, policy, func(ctx context.Context) (*models.ExecutionStatus, error) {
		tries++
		status, err := c.Poll(ctx, handle)
		if err != nil && isAuthError(err) {
			return nil, retry.Permanent(fmt.Errorf("%w: %v", ErrAuth, err))
		}
		return status, err
	}, func(try int, err error, wait time.Duration) {
		log.Warn("generation: poll failed, retrying",
			"try", try,
			"max_retries", c.cfg.MaxRetries,
			"wait", wait,
			"error", err)
	})
	if err != nil {
		if errors.Is(err, ErrAuth) || ctx.Err() != nil {
			return nil, err
		}
		return nil, &TransientPollError{Tries: tries, Err: err}
	}
	return status, nil
}

// adopt makes handle the client's current job. Running the job Submit just
// started is a no-op; any other handle replaces a terminal or idle job.
func (c *Client) adopt(handle string) error {
	if strings.TrimSpace(handle) == "" {
		return fmt.Errorf("empty job handle")
	}

	c.mu.Lock()
	if c.job.Handle == handle && c.job.Phase == models.PhaseRunning {
		c.mu.Unlock()
		return nil
	}
	if c.inFlightLocked() {
		c.mu.Unlock()
		return ErrJobInFlight
	}
	c.job = models.GenerationJob{
		Handle:          handle,
		Phase:           models.PhaseRunning,
		MaxAttempts:     c.cfg.MaxAttempts,
		ProgressMessage: msgStarted,
		SubmittedAt:     c.now(),
	}
	job := c.job
	c.mu.Unlock()

	c.emit(Event{Type: EventStarted, Job: job})
	return nil
}

func (c *Client) inFlightLocked() bool {
	return c.job.Phase == models.PhaseSubmitting || c.job.Phase == models.PhaseRunning
}

func (c *Client) canceled(cause error) (models.GenerationJob, error) {
	c.logger.Info("generation: canceled", "handle", c.Snapshot().Handle)
	return c.finish(models.PhaseFailed, nil, "canceled", msgCanceled, fmt.Errorf("generation canceled: %w", cause))
}

// finish moves the job to a terminal phase and emits the single finished
// event for it
func (c *Client) finish(phase models.JobPhase, result *models.GenerationResult, reason, message string, err error) (models.GenerationJob, error) {
	c.mu.Lock()
	if c.job.Terminal() {
		job := c.job
		c.mu.Unlock()
		return job, err
	}
	now := c.now()
	c.job.Phase = phase
	c.job.Result = result
	c.job.FailureReason = reason
	c.job.ProgressMessage = message
	c.job.FinishedAt = &now
	job := c.job
	c.mu.Unlock()

	c.emit(Event{Type: EventFinished, Job: job, Err: err})
	return job, err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
