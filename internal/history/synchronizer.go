// Package history keeps a normalized, recency-ordered list of past README
// generations in sync with the history store.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lei/readme-gateway/internal/credentials"
	"github.com/lei/readme-gateway/internal/generation"
	"github.com/lei/readme-gateway/internal/models"
	"github.com/lei/readme-gateway/pkg/logger"
)

// ErrRecordNotFound is returned by Delete when no record matches the id
var ErrRecordNotFound = errors.New("history record not found")

// FetchError is the visible error state after a failed fetch. The
// previously fetched records stay available.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return "fetch history: " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DeleteMode selects what Delete does upstream
type DeleteMode string

const (
	// DeleteLocal hides the record from the local list. The upstream record
	// persists and reappears if the store still returns it.
	DeleteLocal DeleteMode = "local"
	// DeleteRemote deletes the record upstream and then removes it locally
	DeleteRemote DeleteMode = "remote"
)

// ParseDeleteMode validates a configured delete mode
func ParseDeleteMode(s string) (DeleteMode, error) {
	switch m := DeleteMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", DeleteLocal:
		return DeleteLocal, nil
	case DeleteRemote:
		return DeleteRemote, nil
	default:
		return "", fmt.Errorf("invalid delete mode %q (want local or remote)", s)
	}
}

// Source is the history store as seen through the gateway
type Source interface {
	History(ctx context.Context, userID string) ([]byte, error)
	DeleteHistoryItem(ctx context.Context, id string) error
}

// Config controls polling cadence and delete behaviour
type Config struct {
	PollInterval time.Duration
	RefreshDelay time.Duration
	DeleteMode   DeleteMode
}

// Synchronizer owns the in-memory history list
type Synchronizer struct {
	source     Source
	creds      credentials.Provider
	normalizer *Normalizer
	cfg        Config
	logger     *logger.Logger

	fetchMu sync.Mutex

	mu          sync.RWMutex
	records     []models.HistoryRecord
	err         error
	lastFetched time.Time
	lastAttempt time.Time
	attempted   chan struct{} // closed and replaced after every fetch attempt
	active      bool

	wake    chan struct{}
	refresh chan struct{}
}

// New creates a synchronizer. A nil normalizer normalizes without CDN host
// rewriting.
func New(source Source, creds credentials.Provider, normalizer *Normalizer, cfg Config, log *logger.Logger) *Synchronizer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.RefreshDelay <= 0 {
		cfg.RefreshDelay = 2 * time.Second
	}
	if cfg.DeleteMode == "" {
		cfg.DeleteMode = DeleteLocal
	}
	if normalizer == nil {
		normalizer = NewNormalizer("", nil)
	}
	if log == nil {
		log = logger.Discard()
	}

	return &Synchronizer{
		source:     source,
		creds:      creds,
		normalizer: normalizer,
		cfg:        cfg,
		logger:     log,
		records:    []models.HistoryRecord{},
		attempted:  make(chan struct{}),
		wake:       make(chan struct{}, 1),
		refresh:    make(chan struct{}, 1),
	}
}

// Fetch loads the history of identity, replacing the local list on success
func (s *Synchronizer) Fetch(ctx context.Context, identity credentials.Identity) ([]models.HistoryRecord, error) {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	started := time.Now()
	records, err := s.fetch(ctx, identity)
	if err != nil {
		ferr := &FetchError{Err: err}
		s.mu.Lock()
		s.err = ferr
		s.attemptedLocked(started)
		s.mu.Unlock()

		s.logger.Warn("history: fetch failed", "error", err)
		return nil, ferr
	}

	s.mu.Lock()
	s.records = records
	s.err = nil
	s.lastFetched = time.Now()
	s.attemptedLocked(started)
	s.mu.Unlock()

	s.logger.Debug("history: fetched", "count", len(records))
	return copyRecords(records), nil
}

func (s *Synchronizer) fetch(ctx context.Context, identity credentials.Identity) ([]models.HistoryRecord, error) {
	userID := identity.Key()
	if userID == "" {
		return nil, credentials.ErrAuthentication
	}

	body, err := s.source.History(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.normalizer.Parse(body)
}

// Refresh fetches for the credential provider's identity
func (s *Synchronizer) Refresh(ctx context.Context) ([]models.HistoryRecord, error) {
	if s.creds == nil {
		return s.Fetch(ctx, credentials.Identity{})
	}
	started := time.Now()
	identity, err := s.creds.Identity(ctx)
	if err != nil {
		ferr := &FetchError{Err: err}
		s.mu.Lock()
		s.err = ferr
		s.attemptedLocked(started)
		s.mu.Unlock()
		return nil, ferr
	}
	return s.Fetch(ctx, identity)
}

func (s *Synchronizer) attemptedLocked(started time.Time) {
	if started.After(s.lastAttempt) {
		s.lastAttempt = started
	}
	close(s.attempted)
	s.attempted = make(chan struct{})
}

// WaitFetch blocks until a fetch that started after since has completed and
// returns that fetch's error
func (s *Synchronizer) WaitFetch(ctx context.Context, since time.Time) error {
	for {
		s.mu.RLock()
		if s.lastAttempt.After(since) {
			err := s.err
			s.mu.RUnlock()
			return err
		}
		ch := s.attempted
		s.mu.RUnlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Records returns a copy of the current list, newest first
func (s *Synchronizer) Records() []models.HistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRecords(s.records)
}

// Find returns the record identified by id (requestId or repoId)
func (s *Synchronizer) Find(id string) (models.HistoryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.Matches(id) {
			return r, true
		}
	}
	return models.HistoryRecord{}, false
}

// Err returns the error of the last fetch, or nil if it succeeded
func (s *Synchronizer) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// LastFetched returns when the list was last replaced
func (s *Synchronizer) LastFetched() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFetched
}

// Delete removes every record matching id by requestId or repoId. In
// DeleteRemote mode the upstream delete must succeed first.
func (s *Synchronizer) Delete(ctx context.Context, id string) error {
	if _, ok := s.Find(id); !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	if s.cfg.DeleteMode == DeleteRemote {
		if err := s.source.DeleteHistoryItem(ctx, id); err != nil {
			s.logger.Warn("history: remote delete failed", "id", id, "error", err)
			return fmt.Errorf("delete history record %s: %w", id, err)
		}
	}

	s.mu.Lock()
	kept := s.records[:0:0]
	for _, r := range s.records {
		if !r.Matches(id) {
			kept = append(kept, r)
		}
	}
	s.records = kept
	s.mu.Unlock()

	s.logger.Info("history: record deleted", "id", id, "mode", s.cfg.DeleteMode)
	return nil
}

// MarkStatus moves a processing record to a terminal status observed
// elsewhere, such as a finished generation job
func (s *Synchronizer) MarkStatus(id string, status models.RecordStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for i := range s.records {
		if s.records[i].Matches(id) && s.records[i].Status == models.RecordProcessing {
			s.records[i].Status = status
			changed = true
		}
	}
	return changed
}

// SetActive turns recurring polling on or off
func (s *Synchronizer) SetActive(active bool) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Active reports whether recurring polling is on
func (s *Synchronizer) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// ScheduleRefresh requests one fetch after RefreshDelay, giving the store
// time to catch up with a just-finished job. Requests made while one is
// pending restart the delay.
func (s *Synchronizer) ScheduleRefresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Follow drives the active flag and delayed refresh from a generation
// client's job events. The returned function stops following.
func (s *Synchronizer) Follow(c *generation.Client) func() {
	return c.Subscribe(s.HandleEvent)
}

// HandleEvent applies one generation job event
func (s *Synchronizer) HandleEvent(ev generation.Event) {
	switch ev.Type {
	case generation.EventStarted:
		s.SetActive(true)
	case generation.EventFinished:
		s.SetActive(false)
		// Failed jobs carry no result, so there is no record to update
		if ev.Succeeded() {
			if ev.Job.Result != nil && ev.Job.Result.RequestID != "" {
				s.MarkStatus(ev.Job.Result.RequestID, models.RecordCompleted)
			}
			s.ScheduleRefresh()
		}
	}
}

// Run performs one immediate fetch and then polls every PollInterval while
// the active flag is set. No ticker exists while inactive. Run returns when
// ctx is done.
func (s *Synchronizer) Run(ctx context.Context) error {
	s.logger.Info("history: synchronizer started",
		"poll_interval", s.cfg.PollInterval,
		"refresh_delay", s.cfg.RefreshDelay)

	s.Refresh(ctx)

	var (
		ticker  *time.Ticker
		tick    <-chan time.Time
		delayed *time.Timer
		fire    <-chan time.Time
	)
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer func() {
		stopTicker()
		if delayed != nil {
			delayed.Stop()
		}
	}()

	syncTicker := func() {
		switch active := s.Active(); {
		case active && ticker == nil:
			ticker = time.NewTicker(s.cfg.PollInterval)
			tick = ticker.C
			s.logger.Debug("history: polling enabled")
		case !active && ticker != nil:
			stopTicker()
			s.logger.Debug("history: polling disabled")
		}
	}
	syncTicker()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("history: synchronizer stopped")
			return nil
		case <-s.wake:
			syncTicker()
		case <-tick:
			s.Refresh(ctx)
		case <-s.refresh:
			if delayed != nil {
				delayed.Stop()
			}
			delayed = time.NewTimer(s.cfg.RefreshDelay)
			fire = delayed.C
		case <-fire:
			delayed, fire = nil, nil
			s.Refresh(ctx)
		}
	}
}

func copyRecords(records []models.HistoryRecord) []models.HistoryRecord {
	out := make([]models.HistoryRecord, len(records))
	copy(out, records)
	return out
}
