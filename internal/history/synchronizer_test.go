package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lei/readme-gateway/internal/credentials"
	"github.com/lei/readme-gateway/internal/generation"
	"github.com/lei/readme-gateway/internal/models"
)

type fakeSource struct {
	mu        sync.Mutex
	body      string
	err       error
	deleteErr error
	fetches   int
	users     []string
	deleted   []string
}

func (f *fakeSource) History(ctx context.Context, userID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	f.users = append(f.users, userID)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.body), nil
}

func (f *fakeSource) DeleteHistoryItem(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeSource) set(body string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body, f.err = body, err
}

const twoRecords = `{"data":{"records":[
	{"requestId":"r1","repoId":"repo-a","repoUrl":"https://github.com/acme/widgets","status":"completed","createdAt":"2024-01-01T00:00:00Z"},
	{"requestId":"r2","repoId":"repo-b","repoUrl":"https://github.com/acme/gadgets","status":"processing","createdAt":"2024-02-01T00:00:00Z"}
]}}`

func newTestSync(src *fakeSource, cfg Config) *Synchronizer {
	creds := credentials.NewStatic("", credentials.Identity{UserID: "u-1", Email: "dev@example.com"})
	return New(src, creds, testNormalizer(), cfg, nil)
}

func TestFetch(t *testing.T) {
	src := &fakeSource{body: twoRecords}
	s := newTestSync(src, Config{})

	records, err := s.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r2", records[0].RequestID)
	assert.Equal(t, []string{"dev@example.com"}, src.users)
	assert.Nil(t, s.Err())
	assert.False(t, s.LastFetched().IsZero())
}

func TestFetch_ErrorKeepsRecords(t *testing.T) {
	src := &fakeSource{body: twoRecords}
	s := newTestSync(src, Config{})

	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	src.set("", errors.New("gateway returned 502"))
	_, err = s.Refresh(context.Background())

	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.ErrorAs(t, s.Err(), &ferr)
	assert.Len(t, s.Records(), 2)

	// A later successful fetch clears the error state
	src.set(twoRecords, nil)
	_, err = s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s.Err())
}

func TestFetch_RequiresIdentity(t *testing.T) {
	src := &fakeSource{body: twoRecords}
	s := New(src, credentials.NewStatic("", credentials.Identity{}), nil, Config{}, nil)

	_, err := s.Refresh(context.Background())
	assert.ErrorIs(t, err, credentials.ErrAuthentication)
	assert.Equal(t, 0, src.fetchCount())
}

func TestDelete_Local(t *testing.T) {
	src := &fakeSource{body: twoRecords}
	s := newTestSync(src, Config{})
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	// repoId is accepted as well as requestId
	require.NoError(t, s.Delete(context.Background(), "repo-a"))
	require.Len(t, s.Records(), 1)
	assert.Equal(t, "r2", s.Records()[0].RequestID)
	assert.Empty(t, src.deleted)

	require.NoError(t, s.Delete(context.Background(), "r2"))
	assert.Empty(t, s.Records())

	assert.ErrorIs(t, s.Delete(context.Background(), "r2"), ErrRecordNotFound)
}

func TestDelete_Remote(t *testing.T) {
	src := &fakeSource{body: twoRecords}
	s := newTestSync(src, Config{DeleteMode: DeleteRemote})
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), "r1"))
	assert.Equal(t, []string{"r1"}, src.deleted)
	assert.Len(t, s.Records(), 1)

	src.deleteErr = errors.New("gateway returned 500")
	assert.Error(t, s.Delete(context.Background(), "r2"))
	assert.Len(t, s.Records(), 1)
}

func TestParseDeleteMode(t *testing.T) {
	m, err := ParseDeleteMode("")
	require.NoError(t, err)
	assert.Equal(t, DeleteLocal, m)

	m, err = ParseDeleteMode("Remote")
	require.NoError(t, err)
	assert.Equal(t, DeleteRemote, m)

	_, err = ParseDeleteMode("soft")
	assert.Error(t, err)
}

func startRun(t *testing.T, s *Synchronizer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRun_InactiveDoesNotPoll(t *testing.T) {
	src := &fakeSource{body: twoRecords}
	s := newTestSync(src, Config{PollInterval: 10 * time.Millisecond, RefreshDelay: time.Hour})
	startRun(t, s)

	require.Eventually(t, func() bool { return src.fetchCount() == 1 }, time.Second, time.Millisecond)

	// Thirty poll intervals with the flag off
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, src.fetchCount())
}

func TestRun_PollsOnlyWhileActive(t *testing.T) {
	src := &fakeSource{body: twoRecords}
	s := newTestSync(src, Config{PollInterval: 10 * time.Millisecond, RefreshDelay: time.Hour})
	startRun(t, s)
	require.Eventually(t, func() bool { return src.fetchCount() == 1 }, time.Second, time.Millisecond)

	s.SetActive(true)
	require.Eventually(t, func() bool { return src.fetchCount() >= 4 }, time.Second, time.Millisecond)

	s.SetActive(false)
	// Let any tick already in flight land
	time.Sleep(50 * time.Millisecond)
	settled := src.fetchCount()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, settled, src.fetchCount())
}

func TestRun_ScheduledRefreshIsDelayed(t *testing.T) {
	src := &fakeSource{body: twoRecords}
	s := newTestSync(src, Config{PollInterval: time.Hour, RefreshDelay: 100 * time.Millisecond})
	startRun(t, s)
	require.Eventually(t, func() bool { return src.fetchCount() == 1 }, time.Second, time.Millisecond)

	s.ScheduleRefresh()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, src.fetchCount())

	require.Eventually(t, func() bool { return src.fetchCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHandleEvent(t *testing.T) {
	src := &fakeSource{body: twoRecords}
	s := newTestSync(src, Config{})
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	s.HandleEvent(generation.Event{Type: generation.EventStarted})
	assert.True(t, s.Active())

	s.HandleEvent(generation.Event{
		Type: generation.EventFinished,
		Job: models.GenerationJob{
			Phase:  models.PhaseSucceeded,
			Result: &models.GenerationResult{RequestID: "r2"},
		},
	})
	assert.False(t, s.Active())

	rec, ok := s.Find("r2")
	require.True(t, ok)
	assert.Equal(t, models.RecordCompleted, rec.Status)

	select {
	case <-s.refresh:
	default:
		t.Fatal("expected a scheduled refresh after a successful job")
	}
}

func TestHandleEvent_FailedJobSchedulesNoRefresh(t *testing.T) {
	s := newTestSync(&fakeSource{body: twoRecords}, Config{})
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	s.HandleEvent(generation.Event{Type: generation.EventStarted})
	s.HandleEvent(generation.Event{
		Type: generation.EventFinished,
		Job:  models.GenerationJob{Phase: models.PhaseFailed},
		Err:  errors.New("boom"),
	})

	assert.False(t, s.Active())
	select {
	case <-s.refresh:
		t.Fatal("unexpected refresh after a failed job")
	default:
	}

	rec, ok := s.Find("r2")
	require.True(t, ok)
	assert.Equal(t, models.RecordProcessing, rec.Status)
}

func TestWaitFetch(t *testing.T) {
	src := &fakeSource{body: twoRecords}
	s := newTestSync(src, Config{PollInterval: time.Hour, RefreshDelay: 20 * time.Millisecond})
	startRun(t, s)
	require.Eventually(t, func() bool { return src.fetchCount() == 1 }, time.Second, time.Millisecond)

	since := time.Now()
	s.ScheduleRefresh()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.WaitFetch(ctx, since))
	assert.Equal(t, 2, src.fetchCount())
	assert.True(t, s.LastFetched().After(since))
}

func TestWaitFetch_ReturnsFetchError(t *testing.T) {
	src := &fakeSource{err: errors.New("store down")}
	s := newTestSync(src, Config{})

	since := time.Now()
	go s.Refresh(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.WaitFetch(ctx, since)
	var ferr *FetchError
	assert.ErrorAs(t, err, &ferr)
}

func TestWaitFetch_ContextDone(t *testing.T) {
	s := newTestSync(&fakeSource{body: twoRecords}, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.WaitFetch(ctx, time.Now()), context.DeadlineExceeded)
}
