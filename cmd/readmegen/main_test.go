package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lei/readme-gateway/internal/generation"
	"github.com/lei/readme-gateway/internal/models"
)

type cliTestEnv struct {
	configPath string
	lockPath   string
	dir        string
	deletes    atomic.Int32
	polls      atomic.Int32
	listings   atomic.Int32
	jobOutput  atomic.Pointer[string]
	jobFails   atomic.Bool
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	env := &cliTestEnv{dir: t.TempDir()}
	env.lockPath = filepath.Join(env.dir, "generate.lock")

	blob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readmes/req-3.md" {
			w.Write([]byte("# Tools"))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(blob.Close)

	created := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339)
	items := map[string]map[string]any{
		"req-1": {"requestId": "req-1", "repoUrl": "https://github.com/acme/widgets", "status": "completed",
			"createdAt": created, "primaryLanguage": "Go", "confidenceScore": "87", "readmeContent": "# Widgets"},
		"req-2": {"requestId": "req-2", "repoUrl": "https://github.com/acme/gadgets", "status": "failed",
			"createdAt": created},
		"req-3": {"requestId": "req-3", "repoUrl": "https://github.com/acme/tools", "status": "completed",
			"createdAt": created, "readmeUrl": blob.URL + "/readmes/req-3.md"},
	}
	var mu sync.Mutex

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		switch {
		case r.URL.Path == "/api/history":
			env.listings.Add(1)
			records := make([]map[string]any, 0, len(items))
			for _, item := range items {
				records = append(records, item)
			}
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"records": records}})
		case strings.HasPrefix(r.URL.Path, "/api/history/"):
			id := strings.TrimPrefix(r.URL.Path, "/api/history/")
			item, ok := items[id]
			if !ok {
				http.NotFound(w, r)
				return
			}
			if r.Method == http.MethodDelete {
				env.deletes.Add(1)
				delete(items, id)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			json.NewEncoder(w).Encode(item)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(gateway.Close)

	jobs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/generate":
			w.Write([]byte(`{"executionArn":"arn:1"}`))
		case "/status/arn:1":
			if env.polls.Add(1) == 1 {
				w.Write([]byte(`{"status":"RUNNING"}`))
				return
			}
			if env.jobFails.Load() {
				w.Write([]byte(`{"status":"FAILED","error":"States.TaskFailed","cause":"clone failed"}`))
				return
			}
			output := `{"readmeContent":"# Widgets","requestId":"req-1"}`
			if o := env.jobOutput.Load(); o != nil {
				output = *o
			}
			json.NewEncoder(w).Encode(map[string]any{"status": "SUCCEEDED", "output": output})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(jobs.Close)

	env.configPath = filepath.Join(env.dir, "readmegen.yaml")
	config := fmt.Sprintf(`identity:
  bearer_token: tok
  email: dev@example.com
job_service:
  url: %s
  poll_interval: 1ms
  retry_delay: 1ms
dashboard:
  url: %s
history:
  refresh_delay: 1ms
content:
  retry_attempts: 1
  retry_initial_delay: 1ms
`, jobs.URL, gateway.URL)
	require.NoError(t, os.WriteFile(env.configPath, []byte(config), 0o644))
	return env
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestHistoryTable(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "acme/widgets")
	assert.Contains(t, out, "acme/gadgets")
	assert.Contains(t, out, "87%")
	assert.Contains(t, out, "2 hours ago")
}

func TestHistoryJSONWithFilters(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "history", "--json", "--status", "completed", "--search", "WIDG")
	require.NoError(t, err)

	var records []models.HistoryRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "req-1", records[0].RequestID)
	assert.Equal(t, "acme", records[0].RepoOwner)

	_, _, err = env.run(t, "history", "--status", "bogus")
	assert.ErrorContains(t, err, "invalid status")
}

func TestShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, stderr, err := env.run(t, "show", "req-1")
	require.NoError(t, err)
	assert.Equal(t, "# Widgets\n", out)
	assert.Empty(t, stderr)

	out, stderr, err = env.run(t, "show", "req-2")
	require.NoError(t, err)
	assert.Contains(t, stderr, "warning")
	assert.Contains(t, out, "# acme/gadgets")

	_, _, err = env.run(t, "show", "req-404")
	assert.ErrorContains(t, err, "not found")
}

func TestDownload(t *testing.T) {
	env := setupCLITestEnv(t)
	outDir := filepath.Join(env.dir, "readmes")

	out, _, err := env.run(t, "download", "--dir", outDir, "req-1", "req-3")
	require.NoError(t, err)
	assert.Contains(t, out, "req-1: wrote")
	assert.Contains(t, out, "(blob-store)")

	data, err := os.ReadFile(filepath.Join(outDir, "README-acme-widgets-req-1.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Widgets", string(data))

	data, err = os.ReadFile(filepath.Join(outDir, "README-acme-tools-req-3.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Tools", string(data))
}

func TestDelete(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "delete", "req-2")
	require.NoError(t, err)
	assert.Contains(t, out, "local list")
	assert.Equal(t, int32(0), env.deletes.Load())

	out, _, err = env.run(t, "delete", "--remote", "req-2")
	require.NoError(t, err)
	assert.Equal(t, "Deleted req-2\n", out)
	assert.Equal(t, int32(1), env.deletes.Load())

	_, _, err = env.run(t, "delete", "req-2")
	assert.ErrorContains(t, err, "not found")
}

func TestGenerate(t *testing.T) {
	env := setupCLITestEnv(t)
	output := filepath.Join(env.dir, "README.md")

	_, stderr, err := env.run(t, "generate", "--lock-file", env.lockPath, "--output", output, "https://github.com/acme/widgets")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Analyzing repository... (1/60)")
	assert.Contains(t, stderr, "README generated successfully")
	assert.Contains(t, stderr, "Handle: arn:1")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "# Widgets", string(data))
}

func TestGenerateResolvesFromRefreshedHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	output := `{"requestId":"req-3"}`
	env.jobOutput.Store(&output)
	readme := filepath.Join(env.dir, "README.md")

	_, _, err := env.run(t, "generate", "--lock-file", env.lockPath, "--output", readme, "https://github.com/acme/tools")
	require.NoError(t, err)

	data, err := os.ReadFile(readme)
	require.NoError(t, err)
	assert.Equal(t, "# Tools", string(data))
	// Startup fetch plus the refresh driven by the finished job
	assert.GreaterOrEqual(t, env.listings.Load(), int32(2))
}

func TestGenerateFailureReportedOnce(t *testing.T) {
	env := setupCLITestEnv(t)
	env.jobFails.Store(true)

	_, stderr, err := env.run(t, "generate", "--lock-file", env.lockPath, "https://github.com/acme/widgets")
	require.Error(t, err)
	assert.Equal(t, 1, strings.Count(stderr, "Generation failed: States.TaskFailed: clone failed"))

	var printed bytes.Buffer
	printError(&printed, err)
	assert.Empty(t, printed.String())

	printError(&printed, errors.New("config missing"))
	assert.Equal(t, "config missing\n", printed.String())
}

func TestGenerateRejectsConcurrentRun(t *testing.T) {
	env := setupCLITestEnv(t)

	held := flock.New(env.lockPath)
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	_, _, err = env.run(t, "generate", "--lock-file", env.lockPath, "https://github.com/acme/widgets")
	assert.ErrorContains(t, err, "already running")
	assert.Zero(t, env.polls.Load())
}

func TestGenerateRejectsNonGitHubURL(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := env.run(t, "generate", "--lock-file", env.lockPath, "https://gitlab.com/acme/widgets")
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "status", "arn:1")
	require.NoError(t, err)
	assert.Contains(t, out, "Phase:  running")

	out, _, err = env.run(t, "status", "--follow", "arn:1")
	require.NoError(t, err)
	assert.Contains(t, out, "Phase:  succeeded")
	assert.Contains(t, out, "Request: req-1")
}

func TestProgressRendererDeduplicates(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressRenderer(&buf)
	assert.False(t, p.tty)

	for _, msg := range []string{"a", "a", "b"} {
		p.handle(generationEvent(msg))
	}
	assert.Equal(t, "a\nb\n", buf.String())
}

func TestDownloadFileName(t *testing.T) {
	assert.Equal(t, "README-acme-widgets-req-1.md",
		downloadFileName(models.HistoryRecord{RequestID: "req-1", RepoOwner: "acme", RepoName: "widgets"}))
	assert.Equal(t, "README-arn_aws_1.md",
		downloadFileName(models.HistoryRecord{RequestID: "arn:aws/1"}))
}

func generationEvent(msg string) generation.Event {
	return generation.Event{Type: generation.EventProgress, Job: models.GenerationJob{ProgressMessage: msg}}
}
