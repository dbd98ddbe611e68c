package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lei/readme-gateway/internal/config"
	"github.com/lei/readme-gateway/internal/history"
	"github.com/lei/readme-gateway/internal/service"
	"github.com/lei/readme-gateway/internal/store"
	"github.com/lei/readme-gateway/internal/upstream"
	"github.com/lei/readme-gateway/pkg/logger"
)

type testGateway struct {
	server      *httptest.Server
	blob        *httptest.Server
	store       *store.Store
	itemFetches atomic.Int32
	deletes     atomic.Int32
}

func newTestGateway(t *testing.T, keys []config.APIKey) *testGateway {
	t.Helper()
	gw := &testGateway{}

	gw.blob = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readmes/req-2.md" {
			w.Write([]byte("# Two"))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(gw.blob.Close)

	blobURL := gw.blob.URL
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/history":
			w.Write([]byte(`{"data":{"records":[{"requestId":"req-1","repoUrl":"https://github.com/acme/one"}]}}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/history/req-1":
			gw.deletes.Add(1)
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Path == "/history/req-1":
			gw.itemFetches.Add(1)
			w.Write([]byte(`{"data":{"requestId":"req-1","readmeContent":"# One"}}`))
		case r.URL.Path == "/history/req-2":
			w.Write([]byte(`{"requestId":"req-2","readmeUrl":"` + blobURL + `/readmes/req-2.md"}`))
		case r.URL.Path == "/history/req-3":
			w.Write([]byte(`{"requestId":"req-3","status":"processing"}`))
		case r.URL.Path == "/history/boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"no such record"}`))
		}
	}))
	t.Cleanup(up.Close)

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	gw.store = st

	blobHost := strings.TrimPrefix(gw.blob.URL, "http://")
	log := logger.Discard()
	svc := service.NewService(
		upstream.NewClient(up.URL, "", 0, log),
		st,
		history.NewNormalizer(blobHost, []string{"legacy.cdn.example"}),
		blobHost,
		service.Options{},
		log,
	)

	router := NewRouter(NewHandlers(svc), NewAuthMiddleware(keys), NewLoggingMiddleware(log), RouterOptions{})
	gw.server = httptest.NewServer(router)
	t.Cleanup(gw.server.Close)
	return gw
}

func (gw *testGateway) do(t *testing.T, method, path string, body io.Reader, headers ...string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, gw.server.URL+path, body)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errorMessage(t *testing.T, body []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	return envelope.Error.Message
}

func TestHealth(t *testing.T) {
	gw := newTestGateway(t, nil)

	resp, body := gw.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = gw.do(t, http.MethodGet, "/health/detail", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
}

func TestListHistory(t *testing.T) {
	gw := newTestGateway(t, nil)

	resp, body := gw.do(t, http.MethodGet, "/api/history", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "userId is required", errorMessage(t, body))

	resp, body = gw.do(t, http.MethodGet, "/api/history?userId=u1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"requestId":"req-1"`)
}

func TestGetHistoryItem(t *testing.T) {
	gw := newTestGateway(t, nil)

	tests := []struct {
		name       string
		id         string
		wantStatus int
	}{
		{"found", "req-1", http.StatusOK},
		{"not found", "missing", http.StatusNotFound},
		{"upstream failure", "boom", http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := gw.do(t, http.MethodGet, "/api/history/"+tt.id, nil)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestDeleteHistoryItemDropsCachedContent(t *testing.T) {
	gw := newTestGateway(t, nil)

	resp, _ := gw.do(t, http.MethodGet, "/api/readme-content/req-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = gw.do(t, http.MethodDelete, "/api/history/req-1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int32(1), gw.deletes.Load())

	n, err := gw.store.Count(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReadmeContent(t *testing.T) {
	gw := newTestGateway(t, nil)

	var got service.ContentResult

	// Inline content is cached on first read
	resp, body := gw.do(t, http.MethodGet, "/api/readme-content/req-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "# One", got.Content)
	assert.Equal(t, "inline", got.Source)
	assert.False(t, got.Cached)

	resp, body = gw.do(t, http.MethodGet, "/api/readme-content/req-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.True(t, got.Cached)
	assert.Equal(t, int32(1), gw.itemFetches.Load())

	// Content URL is fetched from the blob store
	resp, body = gw.do(t, http.MethodGet, "/api/readme-content/req-2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "# Two", got.Content)
	assert.Equal(t, "blob-store", got.Source)
	assert.Equal(t, gw.blob.URL+"/readmes/req-2.md", got.URL)

	// No content pointer
	resp, body = gw.do(t, http.MethodGet, "/api/readme-content/req-3", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "readme content not found", errorMessage(t, body))

	resp, _ = gw.do(t, http.MethodGet, "/api/readme-content/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPutReadmeContent(t *testing.T) {
	gw := newTestGateway(t, nil)

	resp, _ := gw.do(t, http.MethodPut, "/api/readme-content/req-9", strings.NewReader(`{"content":"# Nine"}`))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := gw.do(t, http.MethodGet, "/api/readme-content/req-9", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got service.ContentResult
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "# Nine", got.Content)
	assert.True(t, got.Cached)

	resp, _ = gw.do(t, http.MethodPut, "/api/readme-content/req-9", strings.NewReader(`{"content":"  "}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = gw.do(t, http.MethodPut, "/api/readme-content/req-9", strings.NewReader(`not json`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProxyS3(t *testing.T) {
	gw := newTestGateway(t, nil)
	blobHost := strings.TrimPrefix(gw.blob.URL, "http://")

	tests := []struct {
		name        string
		target      string
		wantStatus  int
		wantContent string
	}{
		{"allowed host", gw.blob.URL + "/readmes/req-2.md", http.StatusOK, "# Two"},
		{"legacy host rewritten", "http://legacy.cdn.example/readmes/req-2.md", http.StatusOK, "# Two"},
		{"host not allowed", "http://evil.example/readme.md", http.StatusForbidden, ""},
		{"unsupported scheme", "ftp://" + blobHost + "/readme.md", http.StatusBadRequest, ""},
		{"missing url", "", http.StatusBadRequest, ""},
		{"blob store 404", gw.blob.URL + "/readmes/none.md", http.StatusBadGateway, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := gw.do(t, http.MethodGet, "/api/proxy-s3?url="+url.QueryEscape(tt.target), nil)
			require.Equal(t, tt.wantStatus, resp.StatusCode, string(body))
			if tt.wantContent != "" {
				var got service.ProxyResult
				require.NoError(t, json.Unmarshal(body, &got))
				assert.Equal(t, tt.wantContent, got.Content)
			}
		})
	}
}

func TestAuthentication(t *testing.T) {
	gw := newTestGateway(t, []config.APIKey{{Name: "dashboard", Key: "secret-key"}})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret-key", http.StatusUnauthorized},
		{"invalid key", "Bearer nope", http.StatusUnauthorized},
		{"valid key", "Bearer secret-key", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.header != "" {
				headers = []string{"Authorization", tt.header}
			}
			resp, _ := gw.do(t, http.MethodGet, "/api/history?userId=u1", nil, headers...)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}

	// Health stays open
	resp, _ := gw.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestErrorResponseCarriesRequestID(t *testing.T) {
	gw := newTestGateway(t, nil)

	resp, body := gw.do(t, http.MethodGet, "/api/history/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var envelope struct {
		Error struct {
			Code      int    `json:"code"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Equal(t, http.StatusNotFound, envelope.Error.Code)
	assert.Equal(t, resp.Header.Get("X-Request-ID"), envelope.Error.RequestID)
}
