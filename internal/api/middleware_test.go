package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"

	"github.com/lei/readme-gateway/internal/config"
	"github.com/lei/readme-gateway/pkg/logger"
)

func TestLoggingMiddlewareStoresRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggingMiddleware(logger.NewWithWriter(&buf, "info", "text"))

	var gotRequestID string
	var gotLogger *logger.Logger
	handler := middleware.RequestID(lm.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = GetRequestID(r.Context())
		gotLogger = GetLogger(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))

	assert.NotEmpty(t, gotRequestID)
	assert.NotNil(t, gotLogger)
	assert.Contains(t, buf.String(), "request completed")
	assert.Contains(t, buf.String(), "status=418")
	assert.Contains(t, buf.String(), "path=/api/history")
}

func TestAuthMiddlewareWithoutKeysPassesThrough(t *testing.T) {
	called := false
	handler := NewAuthMiddleware(nil).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.True(t, called)
}

func TestAuthMiddlewareRecordsKeyName(t *testing.T) {
	var name string
	handler := NewAuthMiddleware([]config.APIKey{{Name: "ci", Key: "k-1"}}).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name = GetAPIKeyName(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.Header.Set("Authorization", "Bearer k-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "ci", name)
}
