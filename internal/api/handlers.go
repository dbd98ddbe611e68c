package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/lei/readme-gateway/internal/service"
	"github.com/lei/readme-gateway/internal/upstream"
)

// maxContentBody caps PUT /api/readme-content bodies
const maxContentBody = 5 << 20

// Handlers contains HTTP handler functions
type Handlers struct {
	service *service.Service
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc *service.Service) *Handlers {
	return &Handlers{service: svc}
}

// Health handles health check requests
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HealthDetail handles GET /health/detail
func (h *Handlers) HealthDetail(w http.ResponseWriter, r *http.Request) {
	health := h.service.HealthCheck(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if health["status"] == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

// ListHistory handles GET /api/history?userId=
func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	logger := GetLogger(r.Context())
	userID := r.URL.Query().Get("userId")

	if logger != nil {
		logger.Debug("listing history", "user_id", userID)
	}

	body, err := h.service.ListHistory(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeRawJSON(w, body)
}

// GetHistoryItem handles GET /api/history/{id}
func (h *Handlers) GetHistoryItem(w http.ResponseWriter, r *http.Request) {
	logger := GetLogger(r.Context())
	id := chi.URLParam(r, "id")

	if logger != nil {
		logger.Debug("fetching history item", "id", id)
	}

	body, err := h.service.GetHistoryItem(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeRawJSON(w, body)
}

// DeleteHistoryItem handles DELETE /api/history/{id}
func (h *Handlers) DeleteHistoryItem(w http.ResponseWriter, r *http.Request) {
	logger := GetLogger(r.Context())
	id := chi.URLParam(r, "id")

	if logger != nil {
		logger.Info("deleting history item", "id", id, "api_key_name", GetAPIKeyName(r.Context()))
	}

	if err := h.service.DeleteHistoryItem(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetReadmeContent handles GET /api/readme-content/{id}
func (h *Handlers) GetReadmeContent(w http.ResponseWriter, r *http.Request) {
	logger := GetLogger(r.Context())
	id := chi.URLParam(r, "id")

	result, err := h.service.ReadmeContent(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if logger != nil {
		logger.Debug("readme content served",
			"id", id,
			"source", result.Source,
			"cached", result.Cached)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// PutReadmeContent handles PUT /api/readme-content/{id}
func (h *Handlers) PutReadmeContent(w http.ResponseWriter, r *http.Request) {
	logger := GetLogger(r.Context())
	id := chi.URLParam(r, "id")

	var req struct {
		Content string `json:"content"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxContentBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if logger != nil {
			logger.Warn("invalid request body", "error", err)
		}
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.PutReadmeContent(r.Context(), id, req.Content); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ProxyS3 handles GET /api/proxy-s3?url=
func (h *Handlers) ProxyS3(w http.ResponseWriter, r *http.Request) {
	logger := GetLogger(r.Context())
	target := r.URL.Query().Get("url")

	if logger != nil {
		logger.Debug("proxying blob store request", "url", target)
	}

	result, err := h.service.ProxyFetch(r.Context(), target)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func writeRawJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// respondError writes a JSON error response with logging
func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	logger := GetLogger(r.Context())
	requestID := GetRequestID(r.Context())

	// Log the error with full context
	if logger != nil {
		logger.Error("returning error response",
			"status", status,
			"message", message,
			"request_id", requestID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message":    message,
			"code":       status,
			"request_id": requestID,
		},
	})
}

// handleServiceError maps service errors to HTTP responses with detailed logging
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := GetLogger(r.Context())
	requestID := GetRequestID(r.Context())

	// Log original error with full details
	if logger != nil {
		logger.Error("service error occurred",
			"error", err.Error(),
			"error_type", fmt.Sprintf("%T", err),
			"request_id", requestID)
	}

	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		respondError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), service.ErrInvalidRequest.Error()+": "))
	case errors.Is(err, service.ErrHistoryNotFound), errors.Is(err, upstream.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "history record not found")
	case errors.Is(err, service.ErrContentNotFound):
		respondError(w, r, http.StatusNotFound, "readme content not found")
	case errors.Is(err, service.ErrHostNotAllowed):
		respondError(w, r, http.StatusForbidden, "host not allowed")
	case errors.Is(err, service.ErrFetchFailed):
		respondError(w, r, http.StatusBadGateway, "content fetch failed")
	case errors.Is(err, upstream.ErrUnauthorized):
		// The gateway's own credentials were rejected, not the caller's
		respondError(w, r, http.StatusBadGateway, "history store authentication failed")
	case errors.Is(err, upstream.ErrUnavailable):
		respondError(w, r, http.StatusBadGateway, "history store temporarily unavailable")
	default:
		var upstreamErr *upstream.Error
		if errors.As(err, &upstreamErr) {
			if logger != nil {
				logger.Error("history store error details",
					"upstream_code", upstreamErr.Code,
					"upstream_message", upstreamErr.Message)
			}

			if upstreamErr.Code >= 400 && upstreamErr.Code < 500 {
				respondError(w, r, upstreamErr.Code, upstreamErr.Message)
			} else {
				respondError(w, r, http.StatusBadGateway, "history store error")
			}
		} else {
			respondError(w, r, http.StatusInternalServerError, "internal server error")
		}
	}
}
