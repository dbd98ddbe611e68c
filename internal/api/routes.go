package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries the server settings the router needs
type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter creates and configures the HTTP router
func NewRouter(handlers *Handlers, authMiddleware *AuthMiddleware, loggingMiddleware *LoggingMiddleware, opts RouterOptions) *chi.Mux {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Global middleware - ORDER MATTERS!
	r.Use(middleware.RequestID)      // Generate request ID first
	r.Use(middleware.RealIP)         // Extract real IP
	r.Use(loggingMiddleware.Handler) // Add logger to context with request ID
	r.Use(middleware.Recoverer)      // Panic recovery
	r.Use(middleware.Timeout(opts.RequestTimeout))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health checks (no auth required)
	r.Get("/health", handlers.Health)
	r.Get("/health/detail", handlers.HealthDetail)

	// Same-origin API used by the dashboard and CLI
	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		// History store passthrough
		r.Get("/history", handlers.ListHistory)
		r.Get("/history/{id}", handlers.GetHistoryItem)
		r.Delete("/history/{id}", handlers.DeleteHistoryItem)

		// Stored README content
		r.Get("/readme-content/{id}", handlers.GetReadmeContent)
		r.Put("/readme-content/{id}", handlers.PutReadmeContent)

		// Blob store proxy
		r.Get("/proxy-s3", handlers.ProxyS3)
	})

	return r
}
