// Package gateway provides the README generator's same-origin gateway as a
// library that can be embedded into other Go applications.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lei/readme-gateway/internal/api"
	"github.com/lei/readme-gateway/internal/config"
	"github.com/lei/readme-gateway/internal/history"
	"github.com/lei/readme-gateway/internal/service"
	"github.com/lei/readme-gateway/internal/store"
	"github.com/lei/readme-gateway/internal/upstream"
	"github.com/lei/readme-gateway/pkg/logger"
)

// Gateway represents a gateway instance that can be embedded in applications
type Gateway struct {
	config  *Config
	service *service.Service
	store   *store.Store
	router  http.Handler
	server  *http.Server
	logger  *logger.Logger
}

// Config holds the configuration for the Gateway
type Config struct {
	// Server configuration
	Server ServerConfig

	// Authentication configuration. No keys disables authentication.
	Auth AuthConfig

	// History store the gateway fronts
	History HistoryConfig

	// Blob store proxy settings
	Content ContentConfig

	// Content cache location
	Store StoreConfig

	// Logger configuration
	Logging LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// APIKeys is a list of API keys for authentication
	APIKeys []APIKey
}

// APIKey represents an API key for authentication
type APIKey struct {
	Name string
	Key  string
}

// HistoryConfig locates the remote history store
type HistoryConfig struct {
	UpstreamURL   string
	UpstreamToken string
	Timeout       time.Duration
}

// ContentConfig holds blob store settings
type ContentConfig struct {
	CDNBaseURL   string   // canonical CDN, always allowed
	LegacyHosts  []string // rewritten to the CDN host
	AllowedHosts []string // extra hosts the proxy may fetch from
	FetchTimeout time.Duration
	MaxBytes     int64
}

// StoreConfig holds content cache configuration
type StoreConfig struct {
	Path string // SQLite file, or ":memory:"
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

// New creates a new Gateway instance with the provided configuration
func New(cfg *Config) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.History.UpstreamURL == "" {
		return nil, errors.New("history upstream url is required")
	}

	// Initialize logger
	appLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	storePath := cfg.Store.Path
	if storePath == "" {
		storePath = ":memory:"
	}
	st, err := store.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("open content store: %w", err)
	}
	appLogger.Info("opened content store", "path", storePath)

	canonicalHost := ""
	if cfg.Content.CDNBaseURL != "" {
		u, err := url.Parse(cfg.Content.CDNBaseURL)
		if err != nil || u.Host == "" {
			st.Close()
			return nil, fmt.Errorf("invalid cdn base url %q", cfg.Content.CDNBaseURL)
		}
		canonicalHost = u.Host
	}
	if canonicalHost == "" && len(cfg.Content.AllowedHosts) == 0 {
		appLogger.Warn("blob store proxy has no allowlist, any host will be fetched")
	}

	up := upstream.NewClient(cfg.History.UpstreamURL, cfg.History.UpstreamToken, cfg.History.Timeout, appLogger)
	appLogger.Info("initialized history store client", "url", cfg.History.UpstreamURL)

	// Initialize service layer
	svc := service.NewService(up, st,
		history.NewNormalizer(canonicalHost, cfg.Content.LegacyHosts),
		canonicalHost,
		service.Options{
			AllowedHosts: cfg.Content.AllowedHosts,
			FetchTimeout: cfg.Content.FetchTimeout,
			MaxBytes:     cfg.Content.MaxBytes,
		},
		appLogger)

	// Initialize API layer
	handlers := api.NewHandlers(svc)

	// Convert APIKeys to internal config format
	configAPIKeys := make([]config.APIKey, len(cfg.Auth.APIKeys))
	for i, key := range cfg.Auth.APIKeys {
		configAPIKeys[i] = config.APIKey{
			Name: key.Name,
			Key:  key.Key,
		}
	}
	if len(configAPIKeys) == 0 {
		appLogger.Warn("no api keys configured, /api routes are unauthenticated")
	}
	authMiddleware := api.NewAuthMiddleware(configAPIKeys)
	loggingMiddleware := api.NewLoggingMiddleware(appLogger)
	router := api.NewRouter(handlers, authMiddleware, loggingMiddleware, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Gateway{
		config:  cfg,
		service: svc,
		store:   st,
		router:  router,
		server:  srv,
		logger:  appLogger,
	}, nil
}

// Start starts the HTTP server
// This is a blocking call that will run until the context is canceled or an error occurs
func (g *Gateway) Start(ctx context.Context) error {
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		g.logger.Info("starting http server", "port", g.config.Server.Port)
		serverErrors <- g.server.ListenAndServe()
	}()

	// Wait for context cancellation or server error
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		g.logger.Info("shutdown signal received")

		// Graceful shutdown with 30s timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := g.server.Shutdown(shutdownCtx); err != nil {
			g.server.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		g.logger.Info("server stopped gracefully")
		return nil
	}
}

// Close releases the content store. Call it after Start returns.
func (g *Gateway) Close() error {
	return g.store.Close()
}

// Handler returns the http.Handler for the gateway
// Use this if you want to integrate the gateway into an existing HTTP server
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Service returns the underlying service layer
// Use this for direct programmatic access to gateway functionality
func (g *Gateway) Service() *service.Service {
	return g.service
}

// NewFromFile creates a Gateway from a YAML config file and READMEGEN_*
// environment variables. An empty path uses environment variables only.
// This mirrors the behavior of the standalone gateway.
func NewFromFile(path string) (*Gateway, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateGateway(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return New(FromConfig(cfg))
}

// FromConfig converts a loaded file configuration to a Gateway config
func FromConfig(cfg *config.Config) *Config {
	gwAPIKeys := make([]APIKey, len(cfg.Auth.APIKeys))
	for i, key := range cfg.Auth.APIKeys {
		gwAPIKeys[i] = APIKey{
			Name: key.Name,
			Key:  key.Key,
		}
	}

	return &Config{
		Server: ServerConfig{
			Port:           cfg.Server.Port,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			RequestTimeout: cfg.Server.RequestTimeout,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		},
		Auth: AuthConfig{
			APIKeys: gwAPIKeys,
		},
		History: HistoryConfig{
			UpstreamURL:   cfg.History.UpstreamURL,
			UpstreamToken: cfg.History.UpstreamToken,
		},
		Content: ContentConfig{
			CDNBaseURL:   cfg.Content.CDNBaseURL,
			LegacyHosts:  cfg.Content.LegacyHosts,
			AllowedHosts: cfg.Content.AllowedHosts,
			FetchTimeout: cfg.Content.FetchTimeout,
			MaxBytes:     cfg.Content.MaxBytes,
		},
		Store: StoreConfig{
			Path: cfg.Store.Path,
		},
		Logging: LoggingConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		},
	}
}
