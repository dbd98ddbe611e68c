package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the gateway and client configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Identity   IdentityConfig   `yaml:"identity"`
	JobService JobServiceConfig `yaml:"job_service"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Content    ContentConfig    `yaml:"content"`
	History    HistoryConfig    `yaml:"history"`
	Store      StoreConfig      `yaml:"store"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// AuthConfig contains gateway authentication settings
type AuthConfig struct {
	APIKeys []APIKey `yaml:"api_keys"`
}

// APIKey represents an API key for authentication
type APIKey struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// IdentityConfig contains the user's credentials for the job service.
// Either a pre-issued bearer token or Cognito user/password settings.
type IdentityConfig struct {
	Region             string        `yaml:"region"`
	UserPoolID         string        `yaml:"user_pool_id"`
	ClientID           string        `yaml:"client_id"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	BearerToken        string        `yaml:"bearer_token"` // Optional: use a pre-issued token
	UserID             string        `yaml:"user_id"`
	Email              string        `yaml:"email"`
	TokenRefreshMargin time.Duration `yaml:"token_refresh_margin"`
}

// UseCognito reports whether tokens come from Cognito rather than a static token
func (c IdentityConfig) UseCognito() bool {
	return c.BearerToken == "" && c.ClientID != "" && c.Username != ""
}

// JobServiceConfig contains generation API settings
type JobServiceConfig struct {
	URL            string         `yaml:"url"`
	PollInterval   time.Duration  `yaml:"poll_interval"`
	MaxAttempts    int            `yaml:"max_attempts"`
	RetryDelay     time.Duration  `yaml:"retry_delay"`
	MaxRetries     int            `yaml:"max_retries"`
	RequestTimeout time.Duration  `yaml:"request_timeout"`
	Features       map[string]any `yaml:"features"`
}

// DashboardConfig locates the gateway from the client side
type DashboardConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// ContentConfig contains blob store and resolution settings
type ContentConfig struct {
	CDNBaseURL        string        `yaml:"cdn_base_url"`
	LegacyHosts       []string      `yaml:"legacy_hosts"`
	AllowedHosts      []string      `yaml:"allowed_hosts"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	MaxBytes          int64         `yaml:"max_bytes"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
}

// CanonicalHost returns the host of CDNBaseURL
func (c ContentConfig) CanonicalHost() string {
	u, err := url.Parse(c.CDNBaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// HistoryConfig contains history store and synchronization settings
type HistoryConfig struct {
	UpstreamURL   string        `yaml:"upstream_url"`
	UpstreamToken string        `yaml:"upstream_token"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	RefreshDelay  time.Duration `yaml:"refresh_delay"`
	DeleteMode    string        `yaml:"delete_mode"` // local or remote
}

// StoreConfig contains the content cache settings
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite file, or ":memory:"
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// envOverrides maps environment variables onto config fields. They win over
// the file so deployments can inject endpoints without editing YAML.
var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"READMEGEN_API_URL", func(c *Config) *string { return &c.JobService.URL }},
	{"READMEGEN_CDN_URL", func(c *Config) *string { return &c.Content.CDNBaseURL }},
	{"READMEGEN_DASHBOARD_URL", func(c *Config) *string { return &c.Dashboard.URL }},
	{"READMEGEN_DASHBOARD_API_KEY", func(c *Config) *string { return &c.Dashboard.APIKey }},
	{"READMEGEN_HISTORY_URL", func(c *Config) *string { return &c.History.UpstreamURL }},
	{"READMEGEN_AWS_REGION", func(c *Config) *string { return &c.Identity.Region }},
	{"READMEGEN_COGNITO_USER_POOL_ID", func(c *Config) *string { return &c.Identity.UserPoolID }},
	{"READMEGEN_COGNITO_CLIENT_ID", func(c *Config) *string { return &c.Identity.ClientID }},
	{"READMEGEN_USERNAME", func(c *Config) *string { return &c.Identity.Username }},
	{"READMEGEN_PASSWORD", func(c *Config) *string { return &c.Identity.Password }},
	{"READMEGEN_TOKEN", func(c *Config) *string { return &c.Identity.BearerToken }},
	{"READMEGEN_EMAIL", func(c *Config) *string { return &c.Identity.Email }},
}

// Load reads and parses the configuration file. An empty path skips the
// file and builds the config from defaults and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		// Expand environment variables in the config
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok && strings.TrimSpace(v) != "" {
			*o.field(&cfg) = strings.TrimSpace(v)
		}
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 60 * time.Second
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Identity.TokenRefreshMargin == 0 {
		c.Identity.TokenRefreshMargin = 5 * time.Minute
	}
	if c.JobService.PollInterval == 0 {
		c.JobService.PollInterval = 5 * time.Second
	}
	if c.JobService.MaxAttempts == 0 {
		c.JobService.MaxAttempts = 60
	}
	if c.JobService.RetryDelay == 0 {
		c.JobService.RetryDelay = 10 * time.Second
	}
	if c.JobService.MaxRetries == 0 {
		c.JobService.MaxRetries = 3
	}
	if c.JobService.RequestTimeout == 0 {
		c.JobService.RequestTimeout = 15 * time.Second
	}
	if c.Dashboard.URL == "" {
		c.Dashboard.URL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Content.FetchTimeout == 0 {
		c.Content.FetchTimeout = 15 * time.Second
	}
	if c.Content.MaxBytes == 0 {
		c.Content.MaxBytes = 5 << 20
	}
	if c.Content.RetryAttempts == 0 {
		c.Content.RetryAttempts = 3
	}
	if c.Content.RetryInitialDelay == 0 {
		c.Content.RetryInitialDelay = time.Second
	}
	if c.History.PollInterval == 0 {
		c.History.PollInterval = 10 * time.Second
	}
	if c.History.RefreshDelay == 0 {
		c.History.RefreshDelay = 2 * time.Second
	}
	if c.History.DeleteMode == "" {
		c.History.DeleteMode = "local"
	}
	if c.Store.Path == "" {
		c.Store.Path = "readme-gateway.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// ValidateGateway checks the settings the gateway server needs
func (c *Config) ValidateGateway() error {
	var errs []error
	if c.History.UpstreamURL == "" {
		errs = append(errs, errors.New("history.upstream_url is required"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	return errors.Join(append(errs, c.validateCommon()...)...)
}

// ValidateClient checks the settings the CLI needs to generate and resolve
func (c *Config) ValidateClient() error {
	var errs []error
	if c.JobService.URL == "" {
		errs = append(errs, errors.New("job_service.url is required"))
	}
	if c.Identity.BearerToken == "" && !c.Identity.UseCognito() && c.Identity.Email == "" && c.Identity.UserID == "" {
		errs = append(errs, errors.New("identity: set bearer_token with email, or client_id/username/password"))
	}
	if c.Identity.UseCognito() && c.Identity.Region == "" {
		errs = append(errs, errors.New("identity.region is required for Cognito sign-in"))
	}
	return errors.Join(append(errs, c.validateCommon()...)...)
}

func (c *Config) validateCommon() []error {
	var errs []error
	switch strings.ToLower(c.History.DeleteMode) {
	case "local", "remote":
	default:
		errs = append(errs, fmt.Errorf("history.delete_mode must be local or remote, got %q", c.History.DeleteMode))
	}
	if c.Content.CDNBaseURL != "" && c.Content.CanonicalHost() == "" {
		errs = append(errs, fmt.Errorf("content.cdn_base_url %q has no host", c.Content.CDNBaseURL))
	}
	return errs
}
