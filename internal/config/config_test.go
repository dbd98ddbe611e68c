package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.JobService.PollInterval)
	assert.Equal(t, 60, cfg.JobService.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.JobService.RetryDelay)
	assert.Equal(t, 3, cfg.JobService.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.History.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.History.RefreshDelay)
	assert.Equal(t, "local", cfg.History.DeleteMode)
	assert.Equal(t, "http://localhost:8080", cfg.Dashboard.URL)
	assert.Equal(t, int64(5<<20), cfg.Content.MaxBytes)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFileWithExpansionAndOverrides(t *testing.T) {
	t.Setenv("HISTORY_TOKEN", "from-env")
	t.Setenv("READMEGEN_API_URL", " https://jobs.example ")
	t.Setenv("READMEGEN_CDN_URL", "")

	path := writeConfig(t, `
server:
  port: 9090
auth:
  api_keys:
    - name: dashboard
      key: abc
job_service:
  url: https://ignored.example
  poll_interval: 250ms
  features:
    includeBadges: true
content:
  cdn_base_url: https://cdn.readmegen.example
  legacy_hosts: [d3in1w40kamst9.cloudfront.net]
history:
  upstream_url: https://history.example
  upstream_token: ${HISTORY_TOKEN}
  delete_mode: remote
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://localhost:9090", cfg.Dashboard.URL)
	assert.Equal(t, []APIKey{{Name: "dashboard", Key: "abc"}}, cfg.Auth.APIKeys)
	assert.Equal(t, "https://jobs.example", cfg.JobService.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.JobService.PollInterval)
	assert.Equal(t, true, cfg.JobService.Features["includeBadges"])
	assert.Equal(t, "from-env", cfg.History.UpstreamToken)
	assert.Equal(t, "https://cdn.readmegen.example", cfg.Content.CDNBaseURL)
	assert.Equal(t, "cdn.readmegen.example", cfg.Content.CanonicalHost())
	assert.Equal(t, "remote", cfg.History.DeleteMode)
	assert.NoError(t, cfg.ValidateGateway())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	_, err = Load(writeConfig(t, "server: [unterminated"))
	assert.ErrorContains(t, err, "parse config")
}

func TestValidateGateway(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Server.Port = 70000
	cfg.History.DeleteMode = "sideways"

	err := cfg.ValidateGateway()
	require.Error(t, err)
	assert.ErrorContains(t, err, "history.upstream_url is required")
	assert.ErrorContains(t, err, "out of range")
	assert.ErrorContains(t, err, "delete_mode")
}

func TestValidateClient(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantErrs []string
	}{
		{
			name: "bearer token",
			mutate: func(c *Config) {
				c.JobService.URL = "https://jobs.example"
				c.Identity.BearerToken = "tok"
				c.Identity.Email = "dev@example.com"
			},
		},
		{
			name: "cognito needs region",
			mutate: func(c *Config) {
				c.JobService.URL = "https://jobs.example"
				c.Identity.ClientID = "client"
				c.Identity.Username = "dev"
				c.Identity.Password = "pw"
			},
			wantErrs: []string{"identity.region is required"},
		},
		{
			name:     "nothing configured",
			mutate:   func(c *Config) {},
			wantErrs: []string{"job_service.url is required", "identity:"},
		},
		{
			name: "cdn url without host",
			mutate: func(c *Config) {
				c.JobService.URL = "https://jobs.example"
				c.Identity.BearerToken = "tok"
				c.Content.CDNBaseURL = "/relative"
			},
			wantErrs: []string{"has no host"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			tt.mutate(cfg)
			cfg.ApplyDefaults()

			err := cfg.ValidateClient()
			if len(tt.wantErrs) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErrs {
				assert.ErrorContains(t, err, want)
			}
		})
	}
}

func TestIdentityUseCognito(t *testing.T) {
	assert.True(t, IdentityConfig{ClientID: "c", Username: "u"}.UseCognito())
	assert.False(t, IdentityConfig{ClientID: "c", Username: "u", BearerToken: "t"}.UseCognito())
	assert.False(t, IdentityConfig{}.UseCognito())
}
