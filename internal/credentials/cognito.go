package credentials

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lei/readme-gateway/pkg/logger"
)

// CognitoConfig contains the user pool settings needed for USER_PASSWORD_AUTH
type CognitoConfig struct {
	Region        string
	ClientID      string
	Username      string
	Password      string
	RefreshMargin time.Duration

	// Endpoint overrides the regional cognito-idp endpoint (tests, VPC endpoints)
	Endpoint string
}

// Cognito handles Cognito authentication and token caching
type Cognito struct {
	cfg        CognitoConfig
	httpClient *http.Client
	logger     *logger.Logger
	now        func() time.Time

	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
	identity    Identity
}

// NewCognito creates a new token manager for a Cognito user pool client
func NewCognito(cfg CognitoConfig, log *logger.Logger) *Cognito {
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = 5 * time.Minute
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/", cfg.Region)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Cognito{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     log,
		now:        time.Now,
	}
}

// initiateAuthResponse mirrors the InitiateAuth JSON response
type initiateAuthResponse struct {
	AuthenticationResult struct {
		AccessToken string `json:"AccessToken"`
		IdToken     string `json:"IdToken"`
		ExpiresIn   int    `json:"ExpiresIn"`
		TokenType   string `json:"TokenType"`
	} `json:"AuthenticationResult"`
	ChallengeName string `json:"ChallengeName"`
}

type cognitoError struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

// Token returns a valid ID token, refreshing if necessary
func (c *Cognito) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.validLocked() {
		token := c.token
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	return c.refresh(ctx)
}

// Identity returns the user encoded in the current ID token
func (c *Cognito) Identity(ctx context.Context) (Identity, error) {
	if _, err := c.Token(ctx); err != nil {
		return Identity{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity.Key() == "" {
		return Identity{Email: c.cfg.Username}, nil
	}
	return c.identity, nil
}

// Invalidate forces a token refresh on the next Token call
func (c *Cognito) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.tokenExpiry = time.Time{}
}

func (c *Cognito) validLocked() bool {
	return c.token != "" && c.now().Before(c.tokenExpiry.Add(-c.cfg.RefreshMargin))
}

func (c *Cognito) refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if c.validLocked() {
		return c.token, nil
	}

	resp, err := c.initiateAuth(ctx)
	if err != nil {
		return "", err
	}

	result := resp.AuthenticationResult
	c.token = result.IdToken
	c.tokenExpiry = c.now().Add(time.Duration(result.ExpiresIn) * time.Second)
	c.identity = identityFromToken(result.IdToken)

	c.logger.Debug("credentials: cognito token refreshed",
		"expires_in", result.ExpiresIn,
		"user", c.identity.Key())

	return c.token, nil
}

func (c *Cognito) initiateAuth(ctx context.Context) (*initiateAuthResponse, error) {
	if c.cfg.ClientID == "" || c.cfg.Username == "" || c.cfg.Password == "" {
		return nil, fmt.Errorf("%w: cognito client id, username and password are required", ErrAuthentication)
	}

	body, err := json.Marshal(map[string]any{
		"AuthFlow": "USER_PASSWORD_AUTH",
		"ClientId": c.cfg.ClientID,
		"AuthParameters": map[string]string{
			"USERNAME": c.cfg.Username,
			"PASSWORD": c.cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", "AWSCognitoIdentityProviderService.InitiateAuth")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var cerr cognitoError
		if json.Unmarshal(data, &cerr) == nil && cerr.Message != "" {
			return nil, fmt.Errorf("%w: %s: %s", ErrAuthentication, cerr.Type, cerr.Message)
		}
		return nil, fmt.Errorf("%w: token fetch failed: %d %s", ErrAuthentication, resp.StatusCode, string(data))
	}

	var out initiateAuthResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse auth response: %w", err)
	}
	if out.ChallengeName != "" {
		return nil, fmt.Errorf("%w: unsupported challenge %s", ErrAuthentication, out.ChallengeName)
	}
	if out.AuthenticationResult.IdToken == "" {
		return nil, fmt.Errorf("%w: auth response carried no id token", ErrAuthentication)
	}

	return &out, nil
}

// identityFromToken reads the email and sub claims of a JWT without
// verifying it. The token is only forwarded, never trusted locally.
func identityFromToken(token string) Identity {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Identity{}
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Identity{}
	}
	var claims struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Identity{}
	}
	return Identity{UserID: claims.Sub, Email: claims.Email}
}
