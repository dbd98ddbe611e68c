// Package credentials supplies bearer tokens and user identity to the
// generation client and the history synchronizer.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrAuthentication indicates no usable credential could be obtained. The
// user has to sign in again.
var ErrAuthentication = errors.New("Authentication required")

// Identity is the signed-in user as far as the job service and history store
// are concerned.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Key returns the value used to scope history queries, preferring the email
// the job service records with each generation.
func (i Identity) Key() string {
	if i.Email != "" {
		return i.Email
	}
	return i.UserID
}

// Provider issues bearer tokens and the identity they belong to
type Provider interface {
	Token(ctx context.Context) (string, error)
	Identity(ctx context.Context) (Identity, error)
}

// Invalidator is implemented by providers that cache tokens. Callers
// invalidate after an upstream 401 so the next Token call refreshes.
type Invalidator interface {
	Invalidate()
}

// Static serves a pre-issued token. An empty token is allowed for
// deployments where the job service is not authenticated.
type Static struct {
	token    string
	identity Identity
}

// NewStatic creates a provider for a fixed token and identity
func NewStatic(token string, identity Identity) *Static {
	return &Static{
		token:    strings.TrimSpace(token),
		identity: identity,
	}
}

// Token implements Provider
func (s *Static) Token(ctx context.Context) (string, error) {
	return s.token, nil
}

// Identity implements Provider
func (s *Static) Identity(ctx context.Context) (Identity, error) {
	if s.identity.Key() == "" {
		return Identity{}, fmt.Errorf("%w: no user identity configured", ErrAuthentication)
	}
	return s.identity, nil
}
