package services

import (
	"context"
	"errors"

	"ringside/internal/auth"
)

// AuthImplementation implements the auth service
type AuthImplementation struct {
	authenticator *auth.Authenticator
}

// NewAuthService creates a new auth service implementation
func NewAuthService(authenticator *auth.Authenticator) *AuthImplementation {
	return &AuthImplementation{
		authenticator: authenticator,
	}
}

// Login authenticates the admin and returns a bearer token
func (a *AuthImplementation) Login(ctx context.Context, p *LoginPayload) (*LoginResult, error) {
	if p == nil || p.Username == nil || p.Password == nil {
		return nil, unauthorized("Invalid username or password")
	}

	token, expiresAt, err := a.authenticator.Authenticate(*p.Username, *p.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return nil, unauthorized("Invalid username or password")
		case errors.Is(err, auth.ErrAuthDisabled):
			return nil, badRequest("Authentication is disabled")
		}
		return nil, err
	}

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}
