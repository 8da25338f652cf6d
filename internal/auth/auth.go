package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Config holds the admin credentials guarding match and fighter mutations
type Config struct {
	Enabled     bool
	Username    string
	Password    string // Plaintext or a bcrypt hash
	JWTSecret   string
	TokenExpiry string // Go duration, default 24h
}

// Authenticator checks the single admin account and issues tokens
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	tokens       *JWTManager
}

// NewAuthenticator creates an authenticator. An enabled authenticator
// without a password is a configuration error.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	a := &Authenticator{
		enabled:  cfg.Enabled,
		username: cfg.Username,
	}
	if a.username == "" {
		a.username = "admin"
	}

	tokens, err := NewJWTManager(cfg.JWTSecret, cfg.TokenExpiry)
	if err != nil {
		return nil, err
	}
	a.tokens = tokens

	if !cfg.Enabled {
		return a, nil
	}
	if cfg.Password == "" {
		return nil, errors.New("auth is enabled but no password is configured")
	}

	if isBcryptHash(cfg.Password) {
		a.passwordHash = []byte(cfg.Password)
	} else {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		a.passwordHash = hash
	}
	return a, nil
}

func isBcryptHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a signed token with its
// expiry as a unix timestamp.
func (a *Authenticator) Authenticate(username, password string) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}

	if username != a.username {
		return "", 0, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.tokens.GenerateToken(username)
	if err != nil {
		return "", 0, err
	}
	return token, expiresAt.Unix(), nil
}

// ValidateToken validates a bearer token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.tokens.ValidateToken(token)
}

// HashPassword creates a bcrypt hash suitable for auth.password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
