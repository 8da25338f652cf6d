package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_Disabled(t *testing.T) {
	a, err := NewAuthenticator(Config{})
	require.NoError(t, err)
	assert.False(t, a.IsEnabled())

	_, _, err = a.Authenticate("admin", "secret")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestAuthenticator_EnabledRequiresPassword(t *testing.T) {
	_, err := NewAuthenticator(Config{Enabled: true})
	assert.Error(t, err)
}

func TestAuthenticator_LoginAndValidate(t *testing.T) {
	a, err := NewAuthenticator(Config{Enabled: true, Password: "corner-man", JWTSecret: "s3cret"})
	require.NoError(t, err)

	_, _, err = a.Authenticate("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = a.Authenticate("referee", "corner-man")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, expiresAt, err := a.Authenticate("admin", "corner-man")
	require.NoError(t, err)
	assert.Greater(t, expiresAt, time.Now().Unix())

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, Issuer, claims.Issuer)

	_, err = a.ValidateToken(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticator_AcceptsBcryptHash(t *testing.T) {
	hash, err := HashPassword("jab")
	require.NoError(t, err)

	a, err := NewAuthenticator(Config{Enabled: true, Username: "coach", Password: hash})
	require.NoError(t, err)

	_, _, err = a.Authenticate("coach", "jab")
	assert.NoError(t, err)
}

func TestJWTManager_Expired(t *testing.T) {
	m, err := NewJWTManager("key", "1ms")
	require.NoError(t, err)

	token, _, err := m.GenerateToken("admin")
	require.NoError(t, err)

	// NumericDate has second precision
	time.Sleep(1100 * time.Millisecond)
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTManager_RejectsForeignTokens(t *testing.T) {
	m, err := NewJWTManager("key", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenExpiry, m.Expiry())

	other, err := NewJWTManager("other-key", "")
	require.NoError(t, err)
	token, _, err := other.GenerateToken("admin")
	require.NoError(t, err)
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Right key, wrong issuer
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Username:         "admin",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("key"))
	require.NoError(t, err)
	_, err = m.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTManager("key", "soon")
	assert.Error(t, err)
}
