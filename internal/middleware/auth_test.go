package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringside/internal/auth"
)

func protected(t *testing.T, cfg auth.Config) (*auth.Authenticator, http.Handler) {
	t.Helper()
	a, err := auth.NewAuthenticator(cfg)
	require.NoError(t, err)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := GetUserFromContext(r.Context()); claims != nil {
			w.Header().Set("X-User", claims.Username)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return a, AuthMiddleware(a)(next)
}

func TestAuthMiddleware_DisabledPassesThrough(t *testing.T) {
	_, h := protected(t, auth.Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/fighter", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthMiddleware_Enabled(t *testing.T) {
	a, h := protected(t, auth.Config{Enabled: true, Password: "pw", JWTSecret: "k"})
	token, _, err := a.Authenticate("admin", "pw")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, "missing authorization header"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"bad token", "Bearer nope", http.StatusUnauthorized, "invalid token"},
		{"valid", "Bearer " + token, http.StatusNoContent, ""},
		{"lowercase scheme", "bearer " + token, http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/match/1/score", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			if tt.body != "" {
				assert.Contains(t, rec.Body.String(), tt.body)
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			} else {
				assert.Equal(t, "admin", rec.Header().Get("X-User"))
			}
		})
	}
}
