package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/character-lab/backend/internal/config"
)

func newTestManager(t *testing.T) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(config.SecurityConfig{
		SecretKey:         "test-secret-key-with-at-least-32-chars",
		AccessTokenExpiry: time.Hour,
	})
	require.NoError(t, err)
	return m
}

func TestTokenRoundTrip(t *testing.T) {
	m := newTestManager(t)

	token, err := m.GenerateToken("u1", "u1@example.com")
	require.NoError(t, err)

	userID, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	claims, err := m.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", claims.Email)
}

func TestTokenRejectsTampering(t *testing.T) {
	m := newTestManager(t)
	token, err := m.GenerateToken("u1", "")
	require.NoError(t, err)

	_, err = m.ValidateToken(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenManager(config.SecurityConfig{SecretKey: "another-secret-key-with-32-characters"})
	require.NoError(t, err)
	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenExpires(t *testing.T) {
	m := newTestManager(t)
	issued := time.Now()
	m.now = func() time.Time { return issued }

	token, err := m.GenerateToken("u1", "")
	require.NoError(t, err)

	m.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	_, err := NewTokenManager(config.SecurityConfig{})
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)

	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong horse"))

	_, err = HashPassword("short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestManager(t)
	token, err := m.GenerateToken("u1", "")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", RequireAuth(m), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUserID))
	})

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + token, http.StatusOK, "u1"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized, ""},
		{"garbage", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}
