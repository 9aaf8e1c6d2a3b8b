package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/editstack/cutcore/internal/config"
	"github.com/editstack/cutcore/pkg/models"
)

type fakeValidator struct {
	user *models.User
	err  error
}

func (f *fakeValidator) ValidateAPIKey(ctx context.Context, apiKey string) (*models.User, error) {
	return f.user, f.err
}

func newTestAuth(expiry time.Duration) *Auth {
	return NewAuth(config.AuthConfig{
		JWTSecret:   "test-secret",
		TokenExpiry: expiry,
	})
}

func TestGenerateToken(t *testing.T) {
	auth := newTestAuth(time.Hour)

	token, err := auth.GenerateToken("test-user-id", "test@example.com")
	assert.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newTestAuth(time.Hour)

	tests := []struct {
		name           string
		token          string
		expectedStatus int
	}{
		{
			name:           "Missing authorization header",
			token:          "",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Invalid token format",
			token:          "InvalidToken",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Garbage bearer token",
			token:          "Bearer not-a-jwt",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			req := httptest.NewRequest("GET", "/test", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", tt.token)
			}
			c.Request = req

			auth.JWT()(c)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestJWTAuthWithValidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newTestAuth(time.Hour)

	userID := "test-user-id"
	token, err := auth.GenerateToken(userID, "test@example.com")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	c.Request = req

	auth.JWT()(c)

	assert.False(t, c.IsAborted())
	extracted, exists := GetUserID(c)
	assert.True(t, exists)
	assert.Equal(t, userID, extracted)
}

func TestJWTAuthRejectsExpiredToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	expired := newTestAuth(-time.Hour)
	token, err := expired.GenerateToken("test-user-id", "test@example.com")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	c.Request = req

	newTestAuth(time.Hour).JWT()(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newTestAuth(time.Hour)

	tests := []struct {
		name           string
		apiKey         string
		user           *models.User
		expectedStatus int
	}{
		{
			name:           "Active user",
			apiKey:         "valid-key",
			user:           &models.User{ID: "u1", IsActive: true},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Deactivated user",
			apiKey:         "valid-key",
			user:           &models.User{ID: "u1", IsActive: false},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Missing key",
			apiKey:         "",
			user:           nil,
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			req := httptest.NewRequest("GET", "/test", nil)
			if tt.apiKey != "" {
				req.Header.Set("X-API-Key", tt.apiKey)
			}
			c.Request = req

			auth.APIKey(&fakeValidator{user: tt.user})(c)
			if !c.IsAborted() {
				c.Status(http.StatusOK)
			}

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestAnyAcceptsEitherCredential(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newTestAuth(time.Hour)
	validator := &fakeValidator{user: &models.User{ID: "u1", IsActive: true}}

	token, err := auth.GenerateToken("u2", "u2@example.com")
	require.NoError(t, err)

	// Bearer token wins when both are present
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-API-Key", "valid-key")
	c.Request = req

	auth.Any(validator)(c)
	userID, _ := GetUserID(c)
	assert.Equal(t, "u2", userID)

	// API key alone
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	req = httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-API-Key", "valid-key")
	c.Request = req

	auth.Any(validator)(c)
	userID, _ = GetUserID(c)
	assert.Equal(t, "u1", userID)

	// Nothing at all
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/test", nil)

	auth.Any(validator)(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
