package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/editstack/cutcore/internal/config"
	"github.com/editstack/cutcore/pkg/models"
)

const (
	AuthContextKey = "user_id"
)

// Claims represents JWT claims
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// APIKeyValidator checks API keys against the user store
type APIKeyValidator interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (*models.User, error)
}

// Auth issues and validates the API's bearer tokens
type Auth struct {
	secret []byte
	expiry time.Duration
}

// NewAuth creates auth middleware from config
func NewAuth(cfg config.AuthConfig) *Auth {
	return &Auth{
		secret: []byte(cfg.JWTSecret),
		expiry: cfg.TokenExpiry,
	}
}

// JWT validates bearer tokens and puts the user id on the context
func (a *Auth) JWT() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		claims, err := a.parseClaims(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(AuthContextKey, claims.UserID)
		c.Next()
	}
}

// APIKey validates X-API-Key headers against the user store
func (a *Auth) APIKey(validator APIKeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
			c.Abort()
			return
		}

		user, err := validator.ValidateAPIKey(c.Request.Context(), apiKey)
		if err != nil || user == nil || !user.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}

		c.Set(AuthContextKey, user.ID)
		c.Next()
	}
}

// Any accepts either a bearer token or an API key
func (a *Auth) Any(validator APIKeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString, ok := bearerToken(c); ok {
			if claims, err := a.parseClaims(tokenString); err == nil {
				c.Set(AuthContextKey, claims.UserID)
				c.Next()
				return
			}
		}

		if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
			user, err := validator.ValidateAPIKey(c.Request.Context(), apiKey)
			if err == nil && user != nil && user.IsActive {
				c.Set(AuthContextKey, user.ID)
				c.Next()
				return
			}
		}

		c.JSON(http.StatusUnauthorized, gin.H{"error": "Valid authentication required"})
		c.Abort()
	}
}

// GenerateToken issues a signed token for a user
func (a *Auth) GenerateToken(userID, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Auth) parseClaims(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.Split(c.GetHeader("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

// GetUserID retrieves the authenticated user id from the context
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(AuthContextKey)
	if !exists {
		return "", false
	}

	userIDStr, ok := userID.(string)
	return userIDStr, ok
}
