// Package middleware provides Gin HTTP middleware for authentication,
// community resolution, rate limiting, security headers and request metrics.
//
// Middleware ordering is set in internal/api/router.go:
//
//	RequestID → Logger → Metrics → Security → Community → Auth → RateLimit → Handler
//
// Rate limiting runs after auth so uploads are limited per principal rather
// than per address when a principal is known.
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/thunderstore-io/thunderstore-registry/internal/auth"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
	"github.com/thunderstore-io/thunderstore-registry/internal/telemetry"
)

// Context keys set by Authenticator.
const (
	UserKey       = "user"
	AuthMethodKey = "auth_method"
)

// Authentication methods.
const (
	AuthMethodJWT            = "jwt"
	AuthMethodServiceAccount = "service_account"
)

// UserLoader loads users by ID.
type UserLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// TokenAuthenticator resolves a service account token to its user.
// Returns (nil, nil) for an unknown token.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// Authenticator resolves the bearer credential of a request to a user.
// Session JWTs are tried first because verifying them needs no database
// round-trip; anything else is treated as a service account token.
type Authenticator struct {
	jwt    *auth.JWTManager
	users  UserLoader
	tokens TokenAuthenticator
}

// NewAuthenticator creates an Authenticator
func NewAuthenticator(jwt *auth.JWTManager, users UserLoader, tokens TokenAuthenticator) *Authenticator {
	return &Authenticator{jwt: jwt, users: users, tokens: tokens}
}

// Required aborts with 401 unless the request carries valid credentials.
func (a *Authenticator) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		user, method, err := a.resolve(c.Request.Context(), token)
		if err != nil {
			telemetry.CaptureError("auth", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}

		c.Set(UserKey, user)
		c.Set(AuthMethodKey, method)
		c.Next()
	}
}

// Optional sets the user when valid credentials are present and otherwise
// lets the request through anonymously.
func (a *Authenticator) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err == nil {
			if user, method, _ := a.resolve(c.Request.Context(), token); user != nil {
				c.Set(UserKey, user)
				c.Set(AuthMethodKey, method)
			}
		}
		c.Next()
	}
}

func (a *Authenticator) resolve(ctx context.Context, token string) (*models.User, string, error) {
	if a.jwt != nil && a.jwt.Enabled() {
		if claims, err := a.jwt.Validate(token); err == nil {
			id, err := uuid.Parse(claims.UserID)
			if err != nil {
				return nil, "", nil
			}
			user, err := a.users.GetByID(ctx, id)
			if err != nil {
				return nil, "", err
			}
			if user == nil || !user.IsActive {
				return nil, "", nil
			}
			return user, AuthMethodJWT, nil
		}
	}

	user, err := a.tokens.Authenticate(ctx, token)
	if err != nil || user == nil {
		return nil, "", err
	}
	return user, AuthMethodServiceAccount, nil
}

// CurrentUser returns the authenticated user, or nil.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}
