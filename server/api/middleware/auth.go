package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/HaugrNet/eds-sub006/server/core/members"
	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
)

// CallerKey is the gin context key of the authenticated members.Caller
const CallerKey = "caller"

type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (members.Caller, error)
}

// AuthMiddleware turns the Authorization header into a caller. Basic credentials are passed
// on as they are and checked by the services; bearer tokens must carry a live session.
type AuthMiddleware struct {
	logger   logging.Logger
	tokens   *TokenIssuer
	sessions SessionResolver
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(logger logging.Logger, tokens *TokenIssuer, sessions SessionResolver) *AuthMiddleware {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &AuthMiddleware{
		logger:   logger,
		tokens:   tokens,
		sessions: sessions,
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": message})
	c.Abort()
}

// RequireAuth requires either Basic credentials or a Bearer session token
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			m.logger.Warn("Missing Authorization header")
			abortUnauthorized(c, "Missing Authorization header")
			return
		}

		var caller members.Caller
		switch {
		case strings.HasPrefix(authHeader, "Basic "):
			account, credential, ok := c.Request.BasicAuth()
			if !ok || account == "" {
				m.logger.Warn("Failed to parse Basic Auth credentials")
				abortUnauthorized(c, "Invalid credentials format")
				return
			}
			caller = members.Caller{AccountName: account, Credential: []byte(credential)}

		case strings.HasPrefix(authHeader, "Bearer "):
			claims, err := m.tokens.Parse(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				m.logger.Warn("Rejected bearer token")
				abortUnauthorized(c, "Invalid or expired token")
				return
			}
			caller, err = m.sessions.ResolveSession(c.Request.Context(), claims.Session)
			if err != nil {
				if !failures.IsAuthenticationError(err) {
					m.logger.Error("Failed to resolve session", "error", err)
					c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication error"})
					c.Abort()
					return
				}
				m.logger.Warn("Session not valid", "account", claims.Subject)
				abortUnauthorized(c, "Invalid or expired token")
				return
			}

		default:
			m.logger.Warn("Invalid Authorization header format")
			abortUnauthorized(c, "Invalid Authorization header format")
			return
		}

		// the credential lives for this request only
		defer memguard.WipeBytes(caller.Credential)

		caller.RemoteIP = c.ClientIP()
		c.Set(CallerKey, caller)

		c.Next()
	}
}

// Caller returns the caller stored by RequireAuth
func Caller(c *gin.Context) (members.Caller, bool) {
	value, exists := c.Get(CallerKey)
	if !exists {
		return members.Caller{}, false
	}
	caller, ok := value.(members.Caller)
	return caller, ok
}
