package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-users-backend/internal/apperr"
	"github.com/tbourn/go-users-backend/internal/auth"
)

// ContextUserID is the Gin context key holding the authenticated user id.
const ContextUserID = "userID"

// TokenVerifier verifies a bearer token of the given kind and returns its
// subject.
type TokenVerifier interface {
	Parse(kind auth.TokenKind, raw string) (string, error)
}

// RequireAccessToken rejects requests without a valid access token.
func RequireAccessToken(v TokenVerifier) gin.HandlerFunc {
	return requireToken(v, auth.AccessToken)
}

// RequireRefreshToken rejects requests without a valid refresh token.
func RequireRefreshToken(v TokenVerifier) gin.HandlerFunc {
	return requireToken(v, auth.RefreshToken)
}

func requireToken(v TokenVerifier, kind auth.TokenKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			_ = c.Error(apperr.Unauthorized("Unauthorized"))
			c.Abort()
			return
		}
		sub, err := v.Parse(kind, raw)
		if err != nil {
			// Missing signing configuration surfaces as its own condition.
			if _, isCond := apperr.As(err); !isCond {
				err = apperr.Unauthorized("Unauthorized")
			}
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.Set(ContextUserID, sub)
		c.Next()
	}
}

// bearer extracts the token from an "Authorization: Bearer <token>" header.
func bearer(h string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// UserIDFrom returns the authenticated user id, if any.
func UserIDFrom(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
