package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/agenda/internal/auth"
	"github.com/lalith-99/agenda/internal/session"
	"go.uber.org/zap"
)

// SessionCookie carries the session token for browser clients. API
// clients send the same token as "Authorization: Bearer <token>".
const SessionCookie = "agenda_session"

type SessionOptions struct {
	Secret  string
	Manager *session.Manager
	// Wait bounds how long a request blocks on a session that is still
	// being restored.
	Wait   time.Duration
	Logger *zap.Logger
}

// Session attaches the caller's session store to the request.
//
// It never rejects a request itself: a missing or invalid token simply
// leaves no session, and the guard on the route decides what that means.
// A store still restoring after Wait is passed on as-is; the guard reports
// it as checking.
func Session(opts SessionOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c)
		if token == "" {
			c.Next()
			return
		}

		claims, err := auth.ParseToken(token, opts.Secret)
		if err != nil {
			opts.Logger.Debug("ignoring invalid session token",
				zap.String("request_id", GetRequestID(c)),
				zap.Error(err),
			)
			c.Next()
			return
		}

		store := opts.Manager.Get(claims.SessionID)
		if t := GetTenant(c); t != nil {
			store.ActivateTenant(t)
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), opts.Wait)
		_, _ = store.Await(ctx)
		cancel()

		c.Set(ContextKeySession, store)
		c.Next()
	}
}

// TokenFromRequest returns the bearer token, or the session cookie when
// there is no Authorization header.
func TokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}
