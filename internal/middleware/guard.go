package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/agenda/internal/guard"
	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/observ"
	"github.com/lalith-99/agenda/internal/rbac"
	"github.com/lalith-99/agenda/internal/session"
	"go.uber.org/zap"
)

// RetryAfterSeconds is sent with 503 while a session is still checking.
const RetryAfterSeconds = "1"

// Guard applies guard.Decide to protected routes.
type Guard struct {
	roles   *rbac.Resolver
	metrics *observ.Metrics
	logger  *zap.Logger
}

func NewGuard(roles *rbac.Resolver, metrics *observ.Metrics, logger *zap.Logger) *Guard {
	return &Guard{roles: roles, metrics: metrics, logger: logger}
}

// Require returns middleware admitting only requests that satisfy req.
// It must run after Tenant and Session.
func (g *Guard) Require(req guard.Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		in := guard.Input{
			AuthResolved:  true,
			Requirement:   req,
			RequestedPath: c.Request.URL.RequestURI(),
		}

		if store := GetSession(c); store != nil {
			state := store.State()
			in.AuthResolved = state.Status != session.StatusChecking
			if state.Authenticated() {
				in.User = state.User
			}
		}

		if in.AuthResolved && in.User != nil && len(req.Roles) > 0 {
			tenantID := GetTenantID(c)
			res := g.roles.Resolve(c.Request.Context(), subjectFor(in.User, tenantID), tenantID)
			if res.Err != nil {
				g.logger.Warn("role resolution degraded",
					zap.String("request_id", GetRequestID(c)),
					zap.String("user_id", in.User.ID.String()),
					zap.String("tenant_id", tenantID),
					zap.Error(res.Err),
				)
			}
			in.RoleResolved = res.Resolved()
			in.Role = res.Role
			if res.Resolved() {
				c.Set(ContextKeyRole, res.Role)
			}
		}

		d := guard.Decide(in)
		g.metrics.ObserveGuard(string(d.State))
		if d.Allowed() {
			c.Next()
			return
		}
		deny(c, d)
	}
}

// subjectFor returns the user whose role the resolver should look at for
// tenantID. The role a user carries is their home-tenant role; in another
// tenant it is dropped so the assignment table decides. Master is global
// and always kept.
func subjectFor(u *models.User, tenantID string) *models.User {
	if u.Role == nil || u.TenantID == tenantID || *u.Role == models.RoleMaster {
		return u
	}
	stripped := *u
	stripped.Role = nil
	return &stripped
}

func deny(c *gin.Context, d guard.Decision) {
	switch d.State {
	case guard.StateChecking:
		c.Header("Retry-After", RetryAfterSeconds)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": "session is still being verified",
		})
	case guard.StateUnauthenticated:
		if wantsHTML(c) {
			c.Redirect(http.StatusFound, d.Redirect)
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":    "authentication required",
			"redirect": d.Redirect,
		})
	default:
		if wantsHTML(c) {
			c.Redirect(http.StatusFound, d.Redirect)
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":    "insufficient role",
			"redirect": d.Redirect,
		})
	}
}

func wantsHTML(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}
