package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lalith-99/agenda/internal/guard"
	"github.com/lalith-99/agenda/internal/middleware"
	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/observ"
	"github.com/lalith-99/agenda/internal/rbac"
	"github.com/lalith-99/agenda/internal/session"
	"github.com/lalith-99/agenda/internal/tenant"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps is everything the HTTP layer is built from.
type Deps struct {
	Tenants     *tenant.Resolver
	Sessions    *session.Manager
	Roles       *rbac.Resolver
	Metrics     *observ.Metrics
	Limiter     *middleware.RateLimiter
	Session     middleware.SessionOptions
	CORSOrigins []string
	// Health reports whether backing stores are reachable.
	Health func(ctx context.Context) error
	Logger *zap.Logger

	Auth         *AuthHandler
	SessionState *SessionHandler
	Tenant       *TenantHandler
	Appointments *AppointmentHandler
	Users        *UserHandler
}

// NewRouter wires middleware and routes.
func NewRouter(d Deps) *gin.Engine {
	srv := gin.New()
	srv.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(d.Logger),
		middleware.Metrics(d.Metrics),
	)
	if len(d.CORSOrigins) > 0 {
		srv.Use(cors.New(cors.Config{
			AllowOrigins:     d.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
			ExposeHeaders:    []string{middleware.TenantIDHeader, middleware.TenantThemeHeader, middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Health and metrics are public so load balancers and Prometheus can
	// reach them without a session.
	srv.GET("/v1/health", func(c *gin.Context) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	srv.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{})))

	v1 := srv.Group("/v1", middleware.Tenant(d.Tenants))
	v1.GET("/tenant", d.Tenant.Current)
	v1.POST("/auth/login", middleware.RateLimit(d.Limiter), d.Auth.Login)
	v1.POST("/auth/register", middleware.RateLimit(d.Limiter), d.Auth.Register)

	g := middleware.NewGuard(d.Roles, d.Metrics, d.Logger)
	signedIn := g.Require(guard.Authenticated())
	anyRole := g.Require(guard.Require(models.RoleClient, models.RoleProfessional, models.RoleAdmin, models.RoleSuperAdmin))
	admins := g.Require(guard.Require(models.RoleAdmin, models.RoleSuperAdmin))
	superAdmins := g.Require(guard.Require(models.RoleSuperAdmin))

	protected := v1.Group("", middleware.Session(d.Session))
	protected.POST("/auth/logout", signedIn, d.Auth.Logout)
	protected.GET("/session", d.SessionState.Get)
	protected.GET("/session/events", signedIn, d.SessionState.Events)

	protected.GET("/appointments/me", signedIn, d.Appointments.Mine)
	protected.POST("/appointments", anyRole, d.Appointments.Create)
	protected.POST("/appointments/:id/cancel", anyRole, d.Appointments.Cancel)

	protected.PUT("/users/me", signedIn, d.Users.UpdateMe)
	protected.GET("/users", admins, d.Users.List)
	protected.PUT("/users/:id/role", admins, d.Users.AssignRole)

	protected.GET("/tenants", superAdmins, d.Tenant.List)
	protected.POST("/tenants", superAdmins, d.Tenant.Create)
	protected.PUT("/tenants/:subdomain", superAdmins, d.Tenant.Update)
	protected.DELETE("/tenants/:subdomain", superAdmins, d.Tenant.Delete)

	return srv
}
