package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/lalith-99/agenda/internal/tenant"
)

const (
	TenantIDHeader    = "X-Tenant-ID"
	TenantThemeHeader = "X-Tenant-Theme"
)

// Tenant resolves the request's tenant from the ?subdomain= override or
// the Host header. Resolution never fails: unknown hosts get the default
// tenant.
func Tenant(resolver *tenant.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		t := resolver.Resolve(c.Request.Context(), c.Request.Host, c.Query(tenant.OverrideQueryParam))
		c.Set(ContextKeyTenant, t)

		c.Header(TenantIDHeader, t.ID)
		if p := tenant.PresentationFor(t); p.Class != "" {
			c.Header(TenantThemeHeader, p.Class)
		} else {
			c.Header(TenantThemeHeader, string(t.Theme))
		}
		c.Next()
	}
}
