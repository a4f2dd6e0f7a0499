package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/session"
)

// Context keys for values the middleware chain stores in gin.Context.
// Handlers read them through the helpers below, never with c.Get.
const (
	ContextKeyRequestID = "request_id"
	ContextKeyTenant    = "tenant"
	ContextKeySession   = "session"
	ContextKeyRole      = "role"
)

func GetRequestID(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

// GetTenant returns the tenant resolved for this request. The Tenant
// middleware always sets one.
func GetTenant(c *gin.Context) *models.Tenant {
	val, exists := c.Get(ContextKeyTenant)
	if !exists {
		return nil
	}
	t, ok := val.(*models.Tenant)
	if !ok {
		return nil
	}
	return t
}

func GetTenantID(c *gin.Context) string {
	if t := GetTenant(c); t != nil {
		return t.ID
	}
	return ""
}

// GetSession returns the caller's session store, or nil when the request
// carried no valid session token.
func GetSession(c *gin.Context) *session.Store {
	val, exists := c.Get(ContextKeySession)
	if !exists {
		return nil
	}
	st, ok := val.(*session.Store)
	if !ok {
		return nil
	}
	return st
}

// GetUser returns the signed-in user, or nil.
func GetUser(c *gin.Context) *models.User {
	st := GetSession(c)
	if st == nil {
		return nil
	}
	state := st.State()
	if !state.Authenticated() {
		return nil
	}
	return state.User
}

func GetUserID(c *gin.Context) uuid.UUID {
	if u := GetUser(c); u != nil {
		return u.ID
	}
	return uuid.Nil
}

// GetRole returns the role the guard resolved for this request's tenant.
// On routes guarded by authentication only, it falls back to the role the
// user carries, and then to client.
func GetRole(c *gin.Context) models.Role {
	if val, exists := c.Get(ContextKeyRole); exists {
		if r, ok := val.(models.Role); ok {
			return r
		}
	}
	if u := GetUser(c); u != nil && u.Role != nil && u.TenantID == GetTenantID(c) {
		return *u.Role
	}
	return models.RoleClient
}
