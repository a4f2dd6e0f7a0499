package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/agenda/internal/identity"
	"github.com/lalith-99/agenda/internal/middleware"
	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/repository"
	"go.uber.org/zap"
)

// Accounts changes what live sessions carry. identity.Provider
// implements it.
type Accounts interface {
	// RefreshUser pushes a reloaded account to its live sessions.
	RefreshUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, upd identity.ProfileUpdate) (*models.User, error)
}

// UserHandler handles tenant user administration and self-service
// profile edits.
type UserHandler struct {
	users    repository.UserRepository
	roles    repository.RoleRepository
	accounts Accounts
	logger   *zap.Logger
}

func NewUserHandler(users repository.UserRepository, roles repository.RoleRepository, accounts Accounts, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, roles: roles, accounts: accounts, logger: logger}
}

// List handles GET /v1/users
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.users.ListByTenant(c.Request.Context(), middleware.GetTenantID(c))
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	sortUsers(users)
	c.JSON(http.StatusOK, gin.H{"users": users})
}

type assignRoleRequest struct {
	Role models.Role `json:"role" binding:"required"`
}

// AssignRole handles PUT /v1/users/:id/role
//
// Roles are per tenant: this sets the user's role in the request's
// tenant only. Granting super_admin or master needs super_admin, and so
// does changing the role of someone who holds one of them.
//
// Sessions signed in as the user are refreshed before the response, so a
// demotion takes effect on their next request.
func (h *UserHandler) AssignRole(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	// models.Role rejects unknown values while unmarshalling.
	var req assignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	granter := middleware.GetRole(c)
	if !canGrant(granter, req.Role) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role to grant " + string(req.Role)})
		return
	}

	ctx := c.Request.Context()
	tenantID := middleware.GetTenantID(c)
	user, err := h.lookupUser(c, userID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to assign role"})
		return
	}

	current, err := h.roles.List(ctx, repository.RoleFilter{UserID: user.ID, TenantID: tenantID})
	if err != nil {
		h.logger.Error("failed to get current role", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to assign role"})
		return
	}
	if len(current) > 0 && !canGrant(granter, current[0].Role) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role to change a " + string(current[0].Role)})
		return
	}

	assignment := models.RoleAssignment{UserID: user.ID, TenantID: tenantID, Role: req.Role}
	if err := h.roles.Assign(ctx, assignment); err != nil {
		h.logger.Error("failed to assign role", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to assign role"})
		return
	}

	if _, err := h.accounts.RefreshUser(ctx, user.ID); err != nil {
		h.logger.Error("failed to refresh sessions after role change",
			zap.String("user_id", user.ID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "role assigned but sessions not refreshed"})
		return
	}

	h.logger.Info("role assigned",
		zap.String("user_id", user.ID.String()),
		zap.String("tenant_id", tenantID),
		zap.String("role", string(req.Role)),
		zap.String("by", middleware.GetUserID(c).String()),
	)
	c.JSON(http.StatusOK, assignment)
}

func (h *UserHandler) lookupUser(c *gin.Context, id uuid.UUID) (*models.User, error) {
	u, err := h.users.GetByID(c.Request.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	if u == nil {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

type updateProfileRequest struct {
	DisplayName     *string `json:"display_name" binding:"omitempty,min=1"`
	Phone           *string `json:"phone"`
	BirthDate       *string `json:"birth_date"`
	Specialty       *string `json:"specialty"`
	Bio             *string `json:"bio"`
	CurrentPassword string  `json:"current_password"`
	NewPassword     string  `json:"new_password" binding:"omitempty,min=8"`
}

// UpdateMe handles PUT /v1/users/me
//
// Any signed-in user may edit their own profile. Omitted fields are left
// as they are. A password change needs the current password.
func (h *UserHandler) UpdateMe(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.NewPassword != "" && req.CurrentPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "current_password is required to change the password"})
		return
	}

	user, err := h.accounts.UpdateProfile(c.Request.Context(), middleware.GetUserID(c), identity.ProfileUpdate{
		DisplayName:     req.DisplayName,
		Phone:           req.Phone,
		BirthDate:       req.BirthDate,
		Specialty:       req.Specialty,
		Bio:             req.Bio,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	switch {
	case errors.Is(err, identity.ErrPasswordMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	case err != nil:
		h.logger.Error("failed to update profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// canGrant reports whether a caller acting as granter may hand out role,
// or take it away from someone who holds it.
func canGrant(granter, role models.Role) bool {
	switch role {
	case models.RoleSuperAdmin, models.RoleMaster:
		return granter == models.RoleSuperAdmin || granter == models.RoleMaster
	}
	return true
}
