package api

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/agenda/internal/middleware"
	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/repository"
	"github.com/lalith-99/agenda/internal/tenant"
	"go.uber.org/zap"
)

// Invalidator drops a cached tenant. rediscache.TenantCache implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, subdomain string) error
}

type TenantHandler struct {
	repo   repository.TenantRepository
	extra  []models.Tenant
	cache  Invalidator
	logger *zap.Logger
}

// NewTenantHandler lists and edits tenants in repo. builtin tenants are
// listed too unless the repository has one with the same subdomain. cache
// is told about every write; it may be nil when lookups are not cached.
func NewTenantHandler(repo repository.TenantRepository, builtin tenant.StaticDirectory, cache Invalidator, logger *zap.Logger) *TenantHandler {
	h := &TenantHandler{repo: repo, cache: cache, logger: logger}
	for _, t := range builtin {
		h.extra = append(h.extra, t)
	}
	return h
}

type tenantResponse struct {
	Tenant       *models.Tenant      `json:"tenant"`
	Presentation tenant.Presentation `json:"presentation"`
}

// Current handles GET /v1/tenant
func (h *TenantHandler) Current(c *gin.Context) {
	t := middleware.GetTenant(c)
	c.JSON(http.StatusOK, tenantResponse{Tenant: t, Presentation: tenant.PresentationFor(t)})
}

// List handles GET /v1/tenants
func (h *TenantHandler) List(c *gin.Context) {
	stored, err := h.repo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list tenants", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tenants"})
		return
	}

	seen := make(map[string]bool, len(stored))
	for _, t := range stored {
		seen[t.Subdomain] = true
	}
	for _, t := range h.extra {
		if !seen[t.Subdomain] {
			stored = append(stored, t)
		}
	}
	sortTenants(stored)
	c.JSON(http.StatusOK, gin.H{"tenants": stored})
}

// subdomainPattern is one DNS label: lowercase letters, digits and inner
// hyphens.
var subdomainPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

type tenantRequest struct {
	ID                 string                 `json:"id"`
	Name               string                 `json:"name" binding:"required"`
	Subdomain          string                 `json:"subdomain" binding:"required"`
	Logo               *string                `json:"logo"`
	Theme              string                 `json:"theme"`
	CustomColors       *models.CustomColors   `json:"custom_colors"`
	Features           models.Features        `json:"features"`
	Settings           *models.TenantSettings `json:"settings"`
	SubscriptionStatus string                 `json:"subscription_status"`
	TrialEndsAt        *time.Time             `json:"trial_ends_at"`
}

// toTenant validates the request. Theme defaults to default, status to
// trial and settings to the default tenant's.
func (r tenantRequest) toTenant() (models.Tenant, error) {
	t := models.Tenant{
		ID:           strings.TrimSpace(r.ID),
		Name:         strings.TrimSpace(r.Name),
		Subdomain:    strings.ToLower(strings.TrimSpace(r.Subdomain)),
		Logo:         r.Logo,
		CustomColors: r.CustomColors,
		Features:     r.Features,
		TrialEndsAt:  r.TrialEndsAt,
	}
	if t.Name == "" {
		return t, errors.New("name must not be blank")
	}
	if !subdomainPattern.MatchString(t.Subdomain) {
		return t, errors.New("subdomain must be a lowercase DNS label")
	}

	theme, status := r.Theme, r.SubscriptionStatus
	if theme == "" {
		theme = string(models.ThemeDefault)
	}
	if status == "" {
		status = string(models.SubscriptionTrial)
	}
	var err error
	if t.Theme, err = models.ParseTheme(theme); err != nil {
		return t, err
	}
	if t.SubscriptionStatus, err = models.ParseSubscriptionStatus(status); err != nil {
		return t, err
	}

	t.Settings = tenant.DefaultTenant().Settings
	if r.Settings != nil {
		t.Settings = *r.Settings
	}
	if t.Settings.AppointmentDuration <= 0 {
		return t, errors.New("settings.appointment_duration must be positive")
	}
	return t, nil
}

// Create handles POST /v1/tenants
//
// The id defaults to the subdomain. A subdomain or id already in use is
// 409.
func (h *TenantHandler) Create(c *gin.Context) {
	var req tenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := req.toTenant()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if t.ID == "" {
		t.ID = t.Subdomain
	}

	created, err := h.repo.Create(c.Request.Context(), t)
	if errors.Is(err, repository.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "subdomain already in use"})
		return
	}
	if err != nil {
		h.logger.Error("failed to create tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create tenant"})
		return
	}

	// A builtin tenant on the same subdomain may already be cached.
	h.invalidate(c, created.Subdomain)
	h.logger.Info("tenant created",
		zap.String("tenant_id", created.ID),
		zap.String("subdomain", created.Subdomain),
		zap.String("by", middleware.GetUserID(c).String()),
	)
	c.JSON(http.StatusCreated, created)
}

// Update handles PUT /v1/tenants/:subdomain
//
// The body replaces the tenant; its subdomain may differ from the one in
// the path, which moves the tenant. The id never changes.
func (h *TenantHandler) Update(c *gin.Context) {
	current := strings.ToLower(c.Param("subdomain"))

	var req tenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := req.toTenant()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.repo.Update(c.Request.Context(), current, t)
	if errors.Is(err, repository.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "subdomain already in use"})
		return
	}
	if err != nil {
		h.logger.Error("failed to update tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update tenant"})
		return
	}
	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
		return
	}

	h.invalidate(c, current)
	if updated.Subdomain != current {
		h.invalidate(c, updated.Subdomain)
	}
	h.logger.Info("tenant updated",
		zap.String("tenant_id", updated.ID),
		zap.String("subdomain", updated.Subdomain),
		zap.String("by", middleware.GetUserID(c).String()),
	)
	c.JSON(http.StatusOK, updated)
}

// Delete handles DELETE /v1/tenants/:subdomain
func (h *TenantHandler) Delete(c *gin.Context) {
	subdomain := strings.ToLower(c.Param("subdomain"))

	deleted, err := h.repo.Delete(c.Request.Context(), subdomain)
	if err != nil {
		h.logger.Error("failed to delete tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete tenant"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
		return
	}

	h.invalidate(c, subdomain)
	h.logger.Info("tenant deleted",
		zap.String("subdomain", subdomain),
		zap.String("by", middleware.GetUserID(c).String()),
	)
	c.Status(http.StatusNoContent)
}

// invalidate drops the cached entry. A failure leaves a stale entry until
// its TTL runs out, so it is logged and not returned.
func (h *TenantHandler) invalidate(c *gin.Context, subdomain string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(c.Request.Context(), subdomain); err != nil {
		h.logger.Warn("failed to invalidate cached tenant",
			zap.String("subdomain", subdomain),
			zap.Error(err),
		)
	}
}
