package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/agenda/internal/middleware"
	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/repository"
	"github.com/lalith-99/agenda/internal/schedule"
	"go.uber.org/zap"
)

type AppointmentHandler struct {
	repo   repository.AppointmentRepository
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

// NewAppointmentHandler partitions schedules by calendar day in loc.
func NewAppointmentHandler(repo repository.AppointmentRepository, loc *time.Location, logger *zap.Logger) *AppointmentHandler {
	return &AppointmentHandler{repo: repo, loc: loc, now: time.Now, logger: logger}
}

type scheduleResponse struct {
	Upcoming []models.Appointment `json:"upcoming"`
	Past     []models.Appointment `json:"past"`
}

// Mine handles GET /v1/appointments/me
//
// Returns every appointment in the tenant the caller takes part in,
// either as client or as professional, split at the start of today.
func (h *AppointmentHandler) Mine(c *gin.Context) {
	userID := middleware.GetUserID(c)
	appts, err := h.repo.List(c.Request.Context(), repository.AppointmentFilter{
		TenantID:       middleware.GetTenantID(c),
		ClientID:       userID,
		ProfessionalID: userID,
	})
	if err != nil {
		h.logger.Error("failed to list appointments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list appointments"})
		return
	}

	upcoming, past := schedule.Partition(appts, h.now(), h.loc)
	c.JSON(http.StatusOK, scheduleResponse{Upcoming: upcoming, Past: past})
}

type createAppointmentRequest struct {
	ProfessionalID uuid.UUID          `json:"professional_id" binding:"required"`
	ClientID       *uuid.UUID         `json:"client_id"`
	ServiceID      *string            `json:"service_id"`
	StartTime      time.Time          `json:"start_time" binding:"required"`
	EndTime        *time.Time         `json:"end_time"`
	Title          string             `json:"title"`
	Notes          string             `json:"notes"`
	Recurrence     *models.Recurrence `json:"recurrence"`
}

// Create handles POST /v1/appointments
//
// Clients always book for themselves. Staff may book on behalf of a
// client. Without an end time the tenant's default duration is used.
func (h *AppointmentHandler) Create(c *gin.Context) {
	var req createAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t := middleware.GetTenant(c)
	userID := middleware.GetUserID(c)

	clientID := userID
	if req.ClientID != nil && middleware.GetRole(c) != models.RoleClient {
		clientID = *req.ClientID
	}

	end := req.StartTime.Add(time.Duration(t.Settings.AppointmentDuration) * time.Minute)
	if req.EndTime != nil {
		end = *req.EndTime
	}

	if req.Recurrence != nil && !t.Features.RecurrentAppointments {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recurrent appointments are not enabled for this tenant"})
		return
	}

	appt := models.Appointment{
		TenantID:       t.ID,
		ClientID:       clientID,
		ProfessionalID: req.ProfessionalID,
		ServiceID:      req.ServiceID,
		StartTime:      req.StartTime,
		EndTime:        end,
		Status:         models.StatusScheduled,
		Title:          req.Title,
		Notes:          req.Notes,
		Recurrence:     req.Recurrence,
	}
	if err := appt.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.repo.Create(c.Request.Context(), appt)
	if err != nil {
		h.logger.Error("failed to create appointment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create appointment"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

type cancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type cancelResponse struct {
	Appointment *models.Appointment `json:"appointment"`
	// PenaltyApplies is set when the cancellation came later than the
	// tenant's policy allows.
	PenaltyApplies    bool `json:"penalty_applies"`
	PenaltyPercentage int  `json:"penalty_percentage,omitempty"`
}

var errNotParticipant = errors.New("not a participant")

// Cancel handles POST /v1/appointments/:id/cancel
func (h *AppointmentHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid appointment id"})
		return
	}

	var req cancelAppointmentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	t := middleware.GetTenant(c)
	userID := middleware.GetUserID(c)

	appt, err := h.repo.GetByID(c.Request.Context(), t.ID, id)
	if err != nil {
		h.logger.Error("failed to get appointment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel appointment"})
		return
	}
	if appt == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "appointment not found"})
		return
	}
	if err := canCancel(appt, userID, middleware.GetRole(c)); err != nil {
		// Same answer as a missing appointment: don't reveal other
		// people's bookings.
		c.JSON(http.StatusNotFound, gin.H{"error": "appointment not found"})
		return
	}
	if appt.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "appointment is already " + string(appt.Status)})
		return
	}

	now := h.now()
	cancelled, err := h.repo.Cancel(c.Request.Context(), t.ID, id, userID, req.Reason, now)
	if err != nil {
		h.logger.Error("failed to cancel appointment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel appointment"})
		return
	}
	if cancelled == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "appointment can no longer be cancelled"})
		return
	}

	resp := cancelResponse{Appointment: cancelled}
	if policy := t.Settings.CancellationPolicy; lateCancellation(appt.StartTime, now, policy) {
		resp.PenaltyApplies = true
		resp.PenaltyPercentage = policy.PenaltyPercentage
	}
	c.JSON(http.StatusOK, resp)
}

// canCancel allows participants and tenant staff with admin rights.
func canCancel(a *models.Appointment, userID uuid.UUID, role models.Role) error {
	switch role {
	case models.RoleAdmin, models.RoleSuperAdmin, models.RoleMaster:
		return nil
	}
	if a.ClientID == userID || a.ProfessionalID == userID {
		return nil
	}
	return errNotParticipant
}

// lateCancellation reports whether cancelling at now falls inside the
// policy window before start.
func lateCancellation(start, now time.Time, p models.CancellationPolicy) bool {
	if p.TimeBeforeInHours <= 0 || p.PenaltyPercentage <= 0 {
		return false
	}
	return start.Sub(now) < time.Duration(p.TimeBeforeInHours)*time.Hour
}
