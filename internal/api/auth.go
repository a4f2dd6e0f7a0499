package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/agenda/internal/auth"
	"github.com/lalith-99/agenda/internal/identity"
	"github.com/lalith-99/agenda/internal/middleware"
	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/session"
	"go.uber.org/zap"
)

// Registrar creates accounts. identity.Provider implements it.
type Registrar interface {
	Register(ctx context.Context, r identity.Registration) (*models.User, error)
}

type TokenOptions struct {
	Secret string
	TTL    time.Duration
	// SecureCookie marks the session cookie HTTPS-only.
	SecureCookie bool
}

// AuthHandler handles login, registration and logout. Login and register
// are public; they are where a session token comes from.
type AuthHandler struct {
	sessions  *session.Manager
	registrar Registrar
	tokens    TokenOptions
	logger    *zap.Logger
}

func NewAuthHandler(sessions *session.Manager, registrar Registrar, tokens TokenOptions, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:  sessions,
		registrar: registrar,
		tokens:    tokens,
		logger:    logger,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type registerRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"display_name" binding:"required"`
	Phone       string `json:"phone"`
}

// authResponse is what login and register return. The token is also set
// as the session cookie; API clients send it as a Bearer token instead.
type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Login handles POST /v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.signIn(c, req.Email, req.Password, http.StatusOK)
}

// Register handles POST /v1/auth/register
//
// The account is created as a client of the tenant the request resolved
// to, then signed in.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, err := h.registrar.Register(c.Request.Context(), identity.Registration{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		TenantID:    middleware.GetTenantID(c),
		Phone:       req.Phone,
	})
	if errors.Is(err, identity.ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}
	if err != nil {
		h.logger.Error("failed to register user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	h.signIn(c, req.Email, req.Password, http.StatusCreated)
}

// Logout handles POST /v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	store := middleware.GetSession(c)
	if store != nil {
		if err := store.SignOut(c.Request.Context()); err != nil {
			h.logger.Warn("sign-out incomplete", zap.Error(err))
		}
		h.sessions.Forget(store.ID())
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", h.tokens.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"status": "signed out"})
}

// signIn opens a fresh session, signs it in and answers with its token.
func (h *AuthHandler) signIn(c *gin.Context, email, password string, status int) {
	sid := uuid.New()
	store := h.sessions.Open(sid)
	if t := middleware.GetTenant(c); t != nil {
		store.ActivateTenant(t)
	}

	user, err := store.SignIn(c.Request.Context(), email, password)
	if err != nil {
		h.sessions.Forget(sid)
		if errors.Is(err, identity.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		h.logger.Error("sign-in failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	token, err := auth.GenerateToken(sid, user.ID, user.TenantID, user.Email, h.tokens.Secret, h.tokens.TTL)
	if err != nil {
		h.sessions.Forget(sid)
		h.logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, token, int(h.tokens.TTL.Seconds()), "/", "", h.tokens.SecureCookie, true)
	c.JSON(status, authResponse{Token: token, User: user})
}
