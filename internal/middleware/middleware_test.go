package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/agenda/internal/auth"
	"github.com/lalith-99/agenda/internal/guard"
	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/observ"
	"github.com/lalith-99/agenda/internal/rbac"
	"github.com/lalith-99/agenda/internal/repository"
	"github.com/lalith-99/agenda/internal/session"
	"github.com/lalith-99/agenda/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// stubProvider serves fixed live sessions. A session mapped to nil blocks
// until the request context ends.
type stubProvider struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.User
	blocking map[uuid.UUID]bool
}

func (p *stubProvider) CurrentSession(ctx context.Context, sid uuid.UUID) (*models.User, error) {
	p.mu.Lock()
	u, block := p.sessions[sid], p.blocking[sid]
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return u, nil
}

func (p *stubProvider) SignIn(context.Context, uuid.UUID, string, string) (*models.User, error) {
	return nil, nil
}

func (p *stubProvider) SignOut(context.Context, uuid.UUID) error { return nil }

func (p *stubProvider) Subscribe(func(session.Event)) func() { return func() {} }

type stubRoles struct {
	rows []models.RoleAssignment
}

func (s *stubRoles) List(_ context.Context, f repository.RoleFilter) ([]models.RoleAssignment, error) {
	var out []models.RoleAssignment
	for _, r := range s.rows {
		if r.UserID == f.UserID && (f.TenantID == "" || r.TenantID == f.TenantID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubRoles) Assign(context.Context, models.RoleAssignment) error { return nil }

type harness struct {
	router   *gin.Engine
	provider *stubProvider
	roles    *stubRoles
	metrics  *observ.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	h := &harness{
		provider: &stubProvider{sessions: map[uuid.UUID]*models.User{}, blocking: map[uuid.UUID]bool{}},
		roles:    &stubRoles{},
		metrics:  observ.NewMetrics(),
	}

	manager := session.NewManager(h.provider, session.NewMemoryCache(), nil, 200*time.Millisecond, logger)
	resolver := rbac.NewResolver(h.roles, rbac.Options{}, h.metrics, logger)
	g := NewGuard(resolver, h.metrics, logger)

	r := gin.New()
	r.Use(RequestID(), Metrics(h.metrics), Tenant(tenant.NewResolver(tenant.BuiltinDirectory(), "demo", h.metrics, logger)))
	r.Use(Session(SessionOptions{Secret: testSecret, Manager: manager, Wait: 50 * time.Millisecond, Logger: logger}))

	ok := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"role": GetRole(c), "tenant": GetTenantID(c)})
	}
	r.GET("/me", g.Require(guard.Authenticated()), ok)
	r.GET("/admin", g.Require(guard.Require(models.RoleAdmin, models.RoleSuperAdmin)), ok)
	h.router = r
	return h
}

// signIn registers a live session for u and returns its token.
func (h *harness) signIn(t *testing.T, u *models.User) string {
	t.Helper()
	sid := uuid.New()
	h.provider.mu.Lock()
	h.provider.sessions[sid] = u
	h.provider.mu.Unlock()
	tok, err := auth.GenerateToken(sid, u.ID, u.TenantID, u.Email, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func userWith(tenantID string, role *models.Role) *models.User {
	return &models.User{ID: uuid.New(), Email: "u@example.com", TenantID: tenantID, Role: role}
}

func rolePtr(r models.Role) *models.Role { return &r }

func TestGuardRejectsAnonymousJSON(t *testing.T) {
	h := newHarness(t)

	w := h.do(httptest.NewRequest(http.MethodGet, "/me?x=1", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, guard.LoginRedirect("/me?x=1"), body["redirect"])
}

func TestGuardRedirectsAnonymousBrowser(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	w := h.do(req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, guard.LoginRedirect("/me"), w.Header().Get("Location"))
}

func TestGuardIgnoresBadToken(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")

	assert.Equal(t, http.StatusUnauthorized, h.do(req).Code)
}

func TestGuardAuthenticatedOnly(t *testing.T) {
	h := newHarness(t)
	tok := h.signIn(t, userWith("default", rolePtr(models.RoleClient)))
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	w := h.do(req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"role":"client","tenant":"default"}`, w.Body.String())
}

func TestGuardCookieToken(t *testing.T) {
	h := newHarness(t)
	tok := h.signIn(t, userWith("default", rolePtr(models.RoleClient)))
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tok})

	assert.Equal(t, http.StatusOK, h.do(req).Code)
}

func TestGuardRoleChecks(t *testing.T) {
	cases := []struct {
		name string
		user *models.User
		rows []models.RoleAssignment
		host string
		want int
	}{
		{"client denied", userWith("default", rolePtr(models.RoleClient)), nil, "", http.StatusForbidden},
		{"admin allowed", userWith("default", rolePtr(models.RoleAdmin)), nil, "", http.StatusOK},
		{"master bypasses allow-list", userWith("default", rolePtr(models.RoleMaster)), nil, "", http.StatusOK},
		{"master in foreign tenant", userWith("default", rolePtr(models.RoleMaster)), nil, "barber.agenda.app", http.StatusOK},
		{"home admin is client elsewhere", userWith("default", rolePtr(models.RoleAdmin)), nil, "barber.agenda.app", http.StatusForbidden},
		{"no carried role and no rows", userWith("default", nil), nil, "", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.roles.rows = tc.rows
			tok := h.signIn(t, tc.user)
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.host != "" {
				req.Host = tc.host
			}
			req.Header.Set("Authorization", "Bearer "+tok)

			assert.Equal(t, tc.want, h.do(req).Code)
		})
	}
}

func TestGuardForeignTenantUsesAssignment(t *testing.T) {
	h := newHarness(t)
	u := userWith("default", rolePtr(models.RoleClient))
	h.roles.rows = []models.RoleAssignment{{UserID: u.ID, TenantID: "barber-shop", Role: models.RoleAdmin}}
	tok := h.signIn(t, u)
	req := httptest.NewRequest(http.MethodGet, "/admin?subdomain=barber", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	w := h.do(req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"role":"admin","tenant":"barber-shop"}`, w.Body.String())
}

func TestGuardWhileChecking(t *testing.T) {
	h := newHarness(t)
	sid := uuid.New()
	h.provider.blocking[sid] = true
	tok, err := auth.GenerateToken(sid, uuid.New(), "default", "a@b.c", testSecret, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	w := h.do(req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, RetryAfterSeconds, w.Header().Get("Retry-After"))
}

func TestTenantHeaders(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Host = "dental.agenda.app:8080"

	w := h.do(req)

	assert.Equal(t, "dental-clinic", w.Header().Get(TenantIDHeader))
	assert.Equal(t, "theme-dental", w.Header().Get(TenantThemeHeader))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestRequestIDReused(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(RequestIDHeader, "abc-123")

	assert.Equal(t, "abc-123", h.do(req).Header().Get(RequestIDHeader))
}

func TestTokenFromRequest(t *testing.T) {
	cases := map[string]struct {
		header string
		cookie string
		want   string
	}{
		"bearer":          {header: "Bearer abc", want: "abc"},
		"lowercase":       {header: "bearer abc", want: "abc"},
		"wrong scheme":    {header: "Basic abc", want: ""},
		"cookie":          {cookie: "xyz", want: "xyz"},
		"header wins":     {header: "Bearer abc", cookie: "xyz", want: "abc"},
		"nothing present": {want: ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				c.Request.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				c.Request.AddCookie(&http.Cookie{Name: SessionCookie, Value: tc.cookie})
			}
			assert.Equal(t, tc.want, TokenFromRequest(c))
		})
	}
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.POST("/login", RateLimit(NewRateLimiter(0.001, 2)), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.get("10.0.0.1")
	rl.clients["10.0.0.1"].seen = time.Now().Add(-time.Hour)
	rl.get("10.0.0.2")

	rl.cleanup(time.Minute)

	assert.Len(t, rl.clients, 1)
	assert.Contains(t, rl.clients, "10.0.0.2")
}
