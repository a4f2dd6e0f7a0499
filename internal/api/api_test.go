package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/agenda/internal/api"
	"github.com/lalith-99/agenda/internal/identity"
	"github.com/lalith-99/agenda/internal/middleware"
	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/observ"
	"github.com/lalith-99/agenda/internal/rbac"
	"github.com/lalith-99/agenda/internal/repository"
	"github.com/lalith-99/agenda/internal/session"
	"github.com/lalith-99/agenda/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// --- in-memory repositories ---

type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]models.User
	roles *memRoles
}

func (m *memUsers) Create(_ context.Context, u models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	m.users[u.ID] = u
	return &u, nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *memUsers) ListByTenant(ctx context.Context, tenantID string) ([]models.User, error) {
	rows, _ := m.roles.all()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.User{}
	for _, r := range rows {
		if r.TenantID != tenantID {
			continue
		}
		if u, ok := m.users[r.UserID]; ok {
			out = append(out, u.WithRole(r.Role))
		}
	}
	return out, nil
}

func (m *memUsers) Update(_ context.Context, u models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return nil, nil
	}
	m.users[u.ID] = u
	return &u, nil
}

type memRoles struct {
	mu   sync.Mutex
	rows []models.RoleAssignment
}

func (m *memRoles) all() ([]models.RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RoleAssignment(nil), m.rows...), nil
}

func (m *memRoles) List(_ context.Context, f repository.RoleFilter) ([]models.RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.RoleAssignment{}
	for _, r := range m.rows {
		if r.UserID == f.UserID && (f.TenantID == "" || r.TenantID == f.TenantID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRoles) Assign(_ context.Context, a models.RoleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rows {
		if r.UserID == a.UserID && r.TenantID == a.TenantID {
			m.rows[i].Role = a.Role
			return nil
		}
	}
	m.rows = append(m.rows, a)
	return nil
}

type memTenants struct {
	mu      sync.Mutex
	tenants []models.Tenant
}

func (m *memTenants) GetBySubdomain(_ context.Context, sub string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Subdomain == sub {
			return &t, nil
		}
	}
	return nil, nil
}

func (m *memTenants) List(context.Context) ([]models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Tenant(nil), m.tenants...), nil
}

func (m *memTenants) Create(_ context.Context, t models.Tenant) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tenants {
		if existing.ID == t.ID || existing.Subdomain == t.Subdomain {
			return nil, repository.ErrConflict
		}
	}
	m.tenants = append(m.tenants, t)
	return &t, nil
}

func (m *memTenants) Update(_ context.Context, sub string, t models.Tenant) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	for i, existing := range m.tenants {
		if existing.Subdomain == sub {
			idx = i
		} else if existing.Subdomain == t.Subdomain {
			return nil, repository.ErrConflict
		}
	}
	if idx < 0 {
		return nil, nil
	}
	t.ID = m.tenants[idx].ID
	m.tenants[idx] = t
	return &t, nil
}

func (m *memTenants) Delete(_ context.Context, sub string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.tenants {
		if t.Subdomain == sub {
			m.tenants = append(m.tenants[:i], m.tenants[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// invalidations records which subdomains the tenant cache was told to drop.
type invalidations struct {
	mu   sync.Mutex
	subs []string
}

func (i *invalidations) Invalidate(_ context.Context, sub string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.subs = append(i.subs, sub)
	return nil
}

func (i *invalidations) list() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.subs...)
}

type memAppointments struct {
	mu    sync.Mutex
	appts map[uuid.UUID]models.Appointment
}

func (m *memAppointments) Create(_ context.Context, a models.Appointment) (*models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.appts[a.ID] = a
	return &a, nil
}

func (m *memAppointments) GetByID(_ context.Context, tenantID string, id uuid.UUID) (*models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.TenantID != tenantID {
		return nil, nil
	}
	return &a, nil
}

func (m *memAppointments) List(_ context.Context, f repository.AppointmentFilter) ([]models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Appointment{}
	for _, a := range m.appts {
		if a.TenantID != f.TenantID {
			continue
		}
		if a.ClientID == f.ClientID || a.ProfessionalID == f.ProfessionalID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAppointments) Cancel(_ context.Context, tenantID string, id uuid.UUID, by uuid.UUID, reason string, at time.Time) (*models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.TenantID != tenantID || a.IsTerminal() {
		return nil, nil
	}
	a.Status = models.StatusCancelled
	a.CancelledAt = &at
	a.CancelledBy = &by
	a.CancellationReason = reason
	m.appts[id] = a
	return &a, nil
}

type memLive struct {
	mu sync.Mutex
	m  map[uuid.UUID]uuid.UUID
}

func (l *memLive) Put(_ context.Context, sid, uid uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m[sid] = uid
	return nil
}

func (l *memLive) Get(_ context.Context, sid uuid.UUID) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m[sid], nil
}

func (l *memLive) Delete(_ context.Context, sid uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, sid)
	return nil
}

// --- server fixture ---

type server struct {
	router        *gin.Engine
	users         *memUsers
	roles         *memRoles
	appts         *memAppointments
	tenants       *memTenants
	invalidations *invalidations
}

func newServer(t *testing.T) *server {
	t.Helper()
	logger := zap.NewNop()
	metrics := observ.NewMetrics()

	roles := &memRoles{}
	users := &memUsers{users: map[uuid.UUID]models.User{}, roles: roles}
	appts := &memAppointments{appts: map[uuid.UUID]models.Appointment{}}
	tenants := &memTenants{}
	cache := &invalidations{}
	builtin := tenant.BuiltinDirectory()

	roleResolver := rbac.NewResolver(roles, rbac.Options{}, metrics, logger)
	provider := identity.NewProvider(users, roles, roleResolver, &memLive{m: map[uuid.UUID]uuid.UUID{}}, logger)
	manager := session.NewManager(provider, session.NewMemoryCache(), nil, time.Second, logger)
	tokens := api.TokenOptions{Secret: testSecret, TTL: time.Hour}

	router := api.NewRouter(api.Deps{
		Tenants:  tenant.NewResolver(tenant.Chain{tenants, builtin}, "demo", metrics, logger),
		Sessions: manager,
		Roles:    roleResolver,
		Metrics:  metrics,
		Limiter:  middleware.NewRateLimiter(1000, 1000),
		Session: middleware.SessionOptions{
			Secret: testSecret, Manager: manager, Wait: time.Second, Logger: logger,
		},
		Logger: logger,

		Auth:         api.NewAuthHandler(manager, provider, tokens, logger),
		SessionState: api.NewSessionHandler(nil, logger),
		Tenant:       api.NewTenantHandler(tenants, builtin, cache, logger),
		Appointments: api.NewAppointmentHandler(appts, time.UTC, logger),
		Users:        api.NewUserHandler(users, roles, provider, logger),
	})

	return &server{router: router, users: users, roles: roles, appts: appts, tenants: tenants, invalidations: cache}
}

func (s *server) seedUser(t *testing.T, email, tenantID string, role models.Role) models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	u, err := s.users.Create(context.Background(), models.User{
		Email: email, DisplayName: email, TenantID: tenantID, PasswordHash: string(hash),
	})
	require.NoError(t, err)
	require.NoError(t, s.roles.Assign(context.Background(), models.RoleAssignment{UserID: u.ID, TenantID: tenantID, Role: role}))
	return *u
}

func (s *server) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) login(t *testing.T, email, query string) string {
	t.Helper()
	w := s.do(http.MethodPost, "/v1/auth/login"+query, "", gin.H{"email": email, "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

// --- tests ---

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/health", "", nil).Code)

	s.do(http.MethodGet, "/v1/tenant", "", nil)
	w := s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestCurrentTenant(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodGet, "/v1/tenant?subdomain=salon", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Tenant       models.Tenant       `json:"tenant"`
		Presentation tenant.Presentation `json:"presentation"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "beauty-salon", resp.Tenant.ID)
	assert.Equal(t, "theme-salon", resp.Presentation.Class)
	assert.Equal(t, "beauty-salon", w.Header().Get(middleware.TenantIDHeader))
}

func TestUnknownTenantFallsBack(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodGet, "/v1/tenant?subdomain=nowhere", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "default", w.Header().Get(middleware.TenantIDHeader))
}

func TestLoginAndSession(t *testing.T) {
	s := newServer(t)
	s.seedUser(t, "jane@example.com", "default", models.RoleClient)

	bad := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "jane@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, bad.Code)

	token := s.login(t, "jane@example.com", "")

	w := s.do(http.MethodGet, "/v1/session", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state session.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, session.StatusAuthenticated, state.Status)
	require.NotNil(t, state.User)
	assert.Equal(t, "jane@example.com", state.User.Email)
	assert.Equal(t, "default", state.TenantID)

	anon := s.do(http.MethodGet, "/v1/session", "", nil)
	require.NoError(t, json.Unmarshal(anon.Body.Bytes(), &state))
	assert.Equal(t, session.StatusUnauthenticated, state.Status)
}

func TestLoginSetsCookie(t *testing.T) {
	s := newServer(t)
	s.seedUser(t, "jane@example.com", "default", models.RoleClient)

	w := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "jane@example.com", "password": "password123"})

	require.Equal(t, http.StatusOK, w.Code)
	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			found = true
			assert.True(t, c.HttpOnly)
		}
	}
	assert.True(t, found)
}

func TestLogout(t *testing.T) {
	s := newServer(t)
	s.seedUser(t, "jane@example.com", "default", models.RoleClient)
	token := s.login(t, "jane@example.com", "")

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/auth/logout", token, nil).Code)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/appointments/me", token, nil).Code)
}

func TestRegister(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/v1/auth/register?subdomain=barber", "", gin.H{
		"email": "new@example.com", "password": "password123", "display_name": "New Client",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "barber-shop", resp.User.TenantID)
	require.NotNil(t, resp.User.Role)
	assert.Equal(t, models.RoleClient, *resp.User.Role)

	dup := s.do(http.MethodPost, "/v1/auth/register?subdomain=barber", "", gin.H{
		"email": "new@example.com", "password": "password123", "display_name": "Again",
	})
	assert.Equal(t, http.StatusConflict, dup.Code)
}

func TestMyAppointmentsPartitioned(t *testing.T) {
	s := newServer(t)
	client := s.seedUser(t, "client@example.com", "default", models.RoleClient)
	pro := s.seedUser(t, "pro@example.com", "default", models.RoleProfessional)
	now := time.Now().UTC()

	for _, start := range []time.Time{now.AddDate(0, 0, -2), now.AddDate(0, 0, 3), now.AddDate(0, 0, 1)} {
		_, err := s.appts.Create(context.Background(), models.Appointment{
			TenantID: "default", ClientID: client.ID, ProfessionalID: pro.ID,
			StartTime: start, EndTime: start.Add(time.Hour), Status: models.StatusScheduled,
		})
		require.NoError(t, err)
	}

	for _, email := range []string{"client@example.com", "pro@example.com"} {
		token := s.login(t, email, "")
		w := s.do(http.MethodGet, "/v1/appointments/me", token, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Upcoming []models.Appointment `json:"upcoming"`
			Past     []models.Appointment `json:"past"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Upcoming, 2, email)
		require.Len(t, resp.Past, 1, email)
		assert.True(t, resp.Upcoming[0].StartTime.Before(resp.Upcoming[1].StartTime))
	}
}

func TestMyAppointmentsRequiresLogin(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodGet, "/v1/appointments/me", "", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "returnTo")
}

func TestCreateAppointment(t *testing.T) {
	s := newServer(t)
	client := s.seedUser(t, "client@example.com", "dental-clinic", models.RoleClient)
	pro := s.seedUser(t, "pro@example.com", "dental-clinic", models.RoleProfessional)
	other := uuid.New()
	token := s.login(t, "client@example.com", "?subdomain=dental")
	start := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Minute)

	w := s.do(http.MethodPost, "/v1/appointments?subdomain=dental", token, gin.H{
		"professional_id": pro.ID, "client_id": other, "start_time": start, "title": "Cleaning",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.Appointment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, client.ID, created.ClientID, "clients book for themselves")
	assert.Equal(t, "dental-clinic", created.TenantID)
	assert.Equal(t, 60*time.Minute, created.EndTime.Sub(created.StartTime))
	assert.Equal(t, models.StatusScheduled, created.Status)

	bad := s.do(http.MethodPost, "/v1/appointments?subdomain=dental", token, gin.H{
		"professional_id": pro.ID, "start_time": start, "end_time": start.Add(-time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestCancelAppointment(t *testing.T) {
	s := newServer(t)
	client := s.seedUser(t, "client@example.com", "default", models.RoleClient)
	pro := s.seedUser(t, "pro@example.com", "default", models.RoleProfessional)
	s.seedUser(t, "stranger@example.com", "default", models.RoleClient)

	soon, err := s.appts.Create(context.Background(), models.Appointment{
		TenantID: "default", ClientID: client.ID, ProfessionalID: pro.ID,
		StartTime: time.Now().Add(time.Hour), EndTime: time.Now().Add(2 * time.Hour), Status: models.StatusScheduled,
	})
	require.NoError(t, err)
	path := "/v1/appointments/" + soon.ID.String() + "/cancel"

	stranger := s.login(t, "stranger@example.com", "")
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, path, stranger, nil).Code)

	token := s.login(t, "client@example.com", "")
	w := s.do(http.MethodPost, path, token, gin.H{"reason": "sick"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Appointment       models.Appointment `json:"appointment"`
		PenaltyApplies    bool               `json:"penalty_applies"`
		PenaltyPercentage int                `json:"penalty_percentage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusCancelled, resp.Appointment.Status)
	assert.Equal(t, "sick", resp.Appointment.CancellationReason)

	policy := tenant.DefaultTenant().Settings.CancellationPolicy
	assert.Equal(t, policy.TimeBeforeInHours > 1 && policy.PenaltyPercentage > 0, resp.PenaltyApplies)

	again := s.do(http.MethodPost, path, token, nil)
	assert.Equal(t, http.StatusConflict, again.Code)
}

func TestUserAdministration(t *testing.T) {
	s := newServer(t)
	s.seedUser(t, "admin@example.com", "default", models.RoleAdmin)
	target := s.seedUser(t, "target@example.com", "default", models.RoleClient)
	s.seedUser(t, "client@example.com", "default", models.RoleClient)

	client := s.login(t, "client@example.com", "")
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/v1/users", client, nil).Code)

	admin := s.login(t, "admin@example.com", "")
	w := s.do(http.MethodGet, "/v1/users", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Users []models.User `json:"users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Users, 3)

	rolePath := "/v1/users/" + target.ID.String() + "/role"
	ok := s.do(http.MethodPut, rolePath, admin, gin.H{"role": "professional"})
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
	rows, err := s.roles.List(context.Background(), repository.RoleFilter{UserID: target.ID, TenantID: "default"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleProfessional, rows[0].Role)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPut, rolePath, admin, gin.H{"role": "super_admin"}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, rolePath, admin, gin.H{"role": "owner"}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPut, "/v1/users/"+uuid.NewString()+"/role", admin, gin.H{"role": "client"}).Code)
}

func TestTenantListing(t *testing.T) {
	s := newServer(t)
	s.seedUser(t, "super@example.com", "default", models.RoleSuperAdmin)
	s.seedUser(t, "admin@example.com", "default", models.RoleAdmin)

	admin := s.login(t, "admin@example.com", "")
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/v1/tenants", admin, nil).Code)

	super := s.login(t, "super@example.com", "")
	w := s.do(http.MethodGet, "/v1/tenants", super, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Tenants []models.Tenant `json:"tenants"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Tenants, 4)
	assert.Equal(t, "barber", resp.Tenants[0].Subdomain)
}

func TestDemotedAdminLosesAccess(t *testing.T) {
	s := newServer(t)
	s.seedUser(t, "super@example.com", "default", models.RoleSuperAdmin)
	admin := s.seedUser(t, "admin@example.com", "default", models.RoleAdmin)

	adminToken := s.login(t, "admin@example.com", "")
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/users", adminToken, nil).Code)

	super := s.login(t, "super@example.com", "")
	w := s.do(http.MethodPut, "/v1/users/"+admin.ID.String()+"/role", super, gin.H{"role": "client"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/v1/users", adminToken, nil).Code)

	var state session.State
	require.NoError(t, json.Unmarshal(s.do(http.MethodGet, "/v1/session", adminToken, nil).Body.Bytes(), &state))
	require.NotNil(t, state.User)
	require.NotNil(t, state.User.Role)
	assert.Equal(t, models.RoleClient, *state.User.Role)
}

func TestPromotionTakesEffectImmediately(t *testing.T) {
	s := newServer(t)
	s.seedUser(t, "admin@example.com", "default", models.RoleAdmin)
	pro := s.seedUser(t, "pro@example.com", "default", models.RoleProfessional)

	proToken := s.login(t, "pro@example.com", "")
	require.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/v1/users", proToken, nil).Code)

	admin := s.login(t, "admin@example.com", "")
	require.Equal(t, http.StatusOK, s.do(http.MethodPut, "/v1/users/"+pro.ID.String()+"/role", admin, gin.H{"role": "admin"}).Code)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/users", proToken, nil).Code)
}

func TestAdminCannotChangeHigherRoles(t *testing.T) {
	s := newServer(t)
	s.seedUser(t, "admin@example.com", "default", models.RoleAdmin)
	super := s.seedUser(t, "super@example.com", "default", models.RoleSuperAdmin)
	master := s.seedUser(t, "master@example.com", "default", models.RoleMaster)
	admin := s.login(t, "admin@example.com", "")

	for _, target := range []models.User{super, master} {
		w := s.do(http.MethodPut, "/v1/users/"+target.ID.String()+"/role", admin, gin.H{"role": "client"})
		assert.Equal(t, http.StatusForbidden, w.Code, target.Email)

		rows, err := s.roles.List(context.Background(), repository.RoleFilter{UserID: target.ID, TenantID: "default"})
		require.NoError(t, err)
		assert.NotEqual(t, models.RoleClient, rows[0].Role, target.Email)
	}

	superToken := s.login(t, "super@example.com", "")
	w := s.do(http.MethodPut, "/v1/users/"+master.ID.String()+"/role", superToken, gin.H{"role": "admin"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateMyProfile(t *testing.T) {
	s := newServer(t)
	s.seedUser(t, "pro@example.com", "default", models.RoleProfessional)
	token := s.login(t, "pro@example.com", "")

	w := s.do(http.MethodPut, "/v1/users/me", token, gin.H{
		"phone": "+55 11 90000-0000", "specialty": "Orthodontics", "birth_date": "1990-04-02",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var state session.State
	require.NoError(t, json.Unmarshal(s.do(http.MethodGet, "/v1/session", token, nil).Body.Bytes(), &state))
	require.NotNil(t, state.User)
	assert.Equal(t, "+55 11 90000-0000", state.User.Phone)
	assert.Equal(t, "Orthodontics", state.User.Specialty)
	assert.Equal(t, "pro@example.com", state.User.DisplayName, "omitted fields are kept")

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPut, "/v1/users/me", "", gin.H{"phone": "x"}).Code)
}

func TestChangePassword(t *testing.T) {
	s := newServer(t)
	s.seedUser(t, "jane@example.com", "default", models.RoleClient)
	token := s.login(t, "jane@example.com", "")

	missing := s.do(http.MethodPut, "/v1/users/me", token, gin.H{"new_password": "brand new pw"})
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	wrong := s.do(http.MethodPut, "/v1/users/me", token, gin.H{"current_password": "nope", "new_password": "brand new pw"})
	assert.Equal(t, http.StatusForbidden, wrong.Code)

	short := s.do(http.MethodPut, "/v1/users/me", token, gin.H{"current_password": "password123", "new_password": "short"})
	assert.Equal(t, http.StatusBadRequest, short.Code)

	ok := s.do(http.MethodPut, "/v1/users/me", token, gin.H{"current_password": "password123", "new_password": "brand new pw"})
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())

	old := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "jane@example.com", "password": "password123"})
	assert.Equal(t, http.StatusUnauthorized, old.Code)
	fresh := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "jane@example.com", "password": "brand new pw"})
	assert.Equal(t, http.StatusOK, fresh.Code)
}

func TestTenantAdministration(t *testing.T) {
	s := newServer(t)
	s.seedUser(t, "super@example.com", "default", models.RoleSuperAdmin)
	s.seedUser(t, "admin@example.com", "default", models.RoleAdmin)
	super := s.login(t, "super@example.com", "")
	admin := s.login(t, "admin@example.com", "")
	spa := gin.H{"name": "Zen Spa", "subdomain": "Spa", "theme": "salon"}

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/v1/tenants", admin, spa).Code)

	w := s.do(http.MethodPost, "/v1/tenants", super, spa)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.Tenant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "spa", created.ID)
	assert.Equal(t, "spa", created.Subdomain)
	assert.Equal(t, models.SubscriptionTrial, created.SubscriptionStatus)
	assert.Positive(t, created.Settings.AppointmentDuration)

	dup := s.do(http.MethodPost, "/v1/tenants", super, gin.H{"name": "Other", "subdomain": "spa"})
	assert.Equal(t, http.StatusConflict, dup.Code)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/tenants", super, gin.H{"name": "Bad", "subdomain": "no spaces"}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/tenants", super, gin.H{"name": "Bad", "subdomain": "ok", "theme": "neon"}).Code)

	resolved := s.do(http.MethodGet, "/v1/tenant?subdomain=spa", "", nil)
	assert.Equal(t, "spa", resolved.Header().Get(middleware.TenantIDHeader))

	upd := s.do(http.MethodPut, "/v1/tenants/spa", super, gin.H{"name": "Zen Day Spa", "subdomain": "dayspa", "theme": "custom",
		"custom_colors": gin.H{"primary": "#111111", "secondary": "#222222", "accent": "#333333"}})
	require.Equal(t, http.StatusOK, upd.Code, upd.Body.String())
	var updated models.Tenant
	require.NoError(t, json.Unmarshal(upd.Body.Bytes(), &updated))
	assert.Equal(t, "spa", updated.ID, "the id never changes")
	assert.Equal(t, "dayspa", updated.Subdomain)

	s.do(http.MethodPost, "/v1/tenants", super, gin.H{"name": "Nails", "subdomain": "nails"})
	clash := s.do(http.MethodPut, "/v1/tenants/nails", super, gin.H{"name": "Nails", "subdomain": "dayspa"})
	assert.Equal(t, http.StatusConflict, clash.Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPut, "/v1/tenants/nowhere", super, gin.H{"name": "X", "subdomain": "x"}).Code)

	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/v1/tenants/dayspa", super, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/v1/tenants/dayspa", super, nil).Code)

	assert.Equal(t, []string{"spa", "spa", "dayspa", "nails", "dayspa"}, s.invalidations.list())
}
