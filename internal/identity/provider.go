// Package identity is the identity provider: credential checks, live
// sessions and the auth event feed.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/rbac"
	"github.com/lalith-99/agenda/internal/repository"
	"github.com/lalith-99/agenda/internal/session"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password, so callers can't tell which emails are registered.
	ErrInvalidCredentials = errors.New("Invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	// ErrPasswordMismatch is a password change whose current password
	// does not match.
	ErrPasswordMismatch = errors.New("current password is incorrect")
)

// LiveSessions stores which user a live session belongs to.
type LiveSessions interface {
	Put(ctx context.Context, sessionID, userID uuid.UUID) error
	// Get returns uuid.Nil for an unknown or expired session.
	Get(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, error)
	Delete(ctx context.Context, sessionID uuid.UUID) error
}

type Provider struct {
	users    repository.UserRepository
	roles    repository.RoleRepository
	resolver *rbac.Resolver
	live     LiveSessions
	logger   *zap.Logger

	mu   sync.Mutex
	subs map[int]func(session.Event)
	next int
}

var _ session.IdentityProvider = (*Provider)(nil)

func NewProvider(
	users repository.UserRepository,
	roles repository.RoleRepository,
	resolver *rbac.Resolver,
	live LiveSessions,
	logger *zap.Logger,
) *Provider {
	return &Provider{
		users:    users,
		roles:    roles,
		resolver: resolver,
		live:     live,
		logger:   logger,
		subs:     make(map[int]func(session.Event)),
	}
}

func (p *Provider) CurrentSession(ctx context.Context, sessionID uuid.UUID) (*models.User, error) {
	userID, err := p.live.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if userID == uuid.Nil {
		return nil, nil
	}

	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load session user: %w", err)
	}
	if user == nil {
		// The account is gone; so is the session.
		if err := p.live.Delete(ctx, sessionID); err != nil {
			p.logger.Warn("failed to drop orphaned session", zap.Error(err))
		}
		return nil, nil
	}
	return p.withRole(ctx, user)
}

func (p *Provider) SignIn(ctx context.Context, sessionID uuid.UUID, email, password string) (*models.User, error) {
	user, err := p.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err = p.withRole(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := p.live.Put(ctx, sessionID, user.ID); err != nil {
		return nil, err
	}

	p.logger.Info("user signed in",
		zap.String("user_id", user.ID.String()),
		zap.String("role", user.Role.String()),
	)
	p.publish(session.Event{Type: session.EventSignedIn, SessionID: sessionID, User: user})
	return user, nil
}

func (p *Provider) SignOut(ctx context.Context, sessionID uuid.UUID) error {
	err := p.live.Delete(ctx, sessionID)
	p.publish(session.Event{Type: session.EventSignedOut, SessionID: sessionID})
	return err
}

func (p *Provider) Subscribe(fn func(session.Event)) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Registration is a new account. The user starts as a client of TenantID.
type Registration struct {
	Email       string
	Password    string
	DisplayName string
	TenantID    string
	Phone       string
}

// Register creates the account and its client role assignment. It does
// not sign the user in.
func (p *Provider) Register(ctx context.Context, r Registration) (*models.User, error) {
	email := normalizeEmail(r.Email)
	existing, err := p.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := p.users.Create(ctx, models.User{
		Email:        email,
		DisplayName:  r.DisplayName,
		TenantID:     r.TenantID,
		Phone:        r.Phone,
		PasswordHash: string(hash),
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	err = p.roles.Assign(ctx, models.RoleAssignment{
		UserID:   user.ID,
		TenantID: r.TenantID,
		Role:     models.RoleClient,
	})
	if err != nil {
		return nil, fmt.Errorf("assign client role: %w", err)
	}

	withRole := user.WithRole(models.RoleClient)
	return &withRole, nil
}

// RefreshUser reloads an account with its role resolved again and pushes
// it to every session signed in as that user. Call it after anything
// that changes what a session carries: a role assignment or a profile
// edit. (nil, nil) means the account no longer exists.
func (p *Provider) RefreshUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reload user: %w", err)
	}
	if user == nil {
		return nil, nil
	}
	user.Role = nil

	user, err = p.withRole(ctx, user)
	if err != nil {
		return nil, err
	}
	p.publish(session.Event{Type: session.EventUserUpdated, User: user})
	return user, nil
}

// ProfileUpdate is a self-service edit. Nil fields are left unchanged.
// NewPassword, when set, needs CurrentPassword to match.
type ProfileUpdate struct {
	DisplayName     *string
	Phone           *string
	BirthDate       *string
	Specialty       *string
	Bio             *string
	CurrentPassword string
	NewPassword     string
}

// UpdateProfile applies p to the account and refreshes its sessions.
// It returns repository.ErrNotFound for an unknown user.
func (p *Provider) UpdateProfile(ctx context.Context, userID uuid.UUID, upd ProfileUpdate) (*models.User, error) {
	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, repository.ErrNotFound
	}

	if upd.NewPassword != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(upd.CurrentPassword)); err != nil {
			return nil, ErrPasswordMismatch
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(upd.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = string(hash)
	}

	for _, f := range []struct {
		dst *string
		src *string
	}{
		{&user.DisplayName, upd.DisplayName},
		{&user.Phone, upd.Phone},
		{&user.BirthDate, upd.BirthDate},
		{&user.Specialty, upd.Specialty},
		{&user.Bio, upd.Bio},
	} {
		if f.src != nil {
			*f.dst = strings.TrimSpace(*f.src)
		}
	}

	updated, err := p.users.Update(ctx, *user)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if updated == nil {
		return nil, repository.ErrNotFound
	}

	p.logger.Info("profile updated",
		zap.String("user_id", userID.String()),
		zap.Bool("password_changed", upd.NewPassword != ""),
	)

	refreshed, err := p.RefreshUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if refreshed == nil {
		return nil, repository.ErrNotFound
	}
	return refreshed, nil
}

// withRole attaches the role the user holds in their home tenant, so later
// checks take the resolver's fast path.
func (p *Provider) withRole(ctx context.Context, user *models.User) (*models.User, error) {
	if user.Role != nil {
		return user, nil
	}
	res := p.resolver.Resolve(ctx, user, user.TenantID)
	if !res.Resolved() {
		return nil, fmt.Errorf("resolve role: %w", res.Err)
	}
	u := user.WithRole(res.Role)
	return &u, nil
}

func (p *Provider) publish(ev session.Event) {
	p.mu.Lock()
	fns := make([]func(session.Event), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
