package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/agenda/internal/models"
)

// Every method takes ctx first: if the HTTP request is cancelled, the
// query is cancelled with it.
//
// Lookups return (nil, nil) when nothing matches. Callers decide whether
// a miss is an error (404) or a fallback (default tenant, client role).

// ErrNotFound is for callers that turn a (nil, nil) lookup into an error.
var ErrNotFound = errors.New("not found")

// ErrConflict is a write that would break a uniqueness rule, such as a
// second tenant on the same subdomain.
var ErrConflict = errors.New("conflict")

// UserRepository handles user accounts.
type UserRepository interface {
	// Create inserts a user and returns it with ID and CreatedAt populated.
	Create(ctx context.Context, u models.User) (*models.User, error)

	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// GetByEmail looks a user up globally. Used at sign-in.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// ListByTenant returns users holding any role in the tenant.
	ListByTenant(ctx context.Context, tenantID string) ([]models.User, error)

	// Update writes the profile fields and password hash of u.ID. Email,
	// home tenant and CreatedAt never change. (nil, nil) if no such user.
	Update(ctx context.Context, u models.User) (*models.User, error)
}

// RoleFilter narrows a role-assignment query. An empty TenantID matches
// every tenant.
type RoleFilter struct {
	UserID   uuid.UUID
	TenantID string
}

// RoleRepository is the role-assignment table: rows of (user, tenant, role).
type RoleRepository interface {
	// List returns matching assignments, oldest first. Empty slice, not nil.
	List(ctx context.Context, f RoleFilter) ([]models.RoleAssignment, error)

	// Assign upserts the user's role in a tenant.
	Assign(ctx context.Context, a models.RoleAssignment) error
}

// TenantRepository is the tenant directory's persistent backend.
type TenantRepository interface {
	GetBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error)
	List(ctx context.Context) ([]models.Tenant, error)

	// Create inserts t. A taken id or subdomain is ErrConflict.
	Create(ctx context.Context, t models.Tenant) (*models.Tenant, error)

	// Update replaces the tenant currently at subdomain with t; t may move
	// it to a new subdomain. The id never changes. (nil, nil) if no tenant
	// has that subdomain, ErrConflict if t.Subdomain is taken.
	Update(ctx context.Context, subdomain string, t models.Tenant) (*models.Tenant, error)

	// Delete removes the tenant and reports whether one existed.
	Delete(ctx context.Context, subdomain string) (bool, error)
}

// AppointmentFilter selects appointments for one participant.
type AppointmentFilter struct {
	TenantID       string
	ClientID       uuid.UUID
	ProfessionalID uuid.UUID
}

// AppointmentRepository handles appointment persistence.
type AppointmentRepository interface {
	Create(ctx context.Context, a models.Appointment) (*models.Appointment, error)

	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*models.Appointment, error)

	// List returns every appointment matching the filter, in no particular
	// order. Ordering is the partitioner's job.
	List(ctx context.Context, f AppointmentFilter) ([]models.Appointment, error)

	// Cancel marks an appointment cancelled and records who and why.
	Cancel(ctx context.Context, tenantID string, id uuid.UUID, by uuid.UUID, reason string, at time.Time) (*models.Appointment, error)
}
