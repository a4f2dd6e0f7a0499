package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/agenda/internal/models"
)

type EventType string

const (
	EventSignedIn  EventType = "signed_in"
	EventSignedOut EventType = "signed_out"
	// EventUserUpdated carries a reloaded account after a role change or
	// a profile edit. It has no SessionID: it applies to every session
	// signed in as User.ID.
	EventUserUpdated EventType = "user_updated"
)

// Event is an auth-state change pushed by the identity provider.
type Event struct {
	Type      EventType
	SessionID uuid.UUID
	User      *models.User
}

// IdentityProvider is the remote identity service a Store consumes.
type IdentityProvider interface {
	// CurrentSession returns the user of a live session, or (nil, nil)
	// when the session is unknown or expired.
	CurrentSession(ctx context.Context, sessionID uuid.UUID) (*models.User, error)

	// SignIn checks credentials and opens a live session under sessionID.
	SignIn(ctx context.Context, sessionID uuid.UUID, email, password string) (*models.User, error)

	SignOut(ctx context.Context, sessionID uuid.UUID) error

	// Subscribe registers fn for every auth event and returns a function
	// that removes it.
	Subscribe(fn func(Event)) (unsubscribe func())
}
