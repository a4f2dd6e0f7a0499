// Package session owns the authentication state of each browsing session.
//
// A Store holds one session's state. It changes only through dispatch,
// which runs the pure reduce function; everything else reads State or
// subscribes.
package session

import (
	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/tenant"
)

type Status string

const (
	StatusChecking        Status = "checking"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
)

// State is a snapshot. User and Theme are never mutated after a state is
// published, so snapshots can be shared freely.
type State struct {
	Status   Status               `json:"status"`
	User     *models.User         `json:"user"`
	TenantID string               `json:"tenant_id,omitempty"`
	Theme    *tenant.Presentation `json:"theme,omitempty"`
	// Err is the message shown to the user after a failed sign-in or an
	// expired session. Empty otherwise.
	Err string `json:"error,omitempty"`
}

func (s State) Authenticated() bool { return s.Status == StatusAuthenticated && s.User != nil }

type actionKind int

const (
	actionCheck actionKind = iota
	actionAuthenticate
	actionFail
	actionSignOut
	actionActivateTenant
)

type action struct {
	kind  actionKind
	user  *models.User
	err   string
	theme *tenant.Presentation
}

func check() action                         { return action{kind: actionCheck} }
func authenticate(u *models.User) action    { return action{kind: actionAuthenticate, user: u} }
func fail(msg string) action                { return action{kind: actionFail, err: msg} }
func signOut() action                       { return action{kind: actionSignOut} }
func activate(p tenant.Presentation) action { return action{kind: actionActivateTenant, theme: &p} }

// reduce is the only place a State is derived. Tenant and theme survive
// authentication changes: they belong to the browsing session, not to
// the user.
func reduce(s State, a action) State {
	switch a.kind {
	case actionCheck:
		s.Status = StatusChecking
		s.Err = ""
	case actionAuthenticate:
		s.Status = StatusAuthenticated
		s.User = a.user
		s.Err = ""
	case actionFail:
		s.Status = StatusUnauthenticated
		s.User = nil
		s.Err = a.err
	case actionSignOut:
		s.Status = StatusUnauthenticated
		s.User = nil
		s.Err = ""
	case actionActivateTenant:
		s.TenantID = a.theme.TenantID
		s.Theme = a.theme
	}
	return s
}
