// Package guard decides whether a protected view may be served.
//
// Decide is pure: it takes the current authentication and role state and
// returns one of four outcomes. The HTTP layer turns the outcome into a
// status code or redirect.
package guard

import (
	"net/url"

	"github.com/lalith-99/agenda/internal/models"
)

type State string

const (
	// StateChecking: session or role resolution still in flight.
	StateChecking        State = "checking"
	StateUnauthenticated State = "unauthenticated"
	StateUnauthorized    State = "unauthorized"
	StateAuthorized      State = "authorized"
)

const (
	LoginPath          = "/login"
	UnauthorizedPath   = "/unauthorized"
	ReturnToQueryParam = "returnTo"
)

// Requirement is what a route demands. With no roles the route only needs
// an authenticated user.
type Requirement struct {
	Roles []models.Role
	// FallbackPath overrides where an authenticated but unauthorized user
	// is sent. Empty means UnauthorizedPath.
	FallbackPath string
}

// Require lists the roles a route accepts. Master always passes on top of
// these; there is no wildcard.
func Require(roles ...models.Role) Requirement {
	return Requirement{Roles: roles}
}

// Authenticated is the requirement of routes that only need a user.
func Authenticated() Requirement {
	return Requirement{}
}

func (r Requirement) WithFallback(path string) Requirement {
	r.FallbackPath = path
	return r
}

func (r Requirement) allows(role models.Role) bool {
	if role == models.RoleMaster {
		return true
	}
	if len(r.Roles) == 0 {
		return true
	}
	for _, allowed := range r.Roles {
		if role == allowed {
			return true
		}
	}
	return false
}

// Input is everything Decide looks at.
type Input struct {
	// AuthResolved is false while the session is being restored.
	AuthResolved bool
	// User is nil when nobody is signed in.
	User *models.User
	// RoleResolved is false while the role lookup is in flight. It is
	// ignored when there is no user.
	RoleResolved bool
	Role         models.Role

	Requirement Requirement
	// RequestedPath is the path (with query) the user asked for; it is
	// carried to the login page so sign-in can return there.
	RequestedPath string
}

type Decision struct {
	State State
	// Redirect is set for the unauthenticated and unauthorized states.
	Redirect string
}

func (d Decision) Allowed() bool { return d.State == StateAuthorized }

// Decide applies the guard. It is a pure function of its input, so the
// HTTP middleware and the tests drive exactly the same logic.
//
// The checks run in a fixed order:
//  1. A session still being restored is "checking". Answering 401 here
//     would bounce a signed-in user to the login page on their first
//     request after a restart.
//  2. No user is "unauthenticated", with a login URL that comes back.
//  3. A route with no role list only needs a user.
//  4. A role lookup still in flight is "checking" too, never a guess.
//  5. Master passes every list, then the list itself decides.
//
// Anything that fails step 5 is "unauthorized" and sent to the route's
// fallback page.
func Decide(in Input) Decision {
	if !in.AuthResolved {
		return Decision{State: StateChecking}
	}
	if in.User == nil {
		return Decision{State: StateUnauthenticated, Redirect: LoginRedirect(in.RequestedPath)}
	}
	if len(in.Requirement.Roles) == 0 {
		return Decision{State: StateAuthorized}
	}
	if !in.RoleResolved {
		return Decision{State: StateChecking}
	}
	if in.Requirement.allows(in.Role) {
		return Decision{State: StateAuthorized}
	}

	fallback := in.Requirement.FallbackPath
	if fallback == "" {
		fallback = UnauthorizedPath
	}
	return Decision{State: StateUnauthorized, Redirect: fallback}
}

// LoginRedirect builds the login URL that returns to requested after
// sign-in.
func LoginRedirect(requested string) string {
	if requested == "" || requested == LoginPath {
		return LoginPath
	}
	return LoginPath + "?" + url.Values{ReturnToQueryParam: {requested}}.Encode()
}
