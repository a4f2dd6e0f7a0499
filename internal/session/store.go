package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/tenant"
	"go.uber.org/zap"
)

const (
	msgSessionExpired = "Session expired. Please login again."
	msgSignInFailed   = "Login failed"

	// refreshCacheTimeout bounds the cache write that follows a pushed
	// account update; no request context exists at that point.
	refreshCacheTimeout = 2 * time.Second
)

// ErrSuperseded is returned when a sign-in finished after a newer
// operation on the same session; its result was discarded.
var ErrSuperseded = errors.New("session operation superseded")

// ThemeApplier is told about a tenant change, once per change.
type ThemeApplier func(sessionID uuid.UUID, p tenant.Presentation)

// Store is the single owner of one session's State.
//
// Three things race to change a session: a Restore started by the first
// request, a SignIn or SignOut from the client, and events pushed by the
// identity provider. Each of them may finish in any order, and a slow
// Restore that completes after a SignOut must not sign the user back in.
//
// Generations settle that. Every asynchronous operation captures a
// generation number when it starts. A later operation bumps the
// generation, and the earlier one's result is dropped instead of
// overwriting newer state. Provider events that describe the current
// session (its own sign-in echo, an account update) apply without a bump.
//
// All writes go through dispatch and the pure reduce function, so the
// state a subscriber sees is always one the reducer produced.
type Store struct {
	id       uuid.UUID
	provider IdentityProvider
	cache    Cache
	applier  ThemeApplier
	logger   *zap.Logger

	// dispatchMu serializes dispatch and subscriber notification so
	// subscribers see states in order.
	dispatchMu sync.Mutex

	mu       sync.Mutex
	state    State
	gen      uint64
	subs     map[int]func(State)
	nextSub  int
	detach   func()
	lastSeen time.Time
}

func NewStore(id uuid.UUID, provider IdentityProvider, cache Cache, applier ThemeApplier, logger *zap.Logger) *Store {
	return &Store{
		id:       id,
		provider: provider,
		cache:    cache,
		applier:  applier,
		logger:   logger.With(zap.String("session_id", id.String())),
		state:    State{Status: StatusChecking},
		subs:     make(map[int]func(State)),
		lastSeen: time.Now(),
	}
}

func (s *Store) ID() uuid.UUID { return s.id }

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe calls fn with every new state until cancel is called. fn runs
// synchronously inside dispatch and must not call back into the Store's
// mutating methods.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Await blocks until the session is no longer checking or ctx is done.
func (s *Store) Await(ctx context.Context) (State, error) {
	settled := make(chan State, 1)
	cancel := s.Subscribe(func(st State) {
		if st.Status == StatusChecking {
			return
		}
		select {
		case settled <- st:
		default:
		}
	})
	defer cancel()

	if st := s.State(); st.Status != StatusChecking {
		return st, nil
	}
	select {
	case st := <-settled:
		return st, nil
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// Attach subscribes the store to the provider's auth events. A store has
// at most one provider subscription; attaching again replaces it.
func (s *Store) Attach() {
	unsubscribe := s.provider.Subscribe(func(ev Event) {
		if ev.Type == EventUserUpdated {
			s.refresh(ev.User)
			return
		}
		if ev.SessionID != s.id {
			return
		}
		switch ev.Type {
		case EventSignedIn:
			// Our own SignIn publishes this too; it must not supersede it.
			if ev.User != nil {
				s.dispatchMu.Lock()
				s.apply(authenticate(ev.User))
				s.dispatchMu.Unlock()
			}
		case EventSignedOut:
			s.dispatch(s.bump(), signOut())
		}
	})

	s.mu.Lock()
	prev := s.detach
	s.detach = unsubscribe
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Detach drops the provider subscription and all state subscribers.
func (s *Store) Detach() {
	s.mu.Lock()
	prev := s.detach
	s.detach = nil
	s.subs = make(map[int]func(State))
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Restore recovers the session: the provider's live session first, then
// the cached user. A cached user without email or role is discarded.
// A usable cached user comes back without its role: the role may have
// changed since it was written, so the resolver looks it up again.
func (s *Store) Restore(ctx context.Context) {
	gen := s.bump()
	s.dispatch(gen, check())

	user, err := s.provider.CurrentSession(ctx, s.id)
	if err != nil {
		s.logger.Warn("identity provider session lookup failed", zap.Error(err))
	}
	if user != nil {
		if s.dispatch(gen, authenticate(user)) {
			s.mirror(ctx, user)
		}
		return
	}

	cached, ok := s.readCache(ctx)
	if !ok {
		s.dispatch(gen, fail(msgSessionExpired))
		return
	}
	if cached == nil {
		s.dispatch(gen, signOut())
		return
	}
	cached.Role = nil
	s.dispatch(gen, authenticate(cached))
}

// SignIn authenticates with the provider and mirrors the user to the
// cache. A failure leaves the session unauthenticated with a message.
func (s *Store) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	gen := s.bump()
	s.dispatch(gen, check())

	user, err := s.provider.SignIn(ctx, s.id, email, password)
	if err != nil {
		msg := msgSignInFailed
		if err.Error() != "" {
			msg = err.Error()
		}
		s.dispatch(gen, fail(msg))
		return nil, err
	}

	if !s.dispatch(gen, authenticate(user)) {
		return nil, ErrSuperseded
	}
	s.mirror(ctx, user)
	return user, nil
}

// SignOut ends the provider session and clears the cached user. The local
// state is signed out even if the provider call fails.
func (s *Store) SignOut(ctx context.Context) error {
	gen := s.bump()

	err := s.provider.SignOut(ctx, s.id)
	if err != nil {
		s.logger.Warn("identity provider sign-out failed", zap.Error(err))
	}
	if cerr := s.cache.Delete(ctx, s.id, UserSlot); cerr != nil {
		s.logger.Warn("failed to clear cached user", zap.Error(cerr))
	}
	s.dispatch(gen, signOut())
	return err
}

// ActivateTenant makes t the session's tenant. The theme applier runs
// only when the tenant actually changes.
func (s *Store) ActivateTenant(t *models.Tenant) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	changed := s.state.TenantID != t.ID
	s.mu.Unlock()
	if !changed {
		return
	}

	p := tenant.PresentationFor(t)
	s.apply(activate(p))
	if s.applier != nil {
		s.applier(s.id, p)
	}
}

// refresh swaps in a reloaded copy of the signed-in account and mirrors
// it to the cache. Sessions signed in as someone else, or not at all,
// are left alone.
func (s *Store) refresh(u *models.User) {
	if u == nil {
		return
	}

	s.dispatchMu.Lock()
	s.mu.Lock()
	cur := s.state
	s.mu.Unlock()
	if !cur.Authenticated() || cur.User.ID != u.ID {
		s.dispatchMu.Unlock()
		return
	}
	s.apply(authenticate(u))
	s.dispatchMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), refreshCacheTimeout)
	defer cancel()
	s.mirror(ctx, u)
}

// touch records activity for idle eviction.
func (s *Store) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Store) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// bump starts a new generation; results of older ones will be dropped.
func (s *Store) bump() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

// dispatch applies a if gen is still current and reports whether it did.
func (s *Store) dispatch(gen uint64, a action) bool {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	current := s.gen == gen
	s.mu.Unlock()
	if !current {
		s.logger.Debug("discarding stale session result")
		return false
	}
	s.apply(a)
	return true
}

// apply runs the reducer and notifies subscribers. Callers hold dispatchMu.
func (s *Store) apply(a action) {
	s.mu.Lock()
	s.state = reduce(s.state, a)
	next := s.state
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}

func (s *Store) mirror(ctx context.Context, u *models.User) {
	raw, err := json.Marshal(u)
	if err != nil {
		s.logger.Warn("failed to encode user for cache", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, s.id, UserSlot, raw); err != nil {
		s.logger.Warn("failed to cache user", zap.Error(err))
	}
}

// readCache returns the cached user. ok is false when the slot held
// something unusable; the slot is cleared in that case. (nil, true) is
// a plain miss.
func (s *Store) readCache(ctx context.Context) (*models.User, bool) {
	raw, err := s.cache.Get(ctx, s.id, UserSlot)
	if err != nil {
		s.logger.Warn("failed to read cached user", zap.Error(err))
		return nil, true
	}
	if raw == nil {
		return nil, true
	}

	var u models.User
	if err := json.Unmarshal(raw, &u); err != nil || u.Email == "" || u.Role == nil {
		s.logger.Info("clearing malformed cached user", zap.NamedError("decode_error", err))
		if derr := s.cache.Delete(ctx, s.id, UserSlot); derr != nil {
			s.logger.Warn("failed to clear cached user", zap.Error(derr))
		}
		return nil, false
	}
	return &u, true
}
