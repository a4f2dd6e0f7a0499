package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager keeps one Store per live session id. A Store is created on first
// use, attached to the provider and restored in the background.
type Manager struct {
	provider       IdentityProvider
	cache          Cache
	applier        ThemeApplier
	restoreTimeout time.Duration
	logger         *zap.Logger

	mu     sync.Mutex
	stores map[uuid.UUID]*Store
}

func NewManager(provider IdentityProvider, cache Cache, applier ThemeApplier, restoreTimeout time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		provider:       provider,
		cache:          cache,
		applier:        applier,
		restoreTimeout: restoreTimeout,
		logger:         logger,
		stores:         make(map[uuid.UUID]*Store),
	}
}

// Get returns the session's Store, creating and restoring it if needed.
// A fresh Store is in the checking state until its restore finishes.
func (m *Manager) Get(id uuid.UUID) *Store {
	st, created := m.open(id)
	if created {
		go m.restore(st)
	}
	return st
}

// Open returns the session's Store without restoring it. It is for a
// session id minted by a sign-in that is about to run; a background
// restore would race with it.
func (m *Manager) Open(id uuid.UUID) *Store {
	st, _ := m.open(id)
	return st
}

func (m *Manager) open(id uuid.UUID) (*Store, bool) {
	m.mu.Lock()
	st, ok := m.stores[id]
	if !ok {
		st = NewStore(id, m.provider, m.cache, m.applier, m.logger)
		m.stores[id] = st
	}
	m.mu.Unlock()

	st.touch(time.Now())
	if !ok {
		st.Attach()
	}
	return st, !ok
}

// Lookup returns an existing Store without creating one.
func (m *Manager) Lookup(id uuid.UUID) (*Store, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stores[id]
	return st, ok
}

// Forget detaches and drops the session's Store.
func (m *Manager) Forget(id uuid.UUID) {
	m.mu.Lock()
	st, ok := m.stores[id]
	delete(m.stores, id)
	m.mu.Unlock()
	if ok {
		st.Detach()
	}
}

// Sweep drops stores idle for longer than maxIdle and returns how many
// were removed.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	var stale []*Store
	for id, st := range m.stores {
		if st.idleSince().Before(cutoff) {
			stale = append(stale, st)
			delete(m.stores, id)
		}
	}
	m.mu.Unlock()

	for _, st := range stale {
		st.Detach()
	}
	return len(stale)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(maxIdle); n > 0 {
				m.logger.Debug("swept idle sessions", zap.Int("count", n))
			}
		}
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}

func (m *Manager) restore(st *Store) {
	ctx, cancel := context.WithTimeout(context.Background(), m.restoreTimeout)
	defer cancel()
	st.Restore(ctx)
}
