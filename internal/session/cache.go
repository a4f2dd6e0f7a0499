package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// UserSlot is the fixed key the signed-in user is mirrored under.
const UserSlot = "user"

// Cache is a durable key-value area per session. Get returns (nil, nil)
// on a miss.
type Cache interface {
	Get(ctx context.Context, sessionID uuid.UUID, key string) ([]byte, error)
	Set(ctx context.Context, sessionID uuid.UUID, key string, value []byte) error
	Delete(ctx context.Context, sessionID uuid.UUID, key string) error
}

// MemoryCache is a process-local Cache. It does not survive restarts and
// is meant for tests and single-node development.
type MemoryCache struct {
	mu   sync.Mutex
	data map[uuid.UUID]map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[uuid.UUID]map[string][]byte)}
}

func (c *MemoryCache) Get(_ context.Context, sessionID uuid.UUID, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[sessionID][key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (c *MemoryCache) Set(_ context.Context, sessionID uuid.UUID, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	slots, ok := c.data[sessionID]
	if !ok {
		slots = make(map[string][]byte)
		c.data[sessionID] = slots
	}
	slots[key] = append([]byte(nil), value...)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, sessionID uuid.UUID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data[sessionID], key)
	if len(c.data[sessionID]) == 0 {
		delete(c.data, sessionID)
	}
	return nil
}
