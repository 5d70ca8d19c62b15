// active_store.go — ActiveStore implementations.
// MemoryActiveStore serves tests and single-node deployments; RedisActiveStore
// shares session state across nodes using one key per session.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// MemoryActiveStore tracks live session ids in memory.
type MemoryActiveStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[string]time.Time // accountID -> jti -> expiry
}

// NewMemoryActiveStore creates an empty in-memory store.
func NewMemoryActiveStore() *MemoryActiveStore {
	return &MemoryActiveStore{sessions: make(map[uuid.UUID]map[string]time.Time)}
}

func (s *MemoryActiveStore) Add(_ context.Context, accountID uuid.UUID, sessionID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sessions[accountID]
	if set == nil {
		set = make(map[string]time.Time)
		s.sessions[accountID] = set
	}
	set[sessionID] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryActiveStore) IsActive(_ context.Context, accountID uuid.UUID, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.sessions[accountID][sessionID]
	return ok && time.Now().Before(exp), nil
}

func (s *MemoryActiveStore) Remove(_ context.Context, accountID uuid.UUID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions[accountID], sessionID)
	return nil
}

func (s *MemoryActiveStore) RemoveOthers(_ context.Context, accountID uuid.UUID, keep string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sessions[accountID]
	for jti := range set {
		if jti != keep {
			delete(set, jti)
		}
	}
	return nil
}

// RedisActiveStore backs the ActiveStore interface with go-redis.
// Each session is its own key so Redis handles expiry; RemoveOthers scans the
// account's key prefix, which stays small (bounded by the device cap in
// practice).
type RedisActiveStore struct {
	c *goredis.Client
}

// NewRedisActiveStore wraps a go-redis client.
func NewRedisActiveStore(c *goredis.Client) *RedisActiveStore {
	return &RedisActiveStore{c: c}
}

func sessionKey(accountID uuid.UUID, sessionID string) string {
	return fmt.Sprintf("session:%s:%s", accountID, sessionID)
}

func (s *RedisActiveStore) Add(ctx context.Context, accountID uuid.UUID, sessionID string, ttl time.Duration) error {
	return s.c.Set(ctx, sessionKey(accountID, sessionID), "1", ttl).Err()
}

func (s *RedisActiveStore) IsActive(ctx context.Context, accountID uuid.UUID, sessionID string) (bool, error) {
	_, err := s.c.Get(ctx, sessionKey(accountID, sessionID)).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisActiveStore) Remove(ctx context.Context, accountID uuid.UUID, sessionID string) error {
	return s.c.Del(ctx, sessionKey(accountID, sessionID)).Err()
}

func (s *RedisActiveStore) RemoveOthers(ctx context.Context, accountID uuid.UUID, keep string) error {
	pattern := fmt.Sprintf("session:%s:*", accountID)
	iter := s.c.Scan(ctx, 0, pattern, 0).Iterator()
	keepKey := sessionKey(accountID, keep)
	for iter.Next(ctx) {
		key := iter.Val()
		if key == keepKey {
			continue
		}
		if err := s.c.Del(ctx, key).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
