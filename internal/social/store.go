package social

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Gopher0727/Strangers/internal/pkg/redis"
)

// BlockedStore is the set of user IDs a session has blocked.
type BlockedStore interface {
	Add(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Contains(ctx context.Context, id string) (bool, error)
	Members(ctx context.Context) ([]string, error)
	// Clear drops the whole set; called at session teardown.
	Clear(ctx context.Context) error
}

// Refresher is a BlockedStore whose backing data expires unless the
// session keeps it alive.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// MemoryStore keeps the blocked set in process, in insertion order.
type MemoryStore struct {
	mu  sync.RWMutex
	ids []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Add(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.ids, id) {
		s.ids = append(s.ids, id)
	}
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = slices.DeleteFunc(s.ids, func(v string) bool { return v == id })
	return nil
}

func (s *MemoryStore) Contains(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.ids, id), nil
}

func (s *MemoryStore) Members(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.ids), nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = nil
	return nil
}

// RedisStore keeps the blocked set in a Redis set named after the session.
type RedisStore struct {
	client redis.RedisClient
	key    string
	ttl    time.Duration
}

// NewRedisStore binds the set session:<sessionID>:blocked. A positive ttl is
// refreshed on every access and on Refresh, so only an abandoned session's
// set expires on its own.
func NewRedisStore(client redis.RedisClient, sessionID string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, key: BlockedKey(sessionID), ttl: ttl}
}

// BlockedKey is the Redis key holding a session's blocked set.
func BlockedKey(sessionID string) string {
	return fmt.Sprintf("session:%s:blocked", sessionID)
}

func (s *RedisStore) Add(ctx context.Context, id string) error {
	if err := s.client.SAdd(ctx, s.key, id); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *RedisStore) Remove(ctx context.Context, id string) error {
	if err := s.client.SRem(ctx, s.key, id); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *RedisStore) Contains(ctx context.Context, id string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key, id)
	if err != nil {
		return false, err
	}
	return ok, s.Refresh(ctx)
}

// Members returns the set sorted, since Redis sets are unordered.
func (s *RedisStore) Members(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.key)
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, s.Refresh(ctx)
}

// Refresh pushes the expiry of the set out by another ttl. Expiring a
// missing key is a no-op.
func (s *RedisStore) Refresh(ctx context.Context) error {
	if s.ttl <= 0 {
		return nil
	}
	return s.client.Expire(ctx, s.key, s.ttl)
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key)
}
