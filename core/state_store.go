package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	AuthStatePrefix = "authstate:view:"
	// DefaultStateTTL matches the view session cookie lifetime.
	DefaultStateTTL = sessionMaxAge * time.Second
)

// AuthStateKey returns the Redis key for a view session id.
func AuthStateKey(viewID string) string {
	return AuthStatePrefix + viewID
}

// StateStore keeps the latest AuthState of each view session.
type StateStore interface {
	Save(ctx context.Context, viewID string, state AuthState) error
	Load(ctx context.Context, viewID string) (AuthState, bool, error)
	Delete(ctx context.Context, viewID string) error
}

// RedisStateStore stores AuthState as JSON with a TTL.
type RedisStateStore struct {
	redis RedisClientRaw
	ttl   time.Duration
}

func NewRedisStateStore(client RedisClientRaw, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &RedisStateStore{redis: client, ttl: ttl}
}

func (s *RedisStateStore) Save(ctx context.Context, viewID string, state AuthState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, AuthStateKey(viewID), data, s.ttl).Err()
}

// Load returns ok=false when nothing is stored for the view.
func (s *RedisStateStore) Load(ctx context.Context, viewID string) (AuthState, bool, error) {
	val, err := s.redis.Get(ctx, AuthStateKey(viewID)).Result()
	if errors.Is(err, redis.Nil) {
		return AuthState{}, false, nil
	}
	if err != nil {
		return AuthState{}, false, err
	}
	var st AuthState
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return AuthState{}, false, err
	}
	return st, true, nil
}

func (s *RedisStateStore) Delete(ctx context.Context, viewID string) error {
	return s.redis.Del(ctx, AuthStateKey(viewID)).Err()
}

// MemoryStateStore is the single-process fallback when no Redis is configured.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]AuthState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]AuthState)}
}

func (s *MemoryStateStore) Save(_ context.Context, viewID string, state AuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[viewID] = state
	return nil
}

func (s *MemoryStateStore) Load(_ context.Context, viewID string) (AuthState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[viewID]
	return st, ok, nil
}

func (s *MemoryStateStore) Delete(_ context.Context, viewID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, viewID)
	return nil
}
