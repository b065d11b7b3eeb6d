package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRefreshTokenUnknown = errors.New("refresh token unknown")

// RefreshTokenStore recuerda los jti emitidos y a que usuario pertenecen.
// Consume lo borra en la misma operacion, asi un refresh token se usa una sola vez.
type RefreshTokenStore interface {
	Save(ctx context.Context, jti string, userID int64, ttl time.Duration) error
	Consume(ctx context.Context, jti string) (int64, error)
	Revoke(ctx context.Context, jti string) error
}

type refreshEntry struct {
	userID  int64
	expires time.Time
}

type memoryRefreshTokenStore struct {
	mu    sync.Mutex
	items map[string]refreshEntry
	now   func() time.Time
}

func NewMemoryRefreshTokenStore() RefreshTokenStore {
	return &memoryRefreshTokenStore{
		items: make(map[string]refreshEntry),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *memoryRefreshTokenStore) Save(_ context.Context, jti string, userID int64, ttl time.Duration) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[jti] = refreshEntry{userID: userID, expires: s.now().Add(ttl)}
	return nil
}

func (s *memoryRefreshTokenStore) Consume(_ context.Context, jti string) (int64, error) {
	jti = strings.TrimSpace(jti)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[jti]
	if !ok {
		return 0, ErrRefreshTokenUnknown
	}
	delete(s.items, jti)
	if s.now().After(entry.expires) {
		return 0, ErrRefreshTokenUnknown
	}
	return entry.userID, nil
}

func (s *memoryRefreshTokenStore) Revoke(_ context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, strings.TrimSpace(jti))
	return nil
}

type redisKVClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// redisRefreshTokenStore guarda auth:refresh:<jti> -> user id con TTL.
type redisRefreshTokenStore struct {
	client  redisKVClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

func NewRedisRefreshTokenStore(client *redis.Client) RefreshTokenStore {
	if client == nil {
		return nil
	}
	return newRedisRefreshTokenStore(client)
}

func newRedisRefreshTokenStore(client redisKVClient) *redisRefreshTokenStore {
	return &redisRefreshTokenStore{
		client:  client,
		prefix:  "auth:refresh:",
		ttl:     30 * 24 * time.Hour,
		timeout: 500 * time.Millisecond,
	}
}

func (s *redisRefreshTokenStore) key(jti string) string {
	return s.prefix + jti
}

func (s *redisRefreshTokenStore) Save(ctx context.Context, jti string, userID int64, ttl time.Duration) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Set(ctx, s.key(jti), strconv.FormatInt(userID, 10), ttl).Err()
}

func (s *redisRefreshTokenStore) Consume(ctx context.Context, jti string) (int64, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return 0, ErrRefreshTokenUnknown
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	val, err := s.client.GetDel(ctx, s.key(jti)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrRefreshTokenUnknown
	}
	if err != nil {
		return 0, err
	}
	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, ErrRefreshTokenUnknown
	}
	return userID, nil
}

func (s *redisRefreshTokenStore) Revoke(ctx context.Context, jti string) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Del(ctx, s.key(jti)).Err()
}
