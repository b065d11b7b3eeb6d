package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type mockRedisKVClient struct {
	values map[string]string
	ttls   map[string]time.Duration

	setErr    error
	getDelErr error
	delErr    error
}

func newMockRedisKV() *mockRedisKVClient {
	return &mockRedisKVClient{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (m *mockRedisKVClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if m.setErr != nil {
		cmd.SetErr(m.setErr)
		return cmd
	}
	m.values[key] = value.(string)
	m.ttls[key] = expiration
	cmd.SetVal("OK")
	return cmd
}

func (m *mockRedisKVClient) GetDel(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if m.getDelErr != nil {
		cmd.SetErr(m.getDelErr)
		return cmd
	}
	val, ok := m.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	delete(m.values, key)
	cmd.SetVal(val)
	return cmd
}

func (m *mockRedisKVClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if m.delErr != nil {
		cmd.SetErr(m.delErr)
		return cmd
	}
	var n int64
	for _, k := range keys {
		if _, ok := m.values[k]; ok {
			delete(m.values, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func TestMemoryRefreshTokenStore_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRefreshTokenStore()

	if _, err := store.Consume(ctx, "missing"); !errors.Is(err, ErrRefreshTokenUnknown) {
		t.Fatalf("expected ErrRefreshTokenUnknown, got %v", err)
	}
	if err := store.Save(ctx, "jti-1", 7, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	owner, err := store.Consume(ctx, "jti-1")
	if err != nil || owner != 7 {
		t.Fatalf("expected owner 7, got %d (%v)", owner, err)
	}
	if _, err := store.Consume(ctx, "jti-1"); !errors.Is(err, ErrRefreshTokenUnknown) {
		t.Fatalf("expected second consume to fail, got %v", err)
	}
}

func TestMemoryRefreshTokenStore_ExpiryAndRevoke(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRefreshTokenStore().(*memoryRefreshTokenStore)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	if err := store.Save(ctx, "", 7, time.Minute); err != nil {
		t.Fatalf("empty jti save should be a no-op, got %v", err)
	}
	_ = store.Save(ctx, "jti-old", 7, time.Minute)
	_ = store.Save(ctx, "jti-revoked", 7, time.Hour)

	clock = clock.Add(2 * time.Minute)
	if _, err := store.Consume(ctx, "jti-old"); !errors.Is(err, ErrRefreshTokenUnknown) {
		t.Fatalf("expected expired token unknown, got %v", err)
	}
	if err := store.Revoke(ctx, "jti-revoked"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := store.Consume(ctx, "jti-revoked"); !errors.Is(err, ErrRefreshTokenUnknown) {
		t.Fatalf("expected revoked token unknown, got %v", err)
	}
}

func TestRedisRefreshTokenStore_SaveConsumeRevoke(t *testing.T) {
	ctx := context.Background()
	mock := newMockRedisKV()
	store := newRedisRefreshTokenStore(mock)
	store.ttl = time.Hour

	if err := store.Save(ctx, " j1 ", 7, 0); err != nil {
		t.Fatalf("save: %v", err)
	}
	if mock.values["auth:refresh:j1"] != "7" {
		t.Fatalf("expected user id stored under trimmed key, got %v", mock.values)
	}
	if mock.ttls["auth:refresh:j1"] != time.Hour {
		t.Fatalf("expected TTL fallback, got %v", mock.ttls["auth:refresh:j1"])
	}

	owner, err := store.Consume(ctx, "j1")
	if err != nil || owner != 7 {
		t.Fatalf("expected owner 7, got %d (%v)", owner, err)
	}
	if _, err := store.Consume(ctx, "j1"); !errors.Is(err, ErrRefreshTokenUnknown) {
		t.Fatalf("expected consumed key gone, got %v", err)
	}

	_ = store.Save(ctx, "j2", 8, time.Minute)
	if err := store.Revoke(ctx, "j2"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, ok := mock.values["auth:refresh:j2"]; ok {
		t.Fatalf("expected revoked key deleted")
	}
}

func TestRedisRefreshTokenStore_ErrorPaths(t *testing.T) {
	ctx := context.Background()
	mock := newMockRedisKV()
	store := newRedisRefreshTokenStore(mock)

	if err := store.Save(ctx, "", 7, time.Minute); err != nil {
		t.Fatalf("empty jti save should be a no-op, got %v", err)
	}
	if _, err := store.Consume(ctx, ""); !errors.Is(err, ErrRefreshTokenUnknown) {
		t.Fatalf("empty jti consume should be unknown, got %v", err)
	}
	if err := store.Revoke(ctx, ""); err != nil {
		t.Fatalf("empty jti revoke should be a no-op, got %v", err)
	}

	mock.values["auth:refresh:bad"] = "not-a-number"
	if _, err := store.Consume(ctx, "bad"); !errors.Is(err, ErrRefreshTokenUnknown) {
		t.Fatalf("expected corrupt value treated as unknown, got %v", err)
	}

	mock.setErr = errors.New("set failed")
	mock.getDelErr = errors.New("getdel failed")
	mock.delErr = errors.New("del failed")
	if err := store.Save(ctx, "j3", 7, time.Minute); err == nil {
		t.Fatalf("expected save error")
	}
	if _, err := store.Consume(ctx, "j3"); err == nil || errors.Is(err, ErrRefreshTokenUnknown) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if err := store.Revoke(ctx, "j3"); err == nil {
		t.Fatalf("expected revoke error")
	}
}
