package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisKV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisMirror publica la presencia como claves chat:presence:<id> con TTL, para
// que otros servicios consulten quien esta conectado sin hablar con este proceso.
type RedisMirror struct {
	client redisKV
	prefix string
	ttl    time.Duration
	nodeID string
}

func NewRedisMirror(client *redis.Client, nodeID string, ttl time.Duration) *RedisMirror {
	if client == nil {
		return nil
	}
	return newRedisMirror(client, nodeID, ttl)
}

func newRedisMirror(client redisKV, nodeID string, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisMirror{
		client: client,
		prefix: "chat:presence:",
		ttl:    ttl,
		nodeID: nodeID,
	}
}

func (m *RedisMirror) key(userID int64) string {
	return m.prefix + strconv.FormatInt(userID, 10)
}

func (m *RedisMirror) Online(ctx context.Context, userID int64) error {
	return m.client.Set(ctx, m.key(userID), m.nodeID, m.ttl).Err()
}

func (m *RedisMirror) Offline(ctx context.Context, userID int64) error {
	return m.client.Del(ctx, m.key(userID)).Err()
}
