package cachefabric

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// L2 is the cross-process cache tier backed by Redis. Grounded on the
// teacher's RedisCacheManager (src/infrastructure/data/cache.go): same
// pool sizing, same plain byte-slice value contract (callers own
// serialization), same "TTL only" write path.
type L2 struct {
	client *redis.Client
}

// NewL2 builds a pooled go-redis v9 client against addr.
func NewL2(addr, password string, db int) *L2 {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	})
	return &L2{client: client}
}

// NewL2FromClient wraps an already-constructed client instead of building a
// new pool.
func NewL2FromClient(client *redis.Client) *L2 {
	return &L2{client: client}
}

// Client exposes the underlying redis client so the event log (C3) can
// share the same connection pool per spec.md's "single shared client"
// requirement.
func (l *L2) Client() *redis.Client {
	return l.client
}

func (l *L2) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := l.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (l *L2) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return l.client.Set(ctx, key, value, ttl).Err()
}

func (l *L2) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := l.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (l *L2) DeleteMany(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := l.client.Del(ctx, keys...).Result()
	return int(n), err
}

// Health pings Redis; used by /health.
func (l *L2) Health(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the pool.
func (l *L2) Close() error {
	return l.client.Close()
}
