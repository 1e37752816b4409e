package lease

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseLua deletes the key only while it still carries the caller's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua resets the TTL only while the key still carries the caller's token.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// RedisStore implements Store with SET NX plus token-checked Lua scripts.
type RedisStore struct {
	rdb       *redis.Client
	releaseSc *redis.Script
	extendSc  *redis.Script
}

type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
}

// NewRedisStore connects and pings Redis.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	ro := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	if opts.TLSEnabled {
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisStore{
		rdb:       rdb,
		releaseSc: redis.NewScript(releaseLua),
		extendSc:  redis.NewScript(extendLua),
	}, nil
}

func (s *RedisStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := s.extendSc.Run(ctx, s.rdb, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: extend %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	if err := s.releaseSc.Run(ctx, s.rdb, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("redis: release %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

var _ Store = (*RedisStore)(nil)
