package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the distributed lock could not be obtained
// before ctx was done.
var ErrNotAcquired = errors.New("lock: not acquired")

// Redis is a distributed per-id lock backed by a TTL'd SET NX, for
// deployments running more than one engine process against the same
// backends.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis parses dsn ("redis://[:password@]host:port/db") and returns a
// Redis-backed Locker. Only the host and password are read from dsn; the /db
// path is ignored and the client uses database 0. ttl bounds how long a lock is held if the owning
// process crashes before releasing it.
func NewRedis(dsn string, ttl time.Duration) (*Redis, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("lock: parse redis dsn: %w", err)
	}
	opts := &redis.Options{Addr: u.Host}
	if u.User != nil {
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	client := redis.NewClient(opts)
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, ttl: ttl, prefix: "powermem:lock:"}, nil
}

// Ping verifies connectivity to the Redis backend.
func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

// Close releases the underlying Redis connection.
func (r *Redis) Close() error { return r.client.Close() }

// Lock blocks (polling) until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := randomToken()
	fullKey := r.prefix + key
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { r.release(fullKey, token) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrNotAcquired
		case <-ticker.C:
		}
	}
}

func (r *Redis) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return
	}
	if val == token {
		r.client.Del(ctx, key)
	}
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
