package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "smart-mail-reply:lease:"

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker grants exclusive, expiring leases on named jobs across processes
type Locker interface {
	// Acquire returns ok=false when another holder owns the lease
	Acquire(ctx context.Context, name string) (release func(), ok bool, err error)
}

// RedisLease implements Locker with SET NX PX
type RedisLease struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLease creates a lease backed by client
func NewRedisLease(client *redis.Client, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLease{client: client, ttl: ttl}
}

// Acquire implements Locker
func (l *RedisLease) Acquire(ctx context.Context, name string) (func(), bool, error) {
	key := keyPrefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			logrus.Warnf("Failed to release lease %s: %v", name, err)
		}
	}
	return release, true, nil
}

// Noop grants every lease; used when a single process runs the scheduler
type Noop struct{}

// Acquire implements Locker
func (Noop) Acquire(context.Context, string) (func(), bool, error) {
	return func() {}, true, nil
}
