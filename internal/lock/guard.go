// Package lock provides the in-flight guard that keeps a user from running two
// saves of the same resource at once.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned by Acquire when another holder owns the key.
var ErrHeld = errors.New("resource busy")

// Guard hands out exclusive, expiring holds on string keys.
type Guard interface {
	// Acquire takes the key or fails with ErrHeld. The returned release
	// func is safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Local is an in-process guard for single replica deployments and tests.
type Local struct {
	ttl  time.Duration
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLocal creates a guard whose holds expire after ttl.
func NewLocal(ttl time.Duration) *Local {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Local{ttl: ttl, held: make(map[string]time.Time), now: time.Now}
}

func (l *Local) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, ErrHeld
	}
	exp := now.Add(l.ttl)
	l.held[key] = exp

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// only drop our own hold, not one taken after ours expired
			if cur, ok := l.held[key]; ok && cur.Equal(exp) {
				delete(l.held, key)
			}
		})
	}, nil
}

// Redis is a guard shared across API replicas, built on SET NX PX.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a guard storing holds under prefix.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "portal:guard:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// compare-and-delete so a late release never frees someone else's hold
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (g *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	full := g.prefix + key
	ok, err := g.client.SetNX(ctx, full, token, g.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's ctx may already be cancelled
			relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = releaseScript.Run(relCtx, g.client, []string{full}, token).Err()
		})
	}, nil
}
