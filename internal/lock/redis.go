package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// ErrLockLost is reported when a Redis lock expired before release.
var ErrLockLost = errors.New("lock expired before release")

// Redis is a lease-based lock shared by every instance pointing at the same
// Redis. The lease is renewed every third of the TTL while the holder runs,
// so the TTL only bounds how long a crashed holder blocks others.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	onLost func(key string, err error)
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		onLost: func(string, error) {},
	}
}

// OnLost registers a callback for releases that found the lease gone.
func (r *Redis) OnLost(fn func(key string, err error)) {
	r.onLost = fn
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	name := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, name, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var (
		stop = make(chan struct{})
		done = make(chan struct{})
		lost atomic.Bool
	)
	go r.renew(key, name, token, &lost, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			n, err := releaseScript.Run(relCtx, r.client, []string{name}, token).Int()
			if err != nil {
				r.onLost(key, err)
				return
			}
			if n == 0 && !lost.Load() {
				r.onLost(key, ErrLockLost)
			}
		})
	}, nil
}

func (r *Redis) renew(key, name, token string, lost *atomic.Bool, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
		n, err := renewScript.Run(ctx, r.client, []string{name}, token, r.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			// Transient; the next tick retries while the lease lasts.
			continue
		}
		if n == 0 {
			lost.Store(true)
			r.onLost(key, ErrLockLost)
			return
		}
	}
}
