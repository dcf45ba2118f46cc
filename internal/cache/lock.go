// Package cache holds the Redis-backed helpers of the service.  Currently
// that is the distributed lock used to serialize ledger writes per card and
// automation sweeps across server instances.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another instance is never released by us.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// refreshScript extends the key's TTL only while it still holds our token.
var refreshScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return 0
`)

// ErrLockTimeout is returned when the lock could not be taken before the
// context ended.
var ErrLockTimeout = errors.New("lock not acquired")

// RedisLocker implements a SET NX PX lock with a random token per holder.
// Without renewal a lock held longer than ttl silently expires; use
// WithRenewal for holders whose work is not bounded by ttl.
type RedisLocker struct {
	rdb   *redis.Client
	ttl   time.Duration
	retry time.Duration
	renew time.Duration
	log   *zap.Logger
}

// NewRedisLocker returns a locker whose locks expire after ttl if the holder
// dies, polling every retry while waiting.
func NewRedisLocker(rdb *redis.Client, ttl, retry time.Duration, log *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, retry: retry, log: log}
}

// WithRenewal returns a copy of l whose held locks are refreshed every
// ttl/3 until released.  ttl then only bounds how long a crashed holder
// blocks others.
func (l *RedisLocker) WithRenewal() *RedisLocker {
	c := *l
	c.renew = l.ttl / 3
	return &c
}

// Lock blocks until key is held or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrLockTimeout, ctx.Err())
			}
			return nil, err
		}
		if ok {
			return l.unlocker(key, token), nil
		}
		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-t.C:
		}
	}
}

func (l *RedisLocker) unlocker(key, token string) func() {
	var once sync.Once
	if l.renew <= 0 {
		return func() { once.Do(func() { l.release(key, token) }) }
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, stop, done)
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			l.release(key, token)
		})
	}
}

// keepAlive refreshes the key until stop is closed or the key is found to
// belong to someone else.
func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(l.renew)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.renew)
		n, err := refreshScript.Run(ctx, l.rdb, []string{key}, token, l.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			l.log.Warn("redis lock refresh failed", zap.String("key", key), zap.Error(err))
		case n == 0:
			l.log.Error("redis lock lost before release", zap.String("key", key))
			return
		}
	}
}

func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
		l.log.Warn("redis lock release failed; it will expire", zap.String("key", key), zap.Error(err))
	}
}
