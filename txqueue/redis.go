package txqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "gateway:signer_lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker is a Locker shared by every replica using the same Redis.
// Each hold is tagged with a random token so only its owner can release
// it, and the key's TTL is renewed while held so a crashed replica's lock
// expires on its own.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	poll   time.Duration
	logger *slog.Logger
}

var _ Locker = (*RedisLocker)(nil)

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithLockTTL sets how long a lock survives without renewal.
func WithLockTTL(d time.Duration) RedisOption {
	return func(l *RedisLocker) { l.ttl = d }
}

// WithPollInterval sets how often a blocked Lock retries.
func WithPollInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) { l.poll = d }
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(l *RedisLocker) { l.logger = logger }
}

// NewRedisLocker returns a RedisLocker. The caller owns the client.
func NewRedisLocker(client redis.Cmdable, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client: client,
		ttl:    30 * time.Second,
		poll:   100 * time.Millisecond,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	rkey := redisKeyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, rkey, token, l.ttl).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("gateway/redis: acquire lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}

	held, lost := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(rkey, token, lost, stop, done)

	var once sync.Once
	return held, func() {
		once.Do(func() { l.release(key, rkey, token, lost, stop, done) })
	}, nil
}

func (l *RedisLocker) release(key, rkey, token string, lost context.CancelCauseFunc, stop chan struct{}, done <-chan struct{}) {
	close(stop)
	<-done
	lost(nil)

	// Release must run even when the caller's ctx is already done.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{rkey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Warn("release signer lock failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// renew extends the key's TTL until stop is closed. A renewal that finds
// another token, or the key gone, cancels the held context with ErrLockLost.
func (l *RedisLocker) renew(rkey, token string, lost context.CancelCauseFunc, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := extendScript.Run(ctx, l.client, []string{rkey}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("renew signer lock failed", slog.String("key", rkey), slog.String("error", err.Error()))
				continue
			}
			if n == 0 {
				l.logger.Warn("signer lock lost", slog.String("key", rkey))
				lost(ErrLockLost)
				return
			}
		}
	}
}

// IsLocked implements Locker.
func (l *RedisLocker) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("gateway/redis: lock exists: %w", err)
	}
	return n > 0, nil
}

// ForceUnlock implements Locker.
func (l *RedisLocker) ForceUnlock(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("gateway/redis: force unlock: %w", err)
	}
	return nil
}
