package keylock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"incentive-controlplane/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("keylock",
	fx.Provide(New),
)

// Unlock releases a lock obtained from Locker.Lock. It is safe to call more than once.
type Unlock func()

// Locker serializes work per key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

type Params struct {
	fx.In

	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func New(p Params) Locker {
	if p.Config != nil && p.Config.Lock.Backend == "redis" {
		if p.Redis == nil {
			zap.L().Warn("[KeyLock] redis backend requested without a redis client, falling back to memory")
			return NewMemoryLocker()
		}
		return NewRedisLocker(p.Redis, p.Config.Lock.TTL, p.Config.Lock.RetryDelay)
	}
	return NewMemoryLocker()
}

type memoryLock struct {
	ch   chan struct{}
	refs int
}

// MemoryLocker is a per-key mutex valid inside one process.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*memoryLock
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*memoryLock)}
}

func (m *MemoryLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &memoryLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			m.release(key, l)
		})
	}, nil
}

func (m *MemoryLocker) release(key string, l *memoryLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker holds keys with SET NX PX so several engine processes share one
// lock space. A held key is renewed every third of the TTL until it is
// released, so holders that outlive the TTL keep the lock.
type RedisLocker struct {
	rdb        *redis.Client
	ttl        time.Duration
	retryDelay time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl, retryDelay time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, retryDelay: retryDelay}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	if r == nil || r.rdb == nil {
		return nil, errors.New("keylock: redis client is nil")
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}

		timer := time.NewTimer(r.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := releaseScript.Run(context.Background(), r.rdb, []string{key}, token).Err(); err != nil {
				zap.L().Warn("[KeyLock] failed to release redis lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

func (r *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := r.ttl / 3
	if interval <= 0 {
		interval = r.ttl
	}
	ttlMillis := r.ttl.Milliseconds()
	if ttlMillis < 1 {
		ttlMillis = 1
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		renewed, err := renewScript.Run(ctx, r.rdb, []string{key}, token, ttlMillis).Int()
		cancel()
		if err != nil {
			zap.L().Warn("[KeyLock] failed to renew redis lock", zap.String("key", key), zap.Error(err))
			continue
		}
		if renewed == 0 {
			zap.L().Warn("[KeyLock] redis lock lost before release", zap.String("key", key))
			return
		}
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
