package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker - 키 단위 배타 잠금. ok=false면 다른 쪽이 이미 잡고 있음
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// 토큰이 일치할 때만 삭제 (만료 후 다른 소유자의 잠금을 지우지 않도록)
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker - SET NX PX 기반 분산 잠금
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}

// MemoryLocker - 단일 인스턴스용 잠금 (Redis 미사용 시)
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]time.Time{}, nowFn: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, false, nil
	}
	expiry := now.Add(ttl)
	l.held[key] = expiry

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(expiry) {
			delete(l.held, key)
		}
	}
	return release, true, nil
}

// NewLocker - Redis가 있으면 분산 잠금, 없으면 메모리 잠금
func NewLocker(rdb *redis.Client) Locker {
	if rdb == nil {
		return NewMemoryLocker()
	}
	return NewRedisLocker(rdb)
}
