package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pokerclub/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 玩家本人、收银员、座位管理员分别从不同门户操作同一个玩家，
// 请求之间没有共享的事务边界。按玩家维度加锁，把同一玩家的
// 余额变更和入座操作串行化；数据库层的行锁与版本号仍然保留，
// 锁过期或 Redis 不可用时由它们兜底。
//
// 加锁：SET key value NX EX timeout
// 释放：Lua 脚本先比对 value 再删除，避免误删他人持有的锁
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 锁持有者标识
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞获取锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	_, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 玩家锁
// ============================================================================

func PlayerLockKey(appID uint64) string {
	return fmt.Sprintf("pokerclub:lock:player:%d", appID)
}

// PlayerLocker 按玩家维度加锁
type PlayerLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewPlayerLocker(client *redis.Client, cfg config.BusinessConfig) *PlayerLocker {
	l := &PlayerLocker{
		client:        client,
		ttl:           cfg.PlayerLockTTL(),
		retryInterval: cfg.PlayerLockRetryInterval(),
		maxRetries:    cfg.PlayerLockMaxRetries,
	}
	if l.ttl <= 0 {
		l.ttl = 30 * time.Second
	}
	if l.retryInterval <= 0 {
		l.retryInterval = 100 * time.Millisecond
	}
	if l.maxRetries <= 0 {
		l.maxRetries = 30
	}
	return l
}

// WithLock 持有玩家锁执行 fn
func (l *PlayerLocker) WithLock(ctx context.Context, appID uint64, fn func() error) error {
	dl := NewDistributedLock(l.client, PlayerLockKey(appID), uuid.NewString(), l.ttl)
	if err := dl.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
		return fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer func() {
		// 请求上下文可能已取消，释放锁使用独立的超时
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = dl.Unlock(unlockCtx)
	}()
	return fn()
}
