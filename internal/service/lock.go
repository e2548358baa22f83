package service

import (
	"context"

	"pokerclub/internal/infrastructure/lock"
)

// withPlayerLock 未配置 Redis（如维护命令）时直接执行
func withPlayerLock(ctx context.Context, locker *lock.PlayerLocker, appID uint64, fn func() error) error {
	if locker == nil {
		return fn()
	}
	return locker.WithLock(ctx, appID, fn)
}
