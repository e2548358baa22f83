package cache

import (
	"context"
	"fmt"
	"time"

	"pokerclub/internal/config"
	"pokerclub/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var RedisClient *redis.Client

// NewRedis 创建 Redis 客户端并检查连通性
func NewRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}

func InitRedis(cfg *config.RedisConfig) *redis.Client {
	client, err := NewRedis(cfg)
	if err != nil {
		logger.Log.Fatal("初始化 Redis 失败", zap.Error(err))
	}

	RedisClient = client
	logger.Log.Info("Redis 连接成功", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	return client
}
