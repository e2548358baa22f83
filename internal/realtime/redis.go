package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisPublisher 通过 Redis 发布订阅把事件广播到所有服务实例
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.prefix+ev.Channel, data).Err(); err != nil {
		return fmt.Errorf("redis 发布失败: %w", err)
	}
	return nil
}

// Relay 订阅 Redis 上的全部实时频道，转发给本进程的 Hub
type Relay struct {
	client *redis.Client
	prefix string
	hub    *Hub
	logger *zap.Logger
}

func NewRelay(client *redis.Client, prefix string, hub *Hub, logger *zap.Logger) *Relay {
	return &Relay{client: client, prefix: prefix, hub: hub, logger: logger}
}

// Start 阻塞运行直到 ctx 取消
// 订阅断开期间丢失的事件不补发，客户端轮询兜底
func (r *Relay) Start(ctx context.Context) {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	r.logger.Info("实时转发启动", zap.String("pattern", r.prefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("实时转发停止")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handle(msg)
		}
	}
}

func (r *Relay) handle(msg *redis.Message) {
	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		r.logger.Warn("实时转发收到无法解析的消息", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if ev.Channel == "" {
		ev.Channel = strings.TrimPrefix(msg.Channel, r.prefix)
	}
	r.hub.Dispatch(ev)
}
