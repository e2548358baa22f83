// Package realtime 负责把账本、座位、申请的变更通知推送给在线客户端。
//
// 通知只是"请重新拉取"的信号，不是权威数据：可以重复、延迟甚至丢失，
// 客户端的定时轮询保证最终一致。
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Event 推送给订阅者的变更通知
type Event struct {
	ID        int64           `json:"id"` // 对应 outbox 消息ID，客户端可据此去重
	Channel   string          `json:"channel"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// Publisher 事件发布者
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// MultiPublisher 依次发布到多个下游，任何一个失败都返回错误（由 outbox 重试）
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublisherFunc 函数适配器
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
