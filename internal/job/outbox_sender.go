package job

import (
	"context"
	"encoding/json"
	"time"

	"pokerclub/internal/config"
	"pokerclub/internal/model"
	"pokerclub/internal/realtime"
	"pokerclub/internal/repository"
	"pokerclub/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxSender 把本地消息表中的事件投递到实时层
// 投递失败累计重试次数，超过上限标记为 FAILED，客户端靠轮询兜底
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  realtime.Publisher
	maxRetry   int
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	logger     *zap.Logger
}

func NewOutboxSender(db *gorm.DB, publisher realtime.Publisher, cfg *config.Config) *OutboxSender {
	interval := time.Duration(cfg.Job.OutboxIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	batchSize := cfg.Job.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		maxRetry:   cfg.Business.MaxRetryCount,
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  batchSize,
		logger:     logger.Named("outbox_sender"),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("消息发送任务启动", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("消息发送任务随上下文退出")
			return
		case <-s.stopCh:
			s.logger.Info("消息发送任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// processPendingMessages 处理一批待投递消息，返回成功数量
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("查询待发送消息失败", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(ctx, realtime.Event{
		ID:        msg.ID,
		Channel:   msg.Channel,
		Event:     msg.Event,
		Payload:   json.RawMessage(msg.Payload),
		EmittedAt: msg.CreatedAt,
	})

	if err == nil {
		if updateErr := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			s.logger.Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
			return false
		}
		s.logger.Debug("事件已发布",
			zap.Int64("id", msg.ID),
			zap.String("channel", msg.Channel),
			zap.String("event", msg.Event))
		return true
	}

	s.logger.Warn("事件发布失败",
		zap.Int64("id", msg.ID),
		zap.Int("retry_count", msg.RetryCount),
		zap.Error(err))

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.logger.Error("增加重试次数失败", zap.Int64("id", msg.ID), zap.Error(err))
	}

	if msg.RetryCount+1 >= s.maxRetry {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			s.logger.Error("标记消息失败状态失败", zap.Int64("id", msg.ID), zap.Error(err))
		} else {
			s.logger.Warn("超过最大重试次数，事件放弃投递",
				zap.Int64("id", msg.ID),
				zap.String("channel", msg.Channel),
				zap.String("event", msg.Event))
		}
	}
	return false
}
