package job

import (
	"context"
	"time"

	"pokerclub/internal/config"
	"pokerclub/internal/service"
	"pokerclub/pkg/logger"

	"go.uber.org/zap"
)

// UniversalIDBackfillJob 启动时和之后每隔一段时间补发缺失的 universal id
type UniversalIDBackfillJob struct {
	identity *service.IdentityService
	stopCh   chan struct{}
	interval time.Duration
	logger   *zap.Logger
}

func NewUniversalIDBackfillJob(identity *service.IdentityService, cfg *config.Config) *UniversalIDBackfillJob {
	interval := time.Duration(cfg.Job.BackfillIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	return &UniversalIDBackfillJob{
		identity: identity,
		stopCh:   make(chan struct{}),
		interval: interval,
		logger:   logger.Named("universal_id_backfill"),
	}
}

func (j *UniversalIDBackfillJob) Start(ctx context.Context) {
	j.logger.Info("universal id 补发任务启动", zap.Duration("interval", j.interval))
	j.runOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopCh:
			j.logger.Info("universal id 补发任务停止")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *UniversalIDBackfillJob) Stop() {
	close(j.stopCh)
}

func (j *UniversalIDBackfillJob) runOnce(ctx context.Context) int64 {
	count, err := j.identity.BackfillUniversalIDs(ctx)
	if err != nil {
		j.logger.Error("universal id 补发失败", zap.Int64("written", count), zap.Error(err))
	}
	return count
}
