package job

import (
	"context"
	"time"

	"pokerclub/internal/config"
	"pokerclub/internal/service"
	"pokerclub/pkg/logger"

	"go.uber.org/zap"
)

// SeatTimerJob 定时收回倒计时到期的座位、关闭到期的兑现窗口
type SeatTimerJob struct {
	seats     *service.SeatService
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

func NewSeatTimerJob(seats *service.SeatService, cfg *config.Config) *SeatTimerJob {
	interval := time.Duration(cfg.Job.SeatTimerSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	batchSize := cfg.Job.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &SeatTimerJob{
		seats:     seats,
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.Named("seat_timer"),
	}
}

func (j *SeatTimerJob) Start(ctx context.Context) {
	j.logger.Info("座位计时任务启动", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("座位计时任务随上下文退出")
			return
		case <-j.stopCh:
			j.logger.Info("座位计时任务停止")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *SeatTimerJob) Stop() {
	close(j.stopCh)
}

func (j *SeatTimerJob) runOnce(ctx context.Context) (forfeited, closed int) {
	forfeited, err := j.seats.ForfeitExpiredCallTimes(ctx, j.batchSize)
	if err != nil {
		j.logger.Error("回收倒计时到期座位失败", zap.Error(err))
	}
	closed, err = j.seats.CloseExpiredCashoutWindows(ctx, j.batchSize)
	if err != nil {
		j.logger.Error("关闭到期兑现窗口失败", zap.Error(err))
	}
	if forfeited > 0 || closed > 0 {
		j.logger.Info("座位计时处理完成",
			zap.Int("forfeited", forfeited),
			zap.Int("cashout_windows_closed", closed))
	}
	return forfeited, closed
}
