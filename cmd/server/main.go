package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pokerclub/internal/config"
	"pokerclub/internal/dependencies/clock"
	"pokerclub/internal/handler"
	"pokerclub/internal/infrastructure/cache"
	"pokerclub/internal/infrastructure/database"
	"pokerclub/internal/infrastructure/lock"
	"pokerclub/internal/infrastructure/mq"
	"pokerclub/internal/job"
	"pokerclub/internal/realtime"
	"pokerclub/internal/service"
	"pokerclub/pkg/idgen"
	"pokerclub/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg := config.LoadConfig(*configPath)

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Named("server")

	// 初始化 ID 生成器
	if err := idgen.Init(int64(cfg.Server.WorkerID)); err != nil {
		log.Fatal("初始化 ID 生成器失败", zap.Error(err))
	}

	db := database.InitDatabase(&cfg.Database)
	redisClient := cache.InitRedis(&cfg.Redis)

	clk := clock.New()
	locker := lock.NewPlayerLocker(redisClient, cfg.Business)

	ledger := service.NewLedgerService(db, locker, clk, cfg)
	identity := service.NewIdentityService(db, clk)
	requests := service.NewRequestService(db, locker, clk, ledger)
	seats := service.NewSeatService(db, locker, clk, ledger, cfg)

	// 实时推送：outbox → Redis → 各实例 Hub → websocket / SSE
	hub := realtime.NewHub(cfg.Realtime.ClientBuffer, logger.Named("hub"))
	publishers := realtime.MultiPublisher{realtime.NewRedisPublisher(redisClient, cfg.Realtime.ChannelPrefix)}

	if cfg.Kafka.Enabled {
		producer, err := mq.NewSyncProducer(&cfg.Kafka)
		if err != nil {
			log.Fatal("初始化 Kafka 失败", zap.Error(err))
		}
		kafkaPublisher := mq.NewKafkaPublisher(producer, cfg.Kafka.Topic.PlayerEvents)
		defer kafkaPublisher.Close()
		publishers = append(publishers, kafkaPublisher)
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	run := func(start func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start(ctx)
		}()
	}

	relay := realtime.NewRelay(redisClient, cfg.Realtime.ChannelPrefix, hub, logger.Named("relay"))
	run(relay.Start)

	// 启动后台任务
	run(job.NewOutboxSender(db, publishers, cfg).Start)
	run(job.NewSeatTimerJob(seats, cfg).Start)
	run(job.NewUniversalIDBackfillJob(identity, cfg).Start)

	router := handler.SetupRouter(handler.NewHandler(handler.Services{
		Ledger:   ledger,
		Identity: identity,
		Requests: requests,
		Seats:    seats,
	}, hub))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 先关闭 HTTP，websocket / SSE 连接由 ctx 取消后断开
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("服务关闭异常", zap.Error(err))
	}
	wg.Wait()

	if err := redisClient.Close(); err != nil {
		log.Warn("关闭 Redis 失败", zap.Error(err))
	}
	log.Info("服务已关闭")
}
