package portalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"pokerclub/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WatcherOptions
//   - PollInterval: 轮询间隔，<= 0 时使用 30 秒
//   - DisablePush: 只靠轮询，用于推送不可用的环境
//   - TableID: 非 0 时同时跟踪该桌的座位会话
//   - OnChange: 拉取到的视图与上一次不同时回调
type WatcherOptions struct {
	PollInterval time.Duration
	DisablePush  bool
	TableID      uint64
	OnChange     func(*Snapshot)
}

// Snapshot 一次刷新拉取到的完整视图
type Snapshot struct {
	Balance *Balance `json:"balance"`
	Seat    *Seat    `json:"seat,omitempty"`
}

// Watcher 维护一个玩家余额和座位状态的本地副本
type Watcher struct {
	client *Client
	appID  uint64
	opts   WatcherOptions
	dialer *websocket.Dialer
	logger *zap.Logger

	mu          sync.RWMutex
	current     *Snapshot
	fingerprint []byte
	refreshes   int
}

func NewWatcher(client *Client, appID uint64, opts WatcherOptions) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	return &Watcher{
		client: client,
		appID:  appID,
		opts:   opts,
		dialer: websocket.DefaultDialer,
		logger: logger.Named("portal_watcher"),
	}
}

// Refresh 拉取权威视图，轮询和推送共用的唯一入口
// 入座、离座等不写玩家行的变化不会改变余额版本号，因此比较整个视图
func (w *Watcher) Refresh(ctx context.Context) error {
	snap := &Snapshot{}
	balance, err := w.client.GetBalance(ctx, w.appID)
	if err != nil {
		return err
	}
	snap.Balance = balance

	if w.opts.TableID != 0 {
		if snap.Seat, err = w.client.GetSeat(ctx, w.appID, w.opts.TableID); err != nil {
			return err
		}
	}

	fingerprint, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	w.mu.Lock()
	changed := !bytes.Equal(w.fingerprint, fingerprint)
	w.current = snap
	w.fingerprint = fingerprint
	w.refreshes++
	w.mu.Unlock()

	if changed && w.opts.OnChange != nil {
		w.opts.OnChange(snap)
	}
	return nil
}

// Current 最近一次拉取的视图，尚未拉取时为 nil
func (w *Watcher) Current() *Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) Refreshes() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.refreshes
}

// Run 阻塞直到 ctx 结束
func (w *Watcher) Run(ctx context.Context) {
	if err := w.Refresh(ctx); err != nil {
		w.logger.Warn("首次刷新失败", zap.Uint64("app_id", w.appID), zap.Error(err))
	}

	var wg sync.WaitGroup
	if !w.opts.DisablePush {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.pushLoop(ctx)
		}()
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			if err := w.Refresh(ctx); err != nil {
				w.logger.Warn("轮询刷新失败", zap.Uint64("app_id", w.appID), zap.Error(err))
			}
		}
	}
}

// pushLoop 断线后按指数退避重连，期间靠轮询保持新鲜
func (w *Watcher) pushLoop(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		err := w.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		w.logger.Debug("推送连接断开", zap.Uint64("app_id", w.appID), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (w *Watcher) listen(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.client.PushURL(w.appID), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// ctx 结束时关闭连接以打断阻塞读
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
		if err := w.Refresh(ctx); err != nil {
			w.logger.Warn("推送触发的刷新失败", zap.Uint64("app_id", w.appID), zap.Error(err))
		}
	}
}
