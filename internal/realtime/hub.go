package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client 一个在线订阅者（一个 websocket 或 SSE 连接）
type Client struct {
	id          string
	channels    []string
	send        chan Event
	connectedAt time.Time
	closeOnce   sync.Once
}

func (c *Client) Events() <-chan Event {
	return c.send
}

// Hub 管理本进程内的订阅者，按频道分发
// 客户端缓冲区满时直接丢弃，丢失的事件由客户端轮询补偿
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	buffer  int
	logger  *zap.Logger
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		buffer:  buffer,
		logger:  logger,
	}
}

// Subscribe 注册订阅者，调用方负责在断开时 Unsubscribe
func (h *Hub) Subscribe(id string, channels ...string) *Client {
	c := &Client{
		id:          id,
		channels:    channels,
		send:        make(chan Event, h.buffer),
		connectedAt: time.Now(),
	}

	h.mu.Lock()
	for _, ch := range channels {
		set, ok := h.clients[ch]
		if !ok {
			set = make(map[*Client]struct{})
			h.clients[ch] = set
		}
		set[c] = struct{}{}
	}
	h.mu.Unlock()

	h.logger.Debug("实时客户端订阅", zap.String("client", id), zap.Strings("channels", channels))
	return c
}

func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	for _, ch := range c.channels {
		if set, ok := h.clients[ch]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.clients, ch)
			}
		}
	}
	h.mu.Unlock()

	c.closeOnce.Do(func() { close(c.send) })
	h.logger.Debug("实时客户端取消订阅",
		zap.String("client", c.id),
		zap.Duration("connection_duration", time.Since(c.connectedAt)))
}

// Dispatch 把事件投递给订阅了该频道的所有本地客户端，返回投递成功的数量
func (h *Hub) Dispatch(ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent, dropped := 0, 0
	for c := range h.clients[ev.Channel] {
		select {
		case c.send <- ev:
			sent++
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("客户端缓冲已满，丢弃实时事件",
			zap.String("channel", ev.Channel),
			zap.Int("sent", sent),
			zap.Int("dropped", dropped))
	}
	return sent
}

func (h *Hub) ClientCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[channel])
}
