package realtime

import (
	"io"
	"net/http"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var channelPattern = regexp.MustCompile(`^(player-[0-9]+|staff)$`)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var nextClientID uint64

func newClientID(prefix string) string {
	return prefix + "_" + strconv.FormatUint(atomic.AddUint64(&nextClientID, 1), 10)
}

// ValidChannel 只允许订阅玩家频道和工作人员频道
func ValidChannel(channel string) bool {
	return channelPattern.MatchString(channel)
}

func channelsFromQuery(c *gin.Context) ([]string, bool) {
	channels := c.QueryArray("channel")
	if len(channels) == 0 {
		return nil, false
	}
	for _, ch := range channels {
		if !ValidChannel(ch) {
			return nil, false
		}
	}
	return channels, true
}

// ServeWS 建立 websocket 订阅
// GET /api/v1/realtime/ws?channel=player-1&channel=staff
func (h *Hub) ServeWS(c *gin.Context) {
	channels, ok := channelsFromQuery(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "channel 参数错误"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket 升级失败", zap.Error(err))
		return
	}

	client := h.Subscribe(newClientID("ws"), channels...)
	go h.wsWritePump(conn, client)
	h.wsReadPump(conn, client)
}

// wsReadPump 只用于检测断开和处理 pong，客户端不会发送业务消息
func (h *Hub) wsReadPump(conn *websocket.Conn, client *Client) {
	defer func() {
		h.Unsubscribe(client)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket 读取错误", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) wsWritePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeSSE 建立 Server-Sent Events 订阅，供浏览器端使用
// GET /api/v1/realtime/sse?channel=player-1
func (h *Hub) ServeSSE(c *gin.Context) {
	channels, ok := channelsFromQuery(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "channel 参数错误"})
		return
	}

	client := h.Subscribe(newClientID("sse"), channels...)
	defer h.Unsubscribe(client)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-client.send:
			if !ok {
				return false
			}
			c.SSEvent(ev.Event, ev)
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"ts": time.Now().Unix()})
			return true
		}
	})
}
