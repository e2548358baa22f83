// Package portalclient 门户前端使用的余额同步客户端
//
// 推送只是提示，收到后重新拉取；定时轮询兜底推送丢失或断线的情况。
// 两条路径都走 Watcher.Refresh，不存在只更新一半状态的分支。
package portalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pokerclub/pkg/response"

	"github.com/shopspring/decimal"
)

// Balance 余额视图，与服务端 GET /players/:app_id/balance 返回一致
type Balance struct {
	AppID           uint64          `json:"app_id"`
	Cash            decimal.Decimal `json:"cash"`
	Credit          decimal.Decimal `json:"credit"`
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	AvailableCredit decimal.Decimal `json:"available_credit"`
	TableBalance    struct {
		Cash   decimal.Decimal `json:"cash"`
		Credit decimal.Decimal `json:"credit"`
		Total  decimal.Decimal `json:"total"`
	} `json:"table_balance"`
	IsSeated bool `json:"is_seated"`
	Version  int  `json:"version"`
}

// SeatSession 玩家在某桌的会话，对应 GET /players/:app_id/seat
type SeatSession struct {
	ID                   int64           `json:"id"`
	TableID              uint64          `json:"table_id"`
	SeatNumber           int             `json:"seat_number"`
	Status               string          `json:"status"`
	SessionBuyInAmount   decimal.Decimal `json:"session_buy_in_amount"`
	SessionCashOutAmount decimal.Decimal `json:"session_cash_out_amount"`
	CallTimeEnds         *time.Time      `json:"call_time_ends"`
	CashoutWindowActive  bool            `json:"cashout_window_active"`
	CashoutWindowEnds    *time.Time      `json:"cashout_window_ends"`
	Version              int             `json:"version"`
}

type Seat struct {
	Session *SeatSession `json:"session"`
	Phase   string       `json:"phase"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError 服务端返回的业务错误
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("门户接口错误 %d: %s", e.Code, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// get 请求并解包统一响应，data 解析到 out
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("请求 %s 失败: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("请求 %s 失败: http %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if env.Code != response.CodeSuccess {
		return &APIError{Code: env.Code, Message: env.Message}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("解析 %s 数据失败: %w", path, err)
	}
	return nil
}

func (c *Client) GetBalance(ctx context.Context, appID uint64) (*Balance, error) {
	var balance Balance
	if err := c.get(ctx, fmt.Sprintf("/api/v1/players/%d/balance", appID), &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// GetSeat 玩家在某桌的会话；没有会话时返回 nil, nil
func (c *Client) GetSeat(ctx context.Context, appID, tableID uint64) (*Seat, error) {
	var seat Seat
	err := c.get(ctx, fmt.Sprintf("/api/v1/players/%d/seat?table_id=%d", appID, tableID), &seat)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == response.CodeSessionNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &seat, nil
}

// PushURL 玩家频道的 websocket 地址
func (c *Client) PushURL(appID uint64) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return fmt.Sprintf("%s/api/v1/realtime/ws?channel=player-%d", base, appID)
}
