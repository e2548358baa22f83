package handler

import (
	"time"

	"pokerclub/internal/service"
	"pokerclub/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// 工作人员接口，操作人由 StaffMiddleware 从请求头解析

func staffID(c *gin.Context) string {
	return c.GetString(staffIDKey)
}

type ApproveBody struct {
	Override bool `json:"override"`
}

// ApproveRequest POST /api/v1/staff/requests/:id/approve
func (h *Handler) ApproveRequest(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var body ApproveBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.ParamError(c, "参数错误: "+err.Error())
			return
		}
	}

	req, err := h.requestService.Approve(c.Request.Context(), id, staffID(c), body.Override)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, req)
}

type RejectBody struct {
	Reason string `json:"reason" binding:"required"`
}

// RejectRequest POST /api/v1/staff/requests/:id/reject
func (h *Handler) RejectRequest(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var body RejectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	req, err := h.requestService.Reject(c.Request.Context(), id, staffID(c), body.Reason)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, req)
}

// ListPendingRequests GET /api/v1/staff/requests/pending?kind=
func (h *Handler) ListPendingRequests(c *gin.Context) {
	list, err := h.requestService.ListPending(c.Request.Context(), c.Query("kind"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, list)
}

type AssignSeatBody struct {
	PlayerAppID  uint64          `json:"player_app_id" binding:"required"`
	TableID      uint64          `json:"table_id" binding:"required"`
	SeatNumber   int             `json:"seat_number" binding:"required,gt=0"`
	InitialBuyIn decimal.Decimal `json:"initial_buy_in"`
}

// AssignSeat POST /api/v1/staff/seats/assign
func (h *Handler) AssignSeat(c *gin.Context) {
	var body AssignSeatBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	session, err := h.seatService.AssignSeat(c.Request.Context(), &service.AssignSeatRequest{
		StaffID:      staffID(c),
		PlayerAppID:  body.PlayerAppID,
		TableID:      body.TableID,
		SeatNumber:   body.SeatNumber,
		InitialBuyIn: body.InitialBuyIn,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, session)
}

// TimerBody 倒计时/兑现窗口时长，0 使用配置默认值
type TimerBody struct {
	Minutes int `json:"minutes"`
}

func timerDuration(c *gin.Context) (time.Duration, bool) {
	var body TimerBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil || body.Minutes < 0 {
			response.ParamError(c, "minutes 参数错误")
			return 0, false
		}
	}
	return time.Duration(body.Minutes) * time.Minute, true
}

// StartCallTime POST /api/v1/staff/seats/:id/call-time
func (h *Handler) StartCallTime(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	d, ok := timerDuration(c)
	if !ok {
		return
	}
	session, err := h.seatService.StartCallTime(c.Request.Context(), staffID(c), id, d)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, session)
}

// ClearCallTime DELETE /api/v1/staff/seats/:id/call-time
func (h *Handler) ClearCallTime(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	session, err := h.seatService.ClearCallTime(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, session)
}

// OpenCashoutWindow POST /api/v1/staff/seats/:id/cashout-window
func (h *Handler) OpenCashoutWindow(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	d, ok := timerDuration(c)
	if !ok {
		return
	}
	session, err := h.seatService.OpenCashoutWindow(c.Request.Context(), staffID(c), id, d)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, session)
}

// CloseCashoutWindow DELETE /api/v1/staff/seats/:id/cashout-window
func (h *Handler) CloseCashoutWindow(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	session, err := h.seatService.CloseCashoutWindow(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, session)
}

type VacateBody struct {
	Reason string `json:"reason"`
}

// Vacate POST /api/v1/staff/seats/:id/vacate
func (h *Handler) Vacate(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var body VacateBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.ParamError(c, "参数错误: "+err.Error())
			return
		}
	}

	recon, err := h.seatService.Vacate(c.Request.Context(), staffID(c), id, body.Reason)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, recon)
}

type LedgerTransactionBody struct {
	AppID  uint64          `json:"app_id" binding:"required"`
	Type   string          `json:"type" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// ApplyTransaction 收银台直接记账：存取现金、发放/归还信用、输赢调整
// POST /api/v1/staff/ledger/transactions
func (h *Handler) ApplyTransaction(c *gin.Context) {
	var body LedgerTransactionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	staff := staffID(c)
	player, err := h.ledgerService.ApplyTransaction(c.Request.Context(), body.AppID, body.Type, body.Amount, &staff)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"app_id":         player.AppID,
		"cash_balance":   player.CashBalance,
		"credit_balance": player.CreditBalance,
		"table_balance":  player.TableBalance(),
		"version":        player.Version,
	})
}

type CreditLimitBody struct {
	AppID uint64          `json:"app_id" binding:"required"`
	Limit decimal.Decimal `json:"limit"`
}

// SetCreditLimit POST /api/v1/staff/credit-limit
func (h *Handler) SetCreditLimit(c *gin.Context) {
	var body CreditLimitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	player, err := h.ledgerService.SetCreditLimit(c.Request.Context(), body.AppID, body.Limit, staffID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"app_id":           player.AppID,
		"credit_limit":     player.CreditLimit,
		"available_credit": player.AvailableCredit(),
	})
}

type RelinkBody struct {
	AppID          uint64 `json:"app_id" binding:"required"`
	ExternalAuthID string `json:"external_auth_id" binding:"required"`
}

// RelinkIdentity 工作人员处理身份冲突
// POST /api/v1/staff/identity/relink
func (h *Handler) RelinkIdentity(c *gin.Context) {
	var body RelinkBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	player, err := h.identityService.RelinkExternalAuth(c.Request.Context(), body.AppID, body.ExternalAuthID, staffID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, player)
}

// VerifyLedger GET /api/v1/staff/ledger/:app_id/verify
func (h *Handler) VerifyLedger(c *gin.Context) {
	appID, ok := uintParam(c, "app_id")
	if !ok {
		return
	}
	report, err := h.ledgerService.VerifyLedger(c.Request.Context(), appID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, report)
}
