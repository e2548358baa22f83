package handler

import (
	"strconv"

	"pokerclub/internal/model"
	"pokerclub/internal/realtime"
	"pokerclub/internal/service"
	"pokerclub/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	ledgerService   *service.LedgerService
	identityService *service.IdentityService
	requestService  *service.RequestService
	seatService     *service.SeatService
	hub             *realtime.Hub
}

// Services 由 main 统一构造后注入，后台任务与 handler 共用同一组实例
type Services struct {
	Ledger   *service.LedgerService
	Identity *service.IdentityService
	Requests *service.RequestService
	Seats    *service.SeatService
}

func NewHandler(svc Services, hub *realtime.Hub) *Handler {
	return &Handler{
		ledgerService:   svc.Ledger,
		identityService: svc.Identity,
		requestService:  svc.Requests,
		seatService:     svc.Seats,
		hub:             hub,
	}
}

func uintParam(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return v, true
}

func idParam(c *gin.Context) (int64, bool) {
	v, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || v <= 0 {
		response.ParamError(c, "id 参数错误")
		return 0, false
	}
	return v, true
}

func uintQuery(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Query(name), 10, 64)
	if err != nil || v == 0 {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return v, true
}

// ============================================================
// 玩家端接口
// ============================================================

// GetBalance 查询余额
// GET /api/v1/players/:app_id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	appID, ok := uintParam(c, "app_id")
	if !ok {
		return
	}

	balance, err := h.ledgerService.GetBalance(c.Request.Context(), appID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, balance)
}

// ListTransactions 流水分页
// GET /api/v1/players/:app_id/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	appID, ok := uintParam(c, "app_id")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	list, total, err := h.ledgerService.ListTransactions(c.Request.Context(), appID, page, pageSize)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":  list,
		"total": total,
		"page":  page,
	})
}

// SubmitRequestBody 买入/兑现申请
type SubmitRequestBody struct {
	Amount  decimal.Decimal `json:"amount"`
	TableID *uint64         `json:"table_id"`
}

func (h *Handler) submit(c *gin.Context, kind string) {
	appID, ok := uintParam(c, "app_id")
	if !ok {
		return
	}
	var body SubmitRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	req, err := h.requestService.Submit(c.Request.Context(), kind, appID, body.Amount, body.TableID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, req)
}

// SubmitBuyIn POST /api/v1/players/:app_id/requests/buy-in
func (h *Handler) SubmitBuyIn(c *gin.Context) {
	h.submit(c, model.RequestKindBuyIn)
}

// SubmitCashOut POST /api/v1/players/:app_id/requests/cash-out
func (h *Handler) SubmitCashOut(c *gin.Context) {
	h.submit(c, model.RequestKindCashOut)
}

// ListPlayerRequests GET /api/v1/players/:app_id/requests
func (h *Handler) ListPlayerRequests(c *gin.Context) {
	appID, ok := uintParam(c, "app_id")
	if !ok {
		return
	}
	list, err := h.requestService.ListByPlayer(c.Request.Context(), appID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, list)
}

// GetSeat 玩家在某桌的当前会话
// GET /api/v1/players/:app_id/seat?table_id=
func (h *Handler) GetSeat(c *gin.Context) {
	appID, ok := uintParam(c, "app_id")
	if !ok {
		return
	}
	tableID, ok := uintQuery(c, "table_id")
	if !ok {
		return
	}

	session, err := h.seatService.GetSeatSession(c.Request.Context(), appID, tableID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"session": session,
		"phase":   session.Phase(),
	})
}

type JoinWaitlistBody struct {
	TableID       uint64 `json:"table_id" binding:"required"`
	PreferredSeat int    `json:"preferred_seat"`
}

// JoinWaitlist POST /api/v1/players/:app_id/waitlist
func (h *Handler) JoinWaitlist(c *gin.Context) {
	appID, ok := uintParam(c, "app_id")
	if !ok {
		return
	}
	var body JoinWaitlistBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	session, err := h.seatService.JoinWaitlist(c.Request.Context(), appID, body.TableID, body.PreferredSeat)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, session)
}

// LeaveWaitlist DELETE /api/v1/players/:app_id/waitlist?table_id=
func (h *Handler) LeaveWaitlist(c *gin.Context) {
	appID, ok := uintParam(c, "app_id")
	if !ok {
		return
	}
	tableID, ok := uintQuery(c, "table_id")
	if !ok {
		return
	}

	session, err := h.seatService.LeaveWaitlist(c.Request.Context(), appID, tableID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, session)
}

// ListTable 某桌的入座和等候情况
// GET /api/v1/tables/:table_id/seats
func (h *Handler) ListTable(c *gin.Context) {
	tableID, ok := uintParam(c, "table_id")
	if !ok {
		return
	}
	view, err := h.seatService.ListTable(c.Request.Context(), tableID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, view)
}

// ============================================================
// 身份 / 实名认证边界
// ============================================================

type LinkIdentityBody struct {
	ExternalAuthID string `json:"external_auth_id" binding:"required"`
	Email          string `json:"email" binding:"required"`
	Name           string `json:"name"`
	Phone          string `json:"phone"`
}

// LinkIdentity 外部身份登录后建号或绑定
// POST /api/v1/identity/link
func (h *Handler) LinkIdentity(c *gin.Context) {
	var body LinkIdentityBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	player, err := h.identityService.CreateOrLinkPlayer(c.Request.Context(), body.ExternalAuthID, model.ProfileFields{
		Email: body.Email,
		Name:  body.Name,
		Phone: body.Phone,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, player)
}

// ResolveExternal GET /api/v1/identity/external/:external_auth_id
func (h *Handler) ResolveExternal(c *gin.Context) {
	player, err := h.identityService.ResolveByExternalAuthID(c.Request.Context(), c.Param("external_auth_id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, player)
}

type KycBody struct {
	AppID  uint64 `json:"app_id" binding:"required"`
	Status string `json:"status" binding:"required"`
}

// UpdateKyc 实名认证子系统回写
// POST /api/v1/identity/kyc
func (h *Handler) UpdateKyc(c *gin.Context) {
	var body KycBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	player, err := h.identityService.UpdateKycStatus(c.Request.Context(), body.AppID, body.Status)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, player)
}
