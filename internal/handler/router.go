package handler

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		players := api.Group("/players/:app_id")
		{
			players.GET("/balance", h.GetBalance)
			players.GET("/transactions", h.ListTransactions)
			players.POST("/requests/buy-in", h.SubmitBuyIn)
			players.POST("/requests/cash-out", h.SubmitCashOut)
			players.GET("/requests", h.ListPlayerRequests)
			players.GET("/seat", h.GetSeat)
			players.POST("/waitlist", h.JoinWaitlist)
			players.DELETE("/waitlist", h.LeaveWaitlist)
		}

		api.GET("/tables/:table_id/seats", h.ListTable)

		identity := api.Group("/identity")
		{
			identity.POST("/link", h.LinkIdentity)
			identity.GET("/external/:external_auth_id", h.ResolveExternal)
			identity.POST("/kyc", h.UpdateKyc)
		}

		staff := api.Group("/staff", StaffMiddleware())
		{
			staff.POST("/requests/:id/approve", h.ApproveRequest)
			staff.POST("/requests/:id/reject", h.RejectRequest)
			staff.GET("/requests/pending", h.ListPendingRequests)

			staff.POST("/seats/assign", h.AssignSeat)
			staff.POST("/seats/:id/call-time", h.StartCallTime)
			staff.DELETE("/seats/:id/call-time", h.ClearCallTime)
			staff.POST("/seats/:id/cashout-window", h.OpenCashoutWindow)
			staff.DELETE("/seats/:id/cashout-window", h.CloseCashoutWindow)
			staff.POST("/seats/:id/vacate", h.Vacate)

			staff.POST("/ledger/transactions", h.ApplyTransaction)
			staff.GET("/ledger/:app_id/verify", h.VerifyLedger)
			staff.POST("/credit-limit", h.SetCreditLimit)
			staff.POST("/identity/relink", h.RelinkIdentity)
		}

		if h.hub != nil {
			rt := api.Group("/realtime")
			{
				rt.GET("/ws", h.hub.ServeWS)
				rt.GET("/sse", h.hub.ServeSSE)
			}
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
