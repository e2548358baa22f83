package handler

import (
	"net/http"
	"strings"
	"time"

	"pokerclub/pkg/logger"
	"pokerclub/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	staffIDHeader = "X-Staff-ID"
	staffIDKey    = "staff_id"
)

// LoggerMiddleware 访问日志
func LoggerMiddleware() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		log.Info("HTTP 请求",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("staff_id", c.GetString(staffIDKey)),
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("捕获 panic",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"))
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
					Code:    response.CodeServerError,
					Message: "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, X-Staff-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// StaffMiddleware 工作人员接口必须带操作人标识，写入流水和日志
// 身份认证由前置网关负责
func StaffMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		staff := strings.TrimSpace(c.GetHeader(staffIDHeader))
		if staff == "" {
			c.AbortWithStatusJSON(http.StatusOK, response.Response{
				Code:    response.CodeUnauthorized,
				Message: "缺少工作人员标识 " + staffIDHeader,
			})
			return
		}
		c.Set(staffIDKey, staff)
		c.Next()
	}
}
