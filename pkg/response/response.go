package response

import (
	"errors"
	"net/http"

	"pokerclub/internal/infrastructure/lock"
	"pokerclub/internal/model"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodePlayerNotFound      = 1001
	CodeIdentityConflict    = 1002
	CodeBalanceNotEnough    = 1003
	CodeDuplicateRequest    = 1004
	CodeCreditLimitExceeded = 1005
	CodeRequestNotFound     = 1006
	CodeAlreadyResolved     = 1007
	CodeSeatOccupied        = 1008
	CodeSessionNotFound     = 1009
	CodeSessionAlreadyOpen  = 1010
	CodeNotWaitlisted       = 1011
	CodeNotSeated           = 1012
	CodeCashoutWindowClosed = 1013
	CodeKycNotApproved      = 1014
	CodeInvalidAmount       = 1015
	CodeStatusInvalid       = 1016
	CodeConcurrentModified  = 1017
	CodeSystemBusy          = 1018
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}

// 业务错误到响应码的映射，按顺序匹配
var errorCodes = []struct {
	err  error
	code int
}{
	{model.ErrPlayerNotFound, CodePlayerNotFound},
	{model.ErrIdentityConflict, CodeIdentityConflict},
	{model.ErrInsufficientFunds, CodeBalanceNotEnough},
	{model.ErrDuplicatePendingRequest, CodeDuplicateRequest},
	{model.ErrCreditLimitExceeded, CodeCreditLimitExceeded},
	{model.ErrRequestNotFound, CodeRequestNotFound},
	{model.ErrAlreadyResolved, CodeAlreadyResolved},
	{model.ErrSeatAlreadyOccupied, CodeSeatOccupied},
	{model.ErrSessionNotFound, CodeSessionNotFound},
	{model.ErrSessionAlreadyOpen, CodeSessionAlreadyOpen},
	{model.ErrNotWaitlisted, CodeNotWaitlisted},
	{model.ErrNotSeated, CodeNotSeated},
	{model.ErrCashoutWindowClosed, CodeCashoutWindowClosed},
	{model.ErrKycNotApproved, CodeKycNotApproved},
	{model.ErrInvalidAmount, CodeInvalidAmount},
	{model.ErrInvalidTransition, CodeStatusInvalid},
	{model.ErrOptimisticLock, CodeConcurrentModified},
	{lock.ErrLockFailed, CodeSystemBusy},
	{model.ErrInvalidProfile, CodeParamError},
	{model.ErrInvalidSeat, CodeParamError},
	{model.ErrTableRequired, CodeParamError},
	{model.ErrInvalidTransactionType, CodeParamError},
	{model.ErrInvalidKycStatus, CodeParamError},
	{model.ErrInvalidRequestKind, CodeParamError},
}

// CodeOf 返回错误对应的响应码，未知错误返回 CodeServerError
func CodeOf(err error) int {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeServerError
}

// Fail 按错误类型输出响应，未知错误不暴露内部信息
func Fail(c *gin.Context, err error) {
	code := CodeOf(err)
	if code == CodeServerError {
		ServerError(c, "服务器内部错误")
		return
	}
	Error(c, code, err.Error())
}
