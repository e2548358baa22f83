package model

import "errors"

// 业务错误，校验失败一律同步返回，不做部分提交
var (
	ErrPlayerNotFound          = errors.New("玩家不存在")
	ErrIdentityConflict        = errors.New("身份冲突：该邮箱已绑定其他外部身份")
	ErrInvalidProfile          = errors.New("资料不完整：外部身份和邮箱不能为空")
	ErrInsufficientFunds       = errors.New("余额不足")
	ErrCreditLimitExceeded     = errors.New("超出信用额度")
	ErrDuplicatePendingRequest = errors.New("已有待处理的同类申请")
	ErrRequestNotFound         = errors.New("申请不存在")
	ErrAlreadyResolved         = errors.New("申请已处理")
	ErrSeatAlreadyOccupied     = errors.New("座位已被占用")
	ErrInvalidSeat             = errors.New("桌号或座位号不合法")
	ErrSessionNotFound         = errors.New("座位会话不存在")
	ErrSessionAlreadyOpen      = errors.New("已在该桌等候或入座")
	ErrNotWaitlisted           = errors.New("玩家不在该桌的等候名单中")
	ErrNotSeated               = errors.New("玩家未入座")
	ErrTableRequired           = errors.New("同时在多张桌入座，必须指定桌号")
	ErrCashoutWindowClosed     = errors.New("兑现窗口未开启")
	ErrKycNotApproved          = errors.New("实名认证未通过")
	ErrInvalidAmount           = errors.New("金额必须大于0")
	ErrInvalidTransactionType  = errors.New("不支持的交易类型")
	ErrInvalidKycStatus        = errors.New("不支持的认证状态")
	ErrInvalidRequestKind      = errors.New("不支持的申请类型")
	ErrInvalidTransition       = errors.New("状态流转不合法")
	ErrOptimisticLock          = errors.New("乐观锁冲突，请重试")
)
