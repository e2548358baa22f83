package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RequestKindBuyIn   = "buy_in"
	RequestKindCashOut = "cash_out"
)

const (
	RequestStatusPending  = "pending"
	RequestStatusApproved = "approved"
	RequestStatusRejected = "rejected"
)

var ValidRequestTransitions = map[string][]string{
	RequestStatusPending: {RequestStatusApproved, RequestStatusRejected},
}

func CanRequestTransitionTo(currentStatus, targetStatus string) bool {
	for _, s := range ValidRequestTransitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

func IsValidRequestKind(kind string) bool {
	return kind == RequestKindBuyIn || kind == RequestKindCashOut
}

// TableRequest 买入/兑现申请
// 玩家提交只代表意图，只有工作人员批准后才会落账
//
// PendingKey 在 pending 时为 "player:kind"，结束后置空，
// 由唯一索引保证同一玩家同一类型最多一个待处理申请
type TableRequest struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestNo     string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_no"`
	PlayerAppID   uint64          `gorm:"index;not null" json:"player_app_id"`
	Kind          string          `gorm:"type:varchar(16);not null" json:"kind"`
	TableID       *uint64         `json:"table_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status        string          `gorm:"type:varchar(16);index;not null" json:"status"`
	PendingKey    *string         `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	RequestedAt   time.Time       `gorm:"not null" json:"requested_at"`
	ResolvedBy    *string         `gorm:"type:varchar(64)" json:"resolved_by"`
	ResolvedAt    *time.Time      `json:"resolved_at"`
	RejectReason  string          `gorm:"type:varchar(256)" json:"reject_reason"`
	StaffOverride bool            `gorm:"not null;default:false" json:"staff_override"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TableRequest) TableName() string {
	return "table_request"
}

func PendingRequestKey(playerAppID uint64, kind string) string {
	return fmt.Sprintf("%d:%s", playerAppID, kind)
}
