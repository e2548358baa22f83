package model

import (
	"strconv"
	"time"

	"gorm.io/datatypes"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 实时事件名
const (
	EventBalanceChanged   = "balance_changed"
	EventSeatChanged      = "seat_changed"
	EventRequestResolved  = "request_resolved"
	EventRequestSubmitted = "request_submitted"
)

// StaffChannel 工作人员看板共用的频道
const StaffChannel = "staff"

func PlayerChannel(appID uint64) string {
	return "player-" + strconv.FormatUint(appID, 10)
}

// OutboxMessage 本地消息表
// 与业务数据在同一个事务内写入，由 OutboxSender 异步投递到实时层和 Kafka
type OutboxMessage struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Channel    string         `gorm:"type:varchar(64);not null" json:"channel"`
	Event      string         `gorm:"type:varchar(32);not null" json:"event"`
	Payload    datatypes.JSON `gorm:"not null" json:"payload"`
	Status     string         `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int            `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
