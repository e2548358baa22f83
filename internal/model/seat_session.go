package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SeatStatusWaiting = "waiting"
	SeatStatusSeated  = "seated"
	SeatStatusVacated = "vacated"
)

// 派生阶段：Seated 之下还有倒计时与兑现窗口两个子状态
const (
	SeatPhaseWaiting             = "Waiting"
	SeatPhaseSeated              = "Seated"
	SeatPhaseCallTimeActive      = "CallTimeActive"
	SeatPhaseCashoutWindowActive = "CashoutWindowActive"
	SeatPhaseVacated             = "Vacated"
)

var ValidSeatTransitions = map[string][]string{
	SeatStatusWaiting: {SeatStatusSeated, SeatStatusVacated},
	SeatStatusSeated:  {SeatStatusVacated},
}

func CanSeatTransitionTo(currentStatus, targetStatus string) bool {
	for _, s := range ValidSeatTransitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

const (
	VacateReasonForfeited = "call_time_forfeited"
	VacateReasonStaff     = "staff"
	VacateReasonCashedOut = "cashed_out"
	VacateReasonLeftQueue = "left_waitlist"
)

// SeatSession 一次连续的入座会话
//
// 两个可空唯一列承担并发约束（NULL 不参与唯一性比较）：
//   - OpenKey: 非 vacated 时为 "player:table"，保证同一玩家同一桌最多一条未结束会话
//   - OccupiedKey: seated 时为 "table:seat"，保证同一座位同一时刻最多一位玩家
//
// 等候状态下的 SeatNumber 只是偏好，多人可以偏好同一个座位，排他性只在入座时校验
type SeatSession struct {
	ID                   int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PlayerAppID          uint64          `gorm:"index:idx_seat_player_table;not null" json:"player_app_id"`
	TableID              uint64          `gorm:"index:idx_seat_player_table;index;not null" json:"table_id"`
	SeatNumber           int             `gorm:"not null;default:0" json:"seat_number"`
	Status               string          `gorm:"type:varchar(16);index;not null" json:"status"`
	OpenKey              *string         `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	OccupiedKey          *string         `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	SessionStartTime     *time.Time      `json:"session_start_time"`
	SessionBuyInAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"session_buy_in_amount"`
	SessionCashOutAmount decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"session_cash_out_amount"`
	CallTimeStarted      *time.Time      `json:"call_time_started"`
	CallTimeEnds         *time.Time      `gorm:"index" json:"call_time_ends"`
	CashoutWindowActive  bool            `gorm:"not null;default:false" json:"cashout_window_active"`
	CashoutWindowStarted *time.Time      `json:"cashout_window_started"`
	CashoutWindowEnds    *time.Time      `gorm:"index" json:"cashout_window_ends"`
	AssignedBy           *string         `gorm:"type:varchar(64)" json:"assigned_by"`
	VacatedAt            *time.Time      `json:"vacated_at"`
	VacateReason         string          `gorm:"type:varchar(32)" json:"vacate_reason"`
	Version              int             `gorm:"not null;default:0" json:"version"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SeatSession) TableName() string {
	return "seat_session"
}

func OpenSessionKey(playerAppID, tableID uint64) string {
	return fmt.Sprintf("%d:%d", playerAppID, tableID)
}

func OccupiedSeatKey(tableID uint64, seatNumber int) string {
	return fmt.Sprintf("%d:%d", tableID, seatNumber)
}

// Phase 当前所处阶段，兑现窗口优先于倒计时
func (s *SeatSession) Phase() string {
	switch s.Status {
	case SeatStatusWaiting:
		return SeatPhaseWaiting
	case SeatStatusVacated:
		return SeatPhaseVacated
	}
	if s.CashoutWindowActive {
		return SeatPhaseCashoutWindowActive
	}
	if s.CallTimeEnds != nil {
		return SeatPhaseCallTimeActive
	}
	return SeatPhaseSeated
}

func (s *SeatSession) IsSeated() bool {
	return s.Status == SeatStatusSeated
}

// CashoutWindowOpenAt 兑现窗口在给定时刻是否有效
func (s *SeatSession) CashoutWindowOpenAt(now time.Time) bool {
	if !s.IsSeated() || !s.CashoutWindowActive {
		return false
	}
	return s.CashoutWindowEnds == nil || now.Before(*s.CashoutWindowEnds)
}

// SessionReconciliation 会话结束时的对账结果，仅用于报表
type SessionReconciliation struct {
	SessionID     int64           `json:"session_id"`
	BuyInAmount   decimal.Decimal `json:"buy_in_amount"`
	CashOutAmount decimal.Decimal `json:"cash_out_amount"`
	Net           decimal.Decimal `json:"net"`
}

func (s *SeatSession) Reconcile() SessionReconciliation {
	return SessionReconciliation{
		SessionID:     s.ID,
		BuyInAmount:   s.SessionBuyInAmount,
		CashOutAmount: s.SessionCashOutAmount,
		Net:           s.SessionCashOutAmount.Sub(s.SessionBuyInAmount),
	}
}
