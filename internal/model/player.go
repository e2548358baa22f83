package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	KycStatusPending  = "pending"
	KycStatusApproved = "approved"
	KycStatusRejected = "rejected"
)

func IsValidKycStatus(status string) bool {
	switch status {
	case KycStatusPending, KycStatusApproved, KycStatusRejected:
		return true
	}
	return false
}

// Player 玩家表，整个系统的聚合根
//
// 三个标识符共存于同一行：
//   - AppID: 内部自增主键，所有外键（流水、座位、申请）只引用它
//   - ExternalAuthID: 外部身份提供方下发的标识，可为空，非空时唯一
//   - UniversalID: 跨门户审计关联用，惰性分配，业务逻辑从不按它查询
//
// 余额字段全部使用 decimal，禁止 float
type Player struct {
	AppID          uint64          `gorm:"primaryKey;autoIncrement;column:app_id" json:"app_id"`
	ExternalAuthID *string         `gorm:"type:varchar(128);uniqueIndex" json:"external_auth_id"`
	UniversalID    *string         `gorm:"type:varchar(64);uniqueIndex" json:"universal_id"`
	Email          string          `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name           string          `gorm:"type:varchar(128)" json:"name"`
	Phone          string          `gorm:"type:varchar(32)" json:"phone"`
	KycStatus      string          `gorm:"type:varchar(16);not null;default:pending" json:"kyc_status"`
	CashBalance    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"cash_balance"`
	CreditBalance  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"credit_balance"`  // 已使用的信用额度
	CreditLimit    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"credit_limit"`    // 信用上限
	CreditApproved decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"credit_approved"` // 累计批准发放的信用
	TableCash      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"table_cash"`      // 桌上筹码中的现金部分
	TableCredit    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"table_credit"`    // 桌上筹码中的信用部分
	Version        int             `gorm:"not null;default:0" json:"version"`                            // 乐观锁版本号
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Player) TableName() string {
	return "player"
}

// AvailableCredit 剩余可用信用 = 上限 - 已用，不会为负
func (p *Player) AvailableCredit() decimal.Decimal {
	avail := p.CreditLimit.Sub(p.CreditBalance)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// TableBalance 桌上筹码总额
func (p *Player) TableBalance() decimal.Decimal {
	return p.TableCash.Add(p.TableCredit)
}

func (p *Player) KycApproved() bool {
	return p.KycStatus == KycStatusApproved
}

// PlayerAuthLink 外部身份绑定历史
// 玩家当前最多绑定一个 ExternalAuthID，但身份提供方变更后历史上可能出现多个
type PlayerAuthLink struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PlayerAppID    uint64     `gorm:"index;not null" json:"player_app_id"`
	ExternalAuthID string     `gorm:"type:varchar(128);index;not null" json:"external_auth_id"`
	LinkedBy       *string    `gorm:"type:varchar(64)" json:"linked_by"`
	LinkedAt       time.Time  `gorm:"not null" json:"linked_at"`
	UnlinkedAt     *time.Time `json:"unlinked_at"`
}

func (PlayerAuthLink) TableName() string {
	return "player_auth_link"
}

// ProfileFields 外部身份提供方在绑定时提供的资料
type ProfileFields struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}
