package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易类型常量
// ============================================================================

const (
	TransactionTypeDeposit    = "deposit"    // 存入现金
	TransactionTypeWithdrawal = "withdrawal" // 取出现金
	TransactionTypeBuyIn      = "buy_in"     // 买入筹码
	TransactionTypeCashOut    = "cash_out"   // 筹码兑现
	TransactionTypeCredit     = "credit"     // 发放信用
	TransactionTypeDebit      = "debit"      // 归还信用
	TransactionTypeWin        = "win"        // 赢
	TransactionTypeLoss       = "loss"       // 输
)

var transactionTypes = map[string]bool{
	TransactionTypeDeposit:    true,
	TransactionTypeWithdrawal: true,
	TransactionTypeBuyIn:      true,
	TransactionTypeCashOut:    true,
	TransactionTypeCredit:     true,
	TransactionTypeDebit:      true,
	TransactionTypeWin:        true,
	TransactionTypeLoss:       true,
}

func IsValidTransactionType(t string) bool {
	return transactionTypes[t]
}

// ============================================================================
// 玩家流水实体
// ============================================================================

// Transaction 玩家流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除
// 2. CashDelta 是本笔对现金余额的实际变动，玩家现金余额 == 所有 CashDelta 之和
// 3. 记录交易后余额，便于校验任意前缀的一致性
//
// Amount 是请求金额；买入时现金不足的部分由信用补足，此时 CashDelta 与 Amount 不同
type Transaction struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo    string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	PlayerAppID      uint64          `gorm:"index;not null" json:"player_app_id"`
	Type             string          `gorm:"type:varchar(20);not null" json:"type"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	CashDelta        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"cash_delta"`
	CreditDelta      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"credit_delta"`
	ResultingBalance decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"resulting_balance"`
	ResultingCredit  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"resulting_credit"`
	StaffID          *string         `gorm:"type:varchar(64)" json:"staff_id"`
	Reference        string          `gorm:"type:varchar(64);index" json:"reference"` // 关联申请单号或座位会话
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "player_transaction"
}
