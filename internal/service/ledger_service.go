package service

import (
	"context"
	"errors"
	"fmt"

	"pokerclub/internal/config"
	"pokerclub/internal/dependencies/clock"
	"pokerclub/internal/infrastructure/lock"
	"pokerclub/internal/model"
	"pokerclub/internal/repository"
	"pokerclub/pkg/idgen"
	"pokerclub/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================================
// 余额账本
// ============================================================================
//
// 【唯一的余额写入口】
//
// 玩家、收银、座位管理三方从不同门户并发操作同一玩家，没有共享的请求上下文，
// 所有余额变动都必须经过 ApplyTransaction：
//   1. Redis 玩家锁串行化跨门户操作
//   2. SELECT ... FOR UPDATE 锁定玩家行
//   3. UPDATE ... WHERE version = ? 写回余额
//   4. 同一事务内追加流水、写入 outbox 事件
//
// 【买入取款顺序】现金优先，现金不足的部分才动用信用
// 【兑现还款顺序】先归还桌上信用，剩余部分回到现金
//
// 玩家现金余额 == 该玩家全部流水 cash_delta 之和
// ============================================================================

type LedgerService struct {
	db              *gorm.DB
	locker          *lock.PlayerLocker
	clock           clock.Clock
	overdraft       decimal.Decimal
	playerRepo      *repository.PlayerRepository
	transactionRepo *repository.TransactionRepository
	seatRepo        *repository.SeatRepository
	outboxRepo      *repository.OutboxRepository
	logger          *zap.Logger
}

func NewLedgerService(db *gorm.DB, locker *lock.PlayerLocker, clk clock.Clock, cfg *config.Config) *LedgerService {
	return &LedgerService{
		db:              db,
		locker:          locker,
		clock:           clk,
		overdraft:       cfg.Business.OverdraftLimitDecimal(),
		playerRepo:      repository.NewPlayerRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		seatRepo:        repository.NewSeatRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		logger:          logger.Named("ledger"),
	}
}

type TableBalance struct {
	Cash   decimal.Decimal `json:"cash"`
	Credit decimal.Decimal `json:"credit"`
	Total  decimal.Decimal `json:"total"`
}

// Balance 玩家余额视图
type Balance struct {
	AppID           uint64          `json:"app_id"`
	Cash            decimal.Decimal `json:"cash"`
	Credit          decimal.Decimal `json:"credit"`
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	AvailableCredit decimal.Decimal `json:"available_credit"`
	CreditApproved  decimal.Decimal `json:"credit_approved"`
	TableBalance    TableBalance    `json:"table_balance"`
	IsSeated        bool            `json:"is_seated"`
	KycStatus       string          `json:"kyc_status"`
	Version         int             `json:"version"`
}

func (s *LedgerService) GetBalance(ctx context.Context, appID uint64) (*Balance, error) {
	player, err := s.playerRepo.GetByAppID(ctx, nil, appID)
	if err != nil {
		return nil, err
	}

	seated, err := s.seatRepo.ListSeatedByPlayer(ctx, nil, appID)
	if err != nil {
		return nil, fmt.Errorf("查询座位失败: %w", err)
	}

	return &Balance{
		AppID:           player.AppID,
		Cash:            player.CashBalance,
		Credit:          player.CreditBalance,
		CreditLimit:     player.CreditLimit,
		AvailableCredit: player.AvailableCredit(),
		CreditApproved:  player.CreditApproved,
		TableBalance: TableBalance{
			Cash:   player.TableCash,
			Credit: player.TableCredit,
			Total:  player.TableBalance(),
		},
		IsSeated:  len(seated) > 0,
		KycStatus: player.KycStatus,
		Version:   player.Version,
	}, nil
}

// ApplyTransaction 唯一的余额变更入口
func (s *LedgerService) ApplyTransaction(ctx context.Context, appID uint64, txType string, amount decimal.Decimal, staffID *string) (*model.Player, error) {
	if err := validateTransaction(txType, amount); err != nil {
		return nil, err
	}

	var (
		player *model.Player
		trans  *model.Transaction
	)
	err := withPlayerLock(ctx, s.locker, appID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			var err error
			player, trans, err = s.applyInTx(ctx, tx, appID, txType, amount, staffID, "")
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("账本流水已记录",
		zap.Uint64("app_id", appID),
		zap.String("type", txType),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("transaction_no", trans.TransactionNo),
		zap.String("cash_balance", player.CashBalance.StringFixed(2)))
	return player, nil
}

func validateTransaction(txType string, amount decimal.Decimal) error {
	if !model.IsValidTransactionType(txType) {
		return model.ErrInvalidTransactionType
	}
	if !amount.IsPositive() {
		return model.ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: 最多两位小数", model.ErrInvalidAmount)
	}
	return nil
}

// applyInTx 在调用方事务内完成一次余额变更，供申请审批、入座买入复用
// 调用方负责持有玩家锁
func (s *LedgerService) applyInTx(ctx context.Context, tx *gorm.DB, appID uint64, txType string, amount decimal.Decimal, staffID *string, reference string) (*model.Player, *model.Transaction, error) {
	if err := validateTransaction(txType, amount); err != nil {
		return nil, nil, err
	}

	player, err := s.playerRepo.GetByAppIDForUpdate(ctx, tx, appID)
	if err != nil {
		return nil, nil, err
	}

	move, err := planMove(player, txType, amount, s.overdraft)
	if err != nil {
		return nil, nil, err
	}
	move.applyTo(player)

	if err := s.playerRepo.UpdateBalances(ctx, tx, player); err != nil {
		return nil, nil, fmt.Errorf("更新余额失败: %w", err)
	}

	trans := &model.Transaction{
		TransactionNo:    idgen.GenerateTransactionNo(),
		PlayerAppID:      appID,
		Type:             txType,
		Amount:           amount,
		CashDelta:        move.cash,
		CreditDelta:      move.credit,
		ResultingBalance: player.CashBalance,
		ResultingCredit:  player.CreditBalance,
		StaffID:          staffID,
		Reference:        reference,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return nil, nil, fmt.Errorf("记录流水失败: %w", err)
	}

	if err := emitBalanceChanged(ctx, s.outboxRepo, tx, player, trans.TransactionNo); err != nil {
		return nil, nil, fmt.Errorf("写入消息失败: %w", err)
	}

	return player, trans, nil
}

// balanceMove 一笔交易对各金额字段的增量
type balanceMove struct {
	cash           decimal.Decimal
	credit         decimal.Decimal
	creditApproved decimal.Decimal
	tableCash      decimal.Decimal
	tableCredit    decimal.Decimal
}

func (m balanceMove) applyTo(p *model.Player) {
	p.CashBalance = p.CashBalance.Add(m.cash)
	p.CreditBalance = p.CreditBalance.Add(m.credit)
	p.CreditApproved = p.CreditApproved.Add(m.creditApproved)
	p.TableCash = p.TableCash.Add(m.tableCash)
	p.TableCredit = p.TableCredit.Add(m.tableCredit)
}

// planMove 校验并计算一笔交易的影响，不修改 player
func planMove(p *model.Player, txType string, amount, overdraft decimal.Decimal) (balanceMove, error) {
	var m balanceMove
	floor := overdraft.Neg()

	switch txType {
	case model.TransactionTypeDeposit, model.TransactionTypeWin:
		m.cash = amount

	case model.TransactionTypeWithdrawal, model.TransactionTypeLoss:
		if p.CashBalance.Sub(amount).LessThan(floor) {
			return m, model.ErrInsufficientFunds
		}
		m.cash = amount.Neg()

	case model.TransactionTypeCredit:
		if p.CreditBalance.Add(amount).GreaterThan(p.CreditLimit) {
			return m, model.ErrCreditLimitExceeded
		}
		m.cash = amount
		m.credit = amount
		m.creditApproved = amount

	case model.TransactionTypeDebit:
		if amount.GreaterThan(p.CreditBalance) {
			return m, fmt.Errorf("%w: 归还金额超过已用信用", model.ErrInvalidAmount)
		}
		if p.CashBalance.Sub(amount).LessThan(floor) {
			return m, model.ErrInsufficientFunds
		}
		m.cash = amount.Neg()
		m.credit = amount.Neg()

	case model.TransactionTypeBuyIn:
		cashAvail := decimal.Max(p.CashBalance, decimal.Zero)
		if amount.GreaterThan(cashAvail.Add(p.AvailableCredit())) {
			return m, model.ErrInsufficientFunds
		}
		cashPart := decimal.Min(amount, cashAvail)
		creditPart := amount.Sub(cashPart)
		m.cash = cashPart.Neg()
		m.credit = creditPart
		m.tableCash = cashPart
		m.tableCredit = creditPart

	case model.TransactionTypeCashOut:
		repay := decimal.Min(amount, p.TableCredit, decimal.Max(p.CreditBalance, decimal.Zero))
		cashPart := amount.Sub(repay)
		m.cash = cashPart
		m.credit = repay.Neg()
		m.tableCredit = repay.Neg()
		// 赢钱离桌时兑现金额可能超过桌上现金，桌上余额归零为止
		m.tableCash = decimal.Min(cashPart, p.TableCash).Neg()

	default:
		return m, model.ErrInvalidTransactionType
	}

	return m, nil
}

// clearTableBalanceInTx 玩家离开最后一张桌时清空桌上余额
// 未兑现的筹码视为已输掉，现金和信用余额不变
func (s *LedgerService) clearTableBalanceInTx(ctx context.Context, tx *gorm.DB, appID uint64) error {
	player, err := s.playerRepo.GetByAppIDForUpdate(ctx, tx, appID)
	if err != nil {
		return err
	}
	if player.TableCash.IsZero() && player.TableCredit.IsZero() {
		return nil
	}

	player.TableCash = decimal.Zero
	player.TableCredit = decimal.Zero
	if err := s.playerRepo.UpdateBalances(ctx, tx, player); err != nil {
		return fmt.Errorf("清空桌上余额失败: %w", err)
	}
	return emitBalanceChanged(ctx, s.outboxRepo, tx, player, "")
}

// SetCreditLimit 调整信用上限，不能低于已用信用
func (s *LedgerService) SetCreditLimit(ctx context.Context, appID uint64, limit decimal.Decimal, staffID string) (*model.Player, error) {
	if limit.IsNegative() || !limit.Equal(limit.Round(2)) {
		return nil, model.ErrInvalidAmount
	}

	var player *model.Player
	err := withPlayerLock(ctx, s.locker, appID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			var err error
			player, err = s.playerRepo.GetByAppIDForUpdate(ctx, tx, appID)
			if err != nil {
				return err
			}
			if limit.LessThan(player.CreditBalance) {
				return model.ErrCreditLimitExceeded
			}

			player.CreditLimit = limit
			if err := s.playerRepo.UpdateBalances(ctx, tx, player); err != nil {
				return fmt.Errorf("更新信用上限失败: %w", err)
			}
			return emitBalanceChanged(ctx, s.outboxRepo, tx, player, "")
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("信用上限已调整",
		zap.Uint64("app_id", appID),
		zap.String("limit", limit.StringFixed(2)),
		zap.String("staff_id", staffID))
	return player, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, appID uint64, page, pageSize int) ([]*model.Transaction, int64, error) {
	if _, err := s.playerRepo.GetByAppID(ctx, nil, appID); err != nil {
		return nil, 0, err
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}
	return s.transactionRepo.ListByPlayer(ctx, appID, page, pageSize)
}

// LedgerReport 对账结果
type LedgerReport struct {
	AppID            uint64          `json:"app_id"`
	CashBalance      decimal.Decimal `json:"cash_balance"`
	CreditBalance    decimal.Decimal `json:"credit_balance"`
	FoldedCash       decimal.Decimal `json:"folded_cash"`
	FoldedCredit     decimal.Decimal `json:"folded_credit"`
	TransactionCount int             `json:"transaction_count"`
	Consistent       bool            `json:"consistent"`
	FirstMismatchID  int64           `json:"first_mismatch_id,omitempty"`
}

// VerifyLedger 用流水重放余额，与玩家行缓存的余额比对
// 同时检查每笔流水记录的交易后余额是否等于对应前缀之和
func (s *LedgerService) VerifyLedger(ctx context.Context, appID uint64) (*LedgerReport, error) {
	report := &LedgerReport{AppID: appID}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		player, err := s.playerRepo.GetByAppID(ctx, tx, appID)
		if err != nil {
			return err
		}
		transactions, err := s.transactionRepo.ListAllByPlayer(ctx, tx, appID)
		if err != nil {
			return err
		}

		report.CashBalance = player.CashBalance
		report.CreditBalance = player.CreditBalance
		report.TransactionCount = len(transactions)

		cash, credit := decimal.Zero, decimal.Zero
		for _, t := range transactions {
			cash = cash.Add(t.CashDelta)
			credit = credit.Add(t.CreditDelta)
			if report.FirstMismatchID == 0 && (!cash.Equal(t.ResultingBalance) || !credit.Equal(t.ResultingCredit)) {
				report.FirstMismatchID = t.ID
			}
		}
		report.FoldedCash = cash
		report.FoldedCredit = credit
		report.Consistent = report.FirstMismatchID == 0 &&
			cash.Equal(player.CashBalance) &&
			credit.Equal(player.CreditBalance)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !report.Consistent {
		s.logger.Error("账本不一致",
			zap.Uint64("app_id", appID),
			zap.String("cash_balance", report.CashBalance.String()),
			zap.String("folded_cash", report.FoldedCash.String()),
			zap.Int64("first_mismatch_id", report.FirstMismatchID))
	}
	return report, nil
}

// VerifyAll 逐个玩家对账，返回不一致的报告
func (s *LedgerService) VerifyAll(ctx context.Context) ([]*LedgerReport, int, error) {
	var (
		mismatches []*LedgerReport
		checked    int
		after      uint64
	)
	for {
		appIDs, err := s.playerRepo.ListAppIDs(ctx, after, 200)
		if err != nil {
			return mismatches, checked, err
		}
		if len(appIDs) == 0 {
			return mismatches, checked, nil
		}
		for _, appID := range appIDs {
			report, err := s.VerifyLedger(ctx, appID)
			if err != nil && !errors.Is(err, model.ErrPlayerNotFound) {
				return mismatches, checked, err
			}
			checked++
			if report != nil && !report.Consistent {
				mismatches = append(mismatches, report)
			}
			after = appID
		}
	}
}
