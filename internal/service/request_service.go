package service

import (
	"context"
	"errors"
	"fmt"

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
// 买入/兑现申请
// ============================================================================
//
// 状态流转：pending → approved / rejected（终态）
//
// 提交只记录玩家意图，不动账本；收银员核实现金后审批，审批时才调用账本。
// 审批时账本校验失败（提交后余额可能已变化），整个审批回滚，申请保持 pending
// 由工作人员重新处理，不会被自动改成 rejected。
// ============================================================================

const listLimit = 200

type RequestService struct {
	db          *gorm.DB
	locker      *lock.PlayerLocker
	clock       clock.Clock
	ledger      *LedgerService
	playerRepo  *repository.PlayerRepository
	requestRepo *repository.RequestRepository
	seatRepo    *repository.SeatRepository
	outboxRepo  *repository.OutboxRepository
	logger      *zap.Logger
}

func NewRequestService(db *gorm.DB, locker *lock.PlayerLocker, clk clock.Clock, ledger *LedgerService) *RequestService {
	return &RequestService{
		db:          db,
		locker:      locker,
		clock:       clk,
		ledger:      ledger,
		playerRepo:  repository.NewPlayerRepository(db),
		requestRepo: repository.NewRequestRepository(db),
		seatRepo:    repository.NewSeatRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		logger:      logger.Named("request"),
	}
}

type SubmitRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	TableID *uint64         `json:"table_id"`
}

func (s *RequestService) SubmitBuyIn(ctx context.Context, appID uint64, req *SubmitRequest) (*model.TableRequest, error) {
	return s.Submit(ctx, model.RequestKindBuyIn, appID, req.Amount, req.TableID)
}

func (s *RequestService) SubmitCashOut(ctx context.Context, appID uint64, req *SubmitRequest) (*model.TableRequest, error) {
	return s.Submit(ctx, model.RequestKindCashOut, appID, req.Amount, req.TableID)
}

// Submit 玩家提交申请
func (s *RequestService) Submit(ctx context.Context, kind string, appID uint64, amount decimal.Decimal, tableID *uint64) (*model.TableRequest, error) {
	if !model.IsValidRequestKind(kind) {
		return nil, model.ErrInvalidRequestKind
	}
	if err := validateTransaction(kindTransactionType(kind), amount); err != nil {
		return nil, err
	}

	var created *model.TableRequest
	err := withPlayerLock(ctx, s.locker, appID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			player, err := s.playerRepo.GetByAppID(ctx, tx, appID)
			if err != nil {
				return err
			}

			pending, err := s.requestRepo.HasPending(ctx, tx, appID, kind)
			if err != nil {
				return err
			}
			if pending {
				return model.ErrDuplicatePendingRequest
			}

			now := s.clock.Now()
			switch kind {
			case model.RequestKindBuyIn:
				if !player.KycApproved() {
					return model.ErrKycNotApproved
				}
				// 已入座玩家的买入记到当前会话上
				if tableID == nil {
					session, err := s.soleSeatedSession(ctx, tx, appID)
					if err != nil {
						return err
					}
					if session != nil {
						tableID = &session.TableID
					}
				}
				// 提交时预校验，审批时账本会再校验一次
				cashAvail := decimal.Max(player.CashBalance, decimal.Zero)
				if amount.GreaterThan(cashAvail.Add(player.AvailableCredit())) {
					return model.ErrInsufficientFunds
				}
			case model.RequestKindCashOut:
				session, err := s.findCashoutSession(ctx, tx, appID, tableID)
				if err != nil {
					return err
				}
				if !session.CashoutWindowOpenAt(now) {
					return model.ErrCashoutWindowClosed
				}
				tableID = &session.TableID
			}

			created = &model.TableRequest{
				RequestNo:   idgen.GenerateRequestNo(kind),
				PlayerAppID: appID,
				Kind:        kind,
				TableID:     tableID,
				Amount:      amount,
				Status:      model.RequestStatusPending,
				RequestedAt: now,
			}
			if err := s.requestRepo.Create(ctx, tx, created); err != nil {
				return err
			}
			return emitRequestEvent(ctx, s.outboxRepo, tx, model.EventRequestSubmitted, created)
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("申请已提交",
		zap.String("request_no", created.RequestNo),
		zap.Uint64("app_id", appID),
		zap.String("kind", kind),
		zap.String("amount", amount.StringFixed(2)))
	return created, nil
}

// findCashoutSession 兑现申请对应的入座会话；未指定桌号时取玩家当前唯一开着兑现窗口的会话
func (s *RequestService) findCashoutSession(ctx context.Context, tx *gorm.DB, appID uint64, tableID *uint64) (*model.SeatSession, error) {
	if tableID != nil {
		session, err := s.seatRepo.GetOpen(ctx, tx, appID, *tableID)
		if errors.Is(err, model.ErrSessionNotFound) {
			return nil, model.ErrNotSeated
		}
		if err != nil {
			return nil, err
		}
		if !session.IsSeated() {
			return nil, model.ErrNotSeated
		}
		return session, nil
	}

	sessions, err := s.seatRepo.ListSeatedByPlayer(ctx, tx, appID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, model.ErrNotSeated
	}
	for _, session := range sessions {
		if session.CashoutWindowActive {
			return session, nil
		}
	}
	return sessions[0], nil
}

// soleSeatedSession 玩家当前唯一的入座会话；未入座返回 nil，多桌入座返回 ErrTableRequired
func (s *RequestService) soleSeatedSession(ctx context.Context, tx *gorm.DB, appID uint64) (*model.SeatSession, error) {
	sessions, err := s.seatRepo.ListSeatedByPlayer(ctx, tx, appID)
	if err != nil {
		return nil, err
	}
	switch len(sessions) {
	case 0:
		return nil, nil
	case 1:
		return sessions[0], nil
	default:
		return nil, model.ErrTableRequired
	}
}

func kindTransactionType(kind string) string {
	if kind == model.RequestKindCashOut {
		return model.TransactionTypeCashOut
	}
	return model.TransactionTypeBuyIn
}

// Approve 工作人员批准
// 申请状态、账本、座位会话金额在同一个事务内更新；重复点击返回 ErrAlreadyResolved
// override 允许在兑现窗口关闭后仍然批准兑现
func (s *RequestService) Approve(ctx context.Context, requestID int64, staffID string, override bool) (*model.TableRequest, error) {
	req, err := s.requestRepo.GetByID(ctx, nil, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != model.RequestStatusPending {
		return nil, model.ErrAlreadyResolved
	}

	var player *model.Player
	err = withPlayerLock(ctx, s.locker, req.PlayerAppID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			locked, err := s.requestRepo.GetByIDForUpdate(ctx, tx, requestID)
			if err != nil {
				return err
			}
			if locked.Status != model.RequestStatusPending {
				return model.ErrAlreadyResolved
			}
			req = locked
			now := s.clock.Now()

			var session *model.SeatSession
			if req.TableID != nil {
				session, err = s.seatRepo.GetOpen(ctx, tx, req.PlayerAppID, *req.TableID)
				if err != nil && !errors.Is(err, model.ErrSessionNotFound) {
					return err
				}
				if session != nil && !session.IsSeated() {
					session = nil
				}
			} else {
				// 提交时尚未入座，审批前已入座
				session, err = s.soleSeatedSession(ctx, tx, req.PlayerAppID)
				if errors.Is(err, model.ErrTableRequired) {
					session, err = nil, nil
				}
				if err != nil {
					return err
				}
			}

			if req.Kind == model.RequestKindCashOut && !override {
				if session == nil || !session.CashoutWindowOpenAt(now) {
					return model.ErrCashoutWindowClosed
				}
			}

			player, _, err = s.ledger.applyInTx(ctx, tx, req.PlayerAppID, kindTransactionType(req.Kind), req.Amount, &staffID, req.RequestNo)
			if err != nil {
				return err
			}

			if session != nil {
				fields := map[string]interface{}{}
				if req.Kind == model.RequestKindBuyIn {
					session.SessionBuyInAmount = session.SessionBuyInAmount.Add(req.Amount)
					fields["session_buy_in_amount"] = session.SessionBuyInAmount
				} else {
					session.SessionCashOutAmount = session.SessionCashOutAmount.Add(req.Amount)
					fields["session_cash_out_amount"] = session.SessionCashOutAmount
				}
				if err := s.seatRepo.UpdateFields(ctx, tx, session, model.SeatStatusSeated, fields); err != nil {
					return fmt.Errorf("更新座位会话金额失败: %w", err)
				}
				session.Version++
				if err := emitSeatChanged(ctx, s.outboxRepo, tx, session); err != nil {
					return err
				}
			}

			if err := s.requestRepo.Resolve(ctx, tx, req.ID, repository.Resolution{
				Status:     model.RequestStatusApproved,
				ResolvedBy: staffID,
				Override:   override,
				At:         now,
			}); err != nil {
				return err
			}
			req.Status = model.RequestStatusApproved
			req.PendingKey = nil
			req.ResolvedBy = &staffID
			req.ResolvedAt = &now
			req.StaffOverride = override

			return emitRequestEvent(ctx, s.outboxRepo, tx, model.EventRequestResolved, req)
		})
	})
	if err != nil {
		if !errors.Is(err, model.ErrAlreadyResolved) {
			s.logger.Warn("审批失败，申请保持待处理",
				zap.Int64("request_id", requestID),
				zap.String("staff_id", staffID),
				zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("申请已批准",
		zap.String("request_no", req.RequestNo),
		zap.Uint64("app_id", req.PlayerAppID),
		zap.String("kind", req.Kind),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("cash_balance", player.CashBalance.StringFixed(2)),
		zap.String("staff_id", staffID),
		zap.Bool("override", override))
	return req, nil
}

// Reject 工作人员拒绝，不影响账本
func (s *RequestService) Reject(ctx context.Context, requestID int64, staffID, reason string) (*model.TableRequest, error) {
	req, err := s.requestRepo.GetByID(ctx, nil, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != model.RequestStatusPending {
		return nil, model.ErrAlreadyResolved
	}

	err = withPlayerLock(ctx, s.locker, req.PlayerAppID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now()
			if err := s.requestRepo.Resolve(ctx, tx, requestID, repository.Resolution{
				Status:     model.RequestStatusRejected,
				ResolvedBy: staffID,
				Reason:     reason,
				At:         now,
			}); err != nil {
				return err
			}
			req.Status = model.RequestStatusRejected
			req.PendingKey = nil
			req.ResolvedBy = &staffID
			req.ResolvedAt = &now
			req.RejectReason = reason
			return emitRequestEvent(ctx, s.outboxRepo, tx, model.EventRequestResolved, req)
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("申请已拒绝",
		zap.String("request_no", req.RequestNo),
		zap.String("staff_id", staffID),
		zap.String("reason", reason))
	return req, nil
}

func (s *RequestService) Get(ctx context.Context, requestID int64) (*model.TableRequest, error) {
	return s.requestRepo.GetByID(ctx, nil, requestID)
}

func (s *RequestService) ListPending(ctx context.Context, kind string) ([]*model.TableRequest, error) {
	if kind != "" && !model.IsValidRequestKind(kind) {
		return nil, model.ErrInvalidRequestKind
	}
	return s.requestRepo.ListPending(ctx, kind, listLimit)
}

func (s *RequestService) ListByPlayer(ctx context.Context, appID uint64) ([]*model.TableRequest, error) {
	if _, err := s.playerRepo.GetByAppID(ctx, nil, appID); err != nil {
		return nil, err
	}
	return s.requestRepo.ListByPlayer(ctx, appID, listLimit)
}
