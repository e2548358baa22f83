package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"pokerclub/internal/config"
	"pokerclub/internal/dependencies/clock"
	"pokerclub/internal/infrastructure/lock"
	"pokerclub/internal/model"
	"pokerclub/internal/repository"
	"pokerclub/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================================
// 座位会话状态机
// ============================================================================
//
//   Waiting ──(工作人员入座)──► Seated ──► (CallTimeActive)? ──► CashoutWindowActive ──► Vacated
//      │                                                                                ▲
//      └────────────────────────────(离开等候名单)──────────────────────────────────────┘
//
// 等候时的座位号只是偏好，多人可以偏好同一座位，由工作人员在入座时裁决；
// 排他性只在 Seated 这一步由 occupied_key 唯一索引保证。
// ============================================================================

// SystemStaffID 定时任务执行状态变更时记录的操作人
const SystemStaffID = "system"

type SeatService struct {
	db            *gorm.DB
	locker        *lock.PlayerLocker
	clock         clock.Clock
	ledger        *LedgerService
	playerRepo    *repository.PlayerRepository
	seatRepo      *repository.SeatRepository
	outboxRepo    *repository.OutboxRepository
	callTime      time.Duration
	cashoutWindow time.Duration
	logger        *zap.Logger
}

func NewSeatService(db *gorm.DB, locker *lock.PlayerLocker, clk clock.Clock, ledger *LedgerService, cfg *config.Config) *SeatService {
	return &SeatService{
		db:            db,
		locker:        locker,
		clock:         clk,
		ledger:        ledger,
		playerRepo:    repository.NewPlayerRepository(db),
		seatRepo:      repository.NewSeatRepository(db),
		outboxRepo:    repository.NewOutboxRepository(db),
		callTime:      cfg.Business.CallTime(),
		cashoutWindow: cfg.Business.CashoutWindow(),
		logger:        logger.Named("seat"),
	}
}

// JoinWaitlist 玩家加入某桌等候名单，preferredSeat 为 0 表示不指定
func (s *SeatService) JoinWaitlist(ctx context.Context, appID, tableID uint64, preferredSeat int) (*model.SeatSession, error) {
	if tableID == 0 || preferredSeat < 0 {
		return nil, model.ErrInvalidSeat
	}

	var session *model.SeatSession
	err := withPlayerLock(ctx, s.locker, appID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			player, err := s.playerRepo.GetByAppID(ctx, tx, appID)
			if err != nil {
				return err
			}
			if !player.KycApproved() {
				return model.ErrKycNotApproved
			}

			if _, err := s.seatRepo.GetOpen(ctx, tx, appID, tableID); err == nil {
				return model.ErrSessionAlreadyOpen
			} else if !errors.Is(err, model.ErrSessionNotFound) {
				return err
			}

			session = &model.SeatSession{
				PlayerAppID: appID,
				TableID:     tableID,
				SeatNumber:  preferredSeat,
				Status:      model.SeatStatusWaiting,
			}
			if err := s.seatRepo.Create(ctx, tx, session); err != nil {
				return err
			}
			return emitSeatChanged(ctx, s.outboxRepo, tx, session)
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("加入等候名单",
		zap.Uint64("app_id", appID),
		zap.Uint64("table_id", tableID),
		zap.Int("preferred_seat", preferredSeat))
	return session, nil
}

// LeaveWaitlist 玩家退出等候；已入座的只能由工作人员离座
func (s *SeatService) LeaveWaitlist(ctx context.Context, appID, tableID uint64) (*model.SeatSession, error) {
	var session *model.SeatSession
	err := withPlayerLock(ctx, s.locker, appID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			var err error
			session, err = s.seatRepo.GetOpen(ctx, tx, appID, tableID)
			if errors.Is(err, model.ErrSessionNotFound) {
				return model.ErrNotWaitlisted
			}
			if err != nil {
				return err
			}
			if session.Status != model.SeatStatusWaiting {
				return model.ErrNotWaitlisted
			}
			_, err = s.vacateInTx(ctx, tx, session, SystemStaffID, model.VacateReasonLeftQueue)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

type AssignSeatRequest struct {
	StaffID      string          `json:"staff_id"`
	PlayerAppID  uint64          `json:"player_app_id"`
	TableID      uint64          `json:"table_id"`
	SeatNumber   int             `json:"seat_number"`
	InitialBuyIn decimal.Decimal `json:"initial_buy_in"`
}

// AssignSeat 工作人员把等候中的玩家安排到指定座位
// 占座检查、状态翻转、初始买入在同一个事务内完成；并发抢同一座位只有一个成功
func (s *SeatService) AssignSeat(ctx context.Context, req *AssignSeatRequest) (*model.SeatSession, error) {
	if req.SeatNumber <= 0 {
		return nil, model.ErrInvalidSeat
	}
	if req.InitialBuyIn.IsNegative() {
		return nil, model.ErrInvalidAmount
	}

	var session *model.SeatSession
	err := withPlayerLock(ctx, s.locker, req.PlayerAppID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			player, err := s.playerRepo.GetByAppID(ctx, tx, req.PlayerAppID)
			if err != nil {
				return err
			}
			if !player.KycApproved() {
				return model.ErrKycNotApproved
			}

			session, err = s.seatRepo.GetOpen(ctx, tx, req.PlayerAppID, req.TableID)
			if errors.Is(err, model.ErrSessionNotFound) {
				return model.ErrNotWaitlisted
			}
			if err != nil {
				return err
			}
			if session.Status != model.SeatStatusWaiting {
				return model.ErrNotWaitlisted
			}

			if _, err := s.seatRepo.GetOccupant(ctx, tx, req.TableID, req.SeatNumber); err == nil {
				return model.ErrSeatAlreadyOccupied
			} else if !errors.Is(err, model.ErrSessionNotFound) {
				return err
			}

			now := s.clock.Now()
			occupied := model.OccupiedSeatKey(req.TableID, req.SeatNumber)
			if err := s.seatRepo.UpdateFields(ctx, tx, session, model.SeatStatusWaiting, map[string]interface{}{
				"status":                model.SeatStatusSeated,
				"seat_number":           req.SeatNumber,
				"occupied_key":          occupied,
				"session_start_time":    now,
				"session_buy_in_amount": req.InitialBuyIn,
				"assigned_by":           req.StaffID,
			}); err != nil {
				return err
			}
			session.Status = model.SeatStatusSeated
			session.SeatNumber = req.SeatNumber
			session.OccupiedKey = &occupied
			session.SessionStartTime = &now
			session.SessionBuyInAmount = req.InitialBuyIn
			session.AssignedBy = &req.StaffID
			session.Version++

			if req.InitialBuyIn.IsPositive() {
				reference := fmt.Sprintf("seat:%d", session.ID)
				if _, _, err := s.ledger.applyInTx(ctx, tx, req.PlayerAppID, model.TransactionTypeBuyIn, req.InitialBuyIn, &req.StaffID, reference); err != nil {
					return err
				}
			}

			return emitSeatChanged(ctx, s.outboxRepo, tx, session)
		})
	})
	if err != nil {
		if errors.Is(err, model.ErrSeatAlreadyOccupied) {
			s.logger.Warn("抢座失败，座位已被占用",
				zap.Uint64("table_id", req.TableID),
				zap.Int("seat_number", req.SeatNumber),
				zap.Uint64("app_id", req.PlayerAppID),
				zap.String("staff_id", req.StaffID))
		}
		return nil, err
	}

	s.logger.Info("玩家入座",
		zap.Int64("session_id", session.ID),
		zap.Uint64("app_id", req.PlayerAppID),
		zap.Uint64("table_id", req.TableID),
		zap.Int("seat_number", req.SeatNumber),
		zap.String("initial_buy_in", req.InitialBuyIn.StringFixed(2)),
		zap.String("staff_id", req.StaffID))
	return session, nil
}

// mutateSeated 对已入座会话做一次版本受控的修改
func (s *SeatService) mutateSeated(ctx context.Context, sessionID int64, mutate func(session *model.SeatSession, now time.Time) (map[string]interface{}, error)) (*model.SeatSession, error) {
	current, err := s.seatRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}

	var session *model.SeatSession
	err = withPlayerLock(ctx, s.locker, current.PlayerAppID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			var err error
			session, err = s.seatRepo.GetByIDForUpdate(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if !session.IsSeated() {
				return model.ErrNotSeated
			}

			fields, err := mutate(session, s.clock.Now())
			if err != nil {
				return err
			}
			if err := s.seatRepo.UpdateFields(ctx, tx, session, model.SeatStatusSeated, fields); err != nil {
				return err
			}
			session.Version++
			return emitSeatChanged(ctx, s.outboxRepo, tx, session)
		})
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// StartCallTime 开始倒计时，到期未归位则由定时任务收回座位
func (s *SeatService) StartCallTime(ctx context.Context, staffID string, sessionID int64, duration time.Duration) (*model.SeatSession, error) {
	if duration <= 0 {
		duration = s.callTime
	}
	session, err := s.mutateSeated(ctx, sessionID, func(session *model.SeatSession, now time.Time) (map[string]interface{}, error) {
		ends := now.Add(duration)
		session.CallTimeStarted = &now
		session.CallTimeEnds = &ends
		return map[string]interface{}{
			"call_time_started": now,
			"call_time_ends":    ends,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("开始倒计时",
		zap.Int64("session_id", sessionID),
		zap.Duration("duration", duration),
		zap.String("staff_id", staffID))
	return session, nil
}

// ClearCallTime 玩家已归位
func (s *SeatService) ClearCallTime(ctx context.Context, sessionID int64) (*model.SeatSession, error) {
	return s.mutateSeated(ctx, sessionID, func(session *model.SeatSession, now time.Time) (map[string]interface{}, error) {
		session.CallTimeStarted = nil
		session.CallTimeEnds = nil
		return map[string]interface{}{
			"call_time_started": nil,
			"call_time_ends":    nil,
		}, nil
	})
}

// OpenCashoutWindow 开启兑现窗口，窗口内玩家可提交兑现申请
func (s *SeatService) OpenCashoutWindow(ctx context.Context, staffID string, sessionID int64, duration time.Duration) (*model.SeatSession, error) {
	if duration <= 0 {
		duration = s.cashoutWindow
	}
	session, err := s.mutateSeated(ctx, sessionID, func(session *model.SeatSession, now time.Time) (map[string]interface{}, error) {
		ends := now.Add(duration)
		session.CashoutWindowActive = true
		session.CashoutWindowStarted = &now
		session.CashoutWindowEnds = &ends
		return map[string]interface{}{
			"cashout_window_active":  true,
			"cashout_window_started": now,
			"cashout_window_ends":    ends,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("兑现窗口开启",
		zap.Int64("session_id", sessionID),
		zap.Duration("duration", duration),
		zap.String("staff_id", staffID))
	return session, nil
}

func (s *SeatService) CloseCashoutWindow(ctx context.Context, sessionID int64) (*model.SeatSession, error) {
	return s.mutateSeated(ctx, sessionID, func(session *model.SeatSession, now time.Time) (map[string]interface{}, error) {
		session.CashoutWindowActive = false
		return map[string]interface{}{
			"cashout_window_active": false,
		}, nil
	})
}

// Vacate 结束会话，返回本次会话的买入/兑现对账
func (s *SeatService) Vacate(ctx context.Context, staffID string, sessionID int64, reason string) (*model.SessionReconciliation, error) {
	if reason == "" {
		reason = model.VacateReasonStaff
	}

	current, err := s.seatRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}

	var recon model.SessionReconciliation
	err = withPlayerLock(ctx, s.locker, current.PlayerAppID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			session, err := s.seatRepo.GetByIDForUpdate(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			recon, err = s.vacateInTx(ctx, tx, session, staffID, reason)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("座位会话结束",
		zap.Int64("session_id", sessionID),
		zap.String("reason", reason),
		zap.String("buy_in", recon.BuyInAmount.StringFixed(2)),
		zap.String("cash_out", recon.CashOutAmount.StringFixed(2)),
		zap.String("net", recon.Net.StringFixed(2)),
		zap.String("staff_id", staffID))
	return &recon, nil
}

func (s *SeatService) vacateInTx(ctx context.Context, tx *gorm.DB, session *model.SeatSession, staffID, reason string) (model.SessionReconciliation, error) {
	if !model.CanSeatTransitionTo(session.Status, model.SeatStatusVacated) {
		return model.SessionReconciliation{}, model.ErrInvalidTransition
	}

	fromStatus := session.Status
	now := s.clock.Now()
	if err := s.seatRepo.UpdateFields(ctx, tx, session, fromStatus, map[string]interface{}{
		"status":                model.SeatStatusVacated,
		"open_key":              nil,
		"occupied_key":          nil,
		"cashout_window_active": false,
		"vacated_at":            now,
		"vacate_reason":         reason,
	}); err != nil {
		return model.SessionReconciliation{}, err
	}
	session.Status = model.SeatStatusVacated
	session.OpenKey = nil
	session.OccupiedKey = nil
	session.CashoutWindowActive = false
	session.VacatedAt = &now
	session.VacateReason = reason
	session.Version++

	if fromStatus == model.SeatStatusSeated {
		remaining, err := s.seatRepo.ListSeatedByPlayer(ctx, tx, session.PlayerAppID)
		if err != nil {
			return model.SessionReconciliation{}, err
		}
		if len(remaining) == 0 {
			if err := s.ledger.clearTableBalanceInTx(ctx, tx, session.PlayerAppID); err != nil {
				return model.SessionReconciliation{}, err
			}
		}
	}

	if err := emitSeatChanged(ctx, s.outboxRepo, tx, session); err != nil {
		return model.SessionReconciliation{}, err
	}
	return session.Reconcile(), nil
}

// GetSeatSession 玩家在某桌的当前会话
func (s *SeatService) GetSeatSession(ctx context.Context, appID, tableID uint64) (*model.SeatSession, error) {
	return s.seatRepo.GetOpen(ctx, nil, appID, tableID)
}

func (s *SeatService) GetByID(ctx context.Context, sessionID int64) (*model.SeatSession, error) {
	return s.seatRepo.GetByID(ctx, nil, sessionID)
}

// TableView 某桌的入座和等候情况
type TableView struct {
	TableID  uint64               `json:"table_id"`
	Seated   []*model.SeatSession `json:"seated"`
	Waitlist []*model.SeatSession `json:"waitlist"`
}

func (s *SeatService) ListTable(ctx context.Context, tableID uint64) (*TableView, error) {
	sessions, err := s.seatRepo.ListOpenByTable(ctx, tableID)
	if err != nil {
		return nil, err
	}

	view := &TableView{
		TableID:  tableID,
		Seated:   []*model.SeatSession{},
		Waitlist: []*model.SeatSession{},
	}
	for _, session := range sessions {
		if session.IsSeated() {
			view.Seated = append(view.Seated, session)
		} else {
			view.Waitlist = append(view.Waitlist, session)
		}
	}
	// 等候名单按加入顺序
	sort.Slice(view.Waitlist, func(i, j int) bool { return view.Waitlist[i].ID < view.Waitlist[j].ID })
	return view, nil
}

// ============================================================================
// 定时任务入口
// ============================================================================

// ForfeitExpiredCallTimes 倒计时到期的座位收回
func (s *SeatService) ForfeitExpiredCallTimes(ctx context.Context, limit int) (int, error) {
	now := s.clock.Now()
	sessions, err := s.seatRepo.ListCallTimeExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	forfeited := 0
	for _, candidate := range sessions {
		err := withPlayerLock(ctx, s.locker, candidate.PlayerAppID, func() error {
			return s.db.Transaction(func(tx *gorm.DB) error {
				session, err := s.seatRepo.GetByIDForUpdate(ctx, tx, candidate.ID)
				if err != nil {
					return err
				}
				// 加锁后复查，玩家可能刚刚归位
				if !session.IsSeated() || session.CallTimeEnds == nil || session.CallTimeEnds.After(now) {
					return errSkip
				}
				_, err = s.vacateInTx(ctx, tx, session, SystemStaffID, model.VacateReasonForfeited)
				return err
			})
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			s.logger.Warn("回收座位失败", zap.Int64("session_id", candidate.ID), zap.Error(err))
			continue
		}
		forfeited++
		s.logger.Info("倒计时到期，座位已回收",
			zap.Int64("session_id", candidate.ID),
			zap.Uint64("app_id", candidate.PlayerAppID),
			zap.Uint64("table_id", candidate.TableID),
			zap.Int("seat_number", candidate.SeatNumber))
	}
	return forfeited, nil
}

// CloseExpiredCashoutWindows 到期的兑现窗口关闭
func (s *SeatService) CloseExpiredCashoutWindows(ctx context.Context, limit int) (int, error) {
	now := s.clock.Now()
	sessions, err := s.seatRepo.ListCashoutWindowExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, candidate := range sessions {
		_, err := s.mutateSeated(ctx, candidate.ID, func(session *model.SeatSession, _ time.Time) (map[string]interface{}, error) {
			// 加锁后复查，窗口可能已被关闭或延长
			if !session.CashoutWindowActive || session.CashoutWindowEnds == nil || session.CashoutWindowEnds.After(now) {
				return nil, errSkip
			}
			session.CashoutWindowActive = false
			return map[string]interface{}{"cashout_window_active": false}, nil
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			s.logger.Warn("关闭兑现窗口失败", zap.Int64("session_id", candidate.ID), zap.Error(err))
			continue
		}
		closed++
	}
	return closed, nil
}

var errSkip = errors.New("skip")
