package service

import (
	"context"

	"pokerclub/internal/model"
	"pokerclub/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 推送给客户端的事件载荷只是提示，客户端收到后重新拉取权威数据

type balanceEvent struct {
	AppID         uint64          `json:"app_id"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	CreditBalance decimal.Decimal `json:"credit_balance"`
	TableCash     decimal.Decimal `json:"table_cash"`
	TableCredit   decimal.Decimal `json:"table_credit"`
	Version       int             `json:"version"`
	TransactionNo string          `json:"transaction_no,omitempty"`
}

type seatEvent struct {
	SessionID   int64  `json:"session_id"`
	AppID       uint64 `json:"app_id"`
	TableID     uint64 `json:"table_id"`
	SeatNumber  int    `json:"seat_number"`
	Status      string `json:"status"`
	Phase       string `json:"phase"`
	VacateCause string `json:"vacate_reason,omitempty"`
}

type requestEvent struct {
	RequestID int64           `json:"request_id"`
	RequestNo string          `json:"request_no"`
	AppID     uint64          `json:"app_id"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
}

func emitBalanceChanged(ctx context.Context, outbox *repository.OutboxRepository, tx *gorm.DB, p *model.Player, transactionNo string) error {
	return outbox.Emit(ctx, tx, model.PlayerChannel(p.AppID), model.EventBalanceChanged, balanceEvent{
		AppID:         p.AppID,
		CashBalance:   p.CashBalance,
		CreditBalance: p.CreditBalance,
		TableCash:     p.TableCash,
		TableCredit:   p.TableCredit,
		Version:       p.Version,
		TransactionNo: transactionNo,
	})
}

// emitSeatChanged 同时通知玩家和工作人员看板
func emitSeatChanged(ctx context.Context, outbox *repository.OutboxRepository, tx *gorm.DB, s *model.SeatSession) error {
	payload := seatEvent{
		SessionID:   s.ID,
		AppID:       s.PlayerAppID,
		TableID:     s.TableID,
		SeatNumber:  s.SeatNumber,
		Status:      s.Status,
		Phase:       s.Phase(),
		VacateCause: s.VacateReason,
	}
	if err := outbox.Emit(ctx, tx, model.PlayerChannel(s.PlayerAppID), model.EventSeatChanged, payload); err != nil {
		return err
	}
	return outbox.Emit(ctx, tx, model.StaffChannel, model.EventSeatChanged, payload)
}

func emitRequestEvent(ctx context.Context, outbox *repository.OutboxRepository, tx *gorm.DB, event string, r *model.TableRequest) error {
	payload := requestEvent{
		RequestID: r.ID,
		RequestNo: r.RequestNo,
		AppID:     r.PlayerAppID,
		Kind:      r.Kind,
		Status:    r.Status,
		Amount:    r.Amount,
	}
	if event == model.EventRequestResolved {
		if err := outbox.Emit(ctx, tx, model.PlayerChannel(r.PlayerAppID), event, payload); err != nil {
			return err
		}
	}
	return outbox.Emit(ctx, tx, model.StaffChannel, event, payload)
}
