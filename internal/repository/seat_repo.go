package repository

import (
	"context"
	"errors"
	"time"

	"pokerclub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeatRepository 座位会话
// 并发约束全部落在 open_key / occupied_key 两个唯一索引上
type SeatRepository struct {
	db *gorm.DB
}

func NewSeatRepository(db *gorm.DB) *SeatRepository {
	return &SeatRepository{db: db}
}

// Create 新建等候会话，同一玩家在同一桌已有未结束会话时返回 ErrSessionAlreadyOpen
func (r *SeatRepository) Create(ctx context.Context, tx *gorm.DB, session *model.SeatSession) error {
	key := model.OpenSessionKey(session.PlayerAppID, session.TableID)
	session.OpenKey = &key
	err := conn(r.db, tx).WithContext(ctx).Create(session).Error
	if isDuplicateKey(err) {
		return model.ErrSessionAlreadyOpen
	}
	return err
}

func (r *SeatRepository) first(ctx context.Context, db *gorm.DB, query string, args ...interface{}) (*model.SeatSession, error) {
	var session model.SeatSession
	err := db.WithContext(ctx).Where(query, args...).Order("id DESC").First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *SeatRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.SeatSession, error) {
	return r.first(ctx, conn(r.db, tx), "id = ?", id)
}

func (r *SeatRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.SeatSession, error) {
	return r.first(ctx, tx.Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
}

// GetOpen 玩家在某桌的未结束会话（waiting 或 seated）
func (r *SeatRepository) GetOpen(ctx context.Context, tx *gorm.DB, appID, tableID uint64) (*model.SeatSession, error) {
	return r.first(ctx, conn(r.db, tx), "open_key = ?", model.OpenSessionKey(appID, tableID))
}

// GetOccupant 当前坐在指定座位上的会话
func (r *SeatRepository) GetOccupant(ctx context.Context, tx *gorm.DB, tableID uint64, seatNumber int) (*model.SeatSession, error) {
	return r.first(ctx, conn(r.db, tx), "occupied_key = ?", model.OccupiedSeatKey(tableID, seatNumber))
}

func (r *SeatRepository) ListSeatedByPlayer(ctx context.Context, tx *gorm.DB, appID uint64) ([]*model.SeatSession, error) {
	var sessions []*model.SeatSession
	err := conn(r.db, tx).WithContext(ctx).
		Where("player_app_id = ? AND status = ?", appID, model.SeatStatusSeated).
		Order("id ASC").
		Find(&sessions).Error
	return sessions, err
}

// ListOpenByTable 某桌全部未结束会话：已入座按座位号，等候按加入顺序
func (r *SeatRepository) ListOpenByTable(ctx context.Context, tableID uint64) ([]*model.SeatSession, error) {
	var sessions []*model.SeatSession
	err := r.db.WithContext(ctx).
		Where("table_id = ? AND status <> ?", tableID, model.SeatStatusVacated).
		Order("seat_number ASC, id ASC").
		Find(&sessions).Error
	return sessions, err
}

// UpdateFields 按版本号和起始状态条件更新
// 占座唯一索引冲突返回 ErrSeatAlreadyOccupied，条件不满足返回 ErrOptimisticLock
func (r *SeatRepository) UpdateFields(ctx context.Context, tx *gorm.DB, session *model.SeatSession, fromStatus string, fields map[string]interface{}) error {
	fields["version"] = gorm.Expr("version + 1")

	result := tx.WithContext(ctx).
		Model(&model.SeatSession{}).
		Where("id = ? AND version = ? AND status = ?", session.ID, session.Version, fromStatus).
		Updates(fields)

	if isDuplicateKey(result.Error) {
		return model.ErrSeatAlreadyOccupied
	}
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrOptimisticLock
	}
	return nil
}

// ListCallTimeExpired 倒计时已结束仍未归位的会话
func (r *SeatRepository) ListCallTimeExpired(ctx context.Context, now time.Time, limit int) ([]*model.SeatSession, error) {
	var sessions []*model.SeatSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND call_time_ends IS NOT NULL AND call_time_ends <= ?", model.SeatStatusSeated, now).
		Order("call_time_ends ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// ListCashoutWindowExpired 兑现窗口已到期但仍标记为开启的会话
func (r *SeatRepository) ListCashoutWindowExpired(ctx context.Context, now time.Time, limit int) ([]*model.SeatSession, error) {
	var sessions []*model.SeatSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND cashout_window_active = ? AND cashout_window_ends IS NOT NULL AND cashout_window_ends <= ?",
			model.SeatStatusSeated, true, now).
		Order("cashout_window_ends ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}
