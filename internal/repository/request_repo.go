package repository

import (
	"context"
	"errors"
	"time"

	"pokerclub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RequestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create 写入待处理申请，pending_key 冲突说明已有同类待处理申请
func (r *RequestRepository) Create(ctx context.Context, tx *gorm.DB, req *model.TableRequest) error {
	if req.Status == model.RequestStatusPending {
		key := model.PendingRequestKey(req.PlayerAppID, req.Kind)
		req.PendingKey = &key
	}
	err := conn(r.db, tx).WithContext(ctx).Create(req).Error
	if isDuplicateKey(err) {
		return model.ErrDuplicatePendingRequest
	}
	return err
}

func (r *RequestRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.TableRequest, error) {
	var req model.TableRequest
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *RequestRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.TableRequest, error) {
	return r.GetByID(ctx, tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

// HasPending 事务内的显式存在性检查，唯一索引兜底
func (r *RequestRepository) HasPending(ctx context.Context, tx *gorm.DB, appID uint64, kind string) (bool, error) {
	var count int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.TableRequest{}).
		Where("player_app_id = ? AND kind = ? AND status = ?", appID, kind, model.RequestStatusPending).
		Count(&count).Error
	return count > 0, err
}

// Resolution 申请的处理结果
type Resolution struct {
	Status     string
	ResolvedBy string
	Reason     string
	Override   bool
	At         time.Time
}

// Resolve pending → approved/rejected
// 条件更新保证只有一个处理者成功，其余返回 ErrAlreadyResolved
func (r *RequestRepository) Resolve(ctx context.Context, tx *gorm.DB, id int64, res Resolution) error {
	if !model.CanRequestTransitionTo(model.RequestStatusPending, res.Status) {
		return model.ErrInvalidTransition
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.TableRequest{}).
		Where("id = ? AND status = ?", id, model.RequestStatusPending).
		Updates(map[string]interface{}{
			"status":         res.Status,
			"pending_key":    nil,
			"resolved_by":    res.ResolvedBy,
			"resolved_at":    res.At,
			"reject_reason":  res.Reason,
			"staff_override": res.Override,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrAlreadyResolved
	}
	return nil
}

// ListPending 待处理申请，先提交的在前；kind 为空时返回全部类型
func (r *RequestRepository) ListPending(ctx context.Context, kind string, limit int) ([]*model.TableRequest, error) {
	var reqs []*model.TableRequest
	query := r.db.WithContext(ctx).Where("status = ?", model.RequestStatusPending)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	err := query.Order("requested_at ASC, id ASC").Limit(limit).Find(&reqs).Error
	return reqs, err
}

func (r *RequestRepository) ListByPlayer(ctx context.Context, appID uint64, limit int) ([]*model.TableRequest, error) {
	var reqs []*model.TableRequest
	err := r.db.WithContext(ctx).
		Where("player_app_id = ?", appID).
		Order("id DESC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}
