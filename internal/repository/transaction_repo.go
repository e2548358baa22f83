package repository

import (
	"context"
	"errors"

	"pokerclub/internal/model"

	"gorm.io/gorm"
)

// TransactionRepository 玩家流水，只提供追加和查询
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	return conn(r.db, tx).WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// ListByPlayer 分页查询，最新的在前
func (r *TransactionRepository) ListByPlayer(ctx context.Context, appID uint64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("player_app_id = ?", appID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// ListAllByPlayer 按提交顺序返回玩家全部流水，用于对账
func (r *TransactionRepository) ListAllByPlayer(ctx context.Context, tx *gorm.DB, appID uint64) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	err := conn(r.db, tx).WithContext(ctx).
		Where("player_app_id = ?", appID).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}

func (r *TransactionRepository) CountByReference(ctx context.Context, reference string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("reference = ?", reference).Count(&count).Error
	return count, err
}
