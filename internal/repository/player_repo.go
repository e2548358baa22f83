package repository

import (
	"context"
	"errors"
	"time"

	"pokerclub/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PlayerRepository struct {
	db *gorm.DB
}

func NewPlayerRepository(db *gorm.DB) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// Create 新建玩家，邮箱或外部身份冲突时返回 ErrIdentityConflict
func (r *PlayerRepository) Create(ctx context.Context, tx *gorm.DB, player *model.Player) error {
	err := conn(r.db, tx).WithContext(ctx).Create(player).Error
	if isDuplicateKey(err) {
		return model.ErrIdentityConflict
	}
	return err
}

func (r *PlayerRepository) first(ctx context.Context, db *gorm.DB, query string, args ...interface{}) (*model.Player, error) {
	var player model.Player
	err := db.WithContext(ctx).Where(query, args...).First(&player).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}
	return &player, nil
}

func (r *PlayerRepository) GetByAppID(ctx context.Context, tx *gorm.DB, appID uint64) (*model.Player, error) {
	return r.first(ctx, conn(r.db, tx), "app_id = ?", appID)
}

func (r *PlayerRepository) GetByExternalAuthID(ctx context.Context, tx *gorm.DB, externalAuthID string) (*model.Player, error) {
	return r.first(ctx, conn(r.db, tx), "external_auth_id = ?", externalAuthID)
}

func (r *PlayerRepository) GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*model.Player, error) {
	return r.first(ctx, conn(r.db, tx), "email = ?", email)
}

// GetByAppIDForUpdate 行锁读取，必须在事务内调用
func (r *PlayerRepository) GetByAppIDForUpdate(ctx context.Context, tx *gorm.DB, appID uint64) (*model.Player, error) {
	return r.first(ctx, tx.Clauses(clause.Locking{Strength: "UPDATE"}), "app_id = ?", appID)
}

// UpdateBalances 按版本号写回全部金额字段
// 版本不匹配说明有并发写入，返回 ErrOptimisticLock，成功后 player.Version 自增
func (r *PlayerRepository) UpdateBalances(ctx context.Context, tx *gorm.DB, player *model.Player) error {
	result := tx.WithContext(ctx).
		Model(&model.Player{}).
		Where("app_id = ? AND version = ?", player.AppID, player.Version).
		Updates(map[string]interface{}{
			"cash_balance":    player.CashBalance,
			"credit_balance":  player.CreditBalance,
			"credit_limit":    player.CreditLimit,
			"credit_approved": player.CreditApproved,
			"table_cash":      player.TableCash,
			"table_credit":    player.TableCredit,
			"version":         gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrOptimisticLock
	}

	player.Version++
	return nil
}

// LinkExternalAuth 仅在当前未绑定时写入外部身份
func (r *PlayerRepository) LinkExternalAuth(ctx context.Context, tx *gorm.DB, appID uint64, externalAuthID string) error {
	result := tx.WithContext(ctx).
		Model(&model.Player{}).
		Where("app_id = ? AND external_auth_id IS NULL", appID).
		Update("external_auth_id", externalAuthID)

	if isDuplicateKey(result.Error) {
		return model.ErrIdentityConflict
	}
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrIdentityConflict
	}
	return nil
}

// ReplaceExternalAuth 工作人员处理身份冲突时强制替换
func (r *PlayerRepository) ReplaceExternalAuth(ctx context.Context, tx *gorm.DB, appID uint64, externalAuthID string) error {
	result := tx.WithContext(ctx).
		Model(&model.Player{}).
		Where("app_id = ?", appID).
		Update("external_auth_id", externalAuthID)

	if isDuplicateKey(result.Error) {
		return model.ErrIdentityConflict
	}
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrPlayerNotFound
	}
	return nil
}

// UpdateKycStatus 调用方需先确认玩家存在（mysql 对未变化的行返回 0 影响行数）
func (r *PlayerRepository) UpdateKycStatus(ctx context.Context, tx *gorm.DB, appID uint64, status string) error {
	return conn(r.db, tx).WithContext(ctx).
		Model(&model.Player{}).
		Where("app_id = ?", appID).
		Update("kyc_status", status).Error
}

// BackfillUniversalIDs 给缺少 universal_id 的玩家补发
// 只写原本为 NULL 的字段，并发执行或重复执行都不会覆盖已有值
func (r *PlayerRepository) BackfillUniversalIDs(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	var total int64
	for {
		var appIDs []uint64
		err := r.db.WithContext(ctx).
			Model(&model.Player{}).
			Where("universal_id IS NULL").
			Order("app_id ASC").
			Limit(batchSize).
			Pluck("app_id", &appIDs).Error
		if err != nil {
			return total, err
		}
		if len(appIDs) == 0 {
			return total, nil
		}

		for _, appID := range appIDs {
			result := r.db.WithContext(ctx).
				Model(&model.Player{}).
				Where("app_id = ? AND universal_id IS NULL", appID).
				Update("universal_id", uuid.NewString())
			if result.Error != nil {
				return total, result.Error
			}
			total += result.RowsAffected
		}

		if len(appIDs) < batchSize {
			return total, nil
		}
	}
}

func (r *PlayerRepository) CountMissingUniversalID(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Player{}).Where("universal_id IS NULL").Count(&count).Error
	return count, err
}

// ============================================================================
// 外部身份绑定历史
// ============================================================================

func (r *PlayerRepository) CreateAuthLink(ctx context.Context, tx *gorm.DB, link *model.PlayerAuthLink) error {
	return conn(r.db, tx).WithContext(ctx).Create(link).Error
}

// CloseAuthLinks 结束玩家当前所有有效绑定
func (r *PlayerRepository) CloseAuthLinks(ctx context.Context, tx *gorm.DB, appID uint64, at time.Time) error {
	return tx.WithContext(ctx).
		Model(&model.PlayerAuthLink{}).
		Where("player_app_id = ? AND unlinked_at IS NULL", appID).
		Update("unlinked_at", at).Error
}

func (r *PlayerRepository) ListAuthLinks(ctx context.Context, appID uint64) ([]*model.PlayerAuthLink, error) {
	var links []*model.PlayerAuthLink
	err := r.db.WithContext(ctx).
		Where("player_app_id = ?", appID).
		Order("id ASC").
		Find(&links).Error
	return links, err
}

// ListAppIDs 按主键顺序分页列出玩家ID，供批量校验使用
func (r *PlayerRepository) ListAppIDs(ctx context.Context, afterAppID uint64, limit int) ([]uint64, error) {
	var appIDs []uint64
	err := r.db.WithContext(ctx).
		Model(&model.Player{}).
		Where("app_id > ?", afterAppID).
		Order("app_id ASC").
		Limit(limit).
		Pluck("app_id", &appIDs).Error
	return appIDs, err
}
