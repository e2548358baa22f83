package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pokerclub/internal/dependencies/clock"
	"pokerclub/internal/model"
	"pokerclub/internal/repository"
	"pokerclub/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IdentityService 外部身份、内部 app id、universal id 三者之间的映射
//
// 邮箱查重直接落在数据库唯一索引和事务内的存在性检查上，不在进程内缓存，
// 多实例部署时仍然正确
type IdentityService struct {
	db         *gorm.DB
	clock      clock.Clock
	playerRepo *repository.PlayerRepository
	batchSize  int
	logger     *zap.Logger
}

func NewIdentityService(db *gorm.DB, clk clock.Clock) *IdentityService {
	return &IdentityService{
		db:         db,
		clock:      clk,
		playerRepo: repository.NewPlayerRepository(db),
		batchSize:  500,
		logger:     logger.Named("identity"),
	}
}

func (s *IdentityService) ResolveByExternalAuthID(ctx context.Context, externalAuthID string) (*model.Player, error) {
	if externalAuthID == "" {
		return nil, model.ErrPlayerNotFound
	}
	return s.playerRepo.GetByExternalAuthID(ctx, nil, externalAuthID)
}

func (s *IdentityService) ResolveByAppID(ctx context.Context, appID uint64) (*model.Player, error) {
	return s.playerRepo.GetByAppID(ctx, nil, appID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateOrLinkPlayer 外部身份提供方登录后调用
//   - 外部身份已存在：原样返回
//   - 邮箱已存在且未绑定外部身份：绑定到该玩家
//   - 邮箱已存在但绑定了其他外部身份：ErrIdentityConflict，交给工作人员处理
//   - 否则新建玩家并分配 universal id
func (s *IdentityService) CreateOrLinkPlayer(ctx context.Context, externalAuthID string, profile model.ProfileFields) (*model.Player, error) {
	externalAuthID = strings.TrimSpace(externalAuthID)
	profile.Email = normalizeEmail(profile.Email)
	if externalAuthID == "" || profile.Email == "" {
		return nil, model.ErrInvalidProfile
	}

	player, err := s.createOrLink(ctx, externalAuthID, profile)
	if errors.Is(err, model.ErrIdentityConflict) {
		// 并发登录时另一个请求可能刚刚用同一外部身份建号，重新解析一次
		if existing, lookupErr := s.playerRepo.GetByExternalAuthID(ctx, nil, externalAuthID); lookupErr == nil {
			return existing, nil
		}
		s.logger.Warn("身份冲突",
			zap.String("external_auth_id", externalAuthID),
			zap.String("email", profile.Email))
	}
	return player, err
}

func (s *IdentityService) createOrLink(ctx context.Context, externalAuthID string, profile model.ProfileFields) (*model.Player, error) {
	var result *model.Player

	err := s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.playerRepo.GetByExternalAuthID(ctx, tx, externalAuthID)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, model.ErrPlayerNotFound) {
			return err
		}

		byEmail, err := s.playerRepo.GetByEmail(ctx, tx, profile.Email)
		switch {
		case err == nil:
			if byEmail.ExternalAuthID != nil {
				return model.ErrIdentityConflict
			}
			if err := s.playerRepo.LinkExternalAuth(ctx, tx, byEmail.AppID, externalAuthID); err != nil {
				return err
			}
			if err := s.recordLink(ctx, tx, byEmail.AppID, externalAuthID, nil); err != nil {
				return err
			}
			byEmail.ExternalAuthID = &externalAuthID
			result = byEmail
			s.logger.Info("外部身份已绑定",
				zap.Uint64("app_id", byEmail.AppID),
				zap.String("external_auth_id", externalAuthID))
			return nil

		case errors.Is(err, model.ErrPlayerNotFound):
			universalID := uuid.NewString()
			player := &model.Player{
				ExternalAuthID: &externalAuthID,
				UniversalID:    &universalID,
				Email:          profile.Email,
				Name:           profile.Name,
				Phone:          profile.Phone,
				KycStatus:      model.KycStatusPending,
			}
			if err := s.playerRepo.Create(ctx, tx, player); err != nil {
				return err
			}
			if err := s.recordLink(ctx, tx, player.AppID, externalAuthID, nil); err != nil {
				return err
			}
			result = player
			s.logger.Info("新建玩家",
				zap.Uint64("app_id", player.AppID),
				zap.String("universal_id", universalID))
			return nil

		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *IdentityService) recordLink(ctx context.Context, tx *gorm.DB, appID uint64, externalAuthID string, linkedBy *string) error {
	link := &model.PlayerAuthLink{
		PlayerAppID:    appID,
		ExternalAuthID: externalAuthID,
		LinkedBy:       linkedBy,
		LinkedAt:       s.clock.Now(),
	}
	if err := s.playerRepo.CreateAuthLink(ctx, tx, link); err != nil {
		return fmt.Errorf("记录身份绑定失败: %w", err)
	}
	return nil
}

// RelinkExternalAuth 工作人员确认后把玩家改绑到新的外部身份，旧绑定保留在历史中
func (s *IdentityService) RelinkExternalAuth(ctx context.Context, appID uint64, externalAuthID, staffID string) (*model.Player, error) {
	externalAuthID = strings.TrimSpace(externalAuthID)
	if externalAuthID == "" {
		return nil, model.ErrInvalidProfile
	}

	var result *model.Player
	err := s.db.Transaction(func(tx *gorm.DB) error {
		player, err := s.playerRepo.GetByAppIDForUpdate(ctx, tx, appID)
		if err != nil {
			return err
		}

		holder, err := s.playerRepo.GetByExternalAuthID(ctx, tx, externalAuthID)
		if err == nil {
			if holder.AppID == appID {
				result = player
				return nil
			}
			return model.ErrIdentityConflict
		}
		if !errors.Is(err, model.ErrPlayerNotFound) {
			return err
		}

		if err := s.playerRepo.CloseAuthLinks(ctx, tx, appID, s.clock.Now()); err != nil {
			return err
		}
		if err := s.playerRepo.ReplaceExternalAuth(ctx, tx, appID, externalAuthID); err != nil {
			return err
		}
		if err := s.recordLink(ctx, tx, appID, externalAuthID, &staffID); err != nil {
			return err
		}
		player.ExternalAuthID = &externalAuthID
		result = player
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("外部身份已改绑",
		zap.Uint64("app_id", appID),
		zap.String("external_auth_id", externalAuthID),
		zap.String("staff_id", staffID))
	return result, nil
}

func (s *IdentityService) ListAuthLinks(ctx context.Context, appID uint64) ([]*model.PlayerAuthLink, error) {
	return s.playerRepo.ListAuthLinks(ctx, appID)
}

// UpdateKycStatus 实名认证子系统回写结果
func (s *IdentityService) UpdateKycStatus(ctx context.Context, appID uint64, status string) (*model.Player, error) {
	if !model.IsValidKycStatus(status) {
		return nil, model.ErrInvalidKycStatus
	}

	player, err := s.playerRepo.GetByAppID(ctx, nil, appID)
	if err != nil {
		return nil, err
	}
	if err := s.playerRepo.UpdateKycStatus(ctx, nil, appID, status); err != nil {
		return nil, fmt.Errorf("更新认证状态失败: %w", err)
	}
	player.KycStatus = status

	s.logger.Info("认证状态已更新", zap.Uint64("app_id", appID), zap.String("status", status))
	return player, nil
}

// BackfillUniversalIDs 补发缺失的 universal id，返回本次写入数量
// 第二次执行返回 0
func (s *IdentityService) BackfillUniversalIDs(ctx context.Context) (int64, error) {
	count, err := s.playerRepo.BackfillUniversalIDs(ctx, s.batchSize)
	if err != nil {
		return count, fmt.Errorf("补发 universal id 失败: %w", err)
	}
	if count > 0 {
		s.logger.Info("universal id 补发完成", zap.Int64("count", count))
	}
	return count, nil
}
