package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/cache"
	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/recruitflow/relay/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	presenceCacheKeyPrefix = "presence:"
	presenceCacheTTL       = 5 * time.Minute
)

// PresenceRepoOption 配置 PresenceRepo 的选项
type PresenceRepoOption func(*presenceRepoOptions)

type presenceRepoOptions struct {
	logger clog.Logger
	cache  cache.Cache
}

// WithPresenceRepoLogger 设置日志记录器
func WithPresenceRepoLogger(logger clog.Logger) PresenceRepoOption {
	return func(o *presenceRepoOptions) {
		o.logger = logger
	}
}

// WithPresenceRepoCache 启用 Redis 热缓存，读路径优先走缓存
func WithPresenceRepoCache(c cache.Cache) PresenceRepoOption {
	return func(o *presenceRepoOptions) {
		o.cache = c
	}
}

// presenceRepo 实现 PresenceRepo 接口
// 数据库为权威存储，缓存仅做读加速，写入时同步刷新
type presenceRepo struct {
	db     db.DB
	cache  cache.Cache
	logger clog.Logger
}

// NewPresenceRepo 创建 PresenceRepo 实例
func NewPresenceRepo(database db.DB, opts ...PresenceRepoOption) (PresenceRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}

	options := &presenceRepoOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return &presenceRepo{
		db:     database,
		cache:  options.cache,
		logger: namespacedLogger(options.logger, "presence_repo"),
	}, nil
}

// Upsert 写入/更新用户状态行，每用户始终只有一行
func (r *presenceRepo) Upsert(ctx context.Context, presence *model.Presence) error {
	if presence == nil {
		return fmt.Errorf("presence cannot be nil")
	}
	if presence.UserID == "" {
		return fmt.Errorf("user_id cannot be empty")
	}

	gormDB := r.db.DB(ctx)
	if err := gormDB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "activity", "last_seen"}),
	}).Create(presence).Error; err != nil {
		r.logger.Error("更新在线状态失败",
			clog.String("user_id", presence.UserID),
			clog.Error(err))
		return fmt.Errorf("failed to upsert presence: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, presenceCacheKeyPrefix+presence.UserID, presence, presenceCacheTTL); err != nil {
			// 缓存刷新失败不影响主流程，下次读穿透数据库即可
			r.logger.Warn("刷新状态缓存失败",
				clog.String("user_id", presence.UserID),
				clog.Error(err))
		}
	}

	return nil
}

// Get 获取用户状态行，不存在时返回 nil
func (r *presenceRepo) Get(ctx context.Context, userID string) (*model.Presence, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}

	if r.cache != nil {
		var cached model.Presence
		if err := r.cache.Get(ctx, presenceCacheKeyPrefix+userID, &cached); err == nil {
			return &cached, nil
		}
	}

	var presence model.Presence
	gormDB := r.db.DB(ctx)

	if err := gormDB.Where("user_id = ?", userID).First(&presence).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		r.logger.Error("获取在线状态失败",
			clog.String("user_id", userID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	if r.cache != nil {
		_ = r.cache.Set(ctx, presenceCacheKeyPrefix+userID, &presence, presenceCacheTTL)
	}

	return &presence, nil
}

// BatchGet 批量获取用户状态行，缺失的用户不在返回结果中
func (r *presenceRepo) BatchGet(ctx context.Context, userIDs []string) ([]*model.Presence, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	var presences []*model.Presence
	gormDB := r.db.DB(ctx)

	if err := gormDB.Where("user_id IN ?", userIDs).Find(&presences).Error; err != nil {
		r.logger.Error("批量获取在线状态失败",
			clog.Int("count", len(userIDs)),
			clog.Error(err))
		return nil, fmt.Errorf("failed to batch get presence: %w", err)
	}

	return presences, nil
}

// Close 释放资源
func (r *presenceRepo) Close() error {
	return nil
}
