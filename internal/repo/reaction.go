package repo

import (
	"context"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/recruitflow/relay/internal/model"
	"gorm.io/gorm/clause"
)

// ReactionRepoOption 配置 ReactionRepo 的选项
type ReactionRepoOption func(*reactionRepoOptions)

type reactionRepoOptions struct {
	logger clog.Logger
}

// WithReactionRepoLogger 设置日志记录器
func WithReactionRepoLogger(logger clog.Logger) ReactionRepoOption {
	return func(o *reactionRepoOptions) {
		o.logger = logger
	}
}

// reactionRepo 实现 ReactionRepo 接口
type reactionRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewReactionRepo 创建 ReactionRepo 实例
func NewReactionRepo(database db.DB, opts ...ReactionRepoOption) (ReactionRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}

	options := &reactionRepoOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return &reactionRepo{
		db:     database,
		logger: namespacedLogger(options.logger, "reaction_repo"),
	}, nil
}

// Toggle 切换回应
// 先尝试删除：删到了说明之前存在，本次为取消；没删到则插入
// 并发下两个插入撞唯一约束时，输家按"已存在"处理，再删一次，最终状态确定
func (r *reactionRepo) Toggle(ctx context.Context, msgID int64, userID, emoji string) (bool, error) {
	if msgID == 0 {
		return false, fmt.Errorf("msg_id cannot be zero")
	}
	if userID == "" {
		return false, fmt.Errorf("user_id cannot be empty")
	}
	if emoji == "" {
		return false, fmt.Errorf("emoji cannot be empty")
	}

	gormDB := r.db.DB(ctx)

	result := gormDB.Where("msg_id = ? AND user_id = ? AND emoji = ?", msgID, userID, emoji).
		Delete(&model.Reaction{})
	if result.Error != nil {
		r.logger.Error("删除回应失败",
			clog.Int64("msg_id", msgID),
			clog.String("user_id", userID),
			clog.Error(result.Error))
		return false, fmt.Errorf("failed to delete reaction: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		r.logger.Debug("回应已取消",
			clog.Int64("msg_id", msgID),
			clog.String("user_id", userID),
			clog.String("emoji", emoji))
		return false, nil
	}

	// 插入走 ON CONFLICT DO NOTHING：并发插入撞唯一约束时 RowsAffected 为 0，
	// 不依赖驱动的错误翻译
	reaction := &model.Reaction{
		MsgID:  msgID,
		UserID: userID,
		Emoji:  emoji,
	}
	insert := gormDB.Clauses(clause.OnConflict{DoNothing: true}).Create(reaction)
	if insert.Error != nil {
		r.logger.Error("插入回应失败",
			clog.Int64("msg_id", msgID),
			clog.String("user_id", userID),
			clog.Error(insert.Error))
		return false, fmt.Errorf("failed to insert reaction: %w", insert.Error)
	}
	if insert.RowsAffected == 0 {
		// 对方已写入同一行，本次按取消处理
		del := gormDB.Where("msg_id = ? AND user_id = ? AND emoji = ?", msgID, userID, emoji).
			Delete(&model.Reaction{})
		if del.Error != nil {
			return false, fmt.Errorf("failed to resolve reaction conflict: %w", del.Error)
		}
		return false, nil
	}

	r.logger.Debug("回应已添加",
		clog.Int64("msg_id", msgID),
		clog.String("user_id", userID),
		clog.String("emoji", emoji))
	return true, nil
}

// ListByMessage 获取消息的全部回应
func (r *reactionRepo) ListByMessage(ctx context.Context, msgID int64) ([]*model.Reaction, error) {
	if msgID == 0 {
		return nil, fmt.Errorf("msg_id cannot be zero")
	}

	var reactions []*model.Reaction
	gormDB := r.db.DB(ctx)

	if err := gormDB.Where("msg_id = ?", msgID).
		Order("created_at ASC").
		Find(&reactions).Error; err != nil {
		r.logger.Error("获取回应列表失败",
			clog.Int64("msg_id", msgID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to list reactions: %w", err)
	}

	return reactions, nil
}

// Close 释放资源
func (r *reactionRepo) Close() error {
	return nil
}
