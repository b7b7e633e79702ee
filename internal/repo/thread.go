package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/recruitflow/relay/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ThreadRepoOption 配置 ThreadRepo 的选项
type ThreadRepoOption func(*threadRepoOptions)

type threadRepoOptions struct {
	logger clog.Logger
}

// WithThreadRepoLogger 设置日志记录器
func WithThreadRepoLogger(logger clog.Logger) ThreadRepoOption {
	return func(o *threadRepoOptions) {
		o.logger = logger
	}
}

// threadRepo 实现 ThreadRepo 接口
type threadRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewThreadRepo 创建 ThreadRepo 实例
func NewThreadRepo(database db.DB, opts ...ThreadRepoOption) (ThreadRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}

	options := &threadRepoOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return &threadRepo{
		db:     database,
		logger: namespacedLogger(options.logger, "thread_repo"),
	}, nil
}

// CreateThread 创建讨论组并将创建者写入成员表（同一事务）
func (r *threadRepo) CreateThread(ctx context.Context, thread *model.Thread, creator *model.ThreadMember) error {
	if thread == nil {
		return fmt.Errorf("thread cannot be nil")
	}
	if thread.ThreadID == "" {
		return fmt.Errorf("thread_id cannot be empty")
	}
	if thread.Name == "" {
		return fmt.Errorf("thread name cannot be empty")
	}
	if creator == nil {
		return fmt.Errorf("creator membership cannot be nil")
	}

	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Create(thread).Error; err != nil {
			return fmt.Errorf("failed to create thread: %w", err)
		}
		if err := tx.Create(creator).Error; err != nil {
			return fmt.Errorf("failed to add creator membership: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("创建讨论组失败",
			clog.String("thread_id", thread.ThreadID),
			clog.Error(err))
		return err
	}

	r.logger.Info("创建讨论组成功",
		clog.String("thread_id", thread.ThreadID),
		clog.String("creator_id", thread.CreatorID))
	return nil
}

// GetThread 获取讨论组详情
func (r *threadRepo) GetThread(ctx context.Context, threadID string) (*model.Thread, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread_id cannot be empty")
	}

	var thread model.Thread
	gormDB := r.db.DB(ctx)

	if err := gormDB.Where("thread_id = ?", threadID).First(&thread).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, err
		}
		r.logger.Error("获取讨论组失败",
			clog.String("thread_id", threadID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	return &thread, nil
}

// GetUserThreads 获取用户可见的全部未归档讨论组，按最后活跃时间倒序
func (r *threadRepo) GetUserThreads(ctx context.Context, userID string) ([]*model.Thread, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}

	var threads []*model.Thread
	gormDB := r.db.DB(ctx)

	if err := gormDB.
		Joins("JOIN t_thread_member ON t_thread_member.thread_id = t_thread.thread_id").
		Where("t_thread_member.user_id = ? AND t_thread.archived = ?", userID, false).
		Order("t_thread.last_activity_at DESC").
		Find(&threads).Error; err != nil {
		r.logger.Error("获取用户讨论组列表失败",
			clog.String("user_id", userID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get user threads: %w", err)
	}

	return threads, nil
}

// GetUserThreadIDs 获取用户可见的讨论组 ID 列表
func (r *threadRepo) GetUserThreadIDs(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}

	var ids []string
	gormDB := r.db.DB(ctx)

	if err := gormDB.Model(&model.ThreadMember{}).
		Joins("JOIN t_thread ON t_thread.thread_id = t_thread_member.thread_id").
		Where("t_thread_member.user_id = ? AND t_thread.archived = ?", userID, false).
		Pluck("t_thread_member.thread_id", &ids).Error; err != nil {
		r.logger.Error("获取用户讨论组 ID 列表失败",
			clog.String("user_id", userID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get user thread ids: %w", err)
	}

	return ids, nil
}

// ArchiveThread 归档讨论组
func (r *threadRepo) ArchiveThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return fmt.Errorf("thread_id cannot be empty")
	}

	gormDB := r.db.DB(ctx)
	result := gormDB.Model(&model.Thread{}).
		Where("thread_id = ?", threadID).
		Update("archived", true)
	if result.Error != nil {
		r.logger.Error("归档讨论组失败",
			clog.String("thread_id", threadID),
			clog.Error(result.Error))
		return fmt.Errorf("failed to archive thread: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// TouchLastActivity 更新讨论组最后活跃时间
// 带条件避免乱序更新把时间拨回去
func (r *threadRepo) TouchLastActivity(ctx context.Context, threadID string, at time.Time) error {
	if threadID == "" {
		return fmt.Errorf("thread_id cannot be empty")
	}

	gormDB := r.db.DB(ctx)
	if err := gormDB.Model(&model.Thread{}).
		Where("thread_id = ? AND last_activity_at < ?", threadID, at).
		Update("last_activity_at", at).Error; err != nil {
		r.logger.Error("更新最后活跃时间失败",
			clog.String("thread_id", threadID),
			clog.Error(err))
		return fmt.Errorf("failed to touch last activity: %w", err)
	}

	return nil
}

// GetMember 获取指定成员记录
func (r *threadRepo) GetMember(ctx context.Context, threadID, userID string) (*model.ThreadMember, error) {
	if threadID == "" || userID == "" {
		return nil, fmt.Errorf("thread_id and user_id cannot be empty")
	}

	var member model.ThreadMember
	gormDB := r.db.DB(ctx)

	if err := gormDB.Where("thread_id = ? AND user_id = ?", threadID, userID).
		First(&member).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, err
		}
		r.logger.Error("获取讨论组成员失败",
			clog.String("thread_id", threadID),
			clog.String("user_id", userID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get thread member: %w", err)
	}

	return &member, nil
}

// AddMember 添加成员（幂等）
func (r *threadRepo) AddMember(ctx context.Context, member *model.ThreadMember) error {
	if member == nil {
		return fmt.Errorf("member cannot be nil")
	}
	if member.ThreadID == "" || member.UserID == "" {
		return fmt.Errorf("thread_id and user_id cannot be empty")
	}

	gormDB := r.db.DB(ctx)
	if err := gormDB.Clauses(clause.OnConflict{DoNothing: true}).
		Create(member).Error; err != nil {
		r.logger.Error("添加讨论组成员失败",
			clog.String("thread_id", member.ThreadID),
			clog.String("user_id", member.UserID),
			clog.Error(err))
		return fmt.Errorf("failed to add thread member: %w", err)
	}

	return nil
}

// RemoveMember 移除成员
func (r *threadRepo) RemoveMember(ctx context.Context, threadID, userID string) error {
	if threadID == "" || userID == "" {
		return fmt.Errorf("thread_id and user_id cannot be empty")
	}

	gormDB := r.db.DB(ctx)
	if err := gormDB.Where("thread_id = ? AND user_id = ?", threadID, userID).
		Delete(&model.ThreadMember{}).Error; err != nil {
		r.logger.Error("移除讨论组成员失败",
			clog.String("thread_id", threadID),
			clog.String("user_id", userID),
			clog.Error(err))
		return fmt.Errorf("failed to remove thread member: %w", err)
	}

	return nil
}

// GetMembers 获取讨论组全部成员
func (r *threadRepo) GetMembers(ctx context.Context, threadID string) ([]*model.ThreadMember, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread_id cannot be empty")
	}

	var members []*model.ThreadMember
	gormDB := r.db.DB(ctx)

	if err := gormDB.Where("thread_id = ?", threadID).
		Find(&members).Error; err != nil {
		r.logger.Error("获取讨论组成员列表失败",
			clog.String("thread_id", threadID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get thread members: %w", err)
	}

	return members, nil
}

// UpdateLastRead 更新用户在讨论组中的已读位置
func (r *threadRepo) UpdateLastRead(ctx context.Context, threadID, userID string, at time.Time) error {
	if threadID == "" || userID == "" {
		return fmt.Errorf("thread_id and user_id cannot be empty")
	}

	gormDB := r.db.DB(ctx)
	if err := gormDB.Model(&model.ThreadMember{}).
		Where("thread_id = ? AND user_id = ?", threadID, userID).
		Update("last_read_at", at).Error; err != nil {
		r.logger.Error("更新已读位置失败",
			clog.String("thread_id", threadID),
			clog.String("user_id", userID),
			clog.Error(err))
		return fmt.Errorf("failed to update last read: %w", err)
	}

	return nil
}

// Close 释放资源
func (r *threadRepo) Close() error {
	return nil
}
