package repo

import (
	"context"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/recruitflow/relay/internal/model"
	"gorm.io/gorm"
)

// NotificationRepoOption 配置 NotificationRepo 的选项
type NotificationRepoOption func(*notificationRepoOptions)

type notificationRepoOptions struct {
	logger clog.Logger
}

// WithNotificationRepoLogger 设置日志记录器
func WithNotificationRepoLogger(logger clog.Logger) NotificationRepoOption {
	return func(o *notificationRepoOptions) {
		o.logger = logger
	}
}

// notificationRepo 实现 NotificationRepo 接口
type notificationRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewNotificationRepo 创建 NotificationRepo 实例
func NewNotificationRepo(database db.DB, opts ...NotificationRepoOption) (NotificationRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}

	options := &notificationRepoOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return &notificationRepo{
		db:     database,
		logger: namespacedLogger(options.logger, "notification_repo"),
	}, nil
}

// Create 创建通知记录
func (r *notificationRepo) Create(ctx context.Context, notification *model.Notification) error {
	if notification == nil {
		return fmt.Errorf("notification cannot be nil")
	}
	if notification.UserID == "" {
		return fmt.Errorf("user_id cannot be empty")
	}
	if notification.Type == "" {
		return fmt.Errorf("notification type cannot be empty")
	}

	gormDB := r.db.DB(ctx)
	if err := gormDB.Create(notification).Error; err != nil {
		r.logger.Error("创建通知失败",
			clog.String("user_id", notification.UserID),
			clog.String("type", notification.Type),
			clog.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// ListForUser 获取用户的通知列表，最新在前
func (r *notificationRepo) ListForUser(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	var notifications []*model.Notification
	gormDB := r.db.DB(ctx)

	if err := gormDB.Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&notifications).Error; err != nil {
		r.logger.Error("获取通知列表失败",
			clog.String("user_id", userID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	return notifications, nil
}

// MarkRead 标记通知为已读，仅允许接收者本人操作
func (r *notificationRepo) MarkRead(ctx context.Context, id int64, userID string) error {
	if id == 0 {
		return fmt.Errorf("notification id cannot be zero")
	}
	if userID == "" {
		return fmt.Errorf("user_id cannot be empty")
	}

	gormDB := r.db.DB(ctx)
	result := gormDB.Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if result.Error != nil {
		r.logger.Error("标记通知已读失败",
			clog.Int64("notification_id", id),
			clog.String("user_id", userID),
			clog.Error(result.Error))
		return fmt.Errorf("failed to mark notification read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// Close 释放资源
func (r *notificationRepo) Close() error {
	return nil
}
