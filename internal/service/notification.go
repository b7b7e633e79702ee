package service

import (
	"context"
	"errors"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/xerrors"
	"github.com/recruitflow/relay/internal/model"
	"github.com/recruitflow/relay/internal/repo"
	"gorm.io/gorm"
)

// 通知类型
const (
	NotifyTypeMention      = "mention"
	NotifyTypeTaskAssigned = "task_assigned"
	NotifyTypeSystem       = "system"
)

// Pusher 把事件推给目标用户的所有活跃连接
// 由网关的会话注册表实现，用户不在线时为空操作
type Pusher interface {
	PushToUser(userID string, event string, payload any)
}

// NotificationDispatcher 通知分发器
// 先落库再推送：离线用户的通知下次通过 REST 拉取时可见
type NotificationDispatcher struct {
	notificationRepo repo.NotificationRepo
	pusher           Pusher
	logger           clog.Logger
}

// NewNotificationDispatcher 创建 NotificationDispatcher
func NewNotificationDispatcher(notificationRepo repo.NotificationRepo, logger clog.Logger) *NotificationDispatcher {
	if logger == nil {
		logger = clog.Discard()
	}
	return &NotificationDispatcher{
		notificationRepo: notificationRepo,
		logger:           logger.WithNamespace("notify"),
	}
}

// SetPusher 注入推送实现，网关启动后调用
func (d *NotificationDispatcher) SetPusher(pusher Pusher) {
	d.pusher = pusher
}

// Notify 创建通知并立即推送给目标用户的在线连接
func (d *NotificationDispatcher) Notify(ctx context.Context, targetUserID, notifyType, title, content string, payload map[string]any) (*model.Notification, error) {
	if targetUserID == "" {
		return nil, xerrors.Wrapf(ErrInvalidArgument, "target user_id is required")
	}
	if notifyType == "" {
		return nil, xerrors.Wrapf(ErrInvalidArgument, "notification type is required")
	}

	notification := &model.Notification{
		UserID:  targetUserID,
		Type:    notifyType,
		Title:   title,
		Content: content,
		Payload: payload,
	}
	if err := d.notificationRepo.Create(ctx, notification); err != nil {
		d.logger.Error("failed to persist notification",
			clog.String("user_id", targetUserID),
			clog.String("type", notifyType),
			clog.Error(err))
		return nil, xerrors.Wrapf(ErrInternal, "persist notification: %v", err)
	}

	if d.pusher != nil {
		d.pusher.PushToUser(targetUserID, "notification", notification)
	}

	d.logger.Debug("notification dispatched",
		clog.String("user_id", targetUserID),
		clog.String("type", notifyType))
	return notification, nil
}

// List 获取用户的通知列表，最新在前
func (d *NotificationDispatcher) List(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	if userID == "" {
		return nil, xerrors.Wrapf(ErrInvalidArgument, "user_id is required")
	}
	notifications, err := d.notificationRepo.ListForUser(ctx, userID, limit)
	if err != nil {
		return nil, xerrors.Wrapf(ErrInternal, "list notifications: %v", err)
	}
	return notifications, nil
}

// MarkRead 标记通知已读，只有接收者本人可操作
func (d *NotificationDispatcher) MarkRead(ctx context.Context, id int64, userID string) error {
	if id == 0 || userID == "" {
		return xerrors.Wrapf(ErrInvalidArgument, "notification id and user_id are required")
	}
	if err := d.notificationRepo.MarkRead(ctx, id, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return xerrors.Wrapf(ErrNotFound, "notification %d", id)
		}
		return xerrors.Wrapf(ErrInternal, "mark read: %v", err)
	}
	return nil
}
