package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/recruitflow/relay/internal/model"
	"gorm.io/gorm"
)

// MessageRepoOption 配置 MessageRepo 的选项
type MessageRepoOption func(*messageRepoOptions)

type messageRepoOptions struct {
	logger clog.Logger
}

// WithMessageRepoLogger 设置日志记录器
func WithMessageRepoLogger(logger clog.Logger) MessageRepoOption {
	return func(o *messageRepoOptions) {
		o.logger = logger
	}
}

// messageRepo 实现 MessageRepo 接口
type messageRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewMessageRepo 创建 MessageRepo 实例
func NewMessageRepo(database db.DB, opts ...MessageRepoOption) (MessageRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}

	options := &messageRepoOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return &messageRepo{
		db:     database,
		logger: namespacedLogger(options.logger, "message_repo"),
	}, nil
}

// SaveMessage 保存消息
func (r *messageRepo) SaveMessage(ctx context.Context, msg *model.Message) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if msg.ThreadID == "" {
		return fmt.Errorf("thread_id cannot be empty")
	}
	if msg.SenderID == "" {
		return fmt.Errorf("sender_id cannot be empty")
	}
	if msg.MsgID == 0 {
		return fmt.Errorf("msg_id cannot be zero")
	}

	gormDB := r.db.DB(ctx)
	if err := gormDB.Create(msg).Error; err != nil {
		r.logger.Error("保存消息失败",
			clog.String("thread_id", msg.ThreadID),
			clog.Int64("msg_id", msg.MsgID),
			clog.Error(err))
		return fmt.Errorf("failed to save message: %w", err)
	}

	r.logger.Debug("保存消息成功",
		clog.String("thread_id", msg.ThreadID),
		clog.Int64("msg_id", msg.MsgID))
	return nil
}

// GetMessage 根据 ID 获取消息
func (r *messageRepo) GetMessage(ctx context.Context, msgID int64) (*model.Message, error) {
	if msgID == 0 {
		return nil, fmt.Errorf("msg_id cannot be zero")
	}

	var message model.Message
	gormDB := r.db.DB(ctx)

	if err := gormDB.Preload("Reactions").
		Where("msg_id = ?", msgID).
		First(&message).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, err
		}
		r.logger.Error("获取消息失败",
			clog.Int64("msg_id", msgID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &message, nil
}

// GetHistoryMessages 拉取历史消息
// 先按时间倒序取 before 之前最近的 limit 条，再反转为升序返回
func (r *messageRepo) GetHistoryMessages(ctx context.Context, threadID string, before time.Time, limit int) ([]*model.Message, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread_id cannot be empty")
	}
	if limit <= 0 {
		limit = 50 // 默认拉取50条
	}
	if limit > 200 {
		limit = 200 // 最大拉取200条
	}

	var messages []*model.Message
	gormDB := r.db.DB(ctx)

	query := gormDB.Preload("Reactions").
		Where("thread_id = ?", threadID)

	// 游标：严格早于 before 的消息
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	// 时间相同以 msg_id 兜底保证稳定顺序
	if err := query.Order("created_at DESC").
		Order("msg_id DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		r.logger.Error("拉取历史消息失败",
			clog.String("thread_id", threadID),
			clog.Int("limit", limit),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get history messages: %w", err)
	}

	// 反转为时间升序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// CountSince 统计某时间点之后的消息数
func (r *messageRepo) CountSince(ctx context.Context, threadID string, after time.Time) (int64, error) {
	if threadID == "" {
		return 0, fmt.Errorf("thread_id cannot be empty")
	}

	var count int64
	gormDB := r.db.DB(ctx)

	if err := gormDB.Model(&model.Message{}).
		Where("thread_id = ? AND created_at > ?", threadID, after).
		Count(&count).Error; err != nil {
		r.logger.Error("统计未读消息失败",
			clog.String("thread_id", threadID),
			clog.Error(err))
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}

	return count, nil
}

// MarkEdited 修改消息内容并置 edited 标记
func (r *messageRepo) MarkEdited(ctx context.Context, msgID int64, content string) error {
	if msgID == 0 {
		return fmt.Errorf("msg_id cannot be zero")
	}

	gormDB := r.db.DB(ctx)
	result := gormDB.Model(&model.Message{}).
		Where("msg_id = ?", msgID).
		Updates(map[string]any{
			"content": content,
			"edited":  true,
		})
	if result.Error != nil {
		r.logger.Error("编辑消息失败",
			clog.Int64("msg_id", msgID),
			clog.Error(result.Error))
		return fmt.Errorf("failed to edit message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// Close 释放资源
func (r *messageRepo) Close() error {
	// db 实例由外部管理，这里不需要关闭
	return nil
}
