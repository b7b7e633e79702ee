package repo

import (
	"context"
	"time"

	"github.com/recruitflow/relay/internal/model"
)

// ThreadRepo 定义了讨论组（频道）及其成员关系的数据访问接口
type ThreadRepo interface {
	// CreateThread 创建讨论组并将创建者写入成员表（同一事务）
	CreateThread(ctx context.Context, thread *model.Thread, creator *model.ThreadMember) error
	// GetThread 获取讨论组详情
	GetThread(ctx context.Context, threadID string) (*model.Thread, error)
	// GetUserThreads 获取用户可见的全部未归档讨论组
	GetUserThreads(ctx context.Context, userID string) ([]*model.Thread, error)
	// GetUserThreadIDs 获取用户可见的讨论组 ID 列表（供房间路由使用）
	GetUserThreadIDs(ctx context.Context, userID string) ([]string, error)
	// ArchiveThread 归档讨论组（不硬删除）
	ArchiveThread(ctx context.Context, threadID string) error
	// TouchLastActivity 更新讨论组最后活跃时间
	TouchLastActivity(ctx context.Context, threadID string, at time.Time) error
	// GetMember 获取指定成员记录，不存在时返回 gorm.ErrRecordNotFound
	GetMember(ctx context.Context, threadID, userID string) (*model.ThreadMember, error)
	// AddMember 添加成员（幂等，已存在时不报错）
	AddMember(ctx context.Context, member *model.ThreadMember) error
	// RemoveMember 移除成员
	RemoveMember(ctx context.Context, threadID, userID string) error
	// GetMembers 获取讨论组全部成员
	GetMembers(ctx context.Context, threadID string) ([]*model.ThreadMember, error)
	// UpdateLastRead 更新用户在讨论组中的已读位置
	UpdateLastRead(ctx context.Context, threadID, userID string, at time.Time) error
	// Close 释放资源
	Close() error
}

// MessageRepo 定义了消息数据访问接口
type MessageRepo interface {
	// SaveMessage 保存消息，时间戳由服务端赋值
	SaveMessage(ctx context.Context, msg *model.Message) error
	// GetMessage 根据 ID 获取消息（含 reactions）
	GetMessage(ctx context.Context, msgID int64) (*model.Message, error)
	// GetHistoryMessages 拉取历史消息：返回 before 之前最近的 limit 条，按时间升序排列
	// before 为零值时从最新一条往前取
	GetHistoryMessages(ctx context.Context, threadID string, before time.Time, limit int) ([]*model.Message, error)
	// CountSince 统计讨论组内某时间点之后的消息数（未读计数）
	CountSince(ctx context.Context, threadID string, after time.Time) (int64, error)
	// MarkEdited 修改消息内容并置 edited 标记
	MarkEdited(ctx context.Context, msgID int64, content string) error
	// Close 释放资源
	Close() error
}

// ReactionRepo 定义了表情回应数据访问接口
type ReactionRepo interface {
	// Toggle 切换回应：不存在则插入并返回 added=true，已存在则删除并返回 added=false
	// 并发下由 (msg_id, user_id, emoji) 唯一约束保证不会出现重复行
	Toggle(ctx context.Context, msgID int64, userID, emoji string) (added bool, err error)
	// ListByMessage 获取消息的全部回应
	ListByMessage(ctx context.Context, msgID int64) ([]*model.Reaction, error)
	// Close 释放资源
	Close() error
}

// PresenceRepo 定义了在线状态数据访问接口，每用户一行（upsert 语义）
type PresenceRepo interface {
	// Upsert 写入/更新用户状态行
	Upsert(ctx context.Context, presence *model.Presence) error
	// Get 获取用户状态行，不存在时返回 nil
	Get(ctx context.Context, userID string) (*model.Presence, error)
	// BatchGet 批量获取用户状态行
	BatchGet(ctx context.Context, userIDs []string) ([]*model.Presence, error)
	// Close 释放资源
	Close() error
}

// NotificationRepo 定义了通知数据访问接口
type NotificationRepo interface {
	// Create 创建通知记录
	Create(ctx context.Context, notification *model.Notification) error
	// ListForUser 获取用户的通知列表，最新在前
	ListForUser(ctx context.Context, userID string, limit int) ([]*model.Notification, error)
	// MarkRead 标记通知为已读，仅允许接收者本人操作
	MarkRead(ctx context.Context, id int64, userID string) error
	// Close 释放资源
	Close() error
}

// UserRepo 定义了用户与团队关系的只读数据访问接口
type UserRepo interface {
	// GetUser 根据 ID 获取用户
	GetUser(ctx context.Context, userID string) (*model.User, error)
	// GetUserByDisplayName 根据昵称获取用户（@mention 解析用，找不到不算错误，返回 nil）
	GetUserByDisplayName(ctx context.Context, name string) (*model.User, error)
	// GetUserTeamIDs 获取用户所属团队 ID 列表
	GetUserTeamIDs(ctx context.Context, userID string) ([]string, error)
	// GetTeamMembers 获取团队全部成员
	GetTeamMembers(ctx context.Context, teamID string) ([]*model.User, error)
	// Close 释放资源
	Close() error
}
